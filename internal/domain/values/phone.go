package values

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// PhoneNumber represents a validated phone number value object.
// Destination numbers returned by bidders must parse into one of these
// before a bid is allowed to win.
type PhoneNumber struct {
	number string // Stored in E.164 format (+1234567890)
}

var (
	// E.164 format regex: + followed by up to 15 digits
	e164Regex = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

	// US phone number regex for parsing various formats
	usPhoneRegex = regexp.MustCompile(`^(?:\+?1[-.\s]?)?\(?([0-9]{3})\)?[-.\s]?([0-9]{3})[-.\s]?([0-9]{4})$`)
)

// NewPhoneNumber creates a new PhoneNumber value object with validation
func NewPhoneNumber(number string) (PhoneNumber, error) {
	if number == "" {
		return PhoneNumber{}, fmt.Errorf("phone number cannot be empty")
	}

	cleaned := cleanPhoneNumber(number)

	if e164Regex.MatchString(cleaned) {
		return PhoneNumber{number: cleaned}, nil
	}

	if normalized, ok := parseUSPhoneNumber(number); ok {
		return PhoneNumber{number: normalized}, nil
	}

	return PhoneNumber{}, fmt.Errorf("invalid phone number format: %s", number)
}

// MustNewPhoneNumber creates PhoneNumber and panics on error (for constants/tests)
func MustNewPhoneNumber(number string) PhoneNumber {
	phone, err := NewPhoneNumber(number)
	if err != nil {
		panic(err)
	}
	return phone
}

// String returns the phone number in E.164 format
func (p PhoneNumber) String() string {
	return p.number
}

// E164 returns the phone number in E.164 format (alias for String)
func (p PhoneNumber) E164() string {
	return p.number
}

// IsEmpty checks if the phone number is empty
func (p PhoneNumber) IsEmpty() bool {
	return p.number == ""
}

// Equal checks if two PhoneNumber values are equal
func (p PhoneNumber) Equal(other PhoneNumber) bool {
	return p.number == other.number
}

// IsUS checks if the phone number is from US/Canada (+1)
func (p PhoneNumber) IsUS() bool {
	return strings.HasPrefix(p.number, "+1")
}

// AreaCode returns the area code for US numbers, "" otherwise
func (p PhoneNumber) AreaCode() string {
	if !p.IsUS() {
		return ""
	}

	national := p.number[2:]
	if len(national) != 10 {
		return ""
	}

	return national[:3]
}

// MarshalJSON implements JSON marshaling
func (p PhoneNumber) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.number)
}

// UnmarshalJSON implements JSON unmarshaling
func (p *PhoneNumber) UnmarshalJSON(data []byte) error {
	var number string
	if err := json.Unmarshal(data, &number); err != nil {
		return err
	}

	phone, err := NewPhoneNumber(number)
	if err != nil {
		return err
	}

	*p = phone
	return nil
}

// Value implements driver.Valuer for database storage
func (p PhoneNumber) Value() (driver.Value, error) {
	if p.number == "" {
		return nil, nil
	}
	return p.number, nil
}

// Scan implements sql.Scanner for database retrieval
func (p *PhoneNumber) Scan(value interface{}) error {
	if value == nil {
		*p = PhoneNumber{}
		return nil
	}

	var str string
	switch v := value.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		return fmt.Errorf("cannot scan %T into PhoneNumber", value)
	}

	if str == "" {
		*p = PhoneNumber{}
		return nil
	}

	phone, err := NewPhoneNumber(str)
	if err != nil {
		return err
	}

	*p = phone
	return nil
}

func cleanPhoneNumber(number string) string {
	var b strings.Builder
	for _, char := range number {
		if char >= '0' && char <= '9' || char == '+' {
			b.WriteRune(char)
		}
	}
	return b.String()
}

func parseUSPhoneNumber(number string) (string, bool) {
	matches := usPhoneRegex.FindStringSubmatch(number)
	if len(matches) != 4 {
		return "", false
	}

	// Format as E.164 (+1AAANNNNNNN)
	return "+1" + matches[1] + matches[2] + matches[3], true
}
