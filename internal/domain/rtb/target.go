package rtb

import (
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/ringflow/call-auction-backend/internal/domain/values"
)

// Target is an external bidder endpoint with its own bid range, caps, and
// eligibility filters. Usage counters are mutated only by the auction engine.
type Target struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	EndpointURL string    `json:"endpoint_url"`
	Method      string    `json:"method"` // GET, POST, PUT, PATCH

	// Per-target response budget; clamped to the router deadline at dispatch.
	Timeout        time.Duration `json:"timeout"`
	ConnectTimeout time.Duration `json:"connect_timeout"`

	Auth AuthConfig `json:"auth"`

	MinBid   values.Money `json:"min_bid"`
	MaxBid   values.Money `json:"max_bid"`
	Currency string       `json:"currency"`

	MaxConcurrentCalls int `json:"max_concurrent_calls"`
	HourlyCap          int `json:"hourly_cap"`
	DailyCap           int `json:"daily_cap"`
	MonthlyCap         int `json:"monthly_cap"`

	Geo           GeoFilter           `json:"geo"`
	Time          TimeFilter          `json:"time"`
	Device        DeviceFilter        `json:"device"`
	CallerHistory CallerHistoryPolicy `json:"caller_history"`

	BlockedCallerIDs []string `json:"blocked_caller_ids"`

	QualityScoreThreshold float64 `json:"quality_score_threshold"`

	// MaxRequestsPerSecond paces outbound bid requests to this endpoint.
	// Zero disables pacing.
	MaxRequestsPerSecond float64 `json:"max_requests_per_second"`

	IsActive bool `json:"is_active"`

	// Usage counters, owned by the auction engine.
	TotalPings     int64 `json:"total_pings"`
	SuccessfulBids int64 `json:"successful_bids"`
	WonCalls       int64 `json:"won_calls"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuthConfig describes how outbound bid requests authenticate to the target
type AuthConfig struct {
	Method AuthMethod `json:"method"`
	// Token carries the API key, bearer token, or basic credentials
	// ("user:password") depending on Method.
	Token string `json:"token,omitempty"`
	// Header overrides the header name for api_key auth (default X-API-Key).
	Header string `json:"header,omitempty"`
}

type AuthMethod int

const (
	AuthNone AuthMethod = iota
	AuthAPIKey
	AuthBearer
	AuthBasic
)

func (a AuthMethod) String() string {
	switch a {
	case AuthNone:
		return "none"
	case AuthAPIKey:
		return "api_key"
	case AuthBearer:
		return "bearer"
	case AuthBasic:
		return "basic"
	default:
		return "unknown"
	}
}

// ParseAuthMethod converts a wire string to an AuthMethod
func ParseAuthMethod(s string) (AuthMethod, error) {
	switch s {
	case "", "none":
		return AuthNone, nil
	case "api_key":
		return AuthAPIKey, nil
	case "bearer":
		return AuthBearer, nil
	case "basic":
		return AuthBasic, nil
	default:
		return 0, fmt.Errorf("unknown auth method: %s", s)
	}
}

var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true,
}

// NewTarget creates a target with validated configuration
func NewTarget(name, endpointURL string, minBid, maxBid values.Money) (*Target, error) {
	now := time.Now().UTC()
	t := &Target{
		ID:          uuid.New(),
		Name:        name,
		EndpointURL: endpointURL,
		Method:      "POST",
		Timeout:     5 * time.Second,
		MinBid:      minBid,
		MaxBid:      maxBid,
		Currency:    minBid.Currency(),
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate enforces the target configuration invariants
func (t *Target) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("target name cannot be empty")
	}

	u, err := url.Parse(t.EndpointURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid endpoint URL: %s", t.EndpointURL)
	}

	if !allowedMethods[t.Method] {
		return fmt.Errorf("unsupported HTTP method: %s", t.Method)
	}

	if t.Timeout <= 0 {
		return fmt.Errorf("target timeout must be positive")
	}

	if t.MinBid.Currency() != t.MaxBid.Currency() {
		return fmt.Errorf("bid floor and ceiling must share a currency")
	}
	if t.MinBid.Compare(t.MaxBid) > 0 {
		return fmt.Errorf("bid floor %s exceeds ceiling %s", t.MinBid, t.MaxBid)
	}

	if t.MaxConcurrentCalls < 0 || t.HourlyCap < 0 || t.DailyCap < 0 || t.MonthlyCap < 0 {
		return fmt.Errorf("cap values cannot be negative")
	}

	if t.Auth.Method != AuthNone && t.Auth.Token == "" {
		return fmt.Errorf("auth method %s requires a token", t.Auth.Method)
	}

	if err := t.Time.Validate(); err != nil {
		return err
	}

	return nil
}

// Location returns the target's time-filter timezone, defaulting to UTC
func (t *Target) Location() *time.Location {
	if t.Time.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Time.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
