package values

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPhoneNumber(t *testing.T) {
	tests := []struct {
		name    string
		number  string
		want    string
		wantErr bool
	}{
		{"e164 passthrough", "+14155550100", "+14155550100", false},
		{"us ten digit", "4155550100", "+14155550100", false},
		{"us formatted", "(415) 555-0100", "+14155550100", false},
		{"us with country code", "1-415-555-0100", "+14155550100", false},
		{"international", "+442071838750", "+442071838750", false},
		{"empty", "", "", true},
		{"letters", "not-a-number", "", true},
		{"too short", "+1", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			phone, err := NewPhoneNumber(tt.number)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, phone.E164())
		})
	}
}

func TestPhoneNumber_AreaCode(t *testing.T) {
	assert.Equal(t, "415", MustNewPhoneNumber("+14155550100").AreaCode())
	assert.Equal(t, "", MustNewPhoneNumber("+442071838750").AreaCode(), "non-US numbers have no area code")
}

func TestPhoneNumber_IsEmpty(t *testing.T) {
	assert.True(t, PhoneNumber{}.IsEmpty())
	assert.False(t, MustNewPhoneNumber("+14155550100").IsEmpty())
}

func TestPhoneNumber_JSONRoundTrip(t *testing.T) {
	original := MustNewPhoneNumber("+14155550100")

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Equal(t, `"+14155550100"`, string(data))

	var decoded PhoneNumber
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, original.Equal(decoded))

	var invalid PhoneNumber
	assert.Error(t, json.Unmarshal([]byte(`"garbage"`), &invalid))
}
