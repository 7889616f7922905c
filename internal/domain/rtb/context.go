package rtb

import (
	"time"

	"github.com/google/uuid"

	"github.com/ringflow/call-auction-backend/internal/domain/values"
)

// CallContext carries everything the auction engine knows about one inbound
// call at the moment it must be routed. It arrives from the external
// call-control layer and is never mutated.
type CallContext struct {
	CallID       uuid.UUID          `json:"call_id"`
	CampaignID   uuid.UUID          `json:"campaign_id"`
	CallerID     string             `json:"caller_id"`
	CallerNumber values.PhoneNumber `json:"caller_number"`
	AreaCode     string             `json:"area_code"`
	State        string             `json:"state"`
	ZipCode      string             `json:"zip_code"`
	DeviceType   string             `json:"device_type"`
	StartTime    time.Time          `json:"start_time"`
}

// EffectiveAreaCode prefers the explicit area code, falling back to the
// caller number for US callers
func (c CallContext) EffectiveAreaCode() string {
	if c.AreaCode != "" {
		return c.AreaCode
	}
	return c.CallerNumber.AreaCode()
}
