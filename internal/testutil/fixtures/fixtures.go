// Package fixtures provides builders for auction domain entities used
// across test suites. Builders return valid entities by default; every
// setter pins down one deviation from that baseline.
package fixtures

import (
	"time"

	"github.com/google/uuid"

	"github.com/ringflow/call-auction-backend/internal/domain/rtb"
	"github.com/ringflow/call-auction-backend/internal/domain/values"
)

// RouterBuilder builds test Router entities
type RouterBuilder struct {
	router *rtb.Router
}

func NewRouterBuilder() *RouterBuilder {
	now := time.Now().UTC()
	return &RouterBuilder{router: &rtb.Router{
		ID:             uuid.New(),
		Name:           "Test Router",
		BiddingTimeout: 3 * time.Second,
		RevenueType:    rtb.RevenuePerCall,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}}
}

func (b *RouterBuilder) WithID(id uuid.UUID) *RouterBuilder {
	b.router.ID = id
	return b
}

func (b *RouterBuilder) WithName(name string) *RouterBuilder {
	b.router.Name = name
	return b
}

func (b *RouterBuilder) WithBiddingTimeout(d time.Duration) *RouterBuilder {
	b.router.BiddingTimeout = d
	return b
}

func (b *RouterBuilder) WithMinBidders(n int, strict bool) *RouterBuilder {
	b.router.MinBiddersRequired = n
	b.router.StrictMinBidders = strict
	return b
}

func (b *RouterBuilder) Inactive() *RouterBuilder {
	b.router.IsActive = false
	return b
}

func (b *RouterBuilder) Build() *rtb.Router {
	router := *b.router
	return &router
}

// TargetBuilder builds test Target entities
type TargetBuilder struct {
	target *rtb.Target
}

func NewTargetBuilder() *TargetBuilder {
	now := time.Now().UTC()
	return &TargetBuilder{target: &rtb.Target{
		ID:          uuid.New(),
		Name:        "Test Target",
		EndpointURL: "https://bidder.example.test/rtb",
		Method:      "POST",
		Timeout:     2 * time.Second,
		MinBid:      values.MustNewMoneyFromFloat(1.00, values.USD),
		MaxBid:      values.MustNewMoneyFromFloat(100.00, values.USD),
		Currency:    values.USD,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}}
}

func (b *TargetBuilder) WithID(id uuid.UUID) *TargetBuilder {
	b.target.ID = id
	return b
}

func (b *TargetBuilder) WithName(name string) *TargetBuilder {
	b.target.Name = name
	return b
}

func (b *TargetBuilder) WithEndpoint(url string) *TargetBuilder {
	b.target.EndpointURL = url
	return b
}

func (b *TargetBuilder) WithBidRange(floor, ceiling float64, currency string) *TargetBuilder {
	b.target.MinBid = values.MustNewMoneyFromFloat(floor, currency)
	b.target.MaxBid = values.MustNewMoneyFromFloat(ceiling, currency)
	b.target.Currency = currency
	return b
}

func (b *TargetBuilder) WithTimeout(d time.Duration) *TargetBuilder {
	b.target.Timeout = d
	return b
}

func (b *TargetBuilder) WithAuth(auth rtb.AuthConfig) *TargetBuilder {
	b.target.Auth = auth
	return b
}

func (b *TargetBuilder) WithCaps(hourly, daily, monthly int) *TargetBuilder {
	b.target.HourlyCap = hourly
	b.target.DailyCap = daily
	b.target.MonthlyCap = monthly
	return b
}

func (b *TargetBuilder) WithConcurrency(max int) *TargetBuilder {
	b.target.MaxConcurrentCalls = max
	return b
}

func (b *TargetBuilder) WithGeoFilter(geo rtb.GeoFilter) *TargetBuilder {
	b.target.Geo = geo
	return b
}

func (b *TargetBuilder) WithTimeFilter(f rtb.TimeFilter) *TargetBuilder {
	b.target.Time = f
	return b
}

func (b *TargetBuilder) WithDeviceFilter(f rtb.DeviceFilter) *TargetBuilder {
	b.target.Device = f
	return b
}

func (b *TargetBuilder) WithCallerHistory(policy rtb.CallerHistoryPolicy) *TargetBuilder {
	b.target.CallerHistory = policy
	return b
}

func (b *TargetBuilder) WithBlockedCallers(callerIDs ...string) *TargetBuilder {
	b.target.BlockedCallerIDs = callerIDs
	return b
}

func (b *TargetBuilder) Inactive() *TargetBuilder {
	b.target.IsActive = false
	return b
}

func (b *TargetBuilder) Build() *rtb.Target {
	target := *b.target
	return &target
}

// CallBuilder builds test CallContext values
type CallBuilder struct {
	call rtb.CallContext
}

func NewCallBuilder() *CallBuilder {
	return &CallBuilder{call: rtb.CallContext{
		CallID:       uuid.New(),
		CampaignID:   uuid.New(),
		CallerID:     "+14155550100",
		CallerNumber: values.MustNewPhoneNumber("+14155550100"),
		AreaCode:     "415",
		State:        "CA",
		ZipCode:      "94105",
		DeviceType:   "mobile",
		StartTime:    time.Now().UTC(),
	}}
}

func (b *CallBuilder) WithCaller(callerID string) *CallBuilder {
	b.call.CallerID = callerID
	return b
}

func (b *CallBuilder) WithNumber(e164 string) *CallBuilder {
	b.call.CallerNumber = values.MustNewPhoneNumber(e164)
	return b
}

func (b *CallBuilder) WithLocation(state, zip, areaCode string) *CallBuilder {
	b.call.State = state
	b.call.ZipCode = zip
	b.call.AreaCode = areaCode
	return b
}

func (b *CallBuilder) WithDevice(deviceType string) *CallBuilder {
	b.call.DeviceType = deviceType
	return b
}

func (b *CallBuilder) WithStart(t time.Time) *CallBuilder {
	b.call.StartTime = t
	return b
}

func (b *CallBuilder) Build() rtb.CallContext {
	return b.call
}
