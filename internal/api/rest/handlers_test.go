package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringflow/call-auction-backend/internal/domain/auction"
	domainerrors "github.com/ringflow/call-auction-backend/internal/domain/errors"
	"github.com/ringflow/call-auction-backend/internal/domain/rtb"
	"github.com/ringflow/call-auction-backend/internal/infrastructure/config"
	"github.com/ringflow/call-auction-backend/internal/infrastructure/repository"
	"github.com/ringflow/call-auction-backend/internal/service/bidding"
	"github.com/ringflow/call-auction-backend/internal/service/eligibility"
)

type fakeRouterRepo struct {
	routers     map[uuid.UUID]*rtb.Router
	assignments map[uuid.UUID][]*rtb.Assignment
	deleteErr   error
}

func newFakeRouterRepo() *fakeRouterRepo {
	return &fakeRouterRepo{
		routers:     make(map[uuid.UUID]*rtb.Router),
		assignments: make(map[uuid.UUID][]*rtb.Assignment),
	}
}

func (f *fakeRouterRepo) Create(_ context.Context, router *rtb.Router) error {
	f.routers[router.ID] = router
	return nil
}

func (f *fakeRouterRepo) GetRouter(_ context.Context, id uuid.UUID) (*rtb.Router, error) {
	router, ok := f.routers[id]
	if !ok {
		return nil, domainerrors.ErrRouterNotFound
	}
	return router, nil
}

func (f *fakeRouterRepo) Update(_ context.Context, router *rtb.Router) error {
	if _, ok := f.routers[router.ID]; !ok {
		return repository.ErrNotFound
	}
	f.routers[router.ID] = router
	return nil
}

func (f *fakeRouterRepo) List(_ context.Context) ([]*rtb.Router, error) {
	out := make([]*rtb.Router, 0, len(f.routers))
	for _, router := range f.routers {
		out = append(out, router)
	}
	return out, nil
}

func (f *fakeRouterRepo) Delete(_ context.Context, id uuid.UUID) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.routers[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.routers, id)
	return nil
}

func (f *fakeRouterRepo) AssignTarget(_ context.Context, a *rtb.Assignment) error {
	f.assignments[a.RouterID] = append(f.assignments[a.RouterID], a)
	return nil
}

func (f *fakeRouterRepo) RemoveAssignment(_ context.Context, routerID, targetID uuid.UUID) error {
	kept := f.assignments[routerID][:0]
	for _, a := range f.assignments[routerID] {
		if a.TargetID != targetID {
			kept = append(kept, a)
		}
	}
	f.assignments[routerID] = kept
	return nil
}

func (f *fakeRouterRepo) ListAssignments(_ context.Context, routerID uuid.UUID) ([]*rtb.Assignment, error) {
	return f.assignments[routerID], nil
}

func (f *fakeRouterRepo) ListCandidates(_ context.Context, routerID uuid.UUID) ([]eligibility.Candidate, error) {
	return nil, nil
}

type fakeTargetRepo struct {
	targets map[uuid.UUID]*rtb.Target
}

func newFakeTargetRepo() *fakeTargetRepo {
	return &fakeTargetRepo{targets: make(map[uuid.UUID]*rtb.Target)}
}

func (f *fakeTargetRepo) Create(_ context.Context, target *rtb.Target) error {
	f.targets[target.ID] = target
	return nil
}

func (f *fakeTargetRepo) GetByID(_ context.Context, id uuid.UUID) (*rtb.Target, error) {
	target, ok := f.targets[id]
	if !ok {
		return nil, domainerrors.ErrTargetNotFound
	}
	return target, nil
}

func (f *fakeTargetRepo) Update(_ context.Context, target *rtb.Target) error {
	f.targets[target.ID] = target
	return nil
}

func (f *fakeTargetRepo) List(_ context.Context) ([]*rtb.Target, error) {
	out := make([]*rtb.Target, 0, len(f.targets))
	for _, target := range f.targets {
		out = append(out, target)
	}
	return out, nil
}

func (f *fakeTargetRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := f.targets[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.targets, id)
	return nil
}

type fakeAuctionRepo struct {
	requests  map[uuid.UUID]*auction.BidRequest
	responses map[uuid.UUID][]*auction.BidResponse
}

func newFakeAuctionRepo() *fakeAuctionRepo {
	return &fakeAuctionRepo{
		requests:  make(map[uuid.UUID]*auction.BidRequest),
		responses: make(map[uuid.UUID][]*auction.BidResponse),
	}
}

func (f *fakeAuctionRepo) SaveAuction(_ context.Context, request *auction.BidRequest, responses []*auction.BidResponse) error {
	f.requests[request.RequestID] = request
	f.responses[request.RequestID] = responses
	return nil
}

func (f *fakeAuctionRepo) RecordTargetOutcomes(_ context.Context, _ []bidding.TargetOutcome) error {
	return nil
}

func (f *fakeAuctionRepo) CountCallerCalls(_ context.Context, _ uuid.UUID, _ string, _ time.Time) (int, error) {
	return 0, nil
}

func (f *fakeAuctionRepo) GetByRequestID(_ context.Context, requestID uuid.UUID) (*auction.BidRequest, []*auction.BidResponse, error) {
	request, ok := f.requests[requestID]
	if !ok {
		return nil, nil, repository.ErrNotFound
	}
	return request, f.responses[requestID], nil
}

func (f *fakeAuctionRepo) ListByCampaign(_ context.Context, campaignID uuid.UUID, _ int) ([]*auction.BidRequest, error) {
	var out []*auction.BidRequest
	for _, request := range f.requests {
		if request.CampaignID == campaignID {
			out = append(out, request)
		}
	}
	return out, nil
}

type fakeCoordinator struct {
	decision *auction.RoutingDecision
	err      error
	gotCall  rtb.CallContext
}

func (f *fakeCoordinator) RunAuction(_ context.Context, _ uuid.UUID, call rtb.CallContext) (*auction.RoutingDecision, error) {
	f.gotCall = call
	if f.err != nil {
		return nil, f.err
	}
	return f.decision, nil
}

type testEnv struct {
	routers     *fakeRouterRepo
	targets     *fakeTargetRepo
	auctions    *fakeAuctionRepo
	coordinator *fakeCoordinator
	server      *httptest.Server
}

func newTestEnv(t *testing.T, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()

	env := &testEnv{
		routers:     newFakeRouterRepo(),
		targets:     newFakeTargetRepo(),
		auctions:    newFakeAuctionRepo(),
		coordinator: &fakeCoordinator{},
	}

	cfg := &config.Config{}
	if mutate != nil {
		mutate(cfg)
	}

	handler := NewHandler(env.routers, env.targets, env.auctions, env.coordinator, nil)
	server := NewServer(cfg, Deps{Handler: handler})
	env.server = httptest.NewServer(server.httpServer.Handler)
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func validRouterPayload() map[string]interface{} {
	return map[string]interface{}{
		"name":                 "US inbound",
		"bidding_timeout_ms":   3000,
		"min_bidders_required": 2,
		"revenue_type":         "per_call",
	}
}

func TestCreateRouter(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/api/v1/routers", validRouterPayload())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created routerResponse
	decodeBody(t, resp, &created)
	assert.Equal(t, "US inbound", created.Name)
	assert.Equal(t, int64(3000), created.BiddingTimeoutMs)
	assert.True(t, created.IsActive)
	assert.NotEqual(t, uuid.Nil, created.ID)

	stored, err := env.routers.GetRouter(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, stored.BiddingTimeout)
}

func TestCreateRouter_ValidationFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(payload map[string]interface{})
	}{
		{"missing name", func(p map[string]interface{}) { delete(p, "name") }},
		{"timeout too short", func(p map[string]interface{}) { p["bidding_timeout_ms"] = 500 }},
		{"timeout too long", func(p map[string]interface{}) { p["bidding_timeout_ms"] = 60000 }},
		{"bad revenue type", func(p map[string]interface{}) { p["revenue_type"] = "per_click" }},
		{"negative min bidders", func(p map[string]interface{}) { p["min_bidders_required"] = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			payload := validRouterPayload()
			tt.mutate(payload)

			resp := env.do(t, http.MethodPost, "/api/v1/routers", payload)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestGetRouter_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/api/v1/routers/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body errorBody
	decodeBody(t, resp, &body)
	assert.Equal(t, "RESOURCE_NOT_FOUND", body.Error.Code)
}

func TestDeleteRouter_InUse(t *testing.T) {
	env := newTestEnv(t, nil)
	env.routers.deleteErr = repository.ErrForeignKey

	resp := env.do(t, http.MethodDelete, "/api/v1/routers/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCreateTarget(t *testing.T) {
	env := newTestEnv(t, nil)

	payload := map[string]interface{}{
		"name":         "Acme Insurance",
		"endpoint_url": "https://bids.acme.test/rtb",
		"min_bid":      "5.00",
		"max_bid":      "50.00",
		"currency":     "USD",
		"hourly_cap":   10,
		"caller_history": map[string]interface{}{
			"enabled":              true,
			"max_calls_per_caller": 2,
			"period":               "week",
		},
	}
	resp := env.do(t, http.MethodPost, "/api/v1/targets", payload)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created targetResponse
	decodeBody(t, resp, &created)
	assert.Equal(t, "POST", created.Method)
	assert.Equal(t, "5", created.MinBid)
	assert.Equal(t, rtb.PeriodWeek, created.CallerHistory.Period)

	stored, err := env.targets.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "USD", stored.MinBid.Currency())
	assert.Equal(t, 10, stored.HourlyCap)
}

func TestCreateTarget_InvertedBidRange(t *testing.T) {
	env := newTestEnv(t, nil)

	payload := map[string]interface{}{
		"name":         "Bad range",
		"endpoint_url": "https://bids.example.test/rtb",
		"min_bid":      "50.00",
		"max_bid":      "5.00",
		"currency":     "USD",
	}
	resp := env.do(t, http.MethodPost, "/api/v1/targets", payload)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateTarget_PreservesCounters(t *testing.T) {
	env := newTestEnv(t, nil)

	createResp := env.do(t, http.MethodPost, "/api/v1/targets", map[string]interface{}{
		"name":         "Counter check",
		"endpoint_url": "https://bids.example.test/rtb",
		"min_bid":      "1.00",
		"max_bid":      "10.00",
		"currency":     "USD",
	})
	require.Equal(t, http.StatusCreated, createResp.StatusCode)
	var created targetResponse
	decodeBody(t, createResp, &created)

	// Simulate auction activity before the config update.
	env.targets.targets[created.ID].TotalPings = 42
	env.targets.targets[created.ID].WonCalls = 7

	updateResp := env.do(t, http.MethodPut, "/api/v1/targets/"+created.ID.String(), map[string]interface{}{
		"name":         "Counter check renamed",
		"endpoint_url": "https://bids.example.test/rtb",
		"min_bid":      "2.00",
		"max_bid":      "20.00",
		"currency":     "USD",
	})
	require.Equal(t, http.StatusOK, updateResp.StatusCode)

	var updated targetResponse
	decodeBody(t, updateResp, &updated)
	assert.Equal(t, int64(42), updated.TotalPings)
	assert.Equal(t, int64(7), updated.WonCalls)
	assert.Equal(t, "Counter check renamed", updated.Name)
}

func TestAssignments(t *testing.T) {
	env := newTestEnv(t, nil)
	routerID := uuid.New()
	targetID := uuid.New()

	resp := env.do(t, http.MethodPost, "/api/v1/routers/"+routerID.String()+"/assignments", map[string]interface{}{
		"target_id": targetID,
		"priority":  3,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	listResp := env.do(t, http.MethodGet, "/api/v1/routers/"+routerID.String()+"/assignments", nil)
	require.Equal(t, http.StatusOK, listResp.StatusCode)
	var assignments []assignmentResponse
	decodeBody(t, listResp, &assignments)
	require.Len(t, assignments, 1)
	assert.Equal(t, targetID, assignments[0].TargetID)
	assert.Equal(t, 3, assignments[0].Priority)

	delResp := env.do(t, http.MethodDelete,
		fmt.Sprintf("/api/v1/routers/%s/assignments/%s", routerID, targetID), nil)
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)
}

func TestRunAuction(t *testing.T) {
	env := newTestEnv(t, nil)

	winner := uuid.New()
	env.coordinator.decision = &auction.RoutingDecision{
		RequestID:           uuid.New(),
		WinningTargetID:     &winner,
		AuctionTime:         180 * time.Millisecond,
		TotalTargetsPinged:  3,
		SuccessfulResponses: 2,
	}

	resp := env.do(t, http.MethodPost, "/api/v1/auctions", map[string]interface{}{
		"router_id":     uuid.New(),
		"campaign_id":   uuid.New(),
		"caller_id":     "+14155550100",
		"caller_number": "+14155550100",
		"state":         "CA",
		"device_type":   "mobile",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decision decisionResponse
	decodeBody(t, resp, &decision)
	assert.Equal(t, &winner, decision.WinningTargetID)
	assert.Equal(t, int64(180), decision.AuctionTimeMs)
	assert.Equal(t, 3, decision.TotalTargetsPinged)

	assert.Equal(t, "CA", env.coordinator.gotCall.State)
	assert.NotEqual(t, uuid.Nil, env.coordinator.gotCall.CallID)
}

func TestRunAuction_InactiveRouter(t *testing.T) {
	env := newTestEnv(t, nil)
	env.coordinator.err = domainerrors.ErrRouterInactive

	resp := env.do(t, http.MethodPost, "/api/v1/auctions", map[string]interface{}{
		"router_id":     uuid.New(),
		"campaign_id":   uuid.New(),
		"caller_id":     "+14155550100",
		"caller_number": "+14155550100",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var body errorBody
	decodeBody(t, resp, &body)
	assert.Equal(t, "ROUTER_INACTIVE", body.Error.Code)
}

func TestRunAuction_BadCallerNumber(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/api/v1/auctions", map[string]interface{}{
		"router_id":     uuid.New(),
		"campaign_id":   uuid.New(),
		"caller_id":     "anonymous",
		"caller_number": "not-a-number",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetAuction(t *testing.T) {
	env := newTestEnv(t, nil)

	request := auction.NewBidRequest(uuid.New(), uuid.New(), uuid.New(), "+14155550100", time.Now().UTC())
	require.NoError(t, env.auctions.SaveAuction(context.Background(), request, nil))

	resp := env.do(t, http.MethodGet, "/api/v1/auctions/"+request.RequestID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var detail auctionDetailResponse
	decodeBody(t, resp, &detail)
	assert.Equal(t, request.RequestID, detail.Request.RequestID)

	missing := env.do(t, http.MethodGet, "/api/v1/auctions/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestListAuctions_RequiresCampaignID(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/api/v1/auctions", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthRequiredWhenSecretConfigured(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Security.JWTSecret = "test-secret"
	})

	resp := env.do(t, http.MethodGet, "/api/v1/routers", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Health stays public.
	health := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestRequestIDEchoed(t *testing.T) {
	env := newTestEnv(t, nil)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get("X-Request-ID"))
}
