package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	domainerrors "github.com/ringflow/call-auction-backend/internal/domain/errors"
	"github.com/ringflow/call-auction-backend/internal/domain/rtb"
	"github.com/ringflow/call-auction-backend/internal/infrastructure/repository"
	"github.com/ringflow/call-auction-backend/internal/service/bidding"
)

const maxBodySize = 1 << 20

// Handler serves the management and auction endpoints.
type Handler struct {
	routers     repository.RouterRepository
	targets     repository.TargetRepository
	auctions    repository.AuctionRepository
	coordinator bidding.Coordinator
	validate    *validator.Validate
	logger      *slog.Logger
}

func NewHandler(
	routers repository.RouterRepository,
	targets repository.TargetRepository,
	auctions repository.AuctionRepository,
	coordinator bidding.Coordinator,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		routers:     routers,
		targets:     targets,
		auctions:    auctions,
		coordinator: coordinator,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger,
	}
}

// decode parses and validates a JSON request body.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Code:    "INVALID_JSON",
			Message: "Request body is not valid JSON: " + err.Error(),
		}})
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			fields := make(map[string]interface{}, len(invalid))
			for _, f := range invalid {
				fields[f.Field()] = "failed " + f.Tag() + " validation"
			}
			writeValidationError(w, fields)
			return false
		}
		writeError(w, r, h.logger, err)
		return false
	}
	return true
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, domainerrors.NewValidationError("INVALID_ID", "Path parameter "+name+" is not a valid UUID")
	}
	return id, nil
}

// Router management

func (h *Handler) handleCreateRouter(w http.ResponseWriter, r *http.Request) {
	var req routerRequest
	if !h.decode(w, r, &req) {
		return
	}

	router, err := req.toDomain(uuid.New())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.routers.Create(r.Context(), router); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, routerFromDomain(router))
}

func (h *Handler) handleGetRouter(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	router, err := h.routers.GetRouter(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, routerFromDomain(router))
}

func (h *Handler) handleListRouters(w http.ResponseWriter, r *http.Request) {
	routers, err := h.routers.List(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]routerResponse, len(routers))
	for i, router := range routers {
		out[i] = routerFromDomain(router)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleUpdateRouter(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	existing, err := h.routers.GetRouter(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req routerRequest
	if !h.decode(w, r, &req) {
		return
	}
	router, err := req.toDomain(id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	router.CreatedAt = existing.CreatedAt

	if err := h.routers.Update(r.Context(), router); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, routerFromDomain(router))
}

func (h *Handler) handleDeleteRouter(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.routers.Delete(r.Context(), id); err != nil {
		if repository.IsForeignKeyViolation(err) {
			writeError(w, r, h.logger, domainerrors.ErrRouterInUse)
			return
		}
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Assignment management

func (h *Handler) handleAssignTarget(w http.ResponseWriter, r *http.Request) {
	routerID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req assignmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	assignment := rtb.NewAssignment(routerID, req.TargetID, req.Priority)
	if req.IsActive != nil {
		assignment.IsActive = *req.IsActive
	}

	if err := h.routers.AssignTarget(r.Context(), assignment); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, assignmentResponse{
		RouterID:  assignment.RouterID,
		TargetID:  assignment.TargetID,
		Priority:  assignment.Priority,
		IsActive:  assignment.IsActive,
		CreatedAt: assignment.CreatedAt,
	})
}

func (h *Handler) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	routerID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	assignments, err := h.routers.ListAssignments(r.Context(), routerID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]assignmentResponse, len(assignments))
	for i, a := range assignments {
		out[i] = assignmentResponse{
			RouterID:  a.RouterID,
			TargetID:  a.TargetID,
			Priority:  a.Priority,
			IsActive:  a.IsActive,
			CreatedAt: a.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleRemoveAssignment(w http.ResponseWriter, r *http.Request) {
	routerID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	targetID, err := pathID(r, "targetID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.routers.RemoveAssignment(r.Context(), routerID, targetID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Target management

func (h *Handler) handleCreateTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if !h.decode(w, r, &req) {
		return
	}
	target, err := req.toDomain(uuid.New())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.targets.Create(r.Context(), target); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, targetFromDomain(target))
}

func (h *Handler) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	target, err := h.targets.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, targetFromDomain(target))
}

func (h *Handler) handleListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := h.targets.List(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]targetResponse, len(targets))
	for i, target := range targets {
		out[i] = targetFromDomain(target)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleUpdateTarget(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	existing, err := h.targets.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req targetRequest
	if !h.decode(w, r, &req) {
		return
	}
	target, err := req.toDomain(id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	// Usage counters are owned by the auction engine, never by the API.
	target.TotalPings = existing.TotalPings
	target.SuccessfulBids = existing.SuccessfulBids
	target.WonCalls = existing.WonCalls
	target.CreatedAt = existing.CreatedAt

	if err := h.targets.Update(r.Context(), target); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, targetFromDomain(target))
}

func (h *Handler) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.targets.Delete(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Auctions

func (h *Handler) handleRunAuction(w http.ResponseWriter, r *http.Request) {
	var req auctionRequest
	if !h.decode(w, r, &req) {
		return
	}

	call, err := req.toCallContext(time.Now().UTC())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	decision, err := h.coordinator.RunAuction(r.Context(), req.RouterID, call)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, decisionFromDomain(decision))
}

func (h *Handler) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	requestID, err := pathID(r, "requestID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	request, responses, err := h.auctions.GetByRequestID(r.Context(), requestID)
	if err != nil {
		if repository.IsNotFound(err) {
			writeError(w, r, h.logger, domainerrors.ErrAuctionNotFound)
			return
		}
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, auctionDetailResponse{
		Request:   request,
		Responses: responses,
	})
}

func (h *Handler) handleListAuctions(w http.ResponseWriter, r *http.Request) {
	campaignID, err := uuid.Parse(r.URL.Query().Get("campaign_id"))
	if err != nil {
		writeError(w, r, h.logger, domainerrors.NewValidationError(
			"INVALID_CAMPAIGN_ID", "Query parameter campaign_id must be a valid UUID"))
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 500 {
			writeError(w, r, h.logger, domainerrors.NewValidationError(
				"INVALID_LIMIT", "Query parameter limit must be between 1 and 500"))
			return
		}
	}

	requests, err := h.auctions.ListByCampaign(r.Context(), campaignID, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}
