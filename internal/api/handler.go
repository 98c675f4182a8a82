package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/refundguard/internal/assess"
	"github.com/opensource-finance/refundguard/internal/bus"
	"github.com/opensource-finance/refundguard/internal/domain"
	"github.com/opensource-finance/refundguard/internal/notify"
	"github.com/opensource-finance/refundguard/internal/repository"
	"github.com/opensource-finance/refundguard/internal/validation"
	"github.com/opensource-finance/refundguard/internal/worker"
)

const (
	maxBodyBytes = 1 << 20
	maxListLimit = 100
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	svc       *assess.Service
	validator *validation.Validator
	cfg       domain.EngineConfig
	worker    domain.WorkerConfig
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, svc *assess.Service, validator *validation.Validator, cfg domain.EngineConfig, workerCfg domain.WorkerConfig, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		svc:       svc,
		validator: validator,
		cfg:       cfg,
		worker:    workerCfg,
		version:   version,
	}
}

// PolicyResponse is the response for GET and PUT /policy.
type PolicyResponse struct {
	Policy *domain.MerchantPolicy `json:"policy"`
	Source string                 `json:"source"`
}

// AsyncResponse is the response for POST /assess/async.
type AsyncResponse struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
}

// Assess handles POST /assess requests.
func (h *Handler) Assess(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	req, err := h.validator.DecodeRequest(body)
	if err != nil {
		writeValidationError(w, err)
		return
	}
	validateMs := time.Since(start).Milliseconds()

	out, err := h.svc.Assess(ctx, tenantID, req, GetRequestID(ctx))
	if err != nil {
		slog.Error("assessment failed",
			"tenant_id", tenantID,
			"order_number", req.OrderNumber,
			"trace_id", traceID,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to assess refund request",
		})
		return
	}

	writeJSON(w, http.StatusOK, out.Response(traceID, validateMs, time.Since(start).Milliseconds()))
}

// AssessAsync handles POST /assess/async. The request is validated and
// queued for the worker; the decision arrives on the assessment topics.
func (h *Handler) AssessAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}
	if !h.worker.Enabled {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "async worker not enabled",
		})
		return
	}
	busTenant, ok := worker.QueueTenant(h.worker.TenantIDs, tenantID)
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "async processing not configured for tenant",
		})
		return
	}

	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if _, err := h.validator.DecodeRequest(body); err != nil {
		writeValidationError(w, err)
		return
	}

	requestID := GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	ev := bus.RefundRequested{
		RequestID: requestID,
		TenantID:  tenantID,
		Request:   json.RawMessage(body),
	}
	if err := bus.PublishJSON(ctx, h.bus, busTenant, domain.TopicRefundRequested, ev); err != nil {
		slog.Error("failed to queue refund request",
			"tenant_id", tenantID,
			"request_id", requestID,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to queue refund request",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, AsyncResponse{
		RequestID: requestID,
		Status:    "queued",
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil || h.svc == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListAssessments returns the tenant's recent assessments, newest first.
func (h *Handler) ListAssessments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	limit := h.cfg.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	list, err := h.repo.ListAssessments(ctx, tenantID, limit)
	if err != nil {
		slog.Error("failed to list assessments", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list assessments",
		})
		return
	}

	summaries := make([]domain.AssessmentSummary, len(list))
	for i, a := range list {
		summaries[i] = a.ToSummary()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"assessments": summaries,
		"count":       len(summaries),
	})
}

// GetAssessment retrieves a stored assessment by ID.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAssessment(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// AssessmentEmail drafts the customer email for a stored assessment.
func (h *Handler) AssessmentEmail(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAssessment(w, r)
	if !ok {
		return
	}

	draft, err := notify.Compose(a)
	if err != nil {
		slog.Error("failed to compose email", "assessment_id", a.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compose email",
		})
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// ClearAssessments deletes the tenant's assessment history.
func (h *Handler) ClearAssessments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	n, err := h.repo.ClearAssessments(ctx, tenantID)
	if err != nil {
		slog.Error("failed to clear assessments", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to clear assessments",
		})
		return
	}

	slog.Info("assessment history cleared", "tenant_id", tenantID, "deleted", n)
	writeJSON(w, http.StatusOK, map[string]int64{
		"deleted": n,
	})
}

// GetPolicy returns the tenant's stored policy, or the default when none is stored.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	p, err := h.svc.Policy(ctx, tenantID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, PolicyResponse{Policy: p, Source: assess.PolicyStored})
	case errors.Is(err, repository.ErrNotFound):
		def := domain.DefaultPolicy()
		writeJSON(w, http.StatusOK, PolicyResponse{Policy: &def, Source: assess.PolicyDefault})
	default:
		slog.Error("failed to load policy", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load policy",
		})
	}
}

// PutPolicy replaces the tenant's policy.
func (h *Handler) PutPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	p, err := h.validator.DecodePolicy(body)
	if err != nil {
		writeValidationError(w, err)
		return
	}

	if err := h.svc.SavePolicy(ctx, tenantID, p); err != nil {
		if errors.Is(err, assess.ErrInvalidPolicy) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("failed to save policy", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save policy",
		})
		return
	}

	writeJSON(w, http.StatusOK, PolicyResponse{Policy: p, Source: assess.PolicyStored})
}

func (h *Handler) loadAssessment(w http.ResponseWriter, r *http.Request) (*domain.Assessment, bool) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	id := chi.URLParam(r, "id")

	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "assessment id is required",
		})
		return nil, false
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return nil, false
	}

	a, err := h.repo.GetAssessment(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "assessment not found",
			})
			return nil, false
		}
		slog.Error("failed to get assessment", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get assessment",
		})
		return nil, false
	}
	return a, true
}

// readBody reads at most maxBodyBytes of the request body, writing the
// error response itself when it cannot.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": "request body too large",
			})
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
		return nil, false
	}
	return body, true
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verr *validation.Error
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "validation failed",
			"details": verr.Details,
		})
		return
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
