package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/batch"
	"github.com/opensource-finance/kestrel/internal/dataset"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/report"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Request body limits.
const (
	maxEvaluateBody = 1 << 20
	maxBatchBody    = 32 << 20
)

// Deps are the collaborators of Handler. Service and Runner are required.
type Deps struct {
	Service *decision.Service
	Runner  *batch.Runner
	Repo    domain.Repository
	Cache   domain.Cache
	Bus     domain.EventBus
	Version string
	Logger  *slog.Logger
}

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *decision.Service
	runner  *batch.Runner
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	version string
	logger  *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:     d.Service,
		runner:  d.Runner,
		repo:    d.Repo,
		cache:   d.Cache,
		bus:     d.Bus,
		version: d.Version,
		logger:  logger,
	}
}

// EvaluateRequest is the request body for POST /evaluate: a fact payload
// plus an optional caller reference.
type EvaluateRequest struct {
	ScenarioID string `json:"scenarioId,omitempty"`
	domain.Payload
}

// AcceptedResponse is returned for asynchronous evaluations.
type AcceptedResponse struct {
	RequestID string `json:"requestId"`
	Topic     string `json:"topic"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// Evaluate handles POST /evaluate. With ?async=true the request is
// published to the event bus and 202 is returned.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var body EvaluateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEvaluateBody))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	req := &domain.EvaluationRequest{
		RequestID: GetRequestID(ctx),
		SubjectID: body.ScenarioID,
		Payload:   body.Payload,
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		h.enqueue(w, r, tenantID, req)
		return
	}

	eval, err := h.svc.Decide(ctx, tenantID, GetTraceID(ctx), req)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: verr.Error(), Field: verr.Field})
			return
		}
		h.logger.Error("evaluation failed", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}

	writeJSON(w, http.StatusOK, eval.ToResponse())
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, tenantID string, req *domain.EvaluationRequest) {
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	data, err := json.Marshal(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "request cannot be encoded")
		return
	}
	if err := h.bus.Publish(r.Context(), tenantID, domain.TopicEvaluationRequested, data); err != nil {
		h.logger.Error("failed to enqueue evaluation", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to enqueue evaluation")
		return
	}

	writeJSON(w, http.StatusAccepted, AcceptedResponse{
		RequestID: req.RequestID,
		Topic:     domain.TopicEvaluationRequested,
	})
}

// Batch handles POST /batch: evaluates a dataset and returns its summary.
// ?format=markdown returns the table form.
func (h *Handler) Batch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ds, err := dataset.Read(http.MaxBytesReader(w, r.Body, maxBatchBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dataset: "+err.Error())
		return
	}
	if ds.Name == "" {
		ds.Name = "api"
	}

	rep, err := h.runner.Run(ctx, tenantID, ds.Name, ds.Scenarios)
	if err != nil {
		h.logger.Error("batch run failed", "tenant_id", tenantID, "dataset", ds.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "batch run failed")
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveRun(ctx, tenantID, &rep.Run); err != nil {
			h.logger.Error("failed to save run", "run_id", rep.Run.ID, "error", err)
		}
	}

	w.Header().Set("X-Run-ID", rep.Run.ID)
	h.writeRun(w, format, &rep.Run)
}

// GetRun handles GET /runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "id")

	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	run, err := h.repo.GetRun(ctx, GetTenantID(ctx), runID)
	if err != nil {
		h.notFoundOr500(w, "run", runID, err)
		return
	}
	h.writeRun(w, format, run)
}

func (h *Handler) writeRun(w http.ResponseWriter, format string, run *domain.Run) {
	if format == report.FormatMarkdown {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(report.Markdown(run.Summary)))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GetEvaluation handles GET /evaluations/{id}.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	evalID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	eval, err := h.repo.GetEvaluation(ctx, GetTenantID(ctx), evalID)
	if err != nil {
		h.notFoundOr500(w, "evaluation", evalID, err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

// ListRules handles GET /rules: every catalog in tier and catalog order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	infos := h.svc.Processor().Registry().Rules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": infos,
		"count": len(infos),
	})
}

// Health handles GET /health. Backend failures degrade the status but the
// endpoint always answers 200.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}
	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("bus", func() error { return h.bus.Ping(ctx) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready handles GET /ready. It answers 503 until the repository responds.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

func (h *Handler) notFoundOr500(w http.ResponseWriter, kind, id string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, kind+" not found")
		return
	}
	h.logger.Error("failed to load "+kind, "id", id, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to load "+kind)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
