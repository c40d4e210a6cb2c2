package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// defaultVerdictTTL bounds how long an identical evaluation may be served
// from cache before it is recomputed.
const defaultVerdictTTL = 5 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *engine.Engine
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		engine:  eng,
		version: version,
	}
}

// IngestRequest is the request body for POST /ingest.
type IngestRequest struct {
	Records []*domain.LoanRecord `json:"records"`
}

// Ingest handles POST /ingest requests: a batch of historical loan records
// is corrected, encoded, and stored as retrieval cases.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	report, err := h.engine.Ingest(ctx, tenantID, req.Records)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyCorpus) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "records must not be empty",
			})
			return
		}
		slog.Error("corpus ingestion failed", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "ingestion failed",
		})
		return
	}

	if h.bus != nil {
		payload, _ := json.Marshal(report)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicCorpusIngested, payload); err != nil {
			slog.Error("failed to publish ingestion report", "error", err)
		}
		if len(report.Rejected) > 0 {
			rejected, _ := json.Marshal(report.Rejected)
			if err := h.bus.Publish(ctx, tenantID, domain.TopicCorpusRejected, rejected); err != nil {
				slog.Error("failed to publish rejections", "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, report)
}

// EvaluateRequest is the request body for POST /evaluate.
type EvaluateRequest struct {
	Application *domain.LoanRecord `json:"application"`
	TopK        int                `json:"topK,omitempty"`
}

// Evaluate handles POST /evaluate requests. The application is encoded
// under the tenant's current encoder state, its neighborhood retrieved,
// and a verdict aggregated. Identical requests are served from cache.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Application == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "application is required",
		})
		return
	}

	cfg := h.engine.Config()

	// The cache key embeds the encoder version, so it needs the state up
	// front. No state also means nothing to evaluate against.
	state, err := h.engine.EncoderState(ctx, tenantID)
	if err != nil {
		h.writeEvaluateError(w, tenantID, err)
		return
	}

	topK := req.TopK
	if topK == 0 {
		topK = cfg.DefaultTopK
	}

	evalKey := cache.EvalKey(state.Version, topK, cfg, req.Application)
	if h.cache != nil {
		cached, err := h.cache.GetVerdict(ctx, tenantID, evalKey)
		if err != nil {
			slog.Warn("verdict cache read failed", "error", err)
		}
		if cached != nil {
			cached.Metadata.CacheHit = true
			cached.Metadata.TraceID = traceID
			cached.Metadata.TotalMs = time.Since(start).Milliseconds()
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	verdict, err := h.engine.Evaluate(ctx, tenantID, req.Application, topK, cfg)
	if err != nil {
		h.writeEvaluateError(w, tenantID, err)
		return
	}
	verdict.Metadata.TraceID = traceID

	if h.repo != nil {
		if err := h.repo.SaveVerdict(ctx, tenantID, verdict); err != nil {
			slog.Error("failed to save verdict", "verdict_id", verdict.ID, "error", err)
		}
	}

	if h.cache != nil {
		if err := h.cache.SetVerdict(ctx, tenantID, evalKey, verdict, defaultVerdictTTL); err != nil {
			slog.Warn("verdict cache write failed", "error", err)
		}
	}

	if h.bus != nil {
		payload, _ := json.Marshal(verdict)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicVerdictProduced, payload); err != nil {
			slog.Error("failed to publish verdict", "error", err)
		}
		if verdict.RiskLevel == domain.RiskHigh {
			if err := h.bus.Publish(ctx, tenantID, domain.TopicAlert, payload); err != nil {
				slog.Error("failed to publish alert", "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, verdict)
}

// writeEvaluateError maps pipeline errors to HTTP statuses.
func (h *Handler) writeEvaluateError(w http.ResponseWriter, tenantID string, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, domain.ErrNoEncoderState):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "no fitted encoder state; ingest a corpus first",
		})
	case errors.Is(err, domain.ErrEncoderMismatch):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "encoder version mismatch; refit required",
		})
	case errors.Is(err, domain.ErrStoreUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "vector store unavailable",
		})
	default:
		slog.Error("evaluation failed", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "evaluation failed",
		})
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
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
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetVerdict retrieves a verdict by ID.
func (h *Handler) GetVerdict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	verdictID := chi.URLParam(r, "id")

	if verdictID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "verdict id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	verdict, err := h.repo.GetVerdict(ctx, tenantID, verdictID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "verdict not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, verdict)
}

// GetRecord retrieves a stored corpus record by ID.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	recordID := chi.URLParam(r, "id")

	if recordID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "record id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	rec, err := h.repo.GetLoanRecord(ctx, tenantID, recordID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "record not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// GetIngestionReport retrieves an ingestion report by ID.
func (h *Handler) GetIngestionReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	reportID := chi.URLParam(r, "id")

	if reportID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "report id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	report, err := h.repo.GetIngestionReport(ctx, tenantID, reportID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "report not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// EncoderStateResponse is the response for GET /encoder. Fitted parameters
// stay internal; the response carries only the audit surface.
type EncoderStateResponse struct {
	Version    string    `json:"version"`
	FittedAt   time.Time `json:"fittedAt"`
	CorpusSize int       `json:"corpusSize"`
	Dimension  int       `json:"dimension"`
}

// GetEncoderState returns the tenant's current encoder state summary.
func (h *Handler) GetEncoderState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	state, err := h.engine.EncoderState(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNoEncoderState) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "no fitted encoder state",
			})
			return
		}
		slog.Error("failed to load encoder state", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load encoder state",
		})
		return
	}

	writeJSON(w, http.StatusOK, EncoderStateResponse{
		Version:    state.Version,
		FittedAt:   state.FittedAt,
		CorpusSize: state.CorpusSize,
		Dimension:  state.Dimension(),
	})
}

// RefitEncoder re-derives the encoder state from the persisted corpus and
// re-encodes every stored vector under the new version.
func (h *Handler) RefitEncoder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	state, err := h.engine.Refit(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyCorpus) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "no corpus to refit from",
			})
			return
		}
		slog.Error("refit failed", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "refit failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, EncoderStateResponse{
		Version:    state.Version,
		FittedAt:   state.FittedAt,
		CorpusSize: state.CorpusSize,
		Dimension:  state.Dimension(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
