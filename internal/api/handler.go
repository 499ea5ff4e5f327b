package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clearsignal/kite/internal/alerts"
	"github.com/clearsignal/kite/internal/domain"
	"github.com/clearsignal/kite/internal/rules"
)

// signalSetCacheTTL bounds how long evaluation results stay cached.
const signalSetCacheTTL = 15 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *rules.Engine
	processor *alerts.Processor
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, processor *alerts.Processor, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    engine,
		processor: processor,
		version:   version,
	}
}

// EvaluateRequest is the request body for POST /evaluate. A nil RuleCutoffs
// map means the field was absent entirely, which is a rejected request; an
// empty map means "every rule from the beginning of time".
type EvaluateRequest struct {
	UserID      string             `json:"user_id"`
	AccountID   string             `json:"account_id"`
	RuleCutoffs domain.RuleCutoffs `json:"rule_cutoffs"`
}

// Evaluate handles POST /evaluate: runs the full signal battery synchronously
// and returns the flat result record.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error_message": "invalid JSON request body",
		})
		return
	}

	set, err := h.engine.Evaluate(ctx, tenantID, req.UserID, req.AccountID, req.RuleCutoffs)
	if err != nil {
		if errors.Is(err, domain.ErrMissingParameter) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error_message": err.Error(),
			})
			return
		}

		slog.Error("evaluation failed",
			"tenant_id", tenantID,
			"user_id", req.UserID,
			"trace_id", traceID,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error_message": err.Error(),
		})
		return
	}

	set.Metadata.TraceID = traceID

	if h.repo != nil {
		if err := h.repo.SaveSignalSet(ctx, tenantID, set); err != nil {
			slog.Error("failed to save signal set", "evaluation_id", set.ID, "error", err)
		}
	}
	if h.cache != nil {
		if err := h.cache.SetSignalSet(ctx, tenantID, set, signalSetCacheTTL); err != nil {
			slog.Warn("failed to cache signal set", "evaluation_id", set.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, set)
}

// IngestTransaction handles POST /transactions: records a deposit or
// withdrawal and notifies the async pipeline.
func (h *Handler) IngestTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req domain.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error_message": "invalid JSON request body",
		})
		return
	}

	if req.UserID == "" || req.AccountID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error_message": "user_id and account_id are required",
		})
		return
	}
	if !req.Type.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error_message": "type must be DEPOSIT or WITHDRAWAL",
		})
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error_message": "amount must be positive",
		})
		return
	}

	tx := req.ToRecord(uuid.New().String(), tenantID)
	if tx.TimeOccurred == 0 {
		tx.TimeOccurred = time.Now().UTC().UnixMilli()
	}

	if err := h.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
		slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error_message": "failed to save transaction",
		})
		return
	}

	// Notify the async pipeline; ingestion succeeds even if publish fails.
	if h.bus != nil {
		ev := &domain.TransactionIngested{
			TxID:      tx.ID,
			TenantID:  tenantID,
			TraceID:   traceID,
			UserID:    tx.UserID,
			AccountID: tx.AccountID,
			Type:      tx.Type,
		}
		if err := h.bus.PublishIngested(ctx, ev); err != nil {
			slog.Error("failed to publish ingestion event", "tx_id", tx.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, tx)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error_message": "transaction id is required",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		slog.Error("failed to get transaction", "id", txID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error_message": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// GetEvaluation retrieves an evaluation result by ID, checking the cache
// before the repository.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	evalID := chi.URLParam(r, "id")

	if evalID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error_message": "evaluation id is required",
		})
		return
	}

	if h.cache != nil {
		if set, err := h.cache.GetSignalSet(ctx, tenantID, evalID); err == nil && set != nil {
			writeJSON(w, http.StatusOK, set)
			return
		}
	}

	set, err := h.repo.GetSignalSet(ctx, tenantID, evalID)
	if err != nil {
		slog.Error("failed to get evaluation", "id", evalID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error_message": "evaluation not found",
		})
		return
	}

	if h.cache != nil {
		_ = h.cache.SetSignalSet(ctx, tenantID, set, signalSetCacheTTL)
	}

	writeJSON(w, http.StatusOK, set)
}

// CutoffsResponse echoes a user's effective cutoff for every rule label.
type CutoffsResponse struct {
	UserID  string             `json:"user_id"`
	Cutoffs domain.RuleCutoffs `json:"rule_cutoffs"`
}

// GetCutoffs returns the persisted per-rule cutoffs for a user. Labels with
// no persisted value report the beginning-of-time sentinel.
func (h *Handler) GetCutoffs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	userID := chi.URLParam(r, "userId")

	stored, err := h.repo.GetRuleCutoffs(ctx, tenantID, userID)
	if err != nil {
		slog.Error("failed to get rule cutoffs", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error_message": "failed to load rule cutoffs",
		})
		return
	}

	resolved := make(domain.RuleCutoffs, len(domain.RuleLabels))
	for _, label := range domain.RuleLabels {
		resolved[label] = stored.Get(label)
	}

	writeJSON(w, http.StatusOK, CutoffsResponse{UserID: userID, Cutoffs: resolved})
}

// PutCutoffs advances the persisted per-rule cutoffs for a user. Cutoffs
// never move backwards; a lower value than the stored one is ignored.
func (h *Handler) PutCutoffs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	userID := chi.URLParam(r, "userId")

	var cutoffs domain.RuleCutoffs
	if err := json.NewDecoder(r.Body).Decode(&cutoffs); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error_message": "invalid JSON request body",
		})
		return
	}
	if len(cutoffs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error_message": "at least one rule cutoff is required",
		})
		return
	}

	for label := range cutoffs {
		if !validRuleLabel(label) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error_message": "unknown rule label: " + label,
			})
			return
		}
	}

	if err := h.repo.SaveRuleCutoffs(ctx, tenantID, userID, cutoffs); err != nil {
		slog.Error("failed to save rule cutoffs", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error_message": "failed to save rule cutoffs",
		})
		return
	}

	stored, err := h.repo.GetRuleCutoffs(ctx, tenantID, userID)
	if err != nil {
		slog.Error("failed to reload rule cutoffs", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error_message": "failed to load rule cutoffs",
		})
		return
	}

	writeJSON(w, http.StatusOK, CutoffsResponse{UserID: userID, Cutoffs: stored})
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

func validRuleLabel(label string) bool {
	for _, known := range domain.RuleLabels {
		if label == known {
			return true
		}
	}
	return false
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
