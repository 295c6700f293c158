package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/groupledger/groupledger/internal/consol"
	"github.com/groupledger/groupledger/internal/consol/elim"
	"github.com/groupledger/groupledger/internal/consol/match"
	"github.com/groupledger/groupledger/internal/shared"
)

// Handler exposes the consolidation engine to the reporting and review
// layers as a JSON API.
type Handler struct {
	logger    *slog.Logger
	service   *consol.Service
	dispatch  Dispatcher
	rateLimit func(http.Handler) http.Handler
}

// Dispatcher hands run execution to the background queue.
type Dispatcher interface {
	EnqueueConsolidationExecute(ctx context.Context, runID string) (taskID string, err error)
}

// NewHandler constructs the consolidation handler.
func NewHandler(logger *slog.Logger, service *consol.Service) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		rateLimit: httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
	}
}

// WithDispatcher enables the dispatch route. Without it runs execute
// synchronously on the request only.
func (h *Handler) WithDispatcher(d Dispatcher) *Handler {
	h.dispatch = d
	return h
}

// MountRoutes registers the consolidation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/consol", func(r chi.Router) {
		r.Post("/runs", h.handleStartRun)
		r.Get("/runs", h.handleListRuns)
		r.Route("/runs/{runID}", func(r chi.Router) {
			r.Get("/", h.handleGetRun)
			r.Post("/execute", h.handleExecuteRun)
			if h.dispatch != nil {
				r.Post("/dispatch", h.handleDispatchRun)
			}
			r.Post("/cancel", h.handleCancelRun)
			r.Post("/approve", h.handleApproveRun)
			r.Post("/warnings/{index}/ack", h.handleAcknowledgeWarning)
			r.Get("/balances", h.handleListBalances)
			r.Get("/entries", h.handleListEntries)
			r.Group(func(r chi.Router) {
				r.Use(h.rateLimit)
				r.Get("/balances/export.csv", h.handleExportBalancesCSV)
				r.Get("/entries/export.csv", h.handleExportEntriesCSV)
			})
		})
		r.Get("/transactions", h.handleListTransactions)
		r.Get("/transactions/summary", h.handleTransactionSummary)
		r.Post("/transactions/{txID}/status", h.handleSetTransactionStatus)
	})
}

func (h *Handler) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var in consol.StartRunInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	run, err := h.service.StartRun(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, newRunView(run))
}

func (h *Handler) handleExecuteRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.runID(w, r)
	if !ok {
		return
	}
	if err := h.service.Execute(r.Context(), runID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	run, err := h.service.GetRun(r.Context(), runID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newRunView(run))
}

// handleDispatchRun queues a drafted run for the worker instead of
// executing it on the request.
func (h *Handler) handleDispatchRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.runID(w, r)
	if !ok {
		return
	}
	run, err := h.service.GetRun(r.Context(), runID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if run.Status != consol.StatusDraft {
		h.writeError(w, r, http.StatusConflict, fmt.Sprintf("run is %s, only a draft can be dispatched", run.Status), nil)
		return
	}
	taskID, err := h.dispatch.EnqueueConsolidationExecute(r.Context(), runID.String())
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "could not queue run execution", err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id":  runID.String(),
		"task_id": taskID,
	})
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.runID(w, r)
	if !ok {
		return
	}
	run, err := h.service.GetRun(r.Context(), runID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newRunView(run))
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	projectID, err := strconv.ParseInt(r.URL.Query().Get("project_id"), 10, 64)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "project_id is required", err)
		return
	}
	runs, err := h.service.ListRuns(r.Context(), projectID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, newRunView(run))
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.runID(w, r)
	if !ok {
		return
	}
	if err := h.service.Cancel(r.Context(), runID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleApproveRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.runID(w, r)
	if !ok {
		return
	}
	var body struct {
		ApprovedBy int64 `json:"approved_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := h.service.Approve(r.Context(), runID, body.ApprovedBy); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAcknowledgeWarning(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.runID(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid warning index", err)
		return
	}
	var body struct {
		UserID int64 `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := h.service.AcknowledgeWarning(r.Context(), runID, index, body.UserID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListBalances(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.runID(w, r)
	if !ok {
		return
	}
	lines, err := h.service.Balances(r.Context(), runID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	lines, err = consol.FilterSection(lines, r.URL.Query().Get("section"))
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	h.writeJSON(w, http.StatusOK, newBalanceViews(lines))
}

func (h *Handler) handleListEntries(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.runID(w, r)
	if !ok {
		return
	}
	filter, err := entryFilterFromQuery(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid entry filter", err)
		return
	}
	entries, err := h.service.Entries(r.Context(), runID, filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newEntryViews(entries))
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		h.writeError(w, r, http.StatusBadRequest, "period is required", nil)
		return
	}
	txs, err := h.service.Transactions(r.Context(), period)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newTransactionViews(txs))
}

func (h *Handler) handleTransactionSummary(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		h.writeError(w, r, http.StatusBadRequest, "period is required", nil)
		return
	}
	summary, err := h.service.TransactionSummary(r.Context(), period)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleSetTransactionStatus(w http.ResponseWriter, r *http.Request) {
	txID, err := strconv.ParseInt(chi.URLParam(r, "txID"), 10, 64)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid transaction id", err)
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := h.service.ConfirmTransaction(r.Context(), txID, match.Status(body.Status)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func entryFilterFromQuery(r *http.Request) (consol.EntryFilter, error) {
	var f consol.EntryFilter
	q := r.URL.Query()
	f.Category = elim.Category(q.Get("category"))
	if raw := q.Get("investor_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return f, err
		}
		f.InvestorID = id
	}
	if raw := q.Get("investee_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return f, err
		}
		f.InvesteeID = id
	}
	return f, nil
}

func (h *Handler) runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid run id", err)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		cerr *shared.ConfigError
		perr *shared.PolicyError
		serr *shared.StructuralError
	)
	switch {
	case errors.Is(err, consol.ErrRunNotFound) || errors.Is(err, match.ErrTransactionNotFound):
		h.writeError(w, r, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, shared.ErrRunActive):
		h.writeError(w, r, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, shared.ErrRunFrozen) || errors.Is(err, match.ErrStatusPinned):
		h.writeError(w, r, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, consol.ErrUnacknowledgedWarnings) ||
		errors.Is(err, consol.ErrRunNotCompleted) ||
		errors.Is(err, consol.ErrRunNotExecutable) ||
		errors.Is(err, consol.ErrWarningIndex):
		h.writeError(w, r, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, shared.ErrInvalidPeriod):
		h.writeError(w, r, http.StatusBadRequest, err.Error(), nil)
	case errors.As(err, &cerr) || errors.As(err, &perr):
		h.writeError(w, r, http.StatusUnprocessableEntity, err.Error(), nil)
	case errors.As(err, &serr):
		h.writeError(w, r, http.StatusUnprocessableEntity, err.Error(), nil)
	default:
		h.writeError(w, r, http.StatusInternalServerError, "internal error", err)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log().Error("encode response", slog.String("error", err.Error()))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, msg string, err error) {
	if err != nil {
		h.log().Error("request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()))
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (h *Handler) log() *slog.Logger {
	if h != nil && h.logger != nil {
		return h.logger.With(slog.String("component", "consol.http"))
	}
	return slog.Default().With(slog.String("component", "consol.http"))
}
