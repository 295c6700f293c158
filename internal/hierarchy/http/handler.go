package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/groupledger/groupledger/internal/hierarchy"
)

// Handler exposes the ownership hierarchy as a JSON API.
type Handler struct {
	logger  *slog.Logger
	service *hierarchy.Service
}

// NewHandler constructs the hierarchy handler.
func NewHandler(logger *slog.Logger, service *hierarchy.Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the hierarchy routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/hierarchy", func(r chi.Router) {
		r.Post("/entities", h.handleCreateEntity)
		r.Put("/entities/{entityID}", h.handleUpdateEntity)
		r.Delete("/entities/{entityID}", h.handleRetireEntity)
		r.Post("/edges", h.handleAddEdge)
		r.Delete("/edges/{edgeID}", h.handleRemoveEdge)
		r.Get("/ownership", h.handleEffectiveOwnership)
		r.Get("/statistics", h.handleStatistics)
	})
}

type entityRequest struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	Currency      string `json:"currency"`
	FiscalYearEnd string `json:"fiscal_year_end"`
	ProjectID     int64  `json:"project_id"`
}

func (h *Handler) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	var body entityRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	in := hierarchy.CreateEntityInput{
		Code:          body.Code,
		Name:          body.Name,
		Role:          hierarchy.EntityRole(body.Role),
		Currency:      body.Currency,
		FiscalYearEnd: body.FiscalYearEnd,
		ProjectID:     body.ProjectID,
	}
	if err := in.Validate(); err != nil {
		h.writeError(w, r, http.StatusUnprocessableEntity, err.Error(), nil)
		return
	}
	id, err := h.service.CreateEntity(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (h *Handler) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "entityID")
	if !ok {
		return
	}
	var body struct {
		Name          string `json:"name"`
		Currency      string `json:"currency"`
		FiscalYearEnd string `json:"fiscal_year_end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := h.service.UpdateEntity(r.Context(), id, body.Name, body.Currency, body.FiscalYearEnd); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRetireEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "entityID")
	if !ok {
		return
	}
	if err := h.service.RetireEntity(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type edgeRequest struct {
	ProjectID       int64  `json:"project_id"`
	InvestorID      int64  `json:"investor_id"`
	InvesteeID      int64  `json:"investee_id"`
	OwnershipPct    string `json:"ownership_pct"`
	VotingRightsPct string `json:"voting_rights_pct"`
	Control         string `json:"control"`
	Method          string `json:"method"`
	EffectiveFrom   string `json:"effective_from"`
	EffectiveTo     string `json:"effective_to,omitempty"`
}

func (h *Handler) handleAddEdge(w http.ResponseWriter, r *http.Request) {
	var body edgeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	ownership, err := decimal.NewFromString(body.OwnershipPct)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid ownership_pct", err)
		return
	}
	voting := ownership
	if body.VotingRightsPct != "" {
		if voting, err = decimal.NewFromString(body.VotingRightsPct); err != nil {
			h.writeError(w, r, http.StatusBadRequest, "invalid voting_rights_pct", err)
			return
		}
	}
	from, err := time.Parse("2006-01-02", body.EffectiveFrom)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid effective_from, want YYYY-MM-DD", err)
		return
	}
	var to *time.Time
	if body.EffectiveTo != "" {
		parsed, err := time.Parse("2006-01-02", body.EffectiveTo)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, "invalid effective_to, want YYYY-MM-DD", err)
			return
		}
		to = &parsed
	}
	in := hierarchy.AddEdgeInput{
		InvestorID:    body.InvestorID,
		InvesteeID:    body.InvesteeID,
		Ownership:     ownership,
		VotingRights:  voting,
		Control:       hierarchy.ControlType(body.Control),
		Method:        hierarchy.Method(body.Method),
		EffectiveFrom: from,
		EffectiveTo:   to,
	}
	if err := in.Validate(); err != nil {
		h.writeError(w, r, http.StatusUnprocessableEntity, err.Error(), nil)
		return
	}
	id, err := h.service.AddEdge(r.Context(), body.ProjectID, in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (h *Handler) handleRemoveEdge(w http.ResponseWriter, r *http.Request) {
	edgeID, ok := h.pathID(w, r, "edgeID")
	if !ok {
		return
	}
	projectID, err := strconv.ParseInt(r.URL.Query().Get("project_id"), 10, 64)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "project_id is required", err)
		return
	}
	if err := h.service.RemoveEdge(r.Context(), projectID, edgeID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEffectiveOwnership(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	projectID, err := strconv.ParseInt(q.Get("project_id"), 10, 64)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "project_id is required", err)
		return
	}
	ancestorID, err := strconv.ParseInt(q.Get("ancestor_id"), 10, 64)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "ancestor_id is required", err)
		return
	}
	descendantID, err := strconv.ParseInt(q.Get("descendant_id"), 10, 64)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "descendant_id is required", err)
		return
	}
	share, err := h.service.EffectiveOwnership(r.Context(), projectID, ancestorID, descendantID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"effective_pct": share.String()})
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	projectID, err := strconv.ParseInt(q.Get("project_id"), 10, 64)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "project_id is required", err)
		return
	}
	rootID, err := strconv.ParseInt(q.Get("root_id"), 10, 64)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "root_id is required", err)
		return
	}
	stats, err := h.service.Statistics(r.Context(), projectID, rootID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newStatisticsView(stats))
}

type statisticsView struct {
	TotalEntities int            `json:"total_entities"`
	ByRole        map[string]int `json:"by_role"`
	ByLevel       map[string]int `json:"by_level"`
	MaxDepth      int            `json:"max_depth"`
}

func newStatisticsView(stats hierarchy.Statistics) statisticsView {
	view := statisticsView{
		TotalEntities: stats.TotalEntities,
		ByRole:        make(map[string]int, len(stats.ByRole)),
		ByLevel:       make(map[string]int, len(stats.ByLevel)),
		MaxDepth:      stats.MaxDepth,
	}
	for role, n := range stats.ByRole {
		view.ByRole[string(role)] = n
	}
	for level, n := range stats.ByLevel {
		view.ByLevel[strconv.Itoa(level)] = n
	}
	return view
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid "+param, err)
		return 0, false
	}
	return id, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, hierarchy.ErrEntityNotFound) || errors.Is(err, hierarchy.ErrEdgeNotFound):
		h.writeError(w, r, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, hierarchy.ErrCycle) ||
		errors.Is(err, hierarchy.ErrDuplicateCode) ||
		errors.Is(err, hierarchy.ErrEntityReferenced):
		h.writeError(w, r, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, hierarchy.ErrSelfLoop) || errors.Is(err, hierarchy.ErrPercentage):
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
		return h.logger.With(slog.String("component", "hierarchy.http"))
	}
	return slog.Default().With(slog.String("component", "hierarchy.http"))
}
