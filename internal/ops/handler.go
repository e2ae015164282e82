// Package ops exposes the engine's operational HTTP surface: health,
// metrics, the settlement event stream, and authenticated admin triggers
// used by the upstream API service and operators.
package ops

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/topprop/settlement-engine/internal/contest"
	"github.com/topprop/settlement-engine/internal/metrics"
	"github.com/topprop/settlement-engine/internal/model"
	"github.com/topprop/settlement-engine/internal/settlement"
	"github.com/topprop/settlement-engine/internal/spread"
	"github.com/topprop/settlement-engine/internal/store"
)

// Engine is the settlement work the admin endpoints trigger.
type Engine interface {
	RunSettlementBatch(ctx context.Context) (settlement.Report, error)
	RunVoidCheck(ctx context.Context, playerIDs []string) (settlement.Report, error)
	RunSeasonClose(ctx context.Context) (settlement.Report, error)
	Void(ctx context.Context, contestID, reason string) error
}

// Factory creates and claims contests.
type Factory interface {
	PriceAndCreate(ctx context.Context, req contest.CreateRequest) (*model.Contest, error)
	Claim(ctx context.Context, req contest.ClaimRequest) (*model.Contest, error)
}

// Handler serves the ops endpoints.
type Handler struct {
	engine     Engine
	factory    Factory
	store      store.Store
	stream     http.HandlerFunc
	adminToken string
	logger     *zap.Logger
}

// NewHandler creates the ops handler. stream serves GET /ws and may be nil.
// An empty adminToken leaves the admin routes unauthenticated.
func NewHandler(eng Engine, f Factory, st store.Store, stream http.HandlerFunc, adminToken string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		engine:     eng,
		factory:    f,
		store:      st,
		stream:     stream,
		adminToken: adminToken,
		logger:     logger,
	}
}

// Router builds the chi router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"settlement-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	if h.stream != nil {
		r.Get("/ws", h.stream)
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireToken)
		r.Use(middleware.Timeout(5 * time.Minute))

		r.Post("/settlement/run", h.RunSettlement)
		r.Post("/void-check", h.RunVoidCheck)
		r.Post("/season-close", h.RunSeasonClose)
		r.Put("/spreads", h.UpsertSpreads)

		r.Post("/contests", h.CreateContest)
		r.Get("/contests/{contestID}", h.GetContest)
		r.Get("/contests/{contestID}/gains", h.GetContestGains)
		r.Post("/contests/{contestID}/claim", h.ClaimContest)
		r.Post("/contests/{contestID}/void", h.VoidContest)
		r.Get("/users/{userID}/gains", h.GetUserGains)
	})
	return r
}

// --- Request/Response types ---

// VoidCheckRequest is the JSON body for POST /admin/void-check.
type VoidCheckRequest struct {
	PlayerIDs []string `json:"player_ids"`
}

// ClaimBody is the JSON body for POST /admin/contests/{contestID}/claim.
type ClaimBody struct {
	UserID string `json:"user_id"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// --- Jobs ---

// RunSettlement handles POST /admin/settlement/run
func (h *Handler) RunSettlement(w http.ResponseWriter, r *http.Request) {
	rep, err := h.engine.RunSettlementBatch(r.Context())
	if err != nil {
		h.logger.Error("manual settlement run failed", zap.Error(err))
		writeError(w, "settlement run failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// RunVoidCheck handles POST /admin/void-check
func (h *Handler) RunVoidCheck(w http.ResponseWriter, r *http.Request) {
	var req VoidCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.PlayerIDs) == 0 {
		writeError(w, "player_ids is required", http.StatusBadRequest)
		return
	}

	rep, err := h.engine.RunVoidCheck(r.Context(), req.PlayerIDs)
	if err != nil {
		h.logger.Error("manual void check failed", zap.Error(err))
		writeError(w, "void check failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// RunSeasonClose handles POST /admin/season-close
func (h *Handler) RunSeasonClose(w http.ResponseWriter, r *http.Request) {
	rep, err := h.engine.RunSeasonClose(r.Context())
	if err != nil {
		h.logger.Error("manual season close failed", zap.Error(err))
		writeError(w, "season close failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// UpsertSpreads handles PUT /admin/spreads with a CSV body.
func (h *Handler) UpsertSpreads(w http.ResponseWriter, r *http.Request) {
	rows, err := spread.LoadCSV(http.MaxBytesReader(w, r.Body, 4<<20))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.store.UpsertSpreadRows(r.Context(), rows); err != nil {
		h.logger.Error("spread upsert failed", zap.Error(err))
		writeError(w, "failed to store spread rows", http.StatusInternalServerError)
		return
	}
	h.logger.Info("spread table updated", zap.Int("rows", len(rows)))
	writeJSON(w, http.StatusOK, map[string]int{"rows": len(rows)})
}

// --- Contests ---

// CreateContest handles POST /admin/contests
func (h *Handler) CreateContest(w http.ResponseWriter, r *http.Request) {
	var req contest.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	c, err := h.factory.PriceAndCreate(r.Context(), req)
	if err != nil {
		h.writeContestError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ClaimContest handles POST /admin/contests/{contestID}/claim
func (h *Handler) ClaimContest(w http.ResponseWriter, r *http.Request) {
	var body ClaimBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	c, err := h.factory.Claim(r.Context(), contest.ClaimRequest{
		ContestID: chi.URLParam(r, "contestID"),
		UserID:    body.UserID,
	})
	if err != nil {
		h.writeContestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GetContest handles GET /admin/contests/{contestID}
func (h *Handler) GetContest(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetContest(r.Context(), chi.URLParam(r, "contestID"))
	if err != nil {
		h.writeContestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GetContestGains handles GET /admin/contests/{contestID}/gains
func (h *Handler) GetContestGains(w http.ResponseWriter, r *http.Request) {
	gains, err := h.store.ListGainsByContest(r.Context(), chi.URLParam(r, "contestID"))
	if err != nil {
		writeError(w, "failed to load gains", http.StatusInternalServerError)
		return
	}
	if gains == nil {
		gains = []model.Gain{}
	}
	writeJSON(w, http.StatusOK, gains)
}

// GetUserGains handles GET /admin/users/{userID}/gains
func (h *Handler) GetUserGains(w http.ResponseWriter, r *http.Request) {
	gains, err := h.store.ListGainsByUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "failed to load gains", http.StatusInternalServerError)
		return
	}
	if gains == nil {
		gains = []model.Gain{}
	}
	writeJSON(w, http.StatusOK, gains)
}

// VoidContest handles POST /admin/contests/{contestID}/void
func (h *Handler) VoidContest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "contestID")
	if err := h.engine.Void(r.Context(), id, settlement.ReasonAdmin); err != nil {
		h.writeContestError(w, err)
		return
	}

	c, err := h.store.GetContest(r.Context(), id)
	if err != nil {
		h.writeContestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// --- Helpers ---

func (h *Handler) writeContestError(w http.ResponseWriter, err error) {
	var re *contest.RejectError
	switch {
	case errors.As(err, &re):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: re.Error(), Code: string(re.Code)})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "contest not found", http.StatusNotFound)
	case errors.Is(err, store.ErrAlreadySettled):
		writeError(w, "contest already closed", http.StatusConflict)
	case errors.Is(err, store.ErrStale):
		writeError(w, "contest changed, retry", http.StatusConflict)
	default:
		h.logger.Error("contest request failed", zap.Error(err))
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.adminToken != "" {
			got := r.Header.Get("Authorization")
			want := "Bearer " + h.adminToken
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				writeError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
