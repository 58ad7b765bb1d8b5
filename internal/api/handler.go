// Package api exposes the HTTP surface: the authenticated tick
// trigger, cache sync and status, marker clearing and the audit feed.
// The orchestrator stays behind a one-method interface so the handlers
// never see its wiring.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helvetiche/remindd/internal/cache"
	"github.com/helvetiche/remindd/internal/domain"
)

// Audit feed defaults and limits.
const (
	DefaultAuditLimit = 20
	MaxAuditLimit     = 100
)

// TickRunner runs one dispatch pass and always produces a summary.
type TickRunner interface {
	RunTick(ctx context.Context) domain.TickSummary
}

// CacheControl is the cache surface the endpoints need.
type CacheControl interface {
	Sync(ctx context.Context) (int, error)
	ReadStatus(ctx context.Context) (cache.Status, error)
}

// MarkerControl clears a schedule's current day bucket after an edit.
type MarkerControl interface {
	ClearForSchedule(ctx context.Context, scheduleID uuid.UUID, now time.Time) error
}

// AuditReader lists recent tick audit records, newest first.
type AuditReader interface {
	RecentTicks(ctx context.Context, limit int) ([]domain.TickAudit, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	secret  string
	ticks   TickRunner
	cache   CacheControl
	markers MarkerControl
	audit   AuditReader
	db      HealthChecker
	clock   func() time.Time
	logger  zerolog.Logger
	router  chi.Router
}

func NewHandler(secret string, ticks TickRunner, cacheControl CacheControl, markers MarkerControl, audit AuditReader, logger zerolog.Logger) *Handler {
	h := &Handler{
		secret:  secret,
		ticks:   ticks,
		cache:   cacheControl,
		markers: markers,
		audit:   audit,
		clock:   time.Now,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/health", h.health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/tick", h.tick)
		r.Post("/cache/sync", h.cacheSync)
		r.Get("/cache/status", h.cacheStatus)
		r.Post("/schedules/{id}/markers/clear", h.clearMarkers)
		r.Get("/audit/recent", h.auditRecent)
	})

	h.router = r
	return h
}

// WithHealthChecker sets the database health checker for verbose /health
// responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// requireAuth guards the /v1 routes with the shared trigger secret.
// Comparison is constant time so the secret cannot be probed
// byte by byte.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) tick(w http.ResponseWriter, r *http.Request) {
	summary := h.ticks.RunTick(r.Context())
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) cacheSync(w http.ResponseWriter, r *http.Request) {
	count, err := h.cache.Sync(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("cache sync failed")
		writeError(w, http.StatusInternalServerError, "cache sync failed")
		return
	}

	resp := SyncResponse{Count: count}
	if status, err := h.cache.ReadStatus(r.Context()); err == nil {
		resp.LastSyncedAt = formatTime(status.LastSyncedAt)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) cacheStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.cache.ReadStatus(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("cache status failed")
		writeError(w, http.StatusInternalServerError, "cache status unavailable")
		return
	}

	resp := StatusResponse{Exists: status.Exists, Count: status.Count}
	if status.Exists {
		resp.LastSyncedAt = formatTime(status.LastSyncedAt)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) clearMarkers(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}

	if err := h.markers.ClearForSchedule(r.Context(), scheduleID, h.clock()); err != nil {
		h.logger.Error().Err(err).Str("schedule_id", scheduleID.String()).Msg("marker clear failed")
		writeError(w, http.StatusInternalServerError, "failed to clear markers")
		return
	}
	writeJSON(w, http.StatusOK, ClearResponse{Cleared: true})
}

func (h *Handler) auditRecent(w http.ResponseWriter, r *http.Request) {
	limit, err := parseAuditLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ticks, err := h.audit.RecentTicks(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("audit read failed")
		writeError(w, http.StatusInternalServerError, "failed to read audit log")
		return
	}

	resp := AuditResponse{Ticks: make([]TickAuditResponse, len(ticks))}
	for i, tick := range ticks {
		resp.Ticks[i] = TickAuditResponse{
			ID:          tick.ID.String(),
			At:          formatTime(tick.At),
			SincePrevMs: tick.SincePrev.Milliseconds(),
			Checked:     tick.Checked,
			Sent:        tick.Sent,
			Skipped:     tick.Skipped,
			Errors:      tick.Errors,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parseAuditLimit reads the limit query parameter, applying the default
// and the cap.
func parseAuditLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return DefaultAuditLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		return DefaultAuditLimit, nil
	}
	if limit > MaxAuditLimit {
		limit = MaxAuditLimit
	}
	return limit, nil
}
