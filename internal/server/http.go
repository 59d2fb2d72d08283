package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"TroveLedger/internal/event"
	"TroveLedger/internal/ingestion"
	"TroveLedger/internal/observability"
	"TroveLedger/internal/persistence"
	"TroveLedger/internal/projection"
	"TroveLedger/internal/query"
)

// Server is the HTTP query/admin surface. Queries read projection tables;
// admin event injection feeds the same typed-event channel as the NATS path,
// so injected events flow through the full idempotency/sequence pipeline.
type Server struct {
	httpServer *http.Server
	deps       *Deps
	logger     zerolog.Logger
}

// Deps carries the server's collaborators.
type Deps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	SnapshotMgr   *persistence.SnapshotManager
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	EventChan     chan<- event.Event
	Logger        zerolog.Logger
}

func New(addr string, deps *Deps) *Server {
	s := &Server{
		deps:   deps,
		logger: deps.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", deps.HealthChecker.LivenessHandler)
	r.Get("/readyz", deps.HealthChecker.ReadinessHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/balances/{userID}", s.instrument("get_balance", s.handleGetBalance))
		r.Get("/troves/{asset}", s.instrument("list_troves", s.handleListTroves))
		r.Get("/troves/{asset}/{ownerID}", s.instrument("get_trove", s.handleGetTrove))
		r.Get("/pool", s.instrument("pool_stats", s.handlePoolStats))
		r.Get("/liquidations", s.instrument("liquidation_history", s.handleLiquidationHistory))
		r.Get("/journal/{userID}", s.instrument("journal_history", s.handleJournalHistory))
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/events/{eventType}", s.instrument("inject_event", s.handleInjectEvent))
		r.Post("/projections/rebuild", s.instrument("rebuild_projections", s.handleRebuildProjections))
		r.Get("/integrity", s.instrument("verify_integrity", s.handleVerifyIntegrity))
		r.Get("/eventlog", s.instrument("eventlog_info", s.handleEventLogInfo))
	})

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// instrument wraps a handler with request metrics.
func (s *Server) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r)
		if s.deps.Metrics != nil {
			s.deps.Metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(sw.status)).Inc()
			s.deps.Metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
			if sw.status >= 400 {
				s.deps.Metrics.QueryErrors.WithLabelValues(endpoint, strconv.Itoa(sw.status)).Inc()
			}
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

// --- Query handlers ---

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		asset = "ETH"
	}

	resp, err := s.deps.QueryService.GetBalance(r.Context(), userID, asset)
	if err != nil {
		s.logger.Error().Err(err).Msg("balance query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListTroves(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	limit := parseLimit(r, 100)

	troves, err := s.deps.QueryService.ListTroves(r.Context(), asset, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("trove list query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"troves": troves})
}

func (s *Server) handleGetTrove(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	ownerID, err := uuid.Parse(chi.URLParam(r, "ownerID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid owner id")
		return
	}

	trove, err := s.deps.QueryService.GetTrove(r.Context(), ownerID, asset)
	if err != nil {
		s.logger.Error().Err(err).Msg("trove query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if trove == nil {
		writeError(w, http.StatusNotFound, "trove not found")
		return
	}
	writeJSON(w, http.StatusOK, trove)
}

func (s *Server) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.QueryService.GetPoolStats(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("pool stats query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLiquidationHistory(w http.ResponseWriter, r *http.Request) {
	var ownerID *uuid.UUID
	if v := r.URL.Query().Get("owner"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid owner id")
			return
		}
		ownerID = &id
	}
	var asset *string
	if v := r.URL.Query().Get("asset"); v != "" {
		asset = &v
	}
	afterSeq := parseAfterSequence(r)
	limit := parseLimit(r, 50)

	history, err := s.deps.QueryService.GetLiquidationHistory(r.Context(), ownerID, asset, limit, afterSeq)
	if err != nil {
		s.logger.Error().Err(err).Msg("liquidation history query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"liquidations": history})
}

func (s *Server) handleJournalHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	afterSeq := parseAfterSequence(r)
	limit := parseLimit(r, 100)

	entries, err := s.deps.QueryService.GetJournalHistory(r.Context(), userID, limit, afterSeq)
	if err != nil {
		s.logger.Error().Err(err).Msg("journal history query failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"journals": entries})
}

// --- Admin handlers ---

// handleInjectEvent accepts a wire-format JSON payload and submits it to the
// core through the same parser the NATS path uses. Intended for operational
// backfill and testing, not as a primary ingest path.
func (s *Server) handleInjectEvent(w http.ResponseWriter, r *http.Request) {
	eventType := chi.URLParam(r, "eventType")

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body failed")
		return
	}

	raw := ingestion.RawEvent{
		Subject:   "admin.inject." + eventType,
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}

	evt, err := ingestion.ParseRawEvent(raw, eventType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	select {
	case s.deps.EventChan <- evt:
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"accepted":        true,
			"event_type":      eventType,
			"idempotency_key": evt.IdempotencyKey(),
		})
	case <-r.Context().Done():
		writeError(w, http.StatusServiceUnavailable, "event channel full")
	}
}

func (s *Server) handleRebuildProjections(w http.ResponseWriter, r *http.Request) {
	if err := projection.RebuildProjections(r.Context(), s.deps.DB, s.logger); err != nil {
		s.logger.Error().Err(err).Msg("projection rebuild failed")
		writeError(w, http.StatusInternalServerError, "rebuild failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rebuilt": true})
}

func (s *Server) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.QueryService.VerifyIntegrity(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("integrity check failed")
		writeError(w, http.StatusInternalServerError, "integrity check failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleEventLogInfo(w http.ResponseWriter, r *http.Request) {
	latestSeq, err := s.deps.SnapshotMgr.GetLatestSequence(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("event log info failed")
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"latest_sequence": latestSeq})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 1000 {
		return def
	}
	return n
}

func parseAfterSequence(r *http.Request) *int64 {
	v := r.URL.Query().Get("after")
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
