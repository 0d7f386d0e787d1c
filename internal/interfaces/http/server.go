package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/net/circuit"
	"github.com/sawpanic/tradegate/internal/scheduler"
	"github.com/sawpanic/tradegate/internal/telemetry"
)

// Server exposes the operational surface: health with breaker states, the
// prometheus scrape endpoint, and the recent decision log.
type Server struct {
	addr     string
	breakers *circuit.Manager
	store    *scheduler.Store
	metrics  *telemetry.Metrics
	started  time.Time
	httpSrv  *http.Server
}

// NewServer builds the server. store may be nil when the scan loop is not
// running in this process.
func NewServer(addr string, breakers *circuit.Manager, store *scheduler.Store, metrics *telemetry.Metrics) *Server {
	s := &Server{
		addr:     addr,
		breakers: breakers,
		store:    store,
		metrics:  metrics,
		started:  time.Now(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/decisions", s.handleDecisions).Methods(http.MethodGet)
	r.HandleFunc("/decisions/latest", s.handleLatest).Methods(http.MethodGet)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Run serves until the context ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("http server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

type healthResponse struct {
	Status   string            `json:"status"`
	Uptime   string            `json:"uptime"`
	Breakers map[string]string `json:"breakers"`
}

// handleHealth reports degraded when any breaker is not closed; a degraded
// process still serves, it just cannot promise fresh data.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	states := s.breakers.States()
	status := "ok"
	for _, st := range states {
		if st != "closed" {
			status = "degraded"
			break
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:   status,
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Breakers: states,
	})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scan loop not running"})
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, s.store.Recent(limit))
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scan loop not running"})
		return
	}
	writeJSON(w, http.StatusOK, s.store.Latest())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("response encode failed")
	}
}
