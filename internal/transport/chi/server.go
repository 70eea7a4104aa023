// Package chi serves the optional HTTP surface of a running search: health, Prometheus
// metrics and a read-only view of the experiment's trials.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/tuner/internal/domain"
	"github.com/kailas-cloud/tuner/internal/metrics"
	healthuc "github.com/kailas-cloud/tuner/internal/usecase/health"
)

// TrialLister reads the trials of an experiment.
type TrialLister interface {
	List(ctx context.Context, exp string) ([]domain.Trial, error)
}

// Server handles the HTTP endpoints.
type Server struct {
	health *healthuc.Service
	trials TrialLister
	expKey string
	logger *zap.Logger
}

// NewServer creates an HTTP server for one experiment.
func NewServer(health *healthuc.Service, trials TrialLister, expKey string, logger *zap.Logger) *Server {
	return &Server{health: health, trials: trials, expKey: expKey, logger: logger}
}

// Router builds the chi router with middleware. apiKeys protect /trials when non-empty.
func (s *Server) Router(apiKeys []string) http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(BearerAuthMiddleware(apiKeys))
	r.Use(metrics.Middleware())

	r.Get("/healthz", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	r.Get("/trials", s.ListTrials)
	r.Get("/trials/best", s.BestTrial)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
	})
	return r
}

// HealthCheck handles GET /healthz.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status:   string(report.Status),
		Checks:   checks,
		Finished: report.Finished,
		Budget:   report.Budget,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// ListTrials handles GET /trials. The optional state query parameter filters by state.
func (s *Server) ListTrials(w http.ResponseWriter, r *http.Request) {
	trials, err := s.trials.List(r.Context(), s.expKey)
	if err != nil {
		s.handleStoreError(w, err)
		return
	}

	state := domain.TrialState(r.URL.Query().Get("state"))
	switch state {
	case "", domain.TrialNew, domain.TrialRunning, domain.TrialDone, domain.TrialErrored:
	default:
		writeError(w, http.StatusBadRequest, codeBadRequest, "unknown state "+string(state))
		return
	}

	items := make([]trialResponse, 0, len(trials))
	for i := range trials {
		if state != "" && trials[i].State != state {
			continue
		}
		items = append(items, trialToResponse(&trials[i]))
	}
	writeJSON(w, http.StatusOK, trialListResponse{ExpKey: s.expKey, Items: items})
}

// BestTrial handles GET /trials/best.
func (s *Server) BestTrial(w http.ResponseWriter, r *http.Request) {
	trials, err := s.trials.List(r.Context(), s.expKey)
	if err != nil {
		s.handleStoreError(w, err)
		return
	}
	best, ok := domain.Best(trials)
	if !ok {
		writeError(w, http.StatusNotFound, codeNotFound, "no successful trial yet")
		return
	}
	writeJSON(w, http.StatusOK, trialToResponse(&best))
}

func (s *Server) handleStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Error("list trials failed", zap.Error(err))
	writeError(w, http.StatusServiceUnavailable, codeStoreUnavailable, "trial store unavailable")
}

// Serve runs an HTTP server on addr until ctx is done, then shuts it down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
		return err
	}
	logger.Info("HTTP server stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}
