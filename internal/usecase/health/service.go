package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Unhealthy indicates the trial store is unreachable.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
	// Finished and Budget are set when a progress reader is configured and reachable.
	Finished int
	Budget   int
}

// Service coordinates health checks.
type Service struct {
	store    StorePinger
	progress ProgressReader
}

// New creates a Service. progress can be nil.
func New(store StorePinger, progress ProgressReader) *Service {
	return &Service{store: store, progress: progress}
}

// Check pings the store and, when configured, reads the experiment progress.
func (s *Service) Check(ctx context.Context) Report {
	r := Report{Status: Healthy, Checks: make(map[string]CheckResult)}

	if err := s.store.Ping(ctx); err != nil {
		r.Checks["store"] = CheckError
		r.Status = Unhealthy
		return r
	}
	r.Checks["store"] = CheckOK

	if s.progress != nil {
		done, total, err := s.progress.Progress(ctx)
		if err != nil {
			r.Checks["experiment"] = CheckError
			r.Status = Unhealthy
			return r
		}
		r.Checks["experiment"] = CheckOK
		r.Finished, r.Budget = done, total
	}
	return r
}
