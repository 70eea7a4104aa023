// Package objective turns an assignment into a loss by running the train command
// followed by the eval command.
package objective

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/tuner/internal/domain"
	"github.com/kailas-cloud/tuner/internal/domain/command"
	"github.com/kailas-cloud/tuner/internal/logger"
	"github.com/kailas-cloud/tuner/internal/metrics"
	"github.com/kailas-cloud/tuner/internal/transport/process"
)

// Config holds the immutable evaluation settings.
type Config struct {
	ExpKey string
	// Workdir is the working directory of both commands.
	Workdir  string
	Maximize bool
	// TrialTimeout bounds train plus eval. Zero means no limit.
	TrialTimeout time.Duration
}

// Service evaluates assignments.
type Service struct {
	templates command.Templates
	runner    Runner
	cfg       Config
}

// New creates an objective. templates are copied and never modified.
func New(templates command.Templates, runner Runner, cfg Config) *Service {
	return &Service{templates: templates, runner: runner, cfg: cfg}
}

// Evaluate runs one trial and returns its loss: the eval output, negated when
// maximizing. Failures are *domain.TrialError values.
func (s *Service) Evaluate(ctx context.Context, a domain.Assignment) (float64, error) {
	if s.cfg.TrialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TrialTimeout)
		defer cancel()
	}

	r := s.templates.Render(a)
	log := logger.FromContext(ctx)
	if r.RunID != "" {
		log = log.With(zap.String("run_id", r.RunID))
	}

	log.Info("train", zap.String("command", r.Train))
	if _, err := s.run(ctx, domain.PhaseTrain, r.TrainArgv(), false); err != nil {
		return 0, err
	}

	log.Info("eval", zap.String("command", r.Eval))
	res, err := s.run(ctx, domain.PhaseEval, r.EvalArgv(), true)
	if err != nil {
		return 0, err
	}

	loss, err := ParseResult(res.Stdout)
	if err != nil {
		return 0, domain.NewTrialError(domain.TrialErrorParse, domain.PhaseEval, err)
	}
	if s.cfg.Maximize {
		loss = -loss
	}
	return loss, nil
}

func (s *Service) run(ctx context.Context, phase domain.Phase, argv []string, capture bool) (process.Result, error) {
	res, err := s.runner.Run(ctx, process.Request{Argv: argv, Dir: s.cfg.Workdir, Capture: capture})
	metrics.TrialPhaseDuration.WithLabelValues(s.cfg.ExpKey, string(phase)).Observe(res.Duration.Seconds())
	if err == nil {
		return res, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return res, domain.NewTrialError(domain.TrialErrorTimeout, phase, err)
	}
	return res, domain.NewTrialError(domain.TrialErrorProcess, phase, err)
}

// ParseResult reads the eval output: a single finite number, surrounding whitespace ignored.
func ParseResult(out []byte) (float64, error) {
	text := strings.TrimSpace(string(out))
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("eval output %q: %w", abbreviate(text, 80), err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("eval output %q is not a finite number", text)
	}
	return v, nil
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
