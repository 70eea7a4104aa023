// Package search coordinates trials of one experiment through a shared trial store.
//
// Any number of coordinators, in one process or many, may run against the same
// experiment key. The store enforces the evaluation budget and hands every pending
// trial to exactly one of them.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/tuner/internal/domain"
	"github.com/kailas-cloud/tuner/internal/domain/space"
	"github.com/kailas-cloud/tuner/internal/logger"
	"github.com/kailas-cloud/tuner/internal/metrics"
)

// releaseTimeout bounds the store call that requeues an interrupted trial.
const releaseTimeout = 5 * time.Second

// Config holds the coordinator settings.
type Config struct {
	ExpKey       string
	MaxEvals     int
	MaxQueueLen  int
	PollInterval time.Duration
	// Workers is the number of loops run by this process.
	Workers int
	// Owner identifies this process in claimed trials.
	Owner string

	RetryAttempts uint
	RetryDelay    time.Duration
}

// Result is the outcome of a finished search.
type Result struct {
	Best  domain.Trial
	Stats domain.Stats
}

// Service runs the search loop.
type Service struct {
	store TrialStore
	opt   Optimizer
	obj   Objective
	space *space.Space
	cfg   Config
	now   func() time.Time
}

// New creates a coordinator.
func New(store TrialStore, opt Optimizer, obj Objective, s *space.Space, cfg Config) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxQueueLen <= 0 {
		cfg.MaxQueueLen = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	return &Service{store: store, opt: opt, obj: obj, space: s, cfg: cfg, now: time.Now}
}

// Run drives the search until the experiment has MaxEvals finished trials and returns
// the best successful one. Trial failures are recorded in the store and never returned.
func (s *Service) Run(ctx context.Context) (Result, error) {
	ctx, _ = logger.With(ctx, zap.String("exp_key", s.cfg.ExpKey))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		owner := s.cfg.Owner
		if s.cfg.Workers > 1 {
			owner = fmt.Sprintf("%s/%d", s.cfg.Owner, i)
		}
		g.Go(func() error {
			return s.loop(gctx, owner)
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	trials, err := s.list(ctx)
	if err != nil {
		return Result{}, err
	}
	res := Result{Stats: domain.Summarize(trials)}
	best, ok := domain.Best(trials)
	if !ok {
		return res, domain.ErrNoSuccessfulTrials
	}
	res.Best = best
	return res, nil
}

// Progress returns the number of finished trials and the evaluation budget.
func (s *Service) Progress(ctx context.Context) (finished, budget int, err error) {
	trials, err := s.store.List(ctx, s.cfg.ExpKey)
	if err != nil {
		return 0, 0, err
	}
	return domain.Summarize(trials).Finished(), s.cfg.MaxEvals, nil
}

func (s *Service) loop(ctx context.Context, owner string) error {
	ctx, log := logger.With(ctx, zap.String("owner", owner))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		trials, err := s.list(ctx)
		if err != nil {
			return err
		}
		st := domain.Summarize(trials)
		if best, ok := domain.Best(trials); ok {
			metrics.BestLoss.WithLabelValues(s.cfg.ExpKey).Set(best.Loss)
		}
		if st.Finished() >= s.cfg.MaxEvals {
			log.Debug("budget spent", zap.Int("finished", st.Finished()))
			return nil
		}

		if st.Created < s.cfg.MaxEvals && st.Outstanding() < s.cfg.MaxQueueLen {
			if err := s.propose(ctx, trials); err != nil {
				return err
			}
		}

		t, err := s.claim(ctx, owner)
		switch {
		case errors.Is(err, domain.ErrNoPendingTrial):
			if err := s.wait(ctx); err != nil {
				return err
			}
			continue
		case err != nil:
			return err
		}

		if err := s.evaluate(ctx, t); err != nil {
			return err
		}
	}
}

func (s *Service) propose(ctx context.Context, history []domain.Trial) error {
	p := s.opt.Suggest(s.space, history)
	var t domain.Trial
	err := s.retry(ctx, "insert", func() error {
		var err error
		t, err = s.store.Insert(ctx, s.cfg.ExpKey, p, s.cfg.MaxEvals)
		return err
	})
	switch {
	case errors.Is(err, domain.ErrBudgetExhausted):
		return nil
	case err != nil:
		return err
	}
	logger.FromContext(ctx).Debug("trial proposed", zap.Int64("trial_id", t.ID))
	return nil
}

func (s *Service) claim(ctx context.Context, owner string) (domain.Trial, error) {
	var t domain.Trial
	err := s.retry(ctx, "claim", func() error {
		var err error
		t, err = s.store.Claim(ctx, s.cfg.ExpKey, owner)
		return err
	})
	return t, err
}

// evaluate runs a claimed trial and records its outcome. Only store failures and
// cancellation are returned. A cancelled trial goes back to the pending queue.
func (s *Service) evaluate(ctx context.Context, t domain.Trial) error {
	tctx, log := logger.WithTrial(ctx, t.ID)
	log.Info("trial started", zap.Any("assignment", t.Assignment))

	inFlight := metrics.TrialsInFlight.WithLabelValues(s.cfg.ExpKey)
	inFlight.Inc()
	loss, evalErr := s.obj.Evaluate(tctx, t.Assignment)
	inFlight.Dec()

	if err := ctx.Err(); err != nil {
		log.Warn("trial interrupted", zap.Error(err))
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if rerr := s.store.Release(rctx, s.cfg.ExpKey, t.ID); rerr != nil {
			log.Error("release trial", zap.Error(rerr))
		}
		return err
	}

	if evalErr == nil && (math.IsNaN(loss) || math.IsInf(loss, 0)) {
		evalErr = domain.NewTrialError(domain.TrialErrorParse, domain.PhaseEval, fmt.Errorf("loss %v is not finite", loss))
		loss = 0
	}
	out := domain.Outcome{Loss: loss, Finished: s.now()}
	if evalErr != nil {
		if domain.TrialErrorKindOf(evalErr) == "" {
			evalErr = domain.NewTrialError(domain.TrialErrorProcess, "", evalErr)
		}
		out.Err = evalErr
		kind := domain.TrialErrorKindOf(evalErr)
		metrics.TrialsTotal.WithLabelValues(s.cfg.ExpKey, string(domain.TrialErrored), string(kind)).Inc()
		log.Warn("trial failed", zap.String("error_kind", string(kind)), zap.Error(evalErr))
	} else {
		metrics.TrialsTotal.WithLabelValues(s.cfg.ExpKey, string(domain.TrialDone), "").Inc()
		log.Info("trial done", zap.Float64("loss", loss))
	}

	err := s.retry(ctx, "complete", func() error {
		return s.store.Complete(ctx, s.cfg.ExpKey, t.ID, out)
	})
	if errors.Is(err, domain.ErrTrialNotFound) {
		log.Warn("trial vanished before completion")
		return nil
	}
	return err
}

func (s *Service) list(ctx context.Context) ([]domain.Trial, error) {
	var trials []domain.Trial
	err := s.retry(ctx, "list", func() error {
		var err error
		trials, err = s.store.List(ctx, s.cfg.ExpKey)
		return err
	})
	return trials, err
}

// retry runs fn with exponential backoff. Domain sentinels returned by the store are
// answers, not failures, and pass through untouched.
func (s *Service) retry(ctx context.Context, op string, fn func() error) error {
	err := retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(s.cfg.RetryAttempts),
		retry.Delay(s.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			metrics.StoreRetriesTotal.WithLabelValues(op).Inc()
			logger.FromContext(ctx).Warn("store operation failed, retrying",
				zap.String("op", op), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err == nil || !isTransient(err) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}

func isTransient(err error) bool {
	switch {
	case errors.Is(err, domain.ErrBudgetExhausted),
		errors.Is(err, domain.ErrNoPendingTrial),
		errors.Is(err, domain.ErrTrialNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func (s *Service) wait(ctx context.Context) error {
	t := time.NewTimer(s.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
