package tuner

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/tuner/internal/config"
	"github.com/kailas-cloud/tuner/internal/domain"
	"github.com/kailas-cloud/tuner/internal/domain/command"
	"github.com/kailas-cloud/tuner/internal/domain/space"
	"github.com/kailas-cloud/tuner/internal/optimizer"
	"github.com/kailas-cloud/tuner/internal/repository/trialstore"
	"github.com/kailas-cloud/tuner/internal/transport/process"
	healthuc "github.com/kailas-cloud/tuner/internal/usecase/health"
	"github.com/kailas-cloud/tuner/internal/usecase/objective"
	"github.com/kailas-cloud/tuner/internal/usecase/search"
)

type (
	// Space is a validated parameter space.
	Space = space.Space
	// Assignment is an ordered set of parameter values.
	Assignment = domain.Assignment
	// Value is a single parameter value.
	Value = domain.Value
	// Trial is one evaluated (or pending) assignment.
	Trial = domain.Trial
	// Stats counts the trials of an experiment by state.
	Stats = domain.Stats
)

// ParseSpace parses a YAML or JSON space document.
func ParseSpace(data []byte) (*Space, error) {
	s, err := space.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return s, nil
}

// Objective scores an assignment. Lower is better unless the search maximizes.
type Objective interface {
	Evaluate(ctx context.Context, a Assignment) (float64, error)
}

// Func adapts a function to the Objective interface.
type Func func(ctx context.Context, a Assignment) (float64, error)

// Evaluate calls f.
func (f Func) Evaluate(ctx context.Context, a Assignment) (float64, error) { return f(ctx, a) }

// CommandObjective runs an external train command and an eval command per trial.
type CommandObjective struct {
	templates command.Templates
	workdir   string
	timeout   time.Duration
}

// Commands builds an objective from command templates. The train command runs as
// "<train> <trainArgs> --name value ..."; the eval command prints the result.
func Commands(train, trainArgs, eval string) *CommandObjective {
	return &CommandObjective{templates: command.Templates{Train: train, TrainArgs: trainArgs, Eval: eval}}
}

// InDir sets the working directory of both commands.
func (o *CommandObjective) InDir(dir string) *CommandObjective {
	o.workdir = dir
	return o
}

// WithTimeout bounds each trial.
func (o *CommandObjective) WithTimeout(d time.Duration) *CommandObjective {
	o.timeout = d
	return o
}

// Evaluate runs both commands for a and parses the eval output.
func (o *CommandObjective) Evaluate(ctx context.Context, a Assignment) (float64, error) {
	return o.service("", false).Evaluate(ctx, a)
}

func (o *CommandObjective) service(exp string, maximize bool) *objective.Service {
	return objective.New(o.templates, process.New(), objective.Config{
		ExpKey:       exp,
		Workdir:      o.workdir,
		Maximize:     maximize,
		TrialTimeout: o.timeout,
	})
}

// funcObjective negates a Go objective's score when maximizing and keeps failures
// per-trial.
type funcObjective struct {
	inner    Objective
	maximize bool
}

func (f funcObjective) Evaluate(ctx context.Context, a Assignment) (float64, error) {
	v, err := f.inner.Evaluate(ctx, a)
	if err != nil {
		if ctx.Err() != nil {
			return 0, err
		}
		if domain.TrialErrorKindOf(err) == "" {
			err = domain.NewTrialError(domain.TrialErrorProcess, domain.PhaseEval, err)
		}
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, domain.NewTrialError(domain.TrialErrorParse, domain.PhaseEval, fmt.Errorf("objective returned %v", v))
	}
	if f.maximize {
		v = -v
	}
	return v, nil
}

// Result is the outcome of a finished search.
type Result struct {
	Best Trial
	// Score is the best objective value as the objective reported it.
	Score float64
	Stats Stats
}

// Client is the tuner library entry point.
type Client struct {
	store     trialstore.Store
	closer    func()
	healthSvc healthUseCase
	cfg       *clientConfig
	obs       *observer
}

// New creates a Client and connects to the trial store.
// The provided context is used for the initial readiness check.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{driver: config.DriverMemory}
	for _, o := range opts {
		o.apply(cfg)
	}
	if cfg.owner == "" {
		cfg.owner = "tuner-" + uuid.NewString()[:8]
	}

	storeCfg := config.StoreConfig{Driver: cfg.driver, DB: cfg.db, Password: cfg.password}
	switch cfg.driver {
	case config.DriverRedis:
		if len(cfg.addrs) == 0 || cfg.addrs[0] == "" {
			return nil, fmt.Errorf("%w: redis address required", ErrConfig)
		}
		storeCfg.Addr = cfg.addrs[0]
	case config.DriverSQLite:
		if cfg.path == "" {
			return nil, fmt.Errorf("%w: sqlite path required", ErrConfig)
		}
		storeCfg.Addr = cfg.path
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	store, closer, err := trialstore.Open(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("tuner: %w", err)
	}
	return &Client{
		store:     store,
		closer:    closer,
		healthSvc: healthuc.New(store, nil),
		cfg:       cfg,
		obs:       obs,
	}, nil
}

// Close releases the trial store.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Search runs trials of experiment exp until it has the requested number of finished
// trials, cooperating with every other client on the same store and key. It returns
// ErrNoSuccessfulTrials when none succeeded.
func (c *Client) Search(ctx context.Context, exp string, s *Space, obj Objective, opts ...SearchOption) (res Result, err error) {
	start := time.Now()
	defer func() { c.obs.observe("search", start, err, "exp_key", exp) }()

	sc := searchConfig{maxEvals: 40, maxQueueLen: 20}
	for _, o := range opts {
		o(&sc)
	}
	if err := domain.ValidateExpKey(exp); err != nil {
		return Result{}, err
	}
	if s == nil || obj == nil {
		return Result{}, fmt.Errorf("%w: space and objective are required", ErrConfig)
	}

	var evaluator search.Objective
	switch o := obj.(type) {
	case *CommandObjective:
		if _, err := o.templates.CheckRunID(s); err != nil {
			return Result{}, err
		}
		evaluator = o.service(exp, sc.maximize)
	default:
		evaluator = funcObjective{inner: obj, maximize: sc.maximize}
	}

	opt, err := optimizer.New(optimizer.Config{Seed: c.cfg.seed, Acquisition: c.cfg.acquisition})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	out, err := search.New(c.store, opt, evaluator, s, search.Config{
		ExpKey:       exp,
		MaxEvals:     sc.maxEvals,
		MaxQueueLen:  sc.maxQueueLen,
		PollInterval: c.cfg.pollInterval,
		Workers:      c.cfg.workers,
		Owner:        c.cfg.owner,
	}).Run(ctx)

	res = Result{Best: out.Best, Stats: out.Stats, Score: out.Best.Loss}
	if sc.maximize {
		res.Score = -res.Score
	}
	return res, err
}

// Trials returns every trial of experiment exp in creation order.
func (c *Client) Trials(ctx context.Context, exp string) (trials []Trial, err error) {
	start := time.Now()
	defer func() { c.obs.observe("trials", start, err, "exp_key", exp) }()

	if err = domain.ValidateExpKey(exp); err != nil {
		return nil, err
	}
	trials, err = c.store.List(ctx, exp)
	if err != nil {
		return nil, fmt.Errorf("list trials: %w", err)
	}
	return trials, nil
}

// Reset deletes every trial of experiment exp.
func (c *Client) Reset(ctx context.Context, exp string) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("reset", start, err, "exp_key", exp) }()

	if err = domain.ValidateExpKey(exp); err != nil {
		return err
	}
	if err = c.store.Reset(ctx, exp); err != nil {
		return fmt.Errorf("reset %s: %w", exp, err)
	}
	return nil
}

// Ping checks trial store connectivity.
func (c *Client) Ping(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("ping", start, err) }()

	if err = c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}
