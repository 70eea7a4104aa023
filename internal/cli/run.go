package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/tuner/internal/config"
	"github.com/kailas-cloud/tuner/internal/domain"
	"github.com/kailas-cloud/tuner/internal/domain/command"
	"github.com/kailas-cloud/tuner/internal/logger"
	"github.com/kailas-cloud/tuner/internal/metrics"
	"github.com/kailas-cloud/tuner/internal/optimizer"
	"github.com/kailas-cloud/tuner/internal/repository/spaceloader"
	"github.com/kailas-cloud/tuner/internal/repository/trialstore"
	chiTransport "github.com/kailas-cloud/tuner/internal/transport/chi"
	"github.com/kailas-cloud/tuner/internal/transport/process"
	"github.com/kailas-cloud/tuner/internal/usecase/health"
	"github.com/kailas-cloud/tuner/internal/usecase/objective"
	"github.com/kailas-cloud/tuner/internal/usecase/search"
	"github.com/kailas-cloud/tuner/internal/version"
)

func newRunCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a search (the default command)",
		Example: `  tuner run --space builtin:mlp \
    --train-command "python train.py" --train-arguments "--data data/" \
    --eval-command "python eval.py" --max-evals 40`,
		Args: cobra.NoArgs,
		RunE: o.runSearch,
	}
	config.RegisterSearchFlags(cmd.Flags())
	config.RegisterRunFlags(cmd.Flags())
	return cmd
}

// bestResult is printed on stdout when a search finishes.
type bestResult struct {
	TrialID    int64             `json:"trial_id"`
	Loss       float64           `json:"loss"`
	Score      float64           `json:"score"`
	Assignment domain.Assignment `json:"assignment"`
	Done       int               `json:"done"`
	Failed     int               `json:"failed"`
}

func (o *Options) runSearch(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(o.ConfigPath, cmd.Flags())
	if err != nil {
		return err
	}
	ctx, log, err := newLogger(cmd.Context(), cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting tuner",
		zap.String("version", version.Version),
		zap.String("exp_key", cfg.Search.ExpKey),
		zap.String("store_driver", cfg.Store.Driver),
		zap.Int("max_evals", cfg.Search.MaxEvals),
		zap.Int("max_queue_len", cfg.Search.MaxQueueLen),
		zap.Int("workers", cfg.Search.Workers),
	)

	res, err := runSearch(ctx, cfg, cmd.ErrOrStderr())
	if err != nil && !errors.Is(err, domain.ErrNoSuccessfulTrials) {
		return err
	}
	if err != nil {
		log.Error("No trial succeeded", zap.Int("failed", res.Stats.Errored))
		return err
	}
	return printBest(cmd.OutOrStdout(), res, cfg.Search.Maximize)
}

// runSearch wires the components from cfg and runs the coordinator until the budget is
// spent. Process output of the trials goes to procOut.
func runSearch(ctx context.Context, cfg config.Config, procOut io.Writer) (search.Result, error) {
	runner := process.New(process.WithOutput(procOut, procOut))

	sp, err := spaceloader.New(runner, 0).Load(ctx, cfg.Search.Space)
	if err != nil {
		return search.Result{}, err
	}

	templates := command.Templates{
		Train:     cfg.Search.TrainCommand,
		TrainArgs: cfg.Search.TrainArguments,
		Eval:      cfg.Search.EvalCommand,
	}
	unused, err := templates.CheckRunID(sp)
	if err != nil {
		return search.Result{}, err
	}
	if unused {
		logger.FromContext(ctx).Warn("space declares run_id but no command uses " + command.Placeholder)
	}

	opt, err := optimizer.New(optimizer.Config{
		InitialSamples: cfg.Optimizer.InitialSamples,
		Candidates:     cfg.Optimizer.Candidates,
		Acquisition:    cfg.Optimizer.Acquisition,
		Seed:           cfg.Optimizer.Seed,
	})
	if err != nil {
		return search.Result{}, fmt.Errorf("%w: %w", domain.ErrConfig, err)
	}

	store, closeStore, err := trialstore.Open(ctx, cfg.Store)
	if err != nil {
		return search.Result{}, err
	}
	defer closeStore()

	metrics.RegisterTrialMetrics()

	obj := objective.New(templates, runner, objective.Config{
		ExpKey:       cfg.Search.ExpKey,
		Workdir:      cfg.Search.Workdir,
		Maximize:     cfg.Search.Maximize,
		TrialTimeout: cfg.Search.TrialTimeout,
	})
	svc := search.New(store, opt, obj, sp, search.Config{
		ExpKey:       cfg.Search.ExpKey,
		MaxEvals:     cfg.Search.MaxEvals,
		MaxQueueLen:  cfg.Search.MaxQueueLen,
		PollInterval: cfg.Search.PollInterval,
		Workers:      cfg.Search.Workers,
		Owner:        ownerID(),
	})

	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	if cfg.Metrics.Addr != "" {
		metrics.RegisterHTTPMetrics()
		srv := chiTransport.NewServer(health.New(store, svc), store, cfg.Search.ExpKey, logger.FromContext(ctx))
		g.Go(func() error {
			return chiTransport.Serve(serverCtx, cfg.Metrics.Addr, srv.Router(cfg.Metrics.APIKeys), logger.FromContext(ctx))
		})
	}

	var res search.Result
	g.Go(func() error {
		defer stopServer()
		var err error
		res, err = svc.Run(gctx)
		return err
	})
	err = g.Wait()
	return res, err
}

func printBest(w io.Writer, res search.Result, maximize bool) error {
	score := res.Best.Loss
	if maximize {
		score = -score
	}
	enc := json.NewEncoder(w)
	return enc.Encode(bestResult{
		TrialID:    res.Best.ID,
		Loss:       res.Best.Loss,
		Score:      score,
		Assignment: res.Best.Assignment,
		Done:       res.Stats.Done,
		Failed:     res.Stats.Errored,
	})
}

// ownerID names this process in claimed trials.
func ownerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "tuner"
	}
	return host + "-" + uuid.NewString()[:8]
}
