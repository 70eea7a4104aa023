package cli

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/tuner/internal/config"
	"github.com/kailas-cloud/tuner/internal/domain/command"
	"github.com/kailas-cloud/tuner/internal/repository/spaceloader"
	"github.com/kailas-cloud/tuner/internal/transport/process"
)

func newRenderCommand(o *Options) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Sample assignments and print the commands a trial would run",
		Long: `Render samples assignments from the space at random and prints the train and
eval command lines each trial would run, without running them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(o.ConfigPath, cmd.Flags())
			if err != nil {
				return err
			}
			ctx, log, err := newLogger(cmd.Context(), cfg.Logging.Level)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			sp, err := spaceloader.New(process.New(), 0).Load(ctx, cfg.Search.Space)
			if err != nil {
				return err
			}
			templates := command.Templates{
				Train:     cfg.Search.TrainCommand,
				TrainArgs: cfg.Search.TrainArguments,
				Eval:      cfg.Search.EvalCommand,
			}
			if _, err := templates.CheckRunID(sp); err != nil {
				return err
			}

			seed := cfg.Optimizer.Seed
			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			rng := rand.New(rand.NewSource(seed))

			out := cmd.OutOrStdout()
			for i := 0; i < count; i++ {
				a, _ := sp.Sample(rng)
				r := templates.Render(a)
				assignment, err := json.Marshal(a)
				if err != nil {
					return err
				}
				if i > 0 {
					_, _ = fmt.Fprintln(out)
				}
				_, _ = fmt.Fprintf(out, "assignment: %s\n", assignment)
				_, _ = fmt.Fprintf(out, "train:      %s\n", r.Train)
				_, _ = fmt.Fprintf(out, "eval:       %s\n", r.Eval)
			}
			return nil
		},
	}

	config.RegisterSearchFlags(cmd.Flags())
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of assignments to sample")
	return cmd
}
