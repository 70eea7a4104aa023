// Package cli implements the tuner command line.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/tuner/internal/config"
	"github.com/kailas-cloud/tuner/internal/domain"
	"github.com/kailas-cloud/tuner/internal/logger"
)

// Options holds state shared by all commands.
type Options struct {
	// ConfigPath is the optional YAML configuration file.
	ConfigPath string
}

// NewRootCommand creates the top-level tuner command. Without a subcommand it runs a search.
func NewRootCommand() *cobra.Command {
	o := &Options{}

	root := &cobra.Command{
		Use:   "tuner",
		Short: "Distributed hyperparameter search over external train and eval commands",
		Long: `tuner searches a parameter space for the assignment that minimizes (or, with
--maximize, maximizes) the number printed by an evaluation command. Each trial runs
the training command with the assignment rendered as --name value flags, then the
evaluation command. Any number of tuner processes sharing a trial store and an
experiment key cooperate on one search.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          o.runSearch,
	}

	root.PersistentFlags().StringVar(&o.ConfigPath, "config", "", "YAML configuration file (${VAR:-default} expanded)")
	config.RegisterGlobalFlags(root.PersistentFlags())
	config.RegisterSearchFlags(root.Flags())
	config.RegisterRunFlags(root.Flags())

	root.AddCommand(
		newRunCommand(o),
		newRenderCommand(o),
		newTrialsCommand(o),
		newVersionCommand(),
	)
	return root
}

// newLogger builds the process logger and stores it in ctx.
func newLogger(ctx context.Context, level string) (context.Context, *zap.Logger, error) {
	log, err := logger.NewLogger(config.GetEnv(), level)
	if err != nil {
		return ctx, nil, fmt.Errorf("%w: %w", domain.ErrConfig, err)
	}
	return logger.ContextWithLogger(ctx, log), log, nil
}
