package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/tuner/internal/config"
	"github.com/kailas-cloud/tuner/internal/domain"
	"github.com/kailas-cloud/tuner/internal/repository/trialstore"
)

func newTrialsCommand(o *Options) *cobra.Command {
	var (
		reset  bool
		output string
	)

	cmd := &cobra.Command{
		Use:   "trials",
		Short: "List the trials of an experiment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output != "table" && output != "json" {
				return domain.Configf("--output must be table or json, got %q", output)
			}
			cfg, err := config.LoadStore(o.ConfigPath, cmd.Flags())
			if err != nil {
				return err
			}
			ctx, log, err := newLogger(cmd.Context(), cfg.Logging.Level)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			store, closeStore, err := trialstore.Open(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer closeStore()

			if reset {
				if err := store.Reset(ctx, cfg.Search.ExpKey); err != nil {
					return fmt.Errorf("reset experiment %s: %w", cfg.Search.ExpKey, err)
				}
				log.Info("Experiment reset", zap.String("exp_key", cfg.Search.ExpKey))
				return nil
			}

			trials, err := store.List(ctx, cfg.Search.ExpKey)
			if err != nil {
				return fmt.Errorf("list trials: %w", err)
			}
			if output == "json" {
				if trials == nil {
					trials = []domain.Trial{}
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(trials)
			}
			return printTrials(cmd.OutOrStdout(), trials)
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "delete every trial of the experiment")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table or json")
	return cmd
}

func printTrials(w io.Writer, trials []domain.Trial) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tSTATE\tLOSS\tOWNER\tASSIGNMENT\tERROR")
	for i := range trials {
		t := &trials[i]
		loss := "-"
		if t.State == domain.TrialDone {
			loss = strconv.FormatFloat(t.Loss, 'g', 6, 64)
		}
		assignment, err := json.Marshal(t.Assignment)
		if err != nil {
			return err
		}
		errText := ""
		if t.State == domain.TrialErrored {
			errText = string(t.ErrorKind) + ": " + t.Error
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.State, loss, t.Owner, assignment, errText)
	}
	return tw.Flush()
}
