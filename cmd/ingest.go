package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/netsight/reconciled/internal/ingest"
	"github.com/netsight/reconciled/internal/resilience"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest observations from a JSONL file or stdin",
	Long:  "Reads one observation per line and feeds them through the conflict detector with concurrent workers and per-source rate limiting. Pass - (or no argument) to read stdin.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var reader io.Reader = os.Stdin
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return eris.Wrapf(err, "open %s", args[0])
			}
			defer f.Close() //nolint:errcheck
			reader = f
		}

		var dlq *resilience.DeadLetterLog
		if path, _ := cmd.Flags().GetString("dead-letter"); path != "" {
			dlq, err = resilience.OpenDeadLetterLog(path)
			if err != nil {
				return err
			}
			defer dlq.Close() //nolint:errcheck
		}

		runner := ingest.NewRunner(env.detector, cfg.Ingest, dlq)
		stats, err := runner.RunReader(ctx, reader)
		if err != nil {
			return err
		}

		zap.L().Info("ingest complete", zap.Int64("total", stats.Total()))
		formatIngestStats(os.Stdout, stats)

		if stats.Failed > 0 {
			return eris.Errorf("%d observations failed", stats.Failed)
		}
		return nil
	},
}

func formatIngestStats(w io.Writer, stats ingest.Stats) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush() //nolint:errcheck

	fmt.Fprintf(tw, "total\t%d\n", stats.Total())
	fmt.Fprintf(tw, "committed\t%d\n", stats.Committed)
	fmt.Fprintf(tw, "conflicts opened\t%d\n", stats.ConflictsOpened)
	fmt.Fprintf(tw, "conflicts updated\t%d\n", stats.ConflictsUpdated)
	fmt.Fprintf(tw, "quarantined\t%d\n", stats.Quarantined)
	fmt.Fprintf(tw, "duplicates\t%d\n", stats.Duplicates)
	fmt.Fprintf(tw, "invalid\t%d\n", stats.Invalid)
	fmt.Fprintf(tw, "failed\t%d\n", stats.Failed)
}

func init() {
	ingestCmd.Flags().String("dead-letter", "", "append observations that exhaust retries to this JSONL file")
	rootCmd.AddCommand(ingestCmd)
}
