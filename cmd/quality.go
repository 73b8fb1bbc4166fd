package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/netsight/reconciled/internal/model"
	"github.com/netsight/reconciled/internal/quality"
	"github.com/netsight/reconciled/internal/store"
)

var qualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Evaluate and inspect source quality metrics",
}

// -- quality evaluate --

var qualityEvaluateCmd = &cobra.Command{
	Use:   "evaluate [source-id]",
	Short: "Compute quality metrics now",
	Long:  "Evaluates quality metrics over the configured lookback window, for one source or for all known sources, and appends them to the metric time series.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		calc := quality.NewCalculator(env.store, env.catalog, cfg.Quality)

		var metrics []model.QualityMetric
		if len(args) == 1 {
			metrics, err = calc.Evaluate(ctx, args[0])
			if err == nil && len(metrics) > 0 {
				err = env.store.InsertQualityMetrics(ctx, metrics)
			}
		} else {
			metrics, err = calc.EvaluateAll(ctx)
		}
		if err != nil {
			return eris.Wrap(err, "quality evaluate")
		}

		if len(metrics) == 0 {
			fmt.Fprintln(os.Stderr, "No observations in the evaluation window.")
			return nil
		}

		formatMetrics(os.Stdout, metrics)
		return nil
	},
}

// -- quality list --

var qualityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded quality metrics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		source, _ := cmd.Flags().GetString("source")
		metricType, _ := cmd.Flags().GetString("type")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.MetricFilter{
			SourceID: source,
			Type:     model.MetricType(metricType),
			Limit:    limit,
		}
		if filter.Type != "" && !model.ValidMetricType(filter.Type) {
			return eris.Errorf("unknown metric type %q", metricType)
		}
		if since > 0 {
			filter.Since = time.Now().UTC().Add(-since)
		}

		metrics, err := env.store.ListQualityMetrics(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "quality list")
		}

		if len(metrics) == 0 {
			fmt.Fprintln(os.Stderr, "No metrics found.")
			return nil
		}

		formatMetrics(os.Stdout, metrics)
		return nil
	},
}

func formatMetrics(w io.Writer, metrics []model.QualityMetric) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush() //nolint:errcheck

	fmt.Fprintln(tw, "SOURCE\tMETRIC\tSCORE\tCALCULATED")
	for _, m := range metrics {
		fmt.Fprintf(tw, "%s\t%s\t%.1f\t%s\n",
			m.SourceID, m.Type, m.Value, m.CalculatedAt.Format(time.RFC3339))
	}
}

func init() {
	qualityListCmd.Flags().String("source", "", "filter by source id")
	qualityListCmd.Flags().String("type", "", "filter by metric type (accuracy, completeness, consistency, timeliness, validity)")
	qualityListCmd.Flags().Duration("since", 0, "only metrics calculated within this window (e.g. 24h)")
	qualityListCmd.Flags().Int("limit", 100, "max number of metrics to display")

	qualityCmd.AddCommand(qualityEvaluateCmd)
	qualityCmd.AddCommand(qualityListCmd)
	rootCmd.AddCommand(qualityCmd)
}
