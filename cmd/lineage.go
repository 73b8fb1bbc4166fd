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
	"github.com/netsight/reconciled/internal/store"
)

var lineageCmd = &cobra.Command{
	Use:   "lineage <entity-id>",
	Short: "Show the observation ledger for an entity",
	Long:  "Lists every observation recorded for an entity in arrival order, including quarantined and synthetic entries. Use --after-seq to continue a previous page.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		field, _ := cmd.Flags().GetString("field")
		afterSeq, _ := cmd.Flags().GetInt64("after-seq")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := env.ledger.History(ctx, store.LineageQuery{
			EntityID:  args[0],
			FieldName: field,
			AfterSeq:  afterSeq,
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "lineage")
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No lineage entries found.")
			return nil
		}

		formatLineage(os.Stdout, entries)
		return nil
	},
}

func formatLineage(w io.Writer, entries []model.LineageEntry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush() //nolint:errcheck

	fmt.Fprintln(tw, "SEQ\tFIELD\tSOURCE\tVALUE\tCONF\tOBSERVED\tFLAGS")
	for _, e := range entries {
		flags := ""
		if e.Quarantined {
			flags = "quarantined"
		}
		if e.Synthetic {
			flags = "synthetic"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.2f\t%s\t%s\n",
			e.Seq, e.Observation.FieldName, e.Observation.SourceID,
			model.FormatValue(e.Observation.Value), e.Observation.Confidence,
			e.Observation.ObservedAt.Format(time.RFC3339), flags)
	}
}

func init() {
	lineageCmd.Flags().String("field", "", "restrict to one field")
	lineageCmd.Flags().Int64("after-seq", 0, "continue after this sequence number")
	lineageCmd.Flags().Int("limit", 100, "max number of entries to display")
	rootCmd.AddCommand(lineageCmd)
}
