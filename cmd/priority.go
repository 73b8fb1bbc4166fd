package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/netsight/reconciled/internal/model"
)

var priorityCmd = &cobra.Command{
	Use:   "priority",
	Short: "Inspect and configure source trust",
}

var priorityGetCmd = &cobra.Command{
	Use:   "get <source-id>",
	Short: "Show the priority configuration for a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sp, err := env.registry.Get(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "priority get")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sp)
	},
}

var prioritySetCmd = &cobra.Command{
	Use:   "set <source-id>",
	Short: "Set the priority configuration for a source",
	Long:  "Registers or updates a source's trust configuration. Out-of-range values are rejected, never clamped.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		level, _ := cmd.Flags().GetInt("level")
		multiplier, _ := cmd.Flags().GetFloat64("multiplier")
		fields, _ := cmd.Flags().GetStringSlice("field")

		sp := model.SourcePriority{
			SourceID:             args[0],
			PriorityLevel:        level,
			ConfidenceMultiplier: multiplier,
		}
		for _, pair := range fields {
			name, raw, ok := strings.Cut(pair, "=")
			if !ok {
				return eris.Errorf("invalid --field %q, expected name=multiplier", pair)
			}
			m, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return eris.Errorf("invalid --field %q, expected name=multiplier", pair)
			}
			if sp.FieldPriorities == nil {
				sp.FieldPriorities = map[string]float64{}
			}
			sp.FieldPriorities[name] = m
		}

		if err := env.registry.Set(ctx, sp); err != nil {
			return eris.Wrap(err, "priority set")
		}

		fmt.Printf("priority for %s: level %d, multiplier %.2f\n",
			sp.SourceID, sp.PriorityLevel, sp.ConfidenceMultiplier)
		return nil
	},
}

func init() {
	prioritySetCmd.Flags().Int("level", model.DefaultPriorityLevel, "priority level (1-10, higher wins)")
	prioritySetCmd.Flags().Float64("multiplier", model.DefaultConfidenceMultiplier, "confidence multiplier (0.0-2.0)")
	prioritySetCmd.Flags().StringSlice("field", nil, "per-field multiplier override, name=multiplier (repeatable)")

	priorityCmd.AddCommand(priorityGetCmd)
	priorityCmd.AddCommand(prioritySetCmd)
	rootCmd.AddCommand(priorityCmd)
}
