package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aretw0/transmute/internal/presentation/tui"
	"github.com/aretw0/transmute/pkg/planner"
	"github.com/aretw0/transmute/pkg/property"
	"github.com/aretw0/transmute/pkg/workflow"
)

var planCmd = &cobra.Command{
	Use:   "plan <from-format> <to-format>",
	Short: "Show the conversion route between two formats without running it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		eng, _, err := engineFromFlags(cmd, cfg)
		if err != nil {
			return err
		}

		source := property.New().With("format", normalizeFormat(args[0]))
		target := property.NewPattern().WithEq("format", normalizeFormat(args[1]))

		batch, _ := cmd.Flags().GetBool("batch")
		from, to := planner.One, planner.One
		if batch {
			from = planner.Many
		}

		plan, err := eng.Plan(cmd.Context(), source, target, from, to)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			data, err := plan.Encode()
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		markdown := tui.ExplainPlan(plan)
		if term.IsTerminal(int(os.Stdout.Fd())) {
			render := tui.NewRenderer()
			if out, err := render(markdown); err == nil {
				fmt.Print(out)
				return nil
			}
		}
		fmt.Print(markdown)
		return nil
	},
}

// normalizeFormat accepts either a bare format name or a file path.
func normalizeFormat(s string) string {
	if format := workflow.DetectFormat(s); format != "" {
		return format
	}
	return s
}

var convertersCmd = &cobra.Command{
	Use:   "converters",
	Short: "List registered converters",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		eng, _, err := engineFromFlags(cmd, cfg)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return json.NewEncoder(os.Stdout).Encode(eng.Converters())
		}

		for _, decl := range eng.Converters() {
			line := decl.ID
			if decl.Description != "" {
				line += "  -  " + decl.Description
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	planCmd.Flags().Bool("json", false, "Emit the plan as JSON")
	planCmd.Flags().Bool("batch", false, "Plan for a batch (many) input")
	convertersCmd.Flags().Bool("json", false, "Emit declarations as JSON")
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(convertersCmd)
}
