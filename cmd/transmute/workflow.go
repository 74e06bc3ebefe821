package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/transmute/internal/cli"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Work with workflow files",
}

var workflowRunCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Execute a workflow file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		eng, logger, err := engineFromFlags(cmd, cfg)
		if err != nil {
			return err
		}
		return cli.RunWorkflow(cmd.Context(), eng, cfg, args[0], logger)
	},
}

var workflowValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a workflow file without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.ValidateWorkflow(args[0])
	},
}

func init() {
	workflowCmd.AddCommand(workflowRunCmd)
	workflowCmd.AddCommand(workflowValidateCmd)
	rootCmd.AddCommand(workflowCmd)
}
