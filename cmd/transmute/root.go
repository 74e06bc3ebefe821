package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/transmute/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "transmute",
	Short: "Transmute is a type-driven data conversion planner",
	Long: `Transmute plans and executes data-format conversions.

Describe what you have (format, dimensions, encoding) and what you
want; transmute searches its registry of converters for a route and
runs it.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "", "Path to the config file (default: user config dir)")
	rootCmd.PersistentFlags().String("optimize", "", "Cost objective: quality, speed or size")
	rootCmd.PersistentFlags().String("memory-limit", "", "Execution memory limit, e.g. 512MB")
	rootCmd.PersistentFlags().IntP("jobs", "j", 0, "Worker pool size for batch execution (default: CPU count)")
	rootCmd.PersistentFlags().Bool("parallel", false, "Use the parallel batch executor")
	rootCmd.PersistentFlags().String("cache", "", "Redis address enabling the plan cache, e.g. localhost:6379")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
}

// loadConfig resolves and loads the configuration for a command.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		p, err := config.Path()
		if err != nil {
			return config.Default(), nil
		}
		path = p
	}
	return config.Load(path)
}
