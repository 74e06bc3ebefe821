package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/transmute"
	"github.com/aretw0/transmute/internal/cli"
	"github.com/aretw0/transmute/internal/config"
	"github.com/aretw0/transmute/pkg/property"
	"github.com/aretw0/transmute/pkg/workflow"
)

var convertCmd = &cobra.Command{
	Use:   "convert <input> <output>",
	Short: "Convert a file to the format its output path implies",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		inPath, outPath := args[0], args[1]

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		eng, logger, err := engineFromFlags(cmd, cfg)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(inPath)
		if err != nil {
			return err
		}

		props := property.New()
		props["path"] = property.String(inPath)
		if format := workflow.DetectFormat(inPath); format != "" {
			props["format"] = property.String(format)
		} else {
			return fmt.Errorf("cannot detect format of %s; unknown extension", inPath)
		}

		target := property.NewPattern()
		if format := workflow.DetectFormat(outPath); format != "" {
			target = target.WithEq("format", format)
		} else {
			return fmt.Errorf("cannot detect format of %s; unknown extension", outPath)
		}

		res, err := eng.Convert(cmd.Context(), data, props, target)
		if err != nil {
			return err
		}
		logger.Info("converted",
			"steps", res.Stats.StepsExecuted,
			"peak_memory", res.Stats.PeakMemory,
			"duration", res.Stats.Duration)

		return os.WriteFile(outPath, res.Data, 0o644)
	},
}

func engineFromFlags(cmd *cobra.Command, cfg *config.Config) (*transmute.Engine, *slog.Logger, error) {
	optimize, _ := cmd.Flags().GetString("optimize")
	memoryLimit, _ := cmd.Flags().GetString("memory-limit")
	jobs, _ := cmd.Flags().GetInt("jobs")
	parallel, _ := cmd.Flags().GetBool("parallel")
	cacheAddr, _ := cmd.Flags().GetString("cache")
	verbose, _ := cmd.Flags().GetBool("verbose")

	return cli.NewEngine(cli.EngineParams{
		Optimize:    optimize,
		MemoryLimit: memoryLimit,
		Parallelism: jobs,
		Parallel:    parallel,
		Verbose:     verbose,
		ProjectDir:  ".",
		CacheAddr:   cacheAddr,
	}, cfg)
}

func init() {
	rootCmd.AddCommand(convertCmd)
}
