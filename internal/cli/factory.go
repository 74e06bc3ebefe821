// Package cli holds the wiring shared by the transmute commands:
// engine construction from flags and config, size parsing, and the
// workflow runner.
package cli

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/transmute"
	"github.com/aretw0/transmute/internal/config"
	"github.com/aretw0/transmute/internal/logging"
	rediscache "github.com/aretw0/transmute/pkg/adapters/redis"
	"github.com/aretw0/transmute/pkg/executor"
	"github.com/aretw0/transmute/pkg/planner"
)

// EngineParams collects the flag values that shape an engine.
type EngineParams struct {
	Optimize    string
	MemoryLimit string
	Parallelism int
	MaxDepth    int
	Parallel    bool
	Verbose     bool
	ProjectDir  string

	// CacheAddr is a redis address enabling the plan cache; falls back
	// to the config file's plan_cache setting.
	CacheAddr string
}

// NewEngine builds an engine from command-line parameters and the
// loaded configuration.
func NewEngine(params EngineParams, cfg *config.Config) (*transmute.Engine, *slog.Logger, error) {
	level := slog.LevelWarn
	if params.Verbose {
		level = slog.LevelDebug
	}
	logger := logging.New(level)

	optimize := params.Optimize
	if optimize == "" {
		optimize = cfg.DefaultOptimize
	}
	objective, err := planner.ParseObjective(optimize)
	if err != nil {
		return nil, nil, err
	}

	memoryLimit := params.MemoryLimit
	if memoryLimit == "" {
		memoryLimit = cfg.MemoryLimit
	}
	limitBytes := 0
	if memoryLimit != "" {
		limitBytes, err = ParseSize(memoryLimit)
		if err != nil {
			return nil, nil, err
		}
	}

	opts := []transmute.Option{
		transmute.WithObjective(objective),
		transmute.WithLogger(logger),
	}
	if params.ProjectDir != "" {
		opts = append(opts, transmute.WithProjectDir(params.ProjectDir))
	}
	if params.MaxDepth > 0 {
		opts = append(opts, transmute.WithMaxDepth(params.MaxDepth))
	}
	if limitBytes > 0 {
		opts = append(opts, transmute.WithMemoryLimit(limitBytes))
	}
	if params.Parallelism > 0 {
		opts = append(opts, transmute.WithParallelism(params.Parallelism))
	}

	switch {
	case params.Parallel:
		opts = append(opts, transmute.WithExecutor(executor.NewParallel()))
	case limitBytes > 0:
		opts = append(opts, transmute.WithExecutor(executor.NewBounded()))
	}

	cacheAddr := params.CacheAddr
	if cacheAddr == "" {
		cacheAddr = cfg.PlanCache
	}
	if cacheAddr != "" {
		var cacheOpts []rediscache.Option
		if cfg.PlanCacheTTL != "" {
			ttl, err := time.ParseDuration(cfg.PlanCacheTTL)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid plan_cache_ttl %q: %w", cfg.PlanCacheTTL, err)
			}
			cacheOpts = append(cacheOpts, rediscache.WithTTL(ttl))
		}
		opts = append(opts, transmute.WithPlanCache(rediscache.New(cacheAddr, "", 0, cacheOpts...)))
	}

	eng, err := transmute.New(opts...)
	if err != nil {
		return nil, nil, err
	}
	return eng, logger, nil
}

// ParseSize parses human-readable byte sizes: "512MB", "2GiB", "1024".
func ParseSize(s string) (int, error) {
	trimmed := strings.TrimSpace(strings.ToUpper(s))

	multipliers := []struct {
		suffix string
		factor int
	}{
		{"GIB", 1 << 30}, {"GB", 1_000_000_000}, {"G", 1 << 30},
		{"MIB", 1 << 20}, {"MB", 1_000_000}, {"M", 1 << 20},
		{"KIB", 1 << 10}, {"KB", 1_000}, {"K", 1 << 10},
		{"B", 1},
	}

	for _, m := range multipliers {
		if strings.HasSuffix(trimmed, m.suffix) {
			num := strings.TrimSpace(strings.TrimSuffix(trimmed, m.suffix))
			n, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size %q", s)
			}
			return int(n * float64(m.factor)), nil
		}
	}

	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n, nil
}
