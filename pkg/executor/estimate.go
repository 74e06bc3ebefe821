package executor

import (
	"strings"

	"github.com/aretw0/transmute/pkg/planner"
)

// Per-family peak-memory expansion factors, keyed by the id prefix
// before the first dot. Decoding compressed media dominates: audio
// blows up ~10x to PCM, images ~4x to RGBA, video ~100x to raw frames.
// Everything else is assumed to stay roughly input-sized.
var familyFactors = map[string]int{
	"audio": 10,
	"image": 4,
	"video": 100,
	"serde": 1,
}

func stepFactor(converterID string) int {
	family, _, found := strings.Cut(converterID, ".")
	if !found {
		return 1
	}
	if f, ok := familyFactors[family]; ok {
		return f
	}
	return 1
}

// EstimateStep estimates the peak memory of a single converter
// application on an input of the given size.
func EstimateStep(inputSize int, converterID string) int {
	return saturatingMul(inputSize, stepFactor(converterID))
}

// Estimate estimates the peak memory of running a whole plan on an
// input of the given size. It is a heuristic, not a guarantee; the
// executor surfaces actual peak usage in Stats.
func Estimate(inputSize int, plan *planner.Plan) int {
	estimate := inputSize
	for _, step := range plan.Steps {
		estimate = saturatingMul(estimate, stepFactor(step.ConverterID))
	}
	return estimate
}

func saturatingMul(a, factor int) int {
	if a <= 0 || factor <= 1 {
		return a
	}
	const maxInt = int(^uint(0) >> 1)
	if a > maxInt/factor {
		return maxInt
	}
	return a * factor
}
