package planner

import (
	"fmt"

	"github.com/aretw0/transmute/pkg/converter"
)

// Objective selects the scalar the search minimises.
type Objective int

const (
	// ObjectiveSteps minimises the number of steps; every converter
	// costs 1. This is the default when no selector is given.
	ObjectiveSteps Objective = iota
	// ObjectiveQuality minimises accumulated quality_loss.
	ObjectiveQuality
	// ObjectiveSpeed minimises accumulated speed cost (higher = slower).
	ObjectiveSpeed
	// ObjectiveSize minimises accumulated size_ratio.
	ObjectiveSize
)

func (o Objective) String() string {
	switch o {
	case ObjectiveQuality:
		return "quality"
	case ObjectiveSpeed:
		return "speed"
	case ObjectiveSize:
		return "size"
	}
	return "steps"
}

// ParseObjective resolves the --optimize keyword.
func ParseObjective(s string) (Objective, error) {
	switch s {
	case "", "steps":
		return ObjectiveSteps, nil
	case "quality":
		return ObjectiveQuality, nil
	case "speed":
		return ObjectiveSpeed, nil
	case "size":
		return ObjectiveSize, nil
	}
	return ObjectiveSteps, fmt.Errorf("unknown optimize target %q (use quality, speed or size)", s)
}

func (o Objective) costKey() string {
	switch o {
	case ObjectiveQuality:
		return "quality_loss"
	case ObjectiveSpeed:
		return "speed"
	case ObjectiveSize:
		return "size_ratio"
	}
	return ""
}

// stepCost projects a declaration's costs bag onto the objective:
// the objective-specific key, then the generic "cost" key, then 1.0.
func (o Objective) stepCost(decl *converter.Decl) float64 {
	if o == ObjectiveSteps {
		return 1.0
	}
	if v, ok := decl.Costs.GetFloat64(o.costKey()); ok {
		return v
	}
	if v, ok := decl.Costs.GetFloat64("cost"); ok {
		return v
	}
	return 1.0
}
