package analytics

import "fmt"

type BarrierCategory string

const (
	BarrierCost          BarrierCategory = "cost"
	BarrierSideEffects   BarrierCategory = "side_effects"
	BarrierForgetfulness BarrierCategory = "forgetfulness"
	BarrierComplexity    BarrierCategory = "complexity"
	BarrierBeliefs       BarrierCategory = "beliefs"
	BarrierAccess        BarrierCategory = "access"
	BarrierLifestyle     BarrierCategory = "lifestyle"
)

type barrierProfile struct {
	weight    float64
	threshold float64
}

var barrierProfiles = map[BarrierCategory]barrierProfile{
	BarrierCost:          {weight: 0.9, threshold: 0.7},
	BarrierSideEffects:   {weight: 0.85, threshold: 0.6},
	BarrierAccess:        {weight: 0.8, threshold: 0.7},
	BarrierBeliefs:       {weight: 0.75, threshold: 0.65},
	BarrierComplexity:    {weight: 0.7, threshold: 0.75},
	BarrierLifestyle:     {weight: 0.65, threshold: 0.8},
	BarrierForgetfulness: {weight: 0.6, threshold: 0.8},
}

// saturatingIndicators is the indicator count at which a barrier reaches full strength.
const saturatingIndicators = 2

// BarrierScore is the weighted strength of a barrier and whether it crosses
// its category's escalation threshold.
type BarrierScore struct {
	Category           BarrierCategory `json:"category"`
	Weight             float64         `json:"weight"`
	Threshold          float64         `json:"threshold"`
	Strength           float64         `json:"strength"`
	RequiresEscalation bool            `json:"requires_escalation"`
}

// BarrierSeverityScore computes strength = weight * min(1, indicators/2).
func BarrierSeverityScore(category BarrierCategory, indicatorCount int) (BarrierScore, error) {
	p, ok := barrierProfiles[category]
	if !ok {
		return BarrierScore{}, fmt.Errorf("unknown barrier category %q", category)
	}
	if indicatorCount < 0 {
		indicatorCount = 0
	}
	ratio := float64(indicatorCount) / saturatingIndicators
	if ratio > 1 {
		ratio = 1
	}
	strength := Round(p.weight*ratio, 4)
	return BarrierScore{
		Category:           category,
		Weight:             p.weight,
		Threshold:          p.threshold,
		Strength:           strength,
		RequiresEscalation: strength >= p.threshold,
	}, nil
}

// BarrierCategories lists every known category.
func BarrierCategories() []BarrierCategory {
	return []BarrierCategory{
		BarrierCost, BarrierSideEffects, BarrierForgetfulness, BarrierComplexity,
		BarrierBeliefs, BarrierAccess, BarrierLifestyle,
	}
}
