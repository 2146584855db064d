package analytics

type ComplexityLevel string

const (
	ComplexityLow    ComplexityLevel = "low"
	ComplexityMedium ComplexityLevel = "medium"
	ComplexityHigh   ComplexityLevel = "high"
)

const maxComplexityScore = 10

type Complexity struct {
	Score                  int             `json:"score"`
	Level                  ComplexityLevel `json:"level"`
	RequiresProviderReview bool            `json:"requires_provider_review"`
	MedicationPoints       int             `json:"medication_points"`
	DosingPoints           int             `json:"dosing_points"`
	RestrictionPoints      int             `json:"restriction_points"`
}

// ComplexityScore scores a regimen from its medication count, the number of
// distinct daily dose times and the number of medications with food or
// special-instruction restrictions. Negative inputs count as zero.
func ComplexityScore(medicationCount, distinctDoseTimes, restrictionCount int) Complexity {
	c := Complexity{}

	switch {
	case medicationCount <= 2:
		c.MedicationPoints = 1
	case medicationCount <= 5:
		c.MedicationPoints = 2
	default:
		c.MedicationPoints = 3
	}

	switch {
	case distinctDoseTimes <= 1:
		c.DosingPoints = 1
	case distinctDoseTimes <= 3:
		c.DosingPoints = 2
	default:
		c.DosingPoints = 3
	}

	switch {
	case restrictionCount <= 0:
		c.RestrictionPoints = 0
	case restrictionCount <= 2:
		c.RestrictionPoints = 1
	default:
		c.RestrictionPoints = 2
	}

	c.Score = c.MedicationPoints + c.DosingPoints + c.RestrictionPoints
	if c.Score > maxComplexityScore {
		c.Score = maxComplexityScore
	}

	switch {
	case c.Score > 7:
		c.Level = ComplexityHigh
	case c.Score > 4:
		c.Level = ComplexityMedium
	default:
		c.Level = ComplexityLow
	}
	c.RequiresProviderReview = c.Score > 8
	return c
}
