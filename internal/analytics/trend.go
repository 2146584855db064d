package analytics

type Trend string

const (
	TrendImproving        Trend = "improving"
	TrendDeclining        Trend = "declining"
	TrendStable           Trend = "stable"
	TrendInsufficientData Trend = "insufficient_data"
)

const (
	// MinTrendEvents is the smallest window a trend is computed for.
	MinTrendEvents = 7
	trendDelta     = 0.10
)

// TrendResult carries the classification together with the half rates it was derived from.
type TrendResult struct {
	Trend           Trend   `json:"trend"`
	FirstHalfRate   float64 `json:"first_half_rate"`
	SecondHalfRate  float64 `json:"second_half_rate"`
	Change          float64 `json:"change"`
	EventsEvaluated int     `json:"events_evaluated"`
}

// ComputeTrend splits the chronologically ordered window at len/2 and
// compares the taken-rate of the two halves.
func ComputeTrend(events []DoseEvent) TrendResult {
	res := TrendResult{Trend: TrendInsufficientData, EventsEvaluated: len(events)}
	if len(events) < MinTrendEvents {
		return res
	}

	ordered := Chronological(events)
	mid := len(ordered) / 2
	first := TakenRate(ordered[:mid])
	second := TakenRate(ordered[mid:])

	res.FirstHalfRate = first
	res.SecondHalfRate = second
	res.Change = second - first

	switch {
	case res.Change > trendDelta:
		res.Trend = TrendImproving
	case res.Change < -trendDelta:
		res.Trend = TrendDeclining
	default:
		res.Trend = TrendStable
	}
	return res
}
