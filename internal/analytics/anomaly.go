package analytics

import "fmt"

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities so that higher is more severe. Unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

type AnomalyType string

const (
	AnomalyRateDrop           AnomalyType = "rate_drop"
	AnomalyConsecutiveMisses  AnomalyType = "consecutive_misses"
	AnomalySymptomCorrelation AnomalyType = "symptom_correlation"
)

const (
	// DefaultDropThreshold is the rate drop above which a rate_drop anomaly is reported.
	DefaultDropThreshold = 0.15
	highDropThreshold    = 0.25
	// MinConsecutiveMisses is the shortest not-taken run reported as an anomaly.
	MinConsecutiveMisses = 3
)

type Anomaly struct {
	Type        AnomalyType `json:"type"`
	Severity    Severity    `json:"severity"`
	Description string      `json:"description"`
	Count       int         `json:"count,omitempty"`
	Drop        float64     `json:"drop,omitempty"`
}

// DetectAnomalies compares the recent window to history and scans the recent
// window for runs of missed doses. A non-positive dropThreshold uses the default.
func DetectAnomalies(recent, historical []DoseEvent, dropThreshold float64) []Anomaly {
	if dropThreshold <= 0 {
		dropThreshold = DefaultDropThreshold
	}

	var anomalies []Anomaly

	if len(recent) > 0 && len(historical) > 0 {
		recentRate := TakenRate(recent)
		historicalRate := TakenRate(historical)
		drop := historicalRate - recentRate
		if drop > dropThreshold {
			sev := SeverityMedium
			if drop > highDropThreshold {
				sev = SeverityHigh
			}
			anomalies = append(anomalies, Anomaly{
				Type:        AnomalyRateDrop,
				Severity:    sev,
				Description: fmt.Sprintf("Adherence dropped from %.0f%% to %.0f%%", historicalRate*100, recentRate*100),
				Drop:        Round(drop, 4),
			})
		}
	}

	if run := LongestMissRun(recent); run >= MinConsecutiveMisses {
		anomalies = append(anomalies, Anomaly{
			Type:        AnomalyConsecutiveMisses,
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("%d consecutive doses missed", run),
			Count:       run,
		})
	}

	return anomalies
}

// LongestMissRun is the longest chronological run of events not taken.
func LongestMissRun(events []DoseEvent) int {
	longest, current := 0, 0
	for _, e := range Chronological(events) {
		if e.Taken {
			current = 0
			continue
		}
		current++
		if current > longest {
			longest = current
		}
	}
	return longest
}

// SymptomCorrelation reports a medium anomaly when symptoms were reported
// during a window that also contains missed doses.
func SymptomCorrelation(recent []DoseEvent, recentSymptoms int) (Anomaly, bool) {
	if recentSymptoms == 0 {
		return Anomaly{}, false
	}
	for _, e := range recent {
		if !e.Taken {
			return Anomaly{
				Type:        AnomalySymptomCorrelation,
				Severity:    SeverityMedium,
				Description: "Symptoms reported during a period of missed doses",
				Count:       recentSymptoms,
			}, true
		}
	}
	return Anomaly{}, false
}

// HasHighSeverity reports whether any anomaly is high severity.
func HasHighSeverity(anomalies []Anomaly) bool {
	for _, a := range anomalies {
		if a.Severity == SeverityHigh {
			return true
		}
	}
	return false
}
