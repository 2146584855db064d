package analytics

import "strings"

type EscalationLevel string

const (
	LevelCritical EscalationLevel = "critical"
	LevelHigh     EscalationLevel = "high"
	LevelModerate EscalationLevel = "moderate"
	LevelLow      EscalationLevel = "low"
)

type Timeframe string

const (
	TimeframeImmediate Timeframe = "immediate"
	TimeframeSameDay   Timeframe = "same_day"
	Timeframe48Hours   Timeframe = "48_hours"
	TimeframeNextVisit Timeframe = "next_visit"
)

var timeframes = map[EscalationLevel]Timeframe{
	LevelCritical: TimeframeImmediate,
	LevelHigh:     TimeframeSameDay,
	LevelModerate: Timeframe48Hours,
	LevelLow:      TimeframeNextVisit,
}

var timeframeText = map[Timeframe]string{
	TimeframeImmediate: "Immediate attention required",
	TimeframeSameDay:   "Same-day response recommended",
	Timeframe48Hours:   "Within 48 hours",
	TimeframeNextVisit: "At next scheduled visit",
}

// EscalationTimeframe looks up the response timeframe for a level. Unknown
// levels are treated as moderate.
func EscalationTimeframe(level EscalationLevel) Timeframe {
	if tf, ok := timeframes[level]; ok {
		return tf
	}
	return Timeframe48Hours
}

// Describe returns the human readable form of a timeframe.
func (t Timeframe) Describe() string {
	return timeframeText[t]
}

// ParseEscalationLevel normalizes free text, defaulting to moderate.
func ParseEscalationLevel(s string) EscalationLevel {
	switch l := EscalationLevel(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelCritical, LevelHigh, LevelModerate, LevelLow:
		return l
	default:
		return LevelModerate
	}
}

// LevelForScore maps a 1-10 severity score to a level: 9+ critical, 7+ high,
// 5+ moderate, otherwise low.
func LevelForScore(score int) EscalationLevel {
	switch {
	case score >= 9:
		return LevelCritical
	case score >= 7:
		return LevelHigh
	case score >= 5:
		return LevelModerate
	default:
		return LevelLow
	}
}

// Rank orders levels so that higher is more urgent.
func (l EscalationLevel) Rank() int {
	switch l {
	case LevelCritical:
		return 4
	case LevelHigh:
		return 3
	case LevelModerate:
		return 2
	case LevelLow:
		return 1
	default:
		return 0
	}
}

// Urgent reports whether the level requires provider escalation.
func (l EscalationLevel) Urgent() bool {
	return l == LevelCritical || l == LevelHigh
}

// LevelForSeverity maps a barrier or anomaly severity to an escalation level.
func LevelForSeverity(s Severity) EscalationLevel {
	switch s {
	case SeverityHigh:
		return LevelHigh
	case SeverityMedium:
		return LevelModerate
	default:
		return LevelLow
	}
}
