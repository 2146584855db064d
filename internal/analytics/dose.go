// Package analytics holds the deterministic scoring used by every capability:
// trends, anomalies, time and day patterns, regimen complexity, barrier
// strength and escalation timeframes. Nothing here performs I/O.
package analytics

import (
	"math"
	"sort"
	"time"
)

type DoseStatus string

const (
	StatusTaken   DoseStatus = "taken"
	StatusMissed  DoseStatus = "missed"
	StatusSkipped DoseStatus = "skipped"
	StatusDelayed DoseStatus = "delayed"
	StatusPending DoseStatus = "pending"
)

// DoseEvent is one logged (or scheduled) dose. Events are immutable once logged.
type DoseEvent struct {
	MedicationID     string     `json:"medication_id,omitempty" db:"medication_id"`
	ScheduledTime    time.Time  `json:"scheduled_time" db:"scheduled_time"`
	Taken            bool       `json:"taken" db:"taken"`
	Status           DoseStatus `json:"status" db:"status"`
	DeviationMinutes int        `json:"deviation_minutes" db:"deviation_minutes"`
}

// TakenRate is the fraction of events whose Taken flag is set. Zero for no events.
func TakenRate(events []DoseEvent) float64 {
	if len(events) == 0 {
		return 0
	}
	taken := 0
	for _, e := range events {
		if e.Taken {
			taken++
		}
	}
	return float64(taken) / float64(len(events))
}

// CountStatus returns how many events carry one of the given statuses.
func CountStatus(events []DoseEvent, statuses ...DoseStatus) int {
	n := 0
	for _, e := range events {
		for _, s := range statuses {
			if e.Status == s {
				n++
				break
			}
		}
	}
	return n
}

// Chronological returns a copy of events sorted by scheduled time.
func Chronological(events []DoseEvent) []DoseEvent {
	out := make([]DoseEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScheduledTime.Before(out[j].ScheduledTime)
	})
	return out
}

// Between returns the events scheduled in [from, to).
func Between(events []DoseEvent, from, to time.Time) []DoseEvent {
	var out []DoseEvent
	for _, e := range events {
		if !e.ScheduledTime.Before(from) && e.ScheduledTime.Before(to) {
			out = append(out, e)
		}
	}
	return out
}

// Percent converts a rate to a percentage rounded to two decimals.
func Percent(rate float64) float64 {
	return Round(rate*100, 2)
}

// Round rounds v to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}
