package capability

import (
	"fmt"
	"strings"

	"adherence-guardian/internal/analytics"
)

// Intervention is a follow-up action proposed for a barrier.
type Intervention struct {
	Barrier  analytics.BarrierCategory `json:"barrier"`
	Type     string                    `json:"type"`
	Action   string                    `json:"action"`
	Priority analytics.Severity        `json:"priority"`
}

func interventionsFor(barriers []BarrierFinding) []Intervention {
	var out []Intervention
	for _, f := range barriers {
		switch f.Category {
		case analytics.BarrierCost:
			out = append(out, Intervention{f.Category, "financial_assistance", "Search for cost assistance programs", analytics.SeverityHigh})
		case analytics.BarrierSideEffects:
			priority := analytics.SeverityMedium
			if f.Severity == analytics.SeverityHigh {
				priority = analytics.SeverityHigh
			}
			out = append(out, Intervention{f.Category, "symptom_management", "Review symptom management strategies", priority})
		case analytics.BarrierForgetfulness:
			out = append(out, Intervention{f.Category, "reminder_enhancement", "Implement enhanced reminder system", analytics.SeverityMedium})
		case analytics.BarrierComplexity:
			out = append(out, Intervention{f.Category, "regimen_review", "Schedule medication review with provider", analytics.SeverityMedium})
		case analytics.BarrierLifestyle:
			out = append(out, Intervention{f.Category, "schedule_adjustment", "Align dose times with the patient's routine", analytics.SeverityMedium})
		}
	}
	return out
}

func strategiesFor(f BarrierFinding, in barrierInputs) []string {
	switch f.Category {
	case analytics.BarrierCost:
		return costStrategies(in)
	case analytics.BarrierSideEffects:
		return sideEffectStrategies(in)
	case analytics.BarrierForgetfulness:
		return forgetfulnessStrategies(f)
	case analytics.BarrierComplexity:
		return simplificationStrategies(in)
	case analytics.BarrierLifestyle:
		return []string{
			"Anchor doses to sleep and meal times rather than clock times",
			"Keep a travel pill pack with a few days' supply",
		}
	}
	return nil
}

func costStrategies(in barrierInputs) []string {
	var out []string
	for _, m := range in.meds {
		if m.EstimatedCost <= 0 {
			continue
		}
		slug := strings.ReplaceAll(strings.ToLower(m.Name), " ", "-")
		out = append(out,
			fmt.Sprintf("Ask the pharmacist about a generic %s", m.Name),
			fmt.Sprintf("Check the %s manufacturer savings program", m.Name),
			fmt.Sprintf("Compare pharmacy prices at https://www.goodrx.com/%s", slug),
		)
	}
	if len(out) == 0 {
		out = append(out, "Ask the pharmacist about generic alternatives and discount programs")
	}
	return out
}

func sideEffectStrategies(in barrierInputs) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(items ...string) {
		for _, s := range items {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	for _, s := range in.symptoms {
		if s.Resolved {
			continue
		}
		d := strings.ToLower(s.Description)
		switch {
		case strings.Contains(d, "nausea") || strings.Contains(d, "stomach"):
			add("Take medication with food", "Take medication at bedtime", "Stay hydrated")
		case strings.Contains(d, "dizz"):
			add("Rise slowly from sitting or lying positions", "Stay hydrated", "Avoid driving if symptoms persist")
		case strings.Contains(d, "headache"):
			add("Stay hydrated", "Take doses at consistent times", "Ask a pharmacist about pain relief")
		case strings.Contains(d, "fatigue") || strings.Contains(d, "tired"):
			add("Take medication at bedtime", "Maintain a regular sleep schedule", "Review timing with the healthcare provider")
		default:
			add("Keep a symptom log", "Discuss management tips with a pharmacist", "Contact the healthcare provider if symptoms persist")
		}
		if s.Severity >= severeSymptomLevel {
			add(fmt.Sprintf("Contact the provider about %s", s.Description))
		}
	}
	return out
}

func forgetfulnessStrategies(f BarrierFinding) []string {
	out := []string{
		"Set phone alarms five minutes before each dose",
		"Keep medications next to a daily routine item",
		"Link doses to existing habits such as meals or brushing teeth",
	}
	for _, e := range f.Evidence {
		switch {
		case strings.Contains(e, analytics.BucketMorning):
			out = append(out, "Place morning medications next to the coffee maker")
		case strings.Contains(e, analytics.BucketEvening):
			out = append(out, "Add a dinner-table reminder for evening doses")
		case strings.Contains(e, "Saturday"), strings.Contains(e, "Sunday"):
			out = append(out, "Enable extra weekend reminders")
		}
	}
	return append(out, "Use a weekly pill organizer")
}

func simplificationStrategies(in barrierInputs) []string {
	var out []string
	c := regimenComplexity(in.meds)
	if c.DosingPoints > 1 {
		out = append(out, "Ask the provider about consolidating dose times")
	}
	if len(in.meds) > 5 {
		out = append(out, "Ask about combination pills")
	}
	return append(out, "Use AM/PM pill organizers", "Ask the pharmacy to synchronize refills")
}
