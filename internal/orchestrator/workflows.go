package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"adherence-guardian/internal/analytics"
	"adherence-guardian/internal/capability"
)

// HandleNewMedication schedules a newly prescribed medication, starting at planning.
func (o *Orchestrator) HandleNewMedication(ctx context.Context, patientID, medicationID uuid.UUID) (Outcome, error) {
	return o.Run(ctx, patientID, "optimize schedule for new medication", map[string]any{
		"medication_id":   medicationID.String(),
		"next_capability": string(capability.Planning),
	})
}

// HandleSymptomReport analyzes a reported symptom, starting at monitoring.
// A severe symptom escalates to liaison through the dependency rules.
func (o *Orchestrator) HandleSymptomReport(ctx context.Context, patientID, symptomID uuid.UUID) (Outcome, error) {
	return o.Run(ctx, patientID, "analyze symptom report and determine if it's medication related", map[string]any{
		"symptom_id":      symptomID.String(),
		"next_capability": string(capability.Monitoring),
	})
}

type InsightStatus string

const (
	StatusGood     InsightStatus = "good"
	StatusWarning  InsightStatus = "warning"
	StatusCritical InsightStatus = "critical"
)

// Insight is one dashboard card.
type Insight struct {
	Type        string        `json:"type"`
	Title       string        `json:"title"`
	Value       string        `json:"value"`
	Status      InsightStatus `json:"status"`
	Description string        `json:"description,omitempty"`
	Details     any           `json:"details,omitempty"`
}

const maxInsightBarriers = 3

// GenerateInsights assesses monitoring and barriers side by side. Each
// capability runs once, outside the routing loop, so nothing is escalated.
func (o *Orchestrator) GenerateInsights(ctx context.Context, patientID uuid.UUID) ([]Insight, error) {
	var monitoring, barrier capability.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		monitoring, err = o.invoke(gctx, capability.Monitoring,
			newState(patientID, "analyze adherence patterns and trends", nil).capabilityTask())
		return err
	})
	g.Go(func() error {
		var err error
		barrier, err = o.invoke(gctx, capability.Barrier,
			newState(patientID, "identify potential adherence barriers", nil).capabilityTask())
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("generate insights: %w", err)
	}

	var insights []Insight
	if r := monitoring; r.Success {
		if report, ok := monitoringReport(r); ok {
			insights = append(insights,
				Insight{
					Type:        "adherence",
					Title:       "Adherence Rate",
					Value:       fmt.Sprintf("%.1f%%", report.AdherencePercent),
					Status:      adherenceStatus(report.AdherencePercent),
					Description: r.Summary,
				},
				Insight{
					Type:   "trend",
					Title:  "Trend",
					Value:  titleCase(string(report.Trend.Trend)),
					Status: trendStatus(report.Trend.Trend),
				},
			)
		}
	}
	if r := barrier; r.Success {
		if report, ok := barrierReport(r); ok && len(report.Barriers) > 0 {
			top := report.Barriers
			if len(top) > maxInsightBarriers {
				top = top[:maxInsightBarriers]
			}
			insights = append(insights, Insight{
				Type:        "barriers",
				Title:       "Identified Barriers",
				Value:       fmt.Sprint(len(report.Barriers)),
				Status:      StatusWarning,
				Description: fmt.Sprintf("Found %d barrier(s) to address", len(report.Barriers)),
				Details:     top,
			})
		}
	}
	return insights, nil
}

func adherenceStatus(percent float64) InsightStatus {
	switch {
	case percent >= 90:
		return StatusGood
	case percent >= 70:
		return StatusWarning
	default:
		return StatusCritical
	}
}

func trendStatus(t analytics.Trend) InsightStatus {
	switch t {
	case analytics.TrendImproving:
		return StatusGood
	case analytics.TrendDeclining:
		return StatusCritical
	default:
		return StatusWarning
	}
}

func titleCase(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Action is something the patient-facing client should surface.
type Action struct {
	Type        string          `json:"type"`
	Source      capability.Name `json:"source"`
	Description string          `json:"description"`
}

// ExtractActions lists recommendations, schedule updates and escalations in
// invocation order, without duplicate recommendations.
func ExtractActions(o Outcome) []Action {
	var actions []Action
	seen := make(map[string]bool)
	for _, name := range o.CapabilitiesInvoked {
		r := o.Results[name]
		for _, rec := range r.Recommendations {
			if seen[rec] {
				continue
			}
			seen[rec] = true
			actions = append(actions, Action{Type: "recommendation", Source: name, Description: rec})
		}
		if report, ok := r.Data.(capability.ScheduleReport); ok && report.ScheduleUpdated {
			actions = append(actions, Action{Type: "schedule_update", Source: name, Description: "Medication schedule has been optimized"})
		}
		if r.RequiresEscalation {
			actions = append(actions, Action{Type: "escalation", Source: name, Description: "This issue has been escalated to your healthcare provider"})
		}
	}
	return actions
}
