package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"adherence-guardian/internal/analytics"
	"adherence-guardian/internal/config"
	"adherence-guardian/internal/patient"
)

const (
	lowAdherenceRate    = 0.70
	timeSlotIssueRate   = 0.70
	weekendDropMargin   = 0.15
	severeSymptomLevel  = 8
	knownEffectScore    = 0.8
	unknownEffectScore  = 0.3
	monitoringConfident = 0.85
	noDataConfidence    = 0.5
	thinDataConfidence  = 0.3
)

// knownSideEffects lists common side effects by lowercase medication name.
var knownSideEffects = map[string][]string{
	"metformin":     {"nausea", "diarrhea", "stomach", "metallic taste"},
	"lisinopril":    {"cough", "dizziness", "headache"},
	"atorvastatin":  {"muscle pain", "muscle ache", "joint pain"},
	"amlodipine":    {"swelling", "dizziness", "flushing"},
	"levothyroxine": {"palpitations", "insomnia", "sweating"},
	"sertraline":    {"nausea", "insomnia", "headache"},
	"ibuprofen":     {"stomach", "nausea", "heartburn"},
	"warfarin":      {"bleeding", "bruising"},
	"prednisone":    {"insomnia", "mood", "appetite"},
}

type PatternIssue struct {
	Type        string             `json:"type"`
	Severity    analytics.Severity `json:"severity"`
	Bucket      string             `json:"bucket,omitempty"`
	Rate        float64            `json:"rate"`
	Description string             `json:"description"`
}

type SymptomAnalysis struct {
	SymptomID            uuid.UUID `json:"symptom_id"`
	Description          string    `json:"description"`
	Severity             int       `json:"severity"`
	AssociatedMedication string    `json:"associated_medication,omitempty"`
	LikelySideEffect     bool      `json:"likely_side_effect"`
	Correlation          float64   `json:"correlation"`
	RequiresEscalation   bool      `json:"requires_escalation"`
}

// MonitoringReport is the structured data of a monitoring result.
type MonitoringReport struct {
	WindowDays       int                     `json:"window_days"`
	TotalDoses       int                     `json:"total_doses"`
	TakenDoses       int                     `json:"taken_doses"`
	TakenRate        float64                 `json:"taken_rate"`
	AdherencePercent float64                 `json:"adherence_rate"`
	Trend            analytics.TrendResult   `json:"trend"`
	Anomalies        []analytics.Anomaly     `json:"anomalies,omitempty"`
	TimePatterns     *analytics.TimePatterns `json:"time_patterns,omitempty"`
	DayPatterns      *analytics.DayPatterns  `json:"day_patterns,omitempty"`
	Issues           []PatternIssue          `json:"issues,omitempty"`
	Symptom          *SymptomAnalysis        `json:"symptom,omitempty"`
}

type MonitoringCapability struct {
	base
	cfg config.MonitoringConfig
}

func NewMonitoring(d Deps, cfg config.MonitoringConfig) *MonitoringCapability {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 7
	}
	if cfg.HistoryDays <= cfg.WindowDays {
		cfg.HistoryDays = 30
	}
	if cfg.PatternDays <= 0 {
		cfg.PatternDays = 30
	}
	if cfg.AdherenceTarget <= 0 {
		cfg.AdherenceTarget = 0.90
	}
	if cfg.AnomalyThreshold <= 0 {
		cfg.AnomalyThreshold = analytics.DefaultDropThreshold
	}
	return &MonitoringCapability{base: newBase(Monitoring, d), cfg: cfg}
}

const monitoringSystem = `You are an adherence monitoring assistant. You summarize medication-taking data for a patient.
Never diagnose medical conditions and never suggest dosage changes.
Reply with JSON: {"summary": string, "recommendations": [string], "reasoning": string}.`

func (m *MonitoringCapability) Assess(ctx context.Context, task Task) (Result, error) {
	now := m.now()
	recentFrom := now.AddDate(0, 0, -m.cfg.WindowDays)
	readFrom := now.AddDate(0, 0, -max(m.cfg.HistoryDays, m.cfg.PatternDays))

	events, err := m.store.DoseEvents(ctx, task.PatientID, readFrom, now)
	if err != nil {
		return Result{}, unavailable("dose events", err)
	}
	symptoms, err := m.store.Symptoms(ctx, task.PatientID, recentFrom, now)
	if err != nil {
		return Result{}, unavailable("symptoms", err)
	}

	recent := analytics.Between(events, recentFrom, now)
	historical := analytics.Between(events, now.AddDate(0, 0, -m.cfg.HistoryDays), recentFrom)

	report := MonitoringReport{WindowDays: m.cfg.WindowDays}

	var symptomAnalysis *SymptomAnalysis
	if task.Mentions("symptom", "side effect") || hasKey(task.Context, "symptom_id") {
		symptomAnalysis, err = m.analyzeSymptom(ctx, task, symptoms)
		if err != nil {
			return Result{}, err
		}
		report.Symptom = symptomAnalysis
	}

	if len(recent) == 0 {
		r := Result{
			Success:          true,
			Summary:          fmt.Sprintf("No adherence data recorded in the last %d days.", m.cfg.WindowDays),
			Data:             report,
			Confidence:       noDataConfidence,
			Recommendations:  []string{"Start logging each dose so adherence can be tracked"},
			RequiresFollowup: true,
		}
		if symptomAnalysis != nil {
			r.RequiresEscalation = symptomAnalysis.RequiresEscalation
			r.SuggestedNext = symptomNext(symptomAnalysis)
		}
		return m.finish(task, r), nil
	}

	report.TotalDoses = len(recent)
	report.TakenDoses = countTaken(recent)
	report.TakenRate = analytics.TakenRate(recent)
	report.AdherencePercent = analytics.Percent(report.TakenRate)
	report.Trend = analytics.ComputeTrend(recent)
	report.Anomalies = analytics.DetectAnomalies(recent, historical, m.cfg.AnomalyThreshold)
	if a, ok := analytics.SymptomCorrelation(recent, len(symptoms)); ok {
		report.Anomalies = append(report.Anomalies, a)
	}

	confidence := monitoringConfident
	patternEvents := analytics.Between(events, now.AddDate(0, 0, -m.cfg.PatternDays), now)
	if len(patternEvents) >= analytics.MinTrendEvents {
		tp := analytics.PatternsByTime(patternEvents)
		dp := analytics.PatternsByDay(patternEvents)
		report.TimePatterns = &tp
		report.DayPatterns = &dp
		report.Issues = patternIssues(tp, dp)
	} else if task.Mentions("pattern", "trend") {
		confidence = thinDataConfidence
	}

	escalate := analytics.HasHighSeverity(report.Anomalies)
	if symptomAnalysis != nil && symptomAnalysis.RequiresEscalation {
		escalate = true
	}

	r := Result{
		Success:            true,
		Data:               report,
		Confidence:         confidence,
		RequiresFollowup:   report.TakenRate < m.cfg.AdherenceTarget,
		RequiresEscalation: escalate,
		SuggestedNext:      m.suggestNext(report),
	}

	fallback := narrative{
		Summary:         monitoringSummary(report),
		Recommendations: monitoringRecommendations(report, m.cfg.AdherenceTarget),
	}
	n := m.phrase(ctx, monitoringSystem, monitoringPrompt(task, report), fallback)
	r.Summary = n.Summary
	r.Recommendations = n.Recommendations
	r.Reasoning = n.Reasoning

	m.log.Debug().
		Str("patient_id", task.PatientID.String()).
		Float64("taken_rate", report.TakenRate).
		Str("trend", string(report.Trend.Trend)).
		Int("anomalies", len(report.Anomalies)).
		Msg("monitoring assessment")

	return m.finish(task, r), nil
}

func (m *MonitoringCapability) suggestNext(r MonitoringReport) Name {
	if r.TakenRate < lowAdherenceRate || r.Trend.Trend == analytics.TrendDeclining {
		return Barrier
	}
	if next := symptomNext(r.Symptom); next != "" {
		return next
	}
	for _, issue := range r.Issues {
		if issue.Type == "time_slot_issue" {
			return Planning
		}
	}
	return ""
}

func symptomNext(s *SymptomAnalysis) Name {
	switch {
	case s == nil:
		return ""
	case s.LikelySideEffect:
		return Barrier
	case s.RequiresEscalation:
		return Liaison
	default:
		return ""
	}
}

func (m *MonitoringCapability) analyzeSymptom(ctx context.Context, task Task, recent []patient.SymptomEvent) (*SymptomAnalysis, error) {
	var symptom *patient.SymptomEvent
	if id, ok := task.UUID("symptom_id"); ok {
		s, err := m.store.GetSymptom(ctx, id)
		if err != nil {
			if errors.Is(err, patient.ErrNotFound) {
				return nil, nil
			}
			return nil, unavailable("symptom", err)
		}
		symptom = s
	} else {
		for i := len(recent) - 1; i >= 0; i-- {
			if !recent[i].Resolved {
				symptom = &recent[i]
				break
			}
		}
	}
	if symptom == nil {
		return nil, nil
	}

	meds, err := m.store.ActiveMedications(ctx, task.PatientID)
	if err != nil {
		return nil, unavailable("medications", err)
	}

	a := &SymptomAnalysis{
		SymptomID:            symptom.ID,
		Description:          symptom.Description,
		Severity:             symptom.Severity,
		AssociatedMedication: symptom.AssociatedMedication,
		Correlation:          unknownEffectScore,
		RequiresEscalation:   symptom.Severity >= severeSymptomLevel,
	}

	candidates := []string{symptom.AssociatedMedication}
	if symptom.AssociatedMedication == "" {
		candidates = candidates[:0]
		for _, med := range meds {
			candidates = append(candidates, med.Name)
		}
	}
	desc := strings.ToLower(symptom.Description)
	for _, name := range candidates {
		for _, effect := range knownSideEffects[strings.ToLower(name)] {
			if strings.Contains(desc, effect) {
				a.LikelySideEffect = true
				a.Correlation = knownEffectScore
				a.AssociatedMedication = name
			}
		}
	}
	return a, nil
}

func patternIssues(tp analytics.TimePatterns, dp analytics.DayPatterns) []PatternIssue {
	var issues []PatternIssue
	if dp.Weekend.Total > 0 && dp.Weekday.Total > 0 && dp.Weekend.Rate < dp.Weekday.Rate-weekendDropMargin {
		issues = append(issues, PatternIssue{
			Type:        "weekend_drop",
			Severity:    analytics.SeverityMedium,
			Rate:        dp.Weekend.Rate,
			Description: fmt.Sprintf("Weekend adherence %.0f%% vs weekday %.0f%%", dp.Weekend.Rate*100, dp.Weekday.Rate*100),
		})
	}
	for _, b := range tp.Buckets {
		if b.Total > 0 && b.Rate < timeSlotIssueRate {
			issues = append(issues, PatternIssue{
				Type:        "time_slot_issue",
				Severity:    analytics.SeverityMedium,
				Bucket:      b.Name,
				Rate:        b.Rate,
				Description: fmt.Sprintf("%s doses taken %.0f%% of the time", capitalize(b.Name), b.Rate*100),
			})
		}
	}
	return issues
}

func monitoringSummary(r MonitoringReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Adherence over the last %d days is %.0f%% (%d of %d doses taken)",
		r.WindowDays, r.AdherencePercent, r.TakenDoses, r.TotalDoses)
	if r.Trend.Trend != analytics.TrendInsufficientData {
		fmt.Fprintf(&b, ", trend %s", r.Trend.Trend)
	}
	b.WriteString(".")
	for _, a := range r.Anomalies {
		fmt.Fprintf(&b, " %s.", a.Description)
	}
	if r.Symptom != nil {
		fmt.Fprintf(&b, " Reported symptom %q (severity %d/10)", r.Symptom.Description, r.Symptom.Severity)
		if r.Symptom.LikelySideEffect {
			fmt.Fprintf(&b, " is a known side effect of %s", r.Symptom.AssociatedMedication)
		}
		b.WriteString(".")
	}
	return b.String()
}

func monitoringRecommendations(r MonitoringReport, target float64) []string {
	var recs []string
	if r.TakenRate < target {
		recs = append(recs, fmt.Sprintf("Work toward the %.0f%% adherence target", target*100))
	}
	if r.Trend.Trend == analytics.TrendDeclining {
		recs = append(recs, "Review what changed recently; adherence is declining")
	}
	for _, a := range r.Anomalies {
		if a.Type == analytics.AnomalyConsecutiveMisses {
			recs = append(recs, "Check in with the patient about the recent run of missed doses")
		}
	}
	for _, issue := range r.Issues {
		if issue.Type == "time_slot_issue" {
			recs = append(recs, fmt.Sprintf("Consider moving %s doses to a more reliable time", issue.Bucket))
		}
		if issue.Type == "weekend_drop" {
			recs = append(recs, "Set weekend reminders")
		}
	}
	if r.Symptom != nil && r.Symptom.RequiresEscalation {
		recs = append(recs, "Contact the healthcare provider about the severe symptom")
	}
	if len(recs) == 0 {
		recs = append(recs, "Keep up the current routine")
	}
	return recs
}

func monitoringPrompt(task Task, r MonitoringReport) string {
	return fmt.Sprintf(`Patient request: %s

Adherence: %.1f%% (%d/%d doses) over %d days
Trend: %s (first half %.0f%%, second half %.0f%%)
Anomalies: %d
Pattern issues: %d

Write a short, supportive summary for the care team and up to three recommendations.`,
		task.Text, r.AdherencePercent, r.TakenDoses, r.TotalDoses, r.WindowDays,
		r.Trend.Trend, r.Trend.FirstHalfRate*100, r.Trend.SecondHalfRate*100,
		len(r.Anomalies), len(r.Issues))
}

func countTaken(events []analytics.DoseEvent) int {
	n := 0
	for _, e := range events {
		if e.Taken {
			n++
		}
	}
	return n
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
