package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"adherence-guardian/internal/analytics"
	"adherence-guardian/internal/config"
	"adherence-guardian/internal/patient"
)

const (
	defaultPeriodDays   = 30
	criticalAdherence   = 50.0
	highAdherence       = 70.0
	criticalSymptom     = 9
	highSymptom         = 7
	liaisonConfidence   = 0.9
	reportComprehensive = "comprehensive"
	reportEscalation    = "escalation"
)

// Concern is one item the provider should look at.
type Concern struct {
	Source      string                    `json:"source"`
	Level       analytics.EscalationLevel `json:"level"`
	Description string                    `json:"description"`
}

// Escalation is what gets delivered to the provider when a report is urgent.
type Escalation struct {
	ReportID         uuid.UUID                 `json:"report_id"`
	PatientID        uuid.UUID                 `json:"patient_id"`
	PatientName      string                    `json:"patient_name"`
	Level            analytics.EscalationLevel `json:"level"`
	Timeframe        analytics.Timeframe       `json:"timeframe"`
	Summary          string                    `json:"summary"`
	AdherencePercent float64                   `json:"adherence_percent"`
	Concerns         []Concern                 `json:"concerns"`
	Recommendations  []string                  `json:"recommendations"`
	GeneratedAt      time.Time                 `json:"generated_at"`
}

// Notifier delivers escalations to the care team.
type Notifier interface {
	NotifyProvider(ctx context.Context, e Escalation) error
}

// LiaisonReport is the structured data of a liaison result.
type LiaisonReport struct {
	ReportID                uuid.UUID                 `json:"report_id"`
	ReportType              string                    `json:"report_type"`
	PeriodDays              int                       `json:"period_days"`
	PeriodStart             time.Time                 `json:"period_start"`
	PeriodEnd               time.Time                 `json:"period_end"`
	TotalDoses              int                       `json:"total_doses"`
	TakenDoses              int                       `json:"taken_doses"`
	AdherencePercent        float64                   `json:"adherence_rate"`
	TargetPercent           float64                   `json:"target_rate"`
	TargetMet               bool                      `json:"target_met"`
	MedicationCount         int                       `json:"medication_count"`
	SymptomCount            int                       `json:"symptom_count"`
	UnresolvedSymptoms      int                       `json:"unresolved_symptoms"`
	Concerns                []Concern                 `json:"concerns"`
	Level                   analytics.EscalationLevel `json:"escalation_level"`
	Timeframe               analytics.Timeframe       `json:"timeframe"`
	TimeframeText           string                    `json:"response_timeframe"`
	ProviderRecommendations []string                  `json:"provider_recommendations"`
	NotificationSent        bool                      `json:"notification_sent"`
	NotificationError       string                    `json:"notification_error,omitempty"`
}

type LiaisonCapability struct {
	base
	target   float64
	notifier Notifier
}

// NewLiaison builds the liaison capability. notifier may be nil.
func NewLiaison(d Deps, cfg config.MonitoringConfig, notifier Notifier) *LiaisonCapability {
	target := cfg.AdherenceTarget
	if target <= 0 {
		target = 0.90
	}
	return &LiaisonCapability{base: newBase(Liaison, d), target: target, notifier: notifier}
}

const liaisonSystem = `You are a care coordination assistant writing for the patient's healthcare provider. Be concise and clinical, lead with the most urgent concern.
Never diagnose medical conditions and never suggest dosage changes.
Reply with JSON: {"summary": string, "recommendations": [string], "reasoning": string}.`

func (l *LiaisonCapability) Assess(ctx context.Context, task Task) (Result, error) {
	now := l.now()
	days := periodDays(task.Context["period_days"])
	from := now.AddDate(0, 0, -days)

	pat, err := l.store.GetPatient(ctx, task.PatientID)
	if err != nil {
		return Result{}, unavailable("patient", err)
	}
	meds, err := l.store.ActiveMedications(ctx, task.PatientID)
	if err != nil {
		return Result{}, unavailable("medications", err)
	}
	events, err := l.store.DoseEvents(ctx, task.PatientID, from, now)
	if err != nil {
		return Result{}, unavailable("dose events", err)
	}
	symptoms, err := l.store.Symptoms(ctx, task.PatientID, from, now)
	if err != nil {
		return Result{}, unavailable("symptoms", err)
	}

	report := LiaisonReport{
		ReportType:      reportComprehensive,
		PeriodDays:      days,
		PeriodStart:     from,
		PeriodEnd:       now,
		TotalDoses:      len(events),
		TakenDoses:      countTaken(events),
		TargetPercent:   analytics.Percent(l.target),
		MedicationCount: len(meds),
		SymptomCount:    len(symptoms),
	}
	rate := analytics.TakenRate(events)
	report.AdherencePercent = analytics.Round(rate*100, 1)
	report.TargetMet = len(events) > 0 && rate >= l.target
	for _, s := range symptoms {
		if !s.Resolved {
			report.UnresolvedSymptoms++
		}
	}

	report.Concerns = l.concerns(task, report, symptoms)
	report.Level = overallLevel(report.Concerns)
	report.Timeframe = analytics.EscalationTimeframe(report.Level)
	report.TimeframeText = report.Timeframe.Describe()
	report.ProviderRecommendations = providerRecommendations(report, task.Prior)
	if task.Mentions("escalat", "urgent") || task.String("severity") != "" {
		report.ReportType = reportEscalation
	}

	fallback := narrative{
		Summary:         liaisonSummary(report),
		Recommendations: report.ProviderRecommendations,
	}
	n := l.phrase(ctx, liaisonSystem, liaisonPrompt(task, pat, report), fallback)

	if err := l.record(ctx, task, &report, n.Summary); err != nil {
		l.log.Warn().Err(err).Str("patient_id", task.PatientID.String()).Msg("failed to save provider report")
	}

	if report.Level.Urgent() && l.notifier != nil {
		err := l.notifier.NotifyProvider(ctx, Escalation{
			ReportID:         report.ReportID,
			PatientID:        task.PatientID,
			PatientName:      pat.Name,
			Level:            report.Level,
			Timeframe:        report.Timeframe,
			Summary:          Sanitize(n.Summary),
			AdherencePercent: report.AdherencePercent,
			Concerns:         report.Concerns,
			Recommendations:  report.ProviderRecommendations,
			GeneratedAt:      now,
		})
		if err != nil {
			l.log.Error().Err(err).Str("patient_id", task.PatientID.String()).Msg("provider notification failed")
			report.NotificationError = err.Error()
		} else {
			report.NotificationSent = true
		}
	}

	return l.finish(task, Result{
		Success:            true,
		Summary:            n.Summary,
		Data:               report,
		Confidence:         liaisonConfidence,
		Recommendations:    n.Recommendations,
		RequiresFollowup:   len(report.Concerns) > 0,
		RequiresEscalation: report.Level.Urgent(),
		Reasoning:          n.Reasoning,
	}), nil
}

// concerns gathers and ranks everything worth raising, most urgent first.
func (l *LiaisonCapability) concerns(task Task, report LiaisonReport, symptoms []patient.SymptomEvent) []Concern {
	var out []Concern
	add := func(source string, level analytics.EscalationLevel, format string, args ...any) {
		out = append(out, Concern{Source: source, Level: level, Description: fmt.Sprintf(format, args...)})
	}

	if report.TotalDoses > 0 {
		switch pct := report.AdherencePercent; {
		case pct < criticalAdherence:
			add("adherence", analytics.LevelCritical, "Adherence %.1f%% is critically low", pct)
		case pct < highAdherence:
			add("adherence", analytics.LevelHigh, "Adherence %.1f%% is well below target", pct)
		case !report.TargetMet:
			add("adherence", analytics.LevelModerate, "Adherence %.1f%% is below the %.0f%% target", pct, report.TargetPercent)
		}
	}

	for _, s := range symptoms {
		if s.Resolved {
			continue
		}
		switch {
		case s.Severity >= criticalSymptom:
			add("symptom", analytics.LevelCritical, "Severe symptom: %s (%d/10)", s.Description, s.Severity)
		case s.Severity >= highSymptom:
			add("symptom", analytics.LevelHigh, "Significant symptom: %s (%d/10)", s.Description, s.Severity)
		}
	}

	if mr, ok := priorData[MonitoringReport](task.Prior, Monitoring); ok {
		for _, a := range mr.Anomalies {
			if a.Severity == analytics.SeverityHigh {
				add("monitoring", analytics.LevelHigh, "%s", a.Description)
			}
		}
	}
	if br, ok := priorData[BarrierReport](task.Prior, Barrier); ok {
		for _, b := range br.Barriers {
			add("barrier", analytics.LevelForSeverity(b.Severity), "%s barrier: %s", strings.ReplaceAll(string(b.Category), "_", " "), b.Description)
		}
		if br.Complexity.RequiresProviderReview {
			add("barrier", analytics.LevelModerate, "Regimen complexity %d/10 warrants a medication review", br.Complexity.Score)
		}
	}
	if sr, ok := priorData[ScheduleReport](task.Prior, Planning); ok {
		for _, in := range sr.Interactions {
			if in.Severity == "high" {
				add("planning", analytics.LevelHigh, "High-severity interaction: %s and %s", in.DrugA, in.DrugB)
			}
		}
	}

	if sev := task.String("severity"); sev != "" {
		reason := task.String("reason")
		if reason == "" {
			reason = "Escalation requested"
		}
		add("request", analytics.ParseEscalationLevel(sev), "%s", reason)
	}
	if EmergencyRequested(task.Text) {
		add("request", analytics.LevelCritical, "Patient described an emergency")
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Level.Rank() > out[j].Level.Rank() })
	return out
}

func overallLevel(concerns []Concern) analytics.EscalationLevel {
	level := analytics.LevelLow
	for _, c := range concerns {
		if c.Level.Rank() > level.Rank() {
			level = c.Level
		}
	}
	return level
}

// priorData extracts a typed report from an earlier capability's result.
func priorData[T any](prior map[Name]Result, name Name) (T, bool) {
	var zero T
	r, ok := prior[name]
	if !ok || !r.Success {
		return zero, false
	}
	switch d := r.Data.(type) {
	case T:
		return d, true
	case *T:
		if d != nil {
			return *d, true
		}
	}
	return zero, false
}

func periodDays(v any) int {
	switch d := v.(type) {
	case int:
		if d > 0 {
			return d
		}
	case float64:
		if d > 0 {
			return int(d)
		}
	case string:
		if n, err := strconv.Atoi(d); err == nil && n > 0 {
			return n
		}
	}
	return defaultPeriodDays
}

func providerRecommendations(r LiaisonReport, prior map[Name]Result) []string {
	var recs []string
	if r.TotalDoses > 0 && !r.TargetMet {
		switch {
		case r.AdherencePercent < criticalAdherence:
			recs = append(recs, "URGENT: Significant adherence concerns. Consider medication review and patient education session.")
		case r.AdherencePercent < highAdherence:
			recs = append(recs, "Consider scheduling a medication therapy management session to address adherence barriers.")
		default:
			recs = append(recs, "Adherence slightly below target. Reinforce medication importance at next visit.")
		}
	}
	severe := 0
	for _, c := range r.Concerns {
		if c.Source == "symptom" {
			severe++
		}
	}
	if severe > 0 {
		recs = append(recs, fmt.Sprintf("Review %d high-severity symptom(s) for possible medication adjustment.", severe))
	}
	if br, ok := priorData[BarrierReport](prior, Barrier); ok {
		if br.Has(analytics.BarrierCost) {
			recs = append(recs, "Cost barriers identified. Consider therapeutic alternatives or patient assistance programs.")
		}
		if br.Has(analytics.BarrierSideEffects) {
			recs = append(recs, "Side effect concerns reported. May benefit from timing adjustment or an alternative formulation.")
		}
	}
	if len(recs) == 0 {
		recs = append(recs, "No action needed before the next scheduled visit.")
	}
	return recs
}

func (l *LiaisonCapability) record(ctx context.Context, task Task, report *LiaisonReport, summary string) error {
	content, err := json.Marshal(report)
	if err != nil {
		return err
	}
	rec := &patient.ReportRecord{
		PatientID:       task.PatientID,
		ReportType:      report.ReportType,
		PeriodStart:     report.PeriodStart,
		PeriodEnd:       report.PeriodEnd,
		Summary:         Sanitize(summary),
		EscalationLevel: string(report.Level),
		Content:         content,
	}
	if err := l.store.SaveReport(ctx, rec); err != nil {
		return err
	}
	report.ReportID = rec.ID
	return nil
}

func liaisonSummary(r LiaisonReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Provider report for the last %d days: adherence %.1f%%", r.PeriodDays, r.AdherencePercent)
	if r.TotalDoses == 0 {
		b.Reset()
		fmt.Fprintf(&b, "Provider report for the last %d days: no doses logged", r.PeriodDays)
	}
	fmt.Fprintf(&b, ", %d concern(s). Escalation level %s (%s).", len(r.Concerns), r.Level, r.TimeframeText)
	if len(r.Concerns) > 0 {
		fmt.Fprintf(&b, " Top concern: %s.", r.Concerns[0].Description)
	}
	return b.String()
}

func liaisonPrompt(task Task, p *patient.Patient, r LiaisonReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n\n", task.Text)
	if p != nil {
		fmt.Fprintf(&b, "Patient: %s\n", p.Name)
	}
	fmt.Fprintf(&b, "Reporting period: %d days\nAdherence: %.1f%% (%d/%d doses, target %.0f%%)\n",
		r.PeriodDays, r.AdherencePercent, r.TakenDoses, r.TotalDoses, r.TargetPercent)
	fmt.Fprintf(&b, "Active medications: %d\nSymptoms reported: %d (%d unresolved)\n\nConcerns:\n",
		r.MedicationCount, r.SymptomCount, r.UnresolvedSymptoms)
	for _, c := range r.Concerns {
		fmt.Fprintf(&b, "- [%s] %s\n", c.Level, c.Description)
	}
	fmt.Fprintf(&b, "\nEscalation level: %s, respond: %s\n", r.Level, r.TimeframeText)
	b.WriteString("Write a short clinical summary and recommendations for the provider.")
	return b.String()
}
