package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"adherence-guardian/internal/analytics"
	"adherence-guardian/internal/config"
	"adherence-guardian/internal/patient"
)

const (
	barrierLookbackDays       = 30
	forgetfulnessDays         = 14
	forgetfulnessRate         = 0.20
	forgetfulnessHighRate     = 0.40
	endOfMonthDay             = 25
	endOfMonthDropMargin      = 0.15
	complexityBarrierScore    = 5
	complexityHighScore       = 7
	complexityProviderScore   = 8
	sideEffectHighSeverity    = 7.0
	sideEffectMediumSeverity  = 4.0
	barrierConfidence         = 0.8
	defaultCostThreshold      = 50.0
	barrierRecordStatus       = "identified"
	barrierInterventionPrefix = "barrier_"
)

// BarrierFinding is one assessed barrier.
type BarrierFinding struct {
	Category         analytics.BarrierCategory `json:"category"`
	Severity         analytics.Severity        `json:"severity"`
	Description      string                    `json:"description"`
	Evidence         []string                  `json:"evidence"`
	Indicators       int                       `json:"indicators"`
	Score            analytics.BarrierScore    `json:"score"`
	RequiresProvider bool                      `json:"requires_provider"`
	Strategies       []string                  `json:"strategies,omitempty"`
}

// BarrierReport is the structured data of a barrier result.
type BarrierReport struct {
	Barriers               []BarrierFinding     `json:"barriers"`
	Interventions          []Intervention       `json:"interventions,omitempty"`
	Complexity             analytics.Complexity `json:"complexity"`
	RequiresScheduleChange bool                 `json:"requires_schedule_change"`
	RequiresProvider       bool                 `json:"requires_provider"`
}

// Has reports whether a barrier of the category was found.
func (r BarrierReport) Has(category analytics.BarrierCategory) bool {
	for _, b := range r.Barriers {
		if b.Category == category {
			return true
		}
	}
	return false
}

type BarrierCapability struct {
	base
	costThreshold float64
}

func NewBarrier(d Deps, cfg config.BarrierConfig) *BarrierCapability {
	threshold := cfg.CostThreshold
	if threshold <= 0 {
		threshold = defaultCostThreshold
	}
	return &BarrierCapability{base: newBase(Barrier, d), costThreshold: threshold}
}

// barrierInputs is everything the assessors read, loaded once per invocation.
type barrierInputs struct {
	patient  *patient.Patient
	meds     []patient.Medication
	events   []analytics.DoseEvent
	symptoms []patient.SymptomEvent
}

const barrierSystem = `You are a medication adherence barrier specialist. You explain why a patient may be struggling to take medications and prioritize practical strategies.
Never diagnose medical conditions and never suggest dosage changes.
Reply with JSON: {"summary": string, "recommendations": [string], "reasoning": string}.`

func (b *BarrierCapability) Assess(ctx context.Context, task Task) (Result, error) {
	in, err := b.load(ctx, task)
	if err != nil {
		return Result{}, err
	}

	report := b.assess(in)

	if err := b.record(ctx, task, report); err != nil {
		b.log.Warn().Err(err).Str("patient_id", task.PatientID.String()).Msg("failed to record barriers")
	}

	r := Result{
		Success:          true,
		Data:             report,
		Confidence:       barrierConfidence,
		RequiresFollowup: len(report.Barriers) > 0,
	}
	for _, f := range report.Barriers {
		if f.Severity == analytics.SeverityHigh || f.RequiresProvider {
			r.RequiresEscalation = true
		}
	}
	if report.Has(analytics.BarrierForgetfulness) || report.Has(analytics.BarrierComplexity) {
		r.SuggestedNext = Planning
	}

	fallback := narrative{
		Summary:         barrierSummary(report),
		Recommendations: barrierRecommendations(report),
	}
	n := b.phrase(ctx, barrierSystem, barrierPrompt(task, in, report), fallback)
	r.Summary = n.Summary
	r.Recommendations = n.Recommendations
	r.Reasoning = n.Reasoning

	return b.finish(task, r), nil
}

func (b *BarrierCapability) load(ctx context.Context, task Task) (barrierInputs, error) {
	now := b.now()
	var in barrierInputs
	var err error

	if in.patient, err = b.store.GetPatient(ctx, task.PatientID); err != nil {
		return in, unavailable("patient", err)
	}
	if in.meds, err = b.store.ActiveMedications(ctx, task.PatientID); err != nil {
		return in, unavailable("medications", err)
	}
	if in.events, err = b.store.DoseEvents(ctx, task.PatientID, now.AddDate(0, 0, -barrierLookbackDays), now); err != nil {
		return in, unavailable("dose events", err)
	}
	if in.symptoms, err = b.store.Symptoms(ctx, task.PatientID, now.AddDate(0, 0, -barrierLookbackDays), now); err != nil {
		return in, unavailable("symptoms", err)
	}
	return in, nil
}

// assess runs the five assessors. It does not touch the generator.
func (b *BarrierCapability) assess(in barrierInputs) BarrierReport {
	now := b.now()
	report := BarrierReport{Complexity: regimenComplexity(in.meds)}

	assessors := []func() (BarrierFinding, bool){
		func() (BarrierFinding, bool) { return b.assessCost(in) },
		func() (BarrierFinding, bool) { return assessSideEffects(in.symptoms) },
		func() (BarrierFinding, bool) {
			return assessForgetfulness(analytics.Between(in.events, now.AddDate(0, 0, -forgetfulnessDays), now))
		},
		func() (BarrierFinding, bool) { return assessComplexity(report.Complexity, len(in.meds)) },
		func() (BarrierFinding, bool) { return assessLifestyle(in.patient) },
	}
	for _, assess := range assessors {
		f, ok := assess()
		if !ok {
			continue
		}
		score, err := analytics.BarrierSeverityScore(f.Category, f.Indicators)
		if err == nil {
			f.Score = score
		}
		f.Strategies = strategiesFor(f, in)
		report.Barriers = append(report.Barriers, f)
	}

	sort.SliceStable(report.Barriers, func(i, j int) bool {
		return report.Barriers[i].Severity.Rank() > report.Barriers[j].Severity.Rank()
	})

	for _, f := range report.Barriers {
		switch f.Category {
		case analytics.BarrierForgetfulness, analytics.BarrierComplexity, analytics.BarrierLifestyle:
			report.RequiresScheduleChange = true
		}
		if f.RequiresProvider {
			report.RequiresProvider = true
		}
	}
	report.Interventions = interventionsFor(report.Barriers)
	return report
}

func (b *BarrierCapability) assessCost(in barrierInputs) (BarrierFinding, bool) {
	f := BarrierFinding{Category: analytics.BarrierCost, Description: "Cost may be affecting medication adherence"}

	var endOfMonth []analytics.DoseEvent
	for _, e := range in.events {
		if e.ScheduledTime.Day() > endOfMonthDay {
			endOfMonth = append(endOfMonth, e)
		}
	}
	if len(endOfMonth) > 0 {
		eom := analytics.TakenRate(endOfMonth)
		overall := analytics.TakenRate(in.events)
		if analytics.Round((overall-eom)*100, 1) >= endOfMonthDropMargin*100 {
			f.Indicators++
			f.Evidence = append(f.Evidence, fmt.Sprintf("End-of-month adherence %.0f%% vs %.0f%% overall", eom*100, overall*100))
		}
	}

	for _, m := range in.meds {
		if m.EstimatedCost > b.costThreshold {
			f.Evidence = append(f.Evidence, fmt.Sprintf("%s costs about $%.0f", m.Name, m.EstimatedCost))
		}
	}
	if expensiveCount(in.meds, b.costThreshold) > 0 {
		f.Indicators++
	}

	if f.Indicators == 0 {
		return f, false
	}
	f.Severity = analytics.SeverityMedium
	if f.Indicators > 1 {
		f.Severity = analytics.SeverityHigh
	}
	return f, true
}

func assessSideEffects(symptoms []patient.SymptomEvent) (BarrierFinding, bool) {
	var unresolved []patient.SymptomEvent
	for _, s := range symptoms {
		if !s.Resolved {
			unresolved = append(unresolved, s)
		}
	}
	if len(unresolved) == 0 {
		return BarrierFinding{}, false
	}

	total := 0
	f := BarrierFinding{
		Category:    analytics.BarrierSideEffects,
		Description: fmt.Sprintf("%d unresolved symptoms reported", len(unresolved)),
	}
	for _, s := range unresolved {
		total += s.Severity
		f.Evidence = append(f.Evidence, fmt.Sprintf("%s (severity %d)", s.Description, s.Severity))
	}
	avg := float64(total) / float64(len(unresolved))

	switch {
	case avg >= sideEffectHighSeverity:
		f.Severity = analytics.SeverityHigh
		f.Indicators = 2
	case avg >= sideEffectMediumSeverity:
		f.Severity = analytics.SeverityMedium
		f.Indicators = 1
	default:
		f.Severity = analytics.SeverityLow
		f.Indicators = 1
	}
	f.RequiresProvider = avg >= sideEffectHighSeverity
	return f, true
}

func assessForgetfulness(events []analytics.DoseEvent) (BarrierFinding, bool) {
	if len(events) == 0 {
		return BarrierFinding{}, false
	}
	delayed := analytics.CountStatus(events, analytics.StatusDelayed)
	missed := analytics.CountStatus(events, analytics.StatusMissed)
	rate := float64(delayed+missed) / float64(len(events))
	if rate <= forgetfulnessRate {
		return BarrierFinding{}, false
	}

	f := BarrierFinding{
		Category:    analytics.BarrierForgetfulness,
		Severity:    analytics.SeverityMedium,
		Description: fmt.Sprintf("%.0f%% of doses delayed or missed", rate*100),
		Evidence:    []string{fmt.Sprintf("%d delayed, %d missed of %d doses in %d days", delayed, missed, len(events), forgetfulnessDays)},
		Indicators:  1,
	}
	if rate > forgetfulnessHighRate {
		f.Severity = analytics.SeverityHigh
		f.Indicators = 2
	}
	if worst := analytics.PatternsByTime(events).Worst; worst != nil && worst.Rate < 1 {
		f.Evidence = append(f.Evidence, fmt.Sprintf("Most misses in the %s", worst.Name))
	}
	if worst := analytics.PatternsByDay(events).Worst; worst != nil && worst.Rate < 1 {
		f.Evidence = append(f.Evidence, fmt.Sprintf("Worst day: %s", worst.Name))
	}
	return f, true
}

func assessComplexity(c analytics.Complexity, medCount int) (BarrierFinding, bool) {
	if c.Score <= complexityBarrierScore {
		return BarrierFinding{}, false
	}
	f := BarrierFinding{
		Category:         analytics.BarrierComplexity,
		Severity:         analytics.SeverityMedium,
		Description:      fmt.Sprintf("Regimen complexity %d/10 across %d medications", c.Score, medCount),
		Evidence:         []string{fmt.Sprintf("%d medication, %d dosing and %d restriction points", c.MedicationPoints, c.DosingPoints, c.RestrictionPoints)},
		Indicators:       1,
		RequiresProvider: c.Score > complexityProviderScore,
	}
	if c.Score > complexityHighScore {
		f.Severity = analytics.SeverityHigh
		f.Indicators = 2
	}
	return f, true
}

func assessLifestyle(p *patient.Patient) (BarrierFinding, bool) {
	if p == nil {
		return BarrierFinding{}, false
	}
	var evidence []string
	switch p.WorkSchedule {
	case patient.ScheduleNightShift:
		evidence = append(evidence, "Night shift may conflict with medication timing")
	case patient.ScheduleVariable:
		evidence = append(evidence, "Variable schedule makes consistent timing difficult")
	}
	if p.TravelFrequency == patient.TravelFrequent {
		evidence = append(evidence, "Frequent travel may disrupt medication routine")
	}
	if len(evidence) == 0 {
		return BarrierFinding{}, false
	}
	return BarrierFinding{
		Category:    analytics.BarrierLifestyle,
		Severity:    analytics.SeverityMedium,
		Description: "Lifestyle factors may be affecting adherence",
		Evidence:    evidence,
		Indicators:  len(evidence),
	}, true
}

// regimenComplexity scores the active regimen. Distinct dose times come from
// the active schedules.
func regimenComplexity(meds []patient.Medication) analytics.Complexity {
	times := make(map[string]struct{})
	restricted := 0
	for _, m := range meds {
		for _, t := range m.ScheduleTimes {
			times[t] = struct{}{}
		}
		if m.HasRestriction() {
			restricted++
		}
	}
	return analytics.ComplexityScore(len(meds), len(times), restricted)
}

func expensiveCount(meds []patient.Medication, threshold float64) int {
	n := 0
	for _, m := range meds {
		if m.EstimatedCost > threshold {
			n++
		}
	}
	return n
}

// record requests barrier and intervention writes. Failures are reported to
// the caller for logging only.
func (b *BarrierCapability) record(ctx context.Context, task Task, report BarrierReport) error {
	if len(report.Barriers) == 0 {
		return nil
	}
	records := make([]patient.BarrierRecord, 0, len(report.Barriers))
	for _, f := range report.Barriers {
		records = append(records, patient.BarrierRecord{
			PatientID:   task.PatientID,
			Category:    string(f.Category),
			Severity:    string(f.Severity),
			Description: f.Description,
			Evidence:    f.Evidence,
			Strength:    f.Score.Strength,
			Status:      barrierRecordStatus,
		})
	}
	if err := b.store.SaveBarriers(ctx, records); err != nil {
		return fmt.Errorf("save barriers: %w", err)
	}

	for _, iv := range report.Interventions {
		details, _ := json.Marshal(iv)
		if err := b.store.SaveIntervention(ctx, &patient.InterventionRecord{
			PatientID:   task.PatientID,
			Type:        barrierInterventionPrefix + iv.Type,
			Description: iv.Action,
			Details:     details,
		}); err != nil {
			return fmt.Errorf("save intervention: %w", err)
		}
	}
	return nil
}

func barrierSummary(r BarrierReport) string {
	if len(r.Barriers) == 0 {
		return "No significant barriers identified."
	}
	parts := make([]string, 0, len(r.Barriers))
	for _, f := range r.Barriers {
		parts = append(parts, fmt.Sprintf("%s (%s)", strings.ReplaceAll(string(f.Category), "_", " "), f.Severity))
	}
	return fmt.Sprintf("Identified %d barrier(s): %s.", len(r.Barriers), strings.Join(parts, ", "))
}

func barrierRecommendations(r BarrierReport) []string {
	if len(r.Barriers) == 0 {
		return []string{"Continue current adherence strategies"}
	}
	var recs []string
	for _, f := range r.Barriers {
		if len(f.Strategies) > 0 {
			recs = append(recs, f.Strategies[0])
		}
	}
	if r.RequiresProvider {
		recs = append(recs, "Discuss the findings with the prescribing provider")
	}
	return recs
}

func barrierPrompt(task Task, in barrierInputs, r BarrierReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Patient request: %s\n\n", task.Text)
	if in.patient != nil {
		fmt.Fprintf(&b, "Work schedule: %s\nTravel: %s\n", in.patient.WorkSchedule, in.patient.TravelFrequency)
	}
	fmt.Fprintf(&b, "Active medications: %d\n\nBarriers:\n", len(in.meds))
	for _, f := range r.Barriers {
		fmt.Fprintf(&b, "- %s: %s (severity: %s)\n", f.Category, f.Description, f.Severity)
	}
	if len(r.Barriers) == 0 {
		b.WriteString("- none\n")
	}
	b.WriteString("\nPrioritize the barriers and recommend practical strategies.")
	return b.String()
}
