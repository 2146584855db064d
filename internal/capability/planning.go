package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"adherence-guardian/internal/llm"
	"adherence-guardian/internal/patient"
)

const (
	generatedConfidence = 0.85
	fallbackConfidence  = 0.7
	emptyRegimenConf    = 0.9

	SourceGenerated = "generated"
	SourceFallback  = "fallback"

	FoodWith    = "with_food"
	FoodWithout = "without_food"
)

// foodRequirements lists drugs with a known food requirement.
var foodRequirements = map[string]string{
	"metformin":     FoodWith,
	"ibuprofen":     FoodWith,
	"naproxen":      FoodWith,
	"aspirin":       FoodWith,
	"prednisone":    FoodWith,
	"valproic_acid": FoodWith,
	"levothyroxine": FoodWithout,
	"alendronate":   FoodWithout,
	"omeprazole":    FoodWithout,
	"pantoprazole":  FoodWithout,
	"esomeprazole":  FoodWithout,
}

// Interaction is a known pairwise drug interaction.
type Interaction struct {
	DrugA           string `json:"drug_a"`
	DrugB           string `json:"drug_b"`
	Severity        string `json:"severity"`
	SeparationHours int    `json:"separation_hours"`
	Description     string `json:"description"`
}

// interactions is keyed by the sorted lowercase pair.
var interactions = map[[2]string]Interaction{
	{"lisinopril", "metformin"}:    {Severity: "low", Description: "Generally safe. Monitor kidney function."},
	{"aspirin", "warfarin"}:        {Severity: "high", Description: "Increased bleeding risk. Requires careful monitoring."},
	{"atorvastatin", "grapefruit"}: {Severity: "moderate", Description: "Avoid grapefruit. Can increase statin levels."},
	{"contrast_dye", "metformin"}:  {Severity: "high", Description: "Hold metformin around contrast imaging."},
	{"calcium", "levothyroxine"}:   {Severity: "moderate", SeparationHours: 4, Description: "Calcium reduces levothyroxine absorption."},
	{"antacids", "ciprofloxacin"}:  {Severity: "moderate", SeparationHours: 2, Description: "Antacids reduce ciprofloxacin absorption."},
}

// LookupInteraction finds the interaction between two drugs, in either order.
func LookupInteraction(a, b string) (Interaction, bool) {
	x, y := drugKey(a), drugKey(b)
	if x > y {
		x, y = y, x
	}
	in, ok := interactions[[2]string{x, y}]
	if !ok {
		return Interaction{}, false
	}
	in.DrugA, in.DrugB = a, b
	return in, true
}

func drugKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// DoseRule is the timing constraint derived from one medication.
type DoseRule struct {
	Medication  string `json:"medication"`
	Label       string `json:"label"`
	TimesPerDay int    `json:"times_per_day"`
	MinGapHours int    `json:"minimum_gap_hours"`
	Food        string `json:"food,omitempty"`
}

// Constraints is everything a proposed schedule is validated against.
type Constraints struct {
	Rules        []DoseRule          `json:"rules"`
	Interactions []Interaction       `json:"interactions,omitempty"`
	Preferences  patient.Preferences `json:"preferences"`
}

// ParseFrequency derives doses per day and the minimum gap from frequency text.
func ParseFrequency(frequency string) (count, gapHours int) {
	f := strings.ToLower(frequency)
	switch {
	case strings.Contains(f, "once"):
		return 1, 24
	case strings.Contains(f, "twice"):
		return 2, 12
	case strings.Contains(f, "three") || strings.Contains(f, "3"):
		return 3, 8
	case strings.Contains(f, "four") || strings.Contains(f, "4"):
		return 4, 6
	default:
		return 1, 24
	}
}

// BuildConstraints collects dose rules and pairwise interactions.
func BuildConstraints(meds []patient.Medication, prefs patient.Preferences) Constraints {
	c := Constraints{Preferences: prefs.WithDefaults()}
	for i, m := range meds {
		count, gap := ParseFrequency(m.Frequency)
		rule := DoseRule{Medication: m.Name, Label: m.Label(), TimesPerDay: count, MinGapHours: gap}
		if req, ok := foodRequirements[drugKey(m.Name)]; ok {
			rule.Food = req
		} else if m.WithFood {
			rule.Food = FoodWith
		}
		c.Rules = append(c.Rules, rule)

		for _, other := range meds[i+1:] {
			if in, ok := LookupInteraction(m.Name, other.Name); ok {
				c.Interactions = append(c.Interactions, in)
			}
		}
	}
	return c
}

// Schedule maps HH:MM to the medication labels taken at that time.
type Schedule map[string][]string

// times returns the slot times at which the medication appears, in minutes since midnight.
func (s Schedule) times(medication string) []int {
	name := strings.ToLower(medication)
	var out []int
	for slot, entries := range s {
		minutes, ok := slotMinutes(slot)
		if !ok {
			continue
		}
		for _, e := range entries {
			if strings.Contains(strings.ToLower(e), name) {
				out = append(out, minutes)
				break
			}
		}
	}
	sort.Ints(out)
	return out
}

func slotMinutes(slot string) (int, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(slot))
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

func formatSlot(minutes int) string {
	minutes = ((minutes % (24 * 60)) + 24*60) % (24 * 60)
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Validate returns every constraint the schedule violates. An empty result
// means the schedule is acceptable.
func (c Constraints) Validate(s Schedule) []string {
	var issues []string
	for slot := range s {
		if _, ok := slotMinutes(slot); !ok {
			issues = append(issues, fmt.Sprintf("invalid time %q", slot))
		}
	}
	for _, r := range c.Rules {
		at := s.times(r.Medication)
		if len(at) == 0 {
			issues = append(issues, fmt.Sprintf("%s is not scheduled", r.Medication))
			continue
		}
		if r.TimesPerDay < 2 {
			continue
		}
		for i := 1; i < len(at); i++ {
			if gap := at[i] - at[i-1]; gap < r.MinGapHours*60 {
				issues = append(issues, fmt.Sprintf("%s doses %s and %s are less than %dh apart",
					r.Medication, formatSlot(at[i-1]), formatSlot(at[i]), r.MinGapHours))
			}
		}
	}
	for _, in := range c.Interactions {
		if in.SeparationHours <= 0 {
			continue
		}
		for _, a := range s.times(in.DrugA) {
			for _, b := range s.times(in.DrugB) {
				if circularGap(a, b) < in.SeparationHours*60 {
					issues = append(issues, fmt.Sprintf("%s and %s must be %dh apart",
						in.DrugA, in.DrugB, in.SeparationHours))
				}
			}
		}
	}
	return issues
}

func circularGap(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	return min(d, 24*60-d)
}

var fallbackSlots = map[int][]string{
	1: {"08:00"},
	2: {"08:00", "20:00"},
	3: {"07:00", "15:00", "23:00"},
	4: {"05:00", "11:00", "17:00", "23:00"},
}

// FallbackSchedule assigns slots from the frequency table. For each separated
// pair, the drug not pinned to wake time moves by whole hours until every dose
// clears the partner's doses.
func (c Constraints) FallbackSchedule() Schedule {
	at := make([][]int, len(c.Rules))
	pinned := make(map[string]bool)
	for i, r := range c.Rules {
		slots := fallbackSlots[r.TimesPerDay]
		if r.TimesPerDay == 1 && r.Food == FoodWithout {
			slots = []string{c.Preferences.WakeTime}
			pinned[drugKey(r.Medication)] = true
		}
		for _, slot := range slots {
			if m, ok := slotMinutes(slot); ok {
				at[i] = append(at[i], m)
			}
		}
	}

	for _, in := range c.Interactions {
		if in.SeparationHours <= 0 || in.SeparationHours > 12 {
			continue
		}
		mover, anchor := drugKey(in.DrugB), drugKey(in.DrugA)
		if pinned[mover] && !pinned[anchor] {
			mover, anchor = anchor, mover
		}
		var moving, fixed []int
		for i, r := range c.Rules {
			switch drugKey(r.Medication) {
			case mover:
				moving = append(moving, at[i]...)
			case anchor:
				fixed = append(fixed, at[i]...)
			}
		}
		offset, ok := separatingOffset(moving, fixed, in.SeparationHours*60)
		if !ok || offset == 0 {
			continue
		}
		for i, r := range c.Rules {
			if drugKey(r.Medication) != mover {
				continue
			}
			for j := range at[i] {
				at[i][j] = (at[i][j] + offset) % (24 * 60)
			}
		}
	}

	s := make(Schedule)
	for i, r := range c.Rules {
		for _, m := range at[i] {
			key := formatSlot(m)
			s[key] = append(s[key], r.Label)
		}
	}
	return s
}

// separatingOffset is the smallest whole-hour shift of moving that keeps every
// slot at least gap minutes from every slot in fixed.
func separatingOffset(moving, fixed []int, gap int) (int, bool) {
	for h := 0; h < 24; h++ {
		apart := true
		for _, m := range moving {
			for _, f := range fixed {
				if circularGap((m+h*60)%(24*60), f) < gap {
					apart = false
				}
			}
		}
		if apart {
			return h * 60, true
		}
	}
	return 0, false
}

type proposal struct {
	Schedule  Schedule `json:"schedule"`
	Reasoning string   `json:"reasoning"`
	Warnings  []string `json:"warnings"`
}

// ScheduleReport is the structured data of a planning result.
type ScheduleReport struct {
	Schedule         Schedule      `json:"schedule"`
	TimeSlots        int           `json:"time_slots"`
	MedicationCount  int           `json:"medication_count"`
	Constraints      Constraints   `json:"constraints"`
	Interactions     []Interaction `json:"interactions,omitempty"`
	Source           string        `json:"source"`
	ValidationIssues []string      `json:"validation_issues,omitempty"`
	ScheduleUpdated  bool          `json:"schedule_updated"`
	Disruption       string        `json:"disruption,omitempty"`
}

type PlanningCapability struct {
	base
}

func NewPlanning(d Deps) *PlanningCapability {
	return &PlanningCapability{base: newBase(Planning, d)}
}

const planningSystem = `You are a medication scheduling assistant. You assign daily dose times that respect food requirements, minimum gaps between doses and drug interaction separations, anchored to the patient's routine.
Never suggest changing doses and never add or remove medications.`

func (p *PlanningCapability) Assess(ctx context.Context, task Task) (Result, error) {
	pat, err := p.store.GetPatient(ctx, task.PatientID)
	if err != nil {
		return Result{}, unavailable("patient", err)
	}
	meds, err := p.store.ActiveMedications(ctx, task.PatientID)
	if err != nil {
		return Result{}, unavailable("medications", err)
	}
	if id, ok := task.UUID("medication_id"); ok {
		meds, err = p.withMedication(ctx, meds, id)
		if err != nil {
			return Result{}, err
		}
	}

	if len(meds) == 0 {
		return p.finish(task, Result{
			Success:    true,
			Summary:    "No active medications found to schedule.",
			Data:       ScheduleReport{Schedule: Schedule{}},
			Confidence: emptyRegimenConf,
		}), nil
	}

	constraints := BuildConstraints(meds, pat.Preferences)

	if task.Mentions("check interaction", "interactions") && !task.Mentions("schedule") {
		return p.finish(task, interactionResult(constraints, len(meds))), nil
	}

	disruption := task.String("disruption_type")
	if disruption == "" && task.Mentions("replan") {
		disruption = "general"
	}

	prompt := schedulePrompt(meds, constraints, disruption, task.String("disruption_details"))
	got, ok := llm.GenerateJSON(ctx, p.gen, prompt, llm.WithTimeContext(planningSystem, p.now()), proposal{})

	report := ScheduleReport{
		MedicationCount: len(meds),
		Constraints:     constraints,
		Interactions:    constraints.Interactions,
		ScheduleUpdated: true,
		Disruption:      disruption,
	}
	confidence := generatedConfidence
	var issues []string
	if ok {
		issues = constraints.Validate(got.Schedule)
	}
	if ok && len(got.Schedule) > 0 && len(issues) == 0 {
		report.Schedule = got.Schedule
		report.Source = SourceGenerated
	} else {
		if ok {
			p.log.Warn().Strs("issues", issues).Msg("generated schedule rejected")
		}
		report.Schedule = constraints.FallbackSchedule()
		report.Source = SourceFallback
		if rest := constraints.Validate(report.Schedule); len(rest) > 0 {
			p.log.Warn().Strs("issues", rest).Msg("fallback schedule breaks constraints")
			issues = append(issues, rest...)
		}
		report.ValidationIssues = issues
		confidence = fallbackConfidence
		got.Reasoning = "Default schedule based on frequency and known constraints"
	}
	report.TimeSlots = len(report.Schedule)

	if err := p.record(ctx, task, report, got.Reasoning); err != nil {
		p.log.Warn().Err(err).Str("patient_id", task.PatientID.String()).Msg("failed to record schedule")
	}

	r := Result{
		Success:         true,
		Summary:         scheduleSummary(report),
		Data:            report,
		Confidence:      confidence,
		Recommendations: append(interactionWarnings(constraints), got.Warnings...),
		Reasoning:       got.Reasoning,
	}
	for _, in := range constraints.Interactions {
		if in.Severity == "high" {
			r.RequiresFollowup = true
			r.RequiresEscalation = true
		}
	}
	return p.finish(task, r), nil
}

// withMedication makes sure a newly prescribed medication is part of the regimen.
func (p *PlanningCapability) withMedication(ctx context.Context, meds []patient.Medication, id uuid.UUID) ([]patient.Medication, error) {
	for _, m := range meds {
		if m.ID == id {
			return meds, nil
		}
	}
	med, err := p.store.GetMedication(ctx, id)
	if errors.Is(err, patient.ErrNotFound) {
		return meds, nil
	}
	if err != nil {
		return nil, unavailable("medication", err)
	}
	return append(meds, *med), nil
}

func (p *PlanningCapability) record(ctx context.Context, task Task, report ScheduleReport, reasoning string) error {
	details, err := json.Marshal(map[string]any{
		"schedule":   report.Schedule,
		"source":     report.Source,
		"disruption": report.Disruption,
		"reasoning":  reasoning,
	})
	if err != nil {
		return err
	}
	return p.store.SaveIntervention(ctx, &patient.InterventionRecord{
		PatientID:   task.PatientID,
		Type:        "schedule_optimization",
		Description: scheduleSummary(report),
		Details:     details,
	})
}

func interactionResult(c Constraints, medCount int) Result {
	summary := "No significant interactions found."
	if len(c.Interactions) > 0 {
		summary = fmt.Sprintf("Found %d potential interaction(s).", len(c.Interactions))
	}
	r := Result{
		Success:         true,
		Summary:         summary,
		Data:            ScheduleReport{MedicationCount: medCount, Constraints: c, Interactions: c.Interactions},
		Confidence:      0.8,
		Recommendations: interactionWarnings(c),
	}
	for _, in := range c.Interactions {
		if in.Severity == "high" {
			r.RequiresFollowup = true
			r.RequiresEscalation = true
		}
	}
	return r
}

func interactionWarnings(c Constraints) []string {
	var out []string
	for _, in := range c.Interactions {
		if in.Severity == "low" {
			continue
		}
		w := fmt.Sprintf("%s + %s: %s", in.DrugA, in.DrugB, in.Description)
		if in.SeparationHours > 0 {
			w += fmt.Sprintf(" Keep doses %dh apart.", in.SeparationHours)
		}
		out = append(out, w)
	}
	return out
}

func scheduleSummary(r ScheduleReport) string {
	if r.Disruption != "" {
		return fmt.Sprintf("Schedule replanned due to %s: %d time slots for %d medication(s).",
			strings.ReplaceAll(r.Disruption, "_", " "), r.TimeSlots, r.MedicationCount)
	}
	return fmt.Sprintf("Created optimized schedule with %d time slots for %d medication(s).", r.TimeSlots, r.MedicationCount)
}

func schedulePrompt(meds []patient.Medication, c Constraints, disruption, details string) string {
	var b strings.Builder
	if disruption != "" {
		fmt.Fprintf(&b, "The patient needs to replan their schedule due to a disruption.\nDisruption: %s\n", disruption)
		if details != "" {
			fmt.Fprintf(&b, "Details: %s\n", details)
		}
		b.WriteString("\n")
	}
	b.WriteString("Create an optimal daily schedule for these medications:\n")
	for _, m := range meds {
		fmt.Fprintf(&b, "- %s: %s\n", m.Label(), m.Frequency)
	}
	pr := c.Preferences
	fmt.Fprintf(&b, "\nRoutine: wake %s, breakfast %s, lunch %s, dinner %s, sleep %s\n",
		pr.WakeTime, pr.BreakfastTime, pr.LunchTime, pr.DinnerTime, pr.SleepTime)
	b.WriteString("\nConstraints:\n")
	for _, r := range c.Rules {
		fmt.Fprintf(&b, "- %s: %d time(s) per day, at least %dh apart", r.Medication, r.TimesPerDay, r.MinGapHours)
		if r.Food != "" {
			fmt.Fprintf(&b, ", %s", strings.ReplaceAll(r.Food, "_", " "))
		}
		b.WriteString("\n")
	}
	for _, in := range c.Interactions {
		fmt.Fprintf(&b, "- %s and %s: %s", in.DrugA, in.DrugB, in.Description)
		if in.SeparationHours > 0 {
			fmt.Fprintf(&b, " Separate by %dh.", in.SeparationHours)
		}
		b.WriteString("\n")
	}
	b.WriteString(`
Reply with JSON:
{"schedule": {"08:00": ["Med1 dosage"], "20:00": ["Med1 dosage"]}, "reasoning": "explanation", "warnings": ["warning"]}`)
	return b.String()
}
