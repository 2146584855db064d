package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adherence-guardian/internal/analytics"
	"adherence-guardian/internal/config"
	"adherence-guardian/internal/patient"
)

// ============================================================================
// Barrier
// ============================================================================

func barrierCfg() config.BarrierConfig { return config.BarrierConfig{CostThreshold: 50} }

func TestBarrier_ForgetfulnessSuggestsPlanning(t *testing.T) {
	repo, pid := seeded(t)
	b := NewBarrier(deps(repo, nil), barrierCfg())

	r, err := b.Assess(context.Background(), task(pid, "Why do I keep missing doses?"))
	require.NoError(t, err)

	report, ok := r.Data.(BarrierReport)
	require.True(t, ok)
	require.Len(t, report.Barriers, 1)

	f := report.Barriers[0]
	assert.Equal(t, analytics.BarrierForgetfulness, f.Category)
	assert.Equal(t, analytics.SeverityMedium, f.Severity)
	assert.NotEmpty(t, f.Strategies)
	assert.False(t, f.Score.RequiresEscalation)

	assert.True(t, report.RequiresScheduleChange)
	assert.False(t, r.RequiresEscalation)
	assert.Equal(t, Planning, r.SuggestedNext)

	assert.Len(t, repo.Barriers(), 1)
	require.Len(t, repo.Interventions(), 1)
	assert.Equal(t, "barrier_reminder_enhancement", repo.Interventions()[0].Type)
}

func TestBarrier_OrderedBySeverity(t *testing.T) {
	repo := patient.NewMemoryRepository()
	pid := newPatient(repo, func(p *patient.Patient) {
		p.WorkSchedule = patient.ScheduleNightShift
		p.TravelFrequency = patient.TravelFrequent
	})
	addMed(repo, pid, "Eliquis", "twice daily", func(m *patient.Medication) { m.EstimatedCost = 120 })
	for _, sev := range []int{8, 9} {
		repo.AddSymptom(patient.SymptomEvent{
			ID:          uuid.New(),
			PatientID:   pid,
			Description: "dizziness",
			Severity:    sev,
			ReportedAt:  now.AddDate(0, 0, -3),
		})
	}
	b := NewBarrier(deps(repo, nil), barrierCfg())

	r, err := b.Assess(context.Background(), task(pid, "barriers"))
	require.NoError(t, err)

	report := r.Data.(BarrierReport)
	var got []analytics.BarrierCategory
	for _, f := range report.Barriers {
		got = append(got, f.Category)
	}
	assert.Equal(t, []analytics.BarrierCategory{
		analytics.BarrierSideEffects,
		analytics.BarrierCost,
		analytics.BarrierLifestyle,
	}, got)

	side := report.Barriers[0]
	assert.Equal(t, analytics.SeverityHigh, side.Severity)
	assert.True(t, side.RequiresProvider)
	assert.Equal(t, 2, report.Barriers[2].Indicators)

	assert.True(t, report.RequiresProvider)
	assert.True(t, report.RequiresScheduleChange)
	assert.True(t, r.RequiresEscalation)
	assert.Empty(t, r.SuggestedNext)
}

func TestBarrier_ComplexRegimen(t *testing.T) {
	repo := patient.NewMemoryRepository()
	pid := newPatient(repo, nil)
	times := []string{"08:00", "12:00", "18:00", "22:00"}
	for i := 0; i < 6; i++ {
		addMed(repo, pid, "Drug"+string(rune('A'+i)), "once daily", func(m *patient.Medication) {
			m.ScheduleTimes = []string{times[i%len(times)]}
			m.WithFood = i < 3
		})
	}
	b := NewBarrier(deps(repo, nil), barrierCfg())

	r, err := b.Assess(context.Background(), task(pid, "too many pills"))
	require.NoError(t, err)

	report := r.Data.(BarrierReport)
	assert.Equal(t, 8, report.Complexity.Score)
	require.True(t, report.Has(analytics.BarrierComplexity))
	assert.Equal(t, analytics.SeverityHigh, report.Barriers[0].Severity)
	assert.False(t, report.Barriers[0].RequiresProvider)
	assert.Contains(t, report.Barriers[0].Strategies, "Ask about combination pills")
	assert.True(t, r.RequiresEscalation)
	assert.Equal(t, Planning, r.SuggestedNext)
}

func TestBarrier_NoneFound(t *testing.T) {
	repo := patient.NewMemoryRepository()
	pid := newPatient(repo, nil)
	addMed(repo, pid, "Lisinopril", "once daily", nil)
	dailyDoses(repo, pid, allTaken(14)...)
	b := NewBarrier(deps(repo, nil), barrierCfg())

	r, err := b.Assess(context.Background(), task(pid, "barriers"))
	require.NoError(t, err)
	assert.Empty(t, r.Data.(BarrierReport).Barriers)
	assert.Equal(t, "No significant barriers identified.", r.Summary)
	assert.False(t, r.RequiresFollowup)
	assert.Empty(t, repo.Barriers())
}

func TestBarrier_EndOfMonthDropThreshold(t *testing.T) {
	tests := []struct {
		name      string
		lateTaken int
		want      bool
	}{
		{name: "drop of exactly fifteen points", lateTaken: 7, want: true},
		{name: "drop of ten points", lateTaken: 8, want: false},
		{name: "no end-of-month doses taken", lateTaken: 0, want: true},
	}

	b := NewBarrier(deps(patient.NewMemoryRepository(), nil), barrierCfg())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var events []analytics.DoseEvent
			for i := 0; i < 10; i++ {
				events = append(events,
					analytics.DoseEvent{ScheduledTime: time.Date(2026, 2, 5, 8+i, 0, 0, 0, time.UTC), Taken: true},
					analytics.DoseEvent{ScheduledTime: time.Date(2026, 2, 27, 8+i, 0, 0, 0, time.UTC), Taken: i < tt.lateTaken},
				)
			}

			f, found := b.assessCost(barrierInputs{events: events})
			assert.Equal(t, tt.want, found)
			if tt.want {
				assert.Equal(t, 1, f.Indicators)
				require.NotEmpty(t, f.Evidence)
				assert.Contains(t, f.Evidence[0], "End-of-month adherence")
			}
		})
	}
}

// ============================================================================
// Planning
// ============================================================================

func TestParseFrequency(t *testing.T) {
	tests := []struct {
		in    string
		count int
		gap   int
	}{
		{"once daily", 1, 24},
		{"Twice a day", 2, 12},
		{"three times daily", 3, 8},
		{"4x per day", 4, 6},
		{"as needed", 1, 24},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			count, gap := ParseFrequency(tt.in)
			assert.Equal(t, tt.count, count)
			assert.Equal(t, tt.gap, gap)
		})
	}
}

func TestLookupInteraction_EitherOrder(t *testing.T) {
	a, ok := LookupInteraction("Aspirin", "Warfarin")
	require.True(t, ok)
	b, ok := LookupInteraction("warfarin", "aspirin")
	require.True(t, ok)
	assert.Equal(t, a.Severity, b.Severity)
	assert.Equal(t, "high", a.Severity)

	_, ok = LookupInteraction("Metformin", "Sertraline")
	assert.False(t, ok)
}

func TestConstraints_SeparationAndFallback(t *testing.T) {
	meds := []patient.Medication{
		{Name: "Levothyroxine", Frequency: "once daily"},
		{Name: "Calcium", Frequency: "once daily"},
	}
	c := BuildConstraints(meds, patient.Preferences{})
	require.Len(t, c.Interactions, 1)
	assert.Equal(t, FoodWithout, c.Rules[0].Food)

	issues := c.Validate(Schedule{"08:00": {"Levothyroxine", "Calcium"}})
	assert.Len(t, issues, 1)

	fallback := c.FallbackSchedule()
	assert.Equal(t, Schedule{"07:00": {"Levothyroxine"}, "11:00": {"Calcium"}}, fallback)
	assert.Empty(t, c.Validate(fallback))
}

func TestConstraints_FallbackKeepsSeparatedPairsApart(t *testing.T) {
	tests := []struct {
		name  string
		meds  []patient.Medication
		want  Schedule
		pinAt string
	}{
		{
			name: "calcium listed first",
			meds: []patient.Medication{
				{Name: "Calcium", Frequency: "once daily"},
				{Name: "Levothyroxine", Frequency: "once daily"},
			},
			want:  Schedule{"07:00": {"Levothyroxine"}, "11:00": {"Calcium"}},
			pinAt: "07:00",
		},
		{
			name: "twice daily calcium",
			meds: []patient.Medication{
				{Name: "Calcium", Frequency: "twice daily"},
				{Name: "Levothyroxine", Frequency: "once daily"},
			},
			want:  Schedule{"07:00": {"Levothyroxine"}, "11:00": {"Calcium"}, "23:00": {"Calcium"}},
			pinAt: "07:00",
		},
		{
			name: "ciprofloxacin listed first",
			meds: []patient.Medication{
				{Name: "Ciprofloxacin", Frequency: "twice daily"},
				{Name: "Antacids", Frequency: "twice daily"},
			},
			want: Schedule{"08:00": {"Ciprofloxacin"}, "10:00": {"Antacids"}, "20:00": {"Ciprofloxacin"}, "22:00": {"Antacids"}},
		},
		{
			name: "antacids listed first",
			meds: []patient.Medication{
				{Name: "Antacids", Frequency: "twice daily"},
				{Name: "Ciprofloxacin", Frequency: "twice daily"},
			},
			want: Schedule{"08:00": {"Antacids"}, "10:00": {"Ciprofloxacin"}, "20:00": {"Antacids"}, "22:00": {"Ciprofloxacin"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := BuildConstraints(tt.meds, patient.Preferences{})
			require.Len(t, c.Interactions, 1)

			fallback := c.FallbackSchedule()
			if diff := cmp.Diff(tt.want, fallback); diff != "" {
				t.Errorf("fallback schedule (-want +got):\n%s", diff)
			}
			assert.Empty(t, c.Validate(fallback))
			if tt.pinAt != "" {
				assert.Contains(t, fallback[tt.pinAt], "Levothyroxine")
			}
		})
	}
}

func TestConstraints_FallbackValidForEveryKnownInteraction(t *testing.T) {
	for pair, in := range interactions {
		for _, order := range [][2]string{{pair[0], pair[1]}, {pair[1], pair[0]}} {
			for _, freq := range []string{"once daily", "twice daily"} {
				t.Run(order[0]+"+"+order[1]+"/"+freq, func(t *testing.T) {
					c := BuildConstraints([]patient.Medication{
						{Name: order[0], Frequency: freq},
						{Name: order[1], Frequency: "once daily"},
					}, patient.Preferences{})
					require.Len(t, c.Interactions, 1)
					assert.Equal(t, in.SeparationHours, c.Interactions[0].SeparationHours)
					assert.Empty(t, c.Validate(c.FallbackSchedule()))
				})
			}
		}
	}
}

func TestConstraints_ContrastDyeIsWarningOnly(t *testing.T) {
	c := BuildConstraints([]patient.Medication{
		{Name: "Metformin", Frequency: "twice daily"},
		{Name: "Contrast Dye", Frequency: "once daily"},
	}, patient.Preferences{})
	require.Len(t, c.Interactions, 1)
	assert.Equal(t, "high", c.Interactions[0].Severity)
	assert.Zero(t, c.Interactions[0].SeparationHours)

	assert.Empty(t, c.Validate(Schedule{"08:00": {"Metformin", "Contrast Dye"}, "20:00": {"Metformin"}}))
}

func TestConstraints_MinimumGap(t *testing.T) {
	c := BuildConstraints([]patient.Medication{{Name: "Metformin", Dosage: "500mg", Frequency: "twice daily"}}, patient.Preferences{})

	assert.Empty(t, c.Validate(Schedule{"08:00": {"Metformin 500mg"}, "20:00": {"Metformin 500mg"}}))
	assert.Len(t, c.Validate(Schedule{"08:00": {"Metformin 500mg"}, "14:00": {"Metformin 500mg"}}), 1)
	assert.Contains(t, c.Validate(Schedule{"8am": {"Metformin 500mg"}}), `invalid time "8am"`)
}

func TestPlanning_FallbackWhenGeneratorOffline(t *testing.T) {
	repo, pid := seeded(t)
	p := NewPlanning(deps(repo, nil))

	r, err := p.Assess(context.Background(), task(pid, "optimize my schedule"))
	require.NoError(t, err)

	report := r.Data.(ScheduleReport)
	assert.Equal(t, SourceFallback, report.Source)
	want := Schedule{
		"08:00": {"Lisinopril 10mg", "Metformin 500mg"},
		"20:00": {"Metformin 500mg"},
	}
	if diff := cmp.Diff(want, report.Schedule); diff != "" {
		t.Errorf("fallback schedule (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, report.TimeSlots)
	assert.Equal(t, fallbackConfidence, r.Confidence)
	assert.False(t, r.RequiresEscalation)

	require.Len(t, repo.Interventions(), 1)
	assert.Equal(t, "schedule_optimization", repo.Interventions()[0].Type)
}

func TestPlanning_AcceptsValidGeneratedSchedule(t *testing.T) {
	repo, pid := seeded(t)
	gen := reply(`{"schedule": {"07:30": ["Metformin 500mg", "Lisinopril 10mg"], "19:30": ["Metformin 500mg"]},
		"reasoning": "Anchored to breakfast and dinner", "warnings": ["Take metformin with meals"]}`)
	p := NewPlanning(deps(repo, gen))

	r, err := p.Assess(context.Background(), task(pid, "optimize my schedule"))
	require.NoError(t, err)

	report := r.Data.(ScheduleReport)
	assert.Equal(t, SourceGenerated, report.Source)
	assert.Contains(t, report.Schedule, "07:30")
	assert.Equal(t, "Anchored to breakfast and dinner", r.Reasoning)
	assert.Contains(t, r.Recommendations, "Take metformin with meals")
	assert.Equal(t, generatedConfidence, r.Confidence)
}

func TestPlanning_RejectsScheduleThatBreaksConstraints(t *testing.T) {
	repo, pid := seeded(t)
	gen := reply(`{"schedule": {"08:00": ["Metformin 500mg"], "12:00": ["Metformin 500mg"]}}`)
	p := NewPlanning(deps(repo, gen))

	r, err := p.Assess(context.Background(), task(pid, "replan please"))
	require.NoError(t, err)

	report := r.Data.(ScheduleReport)
	assert.Equal(t, SourceFallback, report.Source)
	assert.Len(t, report.ValidationIssues, 2)
	assert.Equal(t, "general", report.Disruption)
	assert.Contains(t, r.Summary, "replanned")
}

func TestPlanning_FallbackSeparatesCalciumListedFirst(t *testing.T) {
	repo := patient.NewMemoryRepository()
	pid := newPatient(repo, nil)
	addMed(repo, pid, "Calcium", "once daily", nil)
	addMed(repo, pid, "Levothyroxine", "once daily", nil)
	p := NewPlanning(deps(repo, nil))

	r, err := p.Assess(context.Background(), task(pid, "optimize my schedule"))
	require.NoError(t, err)

	report := r.Data.(ScheduleReport)
	assert.Equal(t, SourceFallback, report.Source)
	assert.Empty(t, report.ValidationIssues)
	assert.Empty(t, report.Constraints.Validate(report.Schedule))
	assert.Equal(t, []string{"Levothyroxine 10mg"}, report.Schedule["07:00"])
	assert.Equal(t, []string{"Calcium 10mg"}, report.Schedule["11:00"])
}

func TestPlanning_IncludesNewMedication(t *testing.T) {
	repo, pid := seeded(t)
	med := addMed(repo, pid, "Atorvastatin", "once daily", func(m *patient.Medication) { m.Active = false })
	p := NewPlanning(deps(repo, nil))

	tk := task(pid, "new medication added")
	tk.Context["medication_id"] = med.ID.String()
	r, err := p.Assess(context.Background(), tk)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Data.(ScheduleReport).MedicationCount)
}

func TestPlanning_HighSeverityInteractionEscalates(t *testing.T) {
	repo := patient.NewMemoryRepository()
	pid := newPatient(repo, nil)
	addMed(repo, pid, "Warfarin", "once daily", nil)
	addMed(repo, pid, "Aspirin", "once daily", nil)
	p := NewPlanning(deps(repo, nil))

	r, err := p.Assess(context.Background(), task(pid, "check interactions"))
	require.NoError(t, err)
	assert.Equal(t, "Found 1 potential interaction(s).", r.Summary)
	assert.True(t, r.RequiresEscalation)
	assert.Len(t, r.Recommendations, 1)
}

func TestPlanning_NoMedications(t *testing.T) {
	repo := patient.NewMemoryRepository()
	pid := newPatient(repo, nil)
	p := NewPlanning(deps(repo, nil))

	r, err := p.Assess(context.Background(), task(pid, "schedule"))
	require.NoError(t, err)
	assert.True(t, r.Success)
	assert.Equal(t, emptyRegimenConf, r.Confidence)
}

func TestPlanning_MissingPatient(t *testing.T) {
	p := NewPlanning(deps(patient.NewMemoryRepository(), nil))
	_, err := p.Assess(context.Background(), task(uuid.New(), "schedule"))
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

// ============================================================================
// Liaison
// ============================================================================

func TestLiaison_LowAdherenceNotifiesSameDay(t *testing.T) {
	repo, pid := seeded(t)
	ctx := context.Background()

	barrier, err := NewBarrier(deps(repo, nil), barrierCfg()).Assess(ctx, task(pid, "barriers"))
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	l := NewLiaison(deps(repo, nil), monitoringCfg(), notifier)
	tk := task(pid, "prepare a report for my doctor")
	tk.Prior[Barrier] = barrier

	r, err := l.Assess(ctx, tk)
	require.NoError(t, err)

	report := r.Data.(LiaisonReport)
	assert.Equal(t, 64.3, report.AdherencePercent)
	assert.Equal(t, analytics.LevelHigh, report.Level)
	assert.Equal(t, analytics.TimeframeSameDay, report.Timeframe)
	assert.Equal(t, "Same-day response recommended", report.TimeframeText)
	require.NotEmpty(t, report.Concerns)
	assert.Equal(t, "adherence", report.Concerns[0].Source)
	assert.Contains(t, report.ProviderRecommendations[0], "medication therapy management")
	assert.True(t, r.RequiresEscalation)

	assert.True(t, report.NotificationSent)
	require.Len(t, notifier.got, 1)
	assert.Equal(t, analytics.LevelHigh, notifier.got[0].Level)
	assert.Equal(t, report.ReportID, notifier.got[0].ReportID)

	require.Len(t, repo.Reports(), 1)
	assert.Equal(t, "high", repo.Reports()[0].EscalationLevel)
}

func TestLiaison_ExplicitCriticalRequest(t *testing.T) {
	repo := patient.NewMemoryRepository()
	pid := newPatient(repo, nil)
	dailyDoses(repo, pid, allTaken(14)...)
	l := NewLiaison(deps(repo, nil), monitoringCfg(), nil)

	tk := task(pid, "escalate to my provider")
	tk.Context["severity"] = "critical"
	tk.Context["reason"] = "Fainted twice today"
	r, err := l.Assess(context.Background(), tk)
	require.NoError(t, err)

	report := r.Data.(LiaisonReport)
	assert.Equal(t, analytics.LevelCritical, report.Level)
	assert.Equal(t, analytics.TimeframeImmediate, report.Timeframe)
	assert.Equal(t, "Fainted twice today", report.Concerns[0].Description)
	assert.Equal(t, reportEscalation, report.ReportType)
	assert.False(t, report.NotificationSent)
}

func TestLiaison_NotificationFailureIsRecorded(t *testing.T) {
	repo, pid := seeded(t)
	notifier := &recordingNotifier{err: errors.New("telegram down")}
	l := NewLiaison(deps(repo, nil), monitoringCfg(), notifier)

	r, err := l.Assess(context.Background(), task(pid, "report"))
	require.NoError(t, err)
	assert.True(t, r.Success)

	report := r.Data.(LiaisonReport)
	assert.False(t, report.NotificationSent)
	assert.Equal(t, "telegram down", report.NotificationError)
}

func TestLiaison_ResolvedSymptomsDoNotEscalate(t *testing.T) {
	tests := []struct {
		name       string
		resolved   bool
		wantLevel  analytics.EscalationLevel
		wantNotify int
	}{
		{name: "resolved severe symptom", resolved: true, wantLevel: analytics.LevelLow, wantNotify: 0},
		{name: "open severe symptom", resolved: false, wantLevel: analytics.LevelCritical, wantNotify: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := patient.NewMemoryRepository()
			pid := newPatient(repo, nil)
			dailyDoses(repo, pid, allTaken(10)...)
			repo.AddSymptom(patient.SymptomEvent{
				ID:          uuid.New(),
				PatientID:   pid,
				Description: "Chest tightness",
				Severity:    9,
				ReportedAt:  now.Add(-48 * time.Hour),
				Resolved:    tt.resolved,
			})
			notifier := &recordingNotifier{}
			l := NewLiaison(deps(repo, nil), monitoringCfg(), notifier)

			r, err := l.Assess(context.Background(), task(pid, "summary for provider"))
			require.NoError(t, err)

			report := r.Data.(LiaisonReport)
			assert.Equal(t, 1, report.SymptomCount)
			assert.Equal(t, tt.wantLevel, report.Level)
			assert.Equal(t, tt.wantLevel.Urgent(), r.RequiresEscalation)
			assert.Len(t, notifier.got, tt.wantNotify)
			if tt.resolved {
				assert.Empty(t, report.Concerns)
				assert.Zero(t, report.UnresolvedSymptoms)
				assert.Equal(t, analytics.TimeframeNextVisit, report.Timeframe)
			}
		})
	}
}

func TestLiaison_GoodAdherenceWaitsForNextVisit(t *testing.T) {
	repo := patient.NewMemoryRepository()
	pid := newPatient(repo, nil)
	dailyDoses(repo, pid, allTaken(20)...)
	notifier := &recordingNotifier{}
	l := NewLiaison(deps(repo, nil), monitoringCfg(), notifier)

	tk := task(pid, "summary for provider")
	tk.Context["period_days"] = float64(14)
	r, err := l.Assess(context.Background(), tk)
	require.NoError(t, err)

	report := r.Data.(LiaisonReport)
	assert.Equal(t, 14, report.PeriodDays)
	assert.Equal(t, 14, report.TotalDoses)
	assert.True(t, report.TargetMet)
	assert.Empty(t, report.Concerns)
	assert.Equal(t, analytics.TimeframeNextVisit, report.Timeframe)
	assert.False(t, r.RequiresEscalation)
	assert.Empty(t, notifier.got)
	assert.WithinDuration(t, now.AddDate(0, 0, -14), report.PeriodStart, time.Second)
}
