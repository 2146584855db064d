package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"adherence-guardian/internal/analytics"
	"adherence-guardian/internal/capability"
	"adherence-guardian/internal/config"
	"adherence-guardian/internal/patient"
	"adherence-guardian/internal/router"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeCap struct {
	name   capability.Name
	assess func(capability.Task) (capability.Result, error)
	calls  atomic.Int32
}

func (f *fakeCap) Name() capability.Name { return f.name }

func (f *fakeCap) Assess(_ context.Context, t capability.Task) (capability.Result, error) {
	f.calls.Add(1)
	return f.assess(t)
}

func ok(name capability.Name, next capability.Name) *fakeCap {
	return &fakeCap{name: name, assess: func(capability.Task) (capability.Result, error) {
		return capability.Result{Success: true, Summary: name.Title() + " done", Confidence: 0.8, SuggestedNext: next}, nil
	}}
}

func caps(cs ...*fakeCap) []capability.Capability {
	out := make([]capability.Capability, len(cs))
	for i, c := range cs {
		out[i] = c
	}
	return out
}

// ============================================================================
// State machine
// ============================================================================

func TestRun_SingleCapability(t *testing.T) {
	monitoring := ok(capability.Monitoring, "")
	o := New(router.New(), caps(monitoring))

	out, err := o.Run(context.Background(), uuid.New(), "show my adherence", nil)
	require.NoError(t, err)
	assert.Equal(t, []capability.Name{capability.Monitoring}, out.CapabilitiesInvoked)
	assert.Equal(t, "**Monitoring**: Monitoring done", out.FinalAnswer)
	assert.Equal(t, 0.8, out.Confidence)
	assert.Equal(t, 1, out.Iterations)
	require.Len(t, out.Steps, 1)
	assert.Equal(t, router.PathKeywords, out.Steps[0].Path)
}

func TestRun_NeverExceedsMaxIterations(t *testing.T) {
	cycle := map[capability.Name]capability.Name{
		capability.Planning:   capability.Monitoring,
		capability.Monitoring: capability.Barrier,
		capability.Barrier:    capability.Liaison,
		capability.Liaison:    capability.Planning,
	}
	for limit := 1; limit <= 5; limit++ {
		t.Run(fmt.Sprintf("max=%d", limit), func(t *testing.T) {
			var cs []*fakeCap
			for _, n := range capability.All() {
				cs = append(cs, ok(n, cycle[n]))
			}
			o := New(router.New(), caps(cs...), WithMaxIterations(limit))

			out, err := o.Run(context.Background(), uuid.New(), "optimize my schedule", nil)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(out.Steps), limit)
			assert.NotEmpty(t, out.FinalAnswer)

			total := int32(0)
			for _, c := range cs {
				total += c.calls.Load()
				assert.LessOrEqual(t, c.calls.Load(), int32(1))
			}
			assert.LessOrEqual(t, int(total), limit)
		})
	}
}

func TestRun_IterationLimitKeepsPartialAnswer(t *testing.T) {
	o := New(router.New(), caps(
		ok(capability.Planning, capability.Monitoring),
		ok(capability.Monitoring, capability.Barrier),
		ok(capability.Barrier, ""),
	), WithMaxIterations(2))

	out, err := o.Run(context.Background(), uuid.New(), "optimize my schedule", nil)
	require.NoError(t, err)
	assert.Equal(t, []capability.Name{capability.Planning, capability.Monitoring}, out.CapabilitiesInvoked)
	assert.Equal(t, 3, out.Iterations)
	assert.Equal(t, "**Planning**: Planning done\n\n**Monitoring**: Monitoring done", out.FinalAnswer)
}

func TestRun_ScheduleChangeForcesPlanningOnce(t *testing.T) {
	barrier := &fakeCap{name: capability.Barrier, assess: func(capability.Task) (capability.Result, error) {
		return capability.Result{
			Success:       true,
			Summary:       "Forgetfulness",
			Confidence:    0.8,
			Data:          capability.BarrierReport{RequiresScheduleChange: true},
			SuggestedNext: capability.Planning,
		}, nil
	}}
	planning := ok(capability.Planning, capability.Barrier)
	o := New(router.New(), caps(barrier, planning))

	out, err := o.Run(context.Background(), uuid.New(), "what barrier is stopping me", nil)
	require.NoError(t, err)
	assert.Equal(t, []capability.Name{capability.Barrier, capability.Planning}, out.CapabilitiesInvoked)
	assert.Equal(t, int32(1), planning.calls.Load())
	assert.Equal(t, int32(1), barrier.calls.Load())
}

func TestRun_EscalationRoutesToLiaison(t *testing.T) {
	monitoring := &fakeCap{name: capability.Monitoring, assess: func(capability.Task) (capability.Result, error) {
		return capability.Result{Success: true, Summary: "severe", Confidence: 0.9, RequiresEscalation: true}, nil
	}}
	var sawEscalation bool
	liaison := &fakeCap{name: capability.Liaison, assess: func(t capability.Task) (capability.Result, error) {
		sawEscalation = t.RequiresEscalation
		_, hasPrior := t.Prior[capability.Monitoring]
		return capability.Result{Success: hasPrior, Summary: "notified", Confidence: 0.9}, nil
	}}
	o := New(router.New(), caps(monitoring, liaison))

	out, err := o.Run(context.Background(), uuid.New(), "adherence trend", nil)
	require.NoError(t, err)
	assert.Equal(t, []capability.Name{capability.Monitoring, capability.Liaison}, out.CapabilitiesInvoked)
	assert.True(t, out.RequiresEscalation)
	assert.True(t, sawEscalation)
	assert.True(t, out.Results[capability.Liaison].Success)
}

func TestRun_MissingCapabilityIsFailedResult(t *testing.T) {
	o := New(router.New(), caps(ok(capability.Monitoring, capability.Barrier)))

	out, err := o.Run(context.Background(), uuid.New(), "adherence", nil)
	require.NoError(t, err)

	failed := out.Results[capability.Barrier]
	assert.False(t, failed.Success)
	assert.Zero(t, failed.Confidence)
	assert.Contains(t, failed.Error, "not configured")
	assert.InDelta(t, 0.4, out.Confidence, 1e-9)
	assert.False(t, o.Healthy())
}

func TestRun_PanicIsFailedResult(t *testing.T) {
	boom := &fakeCap{name: capability.Monitoring, assess: func(capability.Task) (capability.Result, error) {
		panic("nil map")
	}}
	o := New(router.New(), caps(boom))

	out, err := o.Run(context.Background(), uuid.New(), "adherence", nil)
	require.NoError(t, err)
	assert.False(t, out.Results[capability.Monitoring].Success)
	assert.Contains(t, out.Results[capability.Monitoring].Error, "nil map")
}

func TestRun_CapabilityErrorIsFailedResult(t *testing.T) {
	c := &fakeCap{name: capability.Monitoring, assess: func(capability.Task) (capability.Result, error) {
		return capability.Result{}, errors.New("bad input")
	}}
	out, err := New(router.New(), caps(c)).Run(context.Background(), uuid.New(), "adherence", nil)
	require.NoError(t, err)
	assert.Equal(t, "bad input", out.Results[capability.Monitoring].Error)
}

func TestRun_DataUnavailableAborts(t *testing.T) {
	c := &fakeCap{name: capability.Monitoring, assess: func(capability.Task) (capability.Result, error) {
		return capability.Result{}, fmt.Errorf("%w: dose events: connection refused", capability.ErrDataUnavailable)
	}}
	_, err := New(router.New(), caps(c)).Run(context.Background(), uuid.New(), "adherence", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, capability.ErrDataUnavailable)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(router.New(), caps(ok(capability.Monitoring, ""))).Run(ctx, uuid.New(), "adherence", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_InitialNextCapability(t *testing.T) {
	planning := ok(capability.Planning, "")
	o := New(router.New(), caps(planning, ok(capability.Liaison, "")))

	out, err := o.Run(context.Background(), uuid.New(), "send report to my doctor", map[string]any{
		"next_capability": "planning",
	})
	require.NoError(t, err)
	assert.Equal(t, []capability.Name{capability.Planning}, out.CapabilitiesInvoked)
	assert.Equal(t, router.PathSuggested, out.Steps[0].Path)
}

func TestRun_EmptySummariesUseFallbackAnswer(t *testing.T) {
	c := &fakeCap{name: capability.Monitoring, assess: func(capability.Task) (capability.Result, error) {
		return capability.Result{Success: true, Confidence: 0.6}, nil
	}}
	out, err := New(router.New(), caps(c)).Run(context.Background(), uuid.New(), "adherence", nil)
	require.NoError(t, err)
	assert.Equal(t, fallbackAnswer, out.FinalAnswer)
}

func TestRun_LogsActivities(t *testing.T) {
	repo := patient.NewMemoryRepository()
	o := New(router.New(), caps(ok(capability.Monitoring, capability.Barrier), ok(capability.Barrier, "")), WithActivityLog(repo))

	out, err := o.Run(context.Background(), uuid.New(), "adherence", nil)
	require.NoError(t, err)

	acts := repo.Activities()
	require.Len(t, acts, 2)
	assert.Equal(t, out.RunID, acts[0].RunID)
	assert.Equal(t, "monitoring", acts[0].Capability)
	assert.Equal(t, "barrier", acts[1].Capability)
}

func TestCombine_NoResults(t *testing.T) {
	answer, confidence := combine(newState(uuid.New(), "x", nil))
	assert.Equal(t, fallbackAnswer, answer)
	assert.Equal(t, 0.5, confidence)
}

func TestTaskState_CloneDoesNotAlias(t *testing.T) {
	s := newState(uuid.New(), "x", map[string]any{"a": 1})
	s = s.withResult(capability.Result{Capability: capability.Monitoring, Success: true}, Step{})

	c := s.clone()
	c.Context["a"] = 2
	c.Results[capability.Barrier] = capability.Result{}
	c.Invoked[0] = capability.Liaison

	assert.Equal(t, 1, s.Context["a"])
	assert.NotContains(t, s.Results, capability.Barrier)
	assert.Equal(t, capability.Monitoring, s.Invoked[0])
}

func TestResolveDependencies_Order(t *testing.T) {
	s := newState(uuid.New(), "x", nil)
	s = s.withResult(capability.Result{Capability: capability.Monitoring, Success: true,
		Data: capability.MonitoringReport{TotalDoses: 10, AdherencePercent: 50}}, Step{})
	s.RequiresEscalation = true
	assert.Equal(t, capability.Barrier, resolveDependencies(s))

	s = s.withResult(capability.Result{Capability: capability.Barrier, Success: true,
		Data: capability.BarrierReport{RequiresScheduleChange: true}}, Step{})
	assert.Equal(t, capability.Planning, resolveDependencies(s))

	s = s.withResult(capability.Result{Capability: capability.Planning, Success: true}, Step{})
	assert.Equal(t, capability.Liaison, resolveDependencies(s))

	s = s.withResult(capability.Result{Capability: capability.Liaison, Success: true}, Step{})
	assert.Empty(t, resolveDependencies(s))
}

// ============================================================================
// End to end with real capabilities
// ============================================================================

var now = time.Date(2026, time.March, 10, 7, 0, 0, 0, time.UTC)

func realOrchestrator(t *testing.T) (*Orchestrator, *patient.MemoryRepository, uuid.UUID) {
	t.Helper()
	repo := patient.NewMemoryRepository()
	pid := patient.SeedDemo(repo, now)

	d := capability.Deps{Store: repo, Logger: zerolog.Nop(), Clock: func() time.Time { return now }}
	mon := config.MonitoringConfig{WindowDays: 14, HistoryDays: 30, PatternDays: 30, AdherenceTarget: 0.90, AnomalyThreshold: 0.15}
	o := New(router.New(), []capability.Capability{
		capability.NewPlanning(d),
		capability.NewMonitoring(d, mon),
		capability.NewBarrier(d, config.BarrierConfig{CostThreshold: 50}),
		capability.NewLiaison(d, mon, nil),
	}, WithActivityLog(repo))
	return o, repo, pid
}

func TestRun_EndToEndDecliningAdherence(t *testing.T) {
	o, repo, pid := realOrchestrator(t)
	require.True(t, o.Healthy())

	out, err := o.Run(context.Background(), pid, "How is my adherence trend?", nil)
	require.NoError(t, err)

	want := []capability.Name{capability.Monitoring, capability.Barrier, capability.Planning, capability.Liaison}
	if diff := cmp.Diff(want, out.CapabilitiesInvoked); diff != "" {
		t.Errorf("capabilities invoked (-want +got):\n%s", diff)
	}

	mr := out.Results[capability.Monitoring].Data.(capability.MonitoringReport)
	assert.Equal(t, analytics.TrendDeclining, mr.Trend.Trend)
	assert.Equal(t, capability.Barrier, out.Results[capability.Monitoring].SuggestedNext)

	assert.True(t, out.RequiresEscalation)
	assert.Equal(t, 4, out.Iterations)
	assert.Contains(t, out.FinalAnswer, "**Monitoring**: ")
	assert.Contains(t, out.FinalAnswer, "**Liaison**: ")
	assert.Len(t, repo.Activities(), 4)
	assert.Len(t, repo.Reports(), 1)

	actions := ExtractActions(out)
	var types []string
	for _, a := range actions {
		types = append(types, a.Type)
	}
	assert.Contains(t, types, "schedule_update")
	assert.Contains(t, types, "escalation")
}

func TestHandleNewMedication(t *testing.T) {
	o, _, pid := realOrchestrator(t)
	out, err := o.HandleNewMedication(context.Background(), pid, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, capability.Planning, out.CapabilitiesInvoked[0])
	assert.True(t, out.Results[capability.Planning].Data.(capability.ScheduleReport).ScheduleUpdated)
}

func TestHandleSymptomReport(t *testing.T) {
	o, repo, pid := realOrchestrator(t)
	symptom := patient.SymptomEvent{
		ID:          uuid.New(),
		PatientID:   pid,
		Description: "Severe nausea",
		Severity:    9,
		ReportedAt:  now.Add(-2 * time.Hour),
	}
	repo.AddSymptom(symptom)

	out, err := o.HandleSymptomReport(context.Background(), pid, symptom.ID)
	require.NoError(t, err)
	assert.Equal(t, capability.Monitoring, out.CapabilitiesInvoked[0])
	assert.Contains(t, out.CapabilitiesInvoked, capability.Liaison)
	assert.True(t, out.RequiresEscalation)

	mr := out.Results[capability.Monitoring].Data.(capability.MonitoringReport)
	require.NotNil(t, mr.Symptom)
	assert.True(t, mr.Symptom.LikelySideEffect)
}

func TestGenerateInsights(t *testing.T) {
	o, repo, pid := realOrchestrator(t)

	insights, err := o.GenerateInsights(context.Background(), pid)
	require.NoError(t, err)
	require.Len(t, insights, 3)

	assert.Equal(t, "64.3%", insights[0].Value)
	assert.Equal(t, StatusCritical, insights[0].Status)
	assert.Equal(t, "Declining", insights[1].Value)
	assert.Equal(t, StatusCritical, insights[1].Status)
	assert.Equal(t, "1", insights[2].Value)
	assert.Empty(t, repo.Reports())
}

func TestGenerateInsights_DataUnavailable(t *testing.T) {
	c := &fakeCap{name: capability.Monitoring, assess: func(capability.Task) (capability.Result, error) {
		return capability.Result{}, capability.ErrDataUnavailable
	}}
	_, err := New(router.New(), caps(c, ok(capability.Barrier, ""))).GenerateInsights(context.Background(), uuid.New())
	assert.ErrorIs(t, err, capability.ErrDataUnavailable)
}
