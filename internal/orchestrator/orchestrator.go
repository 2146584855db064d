// Package orchestrator runs a task through the capabilities until every
// dependency between their results is satisfied.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"adherence-guardian/internal/capability"
	"adherence-guardian/internal/patient"
	"adherence-guardian/internal/router"
)

const (
	DefaultMaxIterations = 5

	fallbackAnswer    = "I've analyzed your request but couldn't generate a specific response."
	defaultConfidence = 0.5
)

// ActivityLog records each capability invocation. Failures are logged, not returned.
type ActivityLog interface {
	LogActivity(ctx context.Context, a *patient.Activity) error
}

// Outcome is what a caller gets back from one run.
type Outcome struct {
	RunID               uuid.UUID                             `json:"run_id"`
	FinalAnswer         string                                `json:"final_answer"`
	Confidence          float64                               `json:"confidence"`
	CapabilitiesInvoked []capability.Name                     `json:"capabilities_invoked"`
	Results             map[capability.Name]capability.Result `json:"results"`
	RequiresEscalation  bool                                  `json:"requires_escalation"`
	Iterations          int                                   `json:"iterations"`
	Steps               []Step                                `json:"steps"`
}

type Orchestrator struct {
	caps          map[capability.Name]capability.Capability
	router        *router.Router
	activities    ActivityLog
	maxIterations int
	runTimeout    time.Duration
	log           zerolog.Logger
}

type Option func(*Orchestrator)

func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

func WithActivityLog(a ActivityLog) Option {
	return func(o *Orchestrator) { o.activities = a }
}

// WithRunTimeout bounds a whole run. Zero means no bound beyond the caller's context.
func WithRunTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.runTimeout = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

func New(r *router.Router, caps []capability.Capability, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		caps:          make(map[capability.Name]capability.Capability, len(caps)),
		router:        r,
		maxIterations: DefaultMaxIterations,
		log:           zerolog.Nop(),
	}
	for _, c := range caps {
		if c != nil {
			o.caps[c.Name()] = c
		}
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.router == nil {
		o.router = router.New(router.WithLogger(o.log))
	}
	return o
}

// Run processes one task. The only error returned is a patient data read
// failure (or the context ending); every other problem degrades the answer.
func (o *Orchestrator) Run(ctx context.Context, patientID uuid.UUID, task string, initial map[string]any) (Outcome, error) {
	if o.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.runTimeout)
		defer cancel()
	}

	s := newState(patientID, task, initial)
	log := o.log.With().Str("run_id", s.RunID.String()).Str("patient_id", patientID.String()).Logger()
	log.Info().Str("task", task).Msg("run started")

	for s.Phase != PhaseDone {
		var err error
		switch s.Phase {
		case PhaseRoute:
			s, err = o.route(ctx, s, log)
		case PhaseExecute:
			s, err = o.execute(ctx, s, log)
		case PhaseSynthesize:
			s = o.synthesize(s, log)
		default:
			err = fmt.Errorf("unknown phase %q", s.Phase)
		}
		if err != nil {
			log.Error().Err(err).Int("iterations", s.Iterations).Msg("run aborted")
			return Outcome{}, err
		}
	}

	log.Info().
		Int("iterations", s.Iterations).
		Strs("capabilities", names(s.Invoked)).
		Float64("confidence", s.Confidence).
		Bool("requires_escalation", s.RequiresEscalation).
		Msg("run finished")

	return Outcome{
		RunID:               s.RunID,
		FinalAnswer:         s.FinalAnswer,
		Confidence:          s.Confidence,
		CapabilitiesInvoked: s.Invoked,
		Results:             s.Results,
		RequiresEscalation:  s.RequiresEscalation,
		Iterations:          s.Iterations,
		Steps:               s.Steps,
	}, nil
}

// route is the only place the iteration limit is enforced.
func (o *Orchestrator) route(ctx context.Context, s TaskState, log zerolog.Logger) (TaskState, error) {
	if err := ctx.Err(); err != nil {
		return s, fmt.Errorf("run cancelled: %w", err)
	}
	out := s.clone()
	out.Iterations++
	if out.Iterations > o.maxIterations {
		log.Warn().Int("max_iterations", o.maxIterations).Str("pending", string(out.Pending)).Msg("max iterations reached, forcing end")
		return finish(out), nil
	}

	d := o.router.Route(ctx, router.Request{
		Text:               out.Task,
		Context:            out.Context,
		Suggested:          out.Pending,
		RequiresEscalation: out.RequiresEscalation,
	})
	out.Pending = ""
	out.Chosen = d.Capability
	out.Path = d.Path
	out.Phase = PhaseExecute
	return out, nil
}

func (o *Orchestrator) execute(ctx context.Context, s TaskState, log zerolog.Logger) (TaskState, error) {
	start := time.Now()
	r, err := o.invoke(ctx, s.Chosen, s.capabilityTask())
	if err != nil {
		return s, err
	}
	if !r.Success {
		log.Warn().Str("capability", string(s.Chosen)).Str("error", r.Error).Msg("capability failed")
	}

	out := s.withResult(r, Step{
		Iteration:  s.Iterations,
		Capability: r.Capability,
		Path:       s.Path,
		Success:    r.Success,
		Confidence: r.Confidence,
		Duration:   time.Since(start),
	})
	out.Phase = PhaseSynthesize
	o.logActivity(ctx, out, r, log)
	return out, nil
}

// invoke runs one capability. Missing capabilities, errors and panics become
// failed results; only a data read failure is returned.
func (o *Orchestrator) invoke(ctx context.Context, name capability.Name, task capability.Task) (r capability.Result, err error) {
	c, ok := o.caps[name]
	if !ok {
		return capability.Failed(name, fmt.Errorf("capability %q is not configured", name)), nil
	}
	defer func() {
		if p := recover(); p != nil {
			r, err = capability.Failed(name, fmt.Errorf("panic: %v", p)), nil
		}
	}()

	r, err = c.Assess(ctx, task)
	if err != nil {
		if errors.Is(err, capability.ErrDataUnavailable) {
			return capability.Result{}, fmt.Errorf("%s: %w", name, err)
		}
		return capability.Failed(name, err), nil
	}
	r.Capability = name
	return r, nil
}

func (o *Orchestrator) synthesize(s TaskState, log zerolog.Logger) TaskState {
	out := s.clone()
	next := resolveDependencies(out)
	if next != "" {
		log.Debug().Str("capability", string(next)).Msg("dependency requires capability")
	} else if suggested := out.Results[out.Chosen].SuggestedNext; suggested != "" && !out.invoked(suggested) {
		log.Debug().Str("capability", string(suggested)).Msg("following suggestion")
		next = suggested
	}
	if next != "" {
		out.Pending = next
		out.Phase = PhaseRoute
		return out
	}
	return finish(out)
}

// finish synthesizes the final answer and moves to done.
func finish(s TaskState) TaskState {
	out := s.clone()
	out.FinalAnswer, out.Confidence = combine(out)
	out.Phase = PhaseDone
	return out
}

// combine joins summaries in invocation order. Confidence is the mean over
// recorded results, 0.5 when there are none.
func combine(s TaskState) (string, float64) {
	var parts []string
	total := 0.0
	for _, name := range s.Invoked {
		r := s.Results[name]
		total += r.Confidence
		if strings.TrimSpace(r.Summary) != "" {
			parts = append(parts, fmt.Sprintf("**%s**: %s", name.Title(), r.Summary))
		}
	}
	confidence := defaultConfidence
	if len(s.Invoked) > 0 {
		confidence = total / float64(len(s.Invoked))
	}
	if len(parts) == 0 {
		return fallbackAnswer, confidence
	}
	return strings.Join(parts, "\n\n"), confidence
}

func (o *Orchestrator) logActivity(ctx context.Context, s TaskState, r capability.Result, log zerolog.Logger) {
	if o.activities == nil {
		return
	}
	err := o.activities.LogActivity(ctx, &patient.Activity{
		RunID:      s.RunID,
		PatientID:  s.PatientID,
		Capability: string(r.Capability),
		Task:       s.Task,
		Success:    r.Success,
		Confidence: r.Confidence,
		Summary:    r.Summary,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to log activity")
	}
}

// Healthy reports whether every capability is configured.
func (o *Orchestrator) Healthy() bool {
	for _, name := range capability.All() {
		if _, ok := o.caps[name]; !ok {
			return false
		}
	}
	return true
}

func names(ns []capability.Name) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = string(n)
	}
	return out
}
