package orchestrator

import (
	"time"

	"github.com/google/uuid"

	"adherence-guardian/internal/capability"
	"adherence-guardian/internal/router"
)

// Phase is a state of the orchestration machine.
type Phase string

const (
	PhaseRoute      Phase = "route"
	PhaseExecute    Phase = "execute"
	PhaseSynthesize Phase = "synthesize"
	PhaseDone       Phase = "done"
)

// Step is one route and execute cycle, kept for tracing.
type Step struct {
	Iteration  int             `json:"iteration"`
	Capability capability.Name `json:"capability"`
	Path       router.Path     `json:"path"`
	Success    bool            `json:"success"`
	Confidence float64         `json:"confidence"`
	Duration   time.Duration   `json:"duration"`
}

// TaskState is threaded through one run. Every step takes a state and
// returns a new one; nothing holds on to a previous copy.
type TaskState struct {
	RunID              uuid.UUID
	PatientID          uuid.UUID
	Task               string
	Context            map[string]any
	Phase              Phase
	Chosen             capability.Name
	Path               router.Path
	Pending            capability.Name
	Invoked            []capability.Name
	Results            map[capability.Name]capability.Result
	Iterations         int
	RequiresEscalation bool
	FinalAnswer        string
	Confidence         float64
	Steps              []Step
}

func newState(patientID uuid.UUID, task string, initial map[string]any) TaskState {
	s := TaskState{
		RunID:     uuid.New(),
		PatientID: patientID,
		Task:      task,
		Context:   make(map[string]any, len(initial)),
		Phase:     PhaseRoute,
		Results:   make(map[capability.Name]capability.Result),
	}
	for k, v := range initial {
		s.Context[k] = v
	}
	if v, ok := initial["next_capability"].(string); ok {
		if name, ok := capability.ParseName(v); ok {
			s.Pending = name
		}
	}
	if v, ok := initial["requires_escalation"].(bool); ok {
		s.RequiresEscalation = v
	}
	return s
}

// clone deep-copies the maps and slices so the returned state shares nothing
// with the receiver.
func (s TaskState) clone() TaskState {
	out := s
	out.Context = make(map[string]any, len(s.Context))
	for k, v := range s.Context {
		out.Context[k] = v
	}
	out.Results = make(map[capability.Name]capability.Result, len(s.Results))
	for k, v := range s.Results {
		out.Results[k] = v
	}
	out.Invoked = append([]capability.Name(nil), s.Invoked...)
	out.Steps = append([]Step(nil), s.Steps...)
	return out
}

func (s TaskState) invoked(name capability.Name) bool {
	for _, n := range s.Invoked {
		if n == name {
			return true
		}
	}
	return false
}

// withResult records a result under its capability and merges its flags.
func (s TaskState) withResult(r capability.Result, step Step) TaskState {
	out := s.clone()
	out.Results[r.Capability] = r
	if !out.invoked(r.Capability) {
		out.Invoked = append(out.Invoked, r.Capability)
	}
	out.RequiresEscalation = out.RequiresEscalation || r.RequiresEscalation
	out.Steps = append(out.Steps, step)
	return out
}

// capabilityTask is the view of the state a capability receives.
func (s TaskState) capabilityTask() capability.Task {
	c := s.clone()
	return capability.Task{
		RunID:              s.RunID,
		PatientID:          s.PatientID,
		Text:               s.Task,
		Context:            c.Context,
		Prior:              c.Results,
		RequiresEscalation: s.RequiresEscalation,
	}
}
