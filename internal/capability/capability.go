// Package capability implements the four assessment units an orchestration
// run can route a task to: planning, monitoring, barrier and liaison.
package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Name identifies a capability. The set is closed.
type Name string

const (
	Planning   Name = "planning"
	Monitoring Name = "monitoring"
	Barrier    Name = "barrier"
	Liaison    Name = "liaison"
)

// All returns the capabilities in canonical order.
func All() []Name {
	return []Name{Planning, Monitoring, Barrier, Liaison}
}

// ParseName normalizes free text to a capability name.
func ParseName(s string) (Name, bool) {
	n := Name(strings.ToLower(strings.TrimSpace(s)))
	switch n {
	case Planning, Monitoring, Barrier, Liaison:
		return n, true
	}
	return "", false
}

// Title is the display form used in synthesized answers.
func (n Name) Title() string {
	if n == "" {
		return ""
	}
	return strings.ToUpper(string(n[:1])) + string(n[1:])
}

// ErrDataUnavailable marks a patient data read failure. It aborts the run.
var ErrDataUnavailable = errors.New("patient data unavailable")

// Task is what a capability receives for one invocation.
type Task struct {
	RunID              uuid.UUID
	PatientID          uuid.UUID
	Text               string
	Context            map[string]any
	Prior              map[Name]Result
	RequiresEscalation bool
}

func (t Task) String(key string) string {
	if v, ok := t.Context[key]; ok {
		switch s := v.(type) {
		case string:
			return s
		case fmt.Stringer:
			return s.String()
		}
	}
	return ""
}

func (t Task) UUID(key string) (uuid.UUID, bool) {
	if v, ok := t.Context[key]; ok {
		switch id := v.(type) {
		case uuid.UUID:
			return id, id != uuid.Nil
		case string:
			parsed, err := uuid.Parse(id)
			return parsed, err == nil
		}
	}
	return uuid.Nil, false
}

func (t Task) Mentions(terms ...string) bool {
	lower := strings.ToLower(t.Text)
	for _, term := range terms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// Result is the immutable output of one capability invocation.
type Result struct {
	Capability         Name     `json:"capability"`
	Success            bool     `json:"success"`
	Summary            string   `json:"summary"`
	Data               any      `json:"data,omitempty"`
	Confidence         float64  `json:"confidence"`
	Recommendations    []string `json:"recommendations,omitempty"`
	RequiresFollowup   bool     `json:"requires_followup"`
	RequiresEscalation bool     `json:"requires_escalation"`
	SuggestedNext      Name     `json:"suggested_next,omitempty"`
	Reasoning          string   `json:"reasoning,omitempty"`
	Error              string   `json:"error,omitempty"`
}

// Failed builds the result recorded when a capability cannot run.
func Failed(name Name, err error) Result {
	return Result{
		Capability: name,
		Success:    false,
		Summary:    fmt.Sprintf("%s could not complete: %v", name.Title(), err),
		Confidence: 0,
		Error:      err.Error(),
	}
}

// Capability is one assessment unit.
type Capability interface {
	Name() Name
	Assess(ctx context.Context, task Task) (Result, error)
}

// Clock returns the current time. Tests pin it.
type Clock func() time.Time
