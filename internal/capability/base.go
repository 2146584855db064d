package capability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"adherence-guardian/internal/llm"
	"adherence-guardian/internal/patient"
)

// Deps are the collaborators every capability is built with.
type Deps struct {
	Store     patient.Repository
	Generator llm.TextGenerator
	Logger    zerolog.Logger
	Clock     Clock
}

type base struct {
	name  Name
	store patient.Repository
	gen   llm.TextGenerator
	log   zerolog.Logger
	clock Clock
}

func newBase(name Name, d Deps) base {
	clock := d.Clock
	if clock == nil {
		clock = time.Now
	}
	gen := d.Generator
	if gen == nil {
		gen = llm.Offline{}
	}
	return base{
		name:  name,
		store: d.Store,
		gen:   gen,
		log:   d.Logger.With().Str("capability", string(name)).Logger(),
		clock: clock,
	}
}

func (b base) Name() Name { return b.name }

func (b base) now() time.Time { return b.clock() }

// unavailable wraps a read failure so the orchestrator aborts the run.
func unavailable(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDataUnavailable, what, err)
}

// narrative is the JSON shape every capability asks the generator for.
type narrative struct {
	Summary         string   `json:"summary"`
	Recommendations []string `json:"recommendations"`
	Reasoning       string   `json:"reasoning"`
}

// phrase asks the generator to word the assessment. Empty fields in the
// reply keep the deterministic fallback.
func (b base) phrase(ctx context.Context, system, prompt string, fallback narrative) narrative {
	got, ok := llm.GenerateJSON(ctx, b.gen, prompt, llm.WithTimeContext(system, b.now()), fallback)
	if !ok {
		b.log.Debug().Msg("using deterministic summary")
		return fallback
	}
	if strings.TrimSpace(got.Summary) == "" {
		got.Summary = fallback.Summary
	}
	if len(got.Recommendations) == 0 {
		got.Recommendations = fallback.Recommendations
	}
	if got.Reasoning == "" {
		got.Reasoning = fallback.Reasoning
	}
	return got
}

// finish applies safety boundaries and stamps the capability name.
func (b base) finish(task Task, r Result) Result {
	r.Capability = b.name
	r.Summary = Sanitize(r.Summary)
	if EmergencyRequested(task.Text) {
		r.RequiresEscalation = true
	}
	return r
}
