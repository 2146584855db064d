// Package llm provides the text-generation strategies capabilities use to
// phrase summaries and propose schedules.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable is returned by generators that cannot serve requests.
var ErrUnavailable = errors.New("text generation unavailable")

// TextGenerator turns a prompt and system prompt into text. Output may be
// unparsable; callers treat that as expected.
type TextGenerator interface {
	Generate(ctx context.Context, prompt, system string) (string, error)
	Name() string
}

// Func adapts a plain function to TextGenerator.
type Func func(ctx context.Context, prompt, system string) (string, error)

func (f Func) Generate(ctx context.Context, prompt, system string) (string, error) {
	return f(ctx, prompt, system)
}

func (f Func) Name() string { return "func" }

// WithTimeContext prefixes a system prompt with the current date and time so
// the model can reason about "today" and "this week".
func WithTimeContext(system string, now time.Time) string {
	return fmt.Sprintf("Current date and time: %s (%s).\n\n%s",
		now.Format("2006-01-02 15:04"), now.Weekday(), system)
}

// Offline never generates text. Every capability falls back to its
// deterministic defaults.
type Offline struct{}

func (Offline) Generate(context.Context, string, string) (string, error) {
	return "", ErrUnavailable
}

func (Offline) Name() string { return "offline" }
