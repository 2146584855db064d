// Package router picks the capability that should handle a task.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"adherence-guardian/internal/capability"
	"adherence-guardian/internal/llm"
)

const (
	// DefaultClassifierTimeout bounds one fallback classification call.
	DefaultClassifierTimeout = 15 * time.Second

	// Fallback is chosen when the classifier cannot decide.
	Fallback = capability.Monitoring
)

// Path records how a decision was reached.
type Path string

const (
	PathSuggested  Path = "suggested"
	PathEscalation Path = "escalation"
	PathKeywords   Path = "keywords"
	PathClassifier Path = "classifier"
	PathDefault    Path = "default"
)

// keywords is matched as lowercase substrings. Each keyword counts once.
var keywords = map[capability.Name][]string{
	capability.Planning:   {"schedule", "timing", "when", "plan", "optimize", "replan", "medication time"},
	capability.Monitoring: {"adherence", "tracking", "pattern", "missing", "forgot", "trend", "analysis", "missed"},
	capability.Barrier:    {"problem", "difficulty", "cost", "side effect", "nausea", "pain", "afford", "barrier", "help"},
	capability.Liaison:    {"doctor", "report", "appointment", "provider", "medical", "escalate", "urgent", "fhir"},
}

// Classifier resolves ambiguous tasks. Any answer that is not a capability
// name is treated as invalid.
type Classifier interface {
	Classify(ctx context.Context, task string, taskContext map[string]any) (string, error)
}

// Request is what the router sees of the current run.
type Request struct {
	Text               string
	Context            map[string]any
	Suggested          capability.Name
	RequiresEscalation bool
}

// Decision is the routing outcome.
type Decision struct {
	Capability capability.Name         `json:"capability"`
	Path       Path                    `json:"path"`
	Scores     map[capability.Name]int `json:"scores,omitempty"`
	Reason     string                  `json:"reason"`
}

// Stats counts decisions by path. Safe for concurrent use.
type Stats struct {
	Total        int64                     `json:"total"`
	ByPath       map[Path]int64            `json:"by_path"`
	Distribution map[capability.Name]int64 `json:"distribution"`
}

type Router struct {
	classifier Classifier
	timeout    time.Duration
	log        zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

// Option configures a Router.
type Option func(*Router)

// WithClassifier sets the fallback classifier. Without one, ambiguous tasks
// go to monitoring.
func WithClassifier(c Classifier) Option {
	return func(r *Router) { r.classifier = c }
}

func WithClassifierTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Router) { r.log = l }
}

func New(opts ...Option) *Router {
	r := &Router{
		timeout: DefaultClassifierTimeout,
		log:     zerolog.Nop(),
		stats: Stats{
			ByPath:       make(map[Path]int64),
			Distribution: make(map[capability.Name]int64),
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route chooses a capability. A pending suggestion wins, then escalation
// forces liaison, then keyword scoring; a zero or tied top score goes to
// the classifier.
func (r *Router) Route(ctx context.Context, req Request) Decision {
	if req.Suggested != "" {
		return r.decide(Decision{Capability: req.Suggested, Path: PathSuggested,
			Reason: fmt.Sprintf("following suggestion to route to %s", req.Suggested)})
	}
	if req.RequiresEscalation {
		return r.decide(Decision{Capability: capability.Liaison, Path: PathEscalation,
			Reason: "routing to liaison for escalation"})
	}

	scores := Score(req.Text)
	best, ambiguous := top(scores)
	if !ambiguous {
		return r.decide(Decision{Capability: best, Path: PathKeywords, Scores: scores,
			Reason: fmt.Sprintf("keyword scores %v", scores)})
	}

	name, path := r.classify(ctx, req)
	return r.decide(Decision{Capability: name, Path: path, Scores: scores,
		Reason: fmt.Sprintf("ambiguous keyword scores %v", scores)})
}

// Score counts the keywords of each capability present in text.
func Score(text string) map[capability.Name]int {
	lower := strings.ToLower(text)
	scores := make(map[capability.Name]int, len(keywords))
	for _, name := range capability.All() {
		for _, kw := range keywords[name] {
			if strings.Contains(lower, kw) {
				scores[name]++
			}
		}
	}
	return scores
}

// top returns the highest scoring capability and whether the result is
// ambiguous (all zero, or a shared maximum).
func top(scores map[capability.Name]int) (capability.Name, bool) {
	var best capability.Name
	high, ties := 0, 0
	for _, name := range capability.All() {
		switch s := scores[name]; {
		case s > high:
			best, high, ties = name, s, 1
		case s == high && s > 0:
			ties++
		}
	}
	return best, high == 0 || ties > 1
}

func (r *Router) classify(ctx context.Context, req Request) (capability.Name, Path) {
	if r.classifier == nil {
		return Fallback, PathDefault
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	answer, err := r.classifier.Classify(ctx, req.Text, req.Context)
	if err != nil {
		r.log.Warn().Err(err).Msg("classification failed, defaulting to monitoring")
		return Fallback, PathDefault
	}
	name, ok := ParseResponse(answer)
	if !ok {
		r.log.Warn().Str("answer", answer).Msg("classifier returned unknown capability")
		return Fallback, PathDefault
	}
	return name, PathClassifier
}

// ParseResponse normalizes a classifier answer to a capability name.
func ParseResponse(answer string) (capability.Name, bool) {
	cleaned := strings.Trim(strings.TrimSpace(answer), ".,;:\"'`*")
	return capability.ParseName(cleaned)
}

func (r *Router) decide(d Decision) Decision {
	r.mu.Lock()
	r.stats.Total++
	r.stats.ByPath[d.Path]++
	r.stats.Distribution[d.Capability]++
	r.mu.Unlock()

	r.log.Debug().
		Str("capability", string(d.Capability)).
		Str("path", string(d.Path)).
		Msg(d.Reason)
	return d
}

// Stats returns a snapshot of the routing statistics.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := Stats{
		Total:        r.stats.Total,
		ByPath:       make(map[Path]int64, len(r.stats.ByPath)),
		Distribution: make(map[capability.Name]int64, len(r.stats.Distribution)),
	}
	for k, v := range r.stats.ByPath {
		out.ByPath[k] = v
	}
	for k, v := range r.stats.Distribution {
		out.Distribution[k] = v
	}
	return out
}

const classifierPrompt = `Classify the following task into exactly one of these categories:
- planning: Medication scheduling, timing optimization, replanning
- monitoring: Adherence tracking, pattern analysis, progress monitoring
- barrier: Problem resolution, side effects, cost issues, obstacles
- liaison: Provider communication, medical reports, clinical summaries

Task: %q
Context: %v

Return only the single category name (planning, monitoring, barrier, or liaison).`

// LLMClassifier asks a text generator to classify the task.
type LLMClassifier struct {
	gen llm.TextGenerator
}

func NewLLMClassifier(gen llm.TextGenerator) *LLMClassifier {
	return &LLMClassifier{gen: gen}
}

func (c *LLMClassifier) Classify(ctx context.Context, task string, taskContext map[string]any) (string, error) {
	out, err := c.gen.Generate(ctx, fmt.Sprintf(classifierPrompt, task, taskContext), "You route patient requests to the right care team capability.")
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}
	return strings.ToLower(strings.TrimSpace(out)), nil
}
