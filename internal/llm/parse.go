package llm

import (
	"context"
	"encoding/json"
	"strings"
)

// StripFences removes a surrounding ```json (or bare ```) fence and trims
// anything before the first '{' or '[' and after the matching last bracket.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimPrefix(s, "JSON")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(s, closer)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

// ParseJSON decodes text into a fresh T, so fields the reply omits are zero
// rather than taken from fallback. On any parse failure the fallback is
// returned unchanged and ok is false.
func ParseJSON[T any](text string, fallback T) (T, bool) {
	var out T
	if err := json.Unmarshal([]byte(StripFences(text)), &out); err != nil {
		return fallback, false
	}
	return out, true
}

// GenerateJSON calls gen and parses its reply, returning fallback when the
// call fails or the reply does not parse. A nil generator yields fallback.
func GenerateJSON[T any](ctx context.Context, gen TextGenerator, prompt, system string, fallback T) (T, bool) {
	if gen == nil {
		return fallback, false
	}
	text, err := gen.Generate(ctx, prompt, system+"\n\nRespond with valid JSON only.")
	if err != nil {
		return fallback, false
	}
	return ParseJSON(text, fallback)
}
