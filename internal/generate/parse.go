package generate

import (
	"encoding/json"
	"fmt"
	"strings"

	"thesisgen/pkg/domain"
)

// ParseError reports a completion that did not decode against the expected
// schema. The raw completion is retained for diagnostics.
type ParseError struct {
	Schema string
	Raw    string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("completion did not match %s schema: %v", e.Schema, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// StripCodeFences removes a surrounding markdown code fence, with or without
// a language tag, from a completion. Text without fences passes through
// unchanged.
func StripCodeFences(completion string) string {
	trimmed := strings.TrimSpace(completion)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// first fence line may carry a language tag such as ```json
		head := strings.TrimSpace(trimmed[:idx])
		if !strings.ContainsAny(head, "{[") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// DecodeConcepts parses a topic-generation completion into concept proposals.
func DecodeConcepts(completion string) ([]domain.Concept, error) {
	payload := StripCodeFences(completion)
	var concepts []domain.Concept
	if err := json.Unmarshal([]byte(payload), &concepts); err != nil {
		return nil, &ParseError{Schema: "concept list", Raw: completion, Err: err}
	}
	if len(concepts) == 0 {
		return nil, &ParseError{Schema: "concept list", Raw: completion, Err: fmt.Errorf("empty concept list")}
	}
	for i, c := range concepts {
		if c.Title == "" {
			return nil, &ParseError{Schema: "concept list", Raw: completion, Err: fmt.Errorf("concept %d has no title", i)}
		}
	}
	return concepts, nil
}

// DecodeSourceAnalysis parses a source-analysis completion into the
// structured findings shape. A failure here means no source document is
// written.
func DecodeSourceAnalysis(completion string) (domain.SourceAnalysis, error) {
	payload := StripCodeFences(completion)
	var analysis domain.SourceAnalysis
	if err := json.Unmarshal([]byte(payload), &analysis); err != nil {
		return domain.SourceAnalysis{}, &ParseError{Schema: "source analysis", Raw: completion, Err: err}
	}
	if analysis.Title == "" {
		return domain.SourceAnalysis{}, &ParseError{Schema: "source analysis", Raw: completion, Err: fmt.Errorf("analysis has no title")}
	}
	return analysis, nil
}
