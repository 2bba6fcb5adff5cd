package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Models rarely return bare JSON even when the prompt demands it: they wrap
// the payload in markdown fences, prefix it with prose, or emit reasoning
// inside <think> tags. The helpers in this file dig the first well-formed
// JSON value out of that noise so extraction and intent prompts can rely on
// typed results.

// ParseJSONResponse locates the first JSON value in a model response and
// unmarshals it into T.
func ParseJSONResponse[T any](response string) (T, error) {
	var out T

	payload, err := ExtractJSON(response)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return out, fmt.Errorf("unmarshal JSON: %w", err)
	}
	return out, nil
}

// ExtractJSON returns the first syntactically valid JSON object or array
// embedded in a model response, ignoring reasoning tags, code fences, and
// surrounding prose.
func ExtractJSON(response string) (string, error) {
	cleaned := strings.TrimSpace(stripReasoning(response))

	// Whichever bracket appears first decides which shape we try to carve
	// out first. A prose preamble mentioning neither leaves the order as
	// object-then-array.
	shapes := [2][2]byte{{'{', '}'}, {'[', ']'}}
	objAt := strings.IndexByte(cleaned, '{')
	arrAt := strings.IndexByte(cleaned, '[')
	if arrAt >= 0 && (objAt < 0 || arrAt < objAt) {
		shapes[0], shapes[1] = shapes[1], shapes[0]
	}

	for _, shape := range shapes {
		if candidate, ok := carveBalanced(cleaned, shape[0], shape[1]); ok {
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
	}

	// A bare scalar ("true", a number) is still valid JSON.
	if json.Valid([]byte(cleaned)) {
		return cleaned, nil
	}
	return "", fmt.Errorf("no valid JSON found in response")
}

// stripReasoning drops a leading <think>...</think> block. Reasoning models
// served through OpenAI-compatible endpoints put their chain of thought
// there before the actual answer.
func stripReasoning(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "<think>") {
		return s
	}
	end := strings.Index(trimmed, "</think>")
	if end < 0 {
		return s
	}
	return trimmed[end+len("</think>"):]
}

// carveBalanced returns the substring from the first open bracket to its
// matching close bracket, tracking string literals and escapes so brackets
// inside quoted values do not skew the depth count.
func carveBalanced(s string, open, closing byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}

	depth := 0
	quoted := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}
		if quoted {
			switch c {
			case '\\':
				escaped = true
			case '"':
				quoted = false
			}
			continue
		}

		switch c {
		case '"':
			quoted = true
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
