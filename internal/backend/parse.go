package backend

import (
	"encoding/json"
	"strings"
)

// extractJSONObject finds the first balanced JSON object in free-form LLM
// prose, tolerating markdown code fences. Returns "" when no object exists.
func extractJSONObject(text string) string {
	// Strip code fences first so the brace scan sees raw JSON.
	if i := strings.Index(text, "```json"); i >= 0 {
		rest := text[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			text = rest[:j]
		} else {
			text = rest
		}
	} else if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		if j := strings.Index(rest, "```"); j >= 0 {
			text = rest[:j]
		}
	}

	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}

// clamp01 bounds a confidence value to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// parseAnalysis coerces a free-form reply into an Analysis. Missing fields
// default to empty; a reply with no JSON falls back to treating the prose
// as the status line. Empty replies are protocol errors.
func parseAnalysis(provider, reply string) (*Analysis, error) {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		return nil, &ProtocolError{Provider: provider, Detail: "empty analysis reply"}
	}

	raw := extractJSONObject(trimmed)
	if raw == "" {
		return &Analysis{Status: trimmed}, nil
	}

	var a Analysis
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		// The object was malformed; the surrounding prose still stands.
		return &Analysis{Status: trimmed}, nil
	}
	a.Confidence = clamp01(a.Confidence)
	return &a, nil
}

// parseValidation coerces a free-form reply into a Validation. With no JSON
// object, a PASS/COMPLETE marker without a FAIL marker counts as completed.
func parseValidation(provider, reply string) (*Validation, error) {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		return nil, &ProtocolError{Provider: provider, Detail: "empty validation reply"}
	}

	raw := extractJSONObject(trimmed)
	if raw == "" {
		lower := strings.ToLower(trimmed)
		if strings.Contains(lower, "fail") {
			return &Validation{Completed: false, Reason: trimmed}, nil
		}
		if strings.Contains(lower, "pass") || strings.Contains(lower, "complete") {
			return &Validation{Completed: true, Evidence: trimmed}, nil
		}
		return nil, &ProtocolError{Provider: provider, Detail: "validation reply has no verdict"}
	}

	var v Validation
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, &ProtocolError{Provider: provider, Detail: "malformed validation object: " + err.Error()}
	}
	v.Confidence = clamp01(v.Confidence)
	return &v, nil
}

// parseRecovery coerces a free-form reply into a Recovery. Replies with no
// JSON object are treated as unrecoverable with the prose as the reason.
func parseRecovery(provider, reply string) (*Recovery, error) {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		return nil, &ProtocolError{Provider: provider, Detail: "empty recovery reply"}
	}

	raw := extractJSONObject(trimmed)
	if raw == "" {
		return &Recovery{CanRecover: false, Reason: trimmed}, nil
	}

	var r Recovery
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, &ProtocolError{Provider: provider, Detail: "malformed recovery object: " + err.Error()}
	}
	return &r, nil
}
