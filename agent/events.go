package agent

import (
	"encoding/json"
	"strings"
)

// parseEventStream parses NDJSON agent output into one map per line.
// Blank and non-JSON lines are skipped.
func parseEventStream(stdout string) []map[string]any {
	var events []map[string]any
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var event map[string]any
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events
}

// textFromEvents concatenates the text parts of the event stream. When no
// text events exist it falls back to the last event carrying any known
// output field.
func textFromEvents(events []map[string]any) string {
	var chunks []string
	for _, event := range events {
		if asString(event["type"]) != "text" {
			continue
		}
		part, ok := event["part"].(map[string]any)
		if !ok {
			continue
		}
		if text, ok := part["text"].(string); ok {
			chunks = append(chunks, text)
		}
	}
	if len(chunks) > 0 {
		return strings.TrimSpace(strings.Join(chunks, ""))
	}

	candidateKeys := []string{"final_output", "output", "content", "text", "message"}
	for i := len(events) - 1; i >= 0; i-- {
		event := events[i]
		for _, key := range candidateKeys {
			if value := strings.TrimSpace(asString(event[key])); value != "" {
				return value
			}
		}
		if part, ok := event["part"].(map[string]any); ok {
			for _, key := range []string{"text", "content", "message"} {
				if value := strings.TrimSpace(asString(part[key])); value != "" {
					return value
				}
			}
		}
	}
	return ""
}

// usageFromEvents sums token counts from per-event tokens objects,
// tolerating the key aliases different opencode versions emit. When no
// event carries tokens it falls back to the last standalone usage object.
func usageFromEvents(events []map[string]any) Usage {
	var sum Usage
	hasTokens := false

	for _, event := range events {
		part, ok := event["part"].(map[string]any)
		if !ok {
			continue
		}
		tokens, ok := part["tokens"].(map[string]any)
		if !ok {
			continue
		}

		hasTokens = true
		sum.PromptTokens += firstInt(tokens, "input_tokens", "prompt_tokens", "input")
		completion := firstInt(tokens, "output_tokens", "completion_tokens", "output")
		sum.CompletionTokens += completion
		total := firstInt(tokens, "total_tokens", "total")
		if total == 0 {
			total = firstInt(tokens, "input_tokens", "prompt_tokens", "input") + completion
		}
		sum.TotalTokens += total
	}
	if hasTokens {
		return sum
	}

	for i := len(events) - 1; i >= 0; i-- {
		usage, ok := events[i]["usage"].(map[string]any)
		if !ok {
			continue
		}
		return usageFromMap(usage)
	}
	return Usage{}
}

// usageFromMap reads one usage object with key aliases.
func usageFromMap(usage map[string]any) Usage {
	u := Usage{
		PromptTokens:     firstInt(usage, "input_tokens", "prompt_tokens", "input"),
		CompletionTokens: firstInt(usage, "output_tokens", "completion_tokens", "output"),
		TotalTokens:      firstInt(usage, "total_tokens", "total"),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

// errorFromEvents extracts a failure description from the event stream,
// preferring explicit error events, then any event carrying an error
// message, then the last non-empty stderr line.
func errorFromEvents(events []map[string]any, stderr string) string {
	for i := len(events) - 1; i >= 0; i-- {
		event := events[i]
		eventType := asString(event["type"])

		if eventType == "error" || eventType == "fatal" || eventType == "step_error" {
			if msg := errorMessage(event); msg != "" {
				return msg
			}
		}
		if isError, ok := event["is_error"].(bool); ok && isError {
			if msg := errorMessage(event); msg != "" {
				return msg
			}
		}
		if msg := errorMessage(event); msg != "" && eventType != "text" && eventType != "step_finish" {
			return msg
		}
	}

	lines := strings.Split(stderr, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// errorMessage pulls a message out of one event's error-bearing fields.
func errorMessage(event map[string]any) string {
	switch err := event["error"].(type) {
	case string:
		if msg := strings.TrimSpace(err); msg != "" {
			return msg
		}
	case map[string]any:
		if msg := strings.TrimSpace(asString(err["message"])); msg != "" {
			return msg
		}
	}

	if part, ok := event["part"].(map[string]any); ok {
		for _, key := range []string{"error", "message"} {
			switch value := part[key].(type) {
			case string:
				if msg := strings.TrimSpace(value); msg != "" {
					return msg
				}
			case map[string]any:
				if msg := strings.TrimSpace(asString(value["message"])); msg != "" {
					return msg
				}
			}
		}
	}

	return strings.TrimSpace(asString(event["message"]))
}

// jsonObjectFromEvents scans the event stream (newest first) for output
// fields containing an embedded JSON object.
func jsonObjectFromEvents(events []map[string]any) (map[string]any, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		event := events[i]
		for _, key := range []string{"output", "text", "message", "content"} {
			if value, ok := event[key].(string); ok {
				if obj, ok := ExtractJSONObject(value); ok {
					return obj, true
				}
			}
		}
		if part, ok := event["part"].(map[string]any); ok {
			for _, key := range []string{"text", "content", "message"} {
				if value, ok := part[key].(string); ok {
					if obj, ok := ExtractJSONObject(value); ok {
						return obj, true
					}
				}
			}
		}
	}
	return nil, false
}

// asString returns v if it is a string, else "".
func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asInt coerces JSON numbers (and numeric strings) to int.
func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	case string:
		var f float64
		if err := json.Unmarshal([]byte(strings.TrimSpace(n)), &f); err == nil {
			return int(f)
		}
	}
	return 0
}

// firstInt returns the first non-zero value among the aliased keys.
func firstInt(m map[string]any, keys ...string) int {
	for _, key := range keys {
		if n := asInt(m[key]); n != 0 {
			return n
		}
	}
	return 0
}
