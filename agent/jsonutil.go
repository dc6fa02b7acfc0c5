package agent

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Pre-compiled patterns for JSON extraction from agent output.
var (
	// fencePattern matches output wrapped in a markdown code fence.
	fencePattern = regexp.MustCompile("(?is)^```(?:json)?\\s*\\n?(.*?)\\n?```\\s*$")
	// trailingCommaPattern matches trailing commas before ] or }.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSONObject extracts a JSON object from agent output. Agents are
// told to return strict JSON but commonly wrap it in markdown fences,
// surround it with prose, or emit comments and trailing commas; this
// tolerates all of those. Returns false when no object can be decoded.
func ExtractJSONObject(text string) (map[string]any, bool) {
	candidate := strings.TrimSpace(text)
	if candidate == "" {
		return nil, false
	}

	if m := fencePattern.FindStringSubmatch(candidate); len(m) > 1 {
		candidate = strings.TrimSpace(m[1])
	}

	if obj, ok := decodeObject(candidate); ok {
		return obj, true
	}

	// Scan for embedded objects: decode from each '{' and take the first
	// that parses.
	for i := 0; i < len(candidate); i++ {
		if candidate[i] != '{' {
			continue
		}
		if obj, ok := decodeObjectPrefix(candidate[i:]); ok {
			return obj, true
		}
	}
	return nil, false
}

func decodeObject(candidate string) (map[string]any, bool) {
	cleaned := cleanJSON(candidate)
	var obj map[string]any
	if err := json.Unmarshal([]byte(cleaned), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// decodeObjectPrefix decodes a JSON object from the start of s, ignoring
// trailing content after the object.
func decodeObjectPrefix(s string) (map[string]any, bool) {
	dec := json.NewDecoder(strings.NewReader(cleanJSON(s)))
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, false
	}
	return obj, true
}

// cleanJSON removes JavaScript-style line comments and trailing commas,
// both common agent artifacts in otherwise valid JSON.
func cleanJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		cleaned = append(cleaned, stripLineComment(line))
	}
	result := strings.Join(cleaned, "\n")
	return trailingCommaPattern.ReplaceAllString(result, "$1")
}

// stripLineComment removes a // comment from a line, respecting string
// values so "http://example.com" survives.
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}

	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/' {
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}
