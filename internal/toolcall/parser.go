// Package toolcall parses tool invocations out of completed model output.
// Models emit function calls as plain JSON text, frequently mangled:
// smart quotes, markdown fences, single-quoted keys, trailing commas,
// or several objects coalesced into one blob. Parsing is post-stream and
// best-effort; anything that fails validation is treated as prose.
package toolcall

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Call is a parsed tool invocation.
type Call struct {
	Name      string
	Arguments map[string]any
}

var (
	smartQuotes = strings.NewReplacer(
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
	)

	// fence strips a surrounding markdown code block.
	fence = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

	// trailingComma removes a comma directly before a closing brace or
	// bracket.
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)

	// coalesced splits back-to-back JSON objects some providers pack
	// into a single frame.
	coalesced = regexp.MustCompile(`\}\s*\{`)

	// candidate finds embedded single-level function-call objects inside
	// surrounding prose. Non-recursive on purpose: arguments may not
	// nest beyond what validation permits anyway.
	candidate = regexp.MustCompile(
		`\{[^{}]*"name"\s*:\s*"[^"]+"\s*,\s*"arguments"\s*:\s*\{[^{}]*\}\s*,?[^{}]*\}`)
)

// Parse extracts a tool invocation from accumulated model output.
// Returns (nil, false) when the text is prose or an invalid call.
func Parse(accumulated string) (*Call, bool) {
	s := Normalize(accumulated)
	if s == "" {
		return nil, false
	}

	if call, ok := tryParse(s); ok {
		return call, true
	}

	// Providers sometimes coalesce frames into `}{` blobs; each half is
	// a candidate on its own.
	if parts := splitCoalesced(s); len(parts) > 1 {
		for _, part := range parts {
			if call, ok := tryParse(part); ok {
				return call, true
			}
		}
	}

	// Prose with an embedded invocation.
	for _, m := range candidate.FindAllString(s, -1) {
		if call, ok := tryParse(m); ok {
			return call, true
		}
	}
	return nil, false
}

// Normalize applies JSON hygiene: smart quotes to ASCII, fence removal,
// single-to-double quote repair, trailing-comma removal.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = smartQuotes.Replace(s)
	if m := fence.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	// Single-quoted JSON only when no double quote exists anywhere;
	// otherwise the replacement would corrupt string bodies.
	if strings.Contains(s, "'") && !strings.Contains(s, `"`) {
		s = strings.ReplaceAll(s, "'", `"`)
	}
	s = trailingComma.ReplaceAllString(s, "$1")
	return s
}

func tryParse(s string) (*Call, bool) {
	var v map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &v); err != nil {
		return nil, false
	}
	if !IsValidFunctionCallResponse(v) && !IsComplexVectorSearch(v) {
		return nil, false
	}
	name, _ := v["name"].(string)
	args, _ := v["arguments"].(map[string]any)
	return &Call{Name: name, Arguments: args}, true
}

// splitCoalesced cuts `}{` boundaries into standalone objects.
func splitCoalesced(s string) []string {
	locs := coalesced.FindAllStringIndex(s, -1)
	if locs == nil {
		return []string{s}
	}
	var parts []string
	prev := 0
	for _, loc := range locs {
		parts = append(parts, s[prev:loc[0]+1])
		prev = loc[1] - 1
	}
	parts = append(parts, s[prev:])
	return parts
}
