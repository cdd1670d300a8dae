package stream

import "regexp"

// codePreamble matches, liberally, the structural beginning of a streamed
// code-interpreter invocation:
//
//	{"name":"code_interpreter","arguments":{"code": ...
//
// Single or double quotes are accepted and the code body may be partial;
// whatever follows the opening quote is captured as residual code. This
// is pattern-level detection only; final validation happens in the tool
// parser after the stream ends.
var codePreamble = regexp.MustCompile(
	`(?s)\{\s*["']name["']\s*:\s*["']code_interpreter["']\s*,\s*["']arguments["']\s*:\s*\{\s*["']code["']\s*:\s*["']?(.*)$`)

// matchCodePreamble reports whether accumulated text has reached the
// code-interpreter preamble, returning the captured residual code.
func matchCodePreamble(accumulated string) (residual string, ok bool) {
	m := codePreamble.FindStringSubmatch(accumulated)
	if m == nil {
		return "", false
	}
	return m[1], true
}
