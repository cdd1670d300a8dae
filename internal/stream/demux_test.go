package stream

import (
	"strings"
	"testing"

	"github.com/strandworks/strand/pkg/models"
)

func drive(d *Demux, tokens ...string) []*models.StreamChunk {
	var out []*models.StreamChunk
	for _, tok := range tokens {
		out = append(out, d.Step(tok)...)
	}
	out = append(out, d.Finish()...)
	return out
}

func byType(chunks []*models.StreamChunk, t models.ChunkType) string {
	var b strings.Builder
	for _, c := range chunks {
		if c.Type == t {
			b.WriteString(c.Content)
		}
	}
	return b.String()
}

func TestPlainContentPassesThrough(t *testing.T) {
	d := New(false)
	chunks := drive(d, "Hello", ", ", "world", "!")
	if got := byType(chunks, models.ChunkContent); got != "Hello, world!" {
		t.Errorf("content = %q", got)
	}
	if d.Reply() != "Hello, world!" {
		t.Errorf("Reply() = %q", d.Reply())
	}
}

func TestThinkTagsRouteToReasoning(t *testing.T) {
	d := New(true)
	chunks := drive(d, "<think>", "pondering", " deeply", "</think>", "Answer")

	if got := byType(chunks, models.ChunkReasoning); got != "<think>pondering deeply</think>" {
		t.Errorf("reasoning stream = %q", got)
	}
	if got := byType(chunks, models.ChunkContent); got != "Answer" {
		t.Errorf("content = %q", got)
	}
	if d.Reasoning() != "pondering deeply" {
		t.Errorf("Reasoning() = %q", d.Reasoning())
	}
	// Reasoning never contaminates the text handed to the tool parser.
	if d.Accumulated() != "Answer" {
		t.Errorf("Accumulated() = %q", d.Accumulated())
	}
}

func TestReasoningSuppressedWithoutOptIn(t *testing.T) {
	d := New(false)
	chunks := drive(d, "<think>secret</think>", "ok")
	if got := byType(chunks, models.ChunkReasoning); got != "" {
		t.Errorf("reasoning leaked without opt-in: %q", got)
	}
	if got := byType(chunks, models.ChunkContent); got != "ok" {
		t.Errorf("content = %q", got)
	}
	// Still collected internally for callers that want it afterwards.
	if d.Reasoning() != "secret" {
		t.Errorf("Reasoning() = %q", d.Reasoning())
	}
}

func TestTagsInsideOneDelta(t *testing.T) {
	d := New(true)
	chunks := drive(d, "a<think>b</think>c")
	if got := byType(chunks, models.ChunkContent); got != "ac" {
		t.Errorf("content = %q", got)
	}
	if got := byType(chunks, models.ChunkReasoning); got != "<think>b</think>" {
		t.Errorf("reasoning = %q", got)
	}
}

func TestProviderNativeReasoningDeltas(t *testing.T) {
	d := New(true)
	chunks := d.ReasoningDelta("step one")
	chunks = append(chunks, d.Step("visible")...)
	if got := byType(chunks, models.ChunkReasoning); got != "step one" {
		t.Errorf("reasoning = %q", got)
	}
	if got := byType(chunks, models.ChunkContent); got != "visible" {
		t.Errorf("content = %q", got)
	}
}

func TestCodeInterpreterStreamsAsHotCode(t *testing.T) {
	d := New(false)
	chunks := drive(d,
		`{"name": "code_int`,
		`erpreter", "arguments"`,
		`: {"code": "print(1)\n`,
		`print(2)\n"}}`,
	)

	if got := byType(chunks, models.ChunkContent); got != "" {
		t.Errorf("raw JSON leaked as content: %q", got)
	}
	want := "```python\nprint(1)\nprint(2)\n"
	if got := byType(chunks, models.ChunkHotCode); got != want {
		t.Errorf("hot_code = %q, want %q", got, want)
	}
	if d.State() != StateCode {
		t.Errorf("state = %v, want StateCode", d.State())
	}
	// The raw invocation survives intact for the post-stream parser.
	if !strings.Contains(d.Accumulated(), `"code"`) {
		t.Errorf("Accumulated() lost the invocation: %q", d.Accumulated())
	}
}

func TestCodeLinesEmitOnNewline(t *testing.T) {
	d := New(false)
	d.Step(`{"name":"code_interpreter","arguments":{"code":"`)

	chunks := d.Step(`x = 1\ny `)
	if got := byType(chunks, models.ChunkHotCode); got != "x = 1\n" {
		t.Errorf("first line = %q", got)
	}
	chunks = d.Step(`= 2\n`)
	if got := byType(chunks, models.ChunkHotCode); got != "y = 2\n" {
		t.Errorf("second line = %q", got)
	}
}

func TestCodeBufferFlushThreshold(t *testing.T) {
	d := New(false)
	d.Step(`{"name":"code_interpreter","arguments":{"code":"`)

	long := strings.Repeat("a", codeFlushThreshold+10)
	chunks := d.Step(long)
	if got := byType(chunks, models.ChunkHotCode); got != long {
		t.Errorf("oversized buffer was not flushed: got %d bytes", len(got))
	}
	// Emitted chunks never carry more than threshold+delta unflushed text;
	// the internal buffer must be empty again.
	if d.codeBuf != "" {
		t.Errorf("codeBuf = %q after flush", d.codeBuf)
	}
}

func TestCodeEscapeSplitAcrossDeltas(t *testing.T) {
	d := New(false)
	d.Step(`{"name":"code_interpreter","arguments":{"code":"`)
	d.Step(`print(1)\`)
	chunks := d.Step(`nprint(2)`)
	if got := byType(chunks, models.ChunkHotCode); got != "print(1)\n" {
		t.Errorf("split escape mishandled: %q", got)
	}
}

func TestFinishStripsJSONTail(t *testing.T) {
	d := New(false)
	d.Step(`{"name":"code_interpreter","arguments":{"code":"x = 1"}}`)
	chunks := d.Finish()
	if got := byType(chunks, models.ChunkHotCode); got != "x = 1" {
		t.Errorf("final flush = %q", got)
	}
}

func TestBareJSONReplyIsWithheld(t *testing.T) {
	d := New(false)
	chunks := drive(d,
		`{"name": "web_search", `,
		`"arguments": {"query": "golang generics"}}`,
	)
	if got := byType(chunks, models.ChunkContent); got != "" {
		t.Errorf("function call leaked as content: %q", got)
	}
	if d.Accumulated() == "" {
		t.Error("Accumulated() must retain the invocation for parsing")
	}
}

func TestWithheldTextIsRecoverable(t *testing.T) {
	// JSON-shaped prose gets suppressed mid-stream; the caller must be
	// able to release it verbatim once parsing decides it was no call.
	d := New(false)
	reply := `{"temperature_c": 21, "sky": "clear"}`
	chunks := drive(d, `{"temperature_c": 21,`, ` "sky": "clear"}`)
	if got := byType(chunks, models.ChunkContent); got != "" {
		t.Errorf("withheld text leaked as content: %q", got)
	}
	if d.Withheld() != reply {
		t.Errorf("Withheld() = %q, want %q", d.Withheld(), reply)
	}
}

func TestFencedJSONReplyIsWithheld(t *testing.T) {
	d := New(false)
	chunks := drive(d, "```json\n", `{"name":"computer","arguments":{"command":"ls"}}`, "\n```")
	if got := byType(chunks, models.ChunkContent); got != "" {
		t.Errorf("fenced call leaked as content: %q", got)
	}
}

func TestTextThenEmbeddedJSONKeepsText(t *testing.T) {
	// When visible prose arrives first, content streams normally and the
	// embedded invocation is left for extraction after the stream.
	d := New(false)
	chunks := drive(d, "Let me check. ", `{"name":"web_search","arguments":{"query":"q"}}`)
	if got := byType(chunks, models.ChunkContent); !strings.HasPrefix(got, "Let me check. ") {
		t.Errorf("leading prose lost: %q", got)
	}
}

// The boundary property: visible output (content plus hot_code) equals the
// provider stream with reasoning spans removed and the call preamble elided.
func TestReplyMatchesEmittedChunks(t *testing.T) {
	d := New(true)
	var emitted strings.Builder
	tokens := []string{
		"<think>", "plan", "</think>",
		"Here you go:\n",
		" done.",
	}
	for _, tok := range tokens {
		for _, c := range d.Step(tok) {
			if c.Type == models.ChunkContent || c.Type == models.ChunkHotCode {
				emitted.WriteString(c.Content)
			}
		}
	}
	for _, c := range d.Finish() {
		emitted.WriteString(c.Content)
	}
	if d.Reply() != emitted.String() {
		t.Errorf("Reply() = %q, emitted = %q", d.Reply(), emitted.String())
	}
	if d.Reply() != "Here you go:\n done." {
		t.Errorf("Reply() = %q", d.Reply())
	}
}

func TestSplitKeepingTags(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"plain", []string{"plain"}},
		{"<think>", []string{"<think>"}},
		{"a<think>b", []string{"a", "<think>", "b"}},
		{"<think>a</think>b", []string{"<think>", "a", "</think>", "b"}},
	}
	for _, tt := range tests {
		got := splitKeepingTags(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("splitKeepingTags(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("splitKeepingTags(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}
