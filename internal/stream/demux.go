// Package stream demultiplexes a single provider text stream into typed
// chunks: content, reasoning, hot_code. The state machine is pure in the
// sense that each token maps to (state', chunks); all buffer bookkeeping
// lives on the Demux value and the caller drives emission.
package stream

import (
	"regexp"
	"strings"

	"github.com/strandworks/strand/pkg/models"
)

// State is the demultiplexer state.
type State int

const (
	StateNormal State = iota
	StateReasoning
	StateCode
)

// codeFlushThreshold flushes a code buffer that grows past this many
// characters without a newline, so long single-line code still streams.
const codeFlushThreshold = 100

// thinkTags splits deltas on reasoning tags, keeping the delimiters.
var thinkTags = regexp.MustCompile(`(<think>|</think>)`)

// codeTail strips the JSON closing of a code-interpreter call from the
// final code flush: the terminating quote and braces are wire syntax,
// not code.
var codeTail = regexp.MustCompile(`"\s*}\s*}\s*$`)

// Demux converts provider deltas into typed stream chunks.
//
// Visible text bookkeeping: Reply() is, by construction, exactly the
// concatenation of every emitted content and hot_code chunk, which is
// what gets persisted as the assistant message. Accumulated() keeps the
// raw post-reasoning text (function-call JSON included) for the
// post-stream tool parser.
type Demux struct {
	state           State
	streamReasoning bool

	reply       strings.Builder
	accumulated strings.Builder
	reasoning   strings.Builder

	codeBuf     string
	escapeCarry bool

	// withheld is set once accumulated looks like a bare function call;
	// content emission stops so raw JSON never reaches subscribers. The
	// suppressed text is kept in withheldBuf so the caller can release it
	// when the post-stream parse decides it was prose after all.
	withheld    bool
	withheldBuf strings.Builder
}

// New creates a demultiplexer. streamReasoning opts the caller into
// receiving reasoning chunks (the <think> tags included).
func New(streamReasoning bool) *Demux {
	return &Demux{streamReasoning: streamReasoning}
}

// State returns the current machine state.
func (d *Demux) State() State { return d.state }

// Reply returns the visible assistant text emitted so far.
func (d *Demux) Reply() string { return d.reply.String() }

// Accumulated returns the post-reasoning raw text for tool parsing.
func (d *Demux) Accumulated() string { return d.accumulated.String() }

// Reasoning returns the collected reasoning text (tags excluded).
func (d *Demux) Reasoning() string { return d.reasoning.String() }

// Withheld returns the text suppressed from the content stream because it
// looked like a function call in flight.
func (d *Demux) Withheld() string { return d.withheldBuf.String() }

// Step consumes one content delta and returns the chunks to emit.
func (d *Demux) Step(token string) []*models.StreamChunk {
	if token == "" {
		return nil
	}
	var out []*models.StreamChunk
	for _, seg := range splitKeepingTags(token) {
		out = append(out, d.stepSegment(seg)...)
	}
	return out
}

// ReasoningDelta consumes a provider-native reasoning delta
// (delta.reasoning_content), which bypasses the tag parser.
func (d *Demux) ReasoningDelta(text string) []*models.StreamChunk {
	if text == "" {
		return nil
	}
	d.reasoning.WriteString(text)
	if !d.streamReasoning {
		return nil
	}
	return []*models.StreamChunk{models.ReasoningChunk(text)}
}

// Finish flushes any buffered state at stream end. In CODE state the
// remaining buffer is emitted with the JSON tail stripped.
func (d *Demux) Finish() []*models.StreamChunk {
	if d.state != StateCode {
		return nil
	}
	rest := codeTail.ReplaceAllString(d.codeBuf, "")
	d.codeBuf = ""
	if rest == "" {
		return nil
	}
	return []*models.StreamChunk{d.emitHotCode(rest)}
}

func (d *Demux) stepSegment(seg string) []*models.StreamChunk {
	switch seg {
	case "<think>":
		d.state = StateReasoning
		if d.streamReasoning {
			return []*models.StreamChunk{models.ReasoningChunk(seg)}
		}
		return nil
	case "</think>":
		d.state = StateNormal
		if d.streamReasoning {
			return []*models.StreamChunk{models.ReasoningChunk(seg)}
		}
		return nil
	}

	switch d.state {
	case StateReasoning:
		d.reasoning.WriteString(seg)
		if d.streamReasoning {
			return []*models.StreamChunk{models.ReasoningChunk(seg)}
		}
		return nil

	case StateCode:
		d.accumulated.WriteString(seg)
		return d.appendCode(seg)

	default:
		d.accumulated.WriteString(seg)

		if residual, ok := matchCodePreamble(d.accumulated.String()); ok {
			d.state = StateCode
			out := []*models.StreamChunk{d.emitHotCode("```python\n")}
			d.codeBuf = ""
			d.escapeCarry = false
			out = append(out, d.appendCode(residual)...)
			return out
		}

		// A reply that opens as JSON (or a fenced block) is a function
		// call in flight: hold content back so the raw invocation never
		// reaches the client. The post-stream parser decides what it was.
		if d.withheld || looksLikeFunctionCall(d.accumulated.String()) {
			d.withheld = true
			d.withheldBuf.WriteString(seg)
			return nil
		}

		d.reply.WriteString(seg)
		return []*models.StreamChunk{models.ContentChunk(seg)}
	}
}

// appendCode unescapes a code segment, buffers it, and emits complete
// lines. A buffer past the flush threshold is emitted as-is so output
// keeps moving on pathological one-liners.
func (d *Demux) appendCode(seg string) []*models.StreamChunk {
	unescaped, carry := unescapeFragment(seg, d.escapeCarry)
	d.escapeCarry = carry
	d.codeBuf += unescaped

	var out []*models.StreamChunk
	for {
		if i := strings.IndexByte(d.codeBuf, '\n'); i >= 0 {
			line := d.codeBuf[:i+1]
			d.codeBuf = d.codeBuf[i+1:]
			out = append(out, d.emitHotCode(line))
			continue
		}
		if len(d.codeBuf) > codeFlushThreshold {
			flushed := d.codeBuf
			d.codeBuf = ""
			out = append(out, d.emitHotCode(flushed))
			continue
		}
		break
	}
	return out
}

func (d *Demux) emitHotCode(text string) *models.StreamChunk {
	d.reply.WriteString(text)
	return models.HotCodeChunk(text)
}

// splitKeepingTags splits a delta on <think> tags, preserving the tags
// themselves as segments.
func splitKeepingTags(token string) []string {
	locs := thinkTags.FindAllStringIndex(token, -1)
	if locs == nil {
		return []string{token}
	}
	var segs []string
	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			segs = append(segs, token[prev:loc[0]])
		}
		segs = append(segs, token[loc[0]:loc[1]])
		prev = loc[1]
	}
	if prev < len(token) {
		segs = append(segs, token[prev:])
	}
	return segs
}

// looksLikeFunctionCall reports whether the accumulated reply opens like
// a bare JSON object or a fenced JSON block.
func looksLikeFunctionCall(accumulated string) bool {
	s := strings.TrimSpace(accumulated)
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, "{") {
		return true
	}
	if strings.HasPrefix(s, "```") {
		rest := strings.TrimLeft(strings.TrimPrefix(s, "```"), "json\n `")
		return rest == "" || strings.HasPrefix(rest, "{")
	}
	// A fence prefix still being streamed.
	return strings.HasPrefix("```", s)
}

// unescapeFragment resolves JSON string escapes inside a streamed code
// body. Fragments can split an escape sequence in half, so the caller
// threads a carry flag for a dangling backslash.
func unescapeFragment(s string, carry bool) (string, bool) {
	var b strings.Builder
	b.Grow(len(s))
	i := 0
	if carry && len(s) > 0 {
		b.WriteString(resolveEscape(s[0]))
		i = 1
		carry = false
	}
	for i < len(s) {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			i++
			continue
		}
		if i == len(s)-1 {
			carry = true
			break
		}
		b.WriteString(resolveEscape(s[i+1]))
		i += 2
	}
	return b.String(), carry
}

func resolveEscape(c byte) string {
	switch c {
	case 'n':
		return "\n"
	case 't':
		return "\t"
	case 'r':
		return "\r"
	case '"':
		return `"`
	case '\'':
		return "'"
	case '\\':
		return `\`
	case '/':
		return "/"
	default:
		// Unknown escape: keep both characters.
		return `\` + string(c)
	}
}
