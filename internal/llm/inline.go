package llm

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Control tokens some models embed directly in generated text instead of
// using the structured tool-call channel.
const (
	tokSectionBegin = "<|tool_calls_section_begin|>"
	tokSectionEnd   = "<|tool_calls_section_end|>"
	tokCallBegin    = "<|tool_call_begin|>"
	tokArgBegin     = "<|tool_call_argument_begin|>"
	tokCallEnd      = "<|tool_call_end|>"
)

var inlineTokens = []string{
	tokSectionBegin, tokSectionEnd, tokCallBegin, tokArgBegin, tokCallEnd,
}

// inlineCall is one in-flight inline tool call.
type inlineCall struct {
	name     string
	index    int
	hasIndex bool
	header   strings.Builder // accumulates until the argument-begin token
	args     strings.Builder
	inArgs   bool
	emitted  bool
}

// inlineToolScanner extracts control-token tool calls from streamed text.
// Text chunks split tokens at arbitrary byte boundaries, so the scanner
// holds back any trailing run that could still grow into a token and
// releases it as plain text once it provably cannot. Calls the model
// repeats are suppressed: by declared index when one is present, otherwise
// by name plus canonicalized arguments.
type inlineToolScanner struct {
	pending strings.Builder
	active  *inlineCall

	seenIndexed map[int]bool
	seenByArgs  map[string]bool

	emitText func(string)
	emitCall func(ToolCall)
}

func newInlineToolScanner(emitText func(string), emitCall func(ToolCall)) *inlineToolScanner {
	return &inlineToolScanner{
		seenIndexed: make(map[int]bool),
		seenByArgs:  make(map[string]bool),
		emitText:    emitText,
		emitCall:    emitCall,
	}
}

// Feed consumes one text chunk, surfacing plain text and completed calls.
func (s *inlineToolScanner) Feed(chunk string) {
	if chunk == "" {
		return
	}
	s.pending.WriteString(chunk)
	s.scan()
}

func (s *inlineToolScanner) scan() {
	buf := s.pending.String()
	s.pending.Reset()

	for buf != "" {
		if s.active == nil {
			consumed, rest := s.scanText(buf)
			if !consumed {
				s.pending.WriteString(rest)
				return
			}
			buf = rest
			continue
		}
		consumed, rest := s.scanCall(buf)
		if !consumed {
			s.pending.WriteString(rest)
			return
		}
		buf = rest
	}
}

// scanText handles the plain-text state: surface text up to the next control
// token, swallow section markers, and open a call on the begin token. Returns
// consumed=false when the remainder must wait for more input.
func (s *inlineToolScanner) scanText(buf string) (bool, string) {
	tok, pos := firstToken(buf)
	if pos < 0 {
		// No complete token; hold back only what could still become one.
		hold := tokenPrefixLen(buf)
		if text := buf[:len(buf)-hold]; text != "" {
			s.emitText(text)
		}
		return false, buf[len(buf)-hold:]
	}
	if pre := buf[:pos]; pre != "" {
		s.emitText(pre)
	}
	rest := buf[pos+len(tok):]
	switch tok {
	case tokCallBegin:
		s.active = &inlineCall{}
	case tokSectionBegin, tokSectionEnd:
		// Structural markers carry no content.
	default:
		// A stray argument-begin or call-end outside a call is noise.
	}
	return true, rest
}

// scanCall handles the in-call states: header accumulation until the
// argument-begin token or the end token (a call may omit its argument
// section entirely), then argument accumulation until the end token.
func (s *inlineToolScanner) scanCall(buf string) (bool, string) {
	c := s.active
	if !c.inArgs {
		argPos := strings.Index(buf, tokArgBegin)
		endPos := strings.Index(buf, tokCallEnd)
		if endPos >= 0 && (argPos < 0 || endPos < argPos) {
			// The call closes straight after the header: no argument
			// section, so it carries the empty object.
			c.header.WriteString(buf[:endPos])
			c.name, c.index, c.hasIndex = parseInlineHeader(c.header.String())
			s.flushActive(true)
			s.active = nil
			return true, buf[endPos+len(tokCallEnd):]
		}
		if argPos < 0 {
			hold := tokenPrefixLen(buf)
			c.header.WriteString(buf[:len(buf)-hold])
			return false, buf[len(buf)-hold:]
		}
		c.header.WriteString(buf[:argPos])
		c.name, c.index, c.hasIndex = parseInlineHeader(c.header.String())
		c.inArgs = true
		return true, buf[argPos+len(tokArgBegin):]
	}

	pos := strings.Index(buf, tokCallEnd)
	if pos < 0 {
		hold := tokenPrefixLen(buf)
		c.args.WriteString(buf[:len(buf)-hold])
		// The arguments may already be complete JSON; emit without waiting
		// for the end token so dispatch is not gated on it.
		s.flushActive(false)
		return false, buf[len(buf)-hold:]
	}
	c.args.WriteString(buf[:pos])
	s.flushActive(false)
	s.active = nil
	return true, buf[pos+len(tokCallEnd):]
}

// flushActive emits the active call once its arguments parse as a JSON
// object, applying duplicate suppression. With force set, empty arguments
// normalize to the empty object.
func (s *inlineToolScanner) flushActive(force bool) {
	c := s.active
	if c == nil || c.emitted || c.name == "" {
		return
	}
	args := strings.TrimSpace(c.args.String())
	if args == "" {
		if !force {
			return
		}
		args = "{}"
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(args), &obj); err != nil {
		return
	}
	if c.hasIndex {
		if s.seenIndexed[c.index] {
			c.emitted = true
			return
		}
		s.seenIndexed[c.index] = true
	} else {
		key := c.name + "\x00" + canonicalJSON(args)
		if s.seenByArgs[key] {
			c.emitted = true
			return
		}
		s.seenByArgs[key] = true
	}
	c.emitted = true
	s.emitCall(ToolCall{ID: callIDOrNew(""), Name: c.name, Input: json.RawMessage(args)})
}

// EndTurn flushes at end of turn: an open call with valid arguments is
// emitted, an unparseable one is discarded, and held-back text that never
// became a token is released verbatim.
func (s *inlineToolScanner) EndTurn() {
	if s.active != nil {
		s.flushActive(true)
		s.active = nil
		s.pending.Reset()
		return
	}
	if rest := s.pending.String(); rest != "" {
		s.emitText(rest)
	}
	s.pending.Reset()
}

// parseInlineHeader splits "name" or "name:index" headers. Some models
// namespace the tool as "functions.name"; the prefix is stripped.
func parseInlineHeader(h string) (name string, index int, hasIndex bool) {
	h = strings.TrimSpace(h)
	if i := strings.LastIndex(h, ":"); i >= 0 {
		if n, err := strconv.Atoi(h[i+1:]); err == nil {
			h, index, hasIndex = h[:i], n, true
		}
	}
	name = strings.TrimPrefix(h, "functions.")
	return name, index, hasIndex
}

// firstToken finds the earliest complete control token in s.
func firstToken(s string) (string, int) {
	best, bestPos := "", -1
	for _, tok := range inlineTokens {
		if pos := strings.Index(s, tok); pos >= 0 && (bestPos < 0 || pos < bestPos) {
			best, bestPos = tok, pos
		}
	}
	return best, bestPos
}

// tokenPrefixLen returns the length of the longest suffix of s that is a
// strict prefix of any control token. That suffix may complete into a token
// with more input, so it cannot yet be released as text.
func tokenPrefixLen(s string) int {
	max := 0
	for _, tok := range inlineTokens {
		limit := len(tok) - 1
		if limit > len(s) {
			limit = len(s)
		}
		for n := limit; n > max; n-- {
			if strings.HasSuffix(s, tok[:n]) {
				max = n
				break
			}
		}
	}
	return max
}
