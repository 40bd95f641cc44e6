// Package llm - items-protocol stream event parsing
package llm

import (
	"encoding/json"
	"strings"
)

// Items-protocol event type names. Kept private: nothing protocol-specific
// crosses the StreamEvent boundary.
const (
	respEventOutputTextDelta      = "response.output_text.delta"
	respEventOutputTextDone       = "response.output_text.done"
	respEventReasoningDelta       = "response.reasoning_text.delta"
	respEventReasoningDone        = "response.reasoning_text.done"
	respEventReasoningSummDelta   = "response.reasoning_summary_text.delta"
	respEventReasoningSummDone    = "response.reasoning_summary_text.done"
	respEventFuncArgsDelta        = "response.function_call_arguments.delta"
	respEventFuncArgsDone         = "response.function_call_arguments.done"
	respEventOutputItemAdded      = "response.output_item.added"
	respEventOutputItemDone       = "response.output_item.done"
	respEventCompleted            = "response.completed"
	respEventDone                 = "response.done"

	// sseDefaultEvent is the generic SSE event name; it carries no type
	// information, so the payload's own type field wins in that case.
	sseDefaultEvent = "message"
)

// responsesParser decodes items-protocol SSE lines into neutral stream
// events. Upstream servers reuse identifiers non-deterministically across
// frames, so the parser carries per-connection state: a remembered SSE event
// marker, a call-id to stream-local-index map, and emitted-key sets that
// keep delta and snapshot events from double-reporting the same content.
type responsesParser struct {
	eventType string // SSE event marker awaiting its data line

	callIndex map[string]int // call/item id -> stream-local index
	nextIndex int

	textDeltaSeen map[string]bool // item key -> text delta observed
	textEmitted   map[string]bool // item key -> snapshot text already surfaced
	argsDeltaSeen map[string]bool // item key -> argument delta observed
	argsEmitted   map[string]bool // item key -> snapshot arguments already surfaced
	thinkingSeen  map[string]bool // item key -> reasoning delta observed

	usage *Usage
}

func newResponsesParser() *responsesParser {
	return &responsesParser{
		callIndex:     make(map[string]int),
		textDeltaSeen: make(map[string]bool),
		textEmitted:   make(map[string]bool),
		argsDeltaSeen: make(map[string]bool),
		argsEmitted:   make(map[string]bool),
		thinkingSeen:  make(map[string]bool),
	}
}

// responsesEventPayload is the decoded envelope of one data line.
type responsesEventPayload struct {
	Type        string           `json:"type"`
	ItemID      string           `json:"item_id"`
	OutputIndex int              `json:"output_index"`
	Delta       json.RawMessage  `json:"delta"`
	Text        string           `json:"text"`
	Arguments   string           `json:"arguments"`
	Item        *responseOutItem `json:"item"`
	Response    *responseObject  `json:"response"`
}

// responseOutItem is an output item as it appears in added/done events and
// in the trailing non-streaming output array.
type responseOutItem struct {
	Type      string            `json:"type"`
	ID        string            `json:"id"`
	Role      string            `json:"role"`
	Status    string            `json:"status"`
	CallID    string            `json:"call_id"`
	Name      string            `json:"name"`
	Arguments string            `json:"arguments"`
	Content   []responseContent `json:"content"`
}

// responseObject is the response envelope of completed/done events.
type responseObject struct {
	ID     string            `json:"id"`
	Status string            `json:"status"`
	Output []responseOutItem `json:"output"`
	Usage  *struct {
		InputTokens        int `json:"input_tokens"`
		OutputTokens       int `json:"output_tokens"`
		InputTokensDetails *struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"input_tokens_details"`
		OutputTokensDetails *struct {
			ReasoningTokens int `json:"reasoning_tokens"`
		} `json:"output_tokens_details"`
	} `json:"usage"`
}

// ParseLine turns one decoded SSE line into zero or more neutral events.
// Non-data lines may carry an event-type marker, remembered and applied to
// the next data line. Parse failures yield skip; parsing never raises.
func (p *responsesParser) ParseLine(line string) []StreamEvent {
	if strings.HasPrefix(line, sseEventPrefix) {
		p.eventType = strings.TrimSpace(line[len(sseEventPrefix):])
		return nil
	}

	payload, ok := sseData(line)
	if !ok || payload == "" {
		return nil
	}
	marker := p.eventType
	p.eventType = ""

	if payload == sseDoneMarker {
		return []StreamEvent{doneEvent()}
	}

	var ev responsesEventPayload
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return []StreamEvent{{Kind: EventSkip}}
	}

	// The SSE marker wins unless it is absent or the generic default.
	// Best-effort compatibility heuristic, not a guaranteed contract.
	typ := ev.Type
	if marker != "" && marker != sseDefaultEvent {
		typ = marker
	}

	return p.dispatch(typ, &ev)
}

func (p *responsesParser) dispatch(typ string, ev *responsesEventPayload) []StreamEvent {
	switch typ {
	case respEventOutputTextDelta:
		p.textDeltaSeen[ev.ItemID] = true
		if delta := deltaText(ev.Delta); delta != "" {
			return []StreamEvent{textEvent(delta)}
		}

	case respEventOutputTextDone:
		// Surface the snapshot only when no delta was seen for the segment,
		// so the same content is not emitted twice.
		if !p.textDeltaSeen[ev.ItemID] && !p.textEmitted[ev.ItemID] && ev.Text != "" {
			p.textEmitted[ev.ItemID] = true
			return []StreamEvent{textEvent(ev.Text)}
		}

	case respEventReasoningDelta, respEventReasoningSummDelta:
		p.thinkingSeen[ev.ItemID] = true
		if delta := deltaText(ev.Delta); delta != "" {
			out := thinkingEvent(delta)
			out.ThinkingID = ev.ItemID
			return []StreamEvent{out}
		}

	case respEventReasoningDone, respEventReasoningSummDone:
		if !p.thinkingSeen[ev.ItemID] && ev.Text != "" {
			out := thinkingEvent(ev.Text)
			out.ThinkingID = ev.ItemID
			return []StreamEvent{out}
		}

	case respEventFuncArgsDelta:
		idx := p.indexFor(ev.ItemID)
		p.argsDeltaSeen[ev.ItemID] = true
		if delta := deltaText(ev.Delta); delta != "" {
			return []StreamEvent{{Kind: EventToolCallDelta, Index: idx, Args: delta}}
		}

	case respEventFuncArgsDone:
		// The done snapshot is a fallback for servers that never sent deltas.
		if !p.argsDeltaSeen[ev.ItemID] && !p.argsEmitted[ev.ItemID] && ev.Arguments != "" {
			p.argsEmitted[ev.ItemID] = true
			return []StreamEvent{{Kind: EventToolCallDelta, Index: p.indexFor(ev.ItemID), Args: ev.Arguments}}
		}

	case respEventOutputItemAdded, respEventOutputItemDone:
		if ev.Item != nil {
			return p.handleItem(ev.Item)
		}

	case respEventCompleted:
		if ev.Response == nil {
			return []StreamEvent{doneEvent()}
		}
		var events []StreamEvent
		// Less-conformant servers stream nothing and deliver everything in
		// the trailing output array; accept it as a fallback event source.
		for i := range ev.Response.Output {
			events = append(events, p.handleItem(&ev.Response.Output[i])...)
		}
		p.captureUsage(ev.Response)
		if ev.Response.ID != "" {
			events = append(events, StreamEvent{Kind: EventContinuation, ResponseID: ev.Response.ID})
		} else {
			events = append(events, doneEvent())
		}
		return events

	case respEventDone:
		if ev.Response != nil {
			p.captureUsage(ev.Response)
		}
		return []StreamEvent{doneEvent()}
	}

	return []StreamEvent{{Kind: EventSkip}}
}

// handleItem converts an embedded output item (from added/done events or the
// trailing output array) into neutral events, deduplicated per item key so a
// snapshot never re-emits content its deltas already delivered.
func (p *responsesParser) handleItem(item *responseOutItem) []StreamEvent {
	switch item.Type {
	case itemTypeFunctionCall:
		key := item.ID
		if key == "" {
			key = item.CallID
		}
		ev := StreamEvent{
			Kind:  EventToolCallDelta,
			Index: p.indexFor(key, item.CallID),
			ID:    item.CallID,
			Name:  item.Name,
		}
		if item.Arguments != "" && !p.argsDeltaSeen[key] && !p.argsDeltaSeen[item.CallID] && !p.argsEmitted[key] {
			p.argsEmitted[key] = true
			ev.Args = item.Arguments
		}
		return []StreamEvent{ev}

	case itemTypeMessage:
		var sb strings.Builder
		for _, c := range item.Content {
			if c.Type == contentOutputText || c.Type == "text" {
				sb.WriteString(c.Text)
			}
		}
		if sb.Len() == 0 {
			return nil
		}
		if p.textDeltaSeen[item.ID] || p.textEmitted[item.ID] {
			return nil
		}
		p.textEmitted[item.ID] = true
		return []StreamEvent{textEvent(sb.String())}
	}
	return nil
}

// indexFor resolves a stream-local integer index for a call. First sight of
// any key allocates the next sequential index; repeats reuse it. All supplied
// keys are bound to the same index so item ids and call ids stay coherent.
func (p *responsesParser) indexFor(keys ...string) int {
	for _, k := range keys {
		if k == "" {
			continue
		}
		if idx, ok := p.callIndex[k]; ok {
			return idx
		}
	}
	idx := p.nextIndex
	p.nextIndex++
	for _, k := range keys {
		if k != "" {
			p.callIndex[k] = idx
		}
	}
	return idx
}

func (p *responsesParser) captureUsage(resp *responseObject) {
	if resp.Usage == nil {
		return
	}
	u := &Usage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	if resp.Usage.InputTokensDetails != nil {
		u.CachedTokens = resp.Usage.InputTokensDetails.CachedTokens
	}
	if resp.Usage.OutputTokensDetails != nil {
		u.ReasoningTokens = resp.Usage.OutputTokensDetails.ReasoningTokens
	}
	p.usage = u
}

// Usage returns token usage captured from the stream, or nil.
func (p *responsesParser) Usage() *Usage { return p.usage }

// deltaText tolerates both wire shapes for delta payloads: a plain JSON
// string or an object wrapping a text field.
func deltaText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Text
	}
	return ""
}
