package llm

// EventKind enumerates the protocol-neutral stream event vocabulary.
type EventKind int

const (
	// EventSkip marks a line that carried nothing usable (keep-alives,
	// unparseable payloads, already-consumed duplicates).
	EventSkip EventKind = iota
	// EventText is a visible text delta.
	EventText
	// EventToolCallDelta is an incremental fragment of a tool invocation,
	// addressed by a stream-local integer index.
	EventToolCallDelta
	// EventThinking is a reasoning/thinking text delta.
	EventThinking
	// EventContinuation carries the upstream turn id at end of turn.
	EventContinuation
	// EventFinish carries the upstream finish reason.
	EventFinish
	// EventDone marks the end of the stream.
	EventDone
)

// StreamEvent is the protocol-neutral contract between the wire parsers and
// the orchestrator. No protocol-specific vocabulary crosses this boundary.
type StreamEvent struct {
	Kind EventKind

	// EventText / EventThinking
	Text string

	// EventThinking: originating segment id, when the protocol provides one
	ThinkingID string

	// EventToolCallDelta
	Index int    // stream-assigned identity for the in-flight call
	ID    string // upstream call id, when known
	Name  string // tool name, set once when known
	Args  string // arguments fragment to append

	// EventContinuation
	ResponseID string

	// EventFinish
	Reason string
}

func textEvent(s string) StreamEvent     { return StreamEvent{Kind: EventText, Text: s} }
func thinkingEvent(s string) StreamEvent { return StreamEvent{Kind: EventThinking, Text: s} }
func finishEvent(reason string) StreamEvent {
	return StreamEvent{Kind: EventFinish, Reason: reason}
}
func doneEvent() StreamEvent { return StreamEvent{Kind: EventDone} }
