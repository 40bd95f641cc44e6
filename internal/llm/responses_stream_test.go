package llm

import "testing"

// feed pushes a sequence of raw SSE lines through the parser and collects
// every resulting event.
func feed(p *responsesParser, lines ...string) []StreamEvent {
	var out []StreamEvent
	for _, line := range lines {
		out = append(out, p.ParseLine(line)...)
	}
	return out
}

func kinds(events []StreamEvent) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestResponsesParserTextDelta(t *testing.T) {
	p := newResponsesParser()
	events := feed(p,
		`data: {"type":"response.output_text.delta","item_id":"msg_1","delta":"Hel"}`,
		`data: {"type":"response.output_text.delta","item_id":"msg_1","delta":"lo"}`,
	)
	if len(events) != 2 || events[0].Text != "Hel" || events[1].Text != "lo" {
		t.Fatalf("events = %+v", events)
	}
}

func TestResponsesParserTextDoneSuppressedAfterDeltas(t *testing.T) {
	p := newResponsesParser()
	events := feed(p,
		`data: {"type":"response.output_text.delta","item_id":"msg_1","delta":"Hello"}`,
		`data: {"type":"response.output_text.done","item_id":"msg_1","text":"Hello"}`,
	)
	if len(events) != 2 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Kind != EventText || events[1].Kind != EventSkip {
		t.Errorf("kinds = %v, done snapshot should be suppressed", kinds(events))
	}
}

func TestResponsesParserTextDoneWithoutDeltas(t *testing.T) {
	p := newResponsesParser()
	events := feed(p, `data: {"type":"response.output_text.done","item_id":"msg_1","text":"whole reply"}`)
	if len(events) != 1 || events[0].Kind != EventText || events[0].Text != "whole reply" {
		t.Fatalf("events = %+v", events)
	}
}

func TestResponsesParserEventMarkerWins(t *testing.T) {
	// The data payload has no type field; the SSE event line supplies it.
	p := newResponsesParser()
	events := feed(p,
		"event: response.output_text.delta",
		`data: {"item_id":"msg_1","delta":"marked"}`,
	)
	if len(events) != 1 || events[0].Kind != EventText || events[0].Text != "marked" {
		t.Fatalf("events = %+v", events)
	}
}

func TestResponsesParserGenericMarkerDefersToPayload(t *testing.T) {
	p := newResponsesParser()
	events := feed(p,
		"event: message",
		`data: {"type":"response.output_text.delta","item_id":"msg_1","delta":"payload type"}`,
	)
	if len(events) != 1 || events[0].Kind != EventText || events[0].Text != "payload type" {
		t.Fatalf("events = %+v", events)
	}
}

func TestResponsesParserFunctionCallFlow(t *testing.T) {
	p := newResponsesParser()
	events := feed(p,
		`data: {"type":"response.output_item.added","item":{"type":"function_call","id":"fc_1","call_id":"call_1","name":"get_weather"}}`,
		`data: {"type":"response.function_call_arguments.delta","item_id":"fc_1","delta":"{\"city\":"}`,
		`data: {"type":"response.function_call_arguments.delta","item_id":"fc_1","delta":"\"SF\"}"}`,
		`data: {"type":"response.function_call_arguments.done","item_id":"fc_1","arguments":"{\"city\":\"SF\"}"}`,
	)

	var deltas []StreamEvent
	for _, ev := range events {
		if ev.Kind == EventToolCallDelta {
			deltas = append(deltas, ev)
		}
	}
	if len(deltas) != 3 {
		t.Fatalf("tool call deltas = %+v", deltas)
	}
	if deltas[0].Name != "get_weather" || deltas[0].ID != "call_1" {
		t.Errorf("identity delta = %+v", deltas[0])
	}
	if deltas[1].Args+deltas[2].Args != `{"city":"SF"}` {
		t.Errorf("args = %q + %q", deltas[1].Args, deltas[2].Args)
	}
	// All fragments of the same item share one stream-local index.
	if deltas[0].Index != deltas[1].Index || deltas[1].Index != deltas[2].Index {
		t.Errorf("indices diverge: %+v", deltas)
	}
	// The .done snapshot must not re-emit arguments after deltas.
	last := events[len(events)-1]
	if last.Kind == EventToolCallDelta && last.Args != "" {
		t.Errorf("done snapshot re-emitted args: %+v", last)
	}
}

func TestResponsesParserArgsDoneWithoutDeltas(t *testing.T) {
	p := newResponsesParser()
	events := feed(p,
		`data: {"type":"response.function_call_arguments.done","item_id":"fc_1","arguments":"{\"x\":1}"}`,
	)
	if len(events) != 1 || events[0].Kind != EventToolCallDelta || events[0].Args != `{"x":1}` {
		t.Fatalf("events = %+v", events)
	}
}

func TestResponsesParserDistinctCallsGetSequentialIndices(t *testing.T) {
	p := newResponsesParser()
	a := feed(p, `data: {"type":"response.function_call_arguments.delta","item_id":"fc_a","delta":"{"}`)
	b := feed(p, `data: {"type":"response.function_call_arguments.delta","item_id":"fc_b","delta":"{"}`)
	if a[0].Index != 0 || b[0].Index != 1 {
		t.Errorf("indices = %d, %d, want 0, 1", a[0].Index, b[0].Index)
	}
}

func TestResponsesParserCompletedEmitsContinuation(t *testing.T) {
	p := newResponsesParser()
	events := feed(p,
		`data: {"type":"response.output_text.delta","item_id":"msg_1","delta":"hi"}`,
		`data: {"type":"response.completed","response":{"id":"resp_77","status":"completed","usage":{"input_tokens":10,"output_tokens":5,"output_tokens_details":{"reasoning_tokens":2}}}}`,
	)
	last := events[len(events)-1]
	if last.Kind != EventContinuation || last.ResponseID != "resp_77" {
		t.Fatalf("last event = %+v", last)
	}
	u := p.Usage()
	if u == nil || u.InputTokens != 10 || u.OutputTokens != 5 || u.ReasoningTokens != 2 {
		t.Errorf("usage = %+v", u)
	}
}

func TestResponsesParserCompletedWithoutIDIsDone(t *testing.T) {
	p := newResponsesParser()
	events := feed(p, `data: {"type":"response.completed","response":{"status":"completed"}}`)
	if len(events) != 1 || events[0].Kind != EventDone {
		t.Fatalf("events = %+v", events)
	}
}

func TestResponsesParserCompletedOutputFallback(t *testing.T) {
	// Nothing streamed; everything arrives in the trailing output array.
	p := newResponsesParser()
	events := feed(p,
		`data: {"type":"response.completed","response":{"id":"resp_1","output":[`+
			`{"type":"message","id":"msg_1","role":"assistant","content":[{"type":"output_text","text":"full text"}]},`+
			`{"type":"function_call","id":"fc_1","call_id":"call_1","name":"lookup","arguments":"{\"q\":\"go\"}"}]}}`,
	)

	if len(events) != 3 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Kind != EventText || events[0].Text != "full text" {
		t.Errorf("text fallback = %+v", events[0])
	}
	if events[1].Kind != EventToolCallDelta || events[1].Name != "lookup" || events[1].Args != `{"q":"go"}` {
		t.Errorf("call fallback = %+v", events[1])
	}
	if events[2].Kind != EventContinuation || events[2].ResponseID != "resp_1" {
		t.Errorf("continuation = %+v", events[2])
	}
}

func TestResponsesParserCompletedDoesNotDuplicateStreamedContent(t *testing.T) {
	p := newResponsesParser()
	events := feed(p,
		`data: {"type":"response.output_text.delta","item_id":"msg_1","delta":"streamed"}`,
		`data: {"type":"response.function_call_arguments.delta","item_id":"fc_1","delta":"{\"q\":1}"}`,
		`data: {"type":"response.completed","response":{"id":"resp_1","output":[`+
			`{"type":"message","id":"msg_1","role":"assistant","content":[{"type":"output_text","text":"streamed"}]},`+
			`{"type":"function_call","id":"fc_1","call_id":"call_1","name":"lookup","arguments":"{\"q\":1}"}]}}`,
	)
	for _, ev := range events[2:] {
		if ev.Kind == EventText {
			t.Errorf("text re-emitted from output array: %+v", ev)
		}
		if ev.Kind == EventToolCallDelta && ev.Args != "" {
			t.Errorf("args re-emitted from output array: %+v", ev)
		}
	}
}

func TestResponsesParserReasoningAndDone(t *testing.T) {
	p := newResponsesParser()
	events := feed(p,
		`data: {"type":"response.reasoning_text.delta","item_id":"rs_1","delta":"mull"}`,
		`data: {"type":"response.reasoning_text.done","item_id":"rs_1","text":"mull"}`,
		`data: {"type":"response.done"}`,
	)
	if events[0].Kind != EventThinking || events[0].Text != "mull" || events[0].ThinkingID != "rs_1" {
		t.Errorf("thinking = %+v", events[0])
	}
	if events[1].Kind != EventSkip {
		t.Errorf("reasoning done snapshot should be suppressed, got %+v", events[1])
	}
	if events[2].Kind != EventDone {
		t.Errorf("final = %+v", events[2])
	}
}

func TestResponsesParserBadJSONIsSkip(t *testing.T) {
	p := newResponsesParser()
	events := feed(p, `data: {"type":`)
	if len(events) != 1 || events[0].Kind != EventSkip {
		t.Fatalf("events = %+v", events)
	}
}
