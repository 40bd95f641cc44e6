package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToolCall is a fully assembled tool invocation ready for dispatch.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// toolCallBuffer accumulates fragments of one tool call, keyed by its
// stream-local index.
type toolCallBuffer struct {
	id   string
	name string
	args strings.Builder
	done bool
}

// toolCallReconstructor assembles complete tool calls out of interleaved
// per-index delta events. Calls flush eagerly the moment the buffered
// arguments first parse as a JSON object, so downstream dispatch does not
// wait on the finish event; late deltas for a flushed index are dropped.
type toolCallReconstructor struct {
	buffers map[int]*toolCallBuffer
	order   []int
	emit    func(ToolCall)
}

func newToolCallReconstructor(emit func(ToolCall)) *toolCallReconstructor {
	return &toolCallReconstructor{
		buffers: make(map[int]*toolCallBuffer),
		emit:    emit,
	}
}

// Delta folds one tool-call delta into the buffer for its index. ID and name
// are set once and never overwritten; argument fragments append in arrival
// order.
func (r *toolCallReconstructor) Delta(ev StreamEvent) {
	buf, ok := r.buffers[ev.Index]
	if !ok {
		buf = &toolCallBuffer{}
		r.buffers[ev.Index] = buf
		r.order = append(r.order, ev.Index)
	}
	if buf.done {
		return
	}
	if buf.id == "" && ev.ID != "" {
		buf.id = ev.ID
	}
	if buf.name == "" && ev.Name != "" {
		buf.name = ev.Name
	}
	if ev.Args != "" {
		buf.args.WriteString(ev.Args)
	}
	r.tryFlush(buf)
}

// tryFlush emits the buffer if it is complete: a name plus arguments that
// parse as a JSON object. Partial JSON stays buffered.
func (r *toolCallReconstructor) tryFlush(buf *toolCallBuffer) {
	if buf.name == "" {
		return
	}
	args := strings.TrimSpace(buf.args.String())
	if args == "" {
		return
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(args), &obj); err != nil {
		return
	}
	buf.done = true
	r.emit(ToolCall{ID: buf.id, Name: buf.name, Input: json.RawMessage(args)})
}

// Finish force-flushes pending buffers at end of turn. For terminal reasons
// that imply the model meant its output ("stop", "tool_calls"), a buffer
// whose arguments never became valid JSON is a hard error; empty arguments
// normalize to the empty object.
func (r *toolCallReconstructor) Finish(reason string) error {
	if reason != "stop" && reason != "tool_calls" {
		return nil
	}
	for _, idx := range r.order {
		buf := r.buffers[idx]
		if buf.done || buf.name == "" {
			continue
		}
		args := strings.TrimSpace(buf.args.String())
		if args == "" {
			args = "{}"
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(args), &obj); err != nil {
			return fmt.Errorf("tool call %q (index %d): unparseable arguments %q: %w", buf.name, idx, args, err)
		}
		buf.done = true
		r.emit(ToolCall{ID: buf.id, Name: buf.name, Input: json.RawMessage(args)})
	}
	return nil
}

// FlushSilent flushes whatever still parses and drops the rest. Used when
// the stream ends without a terminal finish reason: a half-received call is
// garbage, not an error.
func (r *toolCallReconstructor) FlushSilent() {
	for _, idx := range r.order {
		buf := r.buffers[idx]
		if buf.done || buf.name == "" {
			continue
		}
		args := strings.TrimSpace(buf.args.String())
		if args == "" {
			args = "{}"
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(args), &obj); err != nil {
			continue
		}
		buf.done = true
		r.emit(ToolCall{ID: buf.id, Name: buf.name, Input: json.RawMessage(args)})
	}
}
