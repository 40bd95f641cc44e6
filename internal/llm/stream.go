package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	. "github.com/duplexai/duplex/internal/logging"
	"github.com/duplexai/duplex/internal/types"
)

// streamParser is the protocol-specific half of the stream pipeline: it
// turns raw SSE lines into neutral events. Both wire protocols implement it.
type streamParser interface {
	ParseLine(line string) []StreamEvent
	Usage() *Usage
}

// Usage reports token consumption for one completed request.
type Usage struct {
	InputTokens     int
	OutputTokens    int
	ReasoningTokens int
	CachedTokens    int
}

// Callbacks receives out-of-band results during a stream. All fields are
// optional; nil callbacks are skipped.
type Callbacks struct {
	OnThinking func(id, text string)
	OnToolCall func(call ToolCall)
	OnData     func(mimeType string, data []byte)
	OnWarning  func(msg string)
}

// Response is the assembled result of one streamed turn.
type Response struct {
	Text       string
	Thinking   string
	ToolCalls  []ToolCall
	StopReason string
	ResponseID string
	Usage      *Usage
}

// Streamer sends conversations upstream and assembles the streamed reply.
// It owns the protocol fallback state: once a fallback warning has been
// surfaced it is not repeated for the lifetime of the streamer.
type Streamer struct {
	cfg            *ModelConfig
	client         *http.Client
	warnedFallback bool
}

// NewStreamer builds a streamer for the given model. The HTTP client has no
// overall timeout since responses stream for as long as the model generates;
// cancellation is the caller's job via context.
func NewStreamer(cfg *ModelConfig) (*Streamer, error) {
	if cfg == nil || cfg.ID == "" {
		return nil, fmt.Errorf("model config with an id is required")
	}
	client := &http.Client{}
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", cfg.ProxyURL, err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(proxy)}
	}
	return &Streamer{cfg: cfg, client: client}, nil
}

// Stream sends the conversation and consumes the reply. Visible text is
// delivered incrementally through onDelta; thinking, tool calls, warnings
// and continuation markers go through cb. The returned Response carries the
// fully assembled turn.
//
// Protocol errors degrade rather than fail: an items endpoint the upstream
// does not serve falls back to the chat protocol (with a one-time warning),
// and a rejected previous_response_id triggers one stateless retry with
// server-side continuation disabled from then on.
func (s *Streamer) Stream(ctx context.Context, messages []types.Message, opts *GenOptions, onDelta func(string), cb *Callbacks) (*Response, error) {
	if cb == nil {
		cb = &Callbacks{}
	}
	if onDelta == nil {
		onDelta = func(string) {}
	}
	if err := validateRequest(s.cfg, messages, opts); err != nil {
		return nil, err
	}

	protocol := s.cfg.Protocol
	retriedStateless := false
	for {
		resp, err := s.attempt(ctx, protocol, messages, opts, onDelta, cb)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}

		// A continuation rejection mentions phrases like "not found" that
		// also flag a missing endpoint, so it must be recognized before the
		// protocol check or the turn gets misrouted to the chat fallback.
		if protocol == ProtocolResponses && !retriedStateless && isContinuationUnsupported(err) {
			retriedStateless = true
			s.cfg.DisableContinuation()
			L_warn("llm: %s rejected server-side continuation, retrying statelessly with full history", s.cfg.ID)
			continue
		}

		if protocol == ProtocolResponses && s.cfg.FallbackToChat && isProtocolUnsupported(err) {
			if !s.warnedFallback {
				s.warnedFallback = true
				msg := fmt.Sprintf("%s does not serve the responses endpoint, falling back to chat completions", s.cfg.ID)
				L_warn("llm: %s", msg)
				if cb.OnWarning != nil {
					cb.OnWarning(msg)
				}
			}
			protocol = ProtocolChat
			continue
		}

		return nil, err
	}
}

// attempt runs one request/stream cycle on the given protocol. The request
// is built from a snapshot of the config so a retry that flips a flag never
// tears a request assembled mid-flight.
func (s *Streamer) attempt(ctx context.Context, protocol Protocol, messages []types.Message, opts *GenOptions, onDelta func(string), cb *Callbacks) (*Response, error) {
	cfg := s.cfg.clone()
	var (
		endpoint string
		body     any
		parser   streamParser
	)
	switch protocol {
	case ProtocolResponses:
		ep, req := buildResponsesRequest(cfg, messages, opts)
		endpoint, body, parser = ep, req, newResponsesParser()
	default:
		ep, req := buildChatRequest(cfg, messages, opts)
		endpoint, body, parser = ep, req, newChatParser()
	}
	L_debug("llm: request model=%s protocol=%s endpoint=%s messages=%d", cfg.ID, protocol, endpoint, len(messages))

	httpResp, err := s.doRequest(ctx, endpoint, body)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	return s.consume(ctx, httpResp.Body, parser, onDelta, cb)
}

// doRequest posts the JSON body and returns the open streaming response.
// Any non-2xx answer is drained into an HTTPError for classification.
func (s *Streamer) doRequest(ctx context.Context, endpoint string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("User-Agent", "duplex/1.0")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}
	for k, v := range s.cfg.ExtraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		resp.Body.Close()
		return nil, &HTTPError{
			Status: resp.StatusCode,
			Reason: http.StatusText(resp.StatusCode),
			Body:   strings.TrimSpace(string(errBody)),
		}
	}
	return resp, nil
}

// consume reads SSE lines until the stream signals done or the connection
// closes, folding events into the turn result. A stream that ends without a
// done signal is treated as done; a cancelled context is not, and nothing
// pending is flushed in that case.
func (s *Streamer) consume(ctx context.Context, r io.Reader, parser streamParser, onDelta func(string), cb *Callbacks) (*Response, error) {
	res := &Response{}
	var (
		text     strings.Builder
		thinking strings.Builder
	)
	sawText := false
	spacerSent := false
	skipped := 0

	collect := func(call ToolCall) {
		res.ToolCalls = append(res.ToolCalls, call)
		if cb.OnToolCall != nil {
			cb.OnToolCall(call)
		}
	}
	inline := newInlineToolScanner(func(t string) {
		sawText = true
		text.WriteString(t)
		onDelta(t)
	}, collect)
	recon := newToolCallReconstructor(collect)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	finished := false
scan:
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		for _, ev := range parser.ParseLine(line) {
			switch ev.Kind {
			case EventSkip:
				skipped++

			case EventText:
				inline.Feed(ev.Text)

			case EventThinking:
				thinking.WriteString(ev.Text)
				if cb.OnThinking != nil {
					cb.OnThinking(ev.ThinkingID, ev.Text)
				}

			case EventToolCallDelta:
				// A visible reply followed by a structured call reads as one
				// run-on word downstream; separate them once.
				if sawText && !spacerSent && ev.Name != "" {
					spacerSent = true
					onDelta(" ")
				}
				recon.Delta(ev)

			case EventContinuation:
				res.ResponseID = ev.ResponseID
				inline.EndTurn()
				recon.FlushSilent()
				if cb.OnData != nil {
					cb.OnData(ContinuationMimeType, EncodeContinuationMarker(s.cfg.ID, ev.ResponseID))
				}

			case EventFinish:
				res.StopReason = ev.Reason
				if err := recon.Finish(ev.Reason); err != nil {
					return nil, err
				}

			case EventDone:
				finished = true
				break scan
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}
	if !finished {
		L_debug("llm: stream ended without a done signal, treating as done")
	}
	recon.FlushSilent()
	inline.EndTurn()

	if skipped > 0 {
		L_debug("llm: skipped %d undecodable stream lines", skipped)
	}

	res.Text = text.String()
	res.Thinking = thinking.String()
	res.Usage = parser.Usage()
	if res.StopReason == "" {
		if len(res.ToolCalls) > 0 {
			res.StopReason = "tool_calls"
		} else {
			res.StopReason = "stop"
		}
	}
	L_debug("llm: turn complete stop=%s text=%d tool_calls=%d", res.StopReason, len(res.Text), len(res.ToolCalls))
	return res, nil
}

// SimpleMessage sends a single user prompt and returns the assembled text.
func (s *Streamer) SimpleMessage(ctx context.Context, prompt string) (string, error) {
	resp, err := s.Stream(ctx, []types.Message{types.UserText(prompt)}, nil, nil, nil)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
