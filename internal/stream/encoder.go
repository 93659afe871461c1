// Package stream serializes loop events into the Vercel AI data stream
// protocol: newline-framed chunks, each a one-character tag, a colon, and a
// JSON payload.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/skipperhq/skipper/internal/agent"
	"github.com/skipperhq/skipper/internal/observability"
	"github.com/skipperhq/skipper/pkg/models"
)

// HeaderName / HeaderValue mark an HTTP response as carrying this protocol.
const (
	HeaderName  = "x-vercel-ai-data-stream"
	HeaderValue = "v1"
)

// Frame tags.
const (
	tagText       = "0"
	tagToolCall   = "9"
	tagToolResult = "a"
	tagError      = "3"
	tagFinish     = "e"
)

type announcePayload struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args"`
}

type resultPayload struct {
	ToolCallID string `json:"toolCallId"`
	Result     string `json:"result"`
}

type usagePayload struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

type midFinishPayload struct {
	FinishReason string       `json:"finishReason"`
	Usage        usagePayload `json:"usage"`
}

type finalFinishPayload struct {
	FinishReason string       `json:"finishReason"`
	Usage        usagePayload `json:"usage"`
	IsContinued  bool         `json:"isContinued"`
}

// draftCall accumulates argument fragments for one streamed tool call.
type draftCall struct {
	id   string
	name string
	args []byte
}

// Encoder consumes one loop's event channel and writes wire frames. It is
// single-use: one Encoder per chat response.
//
// Tool-call announcements are gated on argument completeness. Fragments
// accumulate per provider index, and the `9:` frame goes out the first time
// the buffered arguments parse as JSON; the finalized call event the loop
// sends afterwards is deduplicated by call id, so each call is announced
// exactly once and always before its `a:` result.
type Encoder struct {
	w       io.Writer
	flush   func()
	logger  *observability.Logger
	metrics *observability.Metrics

	mu        sync.Mutex
	drafts    map[int]*draftCall
	announced map[string]struct{}
	pending   map[string]struct{}
	finish    *agent.FinishInfo
	finalSent bool
	writeErr  error
}

// NewEncoder creates an encoder writing to w. When w is an http.Flusher (or
// wraps one via http.ResponseController semantics handled by the caller),
// each frame is flushed so the client sees tokens as they arrive.
func NewEncoder(w io.Writer, logger *observability.Logger, metrics *observability.Metrics) *Encoder {
	e := &Encoder{
		w:         w,
		flush:     func() {},
		logger:    logger,
		metrics:   metrics,
		drafts:    make(map[int]*draftCall),
		announced: make(map[string]struct{}),
		pending:   make(map[string]struct{}),
	}
	if f, ok := w.(http.Flusher); ok {
		e.flush = f.Flush
	}
	return e
}

// Encode consumes events until the channel closes, then emits the terminal
// finish frame. Exactly one terminal frame is written per response, on every
// exit path including panics in downstream encoding.
func (e *Encoder) Encode(events <-chan agent.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.writeFrame(tagError, fmt.Sprintf("%v", r))
		}
		e.writeFinal()
		e.mu.Lock()
		if err == nil {
			err = e.writeErr
		}
		e.mu.Unlock()
	}()

	for ev := range events {
		e.handle(ev)
	}
	return nil
}

func (e *Encoder) handle(ev agent.Event) {
	switch ev.Type {
	case agent.EventTextDelta, agent.EventCommentary:
		e.writeFrame(tagText, ev.Text)

	case agent.EventToolCallDelta:
		e.appendFragment(ev.Delta)

	case agent.EventToolCall:
		e.announce(ev.Call.ID, ev.Call.Name, json.RawMessage(ev.Call.Input))

	case agent.EventToolResult:
		e.result(ev.Result)

	case agent.EventBreak:
		// Mid-stream resynchronization point, not the terminal frame.
		e.writeFrame(tagFinish, midFinishPayload{FinishReason: string(models.FinishReasonToolCalls)})

	case agent.EventError:
		msg := "internal error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		e.writeFrame(tagError, msg)

	case agent.EventFinish:
		e.mu.Lock()
		e.finish = ev.Finish
		e.mu.Unlock()
	}
}

// appendFragment folds one argument fragment into its draft and announces
// the call the first time the accumulated arguments form valid JSON.
func (e *Encoder) appendFragment(delta *agent.ToolCallDelta) {
	if delta == nil {
		return
	}

	e.mu.Lock()
	draft, ok := e.drafts[delta.Index]
	if !ok {
		if delta.ID == "" {
			// Fragment for an index we never saw a head for; nothing
			// to attach it to.
			e.mu.Unlock()
			e.logger.Warn("dropping headless tool call fragment", "index", delta.Index)
			return
		}
		draft = &draftCall{id: delta.ID, name: delta.Name}
		e.drafts[delta.Index] = draft
	}
	draft.args = append(draft.args, delta.Args...)

	ready := false
	if _, seen := e.announced[draft.id]; !seen && len(draft.args) > 0 && json.Valid(draft.args) {
		e.announced[draft.id] = struct{}{}
		e.pending[draft.id] = struct{}{}
		ready = true
	}
	id, name := draft.id, draft.name
	args := json.RawMessage(append([]byte(nil), draft.args...))
	e.mu.Unlock()

	if ready {
		e.writeFrame(tagToolCall, announcePayload{ToolCallID: id, ToolName: name, Args: args})
	}
}

// announce emits the `9:` frame for a complete call unless fragment assembly
// already did.
func (e *Encoder) announce(id, name string, args json.RawMessage) {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	e.mu.Lock()
	if _, seen := e.announced[id]; seen {
		// Announced from fragments; just make sure it counts as pending.
		e.pending[id] = struct{}{}
		e.mu.Unlock()
		return
	}
	e.announced[id] = struct{}{}
	e.pending[id] = struct{}{}
	e.mu.Unlock()

	e.writeFrame(tagToolCall, announcePayload{ToolCallID: id, ToolName: name, Args: args})
}

// result emits the `a:` frame and, when it settles the last pending call,
// the mid-stream "tool-calls" finish that tells the client this generation
// segment is complete.
func (e *Encoder) result(res *models.ToolResult) {
	if res == nil {
		return
	}

	e.writeFrame(tagToolResult, resultPayload{ToolCallID: res.ToolCallID, Result: res.Content})

	e.mu.Lock()
	_, wasPending := e.pending[res.ToolCallID]
	delete(e.pending, res.ToolCallID)
	settled := wasPending && len(e.pending) == 0
	if settled {
		e.drafts = make(map[int]*draftCall)
	}
	e.mu.Unlock()

	if settled {
		e.writeFrame(tagFinish, midFinishPayload{FinishReason: string(models.FinishReasonToolCalls)})
	}
}

// writeFinal emits the single terminal finish frame, carrying the loop's
// recorded reason and aggregated usage, or "stop" with zero usage if the
// loop never reported one.
func (e *Encoder) writeFinal() {
	e.mu.Lock()
	if e.finalSent {
		e.mu.Unlock()
		return
	}
	e.finalSent = true
	fin := e.finish
	e.mu.Unlock()

	payload := finalFinishPayload{FinishReason: string(models.FinishReasonStop)}
	if fin != nil {
		payload.FinishReason = string(fin.Reason)
		payload.Usage = usagePayload{
			PromptTokens:     fin.Usage.PromptTokens,
			CompletionTokens: fin.Usage.CompletionTokens,
		}
	}
	e.writeFrame(tagFinish, payload)
}

func (e *Encoder) writeFrame(tag string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("failed to marshal wire frame", "tag", tag, "error", err.Error())
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.writeErr != nil {
		// Client is gone; keep draining events so the loop can finish,
		// but stop writing.
		return
	}
	if _, err := fmt.Fprintf(e.w, "%s:%s\n", tag, data); err != nil {
		e.writeErr = err
		e.logger.Warn("wire write failed", "tag", tag, "error", err.Error())
		return
	}
	e.metrics.WireEvents.WithLabelValues(tag).Inc()
	e.flush()
}
