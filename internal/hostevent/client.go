// Package hostevent sends commands into an embedded frame and waits for the
// correlated reply.
package hostevent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/frame"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/protocol"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/sdkerr"
)

// FrameProvider yields the frame commands are sent into.
type FrameProvider interface {
	LiveFrame() (frame.Frame, bool)
}

// FrameProviderFunc adapts a function to FrameProvider.
type FrameProviderFunc func() (frame.Frame, bool)

func (f FrameProviderFunc) LiveFrame() (frame.Frame, bool) { return f() }

// Client is the outbound RPC facade of one embed instance.
type Client struct {
	frames  FrameProvider
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*replyPort
}

// New returns a Client. timeout bounds calls whose context has no deadline;
// zero disables it.
func New(frames FrameProvider, timeout time.Duration) *Client {
	return &Client{
		frames:  frames,
		timeout: timeout,
		pending: make(map[string]*replyPort),
	}
}

// Pending returns the number of calls still waiting for a reply.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Trigger sends eventType with payload into the frame and returns the reply
// payload. The reply is taken only from this call's own channel.
func (c *Client) Trigger(ctx context.Context, eventType string, payload any, contextType string) (json.RawMessage, error) {
	f, ok := c.frames.LiveFrame()
	if !ok || f == nil {
		return nil, sdkerr.ErrNotRendered
	}

	msg, err := protocol.NewMessage(eventType, payload)
	if err != nil {
		return nil, sdkerr.Wrap(sdkerr.TypeValidation, sdkerr.CodeTriggerFailed, "invalid host event payload", err)
	}
	msg.Context = contextType

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	port := newReplyPort()
	c.track(port)
	defer c.untrack(port)

	if err := f.PostMessage(msg, port); err != nil {
		return nil, sdkerr.Wrap(sdkerr.TypeAPI, sdkerr.CodeTriggerFailed,
			fmt.Sprintf("failed to send %s", eventType), err)
	}
	slog.Debug("Host event sent", "type", eventType, "replyChannel", port.id)

	select {
	case reply := <-port.ch:
		return reply.Data, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, sdkerr.Wrap(sdkerr.TypeAPI, sdkerr.CodeTriggerTimeout,
				fmt.Sprintf("timed out waiting for %s reply", eventType), ctx.Err())
		}
		return nil, ctx.Err()
	}
}

// PassThroughResult is one named result of a UI pass-through call.
type PassThroughResult struct {
	RefID string          `json:"refId"`
	Value json.RawMessage `json:"value,omitempty"`
	Error json.RawMessage `json:"error,omitempty"`
}

type passThroughRequest struct {
	Type       string `json:"type"`
	Parameters any    `json:"parameters,omitempty"`
}

// TriggerUIPassThrough invokes the named remote procedure and returns the
// results that carry a value or an error.
func (c *Client) TriggerUIPassThrough(ctx context.Context, apiName string, params any) ([]PassThroughResult, error) {
	raw, err := c.Trigger(ctx, protocol.HostUIPassthrough, passThroughRequest{Type: apiName, Parameters: params}, "")
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var results []PassThroughResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, sdkerr.Wrap(sdkerr.TypeAPI, sdkerr.CodeTriggerFailed,
			fmt.Sprintf("unexpected %s reply", apiName), err)
	}
	out := results[:0]
	for _, r := range results {
		if len(r.Value) > 0 || len(r.Error) > 0 {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *Client) track(p *replyPort) {
	c.mu.Lock()
	c.pending[p.id] = p
	c.mu.Unlock()
}

func (c *Client) untrack(p *replyPort) {
	c.mu.Lock()
	delete(c.pending, p.id)
	c.mu.Unlock()
}

// replyPort accepts exactly one reply; later posts are dropped.
type replyPort struct {
	id   string
	ch   chan protocol.Message
	once sync.Once
}

func newReplyPort() *replyPort {
	return &replyPort{
		id: uuid.NewString(),
		ch: make(chan protocol.Message, 1),
	}
}

func (p *replyPort) Post(m protocol.Message) error {
	delivered := false
	p.once.Do(func() {
		p.ch <- m
		delivered = true
	})
	if !delivered {
		slog.Debug("Dropping extra reply", "replyChannel", p.id, "type", m.Type)
	}
	return nil
}
