package wshost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/frame"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/protocol"
)

// ErrNotConnected is returned when posting into a frame whose socket is not
// open.
var ErrNotConnected = errors.New("frame is not connected")

// envelope is the wire form of a protocol message. ReplyTo names the
// sender's private reply channel; InReplyTo routes a reply to one.
type envelope struct {
	protocol.Message
	ReplyTo   string `json:"replyTo,omitempty"`
	InReplyTo string `json:"inReplyTo,omitempty"`
}

// SocketURL maps a frame address to the websocket address serving it. The
// fragment, which HTTP never transmits, travels as the embedPath parameter.
func SocketURL(src string) (string, error) {
	u, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("parse frame src: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported frame scheme %q", u.Scheme)
	}
	if u.Fragment != "" {
		q := u.Query()
		q.Set("embedPath", u.Fragment)
		u.RawQuery = q.Encode()
		u.Fragment = ""
		u.RawFragment = ""
	}
	return u.String(), nil
}

// Frame is an embedded application reached over one websocket.
type Frame struct {
	host *Host
	id   string
	spec frame.Spec

	loadOnce sync.Once
	done     chan struct{}
	loadErr  error

	mu         sync.Mutex
	conn       *websocket.Conn
	removed    bool
	subs       map[int]func(protocol.Inbound)
	nextSub    int
	subscribed bool
	backlog    []protocol.Inbound
	pending    map[string]protocol.Port

	// deliverMu keeps backlog replay ordered ahead of live messages.
	deliverMu sync.Mutex
	writeMu   sync.Mutex
}

// maxBacklog bounds the messages held for a frame nobody listens to yet.
const maxBacklog = 64

func newFrame(h *Host, spec frame.Spec) *Frame {
	id := spec.ID
	if id == "" {
		id = "tsEmbed-" + uuid.NewString()
	}
	return &Frame{
		host:    h,
		id:      id,
		spec:    spec,
		done:    make(chan struct{}),
		subs:    make(map[int]func(protocol.Inbound)),
		pending: make(map[string]protocol.Port),
	}
}

func (f *Frame) ID() string            { return f.id }
func (f *Frame) Src() string           { return f.spec.Src }
func (f *Frame) Done() <-chan struct{} { return f.done }

// Err returns the load error once Done is closed.
func (f *Frame) Err() error {
	select {
	case <-f.done:
		return f.loadErr
	default:
		return nil
	}
}

func (f *Frame) finishLoad(err error) {
	f.loadOnce.Do(func() {
		f.loadErr = err
		close(f.done)
	})
}

// connect dials the frame's socket and starts reading. It fires the load or
// error event exactly once.
func (f *Frame) connect(ctx context.Context) {
	target, err := SocketURL(f.spec.Src)
	if err != nil {
		f.finishLoad(err)
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, f.host.dialTimeout)
	defer cancel()
	conn, resp, err := f.host.dialer.DialContext(dialCtx, target, f.host.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		slog.Warn("Frame connection failed", "frame", f.id, "error", err)
		f.finishLoad(fmt.Errorf("dial %s: %w", f.id, err))
		return
	}

	f.mu.Lock()
	if f.removed {
		f.mu.Unlock()
		_ = conn.Close()
		f.finishLoad(errors.New("frame removed before load"))
		return
	}
	f.conn = conn
	f.mu.Unlock()

	slog.Debug("Frame connected", "frame", f.id)
	f.finishLoad(nil)
	go f.readLoop(conn)
}

func (f *Frame) readLoop(conn *websocket.Conn) {
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			f.mu.Lock()
			removed := f.removed
			f.mu.Unlock()
			if !removed && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("Frame read failed", "frame", f.id, "error", err)
			}
			return
		}
		f.route(env)
	}
}

func (f *Frame) route(env envelope) {
	if env.InReplyTo != "" {
		f.mu.Lock()
		port, ok := f.pending[env.InReplyTo]
		delete(f.pending, env.InReplyTo)
		f.mu.Unlock()
		if !ok {
			slog.Debug("Reply for unknown channel", "frame", f.id, "channel", env.InReplyTo)
			return
		}
		if err := port.Post(env.Message); err != nil {
			slog.Debug("Reply delivery failed", "frame", f.id, "error", err)
		}
		return
	}

	in := protocol.Inbound{Message: env.Message}
	if env.ReplyTo != "" {
		in.Reply = f.replyPort(env.ReplyTo)
	}

	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()
	f.mu.Lock()
	if !f.subscribed {
		if len(f.backlog) == maxBacklog {
			slog.Debug("Frame backlog full, dropping oldest message", "frame", f.id, "type", f.backlog[0].Type)
			f.backlog = f.backlog[1:]
		}
		f.backlog = append(f.backlog, in)
		f.mu.Unlock()
		return
	}
	fns := make([]func(protocol.Inbound), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(in)
	}
}

// replyPort answers one inbound message on the sender's channel. Only the
// first reply is sent.
func (f *Frame) replyPort(channel string) protocol.Port {
	var once sync.Once
	return protocol.PortFunc(func(m protocol.Message) error {
		err := errors.New("reply already sent")
		once.Do(func() {
			err = f.write(envelope{Message: m, InReplyTo: channel})
		})
		return err
	})
}

// PostMessage implements frame.Frame.
func (f *Frame) PostMessage(msg protocol.Message, reply protocol.Port) error {
	env := envelope{Message: msg}
	if reply != nil {
		env.ReplyTo = uuid.NewString()
		f.mu.Lock()
		f.pending[env.ReplyTo] = reply
		f.mu.Unlock()
	}
	if err := f.write(env); err != nil {
		if reply != nil {
			f.mu.Lock()
			delete(f.pending, env.ReplyTo)
			f.mu.Unlock()
		}
		return err
	}
	return nil
}

func (f *Frame) write(env envelope) error {
	f.mu.Lock()
	conn := f.conn
	removed := f.removed
	f.mu.Unlock()
	if removed || conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", env.Type, err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(f.host.writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", env.Type, err)
	}
	return nil
}

// PendingReplies returns the number of outbound messages awaiting a reply.
func (f *Frame) PendingReplies() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Subscribe implements frame.Frame. Messages that arrived before the first
// subscriber are replayed to it in order.
func (f *Frame) Subscribe(fn func(protocol.Inbound)) func() {
	f.mu.Lock()
	first := !f.subscribed
	f.mu.Unlock()
	if first {
		f.deliverMu.Lock()
		defer f.deliverMu.Unlock()
	}

	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	f.subscribed = true
	backlog := f.backlog
	f.backlog = nil
	f.mu.Unlock()

	for _, in := range backlog {
		fn(in)
	}
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

// Remove implements frame.Node. It closes the socket.
func (f *Frame) Remove() error {
	f.mu.Lock()
	if f.removed {
		f.mu.Unlock()
		return nil
	}
	f.removed = true
	conn := f.conn
	f.conn = nil
	f.mu.Unlock()

	f.host.forget(f.id)
	if conn == nil {
		return nil
	}
	f.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	f.writeMu.Unlock()
	return conn.Close()
}

// Wrapper is a headless container for a prerendered frame.
type Wrapper struct {
	host *Host
	id   string

	mu      sync.Mutex
	child   *Frame
	visible bool
	bounds  frame.Rect
}

func (w *Wrapper) ID() string { return w.id }

// Append implements frame.Wrapper.
func (w *Wrapper) Append(f frame.Frame) error {
	wf, ok := f.(*Frame)
	if !ok {
		return fmt.Errorf("wshost: foreign frame %T", f)
	}
	w.mu.Lock()
	w.child = wf
	w.mu.Unlock()
	return nil
}

func (w *Wrapper) SetVisible(v bool) {
	w.mu.Lock()
	w.visible = v
	w.mu.Unlock()
}

func (w *Wrapper) SetBounds(r frame.Rect) {
	w.mu.Lock()
	w.bounds = r
	w.mu.Unlock()
}

// Visible reports whether the wrapper is shown.
func (w *Wrapper) Visible() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visible
}

func (w *Wrapper) childFrame() *Frame {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.child
}

// Remove implements frame.Node and removes the child frame too.
func (w *Wrapper) Remove() error {
	if child := w.childFrame(); child != nil {
		_ = child.Remove()
	}
	w.host.forget(w.id)
	return nil
}
