// Package frametest provides an in-memory frame.Host for tests.
package frametest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/frame"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/protocol"
)

// Responder scripts the embedded application's answer to a posted message.
type Responder func(f *Frame, msg protocol.Message, reply protocol.Port)

// Host is a scriptable in-memory frame.Host.
type Host struct {
	mu sync.Mutex

	// ManualLoad keeps frames pending until Frame.Load is called. Otherwise
	// a frame loads as soon as it is inserted.
	ManualLoad bool
	// Respond, when set, is called for every posted message.
	Respond Responder
	// CreateErr, when set, fails CreateFrame.
	CreateErr error
	// InsertErr, when set, fails Insert.
	InsertErr error

	frames     []*Frame
	nodes      map[string]frame.Node
	children   map[string][]string
	insertions []string
	messages   map[string]string
	bounds     map[string]frame.Rect
	watchers   map[string]map[int]func(frame.Rect)
	nextWatch  int
	nextID     int
}

// NewHost returns an empty Host.
func NewHost() *Host {
	return &Host{
		nodes:    make(map[string]frame.Node),
		children: make(map[string][]string),
		messages: make(map[string]string),
		bounds:   make(map[string]frame.Rect),
		watchers: make(map[string]map[int]func(frame.Rect)),
	}
}

// CreateFrame implements frame.Host.
func (h *Host) CreateFrame(_ context.Context, spec frame.Spec) (frame.Frame, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.CreateErr != nil {
		return nil, h.CreateErr
	}
	id := spec.ID
	if id == "" {
		h.nextID++
		id = fmt.Sprintf("frame-%d", h.nextID)
	}
	f := &Frame{
		host: h,
		id:   id,
		spec: spec,
		done: make(chan struct{}),
		subs: make(map[int]func(protocol.Inbound)),
	}
	h.frames = append(h.frames, f)
	return f, nil
}

// CreateWrapper implements frame.Host.
func (h *Host) CreateWrapper(id string) (frame.Wrapper, error) {
	return &Wrapper{host: h, id: id}, nil
}

// Insert implements frame.Host.
func (h *Host) Insert(container string, pos frame.InsertPosition, n frame.Node) error {
	h.mu.Lock()
	if h.InsertErr != nil {
		h.mu.Unlock()
		return h.InsertErr
	}
	if pos == frame.InsertInside {
		h.clearContainerLocked(container)
	}
	h.nodes[n.ID()] = n
	h.children[container] = append(h.children[container], n.ID())
	if f, ok := n.(*Frame); ok {
		h.insertions = append(h.insertions, f.id)
	}
	if w, ok := n.(*Wrapper); ok && w.child != nil {
		h.nodes[w.child.id] = w.child
		h.insertions = append(h.insertions, w.child.id)
	}
	manual := h.ManualLoad
	h.mu.Unlock()

	if !manual {
		switch v := n.(type) {
		case *Frame:
			v.Load(nil)
		case *Wrapper:
			if v.child != nil {
				v.child.Load(nil)
			}
		}
	}
	return nil
}

func (h *Host) clearContainerLocked(container string) {
	for _, id := range h.children[container] {
		if n, ok := h.nodes[id]; ok {
			delete(h.nodes, id)
			if f, ok := n.(*Frame); ok {
				f.markRemoved()
			}
		}
	}
	delete(h.children, container)
	delete(h.messages, container)
}

// ShowMessage implements frame.Host.
func (h *Host) ShowMessage(container, message string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clearContainerLocked(container)
	h.messages[container] = message
	return nil
}

// Bounds implements frame.Host.
func (h *Host) Bounds(container string) (frame.Rect, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bounds[container], nil
}

// WatchBounds implements frame.Host.
func (h *Host) WatchBounds(container string, fn func(frame.Rect)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.watchers[container] == nil {
		h.watchers[container] = make(map[int]func(frame.Rect))
	}
	id := h.nextWatch
	h.nextWatch++
	h.watchers[container][id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.watchers[container], id)
	}
}

// SetBounds changes a container's geometry and notifies watchers.
func (h *Host) SetBounds(container string, r frame.Rect) {
	h.mu.Lock()
	h.bounds[container] = r
	fns := make([]func(frame.Rect), 0, len(h.watchers[container]))
	for _, fn := range h.watchers[container] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(r)
	}
}

// WatcherCount returns the number of active geometry watchers on container.
func (h *Host) WatcherCount(container string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers[container])
}

// Frames returns every frame created so far.
func (h *Host) Frames() []*Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Frame(nil), h.frames...)
}

// LastFrame returns the most recently created frame.
func (h *Host) LastFrame() *Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.frames) == 0 {
		return nil
	}
	return h.frames[len(h.frames)-1]
}

// LiveFrames returns frames currently placed in the page.
func (h *Host) LiveFrames() []*Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*Frame
	for _, f := range h.frames {
		if _, ok := h.nodes[f.id]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Node returns the placed node with the given id.
func (h *Host) Node(id string) (frame.Node, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, ok := h.nodes[id]
	return n, ok
}

// NodeCount returns the number of placed nodes.
func (h *Host) NodeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.nodes)
}

// Insertions lists frame ids in insertion order.
func (h *Host) Insertions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.insertions...)
}

// Message returns the text shown in container, if any.
func (h *Host) Message(container string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.messages[container]
	return m, ok
}

func (h *Host) removeNode(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.nodes, id)
	for c, ids := range h.children {
		for i, cid := range ids {
			if cid == id {
				h.children[c] = append(ids[:i:i], ids[i+1:]...)
				break
			}
		}
	}
}

// Frame is an in-memory frame.Frame.
type Frame struct {
	host *Host
	id   string
	spec frame.Spec

	loadOnce sync.Once
	done     chan struct{}
	loadErr  error

	mu      sync.Mutex
	posted  []protocol.Message
	subs    map[int]func(protocol.Inbound)
	nextSub int
	removed bool
}

func (f *Frame) ID() string { return f.id }
func (f *Frame) Src() string { return f.spec.Src }
func (f *Frame) Spec() frame.Spec { return f.spec }
func (f *Frame) Done() <-chan struct{} { return f.done }

func (f *Frame) Err() error {
	select {
	case <-f.done:
		return f.loadErr
	default:
		return nil
	}
}

// Load fires the load (err == nil) or error event once.
func (f *Frame) Load(err error) {
	f.loadOnce.Do(func() {
		f.loadErr = err
		close(f.done)
	})
}

// Remove implements frame.Node.
func (f *Frame) Remove() error {
	f.markRemoved()
	f.host.removeNode(f.id)
	return nil
}

func (f *Frame) markRemoved() {
	f.mu.Lock()
	f.removed = true
	f.mu.Unlock()
}

// Removed reports whether the frame was taken out of the page.
func (f *Frame) Removed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removed
}

// ErrRemoved is returned when posting into a removed frame.
var ErrRemoved = errors.New("frame removed")

// PostMessage implements frame.Frame.
func (f *Frame) PostMessage(msg protocol.Message, reply protocol.Port) error {
	f.mu.Lock()
	if f.removed {
		f.mu.Unlock()
		return ErrRemoved
	}
	f.posted = append(f.posted, msg)
	f.mu.Unlock()

	f.host.mu.Lock()
	respond := f.host.Respond
	f.host.mu.Unlock()
	if respond != nil {
		respond(f, msg, reply)
	}
	return nil
}

// Posted returns messages sent into the frame.
func (f *Frame) Posted() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Message(nil), f.posted...)
}

// PostedTypes returns the types of messages sent into the frame.
func (f *Frame) PostedTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.posted))
	for i, m := range f.posted {
		out[i] = m.Type
	}
	return out
}

// Subscribe implements frame.Frame.
func (f *Frame) Subscribe(fn func(protocol.Inbound)) func() {
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

// SubscriberCount returns the number of message listeners on the frame.
func (f *Frame) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Emit delivers a message from the embedded application to subscribers.
func (f *Frame) Emit(in protocol.Inbound) {
	f.mu.Lock()
	fns := make([]func(protocol.Inbound), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(in)
	}
}

// EmitEvent builds and emits a message. It returns a Capture that records
// replies sent on the message's private channel.
func (f *Frame) EmitEvent(msgType string, data any, status protocol.Status) *Capture {
	msg, err := protocol.NewMessage(msgType, data)
	if err != nil {
		panic(err)
	}
	msg.Status = status
	c := NewCapture()
	f.Emit(protocol.Inbound{Message: msg, Reply: c})
	return c
}

// Wrapper is an in-memory frame.Wrapper.
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
	tf, ok := f.(*Frame)
	if !ok {
		return fmt.Errorf("frametest: foreign frame %T", f)
	}
	w.mu.Lock()
	w.child = tf
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

// Visible reports the wrapper visibility.
func (w *Wrapper) Visible() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visible
}

// CurrentBounds reports the wrapper geometry.
func (w *Wrapper) CurrentBounds() frame.Rect {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bounds
}

// Remove implements frame.Node and removes the child frame too.
func (w *Wrapper) Remove() error {
	w.mu.Lock()
	child := w.child
	w.mu.Unlock()
	if child != nil {
		_ = child.Remove()
	}
	w.host.removeNode(w.id)
	return nil
}

// Capture is a protocol.Port that records what is posted to it.
type Capture struct {
	mu   sync.Mutex
	msgs []protocol.Message
	got  chan struct{}
	once sync.Once
}

// NewCapture returns an empty Capture.
func NewCapture() *Capture {
	return &Capture{got: make(chan struct{})}
}

// Post implements protocol.Port.
func (c *Capture) Post(m protocol.Message) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
	c.once.Do(func() { close(c.got) })
	return nil
}

// Received is closed after the first reply.
func (c *Capture) Received() <-chan struct{} { return c.got }

// Messages returns every reply.
func (c *Capture) Messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.msgs...)
}
