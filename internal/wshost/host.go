// Package wshost is a frame.Host for processes without a browser. Each
// embedded frame is a websocket connection to the remote application, and
// the page layout is kept in memory.
package wshost

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/frame"
)

const (
	defaultDialTimeout  = 15 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// Options configures a Host.
type Options struct {
	Dialer       *websocket.Dialer
	Header       http.Header
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// Host implements frame.Host over gorilla/websocket.
type Host struct {
	dialer       *websocket.Dialer
	header       http.Header
	dialTimeout  time.Duration
	writeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	nodes     map[string]frame.Node
	children  map[string][]string
	messages  map[string]string
	bounds    map[string]frame.Rect
	watchers  map[string]map[int]func(frame.Rect)
	nextWatch int
}

// New returns a Host.
func New(opts Options) *Host {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		dialer:       opts.Dialer,
		header:       opts.Header,
		dialTimeout:  opts.DialTimeout,
		writeTimeout: opts.WriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
		nodes:        make(map[string]frame.Node),
		children:     make(map[string][]string),
		messages:     make(map[string]string),
		bounds:       make(map[string]frame.Rect),
		watchers:     make(map[string]map[int]func(frame.Rect)),
	}
}

// Close removes every placed node and aborts pending dials.
func (h *Host) Close() {
	h.cancel()
	h.mu.Lock()
	nodes := make([]frame.Node, 0, len(h.nodes))
	for _, n := range h.nodes {
		nodes = append(nodes, n)
	}
	h.mu.Unlock()
	for _, n := range nodes {
		_ = n.Remove()
	}
}

// CreateFrame implements frame.Host. The frame connects once inserted.
func (h *Host) CreateFrame(_ context.Context, spec frame.Spec) (frame.Frame, error) {
	if _, err := SocketURL(spec.Src); err != nil {
		return nil, err
	}
	return newFrame(h, spec), nil
}

// CreateWrapper implements frame.Host.
func (h *Host) CreateWrapper(id string) (frame.Wrapper, error) {
	return &Wrapper{host: h, id: id}, nil
}

// Insert implements frame.Host.
func (h *Host) Insert(container string, pos frame.InsertPosition, n frame.Node) error {
	var toStart *Frame
	switch v := n.(type) {
	case *Frame:
		toStart = v
	case *Wrapper:
		toStart = v.childFrame()
	default:
		return fmt.Errorf("wshost: foreign node %T", n)
	}

	h.mu.Lock()
	var evicted []frame.Node
	if pos == frame.InsertInside {
		evicted = h.clearLocked(container)
	}
	h.nodes[n.ID()] = n
	h.children[container] = append(h.children[container], n.ID())
	if w, ok := n.(*Wrapper); ok && toStart != nil {
		h.nodes[toStart.id] = toStart
		h.children[w.id] = []string{toStart.id}
	}
	h.mu.Unlock()

	for _, old := range evicted {
		_ = old.Remove()
	}
	if toStart != nil {
		go toStart.connect(h.ctx)
	}
	return nil
}

func (h *Host) clearLocked(container string) []frame.Node {
	var evicted []frame.Node
	for _, id := range h.children[container] {
		if n, ok := h.nodes[id]; ok {
			evicted = append(evicted, n)
		}
	}
	delete(h.children, container)
	delete(h.messages, container)
	return evicted
}

func (h *Host) forget(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.nodes, id)
	delete(h.children, id)
	for c, ids := range h.children {
		for i, cid := range ids {
			if cid == id {
				h.children[c] = append(ids[:i:i], ids[i+1:]...)
				break
			}
		}
	}
}

// ShowMessage implements frame.Host.
func (h *Host) ShowMessage(container, message string) error {
	h.mu.Lock()
	evicted := h.clearLocked(container)
	h.messages[container] = message
	h.mu.Unlock()
	for _, old := range evicted {
		_ = old.Remove()
	}
	slog.Info("Embed container message", "container", container, "message", message)
	return nil
}

// Message returns the text shown in container.
func (h *Host) Message(container string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.messages[container]
	return m, ok
}

// Nodes returns the ids of every placed node.
func (h *Host) Nodes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.nodes))
	for id := range h.nodes {
		ids = append(ids, id)
	}
	return ids
}

// Bounds implements frame.Host.
func (h *Host) Bounds(container string) (frame.Rect, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bounds[container], nil
}

// SetBounds records a container's geometry and notifies watchers.
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
