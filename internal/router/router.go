// Package router dispatches messages from an embedded frame to the handlers
// registered on one embed instance.
package router

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/frame"
	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/protocol"
)

// ErrNoReplyChannel is returned by a Responder for messages sent without a
// private reply channel.
var ErrNoReplyChannel = errors.New("message has no reply channel")

// Responder answers the message being handled on its private channel.
type Responder func(protocol.Message) error

// Handler receives one dispatched message.
type Handler func(msg protocol.Message, reply Responder)

// Options tune a registration.
type Options struct {
	// Start selects start-phase deliveries instead of end-phase ones.
	Start bool
}

type record struct {
	id      uint64
	handler Handler
	opts    Options
}

// Subscription identifies one registration.
type Subscription struct {
	r         *Router
	eventType string
	id        uint64
}

// Cancel removes the registration. It is safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil || s.r == nil {
		return
	}
	s.r.Off(s.eventType, s)
}

// Router is an ordered multimap from message type to handlers, plus the
// once-fired readiness queue.
type Router struct {
	name string

	mu       sync.Mutex
	handlers map[string][]record
	nextID   uint64

	listenMu sync.Mutex
	unlisten func()

	readyMu    sync.Mutex
	ready      bool
	readyQueue []func()
}

// New returns an empty Router. name tags log entries.
func New(name string) *Router {
	return &Router{
		name:     name,
		handlers: make(map[string][]record),
	}
}

// On registers h for eventType and returns its Subscription. Handlers run in
// registration order.
func (r *Router) On(eventType string, h Handler, opts ...Options) *Subscription {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.handlers[eventType] = append(r.handlers[eventType], record{id: id, handler: h, opts: o})
	r.mu.Unlock()
	return &Subscription{r: r, eventType: eventType, id: id}
}

// Off removes the registration sub made for eventType.
func (r *Router) Off(eventType string, sub *Subscription) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	recs := r.handlers[eventType]
	for i, rec := range recs {
		if rec.id == sub.id {
			r.handlers[eventType] = append(recs[:i:i], recs[i+1:]...)
			break
		}
	}
	if len(r.handlers[eventType]) == 0 {
		delete(r.handlers, eventType)
	}
}

// HandlerCount returns the number of handlers for eventType.
func (r *Router) HandlerCount(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[eventType])
}

// Dispatch delivers in to every handler of its type whose phase matches, then
// to the catch-all handlers.
func (r *Router) Dispatch(in protocol.Inbound) {
	phaseStart := in.Phase() == protocol.StatusStart

	r.mu.Lock()
	var targets []Handler
	for _, key := range []string{in.Type, protocol.EventAll} {
		if key == protocol.EventAll && in.Type == protocol.EventAll {
			continue
		}
		for _, rec := range r.handlers[key] {
			if rec.opts.Start == phaseStart {
				targets = append(targets, rec.handler)
			}
		}
	}
	r.mu.Unlock()

	reply := responderFor(in.Reply)
	for _, h := range targets {
		r.invoke(h, in.Message, reply)
	}
}

// Emit dispatches a locally raised event with no reply channel.
func (r *Router) Emit(eventType string, data any) {
	msg, err := protocol.NewMessage(eventType, data)
	if err != nil {
		slog.Error("Failed to build local event", "router", r.name, "type", eventType, "error", err)
		return
	}
	r.Dispatch(protocol.Inbound{Message: msg})
}

func (r *Router) invoke(h Handler, msg protocol.Message, reply Responder) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Embed event handler panicked", "router", r.name, "type", msg.Type, "panic", rec)
		}
	}()
	h(msg, reply)
}

func responderFor(port protocol.Port) Responder {
	if port == nil {
		return func(protocol.Message) error { return ErrNoReplyChannel }
	}
	return port.Post
}

// Listen subscribes the router to f. Any earlier subscription is dropped
// first, so a frame never has more than one listener from this router.
func (r *Router) Listen(f frame.Frame) {
	unlisten := f.Subscribe(r.Dispatch)
	r.listenMu.Lock()
	prev := r.unlisten
	r.unlisten = unlisten
	r.listenMu.Unlock()
	if prev != nil {
		prev()
	}
}

// Unlisten drops the frame subscription.
func (r *Router) Unlisten() {
	r.listenMu.Lock()
	prev := r.unlisten
	r.unlisten = nil
	r.listenMu.Unlock()
	if prev != nil {
		prev()
	}
}

// Listening reports whether the router is subscribed to a frame.
func (r *Router) Listening() bool {
	r.listenMu.Lock()
	defer r.listenMu.Unlock()
	return r.unlisten != nil
}

// MarkReady records that the embedded app finished bootstrapping and drains
// the readiness queue.
func (r *Router) MarkReady() {
	r.readyMu.Lock()
	if r.ready {
		r.readyMu.Unlock()
		return
	}
	r.ready = true
	queue := r.readyQueue
	r.readyQueue = nil
	r.readyMu.Unlock()

	for _, fn := range queue {
		fn()
	}
}

// WhenReady runs fn once the embedded app is ready; immediately if it
// already is.
func (r *Router) WhenReady(fn func()) {
	r.readyMu.Lock()
	if r.ready {
		r.readyMu.Unlock()
		fn()
		return
	}
	r.readyQueue = append(r.readyQueue, fn)
	r.readyMu.Unlock()
}

// Ready reports whether MarkReady has been called.
func (r *Router) Ready() bool {
	r.readyMu.Lock()
	defer r.readyMu.Unlock()
	return r.ready
}

// ResetReady forgets readiness; used when a new frame replaces the old one.
func (r *Router) ResetReady() {
	r.readyMu.Lock()
	r.ready = false
	r.readyMu.Unlock()
}
