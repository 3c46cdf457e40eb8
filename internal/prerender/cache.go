// Package prerender keeps hidden, fully built frames addressable by an
// application-chosen id so they can be shown without being rebuilt.
package prerender

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/frame"
)

// Slot is one prerendered wrapper and its child frame.
type Slot struct {
	ID      string
	Wrapper frame.Wrapper
	Frame   frame.Frame
	// Owner is the instance that built the slot.
	Owner string

	mu        sync.Mutex
	config    map[string]any
	visible   bool
	ready     bool
	stopWatch func()
	connected map[string]struct{}
}

// NewSlot returns a hidden slot built by owner with the given parameters.
func NewSlot(id, owner string, w frame.Wrapper, f frame.Frame, cfg map[string]any) *Slot {
	c := make(map[string]any, len(cfg))
	for k, v := range cfg {
		c[k] = v
	}
	return &Slot{
		ID:        id,
		Owner:     owner,
		Wrapper:   w,
		Frame:     f,
		config:    c,
		connected: map[string]struct{}{owner: {}},
	}
}

// Visible reports whether the slot is shown.
func (s *Slot) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

// Config returns a copy of the parameters the slot currently runs with.
func (s *Slot) Config() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.config))
	for k, v := range s.config {
		out[k] = v
	}
	return out
}

// Show makes the slot visible at bounds and keeps it following the mount
// point through watch, whose stop function is held until Hide.
func (s *Slot) Show(bounds frame.Rect, watch func(func(frame.Rect)) func()) {
	s.Wrapper.SetBounds(bounds)
	s.Wrapper.SetVisible(true)

	var stop func()
	if watch != nil {
		stop = watch(s.Wrapper.SetBounds)
	}

	s.mu.Lock()
	prev := s.stopWatch
	s.stopWatch = stop
	s.visible = true
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// Hide makes the slot invisible and stops geometry tracking.
func (s *Slot) Hide() {
	s.mu.Lock()
	stop := s.stopWatch
	s.stopWatch = nil
	s.visible = false
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	s.Wrapper.SetVisible(false)
}

// MarkReady records that the slot's embedded app finished bootstrapping.
func (s *Slot) MarkReady() {
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
}

// Ready reports whether MarkReady was called.
func (s *Slot) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Tracking reports whether geometry tracking is active.
func (s *Slot) Tracking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopWatch != nil
}

func (s *Slot) connect(instanceID string) {
	s.mu.Lock()
	s.connected[instanceID] = struct{}{}
	s.mu.Unlock()
}

// Connected returns the number of instances attached to the slot.
func (s *Slot) Connected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connected)
}

// Reconcile compares the parameters an instance wants with those the slot
// runs with. Keys the slot has never seen are adopted and returned as
// updates to send. Keys set at build time keep their original value; when
// instanceID owns the slot each differing key is returned as a conflict.
func (s *Slot) Reconcile(instanceID string, want map[string]any) (updates map[string]any, conflicts []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updates = make(map[string]any)
	for k, v := range want {
		orig, ok := s.config[k]
		if !ok {
			updates[k] = v
			s.config[k] = v
			continue
		}
		if !sameValue(orig, v) && instanceID == s.Owner {
			conflicts = append(conflicts, k)
		}
	}
	sort.Strings(conflicts)
	return updates, conflicts
}

func sameValue(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func (s *Slot) teardown() {
	s.Hide()
	if err := s.Wrapper.Remove(); err != nil {
		slog.Warn("Failed to remove prerender wrapper", "id", s.ID, "error", err)
	}
	if err := s.Frame.Remove(); err != nil {
		slog.Debug("Prerender frame already removed", "id", s.ID, "error", err)
	}
}

// Cache is the process-wide slot registry.
type Cache struct {
	mu    sync.Mutex
	slots map[string]*Slot
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{slots: make(map[string]*Slot)}
}

// Get returns the slot registered under id.
func (c *Cache) Get(id string) (*Slot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[id]
	return s, ok
}

// Len returns the number of slots.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

// CreateIfAbsent registers the slot returned by build under id. When a slot
// already exists it is returned unchanged unless replace is set, in which
// case the old slot is torn down first. build runs without the cache lock;
// if another caller registers id meanwhile, the freshly built slot is torn
// down and the winner returned.
func (c *Cache) CreateIfAbsent(id string, replace bool, build func() (*Slot, error)) (slot *Slot, created bool, err error) {
	if id == "" {
		return nil, false, fmt.Errorf("prerender: empty slot id")
	}

	c.mu.Lock()
	existing, ok := c.slots[id]
	if ok && !replace {
		c.mu.Unlock()
		return existing, false, nil
	}
	if ok {
		delete(c.slots, id)
	}
	c.mu.Unlock()
	if ok {
		slog.Info("Replacing prerendered embed", "id", id)
		existing.teardown()
	}

	built, err := build()
	if err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	if winner, ok := c.slots[id]; ok {
		c.mu.Unlock()
		built.teardown()
		return winner, false, nil
	}
	c.slots[id] = built
	c.mu.Unlock()
	return built, true, nil
}

// Connect attaches instanceID to an existing slot.
func (c *Cache) Connect(id, instanceID string) (*Slot, bool) {
	s, ok := c.Get(id)
	if !ok {
		return nil, false
	}
	s.connect(instanceID)
	return s, true
}

// Show makes the slot under id visible.
func (c *Cache) Show(id string, bounds frame.Rect, watch func(func(frame.Rect)) func()) bool {
	s, ok := c.Get(id)
	if !ok {
		return false
	}
	s.Show(bounds, watch)
	return true
}

// Hide makes the slot under id invisible.
func (c *Cache) Hide(id string) bool {
	s, ok := c.Get(id)
	if !ok {
		return false
	}
	s.Hide()
	return true
}

// Destroy tears the slot down and removes it from the registry.
func (c *Cache) Destroy(id string) bool {
	c.mu.Lock()
	s, ok := c.slots[id]
	delete(c.slots, id)
	c.mu.Unlock()
	if !ok {
		return false
	}
	s.teardown()
	return true
}

// Clear destroys every slot.
func (c *Cache) Clear() {
	c.mu.Lock()
	slots := c.slots
	c.slots = make(map[string]*Slot)
	c.mu.Unlock()
	for _, s := range slots {
		s.teardown()
	}
}
