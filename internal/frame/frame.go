// Package frame defines the page-side capability the embedding client drives:
// creating embedded frames, placing them, and exchanging messages with them.
// Implementations live elsewhere (a websocket host, an in-memory test host);
// the lifecycle and protocol logic depend only on these interfaces.
package frame

import (
	"context"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/protocol"
)

// InsertPosition selects where a node goes relative to its container.
type InsertPosition int

const (
	// InsertInside replaces the container's content.
	InsertInside InsertPosition = iota
	// InsertAfter places the node as the container's next sibling.
	InsertAfter
)

// BodyContainer addresses the top-level page body.
const BodyContainer = ""

// Rect is a node's page geometry.
type Rect struct {
	Top    float64
	Left   float64
	Width  float64
	Height float64
}

// Spec describes a frame to create.
type Spec struct {
	ID         string
	Src        string
	Name       string
	Width      string
	Height     string
	Attributes map[string]string
	Hidden     bool
}

// Node is anything the host has placed in the page.
type Node interface {
	ID() string
	Remove() error
}

// Frame is an embedded application boundary.
type Frame interface {
	Node
	Src() string
	// Done is closed once the frame fires load or error.
	Done() <-chan struct{}
	// Err reports the load error after Done is closed.
	Err() error
	// PostMessage sends msg into the frame. reply, when not nil, is the
	// private channel the frame must answer on.
	PostMessage(msg protocol.Message, reply protocol.Port) error
	// Subscribe registers fn for messages the frame sends.
	Subscribe(fn func(protocol.Inbound)) (unsubscribe func())
}

// Wrapper is a positioned container holding one prerendered frame.
type Wrapper interface {
	Node
	Append(f Frame) error
	SetVisible(visible bool)
	SetBounds(r Rect)
}

// Host creates and places frames.
type Host interface {
	CreateFrame(ctx context.Context, spec Spec) (Frame, error)
	CreateWrapper(id string) (Wrapper, error)
	Insert(container string, pos InsertPosition, n Node) error
	// ShowMessage replaces the container content with a text message.
	ShowMessage(container, message string) error
	Bounds(container string) (Rect, error)
	WatchBounds(container string, fn func(Rect)) (stop func())
}
