package interaction

import (
	"time"

	"gonum.org/v1/gonum/spatial/r2"
)

// EventType names a pointer or keyboard event
type EventType string

const (
	PointerDown   EventType = "pointerdown"
	PointerMove   EventType = "pointermove"
	PointerUp     EventType = "pointerup"
	PointerCancel EventType = "pointercancel"
	Wheel         EventType = "wheel"
	DoubleClick   EventType = "dblclick"
	KeyDown       EventType = "keydown"
	Blur          EventType = "blur"
	Resize        EventType = "resize"
)

// Target is what a pointer event hit
type Target string

const (
	TargetPane Target = "pane"
	TargetNode Target = "node"
)

// Event is one input event from the client, in screen coordinates
type Event struct {
	Type      EventType `json:"type"`
	Target    Target    `json:"target,omitempty"`
	NodeID    int64     `json:"nodeId,omitempty"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	DeltaY    float64   `json:"deltaY,omitempty"` // wheel
	Key       string    `json:"key,omitempty"`    // keydown
	Text      string    `json:"text,omitempty"`   // text-entry contents on keydown
	Width     float64   `json:"width,omitempty"`  // resize
	Height    float64   `json:"height,omitempty"` // resize
	Timestamp int64     `json:"timestamp"`        // milliseconds
}

// Point returns the event position as a vector
func (e Event) Point() r2.Vec {
	return r2.Vec{X: e.X, Y: e.Y}
}

// Time returns the event timestamp
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}
