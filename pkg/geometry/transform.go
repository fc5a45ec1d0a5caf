package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Default zoom bounds
const (
	DefaultMinZoom = 0.1
	DefaultMaxZoom = 5.0
)

// Limits bounds the zoom factor of a ViewState
type Limits struct {
	MinZoom float64
	MaxZoom float64
}

// DefaultLimits returns the zoom bounds used when nothing is configured
func DefaultLimits() Limits {
	return Limits{MinZoom: DefaultMinZoom, MaxZoom: DefaultMaxZoom}
}

// ViewState is the pan/zoom state of the mindmap viewport.
// Pan is the screen-space offset of the world origin.
type ViewState struct {
	Zoom     float64 `json:"zoom"`
	Pan      r2.Vec  `json:"pan"`
	Viewport r2.Vec  `json:"viewport"` // width, height in screen pixels
	limits   Limits
}

// NewViewState creates a view at zoom 1 with no pan
func NewViewState(viewport r2.Vec, limits Limits) *ViewState {
	if limits.MinZoom <= 0 || limits.MaxZoom < limits.MinZoom {
		limits = DefaultLimits()
	}
	return &ViewState{
		Zoom:     1,
		Viewport: viewport,
		limits:   limits,
	}
}

// Limits returns the zoom bounds in effect
func (v *ViewState) Limits() Limits {
	return v.limits
}

// SetLimits replaces the zoom bounds and re-clamps the current zoom around the viewport center
func (v *ViewState) SetLimits(limits Limits) {
	if limits.MinZoom <= 0 || limits.MaxZoom < limits.MinZoom {
		return
	}
	v.limits = limits
	v.SetZoom(v.Zoom, v.Center())
}

// ToWorld maps a screen point to world coordinates
func (v *ViewState) ToWorld(screen r2.Vec) r2.Vec {
	return r2.Scale(1/v.Zoom, r2.Sub(screen, v.Pan))
}

// ToScreen maps a world point to screen coordinates
func (v *ViewState) ToScreen(world r2.Vec) r2.Vec {
	return r2.Add(r2.Scale(v.Zoom, world), v.Pan)
}

// Clamp limits zoom to the configured bounds
func (v *ViewState) Clamp(zoom float64) float64 {
	if math.IsNaN(zoom) {
		return v.Zoom
	}
	return math.Max(v.limits.MinZoom, math.Min(v.limits.MaxZoom, zoom))
}

// SetZoom changes the zoom factor while keeping the world point under
// anchor fixed on screen.
func (v *ViewState) SetZoom(zoom float64, anchor r2.Vec) {
	zoom = v.Clamp(zoom)
	world := v.ToWorld(anchor)
	v.Zoom = zoom
	// anchor = world*zoom + pan
	v.Pan = r2.Sub(anchor, r2.Scale(zoom, world))
}

// PanBy moves the world origin by delta. Screen-space pointer deltas are
// divided by the current zoom first.
func (v *ViewState) PanBy(delta r2.Vec, fromScreen bool) {
	if fromScreen {
		delta = r2.Scale(1/v.Zoom, delta)
	}
	v.Pan = r2.Add(v.Pan, delta)
}

// Resize records a new viewport size. It does not move any node.
func (v *ViewState) Resize(viewport r2.Vec) {
	v.Viewport = viewport
}

// Center returns the screen-space center of the viewport
func (v *ViewState) Center() r2.Vec {
	return r2.Scale(0.5, v.Viewport)
}

// WorldCenter returns the world point currently at the viewport center
func (v *ViewState) WorldCenter() r2.Vec {
	return v.ToWorld(v.Center())
}

// Reset restores zoom 1 and zero pan, keeping viewport and limits
func (v *ViewState) Reset() {
	v.Zoom = 1
	v.Pan = r2.Vec{}
}

// Distance returns the Euclidean distance between two points
func Distance(a, b r2.Vec) float64 {
	return r2.Norm(r2.Sub(a, b))
}
