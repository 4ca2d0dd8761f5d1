package page

import (
	"golang.org/x/net/html"
)

// Event types dispatched to document level listeners.
const (
	EventMouseMove  = "mousemove"
	EventMouseOut   = "mouseout"
	EventClick      = "click"
	EventKeyDown    = "keydown"
	EventPopState   = "popstate"
	EventHashChange = "hashchange"
)

// Rect is element client rectangle in CSS pixels.
type Rect struct {
	Top    float64
	Left   float64
	Width  float64
	Height float64
}

// Event is a DOM event record. There is no layout so pointer events carry
// geometry of their target.
type Event struct {
	Type          string
	Target        *html.Node
	RelatedTarget *html.Node
	Key           string
	Rect          Rect

	defaultPrevented   bool
	propagationStopped bool
}

func (e *Event) PreventDefault() {
	e.defaultPrevented = true
}

func (e *Event) DefaultPrevented() bool {
	return e.defaultPrevented
}

// StopPropagation keeps event from reaching page own handlers, other
// document level listeners still see it.
func (e *Event) StopPropagation() {
	e.propagationStopped = true
}

func (e *Event) PropagationStopped() bool {
	return e.propagationStopped
}

// Listener handles events on the page loop.
type Listener func(w *Window, ev *Event)
