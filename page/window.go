package page

import (
	"fmt"
	"net/url"
	"slices"
	"time"

	"go.uber.org/zap"

	"stylish/dom"
)

type listener struct {
	id int
	fn Listener
}

// Window is state of a document context. It belongs to the page loop and
// none of its methods may be called from other goroutines.
type Window struct {
	Doc *dom.Document

	page      *Page
	log       *zap.Logger
	loc       string
	history   *History
	listeners map[string][]listener
	timers    map[int]chan struct{}
	nextID    int
}

func (w *Window) Location() string {
	return w.loc
}

// SetLocation changes location without any notification, this is what
// scripts bypassing instrumented history do.
func (w *Window) SetLocation(loc string) {
	w.loc = loc
}

// SetHash changes fragment of location and dispatches hashchange when it
// differs from the current one.
func (w *Window) SetHash(hash string) error {
	u, err := url.Parse(w.loc)
	if err != nil {
		return fmt.Errorf("bad location %q: %w", w.loc, err)
	}
	if len(hash) > 0 && hash[0] == '#' {
		hash = hash[1:]
	}
	u.Fragment = hash
	loc := u.String()
	if loc == w.loc {
		return nil
	}
	w.loc = loc
	w.Dispatch(&Event{Type: EventHashChange})
	return nil
}

func (w *Window) History() *History {
	return w.history
}

func (w *Window) Log() *zap.Logger {
	return w.log
}

// AddEventListener registers document level listener. Returned function
// removes it.
func (w *Window) AddEventListener(typ string, fn Listener) func() {
	id := w.nextID
	w.nextID++
	w.listeners[typ] = append(w.listeners[typ], listener{id: id, fn: fn})
	return func() {
		w.listeners[typ] = slices.DeleteFunc(w.listeners[typ], func(l listener) bool { return l.id == id })
		if len(w.listeners[typ]) == 0 {
			delete(w.listeners, typ)
		}
	}
}

// Listeners returns number of listeners registered for event type.
func (w *Window) Listeners(typ string) int {
	return len(w.listeners[typ])
}

// Dispatch delivers event to listeners registered at the moment of the call.
// Panicking listener is logged and does not affect the rest.
func (w *Window) Dispatch(ev *Event) {
	for _, l := range slices.Clone(w.listeners[ev.Type]) {
		w.call(l.fn, ev)
	}
}

func (w *Window) call(fn Listener, ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Event listener failed", zap.String("event", ev.Type), zap.Any("panic", r))
		}
	}()
	fn(w, ev)
}

// SetInterval schedules fn on the page loop every d until cleared or page is
// closed.
func (w *Window) SetInterval(d time.Duration, fn func(*Window)) int {
	return w.schedule(d, true, fn)
}

// SetTimeout schedules fn on the page loop once after d.
func (w *Window) SetTimeout(d time.Duration, fn func(*Window)) int {
	return w.schedule(d, false, fn)
}

// ClearTimer cancels interval or timeout, unknown ids are ignored.
func (w *Window) ClearTimer(id int) {
	if stop, ok := w.timers[id]; ok {
		close(stop)
		delete(w.timers, id)
	}
}

func (w *Window) schedule(d time.Duration, repeat bool, fn func(*Window)) int {
	id := w.nextID
	w.nextID++
	stop := make(chan struct{})
	w.timers[id] = stop

	p := w.page
	go func() {
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-p.quit:
				return
			case <-t.C:
				p.Post(func(w *Window) {
					// timer might have been cleared while task was queued
					if _, ok := w.timers[id]; !ok {
						return
					}
					if !repeat {
						delete(w.timers, id)
					}
					fn(w)
				})
				if !repeat {
					return
				}
			}
		}
	}()
	return id
}
