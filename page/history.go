package page

import (
	"fmt"
	"net/url"
	"slices"
)

// StateFunc is signature of history push and replace operations.
type StateFunc func(state any, url string) error

// StateMiddleware wraps StateFunc, it must call next to keep navigation
// working.
type StateMiddleware func(next StateFunc) StateFunc

type entry struct {
	state any
	url   string
}

type wrapper struct {
	id int
	mw StateMiddleware
}

// History is session history of a window.
type History struct {
	w       *Window
	entries []entry
	pos     int

	nextID  int
	push    []wrapper
	replace []wrapper
}

func newHistory(w *Window) *History {
	return &History{w: w, entries: []entry{{url: w.loc}}}
}

func (h *History) Len() int {
	return len(h.entries)
}

func (h *History) State() any {
	return h.entries[h.pos].state
}

// PushState adds history entry and changes location without any event.
func (h *History) PushState(state any, url string) error {
	return chain(h.push, h.pushState)(state, url)
}

// ReplaceState changes current entry and location without any event.
func (h *History) ReplaceState(state any, url string) error {
	return chain(h.replace, h.replaceState)(state, url)
}

// WrapPushState installs middleware around PushState. Latest middleware is
// outermost. Returned function removes it.
func (h *History) WrapPushState(mw StateMiddleware) func() {
	return h.wrap(&h.push, mw)
}

func (h *History) WrapReplaceState(mw StateMiddleware) func() {
	return h.wrap(&h.replace, mw)
}

// Back moves to previous entry and dispatches popstate, no-op at the first
// entry.
func (h *History) Back() {
	if h.pos == 0 {
		return
	}
	h.pos--
	h.w.loc = h.entries[h.pos].url
	h.w.Dispatch(&Event{Type: EventPopState})
}

func (h *History) Forward() {
	if h.pos >= len(h.entries)-1 {
		return
	}
	h.pos++
	h.w.loc = h.entries[h.pos].url
	h.w.Dispatch(&Event{Type: EventPopState})
}

func (h *History) wrap(list *[]wrapper, mw StateMiddleware) func() {
	id := h.nextID
	h.nextID++
	*list = append(*list, wrapper{id: id, mw: mw})
	return func() {
		*list = slices.DeleteFunc(*list, func(w wrapper) bool { return w.id == id })
	}
}

func chain(list []wrapper, fn StateFunc) StateFunc {
	for _, w := range list {
		fn = w.mw(fn)
	}
	return fn
}

func (h *History) pushState(state any, ref string) error {
	u, err := h.resolve(ref)
	if err != nil {
		return err
	}
	h.entries = append(h.entries[:h.pos+1], entry{state: state, url: u})
	h.pos++
	h.w.loc = u
	return nil
}

func (h *History) replaceState(state any, ref string) error {
	u, err := h.resolve(ref)
	if err != nil {
		return err
	}
	h.entries[h.pos] = entry{state: state, url: u}
	h.w.loc = u
	return nil
}

// resolve makes ref absolute against current location. Empty ref keeps
// location and cross origin targets are refused.
func (h *History) resolve(ref string) (string, error) {
	if len(ref) == 0 {
		return h.w.loc, nil
	}
	base, err := url.Parse(h.w.loc)
	if err != nil {
		return "", fmt.Errorf("bad location %q: %w", h.w.loc, err)
	}
	u, err := base.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("bad history url %q: %w", ref, err)
	}
	if u.Scheme != base.Scheme || u.Host != base.Host {
		return "", fmt.Errorf("history url %q is not same origin as %q", ref, h.w.loc)
	}
	return u.String(), nil
}
