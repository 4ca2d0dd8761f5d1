package page

import (
	"time"

	"go.uber.org/zap"
)

// Cause tells what made NavigationWatcher notice location change.
type Cause string

const (
	CausePopState     Cause = "popstate"
	CauseHashChange   Cause = "hashchange"
	CausePushState    Cause = "pushState"
	CauseReplaceState Cause = "replaceState"
	CausePoll         Cause = "poll"
)

const DefaultPollInterval = 500 * time.Millisecond

// NavigationWatcher observes location changes coming from history events,
// programmatic history calls and, as fallback, periodic polling. Every
// location different from the last observed one is reported once.
type NavigationWatcher struct {
	interval time.Duration
	onChange func(w *Window, url string, cause Cause)

	win     *Window
	last    string
	started bool
	cleanup []func()
}

func NewNavigationWatcher(interval time.Duration, onChange func(w *Window, url string, cause Cause)) *NavigationWatcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &NavigationWatcher{interval: interval, onChange: onChange}
}

// Start instruments window, current location is taken as already observed.
// Must be called on the page loop.
func (nw *NavigationWatcher) Start(w *Window) {
	if nw.started {
		return
	}
	nw.started = true
	nw.win = w
	nw.last = w.Location()

	nw.cleanup = append(nw.cleanup,
		w.AddEventListener(EventPopState, func(w *Window, _ *Event) { nw.Check(w, CausePopState) }),
		w.AddEventListener(EventHashChange, func(w *Window, _ *Event) { nw.Check(w, CauseHashChange) }),
		w.History().WrapPushState(nw.wrap(CausePushState)),
		w.History().WrapReplaceState(nw.wrap(CauseReplaceState)),
	)
	id := w.SetInterval(nw.interval, func(w *Window) { nw.Check(w, CausePoll) })
	nw.cleanup = append(nw.cleanup, func() { w.ClearTimer(id) })

	w.Log().Debug("Navigation watcher started", zap.String("url", nw.last), zap.Duration("poll", nw.interval))
}

// Stop removes instrumentation. Must be called on the page loop.
func (nw *NavigationWatcher) Stop() {
	for i := len(nw.cleanup) - 1; i >= 0; i-- {
		nw.cleanup[i]()
	}
	nw.cleanup = nil
	nw.started = false
	nw.win = nil
}

// Last returns last observed location.
func (nw *NavigationWatcher) Last() string {
	return nw.last
}

// Check compares current location with the last observed one and reports
// change.
func (nw *NavigationWatcher) Check(w *Window, cause Cause) bool {
	cur := w.Location()
	if cur == nw.last {
		return false
	}
	nw.last = cur
	w.Log().Debug("Navigation detected", zap.String("url", cur), zap.String("cause", string(cause)))
	if nw.onChange != nil {
		nw.onChange(w, cur, cause)
	}
	return true
}

func (nw *NavigationWatcher) wrap(cause Cause) StateMiddleware {
	return func(next StateFunc) StateFunc {
		return func(state any, url string) error {
			err := next(state, url)
			nw.Check(nw.win, cause)
			return err
		}
	}
}
