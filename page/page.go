// Package page models a browser document context: a parsed document, its
// location and history, document level event listeners and timers.
//
// All work against a document runs sequentially on the page loop goroutine,
// other goroutines submit it with Do or Post. Page code never blocks the
// loop, so calling Do from inside the loop would deadlock and is not allowed.
package page

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"stylish/dom"
)

var ErrClosed = errors.New("page is closed")

// Page owns page loop and the Window it serves.
type Page struct {
	log *zap.Logger
	win *Window

	mu     sync.Mutex
	queue  []func(*Window)
	closed bool

	wake      chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New starts page loop for document loaded from location.
func New(doc *dom.Document, location string, log *zap.Logger) (*Page, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if _, err := url.Parse(location); err != nil {
		return nil, fmt.Errorf("bad page location %q: %w", location, err)
	}

	p := &Page{
		log:  log.Named("page"),
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	p.win = &Window{
		Doc:       doc,
		page:      p,
		log:       p.log,
		loc:       location,
		listeners: make(map[string][]listener),
		timers:    make(map[int]chan struct{}),
	}
	p.win.history = newHistory(p.win)

	go p.run()
	return p, nil
}

// Post queues fn for execution on the page loop. It returns false when page
// is closed. Safe to call from the loop itself.
func (p *Page) Post(fn func(*Window)) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.queue = append(p.queue, fn)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the page loop and waits for its result.
func (p *Page) Do(ctx context.Context, fn func(*Window) error) error {
	res := make(chan error, 1)
	if !p.Post(func(w *Window) {
		res <- p.exec(w, fn)
	}) {
		return ErrClosed
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		// task could have finished just before loop exited
		select {
		case err := <-res:
			return err
		default:
			return ErrClosed
		}
	}
}

// Dispatch delivers event to document listeners and returns it for
// inspection of its flags.
func (p *Page) Dispatch(ctx context.Context, ev *Event) (*Event, error) {
	err := p.Do(ctx, func(w *Window) error {
		w.Dispatch(ev)
		return nil
	})
	return ev, err
}

// Location returns current location of the page.
func (p *Page) Location(ctx context.Context) (string, error) {
	var loc string
	err := p.Do(ctx, func(w *Window) error {
		loc = w.Location()
		return nil
	})
	return loc, err
}

// Close stops page loop and all timers. Queued tasks are dropped.
func (p *Page) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.queue = nil
		p.mu.Unlock()
		close(p.quit)
	})
	<-p.done
}

// Done is closed when page loop exits.
func (p *Page) Done() <-chan struct{} {
	return p.done
}

func (p *Page) run() {
	defer close(p.done)
	for {
		select {
		case <-p.quit:
			return
		case <-p.wake:
		}
		for {
			fn := p.next()
			if fn == nil {
				break
			}
			p.exec(p.win, func(w *Window) error {
				fn(w)
				return nil
			})
		}
	}
}

func (p *Page) next() func(*Window) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || len(p.queue) == 0 {
		return nil
	}
	fn := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return fn
}

func (p *Page) exec(w *Window, fn func(*Window) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Page task failed", zap.Any("panic", r))
			err = fmt.Errorf("page task failed: %v", r)
		}
	}()
	return fn(w)
}
