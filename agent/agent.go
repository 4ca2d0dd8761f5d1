// Package agent is the page side of stylish: it keeps document styled
// according to the rules and serves commands coming from the panel.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stylish/messaging"
	"stylish/page"
	"stylish/picker"
	"stylish/render"
	"stylish/rules"
)

var ErrUnexpectedMessage = messaging.ErrUnexpectedMessage

const notifyTimeout = 5 * time.Second

type Options struct {
	// PollInterval is navigation watcher fallback period.
	PollInterval time.Duration
	// OnRender is called on the page loop after document head was changed.
	OnRender func(w *page.Window, res render.Result)
}

// Agent serves one tab.
type Agent struct {
	tab   messaging.TabID
	page  *page.Page
	store rules.Store
	hub   *messaging.Hub
	opts  Options
	log   *zap.Logger

	renderer *render.Renderer
	picker   *picker.Picker
	watcher  *page.NavigationWatcher

	unsubscribe func()
	unregister  func()
}

var _ messaging.Visitor = (*Agent)(nil)

func New(tab messaging.TabID, p *page.Page, store rules.Store, hub *messaging.Hub, opts Options, log *zap.Logger) *Agent {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("agent").With(zap.Int("tab", int(tab)))
	a := &Agent{
		tab:      tab,
		page:     p,
		store:    store,
		hub:      hub,
		opts:     opts,
		log:      log,
		renderer: render.New(log),
		picker:   picker.New(hub, log),
	}
	a.watcher = page.NewNavigationWatcher(opts.PollInterval, a.onNavigate)
	return a
}

// Bootstrap renders rules for current location, starts watching navigation
// and rule changes and finally makes agent reachable through the hub.
func (a *Agent) Bootstrap(ctx context.Context) error {
	a.unsubscribe = a.store.Subscribe(a.onRulesChanged)

	list, err := a.store.List(ctx)
	if err != nil {
		a.unsubscribe()
		return fmt.Errorf("unable to bootstrap agent: %w", err)
	}
	err = a.page.Do(ctx, func(w *page.Window) error {
		a.renderAll(w, list)
		a.watcher.Start(w)
		return nil
	})
	if err != nil {
		a.unsubscribe()
		return fmt.Errorf("unable to bootstrap agent: %w", err)
	}

	a.unregister = a.hub.Register(a.tab, messaging.VisitorEndpoint(a))
	a.log.Debug("Agent bootstrapped", zap.Int("rules", len(list)))
	return nil
}

// Close detaches agent from the page. Page itself stays open.
func (a *Agent) Close(ctx context.Context) error {
	if a.unregister != nil {
		a.unregister()
		a.unregister = nil
	}
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
	err := a.page.Do(ctx, func(*page.Window) error {
		a.picker.Stop()
		a.watcher.Stop()
		return nil
	})
	if errors.Is(err, page.ErrClosed) {
		return nil
	}
	return err
}

func (a *Agent) Page() *page.Page {
	return a.page
}

// Render lists rules and renders them against current location.
func (a *Agent) Render(ctx context.Context) error {
	list, err := a.store.List(ctx)
	if err != nil {
		a.log.Error("Unable to list rules", zap.Error(err))
		return err
	}
	return a.page.Do(ctx, func(w *page.Window) error {
		a.renderAll(w, list)
		return nil
	})
}

func (a *Agent) HandleStartPicker(ctx context.Context, _ messaging.StartPicker) error {
	return a.page.Do(ctx, func(w *page.Window) error {
		a.picker.Start(w)
		return nil
	})
}

func (a *Agent) HandleStopPicker(ctx context.Context, _ messaging.StopPicker) error {
	return a.page.Do(ctx, func(*page.Window) error {
		a.picker.Stop()
		return nil
	})
}

func (a *Agent) HandleRenderRules(ctx context.Context, _ messaging.RenderRules) error {
	return a.Render(ctx)
}

func (a *Agent) HandlePreviewRule(ctx context.Context, m messaging.PreviewRule) error {
	return a.page.Do(ctx, func(w *page.Window) error {
		a.renderer.Preview(w.Doc, m.Rule)
		a.rendered(w, render.Result{Upserted: 1})
		return nil
	})
}

func (a *Agent) HandleRemoveRule(ctx context.Context, m messaging.RemoveRule) error {
	return a.page.Do(ctx, func(w *page.Window) error {
		if a.renderer.RemoveOne(w.Doc, m.ID) {
			a.rendered(w, render.Result{Removed: 1})
		}
		return nil
	})
}

func (a *Agent) HandleElementPicked(context.Context, messaging.ElementPicked) error {
	return fmt.Errorf("agent cannot handle %s: %w", messaging.KindElementPicked, ErrUnexpectedMessage)
}

func (a *Agent) HandleRouteChange(context.Context, messaging.RouteChange) error {
	return fmt.Errorf("agent cannot handle %s: %w", messaging.KindRouteChange, ErrUnexpectedMessage)
}

func (a *Agent) renderAll(w *page.Window, list []rules.Rule) {
	res := a.renderer.RenderAll(w.Doc, list, w.Location())
	if res.Changed() {
		a.rendered(w, res)
	}
}

func (a *Agent) rendered(w *page.Window, res render.Result) {
	if a.opts.OnRender != nil {
		a.opts.OnRender(w, res)
	}
}

// onRulesChanged is called by store writers, never on the page loop.
func (a *Agent) onRulesChanged(list []rules.Rule) {
	a.page.Post(func(w *page.Window) {
		a.renderAll(w, list)
	})
}

// onNavigate runs on the page loop, rules are fetched elsewhere.
func (a *Agent) onNavigate(_ *page.Window, url string, cause page.Cause) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if err := a.Render(ctx); err != nil && !errors.Is(err, page.ErrClosed) {
			a.log.Warn("Unable to render rules after navigation", zap.String("url", url), zap.Error(err))
		}
		err := a.hub.SendToRuntime(ctx, messaging.RouteChange{URL: url})
		switch {
		case err == nil:
		case errors.Is(err, messaging.ErrNoReceiver):
			// panel is closed
		default:
			a.log.Warn("Unable to report navigation", zap.String("url", url), zap.String("cause", string(cause)), zap.Error(err))
		}
	}()
}
