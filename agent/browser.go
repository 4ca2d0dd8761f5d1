package agent

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"stylish/messaging"
	"stylish/page"
	"stylish/rules"
)

type tab struct {
	page *page.Page

	// held while agent is replaced, so concurrent injections into one tab
	// run one after another
	inject sync.Mutex
	agent  *Agent
}

// Browser keeps open tabs and injects agents into them on demand.
type Browser struct {
	hub   *messaging.Hub
	store rules.Store
	opts  Options
	log   *zap.Logger

	mu   sync.Mutex
	tabs map[messaging.TabID]*tab
	next messaging.TabID
}

var _ messaging.Injector = (*Browser)(nil)

func NewBrowser(hub *messaging.Hub, store rules.Store, opts Options, log *zap.Logger) *Browser {
	if log == nil {
		log = zap.NewNop()
	}
	return &Browser{
		hub:   hub,
		store: store,
		opts:  opts,
		log:   log,
		tabs:  make(map[messaging.TabID]*tab),
		next:  1,
	}
}

// Open adds page as new tab without agent. Tab becomes active one.
func (b *Browser) Open(p *page.Page) messaging.TabID {
	b.mu.Lock()
	id := b.next
	b.next++
	b.tabs[id] = &tab{page: p}
	b.mu.Unlock()

	b.hub.SetActiveTab(id)
	b.log.Debug("Tab opened", zap.Int("tab", int(id)))
	return id
}

// Inject attaches agent to the tab. Repeated injection replaces agent.
func (b *Browser) Inject(ctx context.Context, id messaging.TabID) error {
	b.mu.Lock()
	t, ok := b.tabs[id]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("no tab with id %d", id)
	}

	t.inject.Lock()
	defer t.inject.Unlock()

	b.mu.Lock()
	old := t.agent
	t.agent = nil
	b.mu.Unlock()

	if old != nil {
		if err := old.Close(ctx); err != nil {
			b.log.Warn("Unable to detach previous agent", zap.Int("tab", int(id)), zap.Error(err))
		}
	}

	a := New(id, t.page, b.store, b.hub, b.opts, b.log)
	if err := a.Bootstrap(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	t.agent = a
	b.mu.Unlock()
	return nil
}

// Agent returns agent of the tab or nil.
func (b *Browser) Agent(id messaging.TabID) *Agent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.tabs[id]; ok {
		return t.agent
	}
	return nil
}

// CloseTab detaches agent and closes tab page.
func (b *Browser) CloseTab(ctx context.Context, id messaging.TabID) error {
	b.mu.Lock()
	t, ok := b.tabs[id]
	delete(b.tabs, id)
	b.mu.Unlock()

	if !ok {
		return nil
	}
	if cur, active := b.hub.ActiveTab(); active && cur == id {
		b.hub.ClearActiveTab()
	}

	t.inject.Lock()
	defer t.inject.Unlock()
	b.mu.Lock()
	a := t.agent
	t.agent = nil
	b.mu.Unlock()

	var err error
	if a != nil {
		err = a.Close(ctx)
	}
	t.page.Close()
	return err
}

// Close closes all tabs.
func (b *Browser) Close(ctx context.Context) error {
	b.mu.Lock()
	ids := make([]messaging.TabID, 0, len(b.tabs))
	for id := range b.tabs {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	var err error
	for _, id := range ids {
		err = multierr.Append(err, b.CloseTab(ctx, id))
	}
	return err
}
