package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"stylish/dom"
	"stylish/messaging"
	"stylish/page"
	"stylish/render"
	"stylish/rules"
)

const doc = `<html><head><title>t</title></head><body><div id="main"><p>x</p><button>go</button></div></body></html>`

type env struct {
	t       *testing.T
	store   *rules.SQLiteStore
	hub     *messaging.Hub
	browser *Browser
	page    *page.Page
	tab     messaging.TabID
	runtime chan messaging.Message
	renders atomic.Int32
}

func newEnv(t *testing.T, url string, list ...rules.Rule) *env {
	t.Helper()
	log := zaptest.NewLogger(t)

	store, err := rules.OpenSQLite(":memory:", log)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Save(context.Background(), list); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	d, err := dom.ParseString(doc)
	if err != nil {
		t.Fatalf("ParseString() error = %v", err)
	}
	p, err := page.New(d, url, log)
	if err != nil {
		t.Fatalf("page.New() error = %v", err)
	}

	e := &env{t: t, store: store, hub: messaging.NewHub(log), page: p, runtime: make(chan messaging.Message, 16)}
	e.hub.HandleRuntime(messaging.EndpointFunc(func(_ context.Context, m messaging.Message) error {
		e.runtime <- m
		return nil
	}))
	e.browser = NewBrowser(e.hub, store, Options{
		PollInterval: 10 * time.Millisecond,
		OnRender:     func(*page.Window, render.Result) { e.renders.Add(1) },
	}, log)
	e.tab = e.browser.Open(p)
	t.Cleanup(func() { e.browser.Close(context.Background()) })
	return e
}

func (e *env) styles() map[string]string {
	e.t.Helper()
	var res map[string]string
	err := e.page.Do(context.Background(), func(w *page.Window) error {
		res = render.Styles(w.Doc)
		return nil
	})
	if err != nil {
		e.t.Fatalf("Do() error = %v", err)
	}
	return res
}

func (e *env) eventually(what string, cond func() bool) {
	e.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			e.t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (e *env) runtimeMessage() messaging.Message {
	e.t.Helper()
	select {
	case m := <-e.runtime:
		return m
	case <-time.After(5 * time.Second):
		e.t.Fatal("no message to runtime")
		return nil
	}
}

func rule(id, url string) rules.Rule {
	return rules.Rule{ID: id, Name: id, URL: url, Selector: "p", Style: "color:red;", Enabled: true}
}

func TestAgent_InjectOnDemand(t *testing.T) {
	e := newEnv(t, "https://a.com/", rule("r1", "https://a.com/*"), rule("r2", "https://b.com/*"))
	s := messaging.NewSender(e.hub, e.browser, time.Millisecond, zaptest.NewLogger(t))

	if len(e.styles()) != 0 {
		t.Fatal("styles present before injection")
	}
	if err := s.SendToActiveTab(context.Background(), messaging.RenderRules{}); err != nil {
		t.Fatalf("SendToActiveTab() error = %v", err)
	}
	if e.browser.Agent(e.tab) == nil {
		t.Fatal("agent was not injected")
	}
	styles := e.styles()
	if _, ok := styles["stylish-rule-r1"]; !ok || len(styles) != 1 {
		t.Errorf("styles after bootstrap = %v", styles)
	}
	if e.renders.Load() == 0 {
		t.Error("OnRender not called")
	}
}

func TestAgent_Navigation(t *testing.T) {
	e := newEnv(t, "https://a.com/", rule("r1", "https://a.com/*"), rule("r2", "https://b.com/*"))
	if err := e.browser.Inject(context.Background(), e.tab); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}

	err := e.page.Do(context.Background(), func(w *page.Window) error {
		// history can not leave origin so emulate full navigation
		w.SetLocation("https://b.com/x")
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	m := e.runtimeMessage()
	if m != (messaging.RouteChange{URL: "https://b.com/x"}) {
		t.Errorf("runtime got %+v", m)
	}
	e.eventually("re-render", func() bool {
		styles := e.styles()
		_, ok := styles["stylish-rule-r2"]
		return ok && len(styles) == 1
	})

	err = e.page.Do(context.Background(), func(w *page.Window) error {
		return w.History().PushState(nil, "/y")
	})
	if err != nil {
		t.Fatalf("PushState() error = %v", err)
	}
	if m := e.runtimeMessage(); m != (messaging.RouteChange{URL: "https://b.com/y"}) {
		t.Errorf("runtime got %+v", m)
	}
}

func TestAgent_StoreChanges(t *testing.T) {
	e := newEnv(t, "https://a.com/", rule("r1", "*"))
	if err := e.browser.Inject(context.Background(), e.tab); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}

	off := false
	if err := e.store.Update(context.Background(), "r1", rules.Patch{Enabled: &off}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	e.eventually("disabled rule render", func() bool {
		return e.styles()["stylish-rule-r1"] == "/* r1 */\np {\n\n}"
	})

	if err := rules.Delete(context.Background(), e.store, "r1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	e.eventually("removal", func() bool { return len(e.styles()) == 0 })
}

func TestAgent_Commands(t *testing.T) {
	e := newEnv(t, "https://a.com/")
	ctx := context.Background()
	if err := e.browser.Inject(ctx, e.tab); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}

	preview := messaging.PreviewRule{Rule: rules.Rule{ID: "draft", Name: "d", Selector: "p", Style: "color:blue;", Enabled: true}}
	if err := e.hub.SendToTab(ctx, e.tab, preview); err != nil {
		t.Fatalf("PREVIEW_RULE error = %v", err)
	}
	if got := e.styles()[render.PreviewID]; got != "/* d */\np {\ncolor:blue;\n}" {
		t.Errorf("preview = %q", got)
	}
	// preview survives full render
	if err := e.hub.SendToTab(ctx, e.tab, messaging.RenderRules{}); err != nil {
		t.Fatalf("RENDER_RULES error = %v", err)
	}
	if _, ok := e.styles()[render.PreviewID]; !ok {
		t.Error("preview removed by render")
	}
	if err := e.hub.SendToTab(ctx, e.tab, messaging.RemoveRule{ID: "preview"}); err != nil {
		t.Fatalf("REMOVE_RULE error = %v", err)
	}
	if len(e.styles()) != 0 {
		t.Error("preview not removed")
	}

	for _, m := range []messaging.Message{messaging.ElementPicked{}, messaging.RouteChange{}} {
		if err := e.hub.SendToTab(ctx, e.tab, m); !errors.Is(err, ErrUnexpectedMessage) {
			t.Errorf("%s error = %v, want ErrUnexpectedMessage", m.Kind(), err)
		}
	}
}

func TestAgent_Picker(t *testing.T) {
	e := newEnv(t, "https://a.com/page")
	ctx := context.Background()
	if err := e.browser.Inject(ctx, e.tab); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if err := e.hub.SendToTab(ctx, e.tab, messaging.StartPicker{}); err != nil {
		t.Fatalf("START_PICKER error = %v", err)
	}

	err := e.page.Do(ctx, func(w *page.Window) error {
		btn, err := w.Doc.QuerySelector("button")
		if err != nil {
			return err
		}
		w.Dispatch(&page.Event{Type: page.EventClick, Target: btn})
		return nil
	})
	if err != nil {
		t.Fatalf("click error = %v", err)
	}

	want := messaging.ElementPicked{Selector: "#main > button", URL: "https://a.com/page"}
	if m := e.runtimeMessage(); m != want {
		t.Errorf("runtime got %+v, want %+v", m, want)
	}

	// stop on idle picker is fine
	if err := e.hub.SendToTab(ctx, e.tab, messaging.StopPicker{}); err != nil {
		t.Errorf("STOP_PICKER error = %v", err)
	}
}

func TestBrowser(t *testing.T) {
	e := newEnv(t, "https://a.com/")
	ctx := context.Background()

	if err := e.browser.Inject(ctx, 42); err == nil {
		t.Error("Inject() into unknown tab succeeded")
	}
	if err := e.browser.Inject(ctx, e.tab); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	first := e.browser.Agent(e.tab)
	if err := e.browser.Inject(ctx, e.tab); err != nil {
		t.Fatalf("second Inject() error = %v", err)
	}
	if e.browser.Agent(e.tab) == first {
		t.Error("agent not replaced")
	}

	if err := e.browser.CloseTab(ctx, e.tab); err != nil {
		t.Fatalf("CloseTab() error = %v", err)
	}
	if e.hub.Registered(e.tab) {
		t.Error("closed tab still registered")
	}
	if _, ok := e.hub.ActiveTab(); ok {
		t.Error("closed tab still active")
	}
	select {
	case <-e.page.Done():
	default:
		t.Error("tab page not closed")
	}
}

// slowStore delays listing so concurrent injections overlap in Bootstrap.
type slowStore struct {
	rules.Store
	delay time.Duration
}

func (s slowStore) List(ctx context.Context) ([]rules.Rule, error) {
	time.Sleep(s.delay)
	return s.Store.List(ctx)
}

func TestBrowser_ConcurrentInject(t *testing.T) {
	e := newEnv(t, "https://a.com/", rule("r1", "https://a.com/*"))
	ctx := context.Background()

	b := NewBrowser(e.hub, slowStore{Store: e.store, delay: 50 * time.Millisecond}, Options{PollInterval: time.Hour}, zaptest.NewLogger(t))
	t.Cleanup(func() { b.Close(context.Background()) })
	id := b.Open(e.page)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = b.Inject(ctx, id)
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("Inject() #%d error = %v", i, err)
		}
	}

	var listeners int
	err := e.page.Do(ctx, func(w *page.Window) error {
		listeners = w.Listeners(page.EventPopState)
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if listeners != 1 {
		t.Errorf("popstate listeners after concurrent injections = %d, want 1", listeners)
	}
	if !e.hub.Registered(id) {
		t.Error("tab is not registered")
	}
}
