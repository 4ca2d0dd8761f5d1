// Package picker implements interactive element picking: while active it
// highlights hovered element and reports selector of the clicked one.
package picker

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"stylish/dom"
	"stylish/messaging"
	"stylish/page"
	"stylish/selector"
)

const (
	HighlightClass = "__stylish-picker-highlight"
	LabelClass     = "__stylish-picker-label"
	BannerClass    = "__stylish-picker-banner"

	bannerText  = "Stylish: click an element to pick it, press Esc to cancel"
	sendTimeout = 5 * time.Second
)

// Emitter delivers picked element to the panel.
type Emitter interface {
	SendToRuntime(ctx context.Context, msg messaging.Message) error
}

// Session is state of active picker.
type Session struct {
	Highlight *html.Node
	Label     *html.Node
	Banner    *html.Node
	// Target is last hovered element
	Target *html.Node

	win     *page.Window
	cleanup []func()
}

func (s *Session) overlay(n *html.Node) bool {
	for _, o := range []*html.Node{s.Highlight, s.Label, s.Banner} {
		if dom.IsAncestor(o, n) {
			return true
		}
	}
	return false
}

// Picker is owned by a single page and used only on its loop.
type Picker struct {
	emit     Emitter
	resolver *selector.Resolver
	log      *zap.Logger
	session  *Session
}

func New(emit Emitter, log *zap.Logger) *Picker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Picker{emit: emit, resolver: selector.New(), log: log.Named("picker")}
}

func (p *Picker) Active() bool {
	return p.session != nil
}

// Session returns active session or nil.
func (p *Picker) Session() *Session {
	return p.session
}

// Start mounts overlays and binds listeners. Active session is torn down
// first.
func (p *Picker) Start(w *page.Window) {
	if p.session != nil {
		p.Stop()
	}

	s := &Session{
		Highlight: overlay(HighlightClass),
		Label:     overlay(LabelClass),
		Banner:    overlay(BannerClass),
		win:       w,
	}
	dom.SetText(s.Banner, bannerText)
	setStyle(s.Banner, "display", "block")

	mount := w.Doc.Body()
	if mount == nil {
		mount = w.Doc.DocumentElement()
	}
	for _, n := range []*html.Node{s.Highlight, s.Label, s.Banner} {
		mount.AppendChild(n)
	}

	s.cleanup = []func(){
		w.AddEventListener(page.EventMouseMove, p.onMouseMove),
		w.AddEventListener(page.EventMouseOut, p.onMouseOut),
		w.AddEventListener(page.EventClick, p.onClick),
		w.AddEventListener(page.EventKeyDown, p.onKeyDown),
	}
	p.session = s
	p.log.Debug("Picker started", zap.String("url", w.Location()))
}

// Stop removes overlays and listeners, no-op when picker is idle.
func (p *Picker) Stop() {
	s := p.session
	if s == nil {
		return
	}
	p.session = nil
	for _, n := range []*html.Node{s.Highlight, s.Label, s.Banner} {
		dom.Remove(n)
	}
	for _, fn := range s.cleanup {
		fn()
	}
	p.log.Debug("Picker stopped")
}

func (p *Picker) onMouseMove(w *page.Window, ev *page.Event) {
	s := p.session
	if s == nil || ev.Target == nil || s.overlay(ev.Target) {
		return
	}
	if ev.Target == w.Doc.Body() || ev.Target == w.Doc.DocumentElement() {
		s.hide()
		return
	}
	s.Target = ev.Target
	s.highlight(ev.Target, ev.Rect)
}

func (p *Picker) onMouseOut(_ *page.Window, ev *page.Event) {
	s := p.session
	if s == nil || (ev.RelatedTarget != nil && ev.RelatedTarget == s.Target) {
		return
	}
	s.hide()
}

func (p *Picker) onClick(w *page.Window, ev *page.Event) {
	s := p.session
	if s == nil {
		return
	}
	ev.PreventDefault()
	ev.StopPropagation()

	target := ev.Target
	if target == nil || s.overlay(target) {
		target = s.Target
	}
	if !dom.IsElement(target) {
		return
	}

	msg := messaging.ElementPicked{Selector: p.resolver.Resolve(target), URL: w.Location()}
	p.log.Debug("Element picked", zap.String("selector", msg.Selector), zap.String("url", msg.URL))
	if p.emit != nil {
		go p.send(msg)
	}
	p.Stop()
}

func (p *Picker) onKeyDown(_ *page.Window, ev *page.Event) {
	if p.session == nil || ev.Key != "Escape" {
		return
	}
	ev.PreventDefault()
	p.Stop()
}

// send must not run on the page loop, receiver may call back into the page.
func (p *Picker) send(msg messaging.ElementPicked) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := p.emit.SendToRuntime(ctx, msg); err != nil {
		p.log.Warn("Unable to report picked element", zap.String("selector", msg.Selector), zap.Error(err))
	}
}

func (s *Session) hide() {
	setStyle(s.Highlight, "display", "none")
	setStyle(s.Label, "display", "none")
}

func (s *Session) highlight(n *html.Node, r page.Rect) {
	setStyle(s.Highlight, "display", "block")
	setStyle(s.Highlight, "top", px(r.Top))
	setStyle(s.Highlight, "left", px(r.Left))
	setStyle(s.Highlight, "width", px(r.Width))
	setStyle(s.Highlight, "height", px(r.Height))

	setStyle(s.Label, "display", "block")
	setStyle(s.Label, "top", px(r.Top))
	setStyle(s.Label, "left", px(r.Left+r.Width/2))
	dom.SetText(s.Label, selector.Describe(n))
}

func overlay(class string) *html.Node {
	n := dom.CreateElement("div")
	dom.SetAttr(n, "class", class)
	setStyle(n, "display", "none")
	return n
}

func px(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "px"
}

// Style returns value of inline style property of n.
func Style(n *html.Node, prop string) string {
	v, _ := dom.Attr(n, "style")
	for decl := range strings.SplitSeq(v, ";") {
		k, val, ok := strings.Cut(decl, ":")
		if ok && strings.TrimSpace(k) == prop {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

// setStyle sets single inline style property keeping the others.
func setStyle(n *html.Node, prop, value string) {
	v, _ := dom.Attr(n, "style")
	var (
		decls []string
		found bool
	)
	for decl := range strings.SplitSeq(v, ";") {
		k, _, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(k) == prop {
			decl = prop + ": " + value
			found = true
		}
		decls = append(decls, strings.TrimSpace(decl))
	}
	if !found {
		decls = append(decls, prop+": "+value)
	}
	dom.SetAttr(n, "style", strings.Join(decls, "; "))
}
