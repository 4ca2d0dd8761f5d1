// Package panel holds rule editing logic of the side panel, presentation
// is left to the caller.
package panel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"stylish/match"
	"stylish/messaging"
	"stylish/rules"
)

const (
	DefaultPreviewDelay = 500 * time.Millisecond

	previewRuleID = rules.PreviewID
	sendTimeout   = 5 * time.Second
)

var ErrInvalidRule = errors.New("invalid rule")

// Panel edits rule collection and keeps active tab informed.
type Panel struct {
	store  rules.Store
	hub    *messaging.Hub
	sender *messaging.Sender
	delay  time.Duration
	log    *zap.Logger

	mu            sync.Mutex
	activeURL     string
	draft         rules.Rule
	pickerActive  bool
	previewTimer  *time.Timer
	previewCancel context.CancelFunc
}

func New(store rules.Store, hub *messaging.Hub, sender *messaging.Sender, previewDelay time.Duration, log *zap.Logger) *Panel {
	if log == nil {
		log = zap.NewNop()
	}
	return &Panel{
		store:  store,
		hub:    hub,
		sender: sender,
		delay:  previewDelay,
		log:    log.Named("panel"),
	}
}

// Attach makes panel runtime endpoint of the hub.
func (p *Panel) Attach() {
	p.hub.HandleRuntime(messaging.VisitorEndpoint(&runtimeHandler{p: p}))
}

// Detach stops pending preview and disconnects panel from the hub.
func (p *Panel) Detach() {
	p.hub.HandleRuntime(nil)
	p.mu.Lock()
	p.stopPreviewLocked()
	p.mu.Unlock()
}

func (p *Panel) ActiveURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeURL
}

func (p *Panel) SetActiveURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeURL = url
}

// ActivateTab switches panel to another tab and has it rendered.
func (p *Panel) ActivateTab(ctx context.Context, tab messaging.TabID, url string) error {
	p.hub.SetActiveTab(tab)
	p.SetActiveURL(url)
	return p.sender.SendToActiveTab(ctx, messaging.RenderRules{})
}

func (p *Panel) PickerActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pickerActive
}

// Draft returns rule being edited. Draft without id is a new rule.
func (p *Panel) Draft() rules.Rule {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.draft
}

func (p *Panel) SetDraft(r rules.Rule) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.draft = r
}

// Edit loads existing rule into draft.
func (p *Panel) Edit(ctx context.Context, id string) (rules.Rule, error) {
	list, err := p.store.List(ctx)
	if err != nil {
		return rules.Rule{}, p.storageError("list", err)
	}
	r, ok := rules.Find(list, id)
	if !ok {
		return rules.Rule{}, fmt.Errorf("unable to edit rule %s: %w", id, rules.ErrNotFound)
	}
	p.SetDraft(r)
	return r, nil
}

// ResetDraft starts new rule for the active page and clears preview.
func (p *Panel) ResetDraft(ctx context.Context) error {
	p.mu.Lock()
	p.stopPreviewLocked()
	p.draft = rules.Rule{URL: p.activeURL, Enabled: true}
	p.mu.Unlock()

	return p.sender.SendToActiveTab(ctx, messaging.RemoveRule{ID: previewRuleID})
}

// Partition splits rules into ones matching active page and the rest.
func (p *Panel) Partition(ctx context.Context) (current, other []rules.Rule, err error) {
	list, err := p.store.List(ctx)
	if err != nil {
		return nil, nil, p.storageError("list", err)
	}
	url := p.ActiveURL()
	for _, r := range list {
		if len(url) > 0 && match.Matches(r.URL, url) {
			current = append(current, r)
		} else {
			other = append(other, r)
		}
	}
	return current, other, nil
}

func (p *Panel) StartPicker(ctx context.Context) error {
	if err := p.sender.SendToActiveTab(ctx, messaging.StartPicker{}); err != nil {
		return err
	}
	p.mu.Lock()
	p.pickerActive = true
	p.mu.Unlock()
	return nil
}

func (p *Panel) StopPicker(ctx context.Context) error {
	p.mu.Lock()
	p.pickerActive = false
	p.mu.Unlock()
	return p.sender.SendToActiveTab(ctx, messaging.StopPicker{})
}

// Validate checks fields required for saving.
func Validate(r rules.Rule) error {
	var missing []string
	for _, f := range []struct{ name, val string }{
		{"name", r.Name},
		{"url", r.URL},
		{"selector", r.Selector},
	} {
		if len(strings.TrimSpace(f.val)) == 0 {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrInvalidRule, strings.Join(missing, ", "))
	}
	return nil
}

// SaveRule stores r. Rule without id is added with fresh id and creation
// time, existing one is updated. Active tab is re-rendered afterwards.
func (p *Panel) SaveRule(ctx context.Context, r rules.Rule) (rules.Rule, error) {
	if err := Validate(r); err != nil {
		return r, err
	}

	if len(r.ID) == 0 {
		fresh := rules.New(r.Name, r.URL, r.Selector, r.Style)
		if err := rules.Append(ctx, p.store, fresh); err != nil {
			return r, p.storageError("add", err)
		}
		r = fresh
	} else {
		err := p.store.Update(ctx, r.ID, rules.Patch{
			Name:     &r.Name,
			URL:      &r.URL,
			Selector: &r.Selector,
			Style:    &r.Style,
			Enabled:  &r.Enabled,
		})
		if err != nil {
			return r, p.storageError("update", err)
		}
	}
	p.log.Debug("Rule saved", zap.String("id", r.ID), zap.String("name", r.Name))
	return r, p.rerender(ctx)
}

func (p *Panel) UpdateRule(ctx context.Context, id string, patch rules.Patch) error {
	if err := p.store.Update(ctx, id, patch); err != nil {
		return p.storageError("update", err)
	}
	return p.rerender(ctx)
}

func (p *Panel) DeleteRule(ctx context.Context, id string) error {
	if err := rules.Delete(ctx, p.store, id); err != nil {
		return p.storageError("delete", err)
	}
	return p.rerender(ctx)
}

// Preview schedules draft with given style into preview slot of active tab.
// Calls within preview delay replace each other.
func (p *Panel) Preview(style string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.draft.Style = style
	p.stopPreviewLocked()
	if len(p.draft.Selector) == 0 {
		return
	}
	r := rules.Rule{ID: previewRuleID, Name: previewRuleID, Selector: p.draft.Selector, Style: style, Enabled: true}

	ctx, cancel := context.WithTimeout(context.Background(), p.delay+sendTimeout)
	p.previewCancel = cancel
	p.previewTimer = time.AfterFunc(p.delay, func() {
		defer cancel()
		if err := p.sender.SendToActiveTab(ctx, messaging.PreviewRule{Rule: r}); err != nil && !errors.Is(err, context.Canceled) {
			p.log.Warn("Unable to preview rule", zap.Error(err))
		}
	})
}

func (p *Panel) stopPreviewLocked() {
	if p.previewTimer != nil {
		p.previewTimer.Stop()
		p.previewTimer = nil
	}
	if p.previewCancel != nil {
		p.previewCancel()
		p.previewCancel = nil
	}
}

func (p *Panel) rerender(ctx context.Context) error {
	if err := p.sender.SendToActiveTab(ctx, messaging.RenderRules{}); err != nil {
		if errors.Is(err, messaging.ErrNoActiveTab) {
			return nil
		}
		return fmt.Errorf("unable to render rules: %w", err)
	}
	return nil
}

// storageError logs failed store operation, there is no retry.
func (p *Panel) storageError(op string, err error) error {
	p.log.Error("Rule store operation failed", zap.String("op", op), zap.Error(err))
	return err
}

type runtimeHandler struct {
	messaging.Unhandled
	p *Panel
}

func (h *runtimeHandler) HandleElementPicked(_ context.Context, m messaging.ElementPicked) error {
	p := h.p
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pickerActive = false
	p.draft.Selector = m.Selector
	if len(p.draft.URL) == 0 || !match.Matches(p.draft.URL, m.URL) {
		p.draft.URL = m.URL
	}
	p.log.Debug("Element picked", zap.String("selector", m.Selector), zap.String("url", m.URL))
	return nil
}

func (h *runtimeHandler) HandleRouteChange(_ context.Context, m messaging.RouteChange) error {
	h.p.SetActiveURL(m.URL)
	return nil
}
