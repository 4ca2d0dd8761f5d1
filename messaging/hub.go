package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrNoReceiver  = errors.New("could not establish connection. Receiving end does not exist")
	ErrNoActiveTab = errors.New("no active tab found")
)

// TabID identifies document context.
type TabID int

// Endpoint receives messages. Handle returns once message is processed, its
// result is the only response sender gets.
type Endpoint interface {
	Handle(ctx context.Context, msg Message) error
}

type EndpointFunc func(ctx context.Context, msg Message) error

func (f EndpointFunc) Handle(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// VisitorEndpoint adapts Visitor to Endpoint.
func VisitorEndpoint(v Visitor) Endpoint {
	return EndpointFunc(func(ctx context.Context, msg Message) error {
		return Dispatch(ctx, msg, v)
	})
}

type registration struct {
	id int
	ep Endpoint
}

// Hub is in-process transport connecting tab agents and the runtime side
// (panel).
type Hub struct {
	log *zap.Logger

	mu      sync.RWMutex
	tabs    map[TabID]registration
	nextReg int
	runtime Endpoint
	active  TabID
	focused bool
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{log: log.Named("hub"), tabs: make(map[TabID]registration)}
}

// Register attaches endpoint to tab replacing previous one. Returned function
// detaches it unless it was replaced since.
func (h *Hub) Register(tab TabID, ep Endpoint) func() {
	h.mu.Lock()
	id := h.nextReg
	h.nextReg++
	h.tabs[tab] = registration{id: id, ep: ep}
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if cur, ok := h.tabs[tab]; ok && cur.id == id {
			delete(h.tabs, tab)
		}
	}
}

func (h *Hub) Registered(tab TabID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.tabs[tab]
	return ok
}

func (h *Hub) Unregister(tab TabID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.tabs, tab)
}

// HandleRuntime sets runtime endpoint, nil removes it.
func (h *Hub) HandleRuntime(ep Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runtime = ep
}

func (h *Hub) SetActiveTab(tab TabID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active, h.focused = tab, true
}

func (h *Hub) ClearActiveTab() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.focused = false
}

func (h *Hub) ActiveTab() (TabID, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active, h.focused
}

// SendToTab delivers message to tab endpoint, ErrNoReceiver is returned when
// tab has none.
func (h *Hub) SendToTab(ctx context.Context, tab TabID, msg Message) error {
	h.mu.RLock()
	reg, ok := h.tabs[tab]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("tab %d: %w", tab, ErrNoReceiver)
	}
	h.log.Debug("Message to tab", zap.Int("tab", int(tab)), zap.String("kind", string(msg.Kind())))
	return deliver(ctx, reg.ep, msg)
}

func (h *Hub) SendToRuntime(ctx context.Context, msg Message) error {
	h.mu.RLock()
	ep := h.runtime
	h.mu.RUnlock()

	if ep == nil {
		return fmt.Errorf("runtime: %w", ErrNoReceiver)
	}
	h.log.Debug("Message to runtime", zap.String("kind", string(msg.Kind())))
	return deliver(ctx, ep, msg)
}

func deliver(ctx context.Context, ep Endpoint, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ep.Handle(ctx, msg)
}
