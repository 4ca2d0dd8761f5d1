package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const DefaultSettleDelay = 200 * time.Millisecond

// Injector brings agent into a tab which has no receiving endpoint.
type Injector interface {
	Inject(ctx context.Context, tab TabID) error
}

type InjectorFunc func(ctx context.Context, tab TabID) error

func (f InjectorFunc) Inject(ctx context.Context, tab TabID) error {
	return f(ctx, tab)
}

// Sender is panel side of the channel. Message to a tab without agent causes
// single injection followed by a retry after settle delay.
type Sender struct {
	hub    *Hub
	inj    Injector
	settle time.Duration
	log    *zap.Logger
}

func NewSender(hub *Hub, inj Injector, settle time.Duration, log *zap.Logger) *Sender {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sender{hub: hub, inj: inj, settle: settle, log: log.Named("sender")}
}

func (s *Sender) SendToTab(ctx context.Context, tab TabID, msg Message) error {
	err := s.hub.SendToTab(ctx, tab, msg)
	if err == nil || !errors.Is(err, ErrNoReceiver) {
		if err != nil {
			s.log.Error("Unable to send message", zap.Int("tab", int(tab)), zap.String("kind", string(msg.Kind())), zap.Error(err))
		}
		return err
	}
	if s.inj == nil {
		return err
	}

	s.log.Debug("Agent not found, injecting", zap.Int("tab", int(tab)))
	if err := s.inj.Inject(ctx, tab); err != nil {
		s.log.Error("Unable to inject agent", zap.Int("tab", int(tab)), zap.Error(err))
		return fmt.Errorf("script injection failed: %w", err)
	}

	if s.settle > 0 {
		t := time.NewTimer(s.settle)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	s.log.Debug("Agent injected, retrying", zap.Int("tab", int(tab)), zap.String("kind", string(msg.Kind())))
	return s.hub.SendToTab(ctx, tab, msg)
}

func (s *Sender) SendToActiveTab(ctx context.Context, msg Message) error {
	tab, ok := s.hub.ActiveTab()
	if !ok {
		return ErrNoActiveTab
	}
	return s.SendToTab(ctx, tab, msg)
}

// SendToRuntime has no recovery path, runtime is always present when panel
// is open.
func (s *Sender) SendToRuntime(ctx context.Context, msg Message) error {
	return s.hub.SendToRuntime(ctx, msg)
}
