// Package messaging carries commands between the panel and page agents.
package messaging

import (
	"context"
	"errors"
	"fmt"

	"stylish/rules"
)

type Kind string

const (
	KindStartPicker   Kind = "START_PICKER"
	KindStopPicker    Kind = "STOP_PICKER"
	KindElementPicked Kind = "ELEMENT_PICKED"
	KindPreviewRule   Kind = "PREVIEW_RULE"
	KindRemoveRule    Kind = "REMOVE_RULE"
	KindRenderRules   Kind = "RENDER_RULES"
	KindRouteChange   Kind = "ROUTE_CHANGE"
)

var ErrUnexpectedMessage = errors.New("unexpected message")

// Message is one of the concrete message types of this package.
type Message interface {
	Kind() Kind
	accept(ctx context.Context, v Visitor) error
}

type (
	StartPicker struct{}
	StopPicker  struct{}

	ElementPicked struct {
		Selector string
		URL      string
	}

	PreviewRule struct {
		Rule rules.Rule
	}

	// RemoveRule removes style element of the rule, id "preview" clears
	// preview slot.
	RemoveRule struct {
		ID string
	}

	RenderRules struct{}

	RouteChange struct {
		URL string
	}
)

// Visitor handles every message kind. Adding a kind breaks all visitors at
// compile time.
type Visitor interface {
	HandleStartPicker(ctx context.Context, m StartPicker) error
	HandleStopPicker(ctx context.Context, m StopPicker) error
	HandleElementPicked(ctx context.Context, m ElementPicked) error
	HandlePreviewRule(ctx context.Context, m PreviewRule) error
	HandleRemoveRule(ctx context.Context, m RemoveRule) error
	HandleRenderRules(ctx context.Context, m RenderRules) error
	HandleRouteChange(ctx context.Context, m RouteChange) error
}

// Dispatch calls visitor method matching msg.
func Dispatch(ctx context.Context, msg Message, v Visitor) error {
	if msg == nil {
		return fmt.Errorf("nil message: %w", ErrUnexpectedMessage)
	}
	return msg.accept(ctx, v)
}

func (StartPicker) Kind() Kind   { return KindStartPicker }
func (StopPicker) Kind() Kind    { return KindStopPicker }
func (ElementPicked) Kind() Kind { return KindElementPicked }
func (PreviewRule) Kind() Kind   { return KindPreviewRule }
func (RemoveRule) Kind() Kind    { return KindRemoveRule }
func (RenderRules) Kind() Kind   { return KindRenderRules }
func (RouteChange) Kind() Kind   { return KindRouteChange }

func (m StartPicker) accept(ctx context.Context, v Visitor) error {
	return v.HandleStartPicker(ctx, m)
}

func (m StopPicker) accept(ctx context.Context, v Visitor) error {
	return v.HandleStopPicker(ctx, m)
}

func (m ElementPicked) accept(ctx context.Context, v Visitor) error {
	return v.HandleElementPicked(ctx, m)
}

func (m PreviewRule) accept(ctx context.Context, v Visitor) error {
	return v.HandlePreviewRule(ctx, m)
}

func (m RemoveRule) accept(ctx context.Context, v Visitor) error {
	return v.HandleRemoveRule(ctx, m)
}

func (m RenderRules) accept(ctx context.Context, v Visitor) error {
	return v.HandleRenderRules(ctx, m)
}

func (m RouteChange) accept(ctx context.Context, v Visitor) error {
	return v.HandleRouteChange(ctx, m)
}

// Unhandled rejects every message, embed it to handle only some kinds.
type Unhandled struct{}

func unexpected(k Kind) error {
	return fmt.Errorf("%s: %w", k, ErrUnexpectedMessage)
}

func (Unhandled) HandleStartPicker(context.Context, StartPicker) error {
	return unexpected(KindStartPicker)
}

func (Unhandled) HandleStopPicker(context.Context, StopPicker) error {
	return unexpected(KindStopPicker)
}

func (Unhandled) HandleElementPicked(context.Context, ElementPicked) error {
	return unexpected(KindElementPicked)
}

func (Unhandled) HandlePreviewRule(context.Context, PreviewRule) error {
	return unexpected(KindPreviewRule)
}

func (Unhandled) HandleRemoveRule(context.Context, RemoveRule) error {
	return unexpected(KindRemoveRule)
}

func (Unhandled) HandleRenderRules(context.Context, RenderRules) error {
	return unexpected(KindRenderRules)
}

func (Unhandled) HandleRouteChange(context.Context, RouteChange) error {
	return unexpected(KindRouteChange)
}
