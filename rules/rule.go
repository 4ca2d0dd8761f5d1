// Package rules defines style override rule and keeps rule collection.
package rules

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("rule not found")
	ErrDuplicateID = errors.New("duplicate rule id")
	ErrReservedID  = errors.New("reserved rule id")
)

// PreviewID is used by the rule being edited and never by a stored rule.
const PreviewID = "preview"

// Rule is a persisted URL pattern, selector and declaration block.
// ID and CreatedAt are set once when rule is created.
type Rule struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	URL       string `yaml:"url" json:"url"`
	Selector  string `yaml:"selector" json:"selector"`
	Style     string `yaml:"style" json:"style"`
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	CreatedAt string `yaml:"createdAt" json:"createdAt"`
}

// New makes enabled rule with fresh id and creation time.
func New(name, url, selector, style string) Rule {
	return Rule{
		ID:        uuid.NewString(),
		Name:      name,
		URL:       url,
		Selector:  selector,
		Style:     style,
		Enabled:   true,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// Patch is partial rule update, nil fields are left alone.
type Patch struct {
	Name     *string `yaml:"name,omitempty" json:"name,omitempty"`
	URL      *string `yaml:"url,omitempty" json:"url,omitempty"`
	Selector *string `yaml:"selector,omitempty" json:"selector,omitempty"`
	Style    *string `yaml:"style,omitempty" json:"style,omitempty"`
	Enabled  *bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

func (p Patch) Empty() bool {
	return p.Name == nil && p.URL == nil && p.Selector == nil && p.Style == nil && p.Enabled == nil
}

// Apply returns copy of r with patch applied.
func (r Rule) Apply(p Patch) Rule {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.URL != nil {
		r.URL = *p.URL
	}
	if p.Selector != nil {
		r.Selector = *p.Selector
	}
	if p.Style != nil {
		r.Style = *p.Style
	}
	if p.Enabled != nil {
		r.Enabled = *p.Enabled
	}
	return r
}

// Created parses creation time, zero time is returned for malformed values.
func (r Rule) Created() time.Time {
	t, err := time.Parse(time.RFC3339, r.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}
