// Package render keeps document head in sync with applicable style rules.
//
// Every rule owns one style element with id "stylish-rule-" followed by rule
// id. Elements in this namespace are managed exclusively by the renderer,
// "stylish-rule-preview" is reserved for the rule being edited.
package render

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"stylish/dom"
	"stylish/rules"
)

const (
	StyleIDPrefix = "stylish-rule-"
	PreviewID     = StyleIDPrefix + rules.PreviewID
)

// StyleID returns id of style element holding rule with given id.
func StyleID(ruleID string) string {
	return StyleIDPrefix + ruleID
}

// FormatRule produces style element text. Disabled rule keeps its block with
// empty body so it still overrides same selector rules of lower priority.
func FormatRule(r rules.Rule) string {
	body := ""
	if r.Enabled {
		body = r.Style
	}
	return fmt.Sprintf("/* %s */\n%s {\n%s\n}", r.Name, r.Selector, body)
}

// Result reports what RenderAll did.
type Result struct {
	Applicable int
	Upserted   int
	Removed    int
}

func (r Result) Changed() bool {
	return r.Upserted > 0 || r.Removed > 0
}

// Renderer mutates single document and must only be used from goroutine
// owning that document.
type Renderer struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Renderer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Renderer{log: log.Named("render")}
}

// RenderAll upserts style elements for rules matching url and removes
// namespace elements of rules which do not match any more. Preview element
// is left alone. Repeated calls with the same input do not change document.
func (r *Renderer) RenderAll(doc *dom.Document, list []rules.Rule, url string) Result {
	var res Result

	keep := map[string]struct{}{PreviewID: {}}
	for _, rule := range rules.Applicable(list, url) {
		if rule.ID == rules.PreviewID {
			r.log.Warn("Rule with reserved id ignored", zap.String("name", rule.Name))
			continue
		}
		id := StyleID(rule.ID)
		keep[id] = struct{}{}
		res.Applicable++
		if upsert(doc, id, FormatRule(rule)) {
			res.Upserted++
		}
	}

	for _, n := range namespaceElements(doc) {
		if _, ok := keep[dom.ID(n)]; ok {
			continue
		}
		dom.Remove(n)
		res.Removed++
	}

	if res.Changed() {
		r.log.Debug("Rules rendered",
			zap.String("url", url),
			zap.Int("applicable", res.Applicable),
			zap.Int("upserted", res.Upserted),
			zap.Int("removed", res.Removed))
	}
	return res
}

// RenderOne unconditionally upserts style element for rule.
func (r *Renderer) RenderOne(doc *dom.Document, rule rules.Rule) {
	upsert(doc, StyleID(rule.ID), FormatRule(rule))
}

// Preview places rule into preview slot regardless of its id and url.
func (r *Renderer) Preview(doc *dom.Document, rule rules.Rule) {
	upsert(doc, PreviewID, FormatRule(rule))
}

// RemoveOne deletes style element of rule, returns false when there is none.
func (r *Renderer) RemoveOne(doc *dom.Document, ruleID string) bool {
	n := doc.ElementByID(StyleID(ruleID))
	if n == nil {
		return false
	}
	dom.Remove(n)
	r.log.Debug("Rule removed", zap.String("id", ruleID))
	return true
}

// Styles returns text of namespace style elements keyed by element id.
func Styles(doc *dom.Document) map[string]string {
	res := make(map[string]string)
	for _, n := range namespaceElements(doc) {
		res[dom.ID(n)] = dom.Text(n)
	}
	return res
}

// upsert reports whether document was modified.
func upsert(doc *dom.Document, id, text string) bool {
	if n := doc.ElementByID(id); n != nil {
		if dom.Text(n) == text {
			return false
		}
		dom.SetText(n, text)
		return true
	}
	n := dom.CreateElement("style")
	dom.SetAttr(n, "id", id)
	dom.SetText(n, text)
	doc.Head().AppendChild(n)
	return true
}

func namespaceElements(doc *dom.Document) []*html.Node {
	var res []*html.Node
	dom.Walk(doc.Root, func(n *html.Node) bool {
		if dom.IsElement(n) && strings.HasPrefix(dom.ID(n), StyleIDPrefix) {
			res = append(res, n)
		}
		return true
	})
	return res
}
