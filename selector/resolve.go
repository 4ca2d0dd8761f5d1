// Package selector computes CSS selectors locating an element in its
// document.
//
// Selector is built bottom-up, one step per element starting with the target
// and walking up the ancestors until a step is unique on its own (element
// has an id, or it is body/head/html in optimized mode). Each step prefers id,
// then tag name, then tag name with classes, and falls back to :nth-child
// position when classes do not tell element apart from same tag siblings.
// Steps are joined with child combinator.
//
// Result identifies element at the time of computation only, positional
// steps do not survive sibling insertions or reordering.
package selector

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"stylish/dom"
)

// Resolver builds selectors. Zero value is non-optimized resolver, use New
// for defaults.
type Resolver struct {
	optimized bool
}

type Option func(*Resolver)

// WithOptimized controls whether bare "#id" and "body"/"head"/"html" steps
// are used. Enabled by default.
func WithOptimized(v bool) Option {
	return func(r *Resolver) {
		r.optimized = v
	}
}

func New(opts ...Option) *Resolver {
	r := &Resolver{optimized: true}
	for _, o := range opts {
		o(r)
	}
	return r
}

var defaultResolver = New()

// Resolve returns optimized selector for element n.
func Resolve(n *html.Node) string {
	return defaultResolver.Resolve(n)
}

type step struct {
	value      string
	sufficient bool
}

// Resolve returns selector for element n or empty string when n is not an
// element.
func (r *Resolver) Resolve(n *html.Node) string {
	if !dom.IsElement(n) {
		return ""
	}
	var steps []string
	for cur := n; cur != nil; cur = dom.ParentElement(cur) {
		s := r.step(cur, cur == n)
		steps = append(steps, s.value)
		if s.sufficient {
			break
		}
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return strings.Join(steps, " > ")
}

func (r *Resolver) step(n *html.Node, target bool) step {
	id := dom.ID(n)

	if r.optimized {
		if len(id) > 0 {
			return step{value: "#" + dom.EscapeIdent(id), sufficient: true}
		}
		switch n.Data {
		case "body", "head", "html":
			return step{value: n.Data, sufficient: true}
		}
	}

	name := strings.ToLower(n.Data)
	if name != n.Data {
		// type selectors are matched against parsed name as is, so camel case
		// foreign elements (svg foreignObject) are addressed by id or position
		if len(id) > 0 {
			return step{value: "#" + dom.EscapeIdent(id), sufficient: true}
		}
		return step{value: "*:nth-child(" + strconv.Itoa(position(n)) + ")"}
	}
	if len(id) > 0 {
		return step{value: name + "#" + dom.EscapeIdent(id), sufficient: true}
	}

	parent := dom.ParentElement(n)
	if parent == nil {
		return step{value: name, sufficient: true}
	}

	own := dom.ClassList(n)
	var (
		needsClasses  bool
		needsNthChild bool
		ownIndex      = -1
		elementIndex  = -1
	)
	for sib := parent.FirstChild; sib != nil && (ownIndex == -1 || !needsNthChild); sib = sib.NextSibling {
		if sib.Type != html.ElementNode {
			continue
		}
		elementIndex++
		if sib == n {
			ownIndex = elementIndex
			continue
		}
		if needsNthChild || strings.ToLower(sib.Data) != name {
			continue
		}

		needsClasses = true
		if len(own) == 0 {
			needsNthChild = true
			continue
		}
		// classes tell us apart unless this sibling has all of them
		remaining := make(map[string]struct{}, len(own))
		for _, c := range own {
			remaining[c] = struct{}{}
		}
		for _, c := range dom.ClassList(sib) {
			if _, ok := remaining[c]; !ok {
				continue
			}
			delete(remaining, c)
			if len(remaining) == 0 {
				needsNthChild = true
				break
			}
		}
	}

	var sb strings.Builder
	sb.WriteString(name)

	if target && name == "input" && len(id) == 0 {
		typ, _ := dom.Attr(n, "type")
		cls, _ := dom.Attr(n, "class")
		if len(typ) > 0 && len(cls) == 0 {
			sb.WriteString("[type=" + dom.EscapeIdent(typ) + "]")
		}
	}

	switch {
	case needsNthChild:
		sb.WriteString(":nth-child(" + strconv.Itoa(ownIndex+1) + ")")
	case needsClasses:
		for _, c := range own {
			sb.WriteString("." + dom.EscapeIdent(c))
		}
	}
	return step{value: sb.String()}
}

// position returns 1-based index of n among its element siblings.
func position(n *html.Node) int {
	k := 1
	for sib := n.PrevSibling; sib != nil; sib = sib.PrevSibling {
		if sib.Type == html.ElementNode {
			k++
		}
	}
	return k
}

// Describe returns short human readable element description used as picker
// label: tag name followed by id and classes.
func Describe(n *html.Node) string {
	if !dom.IsElement(n) {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(strings.ToLower(n.Data))
	if id := dom.ID(n); len(id) > 0 {
		sb.WriteString("#" + id)
	}
	if cls := dom.ClassList(n); len(cls) > 0 {
		sb.WriteString("." + strings.Join(cls, "."))
	}
	return sb.String()
}
