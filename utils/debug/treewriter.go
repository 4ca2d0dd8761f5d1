// Package debug has helpers producing human readable dumps for debug output
// and reports.
package debug

import (
	"fmt"
	"strconv"
	"strings"
)

const indent = "  "

// TreeWriter accumulates indented lines, one level per depth.
type TreeWriter struct {
	sb strings.Builder
}

func NewTreeWriter() *TreeWriter {
	return &TreeWriter{}
}

func (tw *TreeWriter) String() string {
	return tw.sb.String()
}

func (tw *TreeWriter) Line(depth int, format string, args ...any) {
	tw.sb.WriteString(strings.Repeat(indent, depth))
	fmt.Fprintf(&tw.sb, format, args...)
	tw.sb.WriteByte('\n')
}

// TextBlock writes "label: value" with value quoted so multi line text stays
// on a single line.
func (tw *TreeWriter) TextBlock(depth int, label, value string) {
	if value != "" {
		value = strconv.Quote(value)
	}
	tw.Line(depth, "%s: %s", label, value)
}

// Element writes element in selector-like notation: tag#id.class1.class2.
// Non empty note is appended as with TextBlock.
func (tw *TreeWriter) Element(depth int, tag, id string, classes []string, note string) {
	var sb strings.Builder
	sb.WriteString(tag)
	if id != "" {
		sb.WriteString("#" + id)
	}
	for _, c := range classes {
		sb.WriteString("." + c)
	}
	if note == "" {
		tw.Line(depth, "%s", sb.String())
		return
	}
	tw.TextBlock(depth, sb.String(), note)
}
