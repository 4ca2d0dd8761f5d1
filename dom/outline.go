package dom

import (
	"golang.org/x/net/html"

	"stylish/utils/debug"
)

// Outline renders element tree under n one element per line. Optional
// annotate adds text after element description.
func Outline(n *html.Node, annotate func(*html.Node) string) string {
	tw := debug.NewTreeWriter()
	outline(tw, n, 0, annotate)
	return tw.String()
}

func outline(tw *debug.TreeWriter, n *html.Node, depth int, annotate func(*html.Node) string) {
	if n.Type == html.ElementNode {
		var note string
		if annotate != nil {
			note = annotate(n)
		}
		tw.Element(depth, n.Data, ID(n), ClassList(n), note)
		depth++
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		outline(tw, c, depth, annotate)
	}
}
