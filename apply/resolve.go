package apply

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"stylish/dom"
	"stylish/selector"
	"stylish/state"
)

// Resolve prints stable selector for every element matching query.
func Resolve(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("resolve")

	src := cmd.Args().Get(0)
	if len(src) == 0 {
		return errors.New("no input document has been specified")
	}
	query := cmd.Args().Get(1)
	if len(query) == 0 && !cmd.Bool("tree") {
		return errors.New("no query has been specified")
	}
	if cmd.Args().Len() > 2 {
		log.Warn("Mailformed command line, too many arguments", zap.Strings("ignoring", cmd.Args().Slice()[2:]))
	}

	forceCharset(cmd, env, log)

	file, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("unable to open document: %w", err)
	}
	defer file.Close()

	doc, err := parseDocument(file, env)
	if err != nil {
		return err
	}

	res := selector.New(selector.WithOptimized(!cmd.Bool("verbose")))
	out := cmd.Root().Writer
	if out == nil {
		out = os.Stdout
	}

	if cmd.Bool("tree") {
		_, err := io.WriteString(out, dom.Outline(doc.Root, res.Resolve))
		return err
	}
	return resolveQuery(out, doc, query, res, log)
}

func resolveQuery(w io.Writer, doc *dom.Document, query string, res *selector.Resolver, log *zap.Logger) error {
	nodes, err := doc.QuerySelectorAll(query)
	if err != nil {
		return fmt.Errorf("bad query %q: %w", query, err)
	}
	if len(nodes) == 0 {
		log.Warn("Nothing matches query", zap.String("query", query))
		return nil
	}
	for _, n := range nodes {
		sel := res.Resolve(n)
		if !unique(doc, sel, n) {
			// should not happen, but rules built on it would style wrong element
			log.Warn("Selector is ambiguous", zap.String("selector", sel))
		}
		if _, err := fmt.Fprintln(w, sel); err != nil {
			return err
		}
	}
	return nil
}

func unique(doc *dom.Document, sel string, n *html.Node) bool {
	found, err := doc.QuerySelectorAll(sel)
	return err == nil && len(found) == 1 && found[0] == n
}
