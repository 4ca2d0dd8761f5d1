// Package manage implements "rules" subcommands editing the rule store from
// command line. Edits go through the same panel logic interactive editing
// uses.
package manage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"stylish/messaging"
	"stylish/panel"
	"stylish/rules"
	"stylish/state"
)

// newPanel returns panel without tabs, saving never has to re-render anything.
func newPanel(store rules.Store, log *zap.Logger) *panel.Panel {
	hub := messaging.NewHub(log)
	return panel.New(store, hub, messaging.NewSender(hub, nil, 0, log), 0, log)
}

func output(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func openStore(ctx context.Context) (*rules.SQLiteStore, *zap.Logger, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	env := state.EnvFromContext(ctx)
	store, err := env.Rules()
	if err != nil {
		return nil, nil, err
	}
	return store, env.Log.Named("rules"), nil
}

// List prints rules in natural name order, optionally only those applicable
// to --url.
func List(ctx context.Context, cmd *cli.Command) error {
	store, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	list, err := store.List(ctx)
	if err != nil {
		return err
	}
	if u := cmd.String("url"); len(u) > 0 {
		list = rules.Applicable(list, u)
	}
	rules.SortByName(list)
	return printRules(output(cmd), list, cmd.Bool("long"))
}

func printRules(w io.Writer, list []rules.Rule, long bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if long {
		fmt.Fprintln(tw, "ID\tNAME\tURL\tSELECTOR\tSTATE\tCREATED")
	} else {
		fmt.Fprintln(tw, "ID\tNAME\tURL\tSTATE")
	}
	for _, r := range list {
		st := "enabled"
		if !r.Enabled {
			st = "disabled"
		}
		if long {
			created := r.CreatedAt
			if t := r.Created(); !t.IsZero() {
				created = humanize.Time(t)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.URL, r.Selector, st, created)
		} else {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", shortID(r.ID), r.Name, r.URL, st)
		}
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// resolveID accepts full id or unambiguous prefix of one.
func resolveID(list []rules.Rule, ref string) (string, error) {
	if len(ref) == 0 {
		return "", errors.New("rule id is empty")
	}
	var found []string
	for _, r := range list {
		if r.ID == ref {
			return r.ID, nil
		}
		if strings.HasPrefix(r.ID, ref) {
			found = append(found, r.ID)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%s: %w", ref, rules.ErrNotFound)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("rule id prefix %q is ambiguous (%d rules)", ref, len(found))
	}
}

func styleFromFlags(cmd *cli.Command) (string, bool, error) {
	if fname := cmd.String("style-file"); len(fname) > 0 {
		data, err := os.ReadFile(fname)
		if err != nil {
			return "", false, fmt.Errorf("unable to read style: %w", err)
		}
		return string(data), true, nil
	}
	if cmd.IsSet("style") {
		return cmd.String("style"), true, nil
	}
	return "", false, nil
}

func lint(log *zap.Logger, name, style string) {
	for _, w := range rules.Lint(style) {
		log.Warn("Suspicious style", zap.String("rule", name), zap.String("problem", w))
	}
}

// Add creates new rule from flags.
func Add(ctx context.Context, cmd *cli.Command) error {
	store, log, err := openStore(ctx)
	if err != nil {
		return err
	}
	style, _, err := styleFromFlags(cmd)
	if err != nil {
		return err
	}
	draft := rules.Rule{
		Name:     cmd.String("name"),
		URL:      cmd.String("url"),
		Selector: cmd.String("selector"),
		Style:    style,
	}
	lint(log, draft.Name, draft.Style)

	r, err := newPanel(store, log).SaveRule(ctx, draft)
	if err != nil {
		return fmt.Errorf("unable to add rule: %w", err)
	}
	if cmd.Bool("disabled") {
		if err := store.Update(ctx, r.ID, rules.Patch{Enabled: ptr(false)}); err != nil {
			return err
		}
	}
	log.Info("Rule added", zap.String("id", r.ID), zap.String("name", r.Name))
	_, err = fmt.Fprintln(output(cmd), r.ID)
	return err
}

// Update changes fields given on command line.
func Update(ctx context.Context, cmd *cli.Command) error {
	store, log, err := openStore(ctx)
	if err != nil {
		return err
	}
	if cmd.Args().Len() != 1 {
		return errors.New("exactly one rule id has to be specified")
	}
	list, err := store.List(ctx)
	if err != nil {
		return err
	}
	id, err := resolveID(list, cmd.Args().First())
	if err != nil {
		return err
	}

	var patch rules.Patch
	for _, f := range []struct {
		flag string
		dst  **string
	}{
		{"name", &patch.Name},
		{"url", &patch.URL},
		{"selector", &patch.Selector},
	} {
		if cmd.IsSet(f.flag) {
			*f.dst = ptr(cmd.String(f.flag))
		}
	}
	style, ok, err := styleFromFlags(cmd)
	if err != nil {
		return err
	}
	if ok {
		patch.Style = &style
	}
	if patch.Empty() {
		return errors.New("nothing to update")
	}

	current, _ := rules.Find(list, id)
	if err := panel.Validate(current.Apply(patch)); err != nil {
		return err
	}
	if patch.Style != nil {
		lint(log, current.Name, *patch.Style)
	}
	if err := newPanel(store, log).UpdateRule(ctx, id, patch); err != nil {
		return fmt.Errorf("unable to update rule: %w", err)
	}
	log.Info("Rule updated", zap.String("id", id))
	return nil
}

// Enable returns action switching rules on or off.
func Enable(enabled bool) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		return eachRule(ctx, cmd, func(p *panel.Panel, id string) error {
			return p.UpdateRule(ctx, id, rules.Patch{Enabled: ptr(enabled)})
		})
	}
}

// Remove deletes rules.
func Remove(ctx context.Context, cmd *cli.Command) error {
	return eachRule(ctx, cmd, func(p *panel.Panel, id string) error {
		return p.DeleteRule(ctx, id)
	})
}

// eachRule applies fn to every rule listed in arguments. Failure on one rule
// does not stop processing of others.
func eachRule(ctx context.Context, cmd *cli.Command, fn func(*panel.Panel, string) error) (err error) {
	store, log, err := openStore(ctx)
	if err != nil {
		return err
	}
	if cmd.Args().Len() == 0 {
		return errors.New("no rule ids have been specified")
	}
	list, err := store.List(ctx)
	if err != nil {
		return err
	}
	p := newPanel(store, log)
	for _, ref := range cmd.Args().Slice() {
		id, er := resolveID(list, ref)
		if er == nil {
			er = fn(p, id)
		}
		if er != nil {
			err = multierr.Append(err, er)
			continue
		}
		log.Info("Rule processed", zap.String("command", cmd.Name), zap.String("id", id))
	}
	return err
}

func ptr[T any](v T) *T {
	return &v
}
