package manage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap/zaptest"

	"stylish/config"
	"stylish/panel"
	"stylish/rules"
	"stylish/state"
)

func setupTestEnv(t *testing.T) (context.Context, *state.LocalEnv) {
	cfg, err := config.LoadConfiguration("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Store.Path = filepath.Join(t.TempDir(), "rules.db")
	ctx := state.ContextWithEnv(context.Background())
	env := state.EnvFromContext(ctx)
	env.Log = zaptest.NewLogger(t)
	env.Cfg = cfg
	t.Cleanup(func() { env.CloseRules() })
	return ctx, env
}

func run(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	app := &cli.Command{
		Name:     "stylish",
		Writer:   &buf,
		Commands: []*cli.Command{Command(nil)},
	}
	err := app.Run(ctx, append([]string{"stylish", "rules"}, args...))
	return buf.String(), err
}

func stored(t *testing.T, ctx context.Context, env *state.LocalEnv) []rules.Rule {
	t.Helper()
	store, err := env.Rules()
	if err != nil {
		t.Fatalf("Rules() error = %v", err)
	}
	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	return list
}

func TestAddUpdateRemove(t *testing.T) {
	ctx, env := setupTestEnv(t)

	out, err := run(t, ctx, "add", "--name", "hide ads", "--url", "https://a.com/*", "--selector", ".ad", "--style", "display: none;")
	if err != nil {
		t.Fatalf("add error = %v", err)
	}
	id := strings.TrimSpace(out)
	list := stored(t, ctx, env)
	if len(list) != 1 || list[0].ID != id || !list[0].Enabled || list[0].Style != "display: none;" {
		t.Fatalf("after add = %+v, printed id %q", list, id)
	}

	// prefix is enough
	if _, err := run(t, ctx, "update", "--selector", "div.ad", id[:6]); err != nil {
		t.Fatalf("update error = %v", err)
	}
	if got := stored(t, ctx, env)[0]; got.Selector != "div.ad" || got.Name != "hide ads" {
		t.Errorf("after update = %+v", got)
	}

	if _, err := run(t, ctx, "update", "--name", "", id); !errors.Is(err, panel.ErrInvalidRule) {
		t.Errorf("update to empty name error = %v, want ErrInvalidRule", err)
	}
	if _, err := run(t, ctx, "update", id); err == nil {
		t.Error("update without changes succeeded")
	}

	if _, err := run(t, ctx, "disable", id); err != nil {
		t.Fatalf("disable error = %v", err)
	}
	if stored(t, ctx, env)[0].Enabled {
		t.Error("rule is still enabled")
	}
	if _, err := run(t, ctx, "enable", id); err != nil {
		t.Fatalf("enable error = %v", err)
	}
	if !stored(t, ctx, env)[0].Enabled {
		t.Error("rule is still disabled")
	}

	if _, err := run(t, ctx, "rm", id, "missing"); !errors.Is(err, rules.ErrNotFound) {
		t.Errorf("rm error = %v, want ErrNotFound for missing rule", err)
	}
	if list := stored(t, ctx, env); len(list) != 0 {
		t.Errorf("rule was not removed: %+v", list)
	}
}

func TestAdd_Invalid(t *testing.T) {
	ctx, env := setupTestEnv(t)

	_, err := run(t, ctx, "add", "--name", "x", "--style", "color: red;")
	if !errors.Is(err, panel.ErrInvalidRule) {
		t.Fatalf("add error = %v, want ErrInvalidRule", err)
	}
	if !strings.Contains(err.Error(), "url, selector required") {
		t.Errorf("error does not name missing fields: %v", err)
	}
	if list := stored(t, ctx, env); len(list) != 0 {
		t.Errorf("invalid rule was stored: %+v", list)
	}
}

func TestAdd_StyleFileDisabled(t *testing.T) {
	ctx, env := setupTestEnv(t)
	style := filepath.Join(t.TempDir(), "style.css")
	if err := os.WriteFile(style, []byte("color: red;\nmargin: 0;"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := run(t, ctx, "add", "--name", "x", "--url", "*", "--selector", "p", "--style-file", style, "--disabled"); err != nil {
		t.Fatalf("add error = %v", err)
	}
	list := stored(t, ctx, env)
	if len(list) != 1 || list[0].Enabled || list[0].Style != "color: red;\nmargin: 0;" {
		t.Errorf("stored = %+v", list)
	}
}

func TestList(t *testing.T) {
	ctx, env := setupTestEnv(t)
	store, err := env.Rules()
	if err != nil {
		t.Fatal(err)
	}
	list := []rules.Rule{
		rules.New("rule 10", "https://a.com/*", "p", ""),
		rules.New("rule 9", "https://b.com/*", "p", ""),
		rules.New("rule 1", "https://a.com/*", "p", ""),
	}
	list[2].Enabled = false
	if err := store.Save(ctx, list); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, ctx, "list")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("list output:\n%s", out)
	}
	for i, name := range []string{"rule 1", "rule 9", "rule 10"} {
		if !strings.Contains(lines[i+1], name+" ") {
			t.Errorf("line %d = %q, want %s", i+1, lines[i+1], name)
		}
	}
	if !strings.Contains(lines[1], "disabled") {
		t.Errorf("disabled state not shown: %q", lines[1])
	}

	out, err = run(t, ctx, "list", "--long", "--url", "https://a.com/x")
	if err != nil {
		t.Fatalf("list --url error = %v", err)
	}
	if strings.Contains(out, "rule 9") || !strings.Contains(out, list[0].ID) {
		t.Errorf("filtered list output:\n%s", out)
	}
}

func TestExportImport(t *testing.T) {
	ctx, env := setupTestEnv(t)
	store, err := env.Rules()
	if err != nil {
		t.Fatal(err)
	}
	a := rules.New("a", "*", "p", "color: red;")
	b := rules.New("b", "*", "div", "")
	if err := store.Save(ctx, []rules.Rule{a, b}); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	fname := filepath.Join(dir, "rules.yaml")
	if _, err := run(t, ctx, "export", fname); err != nil {
		t.Fatalf("export error = %v", err)
	}
	if _, err := run(t, ctx, "export", fname); err == nil {
		t.Error("export over existing file succeeded")
	}
	out, err := run(t, ctx, "export")
	if err != nil {
		t.Fatalf("export to stdout error = %v", err)
	}
	data, err := os.ReadFile(fname)
	if err != nil {
		t.Fatal(err)
	}
	if out != string(data) {
		t.Errorf("stdout export differs from file:\n%s\n---\n%s", out, data)
	}

	if _, err := run(t, ctx, "export", "--split", filepath.Join(dir, "split")); err != nil {
		t.Fatalf("export --split error = %v", err)
	}
	for _, n := range []string{"a.yaml", "b.yaml"} {
		if _, err := os.Stat(filepath.Join(dir, "split", n)); err != nil {
			t.Errorf("split file %s: %v", n, err)
		}
	}

	// hand written rule without id is added, exported ones replace themselves
	extra := filepath.Join(dir, "extra.yaml")
	if err := os.WriteFile(extra, []byte("name: c\nurl: '*'\nselector: span\nstyle: 'margin: 0;'\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, ctx, "import", fname, extra); err != nil {
		t.Fatalf("import error = %v", err)
	}
	list := stored(t, ctx, env)
	if len(list) != 3 || list[0].ID != a.ID || list[1].ID != b.ID || list[2].Name != "c" {
		t.Errorf("after import = %+v", list)
	}

	if _, err := run(t, ctx, "import", "--replace", extra); err != nil {
		t.Fatalf("import --replace error = %v", err)
	}
	if list := stored(t, ctx, env); len(list) != 1 || list[0].Name != "c" {
		t.Errorf("after import --replace = %+v", list)
	}
}

func TestMerge(t *testing.T) {
	a, b, c := rules.New("a", "*", "p", ""), rules.New("b", "*", "p", ""), rules.New("c", "*", "p", "")
	a2 := a
	a2.Name = "a2"

	merged, added, replaced := merge([]rules.Rule{a, b}, []rules.Rule{c, a2})
	if added != 1 || replaced != 1 {
		t.Errorf("added, replaced = %d, %d", added, replaced)
	}
	var names []string
	for _, r := range merged {
		names = append(names, r.Name)
	}
	if got := strings.Join(names, ","); got != "a2,b,c" {
		t.Errorf("merged = %s", got)
	}
}

func TestResolveID(t *testing.T) {
	list := []rules.Rule{{ID: "abc1"}, {ID: "abc2"}, {ID: "abd"}, {ID: "ab"}}
	tests := []struct {
		ref     string
		want    string
		wantErr bool
	}{
		{ref: "abd", want: "abd"},
		{ref: "abc1", want: "abc1"},
		{ref: "ab", want: "ab"},
		{ref: "abc", wantErr: true},
		{ref: "x", wantErr: true},
		{ref: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := resolveID(list, tt.ref)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolveID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("resolveID() = %q, want %q", got, tt.want)
			}
		})
	}
}
