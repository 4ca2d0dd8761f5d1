package rules

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func openMem(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sample() []Rule {
	return []Rule{
		{ID: "r1", Name: "one", URL: "*", Selector: "p", Style: "color:red;", Enabled: true, CreatedAt: "2024-01-01T00:00:00Z"},
		{ID: "r2", Name: "two", URL: "https://a.com/*", Selector: "#main", Style: "margin:0;", Enabled: false, CreatedAt: "2024-01-02T00:00:00Z"},
	}
}

func TestNew(t *testing.T) {
	r := New("name", "*", "p", "color:red;")
	if len(r.ID) == 0 || !r.Enabled {
		t.Errorf("New() = %+v, want id set and enabled", r)
	}
	if r.Created().IsZero() {
		t.Errorf("CreatedAt %q is not RFC 3339", r.CreatedAt)
	}
	if o := New("name", "*", "p", ""); o.ID == r.ID {
		t.Error("New() returned same id twice")
	}
}

func TestRule_Apply(t *testing.T) {
	r := sample()[0]
	name, off := "renamed", false
	got := r.Apply(Patch{Name: &name, Enabled: &off})
	if got.Name != "renamed" || got.Enabled {
		t.Errorf("Apply() = %+v", got)
	}
	if got.ID != r.ID || got.CreatedAt != r.CreatedAt || got.Style != r.Style {
		t.Errorf("Apply() changed untouched fields: %+v", got)
	}
	if r.Name != "one" {
		t.Error("Apply() modified receiver")
	}
	if !(Patch{}).Empty() || (Patch{Name: &name}).Empty() {
		t.Error("Patch.Empty() is wrong")
	}
}

func TestSQLiteStore_SaveList(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()

	list, err := s.List(ctx)
	if err != nil || len(list) != 0 {
		t.Fatalf("List() on empty store = %v, %v", list, err)
	}

	want := sample()
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("List() returned %d rules, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("rule %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	// order is kept and replaced as a whole
	reversed := []Rule{want[1], want[0]}
	if err := s.Save(ctx, reversed); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, _ = s.List(ctx)
	if got[0].ID != "r2" || got[1].ID != "r1" {
		t.Errorf("order not preserved: %s, %s", got[0].ID, got[1].ID)
	}
	if err := s.Save(ctx, want[:1]); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if got, _ = s.List(ctx); len(got) != 1 {
		t.Errorf("List() after shrinking = %d rules", len(got))
	}
}

func TestSQLiteStore_SaveDuplicate(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()

	if err := s.Save(ctx, sample()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	dup := append(sample(), sample()[0])
	if err := s.Save(ctx, dup); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Save() error = %v, want ErrDuplicateID", err)
	}
	if got, _ := s.List(ctx); len(got) != 2 {
		t.Errorf("failed Save() modified store: %d rules", len(got))
	}

	reserved := append(sample(), Rule{ID: PreviewID, Name: "x", URL: "*", Selector: "p", Enabled: true})
	if err := s.Save(ctx, reserved); !errors.Is(err, ErrReservedID) {
		t.Errorf("Save() error = %v, want ErrReservedID", err)
	}
}

func TestSQLiteStore_Update(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()
	if err := s.Save(ctx, sample()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	on, style := true, "margin:1px;"
	if err := s.Update(ctx, "r2", Patch{Enabled: &on, Style: &style}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	list, _ := s.List(ctx)
	r, ok := Find(list, "r2")
	if !ok || !r.Enabled || r.Style != style || r.Name != "two" || r.CreatedAt != "2024-01-02T00:00:00Z" {
		t.Errorf("updated rule = %+v", r)
	}

	if err := s.Update(ctx, "missing", Patch{Enabled: &on}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_Subscribe(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()

	var calls [][]Rule
	cancel := s.Subscribe(func(list []Rule) { calls = append(calls, list) })

	if err := s.Save(ctx, sample()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	off := false
	if err := s.Update(ctx, "r1", Patch{Enabled: &off}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := s.Update(ctx, "missing", Patch{Enabled: &off}); err == nil {
		t.Fatal("Update(missing) succeeded")
	}
	if len(calls) != 2 {
		t.Fatalf("subscriber called %d times, want 2", len(calls))
	}
	if calls[1][0].Enabled {
		t.Error("notification does not carry updated rule")
	}

	cancel()
	if err := s.Save(ctx, nil); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if len(calls) != 2 {
		t.Error("subscriber called after cancel")
	}
}

func TestSQLiteStore_Closed(t *testing.T) {
	s := openMem(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := s.List(context.Background()); err == nil {
		t.Error("List() on closed store succeeded")
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestSQLiteStore_Persistent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.db")
	ctx := context.Background()

	s, err := OpenSQLite(path, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	if err := s.Save(ctx, sample()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	s.Close()

	s, err = OpenSQLite(path, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer s.Close()
	if list, _ := s.List(ctx); len(list) != 2 {
		t.Errorf("reopened store has %d rules", len(list))
	}
}

func TestSQLiteStore_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.db")
	log := zaptest.NewLogger(t)

	watched, err := OpenSQLite(path, log)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer watched.Close()
	other, err := OpenSQLite(path, log)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer other.Close()

	changed := make(chan []Rule, 16)
	watched.Subscribe(func(list []Rule) {
		select {
		case changed <- list:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watched.Watch(ctx) }()

	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	// watcher may not be ready for the first writes
	n := 0
loop:
	for {
		select {
		case list := <-changed:
			if len(list) == 0 {
				t.Fatal("notification without rules")
			}
			break loop
		case <-tick.C:
			n++
			r := New("rule", "*", "p", "color:red;")
			if err := Append(context.Background(), other, r); err != nil {
				t.Fatalf("Append() error = %v", err)
			}
		case <-deadline:
			t.Fatalf("no change noticed after %d writes", n)
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch() error = %v", err)
	}
}

func TestWatch_InMemory(t *testing.T) {
	s := openMem(t)
	if err := s.Watch(context.Background()); err == nil {
		t.Error("Watch() on in-memory store succeeded")
	}
}

func TestAppendDelete(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()

	for _, r := range sample() {
		if err := Append(ctx, s, r); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := Append(ctx, s, sample()[0]); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Append(duplicate) error = %v", err)
	}
	if err := Delete(ctx, s, "r1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	list, _ := s.List(ctx)
	if len(list) != 1 || list[0].ID != "r2" {
		t.Errorf("List() after Delete() = %+v", list)
	}
	if err := Delete(ctx, s, "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete(missing) error = %v", err)
	}
}

func TestApplicable(t *testing.T) {
	list := sample()
	tests := []struct {
		url  string
		want []string
	}{
		{"https://a.com/page", []string{"r1", "r2"}},
		{"https://b.com/page", []string{"r1"}},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got := Applicable(list, tt.url)
			if len(got) != len(tt.want) {
				t.Fatalf("Applicable() = %d rules, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("rule %d = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestSortByName(t *testing.T) {
	list := []Rule{
		{ID: "a", Name: "rule 10"},
		{ID: "b", Name: "rule 2"},
		{ID: "c", Name: "Alpha"},
		{ID: "d", Name: "rule 2", CreatedAt: "2023-01-01T00:00:00Z"},
	}
	SortByName(list)
	var ids []string
	for _, r := range list {
		ids = append(ids, r.ID)
	}
	if got := strings.Join(ids, ""); got != "cbda" {
		t.Errorf("SortByName() order = %s, want cbda", got)
	}
}

func TestExportImport(t *testing.T) {
	var buf bytes.Buffer
	if err := Export(&buf, sample()); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if !strings.HasPrefix(buf.String(), "rules:\n") {
		t.Errorf("unexpected export:\n%s", buf.String())
	}
	got, err := Import(&buf)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	want := sample()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Import() = %+v", got)
	}
}

func TestImport(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		count   int
		enabled bool
		wantErr error
	}{
		{"single rule", "name: hide ads\nurl: '*'\nselector: .ad\nstyle: 'display:none;'\n", 1, true, nil},
		{"disabled", "rules:\n  - name: x\n    selector: p\n    enabled: false\n", 1, false, nil},
		{"empty", "", 0, false, nil},
		{"duplicates", "rules:\n  - id: a\n    name: x\n  - id: a\n    name: y\n", 0, false, ErrDuplicateID},
		{"reserved id", "rules:\n  - id: preview\n    name: x\n", 0, false, ErrReservedID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Import(strings.NewReader(tt.doc))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Import() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Import() error = %v", err)
			}
			if len(got) != tt.count {
				t.Fatalf("Import() = %d rules, want %d", len(got), tt.count)
			}
			if tt.count == 0 {
				return
			}
			if got[0].Enabled != tt.enabled {
				t.Errorf("Enabled = %v, want %v", got[0].Enabled, tt.enabled)
			}
			if len(got[0].ID) == 0 || got[0].Created().IsZero() {
				t.Errorf("generated fields missing: %+v", got[0])
			}
		})
	}
}

func TestExportSplit(t *testing.T) {
	dir := t.TempDir()
	list := []Rule{
		{ID: "1", Name: "Hide Ads!"},
		{ID: "2", Name: "hide ads"},
		{ID: "3", Name: ""},
	}
	files, err := ExportSplit(dir, list, false)
	if err != nil {
		t.Fatalf("ExportSplit() error = %v", err)
	}
	want := []string{"hide-ads.yaml", "hide-ads-2.yaml", "rule.yaml"}
	if len(files) != len(want) {
		t.Fatalf("ExportSplit() = %v", files)
	}
	for i, f := range files {
		if filepath.Base(f) != want[i] {
			t.Errorf("file %d = %s, want %s", i, filepath.Base(f), want[i])
		}
	}

	got, err := ImportFile(files[1])
	if err != nil {
		t.Fatalf("ImportFile() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "2" {
		t.Errorf("ImportFile() = %+v", got)
	}

	if _, err := ExportSplit(dir, list[:1], false); err == nil {
		t.Error("ExportSplit() overwrote existing file")
	}
	if _, err := ExportSplit(dir, list[:1], true); err != nil {
		t.Errorf("ExportSplit(overwrite) error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "rule.yaml")); err != nil {
		t.Errorf("rule.yaml missing: %v", err)
	}
}

func TestLint(t *testing.T) {
	tests := []struct {
		name  string
		style string
		warn  bool
	}{
		{"empty", "", false},
		{"valid", "color: red; margin: 0 auto;", false},
		{"custom property", "--accent: #f00; color: var(--accent);", false},
		{"missing colon", "color red", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Lint(tt.style)
			if (len(got) > 0) != tt.warn {
				t.Errorf("Lint(%q) = %v, want warnings %v", tt.style, got, tt.warn)
			}
		})
	}
}
