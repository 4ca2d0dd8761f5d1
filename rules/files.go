package rules

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	yaml "gopkg.in/yaml.v3"
)

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// importedRule allows hand written rule files to omit generated fields.
type importedRule struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	Selector  string `yaml:"selector"`
	Style     string `yaml:"style"`
	Enabled   *bool  `yaml:"enabled"`
	CreatedAt string `yaml:"createdAt"`
}

type importFile struct {
	Rules  []importedRule `yaml:"rules"`
	Single importedRule   `yaml:",inline"`
}

func (ir importedRule) rule(now time.Time) Rule {
	r := Rule{
		ID:        ir.ID,
		Name:      ir.Name,
		URL:       ir.URL,
		Selector:  ir.Selector,
		Style:     ir.Style,
		Enabled:   ir.Enabled == nil || *ir.Enabled,
		CreatedAt: ir.CreatedAt,
	}
	if len(r.ID) == 0 {
		r.ID = uuid.NewString()
	}
	if len(r.CreatedAt) == 0 {
		r.CreatedAt = now.UTC().Format(time.RFC3339)
	}
	return r
}

// Export writes rules as single YAML document.
func Export(w io.Writer, list []Rule) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(ruleFile{Rules: list}); err != nil {
		return fmt.Errorf("unable to encode rules: %w", err)
	}
	return enc.Close()
}

// Import reads rules from YAML document. Document may either hold list of
// rules under "rules" key or a single rule. Missing ids and creation times
// are generated, missing "enabled" means enabled.
func Import(r io.Reader) ([]Rule, error) {
	var f importFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("unable to decode rules: %w", err)
	}

	now := time.Now()
	var list []Rule
	if len(f.Rules) > 0 {
		list = make([]Rule, 0, len(f.Rules))
		for _, ir := range f.Rules {
			list = append(list, ir.rule(now))
		}
	} else if len(f.Single.Name) > 0 || len(f.Single.Selector) > 0 {
		list = []Rule{f.Single.rule(now)}
	}
	if err := checkUnique(list); err != nil {
		return nil, err
	}
	return list, nil
}

// ImportFile is Import reading from named file.
func ImportFile(name string) ([]Rule, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("unable to open rule file: %w", err)
	}
	defer f.Close()

	list, err := Import(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return list, nil
}

// ExportSplit writes every rule to its own file in dir, file names are
// derived from rule names. It returns list of created files.
func ExportSplit(dir string, list []Rule, overwrite bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("unable to create export directory: %w", err)
	}

	used := make(map[string]struct{})
	files := make([]string, 0, len(list))
	for _, r := range list {
		base := slug.Make(r.Name)
		if len(base) == 0 {
			base = "rule"
		}
		name := base
		for i := 2; ; i++ {
			if _, ok := used[name]; !ok {
				break
			}
			name = base + "-" + strconv.Itoa(i)
		}
		used[name] = struct{}{}

		fname := filepath.Join(dir, name+".yaml")
		if err := writeRule(fname, r, overwrite); err != nil {
			return files, err
		}
		files = append(files, fname)
	}
	return files, nil
}

func writeRule(fname string, r Rule, overwrite bool) error {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(fname, flags, 0644)
	if err != nil {
		return fmt.Errorf("unable to create rule file: %w", err)
	}
	data, err := yaml.Marshal(r)
	if err == nil {
		_, err = f.Write(data)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("unable to write rule file %s: %w", fname, err)
	}
	return nil
}
