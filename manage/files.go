package manage

import (
	"context"
	"errors"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"stylish/rules"
)

// Export writes rules to a file (STDOUT when absent) or, with --split, one
// file per rule into a directory.
func Export(ctx context.Context, cmd *cli.Command) error {
	store, log, err := openStore(ctx)
	if err != nil {
		return err
	}
	if cmd.Args().Len() > 1 {
		log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[1:]))
	}
	list, err := store.List(ctx)
	if err != nil {
		return err
	}

	if dir := cmd.String("split"); len(dir) > 0 {
		files, err := rules.ExportSplit(dir, list, cmd.Bool("overwrite"))
		if err != nil {
			return err
		}
		log.Info("Rules exported", zap.String("dir", dir), zap.Int("files", len(files)))
		return nil
	}

	fname := cmd.Args().First()
	if len(fname) == 0 {
		return rules.Export(output(cmd), list)
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !cmd.Bool("overwrite") {
		flags |= os.O_EXCL
	}
	out, err := os.OpenFile(fname, flags, 0644)
	if err != nil {
		return fmt.Errorf("unable to create destination file '%s': %w", fname, err)
	}
	if err := rules.Export(out, list); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	log.Info("Rules exported", zap.String("file", fname), zap.Int("rules", len(list)))
	return nil
}

// Import reads rule files and merges them into the store. Imported rule with
// id already present replaces stored one, --replace discards stored rules
// first.
func Import(ctx context.Context, cmd *cli.Command) error {
	store, log, err := openStore(ctx)
	if err != nil {
		return err
	}
	if cmd.Args().Len() == 0 {
		return errors.New("no rule files have been specified")
	}

	var imported []rules.Rule
	for _, fname := range cmd.Args().Slice() {
		list, err := rules.ImportFile(fname)
		if err != nil {
			return err
		}
		for _, r := range list {
			lint(log, r.Name, r.Style)
		}
		imported = append(imported, list...)
	}

	var current []rules.Rule
	if !cmd.Bool("replace") {
		if current, err = store.List(ctx); err != nil {
			return err
		}
	}
	merged, added, replaced := merge(current, imported)
	if err := store.Save(ctx, merged); err != nil {
		return err
	}
	log.Info("Rules imported", zap.Int("added", added), zap.Int("replaced", replaced), zap.Int("total", len(merged)))
	return nil
}

// merge keeps order of current rules, replacing ones with the same id in
// place, new rules are appended. Later duplicates in imported win.
func merge(current, imported []rules.Rule) (merged []rules.Rule, added, replaced int) {
	merged = append(merged, current...)
	pos := make(map[string]int, len(merged))
	for i, r := range merged {
		pos[r.ID] = i
	}
	for _, r := range imported {
		if i, ok := pos[r.ID]; ok {
			merged[i] = r
			if i < len(current) {
				replaced++
			}
			continue
		}
		pos[r.ID] = len(merged)
		merged = append(merged, r)
		added++
	}
	return merged, added, replaced
}
