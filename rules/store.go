package rules

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/maruel/natural"

	"stylish/match"
)

// Store is persistent rule collection. Implementations notify subscribers
// with complete collection after every successful write. No atomicity is
// provided across separate calls.
type Store interface {
	List(ctx context.Context) ([]Rule, error)
	Save(ctx context.Context, rules []Rule) error
	Update(ctx context.Context, id string, p Patch) error
	Subscribe(fn func([]Rule)) (cancel func())
}

// Append adds rule to the end of collection.
func Append(ctx context.Context, s Store, r Rule) error {
	list, err := s.List(ctx)
	if err != nil {
		return err
	}
	return s.Save(ctx, append(list, r))
}

// Delete removes rule from collection, ErrNotFound is returned when there is
// no such rule.
func Delete(ctx context.Context, s Store, id string) error {
	list, err := s.List(ctx)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(list, func(r Rule) bool { return r.ID == id })
	if idx < 0 {
		return fmt.Errorf("unable to delete rule %s: %w", id, ErrNotFound)
	}
	return s.Save(ctx, slices.Delete(list, idx, idx+1))
}

// Find returns rule with given id.
func Find(list []Rule, id string) (Rule, bool) {
	idx := slices.IndexFunc(list, func(r Rule) bool { return r.ID == id })
	if idx < 0 {
		return Rule{}, false
	}
	return list[idx], true
}

// Applicable returns rules which URL pattern matches url, order is preserved.
func Applicable(list []Rule, url string) []Rule {
	var res []Rule
	for _, r := range list {
		if match.Matches(r.URL, url) {
			res = append(res, r)
		}
	}
	return res
}

// SortByName orders rules by name the way humans expect ("rule 2" goes before
// "rule 10"), ties are broken by creation time.
func SortByName(list []Rule) {
	slices.SortStableFunc(list, func(a, b Rule) int {
		switch {
		case natural.Less(a.Name, b.Name):
			return -1
		case natural.Less(b.Name, a.Name):
			return 1
		}
		return strings.Compare(a.CreatedAt, b.CreatedAt)
	})
}

func checkUnique(list []Rule) error {
	seen := make(map[string]struct{}, len(list))
	for _, r := range list {
		if r.ID == PreviewID {
			return fmt.Errorf("rule %s: %w", r.ID, ErrReservedID)
		}
		if _, ok := seen[r.ID]; ok {
			return fmt.Errorf("rule %s: %w", r.ID, ErrDuplicateID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}
