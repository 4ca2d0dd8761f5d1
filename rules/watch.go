package rules

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch observes database file and notifies subscribers when rules were
// changed by another process. It blocks until ctx is done.
func (s *SQLiteStore) Watch(ctx context.Context) error {
	if s.path == ":memory:" || s.path == "" {
		return errors.New("in-memory rule store cannot be watched")
	}

	name, err := filepath.Abs(s.path)
	if err != nil {
		return fmt.Errorf("unable to watch rule store: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("unable to watch rule store: %w", err)
	}
	defer watcher.Close()

	// watching directory survives file being replaced
	if err := watcher.Add(filepath.Dir(name)); err != nil {
		return fmt.Errorf("unable to watch rule store directory: %w", err)
	}

	s.mu.Lock()
	last, err := s.dataVersion()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("unable to read rule store version: %w", err)
	}

	relevant := map[string]struct{}{
		name:              {},
		name + "-journal": {},
		name + "-wal":     {},
	}

	s.log.Debug("Watching rule store", zap.String("path", name))
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if _, ok := relevant[filepath.Clean(evt.Name)]; !ok {
				continue
			}
			if !evt.Has(fsnotify.Create | fsnotify.Write | fsnotify.Rename | fsnotify.Remove) {
				continue
			}
			last = s.refresh(ctx, last)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("Rule store watcher error", zap.Error(err))
		}
	}
}

// refresh notifies subscribers if database was modified since version last.
func (s *SQLiteStore) refresh(ctx context.Context, last int64) int64 {
	s.mu.Lock()
	var (
		list []Rule
		cur  int64
	)
	err := s.ready(ctx)
	if err == nil {
		cur, err = s.dataVersion()
	}
	if err == nil && cur != last {
		list, err = s.list()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("Unable to refresh rules", zap.Error(err))
		return last
	}
	if cur == last {
		return last
	}
	s.log.Debug("Rules changed externally", zap.Int("count", len(list)))
	s.notify(list)
	return cur
}
