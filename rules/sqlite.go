package rules

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS rules (
	id         TEXT PRIMARY KEY,
	position   INTEGER NOT NULL,
	name       TEXT NOT NULL,
	url        TEXT NOT NULL,
	selector   TEXT NOT NULL,
	style      TEXT NOT NULL,
	enabled    INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
`

// SQLiteStore keeps rules in a single table of sqlite database. Connection is
// not safe for concurrent use so all access is serialized.
type SQLiteStore struct {
	path string
	log  *zap.Logger

	mu   sync.Mutex
	conn *sqlite.Conn

	subMu  sync.Mutex
	subs   map[int]func([]Rule)
	nextID int
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if necessary) rule database at path. Use
// ":memory:" for transient store.
func OpenSQLite(path string, log *zap.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	flags := []sqlite.OpenFlags{sqlite.OpenReadWrite, sqlite.OpenCreate}
	if path == ":memory:" {
		flags = append(flags, sqlite.OpenMemory)
	}
	conn, err := sqlite.OpenConn(path, flags...)
	if err != nil {
		return nil, fmt.Errorf("unable to open rule store (%s): %w", path, err)
	}
	// other processes may hold the lock for a short time
	conn.SetBusyTimeout(5 * time.Second)
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to prepare rule store schema (%s): %w", path, err)
	}
	return &SQLiteStore{
		path: path,
		log:  log.Named("store"),
		conn: conn,
		subs: make(map[int]func([]Rule)),
	}, nil
}

func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// List returns rules in stored order.
func (s *SQLiteStore) List(ctx context.Context) ([]Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	list, err := s.list()
	if err != nil {
		return nil, fmt.Errorf("unable to list rules: %w", err)
	}
	return list, nil
}

// Save replaces whole collection.
func (s *SQLiteStore) Save(ctx context.Context, list []Rule) error {
	if err := checkUnique(list); err != nil {
		return err
	}

	s.mu.Lock()
	err := s.ready(ctx)
	if err == nil {
		err = s.replace(list)
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("Unable to save rules", zap.Int("count", len(list)), zap.Error(err))
		return fmt.Errorf("unable to save rules: %w", err)
	}
	s.log.Debug("Rules saved", zap.Int("count", len(list)))
	s.notify(slices.Clone(list))
	return nil
}

// Update applies patch to a single rule.
func (s *SQLiteStore) Update(ctx context.Context, id string, p Patch) error {
	s.mu.Lock()
	var list []Rule
	err := s.ready(ctx)
	if err == nil {
		err = s.update(id, p)
	}
	if err == nil {
		list, err = s.list()
	}
	s.mu.Unlock()

	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Error("Unable to update rule", zap.String("id", id), zap.Error(err))
		}
		return fmt.Errorf("unable to update rule %s: %w", id, err)
	}
	s.log.Debug("Rule updated", zap.String("id", id))
	s.notify(list)
	return nil
}

// Subscribe registers fn to be called with full collection after changes.
// Callbacks are invoked synchronously from the writer goroutine.
func (s *SQLiteStore) Subscribe(fn func([]Rule)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *SQLiteStore) notify(list []Rule) {
	s.subMu.Lock()
	fns := make([]func([]Rule), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(list)
	}
}

func (s *SQLiteStore) ready(ctx context.Context) error {
	if s.conn == nil {
		return errors.New("rule store is closed")
	}
	return ctx.Err()
}

func (s *SQLiteStore) list() ([]Rule, error) {
	var list []Rule
	err := sqlitex.Execute(s.conn,
		`SELECT id, name, url, selector, style, enabled, created_at FROM rules ORDER BY position`,
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			list = append(list, Rule{
				ID:        stmt.ColumnText(0),
				Name:      stmt.ColumnText(1),
				URL:       stmt.ColumnText(2),
				Selector:  stmt.ColumnText(3),
				Style:     stmt.ColumnText(4),
				Enabled:   stmt.ColumnBool(5),
				CreatedAt: stmt.ColumnText(6),
			})
			return nil
		}})
	return list, err
}

func (s *SQLiteStore) replace(list []Rule) (err error) {
	defer sqlitex.Save(s.conn)(&err)

	if err = sqlitex.Execute(s.conn, `DELETE FROM rules`, nil); err != nil {
		return err
	}
	for i, r := range list {
		err = sqlitex.Execute(s.conn,
			`INSERT INTO rules (id, position, name, url, selector, style, enabled, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{r.ID, i, r.Name, r.URL, r.Selector, r.Style, r.Enabled, r.CreatedAt}})
		if err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) update(id string, p Patch) (err error) {
	defer sqlitex.Save(s.conn)(&err)

	var (
		cur   Rule
		found bool
	)
	err = sqlitex.Execute(s.conn,
		`SELECT name, url, selector, style, enabled FROM rules WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				cur = Rule{
					ID:       id,
					Name:     stmt.ColumnText(0),
					URL:      stmt.ColumnText(1),
					Selector: stmt.ColumnText(2),
					Style:    stmt.ColumnText(3),
					Enabled:  stmt.ColumnBool(4),
				}
				return nil
			},
		})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}

	r := cur.Apply(p)
	return sqlitex.Execute(s.conn,
		`UPDATE rules SET name = ?, url = ?, selector = ?, style = ?, enabled = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{r.Name, r.URL, r.Selector, r.Style, r.Enabled, id}})
}

// dataVersion changes only when other connections commit to the database.
func (s *SQLiteStore) dataVersion() (int64, error) {
	var v int64
	err := sqlitex.Execute(s.conn, `PRAGMA data_version`,
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			v = stmt.ColumnInt64(0)
			return nil
		}})
	return v, err
}
