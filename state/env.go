// Package state defines shared program state.
package state

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"

	"stylish/config"
	"stylish/rules"
)

type envKey struct{}

// LocalEnv keeps everything program needs in a single place.
type LocalEnv struct {
	Cfg *config.Config
	Rpt *config.Report
	Log *zap.Logger

	// used by apply subcommand
	Overwrite bool
	CodePage  encoding.Encoding
	BaseURL   string

	store         *rules.SQLiteStore
	start         time.Time
	restoreStdLog func()
}

func EnvFromContext(ctx context.Context) *LocalEnv {
	if env, ok := ctx.Value(envKey{}).(*LocalEnv); ok {
		return env
	}
	// this should never happen
	panic("localenv not found in context")
}

func ContextWithEnv(ctx context.Context) context.Context {
	return context.WithValue(ctx, envKey{}, &LocalEnv{start: time.Now()})
}

func (e *LocalEnv) Uptime() time.Duration {
	return time.Since(e.start)
}

// Rules opens configured rule store on first use. Store stays open until
// CloseRules is called.
func (e *LocalEnv) Rules() (*rules.SQLiteStore, error) {
	if e.store != nil {
		return e.store, nil
	}
	if e.Cfg == nil {
		return nil, fmt.Errorf("configuration is not loaded")
	}
	log := e.Log
	if log == nil {
		log = zap.NewNop()
	}
	st, err := rules.OpenSQLite(e.Cfg.Store.Path, log)
	if err != nil {
		return nil, fmt.Errorf("unable to open rule store: %w", err)
	}
	e.store = st
	return st, nil
}

// RulesOpen reports if rule store was used during this run.
func (e *LocalEnv) RulesOpen() bool {
	return e.store != nil
}

func (e *LocalEnv) CloseRules() error {
	if e.store == nil {
		return nil
	}
	err := e.store.Close()
	e.store = nil
	return err
}

func (e *LocalEnv) RedirectStdLog() {
	if e.Log == nil {
		return
	}
	e.restoreStdLog = zap.RedirectStdLog(e.Log)
}

func (e *LocalEnv) RestoreStdLog() {
	if e.Log != nil {
		_ = e.Log.Sync()
	}
	if e.restoreStdLog != nil {
		e.restoreStdLog()
	}
}
