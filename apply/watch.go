package apply

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"stylish/agent"
	"stylish/config"
	"stylish/dom"
	"stylish/messaging"
	"stylish/page"
	"stylish/panel"
	"stylish/render"
	"stylish/rules"
	"stylish/state"
)

const shutdownTimeout = 5 * time.Second

// Watch keeps styled copy of the document up to date until interrupted.
func Watch(ctx context.Context, cmd *cli.Command) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("watch")

	src, dst := cmd.Args().Get(0), cmd.Args().Get(1)
	if len(src) == 0 || len(dst) == 0 {
		return errors.New("both document and destination must be specified")
	}
	if cmd.Args().Len() > 2 {
		log.Warn("Mailformed command line, too many arguments", zap.Strings("ignoring", cmd.Args().Slice()[2:]))
	}
	if src, err = filepath.Abs(src); err != nil {
		return err
	}
	if dst, err = filepath.Abs(dst); err != nil {
		return err
	}
	if src == dst {
		return errors.New("source and destination must differ")
	}
	if _, err := os.Stat(dst); err == nil && !cmd.Bool("overwrite") {
		return fmt.Errorf("output file already exists: %s", dst)
	}

	env.BaseURL = cmd.String("url")
	forceCharset(cmd, env, log)
	loc := documentURL(ctx, "", src)

	store, err := env.Rules()
	if err != nil {
		return err
	}

	file, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("unable to open document: %w", err)
	}
	doc, err := parseDocument(file, env)
	file.Close()
	if err != nil {
		return err
	}

	log.Info("Watching starting", zap.String("document", src), zap.String("destination", dst), zap.String("url", loc))
	defer func(start time.Time) {
		log.Info("Watching completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	return watch(ctx, doc, loc, dst, store, env.Cfg, log)
}

// watch opens the document as a tab and lets the panel bring it in sync, which
// injects an agent on first contact. Styled document is written to dst after
// every change of the rendered head.
func watch(ctx context.Context, doc *dom.Document, loc, dst string, store *rules.SQLiteStore, cfg *config.Config, log *zap.Logger) (err error) {
	p, err := page.New(doc, loc, log)
	if err != nil {
		return err
	}
	defer p.Close()

	hub := messaging.NewHub(log)
	browser := agent.NewBrowser(hub, store, agent.Options{
		PollInterval: cfg.Render.PollInterval,
		OnRender: func(w *page.Window, res render.Result) {
			if err := writeSnapshot(w, dst); err != nil {
				log.Error("Unable to write document", zap.String("file", dst), zap.Error(err))
				return
			}
			log.Info("Document updated", zap.String("file", dst), zap.Int("applicable", res.Applicable), zap.Int("removed", res.Removed))
		},
	}, log)
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = multierr.Append(err, browser.Close(cctx))
	}()

	sender := messaging.NewSender(hub, browser, cfg.Messaging.SettleDelay, log)
	pnl := panel.New(store, hub, sender, cfg.Panel.PreviewDelay, log)
	pnl.Attach()
	defer pnl.Detach()

	tab := browser.Open(p)
	if err := pnl.ActivateTab(ctx, tab, loc); err != nil {
		return fmt.Errorf("unable to style document: %w", err)
	}
	// head may have been already in sync
	if err := p.Do(ctx, func(w *page.Window) error { return writeSnapshot(w, dst) }); err != nil {
		return fmt.Errorf("unable to write document: %w", err)
	}

	return store.Watch(ctx)
}

// writeSnapshot runs on the page loop, document must not change while it is
// being serialized.
func writeSnapshot(w *page.Window, dst string) error {
	var buf bytes.Buffer
	if err := w.Doc.Render(&buf); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
