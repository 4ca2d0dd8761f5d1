package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"stylish/config"
	"stylish/rules"
	"stylish/state"
)

const shutdownTimeout = 5 * time.Second

// Run serves styled upstream until interrupted.
func Run(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("serve")

	cfg := env.Cfg.Proxy
	if v := cmd.String("listen"); len(v) > 0 {
		cfg.Listen = v
	}
	if v := cmd.String("upstream"); len(v) > 0 {
		cfg.Upstream = v
	}
	if cmd.Args().Len() > 0 {
		log.Warn("Mailformed command line, unexpected arguments", zap.Strings("ignoring", cmd.Args().Slice()))
	}

	store, err := env.Rules()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("unable to listen: %w", err)
	}
	log.Info("Serving starting", zap.String("listen", ln.Addr().String()), zap.String("upstream", cfg.Upstream))
	defer func(start time.Time) {
		log.Info("Serving completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	return Serve(ctx, ln, &cfg, store, log)
}

// Serve accepts connections on ln until ctx is done. Store changes made by
// other processes are picked up while serving.
func Serve(ctx context.Context, ln net.Listener, cfg *config.ProxyConfig, store *rules.SQLiteStore, log *zap.Logger) error {
	p, err := New(ctx, cfg, store, log)
	if err != nil {
		ln.Close()
		return err
	}
	defer p.Close()

	wctx, stopWatch := context.WithCancel(ctx)
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		if err := store.Watch(wctx); err != nil {
			log.Warn("Rule store changes will not be followed", zap.Error(err))
		}
	}()
	defer func() {
		stopWatch()
		<-watched
	}()

	srv := &http.Server{
		Handler:           p,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          zap.NewStdLog(log),
	}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	select {
	case err := <-served:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("unable to shutdown server: %w", err)
	}
	if err := <-served; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
