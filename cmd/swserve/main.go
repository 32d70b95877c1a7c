// swserve loads a service worker script and answers HTTP requests by
// dispatching them to it as fetch events.
//
// Usage: swserve -script sw.js [-addr :8080] [-module]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	serviceworker "github.com/cryguy/serviceworker"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "swserve:", err)
		os.Exit(1)
	}
}

func run() error {
	script := flag.String("script", "", "path to the service worker script")
	addr := flag.String("addr", ":8080", "listen address")
	module := flag.Bool("module", false, "load the script as an ES module")
	flag.Parse()
	if *script == "" {
		return errors.New("-script is required")
	}

	cfg, err := serviceworker.ConfigFromEnv()
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	cfg.Registerer = reg
	log := cfg.Logger.WithField("component", "swserve")

	src, err := os.ReadFile(*script)
	if err != nil {
		return fmt.Errorf("reading script: %w", err)
	}
	kind := serviceworker.ScriptClassic
	if *module {
		kind = serviceworker.ScriptModule
	}

	w, err := serviceworker.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	if err := w.LoadScript(*script, string(src), kind); err != nil {
		return err
	}
	ctx := context.Background()
	for _, ev := range []string{"install", "activate"} {
		res, err := w.DispatchExtendable(ctx, ev)
		if err != nil {
			return fmt.Errorf("dispatching %s: %w", ev, err)
		}
		if len(res.Rejections) > 0 || res.TimedOut {
			return fmt.Errorf("%s failed: rejections=%v timed_out=%v", ev, res.Rejections, res.TimedOut)
		}
		log.WithField("event", ev).Info("lifecycle event completed")
	}

	srv := newServer(w, reg, log)
	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           srv.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", *addr).Info("server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
