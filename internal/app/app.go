// Package app wires a session: cache, store, transport client, realtime
// consumer, event bus, engine, refresh runner and the local HTTP surface.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"inboxsync/pkg/api"
	"inboxsync/pkg/bus"
	"inboxsync/pkg/config"
	"inboxsync/pkg/logger"
	"inboxsync/pkg/realtime"
	"inboxsync/pkg/refresh"
	"inboxsync/pkg/send"
	"inboxsync/pkg/shutdown"
	"inboxsync/pkg/state"
	"inboxsync/pkg/store"
	"inboxsync/pkg/transport"
	"inboxsync/pkg/validation"
)

// App owns every session component and its lifecycle.
type App struct {
	eff     config.EffectiveConfigResult
	version string

	engine    *Engine
	refresher *refresh.Runner
	hooks     *shutdown.Hooks
	srv       *http.Server
}

// New constructs the whole session from the effective config. Nothing
// network-facing starts here; Run does that.
func New(eff config.EffectiveConfigResult, version string) (*App, error) {
	cfg := eff.Config
	if cfg.Platform.BaseURL == "" {
		return nil, fmt.Errorf("platform base_url is required")
	}
	if cfg.Platform.Token == "" {
		return nil, fmt.Errorf("platform token is required (INBOXSYNC_PLATFORM_TOKEN)")
	}

	hooks := &shutdown.Hooks{}

	var cache *store.Cache
	if cfg.Cache.Path != "" {
		if err := state.EnsureCacheDir(cfg.Cache.Path); err != nil {
			// advisory cache: a broken dir must not block the session
			logger.Warn("cache_dir_unusable", "path", cfg.Cache.Path, "error", err)
		} else {
			var err error
			cache, err = store.OpenCache(cfg.Cache.Path, cfg.Cache.MessageTail)
			if err != nil {
				logger.Warn("cache_open_failed", "path", cfg.Cache.Path, "error", err)
				cache = nil
			}
		}
	}
	st := store.New(cache)
	st.LoadFromCache()

	client := transport.New(transport.Options{
		BaseURL:   cfg.Platform.BaseURL,
		MediaPath: cfg.Platform.MediaPath,
		Token:     cfg.Platform.Token,
		Timeout:   cfg.RequestTimeout(),
		RPS:       cfg.Transport.RPS,
		Burst:     cfg.Transport.Burst,
	})

	eventsPath := cfg.Platform.EventsPath
	if eventsPath == "" {
		eventsPath = "/events"
	}
	consumer := realtime.NewConsumer(strings.TrimRight(cfg.Platform.BaseURL, "/")+eventsPath, cfg.Platform.Token)
	b := bus.New(consumer)
	consumer.OnEvent = b.Enqueue
	consumer.OnResync = b.NotifyResync

	maxBytes, err := cfg.MaxAttachmentBytes()
	if err != nil {
		return nil, err
	}
	rules := validation.Rules{
		MaxAttachmentBytes: maxBytes,
		AllowedTypes:       cfg.Send.AllowedTypes,
		MaxTextLen:         4096,
		MaxTags:            32,
	}

	notify := func(convID string, part send.Part) {
		logger.Warn("send_failed_notice", "conv", convID, "temp", part.TempID, "error", part.Error)
	}
	engine := NewEngine(st, client, b, rules, cfg.WindowDuration(), notify)

	runner, err := refresh.New(cfg.Refresh.Cron, engine.RefreshAll)
	if err != nil {
		return nil, err
	}
	engine.onResync = func() { go runner.Trigger(context.Background(), "resync") }

	hooks.Register("engine", engine.Close)

	a := &App{eff: eff, version: version, engine: engine, refresher: runner, hooks: hooks}
	return a, nil
}

// Engine exposes the session engine (tests, embedding).
func (a *App) Engine() *Engine { return a.engine }

// Run starts the realtime-backed sync, the refresh scheduler and the local
// HTTP surface, then blocks until ctx cancels. Teardown is ordered:
// HTTP first, then scheduler, then engine (which stops the push channel and
// flushes the snapshot cache).
func (a *App) Run(ctx context.Context) error {
	// the engine's subscriptions registered at construction already count
	// as bus subscribers, so the push channel connects here, lazily, on
	// the first Run - not at construction
	cancelRefresh := func() {}
	if a.eff.Config.Refresh.Enabled {
		cancelRefresh = a.refresher.Start(ctx)
	}
	a.hooks.Register("refresh_scheduler", cancelRefresh)

	// initial reconciliation fetch; cache-seeded state renders meanwhile
	go a.refresher.Trigger(ctx, "startup")

	handler := api.Handler(a.engine, api.Options{
		Refresh: func(ctx context.Context) { a.refresher.Trigger(ctx, "manual") },
	})
	a.srv = &http.Server{
		Addr:         a.eff.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http_listening", "addr", a.eff.Addr)
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.hooks.Run()
		return err
	case <-ctx.Done():
	}

	shctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(shctx); err != nil {
		logger.Warn("http_shutdown_error", "error", err)
	}
	a.hooks.Run()
	return nil
}
