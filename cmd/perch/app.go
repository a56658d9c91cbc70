package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/perch-review/perch/internal/auth"
	"github.com/perch-review/perch/internal/cache"
	"github.com/perch-review/perch/internal/config"
	"github.com/perch-review/perch/internal/forge"
	"github.com/perch-review/perch/internal/kv"
	"github.com/perch-review/perch/internal/links"
	"github.com/perch-review/perch/internal/persist"
	"github.com/perch-review/perch/internal/syncer"
	"github.com/perch-review/perch/internal/workspace"
)

// app bundles the wired subsystems behind every command: config,
// durable cache, hydrated stores, workspace state, credential-selected
// forge, sync coordinator and link resolver.
type app struct {
	cfg    *config.Config
	db     *kv.DB
	saver  *persist.Persister
	stores syncer.Stores
	ws     *workspace.Manager
	forge  forge.Forge
	sync   *syncer.Coordinator
	links  *links.Resolver
	logger *log.Logger
}

// appLogger returns the subsystem logger for interactive commands:
// discard by default, stderr with --verbose.
func appLogger(prefix string) *log.Logger {
	if flagVerbose {
		return log.New(os.Stderr, prefix, log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}

// openApp wires the full stack. Hydration runs before the first read
// so commands start from the last persisted archive.
func openApp(ctx context.Context) (*app, error) {
	return openAppWithLogger(ctx, appLogger("[perch] "))
}

// loadConfigOnly resolves configuration without opening the cache, for
// commands that need paths before the stack comes up.
func loadConfigOnly() (*config.Config, error) {
	return config.Load(flagConfig)
}

// openAppWithLogger is openApp with the subsystem logger supplied by
// the caller; the daemon passes its rotating file logger.
func openAppWithLogger(ctx context.Context, logger *log.Logger) (*app, error) {
	return openAppWith(ctx, logger, nil)
}

// openAppWith additionally attaches a sync status callback. The
// dashboard passes a late-bound closure over its handler; everyone
// else passes nil.
func openAppWith(ctx context.Context, logger *log.Logger, onChange func(syncer.Status)) (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	fg, err := selectForge(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	db, err := kv.Open(cfg.CachePath())
	if err != nil {
		return nil, err
	}

	saver := persist.NewWithConfig(db, &persist.Config{
		Delay:  cfg.Sync.PersistDelay,
		Logger: logger,
	})

	stores := syncer.Stores{
		Pulls: cache.NewStore(cache.Config[cache.PullRequest]{
			Kind:    "pulls",
			List:    fg.ListPulls,
			Refresh: cache.RefreshPull,
			Apply:   cache.ApplyPull,
			Saver:   saver,
			Logger:  logger,
		}),
		Issues: cache.NewStore(cache.Config[cache.Issue]{
			Kind:    "issues",
			List:    fg.ListIssues,
			Refresh: cache.RefreshIssue,
			Apply:   cache.ApplyIssue,
			Saver:   saver,
			Logger:  logger,
		}),
		Labels: cache.NewStore(cache.Config[cache.Label]{
			Kind:    "labels",
			List:    fg.ListLabels,
			Refresh: cache.RefreshLabel,
			Apply:   cache.ApplyLabel,
			Saver:   saver,
			Logger:  logger,
		}),
	}
	for _, hydrate := range []func(context.Context) error{
		stores.Pulls.Hydrate, stores.Issues.Hydrate, stores.Labels.Hydrate,
	} {
		if err := hydrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	ws, err := workspace.Load(cfg.WorkspacePath())
	if err != nil {
		db.Close()
		return nil, err
	}

	coordinator, err := syncer.NewWithConfig(fg, stores, ws, db, &syncer.Config{
		MessageWindow: cfg.Sync.MessageWindow,
		TriggerWindow: 500 * time.Millisecond,
		Parallelism:   4,
		Logger:        logger,
		OnChange:      onChange,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &app{
		cfg:    cfg,
		db:     db,
		saver:  saver,
		stores: stores,
		ws:     ws,
		forge:  fg,
		sync:   coordinator,
		links:  links.NewResolver(stores.Pulls, stores.Issues, fg, logger),
		logger: logger,
	}, nil
}

// Close flushes pending snapshot writes and closes the cache database.
func (a *app) Close() {
	a.saver.Close()
	if err := a.db.Close(); err != nil {
		a.logger.Printf("failed to close cache database: %v", err)
	}
}

// selectForge resolves the credential and picks the forge behind it.
// No credential, the offline sentinel token, or --offline all select
// the fixture forge so every command still works without the network.
func selectForge(ctx context.Context, cfg *config.Config, logger *log.Logger) (forge.Forge, error) {
	if flagOffline {
		return loadFixture(cfg)
	}
	provider := auth.Cached(auth.Chain(
		auth.Static(cfg.Token),
		auth.FromEnv(),
		auth.FromFile(cfg.TokenFilePath()),
	))
	token, err := provider.Token(ctx)
	if errors.Is(err, auth.ErrNoCredential) {
		return loadFixture(cfg)
	}
	if err != nil {
		return nil, err
	}
	if auth.IsOffline(token) {
		return loadFixture(cfg)
	}
	return forge.NewClient(token, logger), nil
}

func loadFixture(cfg *config.Config) (forge.Forge, error) {
	if cfg.Fixture != "" {
		return forge.LoadStub(cfg.Fixture)
	}
	return forge.DefaultStub(), nil
}

// requireSelected returns the workspace's selected scope or an error
// telling the user how to pick one.
func (a *app) requireSelected() (cache.Scope, error) {
	scope := a.ws.Selected()
	if scope == "" {
		return "", fmt.Errorf("no repository selected; run 'perch open <owner/name>' first")
	}
	return scope, nil
}

// resolveKey turns command arguments into a composite key. One numeric
// argument means a record in the selected repository; "owner/name#n"
// or the pair "owner/name n" name the repository explicitly.
func (a *app) resolveKey(args []string) (cache.CompositeKey, error) {
	switch len(args) {
	case 1:
		if scope, number, ok := splitRef(args[0]); ok {
			return cache.Key(scope, number), nil
		}
		number, err := strconv.Atoi(args[0])
		if err != nil {
			return cache.CompositeKey{}, fmt.Errorf("invalid reference %q: expected a number or owner/name#number", args[0])
		}
		scope, err := a.requireSelected()
		if err != nil {
			return cache.CompositeKey{}, err
		}
		return cache.Key(scope, number), nil
	case 2:
		scope, err := cache.ParseScope(args[0])
		if err != nil {
			return cache.CompositeKey{}, err
		}
		number, err := strconv.Atoi(args[1])
		if err != nil {
			return cache.CompositeKey{}, fmt.Errorf("invalid number %q", args[1])
		}
		return cache.Key(scope, number), nil
	default:
		return cache.CompositeKey{}, fmt.Errorf("expected <number> or <owner/name> <number>")
	}
}

// resolveRef turns one argument into a composite key: a bare number
// in the selected repository, or "owner/name#number".
func (a *app) resolveRef(arg string) (cache.CompositeKey, error) {
	return a.resolveKey([]string{arg})
}

// splitRef parses "owner/name#number".
func splitRef(raw string) (cache.Scope, int, bool) {
	head, tail, ok := strings.Cut(raw, "#")
	if !ok {
		return "", 0, false
	}
	scope, err := cache.ParseScope(head)
	if err != nil {
		return "", 0, false
	}
	number, err := strconv.Atoi(tail)
	if err != nil || number <= 0 {
		return "", 0, false
	}
	return scope, number, true
}
