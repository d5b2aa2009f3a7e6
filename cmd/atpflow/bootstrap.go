package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/ATPFlow/internal/auth"
	"github.com/MikeSquared-Agency/ATPFlow/internal/blobstore"
	"github.com/MikeSquared-Agency/ATPFlow/internal/catalog"
	"github.com/MikeSquared-Agency/ATPFlow/internal/config"
	"github.com/MikeSquared-Agency/ATPFlow/internal/hermes"
	"github.com/MikeSquared-Agency/ATPFlow/internal/store"
	"github.com/MikeSquared-Agency/ATPFlow/internal/workflow"
)

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// openStore connects to the configured database. Postgres schemas are
// migrated only when migrate is set; SQLite always applies its schema.
func openStore(ctx context.Context, cfg *config.Config, migrate bool) (store.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pg, err := store.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, err
			}
		}
		return pg, nil
	case config.DriverSQLite:
		s, err := store.NewSQLiteStore(ctx, cfg.Database.Path)
		if errors.Is(err, store.ErrDatabaseLocked) {
			return nil, fmt.Errorf("%w; stop the running server or query it over HTTP", err)
		}
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
}

func parseSeverities(raw []string) ([]store.Severity, error) {
	out := make([]store.Severity, 0, len(raw))
	for _, r := range raw {
		sev, err := store.ParseSeverity(r)
		if err != nil {
			return nil, fmt.Errorf("workflow.blocking_severities: %w", err)
		}
		out = append(out, sev)
	}
	return out, nil
}

func newEngine(cfg *config.Config, s store.Store, h hermes.Client, logger *slog.Logger) (*workflow.Engine, error) {
	cat, err := catalog.FromConfig(cfg.Workflow)
	if err != nil {
		return nil, err
	}
	blocking, err := parseSeverities(cfg.Workflow.BlockingSeverities)
	if err != nil {
		return nil, err
	}
	return workflow.New(s, cat, h, logger, workflow.Options{BlockingSeverities: blocking}), nil
}

// newVerifier prefers the remote auth service and falls back to the static
// token table for local runs.
func newVerifier(cfg *config.Config) (auth.Verifier, error) {
	if cfg.Auth.URL != "" {
		return auth.NewHTTPVerifier(cfg.Auth.URL, cfg.Auth.Token), nil
	}
	if len(cfg.Auth.StaticTokens) == 0 {
		return nil, errors.New("no auth configured: set auth.url or auth.static_tokens")
	}
	return auth.NewStaticVerifier(cfg.Auth.StaticTokens)
}

func newBlobClient(cfg *config.Config) blobstore.Client {
	if cfg.Blobstore.URL == "" {
		return nil
	}
	return blobstore.NewHTTPClient(cfg.Blobstore.URL, cfg.Blobstore.Token)
}
