// Package store opens the configured core.EventStore implementation.
package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/cdmtriage/internal/config"
	"github.com/JonMunkholm/cdmtriage/internal/core"
	"github.com/JonMunkholm/cdmtriage/internal/store/memstore"
	"github.com/JonMunkholm/cdmtriage/internal/store/pgstore"
	"github.com/JonMunkholm/cdmtriage/internal/store/sqlitestore"
)

// Store is an EventStore that owns resources to release on shutdown.
type Store interface {
	core.EventStore
	io.Closer
}

type nopCloser struct{ core.EventStore }

func (nopCloser) Close() error { return nil }

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	driver := strings.ToLower(cfg.Driver)
	switch driver {
	case config.DriverMemory:
		slog.Info("event store opened", "driver", driver)
		return nopCloser{memstore.New()}, nil

	case config.DriverSQLite:
		s, err := sqlitestore.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		slog.Info("event store opened", "driver", driver, "path", cfg.SQLitePath)
		return s, nil

	case config.DriverPostgres:
		s, err := pgstore.New(ctx, cfg.URL, pgstore.Options{
			MaxConns:        int32(cfg.MaxConns),
			MinConns:        int32(cfg.MinConns),
			MaxConnLifetime: cfg.MaxConnLifetime,
			MaxConnIdleTime: cfg.MaxConnIdleTime,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		slog.Info("event store opened", "driver", driver,
			"max_conns", cfg.MaxConns,
			"min_conns", cfg.MinConns,
		)
		return s, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
