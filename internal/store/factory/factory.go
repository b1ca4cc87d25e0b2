package factory

import (
	"context"
	"fmt"
	"strings"

	"github.com/lodomo/EscapeWright/internal/config"
	"github.com/lodomo/EscapeWright/internal/store"
	pg "github.com/lodomo/EscapeWright/internal/store/postgres"
	rd "github.com/lodomo/EscapeWright/internal/store/redis"
	sq "github.com/lodomo/EscapeWright/internal/store/sqlite"
)

// Open selects a store implementation from cfg.
// With no driver set the DSN decides:
//   - "postgres://", "postgresql://" → Postgres via lib/pq
//   - "redis://"                     → Redis
//   - "sqlite://<path>" or a path    → SQLite
//   - empty                          → in-memory
func Open(ctx context.Context, cfg config.StoreConfig, roomID string) (store.Store, error) {
	password, err := cfg.Password()
	if err != nil {
		return nil, err
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = detect(cfg)
	}

	switch driver {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = strings.TrimPrefix(cfg.DSN, "sqlite://")
		}
		return sq.New(ctx, path, roomID)
	case "postgres", "pgx":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = pg.ConnString(password)
		}
		return pg.New(ctx, driver, dsn, roomID)
	case "redis":
		addr := cfg.Addr
		if addr == "" {
			addr = strings.TrimPrefix(cfg.DSN, "redis://")
		}
		if addr == "" {
			addr = "localhost:6379"
		}
		return rd.New(ctx, addr, password, 0)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func detect(cfg config.StoreConfig) string {
	d := strings.ToLower(strings.TrimSpace(cfg.DSN))
	switch {
	case strings.HasPrefix(d, "postgres://"), strings.HasPrefix(d, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(d, "redis://"), cfg.Addr != "":
		return "redis"
	case d != "", cfg.Path != "":
		return "sqlite"
	default:
		return "memory"
	}
}

// EventLog returns s as an event log when the backend keeps history.
func EventLog(s store.Store) (store.EventLog, bool) {
	el, ok := s.(store.EventLog)
	return el, ok
}
