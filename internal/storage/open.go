package storage

import (
	"context"
	"fmt"
	"strings"

	"replaycap/internal/capture"
	"replaycap/pkg/logx"
)

// Store is the capture repository used by the scheduler, the CLI and the
// HTTP API.
type Store interface {
	Create(ctx context.Context, c *capture.Capture) error
	Get(ctx context.Context, id int64) (*capture.Capture, error)
	// ListByStatus returns at most limit captures in status, oldest id first.
	ListByStatus(ctx context.Context, status capture.Status, limit int) ([]*capture.Capture, error)
	// List returns the newest captures first.
	List(ctx context.Context, limit int) ([]*capture.Capture, error)
	// Update writes the set fields of f atomically for one capture.
	Update(ctx context.Context, id int64, f capture.Fields) error
	Close() error
}

func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql", "pq":
		return openPostgres(cfg, log)
	case "file":
		return openFile(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
