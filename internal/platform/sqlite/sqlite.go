package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cmip-ref/ref-go/internal/platform/env"
)

const DriverName = "sqlite"

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

func ConfigFromEnv() (Config, error) {
	busy, err := env.Duration("SOLVER_SQLITE_BUSY_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Path:        env.String("SOLVER_SQLITE_PATH", "ref.db"),
		BusyTimeout: busy,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return errors.New("SOLVER_SQLITE_PATH is required")
	}
	if c.BusyTimeout < 0 {
		return errors.New("SOLVER_SQLITE_BUSY_TIMEOUT must be >= 0")
	}
	return nil
}

// Open creates the parent directory if needed and opens the database with
// foreign keys enforced. A single connection serializes writers.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)", cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}
