package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type Config struct {
	DSN           string        `envconfig:"DSN" required:"true"`
	Timeout       time.Duration `split_words:"true" default:"10s"`
	MaxOpenConns  int           `split_words:"true" default:"10"`
	SlowThreshold time.Duration `split_words:"true" default:"500ms"`
}

// Open builds a bun DB over pgdriver. The connection is lazy; call Ping to
// check connectivity.
func Open(cfg Config) (*bun.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if err := validateDSN(dsn); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	connector := pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithTimeout(timeout),
	)
	sqldb := sql.OpenDB(connector)
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		sqldb.SetMaxIdleConns(cfg.MaxOpenConns)
	}

	db := bun.NewDB(sqldb, pgdialect.New())
	db.AddQueryHook(NewQueryHook(log.Logger, cfg.SlowThreshold))
	return db, nil
}

func MustOpen(cfg Config) *bun.DB {
	db, err := Open(cfg)
	if err != nil {
		panic(err)
	}
	return db
}

func validateDSN(dsn string) error {
	if dsn == "" {
		return errors.New("postgres dsn is required")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return fmt.Errorf("parse postgres dsn: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("postgres dsn scheme %q is not supported", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("postgres dsn host is required")
	}
	return nil
}

// QueryHook logs failed queries at error level, slow ones at warn level and
// everything else at debug level.
type QueryHook struct {
	logger zerolog.Logger
	slow   time.Duration
}

var _ bun.QueryHook = (*QueryHook)(nil)

func NewQueryHook(logger zerolog.Logger, slow time.Duration) *QueryHook {
	return &QueryHook{logger: logger, slow: slow}
}

func (h *QueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *QueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	elapsed := time.Since(event.StartTime)

	var e *zerolog.Event
	switch {
	case event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows):
		e = h.logger.Error().Err(event.Err)
	case h.slow > 0 && elapsed >= h.slow:
		e = h.logger.Warn()
	default:
		e = h.logger.Debug()
	}
	e.Str("operation", event.Operation()).
		Dur("elapsed", elapsed).
		Str("query", event.Query).
		Msg("postgres query")
}
