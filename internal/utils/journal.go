package utils

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// JournalEntry describes one finished PDF render.
type JournalEntry struct {
	RequestID string
	Backend   string
	Status    int
	Bytes     int64
	Duration  time.Duration
	Message   string
}

// Journal records render outcomes.
type Journal interface {
	Record(ctx context.Context, e JournalEntry) error
	Close() error
}

// NopJournal discards every entry.
type NopJournal struct{}

func (NopJournal) Record(context.Context, JournalEntry) error { return nil }
func (NopJournal) Close() error                               { return nil }

// PostgresJournal appends entries to the render_journal table.
type PostgresJournal struct {
	mu     sync.Mutex
	db     *sql.DB
	schema bool
}

func postgresPort(cfg PostgresConfig) int {
	if cfg.Port != 0 {
		return cfg.Port
	}
	return 5432
}

func postgresDSN(cfg PostgresConfig) (string, error) {
	if strings.HasPrefix(cfg.Host, "postgres://") || strings.HasPrefix(cfg.Host, "postgresql://") {
		return cfg.Host, nil
	}
	if cfg.Host == "" {
		return "", fmt.Errorf("postgres host is empty")
	}
	if cfg.Database == "" {
		return "", fmt.Errorf("postgres database is empty")
	}
	if cfg.User == "" {
		return "", fmt.Errorf("postgres user is empty")
	}

	hostPort := cfg.Host
	port := postgresPort(cfg)
	// IPv6 literals and explicit host:port strings.
	if strings.HasPrefix(hostPort, "[") {
		if !strings.Contains(hostPort, "]:") {
			hostPort = fmt.Sprintf("%s:%d", hostPort, port)
		}
	} else if strings.Count(hostPort, ":") >= 2 {
		hostPort = fmt.Sprintf("[%s]:%d", hostPort, port)
	} else if !strings.Contains(hostPort, ":") {
		hostPort = fmt.Sprintf("%s:%d", hostPort, port)
	}

	u := &url.URL{Scheme: "postgres", Host: hostPort, Path: "/" + cfg.Database}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	} else {
		u.User = url.User(cfg.User)
	}
	q := u.Query()
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// NewJournal returns a Postgres journal, or a NopJournal when no host is
// configured. The connection is opened lazily; pgx does not dial on Open.
func NewJournal(cfg PostgresConfig) (Journal, error) {
	if cfg.Host == "" {
		return NopJournal{}, nil
	}
	dsn, err := postgresDSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Low-volume append-only table.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return NewPostgresJournal(db), nil
}

// NewPostgresJournal wraps an open database handle.
func NewPostgresJournal(db *sql.DB) *PostgresJournal {
	return &PostgresJournal{db: db}
}

func (j *PostgresJournal) ensureSchema(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.schema {
		return nil
	}

	ddl1 := `CREATE TABLE IF NOT EXISTS render_journal (
		id BIGSERIAL PRIMARY KEY,
		request_id TEXT NOT NULL,
		backend TEXT NOT NULL,
		status INTEGER NOT NULL,
		bytes BIGINT NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL,
		message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`
	ddl2 := `CREATE INDEX IF NOT EXISTS idx_render_journal_created_at ON render_journal (created_at);`
	if _, err := j.db.ExecContext(ctx, ddl1); err != nil {
		return err
	}
	if _, err := j.db.ExecContext(ctx, ddl2); err != nil {
		return err
	}
	j.schema = true
	return nil
}

// Record inserts e, creating the table on first use.
func (j *PostgresJournal) Record(ctx context.Context, e JournalEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := j.ensureSchema(ctx); err != nil {
		return fmt.Errorf("journal schema: %w", err)
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO render_journal (request_id, backend, status, bytes, duration_ms, message) VALUES ($1, $2, $3, $4, $5, $6);`,
		e.RequestID, e.Backend, e.Status, e.Bytes, e.Duration.Milliseconds(), e.Message,
	)
	if err != nil {
		return fmt.Errorf("journal insert: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (j *PostgresJournal) Close() error {
	return j.db.Close()
}
