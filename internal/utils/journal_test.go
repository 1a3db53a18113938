package utils

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeDriver struct{ conn *fakeConn }

type fakeConn struct {
	mu      sync.Mutex
	execs   []string
	args    [][]driver.NamedValue
	failDDL bool
}

var fakeDriverCounter atomic.Int64

func (d fakeDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

func (c *fakeConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c *fakeConn) Close() error                        { return nil }
func (c *fakeConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }

func (c *fakeConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failDDL && strings.Contains(query, "CREATE") {
		return nil, errors.New("schema failed")
	}
	c.execs = append(c.execs, query)
	c.args = append(c.args, args)
	return driver.RowsAffected(1), nil
}

func openFakeDB(t *testing.T, conn *fakeConn) *sql.DB {
	t.Helper()
	name := fmt.Sprintf("fakejournal_%d", fakeDriverCounter.Add(1))
	sql.Register(name, fakeDriver{conn: conn})
	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("sql open: %v", err)
	}
	return db
}

func TestPostgresDSN_BuildsURL(t *testing.T) {
	dsn, err := postgresDSN(PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		Database: "docrender",
		User:     "user",
		Password: "p@ss word",
		SSLMode:  "disable",
	})
	assert.NoError(t, err)

	u, err := url.Parse(dsn)
	assert.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "localhost:5432", u.Host)
	assert.Equal(t, "/docrender", u.Path)
	assert.Equal(t, "user", u.User.Username())
	pw, ok := u.User.Password()
	assert.True(t, ok)
	assert.Equal(t, "p@ss word", pw)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
}

func TestPostgresDSN_Passthrough(t *testing.T) {
	raw := "postgres://u:p@localhost:5432/db?sslmode=disable"
	dsn, err := postgresDSN(PostgresConfig{Host: raw})
	assert.NoError(t, err)
	assert.Equal(t, raw, dsn)
}

func TestPostgresDSN_IPv6AndMissingFields(t *testing.T) {
	dsn, err := postgresDSN(PostgresConfig{Host: "::1", Database: "d", User: "u"})
	assert.NoError(t, err)
	assert.Contains(t, dsn, "[::1]:5432")

	_, err = postgresDSN(PostgresConfig{Host: "h", User: "u"})
	assert.Error(t, err)
	_, err = postgresDSN(PostgresConfig{Host: "h", Database: "d"})
	assert.Error(t, err)
}

func TestNewJournal_NopWithoutHost(t *testing.T) {
	j, err := NewJournal(PostgresConfig{})
	assert.NoError(t, err)
	assert.IsType(t, NopJournal{}, j)
	assert.NoError(t, j.Record(context.Background(), JournalEntry{}))
	assert.NoError(t, j.Close())
}

func TestNewJournal_RejectsIncompleteConfig(t *testing.T) {
	_, err := NewJournal(PostgresConfig{Host: "db.local"})
	assert.Error(t, err)
}

func TestPostgresJournal_RecordCreatesSchemaOnce(t *testing.T) {
	conn := &fakeConn{}
	j := NewPostgresJournal(openFakeDB(t, conn))
	defer func() { _ = j.Close() }()

	entry := JournalEntry{RequestID: "req-1", Backend: BackendChromedp, Status: 200, Bytes: 1024, Duration: 1500 * time.Millisecond}
	assert.NoError(t, j.Record(context.Background(), entry))
	assert.NoError(t, j.Record(context.Background(), entry))

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Len(t, conn.execs, 4)
	assert.Contains(t, conn.execs[0], "CREATE TABLE IF NOT EXISTS render_journal")
	assert.Contains(t, conn.execs[2], "INSERT INTO render_journal")
	assert.Equal(t, "req-1", conn.args[2][0].Value)
	assert.Equal(t, int64(1500), conn.args[2][4].Value)
}

func TestPostgresJournal_SchemaError(t *testing.T) {
	conn := &fakeConn{failDDL: true}
	j := NewPostgresJournal(openFakeDB(t, conn))
	defer func() { _ = j.Close() }()

	err := j.Record(context.Background(), JournalEntry{RequestID: "r"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "journal schema")
}
