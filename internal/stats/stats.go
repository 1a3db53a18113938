// Package stats counts browser processes and render outcomes per backend.
//
// Live browsers are launched minus closed; after every request completes
// that figure must be back where it started.
package stats

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	u "docrender/internal/utils"
)

// Outcome classifies a finished render.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeClientError Outcome = "client_error"
	OutcomeServerError Outcome = "server_error"
)

// Counters are the totals for one backend.
type Counters struct {
	Launched     int64 `json:"launched"`
	Closed       int64 `json:"closed"`
	Live         int64 `json:"live"`
	Renders      int64 `json:"renders"`
	ClientErrors int64 `json:"client_errors"`
	ServerErrors int64 `json:"server_errors"`
}

// Snapshot maps backend name to its counters.
type Snapshot map[string]Counters

// Backends returns the backend names in sorted order.
func (s Snapshot) Backends() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Recorder receives browser lifecycle and render events.
type Recorder interface {
	BrowserLaunched(backend string)
	BrowserClosed(backend string)
	RenderDone(backend string, outcome Outcome)
	Snapshot(ctx context.Context) (Snapshot, error)
}

// MemoryRecorder keeps counters in process memory.
type MemoryRecorder struct {
	mu       sync.Mutex
	counters map[string]*Counters
}

// NewMemoryRecorder returns an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{counters: make(map[string]*Counters)}
}

func (m *MemoryRecorder) get(backend string) *Counters {
	c, ok := m.counters[backend]
	if !ok {
		c = &Counters{}
		m.counters[backend] = c
	}
	return c
}

func (m *MemoryRecorder) BrowserLaunched(backend string) {
	m.mu.Lock()
	m.get(backend).Launched++
	m.mu.Unlock()
}

func (m *MemoryRecorder) BrowserClosed(backend string) {
	m.mu.Lock()
	m.get(backend).Closed++
	m.mu.Unlock()
}

func (m *MemoryRecorder) RenderDone(backend string, outcome Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.get(backend)
	c.Renders++
	switch outcome {
	case OutcomeClientError:
		c.ClientErrors++
	case OutcomeServerError:
		c.ServerErrors++
	}
}

func (m *MemoryRecorder) Snapshot(context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(Snapshot, len(m.counters))
	for k, c := range m.counters {
		cp := *c
		cp.Live = cp.Launched - cp.Closed
		out[k] = cp
	}
	return out, nil
}

// Live returns launched minus closed for backend.
func (m *MemoryRecorder) Live(backend string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[backend]
	if !ok {
		return 0
	}
	return c.Launched - c.Closed
}

// RedisRecorder keeps counters in a Redis hash so several instances share
// them. Write failures are logged and dropped; counters never fail a render.
type RedisRecorder struct {
	rdb *redis.Client
	key string
}

// DefaultRedisKey is the hash the RedisRecorder writes to.
const DefaultRedisKey = "docrender:stats"

// NewRedisRecorder returns a recorder writing to the DefaultRedisKey hash.
func NewRedisRecorder(rdb *redis.Client) *RedisRecorder {
	return &RedisRecorder{rdb: rdb, key: DefaultRedisKey}
}

func (r *RedisRecorder) incr(backend, field string) {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := r.rdb.HIncrBy(ctx, r.key, backend+":"+field, 1).Err(); err != nil {
		u.Warn("Redis stats write failed", "field", backend+":"+field, "error", err)
	}
}

func (r *RedisRecorder) BrowserLaunched(backend string) { r.incr(backend, "launched") }
func (r *RedisRecorder) BrowserClosed(backend string)   { r.incr(backend, "closed") }

// RenderDone counts the render and its outcome in one round trip.
func (r *RedisRecorder) RenderDone(backend string, outcome Outcome) {
	fields := []string{backend + ":renders"}
	switch outcome {
	case OutcomeClientError:
		fields = append(fields, backend+":client_errors")
	case OutcomeServerError:
		fields = append(fields, backend+":server_errors")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	_, err := r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, f := range fields {
			p.HIncrBy(ctx, r.key, f, 1)
		}
		return nil
	})
	if err != nil {
		u.Warn("Redis stats write failed", "fields", fields, "error", err)
	}
}

func (r *RedisRecorder) Snapshot(ctx context.Context) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	fields, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, err
	}

	out := Snapshot{}
	for field, raw := range fields {
		backend, name, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		c := out[backend]
		switch name {
		case "launched":
			c.Launched = n
		case "closed":
			c.Closed = n
		case "renders":
			c.Renders = n
		case "client_errors":
			c.ClientErrors = n
		case "server_errors":
			c.ServerErrors = n
		}
		c.Live = c.Launched - c.Closed
		out[backend] = c
	}
	return out, nil
}

// NewRecorder returns a Redis-backed recorder when a host is configured and
// an in-memory one otherwise.
func NewRecorder(cfg u.Config) (Recorder, *redis.Client) {
	if cfg.Stats.RedisHost == "" {
		return NewMemoryRecorder(), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Stats.RedisHost,
		DB:   cfg.Stats.RedisDB,
	})
	u.Info("Using Redis for render stats", "addr", cfg.Stats.RedisHost, "db", cfg.Stats.RedisDB)
	return NewRedisRecorder(rdb), rdb
}
