package stats

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	u "docrender/internal/utils"
)

func TestMemoryRecorder_CountsAndLive(t *testing.T) {
	m := NewMemoryRecorder()

	m.BrowserLaunched("chromedp")
	m.BrowserLaunched("chromedp")
	m.BrowserClosed("chromedp")
	m.RenderDone("chromedp", OutcomeOK)
	m.RenderDone("chromedp", OutcomeClientError)
	m.RenderDone("rod", OutcomeServerError)

	assert.Equal(t, int64(1), m.Live("chromedp"))
	assert.Equal(t, int64(0), m.Live("missing"))

	snap, err := m.Snapshot(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []string{"chromedp", "rod"}, snap.Backends())
	assert.Equal(t, Counters{Launched: 2, Closed: 1, Live: 1, Renders: 2, ClientErrors: 1}, snap["chromedp"])
	assert.Equal(t, int64(1), snap["rod"].ServerErrors)
}

func TestMemoryRecorder_Concurrent(t *testing.T) {
	m := NewMemoryRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.BrowserLaunched("rod")
			m.RenderDone("rod", OutcomeOK)
			m.BrowserClosed("rod")
		}()
	}
	wg.Wait()

	snap, _ := m.Snapshot(context.Background())
	assert.Equal(t, int64(50), snap["rod"].Launched)
	assert.Equal(t, int64(0), snap["rod"].Live)
}

func TestRedisRecorder_RoundTrip(t *testing.T) {
	mrs, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mrs.Close()

	r := NewRedisRecorder(redis.NewClient(&redis.Options{Addr: mrs.Addr()}))
	r.BrowserLaunched("chromedp")
	r.BrowserClosed("chromedp")
	r.BrowserLaunched("chromedp")
	r.RenderDone("chromedp", OutcomeServerError)
	r.RenderDone("rod", OutcomeClientError)

	assert.Equal(t, "2", mrs.HGet(DefaultRedisKey, "chromedp:launched"))
	assert.Equal(t, "1", mrs.HGet(DefaultRedisKey, "rod:renders"))
	assert.Equal(t, "1", mrs.HGet(DefaultRedisKey, "rod:client_errors"))

	snap, err := r.Snapshot(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, Counters{Launched: 2, Closed: 1, Live: 1, Renders: 1, ServerErrors: 1}, snap["chromedp"])
}

func TestRedisRecorder_SnapshotSkipsForeignFields(t *testing.T) {
	mrs, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mrs.Close()

	mrs.HSet(DefaultRedisKey, "nocolon", "1")
	mrs.HSet(DefaultRedisKey, "rod:launched", "notanumber")
	mrs.HSet(DefaultRedisKey, "rod:closed", "3")

	r := NewRedisRecorder(redis.NewClient(&redis.Options{Addr: mrs.Addr()}))
	snap, err := r.Snapshot(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(3), snap["rod"].Closed)
	assert.Len(t, snap, 1)
}

func TestRedisRecorder_UnavailableDoesNotPanic(t *testing.T) {
	r := NewRedisRecorder(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}))
	r.BrowserLaunched("rod")
	r.RenderDone("rod", OutcomeClientError)
	_, err := r.Snapshot(context.Background())
	assert.Error(t, err)
}

func TestNewRecorder_SelectsBackend(t *testing.T) {
	var cfg u.Config
	rec, rdb := NewRecorder(cfg)
	assert.IsType(t, &MemoryRecorder{}, rec)
	assert.Nil(t, rdb)

	cfg.Stats.RedisHost = "127.0.0.1:1"
	rec, rdb = NewRecorder(cfg)
	assert.IsType(t, &RedisRecorder{}, rec)
	assert.NotNil(t, rdb)
	_ = rdb.Close()
}
