package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tts-cache/db"
)

func TestQueueDedup(t *testing.T) {
	q := NewQueue()
	assert.True(t, q.Enqueue("http://a", []string{"ImageURL"}))
	assert.False(t, q.Enqueue("http://a", []string{"Other", "ImageURL"}))
	assert.True(t, q.Enqueue("http://b", nil))
	assert.Equal(t, 2, q.Len())

	req, ok := q.Pull(context.Background())
	require.True(t, ok)
	assert.Equal(t, "http://a", req.URL)
	assert.Equal(t, []string{"ImageURL"}, req.Trail)

	// Still in flight.
	assert.False(t, q.Enqueue("http://a", nil))
	q.Done("http://a")
	assert.True(t, q.Enqueue("http://a", nil))
}

func TestQueueFIFOAndClose(t *testing.T) {
	q := NewQueue()
	for _, u := range []string{"1", "2", "3"} {
		q.Enqueue(u, nil)
	}
	q.Close()
	assert.False(t, q.Enqueue("4", nil))

	var got []string
	for {
		req, ok := q.Pull(context.Background())
		if !ok {
			break
		}
		got = append(got, req.URL)
	}
	assert.Equal(t, []string{"1", "2", "3"}, got)
}

func TestQueuePullWaits(t *testing.T) {
	q := NewQueue()
	got := make(chan string)
	go func() {
		req, _ := q.Pull(context.Background())
		got <- req.URL
	}()
	time.Sleep(10 * time.Millisecond)
	q.Enqueue("late", nil)

	select {
	case u := <-got:
		assert.Equal(t, "late", u)
	case <-time.After(time.Second):
		t.Fatal("Pull did not wake up")
	}
}

func TestQueuePullCancelled(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := q.Pull(ctx)
	assert.False(t, ok)
}

type memRecorder struct {
	mu   sync.Mutex
	recs []db.AssetRecord
}

func (m *memRecorder) RecordDownloadOutcome(_ context.Context, rec db.AssetRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func TestPoolRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	q := NewQueue()
	paths := []string{"/a.png", "/b.png", "/c.png", "/d.png", "/broken.png"}
	for _, p := range paths {
		require.True(t, q.Enqueue(srv.URL+p, []string{"ImageURL"}))
	}
	assert.False(t, q.Enqueue(srv.URL+"/a.png", []string{"ImageURL"}))
	q.Close()

	rec := &memRecorder{}
	pool := NewPool(newTestEngine(t, Options{}), q, rec, 3, nil)
	summary, err := pool.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), summary.Succeeded)
	assert.Equal(t, int64(1), summary.Failed)

	var urls []string
	for _, r := range rec.recs {
		urls = append(urls, r.URL)
		if r.URL == srv.URL+"/broken.png" {
			assert.False(t, r.Succeeded())
		} else {
			assert.True(t, r.Succeeded(), r.URL)
		}
	}
	sort.Strings(urls)
	var want []string
	for _, p := range paths {
		want = append(want, srv.URL+p)
	}
	sort.Strings(want)
	assert.Equal(t, want, urls)
}

func TestPoolStopsOnCancel(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(newTestEngine(t, Options{}), q, &memRecorder{}, 2, nil)
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool did not stop")
	}
}
