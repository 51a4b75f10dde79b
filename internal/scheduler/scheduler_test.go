package scheduler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epifetch/internal/fetch"
	"epifetch/internal/progress"
	"epifetch/internal/remux"
	"epifetch/internal/task"
	"epifetch/internal/transfer"
)

func newTestScheduler(t *testing.T, config Config) *Scheduler {
	t.Helper()

	cfg := fetch.DefaultConfig()
	cfg.Retries = 0

	registry := progress.NewRegistry(io.Discard)
	transferer := transfer.New(fetch.NewClient(cfg), nil, registry, remux.New("", false))

	return New(transferer, registry, config)
}

func episodeTask(url string, number, maxNumber int) task.DownloadTask {
	return task.NewDownloadTask(task.EpisodeInfo{
		SeasonNumber:             1,
		EpisodeNumber:            task.EpisodeNumber{Number: number},
		MaxEpisodeNumberInSeason: maxNumber,
	}, task.VideoType{Kind: task.VideoKindDub, Language: task.LanguageGerman}, url, "")
}

func TestRunDrainsQueue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("content of " + r.URL.Path))
	}))
	defer server.Close()

	dir := t.TempDir()
	s := newTestScheduler(t, Config{
		MaxConcurrent: 2,
		OutputDir:     dir,
		SeriesTitle:   "Some: Show",
	})

	queue := task.NewQueue()
	for i := 1; i <= 3; i++ {
		queue.Push(episodeTask(server.URL+"/ep", i, 12))
	}
	queue.Close()

	failed := s.Run(context.Background(), queue)
	assert.Zero(t, failed)

	for _, name := range []string{
		"Some - Show - S01E01 - GerDub.mp4",
		"Some - Show - S01E02 - GerDub.mp4",
		"Some - Show - S01E03 - GerDub.mp4",
	} {
		got, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Equal(t, []byte("content of /ep"), got)
	}
}

func TestRunFailureDoesNotAbortSiblings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}

		w.Write([]byte("ok"))
	}))
	defer server.Close()

	dir := t.TempDir()
	s := newTestScheduler(t, Config{OutputDir: dir, SeriesTitle: "Show"})

	queue := task.NewQueue()
	queue.Push(episodeTask(server.URL+"/missing", 1, 2))
	queue.Push(episodeTask(server.URL+"/ok", 2, 2))
	queue.Close()

	failed := s.Run(context.Background(), queue)
	assert.Equal(t, 1, failed)

	got, err := os.ReadFile(filepath.Join(dir, "Show - S01E02 - GerDub.mp4"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), got)
}

func TestRunConcurrencyCap(t *testing.T) {
	var (
		mu      sync.Mutex
		active  int
		peak    int
		release = make(chan struct{})
		arrived atomic.Int32
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()

		if arrived.Add(1) <= 2 {
			<-release
		}

		mu.Lock()
		active--
		mu.Unlock()

		w.Write([]byte("ok"))
	}))
	defer server.Close()

	dir := t.TempDir()
	s := newTestScheduler(t, Config{MaxConcurrent: 2, OutputDir: dir, SeriesTitle: "Show"})

	queue := task.NewQueue()
	for i := 1; i <= 4; i++ {
		queue.Push(episodeTask(server.URL+"/ep", i, 4))
	}
	queue.Close()

	done := make(chan int)
	go func() { done <- s.Run(context.Background(), queue) }()

	// The first two transfers hold their slots until released; nothing
	// beyond the cap may start in the meantime.
	for arrived.Load() < 2 {
		time.Sleep(time.Millisecond)
	}
	close(release)

	failed := <-done
	assert.Zero(t, failed)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
}
