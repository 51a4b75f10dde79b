package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastConfig keeps backoff out of test runtime.
func fastConfig() *Config {
	cfg := DefaultConfig()
	cfg.BackoffMin = time.Millisecond
	cfg.BackoffMax = 5 * time.Millisecond

	return cfg
}

func TestFetchSimple(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "en-US,en;q=0.5", r.Header.Get("Accept-Language"))
		w.Write([]byte("hello"))
	}))
	defer server.Close()

	client := NewClient(fastConfig())

	resp, err := client.Fetch(context.Background(), server.URL, Options{})
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, int64(5), resp.ContentLength)
}

func TestFetchRedirectsPreserveReferer(t *testing.T) {
	const referer = "https://example.invalid/player"

	var hops []string

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		hops = append(hops, r.Header.Get("Referer"))
		http.Redirect(w, r, server.URL+"/b", http.StatusFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		hops = append(hops, r.Header.Get("Referer"))
		http.Redirect(w, r, "/c", http.StatusFound) // relative Location
	})
	mux.HandleFunc("/c", func(w http.ResponseWriter, r *http.Request) {
		hops = append(hops, r.Header.Get("Referer"))
		w.Write([]byte("final"))
	})

	client := NewClient(fastConfig())

	resp, err := client.Fetch(context.Background(), server.URL+"/a", Options{Referer: referer})
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "final", string(data))

	require.Len(t, hops, 3)
	for _, got := range hops {
		assert.Equal(t, referer, got)
	}

	assert.Equal(t, "/c", resp.FinalURL.Path)
}

func TestFetchTooManyRedirects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"x", http.StatusMovedPermanently)
	}))
	defer server.Close()

	client := NewClient(fastConfig())

	_, err := client.Fetch(context.Background(), server.URL+"/loop", Options{})
	assert.ErrorIs(t, err, ErrTooManyRedirects)
}

func TestFetchRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer server.Close()

	client := NewClient(fastConfig())

	data, err := client.FetchBytes(context.Background(), server.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", string(data))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchFatalStatusNoRetry(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(fastConfig())

	_, err := client.Fetch(context.Background(), server.URL, Options{})

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusNotFound, reqErr.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchExhaustsRetries(t *testing.T) {
	cfg := fastConfig()
	cfg.Retries = 2

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(cfg)

	_, err := client.Fetch(context.Background(), server.URL, Options{})

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, int32(3), calls.Load()) // initial attempt + 2 retries
}

func TestResumableBodySplicesRangeRetry(t *testing.T) {
	const payload = "0123456789abcdefghij"

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			// Announce the full length but cut the connection halfway.
			w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
			w.Write([]byte(payload[:10]))
			w.(http.Flusher).Flush()

			conn, _, err := w.(http.Hijacker).Hijack()
			require.NoError(t, err)
			conn.Close()

			return
		}

		assert.Equal(t, "bytes=10-", r.Header.Get("Range"))
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(payload[10:]))
	}))
	defer server.Close()

	client := NewClient(fastConfig())

	resp, err := client.Fetch(context.Background(), server.URL, Options{})
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
	assert.Equal(t, int32(2), calls.Load())
}

func TestResumableBodyDiscardsWhenRangeIgnored(t *testing.T) {
	const payload = "0123456789abcdefghij"

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
			w.Write([]byte(payload[:4]))
			w.(http.Flusher).Flush()

			conn, _, err := w.(http.Hijacker).Hijack()
			require.NoError(t, err)
			conn.Close()

			return
		}

		// Ignore the Range header and serve everything again.
		w.Write([]byte(payload))
	}))
	defer server.Close()

	client := NewClient(fastConfig())

	resp, err := client.Fetch(context.Background(), server.URL, Options{})
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
}

func TestFetchInvalidURL(t *testing.T) {
	client := NewClient(fastConfig())

	_, err := client.Fetch(context.Background(), "http://invalid url with spaces", Options{})

	var buildErr *BuildError
	assert.ErrorAs(t, err, &buildErr)
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want retryClass
	}{
		{200, classSuccess},
		{206, classSuccess},
		{302, classSuccess},
		{404, classFatal},
		{408, classTransient},
		{429, classTransient},
		{500, classTransient},
		{503, classTransient},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, classifyStatus(tt.code))
		})
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, time.Second, cfg.backoffDelay(0))
	assert.Equal(t, 2*time.Second, cfg.backoffDelay(1))
	assert.Equal(t, 8*time.Second, cfg.backoffDelay(3))
	assert.Equal(t, 10*time.Second, cfg.backoffDelay(4))
	assert.Equal(t, 10*time.Second, cfg.backoffDelay(20))
}
