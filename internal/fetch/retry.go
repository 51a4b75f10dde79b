package fetch

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

// retryClass separates failures the policy absorbs from those surfaced to the
// caller.
type retryClass int

const (
	classSuccess retryClass = iota
	classTransient
	classFatal
)

var redirectCodes = map[int]bool{
	http.StatusMovedPermanently:  true,
	http.StatusFound:             true,
	http.StatusSeeOther:          true,
	http.StatusTemporaryRedirect: true,
	http.StatusPermanentRedirect: true,
}

// classifyStatus buckets a response status. Redirects count as success here;
// the redirect loop deals with them.
func classifyStatus(code int) retryClass {
	switch {
	case code >= 200 && code < 300:
		return classSuccess
	case redirectCodes[code]:
		return classSuccess
	case code >= 500:
		return classTransient
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return classTransient
	default:
		return classFatal
	}
}

// classifyErr buckets a transport error. Timeouts, refused/reset connections
// and short bodies are worth retrying; everything else is fatal.
func classifyErr(err error) retryClass {
	if err == nil {
		return classSuccess
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return classFatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return classTransient
	}

	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return classTransient
	}

	return classFatal
}

// backoffDelay computes the exponential backoff for the given zero-based
// attempt, bounded by the config.
func (c *Config) backoffDelay(attempt int) time.Duration {
	delay := c.BackoffMin
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= c.BackoffMax {
			return c.BackoffMax
		}
	}

	if delay > c.BackoffMax {
		delay = c.BackoffMax
	}

	return delay
}

// sleepBackoff waits out the backoff or returns early when ctx is done.
func sleepBackoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retriesExhausted reports whether another retry is allowed after attempt
// retries have already happened.
func (c *Config) retriesExhausted(attempt int) bool {
	if c.Retries < 0 {
		return false
	}

	return attempt >= c.Retries
}
