// Package fetch wraps net/http with the download engine's fetch policy:
// browser-like headers, manual redirect following that preserves the Referer,
// transient-failure retries with exponential backoff, and byte-range resume of
// interrupted bodies spliced into one logical stream.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"epifetch/internal/logger"
)

// Options are per-request overrides and additions.
type Options struct {
	// UserAgent overrides the client-wide agent when non-empty.
	UserAgent string

	// Referer is sent unchanged on every hop of a redirect chain.
	Referer string

	// Headers are extra headers set on every hop.
	Headers map[string]string
}

// Response is the result of a successful fetch. Body is resumable: transient
// mid-stream failures are retried internally with a Range request, so readers
// observe one continuous byte stream.
type Response struct {
	Body          io.ReadCloser
	StatusCode    int
	ContentLength int64 // -1 when unknown
	Header        http.Header
	FinalURL      *url.URL // after redirects
}

// Client issues GET requests under one fetch policy. It is safe for
// concurrent use.
type Client struct {
	hc     *http.Client
	config Config
}

// NewClient builds a Client from config, falling back to DefaultConfig.
func NewClient(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	cfg := *config
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		hc: &http.Client{
			Transport: transport,
			// Redirects are followed manually in getWithRedirects because
			// the automatic handling rewrites the Referer header.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		config: cfg,
	}
}

// Config returns the client's effective configuration.
func (c *Client) Config() Config {
	return c.config
}

// Fetch GETs url and returns a response whose body resumes transparently
// after transient failures.
func (c *Client) Fetch(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	resp, finalURL, err := c.getWithRedirects(ctx, rawURL, opts, 0)
	if err != nil {
		return nil, err
	}

	body := &resumableBody{
		client:  c,
		ctx:     ctx,
		rawURL:  rawURL,
		opts:    opts,
		current: resp.Body,
		length:  resp.ContentLength,
	}

	return &Response{
		Body:          body,
		StatusCode:    resp.StatusCode,
		ContentLength: resp.ContentLength,
		Header:        resp.Header,
		FinalURL:      finalURL,
	}, nil
}

// FetchBytes GETs url and reads the whole body, for small resources such as
// manifests and decryption keys.
func (c *Client) FetchBytes(ctx context.Context, rawURL string, opts Options) ([]byte, error) {
	resp, err := c.Fetch(ctx, rawURL, opts)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}

// getWithRedirects runs the retry loop per hop and follows redirects up to
// the configured bound, re-sending the caller's headers (Referer included) on
// every hop.
func (c *Client) getWithRedirects(ctx context.Context, rawURL string, opts Options, offset int64) (*http.Response, *url.URL, error) {
	current, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, &BuildError{URL: rawURL, Err: err}
	}

	redirects := 0

	for {
		resp, err := c.doRetry(ctx, current, opts, offset)
		if err != nil {
			return nil, nil, err
		}

		location := resp.Header.Get("Location")
		if !redirectCodes[resp.StatusCode] || location == "" {
			return resp, current, nil
		}

		drainBody(resp)

		if redirects >= c.config.MaxRedirects {
			return nil, nil, fmt.Errorf("%w (max: %d)", ErrTooManyRedirects, c.config.MaxRedirects)
		}
		redirects++

		next, err := current.Parse(location)
		if err != nil {
			return nil, nil, &BuildError{URL: location, Err: err}
		}

		logger.Debugf("Redirect %d: %s -> %s", redirects, current, next)
		current = next
	}
}

// doRetry issues one GET with the retry policy applied: transient statuses
// and transport errors back off and retry, everything else surfaces.
func (c *Client) doRetry(ctx context.Context, u *url.URL, opts Options, offset int64) (*http.Response, error) {
	attempt := 0

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, &BuildError{URL: u.String(), Err: err}
		}

		c.applyHeaders(req, opts, offset)

		resp, err := c.hc.Do(req)

		switch {
		case err != nil:
			if classifyErr(err) != classTransient || c.config.retriesExhausted(attempt) {
				return nil, &RequestError{Op: "GET", URL: u.String(), Err: err}
			}
		case classifyStatus(resp.StatusCode) == classSuccess:
			return resp, nil
		case classifyStatus(resp.StatusCode) == classTransient && !c.config.retriesExhausted(attempt):
			drainBody(resp)
		default:
			status := resp.StatusCode
			drainBody(resp)

			return nil, &RequestError{
				Op:     "GET",
				URL:    u.String(),
				Status: status,
				Err:    fmt.Errorf("unexpected status %d", status),
			}
		}

		delay := c.config.backoffDelay(attempt)
		attempt++
		logger.Debugf("Transient failure fetching %s, retrying in %v (attempt %d)", u, delay, attempt)

		if err := sleepBackoff(ctx, delay); err != nil {
			return nil, &RequestError{Op: "GET", URL: u.String(), Err: err}
		}
	}
}

func (c *Client) applyHeaders(req *http.Request, opts Options, offset int64) {
	userAgent := c.config.UserAgent
	if opts.UserAgent != "" {
		userAgent = opts.UserAgent
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	if opts.Referer != "" {
		req.Header.Set("Referer", opts.Referer)
	}

	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
}

func drainBody(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	resp.Body.Close()
}

// resumableBody splices range re-fetches onto an interrupted stream so the
// caller sees one continuous body.
type resumableBody struct {
	client  *Client
	ctx     context.Context
	rawURL  string
	opts    Options
	current io.ReadCloser
	length  int64
	offset  int64
	resumes int
	closed  bool

	stalled atomic.Bool
}

func (b *resumableBody) Read(p []byte) (int, error) {
	for {
		if b.closed {
			return 0, io.ErrClosedPipe
		}

		stop := b.armStallGuard()
		n, err := b.current.Read(p)
		stop()

		b.offset += int64(n)

		if n > 0 {
			// Progress resets the resume budget; the bound guards against
			// servers that fail at the same byte forever.
			b.resumes = 0
		}

		if err == nil || err == io.EOF {
			return n, err
		}

		if b.stalled.Load() {
			logger.Debugf("Stream for %s stalled for %v", b.rawURL, b.client.config.InactivityTimeout)
			err = fmt.Errorf("stream inactivity timeout: %w", err)
		} else if classifyErr(err) != classTransient {
			return n, err
		}

		if b.client.config.retriesExhausted(b.resumes) {
			return n, &RequestError{Op: "resume", URL: b.rawURL, Err: err}
		}

		delay := b.client.config.backoffDelay(b.resumes)
		b.resumes++
		logger.Debugf("Resuming %s at byte %d in %v (attempt %d): %v", b.rawURL, b.offset, delay, b.resumes, err)

		if serr := sleepBackoff(b.ctx, delay); serr != nil {
			return n, serr
		}

		if rerr := b.reopen(); rerr != nil {
			return n, rerr
		}

		if n > 0 {
			return n, nil
		}
	}
}

// reopen re-issues the request with a byte-range offset and, when the server
// ignores the range, discards the bytes already delivered.
func (b *resumableBody) reopen() error {
	b.current.Close()
	b.stalled.Store(false)

	resp, _, err := b.client.getWithRedirects(b.ctx, b.rawURL, b.opts, b.offset)
	if err != nil {
		return err
	}

	if b.offset > 0 && resp.StatusCode != http.StatusPartialContent {
		if _, err := io.CopyN(io.Discard, resp.Body, b.offset); err != nil {
			resp.Body.Close()
			return fmt.Errorf("failed to skip already downloaded bytes: %w", err)
		}
	}

	b.current = resp.Body

	return nil
}

// armStallGuard closes the underlying body if no data arrives within the
// inactivity timeout; the resulting read error is resumed as transient.
func (b *resumableBody) armStallGuard() func() {
	timeout := b.client.config.InactivityTimeout
	if timeout <= 0 {
		return func() {}
	}

	body := b.current
	timer := time.AfterFunc(timeout, func() {
		b.stalled.Store(true)
		body.Close()
	})

	return func() { timer.Stop() }
}

func (b *resumableBody) Close() error {
	if b.closed {
		return nil
	}

	b.closed = true

	return b.current.Close()
}
