package fetch

import "time"

// DefaultUserAgent imitates a desktop browser; some hosts refuse obviously
// non-browser agents.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Safari/537.36"

// Config controls connection limits and the retry policy of a Client.
type Config struct {
	// UserAgent is sent with every request unless overridden per call.
	UserAgent string

	// ConnectTimeout bounds dialing and TLS setup.
	ConnectTimeout time.Duration

	// InactivityTimeout aborts a body read that makes no progress; the
	// aborted stream is treated as a transient failure and resumed.
	InactivityTimeout time.Duration

	// MaxRedirects bounds manual redirect following.
	MaxRedirects int

	// Retries is the maximum number of retry attempts for transient
	// failures. Negative means retry indefinitely.
	Retries int

	// BackoffMin and BackoffMax bound the exponential retry backoff.
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// DefaultConfig returns the retry policy used when the caller does not supply
// one.
func DefaultConfig() *Config {
	return &Config{
		UserAgent:         DefaultUserAgent,
		ConnectTimeout:    20 * time.Second,
		InactivityTimeout: 60 * time.Second,
		MaxRedirects:      10,
		Retries:           5,
		BackoffMin:        1 * time.Second,
		BackoffMax:        10 * time.Second,
	}
}
