// Package providers adapts vendor model APIs to the agent.ModelClient
// interface. Each adapter converts the conversation log to the vendor's
// message shape, opens a streaming request with bounded retries, and
// translates the vendor's events into ModelChunks.
package providers

import (
	"fmt"
	"strings"
	"time"

	"github.com/skipperhq/skipper/internal/retry"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = time.Second
)

// transientMarkers are error-message fragments that indicate a failure worth
// retrying: throttling, upstream 5xx, timeouts, and connection resets.
// Authentication and validation failures never match.
var transientMarkers = []string{
	"rate limit",
	"rate_limit",
	"429",
	"too many requests",
	"500",
	"502",
	"503",
	"504",
	"internal server error",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"overloaded",
	"timeout",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"no such host",
}

// isTransient reports whether err is worth retrying. Vendor SDKs surface
// HTTP status codes in error text rather than typed errors, so this is
// message-based like the upstream clients themselves.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// classifyForRetry wraps non-transient errors as permanent so retry.Do
// stops immediately on auth or validation failures.
func classifyForRetry(err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return err
	}
	return retry.Permanent(err)
}

// requestFailure labels an error with the provider it came from, preserving
// the cause for errors.Is/As.
func requestFailure(provider string, err error) error {
	return fmt.Errorf("%s: request failed: %w", provider, err)
}

func sanitizeRetry(cfg retry.Config) retry.Config {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Delay <= 0 {
		cfg.Delay = defaultRetryDelay
	}
	return cfg
}
