package github

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	// throttleThreshold is the remaining request count below which the
	// fetcher pauses until the window resets.
	throttleThreshold = 1

	// defaultRateLimitWait is used when a rate-limited response carries no
	// usable timing headers.
	defaultRateLimitWait = 60 * time.Second
)

// RateLimitInfo holds parsed rate limit information from GitHub API response headers.
type RateLimitInfo struct {
	// Remaining is -1 when the response did not report it.
	Remaining int
	Reset     time.Time
	Observed  time.Time
}

// ParseRateLimit extracts rate limit information from a GitHub API HTTP response.
// Returns nil if the relevant headers are not present.
func ParseRateLimit(resp *http.Response) *RateLimitInfo {
	if resp == nil {
		return nil
	}

	remainingStr := resp.Header.Get("X-RateLimit-Remaining")
	resetStr := resp.Header.Get("X-RateLimit-Reset")

	if remainingStr == "" && resetStr == "" {
		return nil
	}

	info := &RateLimitInfo{
		Remaining: -1,
		Observed:  time.Now(),
	}

	if remaining, err := strconv.Atoi(remainingStr); err == nil {
		info.Remaining = remaining
	}

	if resetUnix, err := strconv.ParseInt(resetStr, 10, 64); err == nil {
		info.Reset = time.Unix(resetUnix, 0)
	}

	return info
}

// ShouldThrottle reports whether the quota is used up, so the next request
// would be rejected.
func (r *RateLimitInfo) ShouldThrottle() bool {
	if r == nil || r.Remaining < 0 {
		return false
	}
	return r.Remaining < throttleThreshold
}

// WaitDuration returns how long to wait before the rate limit resets.
// Returns zero if the reset time is in the past.
func (r *RateLimitInfo) WaitDuration() time.Duration {
	if r == nil {
		return 0
	}
	d := time.Until(r.Reset)
	if d < 0 {
		return 0
	}
	return d
}

// HandleRateLimitError parses a 403 or 429 response to determine how long
// to wait before retrying. It prefers the reset header, then Retry-After.
func HandleRateLimitError(resp *http.Response) (time.Duration, error) {
	if resp == nil {
		return 0, fmt.Errorf("nil response")
	}

	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return 0, fmt.Errorf("not a rate limit error: status %d", resp.StatusCode)
	}

	info := ParseRateLimit(resp)
	if info != nil && !info.Reset.IsZero() {
		if wait := info.WaitDuration(); wait > 0 {
			return wait, nil
		}
	}

	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			return time.Duration(seconds) * time.Second, nil
		}
	}

	return defaultRateLimitWait, nil
}

// IsServerError returns true if the response has a 5xx status code.
func IsServerError(resp *http.Response) bool {
	return resp != nil && resp.StatusCode >= 500 && resp.StatusCode < 600
}

// IsRateLimitError reports whether resp is a primary or secondary rate limit
// rejection. A 403 counts only when it carries rate limit headers; a plain
// 403 is a permission error.
func IsRateLimitError(resp *http.Response) bool {
	if resp == nil {
		return false
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		return resp.Header.Get("X-RateLimit-Remaining") == "0" || resp.Header.Get("Retry-After") != ""
	}
	return false
}
