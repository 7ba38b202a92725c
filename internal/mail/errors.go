package mail

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RemoteError is a failed call against the mail-hosting API.
type RemoteError struct {
	Provider   string
	Op         string
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration // server hint, zero when absent
	Err        error
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: HTTP %d", e.Provider, e.Op, e.Status)
	if e.Code != "" {
		fmt.Fprintf(&b, " %s", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Transient reports whether the call is worth retrying: the server either
// throttled us or was temporarily unavailable.
func (e *RemoteError) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status == http.StatusServiceUnavailable
}

// AsTransient returns the RemoteError behind err when it is transient.
func AsTransient(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) && re.Transient() {
		return re, true
	}
	return nil, false
}

// ParseRetryAfter reads a Retry-After header value. Only the delta-seconds
// form and HTTP dates are understood; anything else yields zero.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
