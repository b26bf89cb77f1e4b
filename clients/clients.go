// Package clients holds the HTTP clients for the remote analysis
// capabilities: speech-to-text, LLM content evaluation and pose
// landmark detection. All calls share the same retry and timeout
// policy so a stuck remote call can never stall a run past its
// per-segment budget.
package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scorelab/mentor-pipeline/config"
)

const (
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRetryMaxDelay  = 5 * time.Second
)

// RemoteError marks a call that failed after exhausting its retry
// budget. The orchestrator downgrades it to a segment-level failure
// rather than aborting the run.
type RemoteError struct {
	Service string
	Status  int
	Err     error
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: http %d: %v", e.Service, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// HTTP wraps a shared http.Client with bounded retries.
type HTTP struct {
	c          *http.Client
	log        *logrus.Entry
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	sleep      func(time.Duration)
}

// NewHTTP builds a client for one remote service. The request timeout
// comes from the service config and bounds every attempt separately.
func NewHTTP(svc config.Service, log *logrus.Entry) *HTTP {
	return &HTTP{
		c:          &http.Client{Timeout: time.Duration(svc.TimeoutSeconds) * time.Second},
		log:        log,
		maxRetries: svc.Retries,
		baseDelay:  defaultRetryBaseDelay,
		maxDelay:   defaultRetryMaxDelay,
		sleep:      time.Sleep,
	}
}

// withSleeper overrides retry sleeps, used by tests to avoid real delays.
func (h *HTTP) withSleeper(fn func(time.Duration)) *HTTP {
	h.sleep = fn
	return h
}

type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string { return fmt.Sprintf("http %d: %s", e.Status, e.Body) }

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Status == http.StatusRequestTimeout ||
			se.Status == http.StatusTooManyRequests ||
			se.Status >= 500
	}
	// transport failures, timeouts and malformed payloads all get the
	// same small retry budget
	return true
}

// doWithRetry runs fn up to 1+maxRetries times with exponential
// backoff. Context cancellation stops the loop immediately.
func (h *HTTP) doWithRetry(ctx context.Context, service string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= h.maxRetries; attempt++ {
		if attempt > 0 {
			delay := h.baseDelay << (attempt - 1)
			if delay > h.maxDelay {
				delay = h.maxDelay
			}
			h.log.WithFields(logrus.Fields{
				"service": service,
				"attempt": attempt + 1,
				"delay":   delay.String(),
			}).Warn("retrying remote call")
			h.sleep(delay)
		}
		if err := ctx.Err(); err != nil {
			return &RemoteError{Service: service, Err: err}
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	re := &RemoteError{Service: service, Err: lastErr}
	var se *statusError
	if errors.As(lastErr, &se) {
		re.Status = se.Status
	}
	return re
}
