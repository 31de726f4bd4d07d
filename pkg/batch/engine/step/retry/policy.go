package retry

import (
	"errors"
	"math"
	"time"

	"github.com/tigerroll/promptbatch/pkg/batch/support/util/exception"
)

// DefaultMaxBackoff caps the exponential delay between attempts.
const DefaultMaxBackoff = 10 * time.Second

// RetryPolicy decides whether a failed attempt is repeated and how long to wait first.
type RetryPolicy interface {
	// ShouldRetry reports whether err may be retried.
	ShouldRetry(err error) bool
	// GetBackoffInterval returns the wait after the failed attempt numbered attempt (0-based).
	GetBackoffInterval(attempt int) time.Duration
	// GetMaxAttempts returns the total number of attempts, the first one included.
	GetMaxAttempts() int
}

// DefaultRetryPolicyFactory creates exponential backoff policies.
type DefaultRetryPolicyFactory struct {
	// MaxBackoff caps every interval; zero means DefaultMaxBackoff.
	MaxBackoff time.Duration
}

// NewDefaultRetryPolicyFactory creates a new DefaultRetryPolicyFactory.
func NewDefaultRetryPolicyFactory() *DefaultRetryPolicyFactory {
	return &DefaultRetryPolicyFactory{MaxBackoff: DefaultMaxBackoff}
}

// Create returns a policy with maxAttempts total attempts and a base interval.
// retryableExceptions names additional error types (see exception.IsErrorOfType)
// that are retried on top of retryable BatchErrors.
func (f *DefaultRetryPolicyFactory) Create(maxAttempts int, initialInterval time.Duration, retryableExceptions []string) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	maxBackoff := f.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	return &defaultRetryPolicy{
		maxAttempts:         maxAttempts,
		initialInterval:     initialInterval,
		maxBackoff:          maxBackoff,
		retryableExceptions: retryableExceptions,
	}
}

type defaultRetryPolicy struct {
	maxAttempts         int
	initialInterval     time.Duration
	maxBackoff          time.Duration
	retryableExceptions []string
}

func (p *defaultRetryPolicy) GetMaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry checks the BatchError flag first, then the configured exception names.
func (p *defaultRetryPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	var be *exception.BatchError
	if errors.As(err, &be) && be.IsRetryable() {
		return true
	}

	for _, typeName := range p.retryableExceptions {
		if exception.IsErrorOfType(err, typeName) {
			return true
		}
	}

	return false
}

// GetBackoffInterval returns min(2^attempt * initialInterval, maxBackoff).
func (p *defaultRetryPolicy) GetBackoffInterval(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.initialInterval) * math.Pow(2, float64(attempt))
	if d >= float64(p.maxBackoff) {
		return p.maxBackoff
	}
	return time.Duration(d)
}

// Verify interfaces
var _ RetryPolicy = (*defaultRetryPolicy)(nil)
