package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/promptbatch/pkg/batch/support/util/exception"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	p := NewDefaultRetryPolicyFactory().Create(10, 500*time.Millisecond, nil)

	assert.Equal(t, 500*time.Millisecond, p.GetBackoffInterval(0))
	assert.Equal(t, time.Second, p.GetBackoffInterval(1))
	assert.Equal(t, 2*time.Second, p.GetBackoffInterval(2))
	assert.Equal(t, 8*time.Second, p.GetBackoffInterval(4))
	assert.Equal(t, 10*time.Second, p.GetBackoffInterval(5))
	assert.Equal(t, 10*time.Second, p.GetBackoffInterval(60))
}

func TestMaxAttemptsAtLeastOne(t *testing.T) {
	f := &DefaultRetryPolicyFactory{}
	assert.Equal(t, 1, f.Create(0, time.Second, nil).GetMaxAttempts())
	assert.Equal(t, 3, f.Create(3, time.Second, nil).GetMaxAttempts())
}

func TestShouldRetry(t *testing.T) {
	p := NewDefaultRetryPolicyFactory().Create(3, time.Second, []string{"context.DeadlineExceeded"})

	retryable := exception.NewBatchErrorf("provider", "HTTP %d", 503, true)
	assert.True(t, p.ShouldRetry(retryable))
	assert.True(t, p.ShouldRetry(fmt.Errorf("wrapped: %w", retryable)))
	assert.True(t, p.ShouldRetry(context.DeadlineExceeded))

	assert.False(t, p.ShouldRetry(nil))
	assert.False(t, p.ShouldRetry(errors.New("bad request")))
	assert.False(t, p.ShouldRetry(exception.NewBatchError("provider", "fatal", nil, false, false)))
}
