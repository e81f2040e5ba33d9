package extract

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deck-audit/internal/resilience"
	"github.com/sells-group/deck-audit/pkg/anthropic"
)

func TestCallModel_RetriesTransientTaggedErrors(t *testing.T) {
	client := &fakeClient{reply: func(anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return nil, resilience.NewTransientError(eris.New("anthropic: create message: overloaded"), 529)
	}}
	opts := Options{Retry: resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Millisecond,
	}}

	_, err := callModel(context.Background(), client, opts, anthropic.MessageRequest{})
	require.Error(t, err)
	assert.Equal(t, 3, client.calls, "transient API failures are retried")
}

func TestCallModel_PermanentErrorFailsFast(t *testing.T) {
	client := &fakeClient{reply: func(anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return nil, eris.New("anthropic: create message: invalid_request_error")
	}}
	opts := Options{Retry: resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Millisecond,
	}}

	_, err := callModel(context.Background(), client, opts, anthropic.MessageRequest{})
	require.Error(t, err)
	assert.Equal(t, 1, client.calls, "permanent API failures are not retried")
}

func TestCallModel_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	client := &fakeClient{reply: func(anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return nil, resilience.NewTransientError(eris.New("anthropic: create message: overloaded"), 529)
	}}
	opts := Options{
		Retry: resilience.RetryConfig{MaxAttempts: 1},
		Breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 2,
			ResetTimeout:     1 * time.Hour,
		}),
	}

	for i := 0; i < 2; i++ {
		_, err := callModel(context.Background(), client, opts, anthropic.MessageRequest{})
		require.Error(t, err)
	}

	_, err := callModel(context.Background(), client, opts, anthropic.MessageRequest{})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, client.calls, "an open breaker rejects without calling the API")
}
