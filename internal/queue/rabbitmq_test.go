package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRabbitMQQueue_Publishing(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(90 * time.Second)
	expires := now.Add(10 * time.Minute)

	tests := []struct {
		name         string
		delayed      bool
		notBefore    *time.Time
		notAfter     *time.Time
		wantExchange string
		wantDelay    bool
		wantExpiry   string
	}{
		{name: "immediate", wantExchange: DefaultExchangeName},
		{name: "expiring", notAfter: &expires, wantExchange: DefaultExchangeName, wantExpiry: "600000"},
		{name: "deferred with plugin", delayed: true, notBefore: &later, wantExchange: DefaultDelayedExchangeName, wantDelay: true},
		{name: "deferred without plugin", notBefore: &later, wantExchange: DefaultExchangeName},
		{name: "past not-before", delayed: true, notBefore: &now, wantExchange: DefaultExchangeName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q := &RabbitMQQueue{
				exchangeName:        DefaultExchangeName,
				delayedExchangeName: DefaultDelayedExchangeName,
				delayed:             tt.delayed,
			}
			job := NewTrackerSyncJob("p1", "owner-1")
			job.NotBefore = tt.notBefore
			job.NotAfter = tt.notAfter

			exchange, pub, err := q.publishing(job, now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantExchange, exchange)
			assert.Equal(t, job.ID.String(), pub.MessageId)
			assert.Equal(t, string(JobTypeTrackerSync), pub.Type)
			assert.Equal(t, tt.wantExpiry, pub.Expiration)
			if tt.wantDelay {
				assert.Equal(t, int64(90000), pub.Headers["x-delay"])
			} else {
				assert.Nil(t, pub.Headers)
			}
		})
	}
}

func TestConnectRabbitMQ_GivesUp(t *testing.T) {
	t.Parallel()

	_, err := ConnectRabbitMQ(context.Background(), "not a url", 1, zap.NewNop())
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	_, err = ConnectRabbitMQ(ctx, "not a url", 5, zap.NewNop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "error = %v", err)
	assert.Less(t, time.Since(start), connectInitialDelay)
}
