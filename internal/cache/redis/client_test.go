package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsales/backend/internal/ingestion"
	"github.com/fieldsales/backend/pkg/circuitbreaker"
)

func unreachable(t *testing.T) *Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := New(rdb, time.Minute)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestStageOpensBreakerWhenUnreachable(t *testing.T) {
	ctx := context.Background()
	c := unreachable(t)
	up := ingestion.NewStagedUpload("evaluation", "a.csv", []byte("a"), &ingestion.Table{})

	for i := 0; i < 3; i++ {
		err := c.Stage(ctx, up)
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	}

	err := c.Stage(ctx, up)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, circuitbreaker.StateOpen, c.breaker.State())
}

func TestFallbackKeepsStagingAvailable(t *testing.T) {
	ctx := context.Background()
	stager := &ingestion.FallbackStager{
		Primary:   unreachable(t),
		Secondary: ingestion.NewMemoryStager(time.Minute),
	}

	up := ingestion.NewStagedUpload("evaluation", "b.csv", []byte("b"), &ingestion.Table{Headers: []string{"Number"}})
	require.NoError(t, stager.Stage(ctx, up))

	got, err := stager.Load(ctx, up.Key)
	require.NoError(t, err)
	assert.Equal(t, []string{"Number"}, got.Table.Headers)
}
