package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubBroadcastsToSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(4)
	go hub.Run(ctx)

	a, cancelA := hub.Subscribe(ctx)
	b, cancelB := hub.Subscribe(ctx)
	defer cancelB()

	require.Eventually(t, func() bool { return hub.Subscribers() == 2 }, time.Second, 5*time.Millisecond)

	hub.Publish(Location{ID: 7, Name: "Sara", Lat: 35.7, Lng: 51.4})

	for _, ch := range []<-chan Location{a, b} {
		select {
		case loc := <-ch:
			assert.Equal(t, int64(7), loc.ID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for update")
		}
	}

	cancelA()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	_, open := <-a
	assert.False(t, open)
}

func TestHubClosesSubscribersOnStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(1)
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	ch, unsubscribe := hub.Subscribe(context.Background())
	cancel()
	<-done

	_, open := <-ch
	assert.False(t, open)
	unsubscribe()
	assert.Equal(t, 0, hub.Subscribers())
}
