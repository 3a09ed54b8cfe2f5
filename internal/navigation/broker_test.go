package navigation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToEverySubscriber(t *testing.T) {
	b := NewBroker("/")
	defer b.Close()

	first := b.Subscribe(context.Background())
	second := b.Subscribe(context.Background())

	b.Navigate("/orders", true)

	for _, ch := range []<-chan LocationChanged{first, second} {
		event := <-ch
		require.Equal(t, "/orders", event.URL)
		require.True(t, event.Intercepted)
	}
	require.Equal(t, "/orders", b.Current())
}

func TestBrokerDropsOldestWhenFull(t *testing.T) {
	b := NewBrokerWithBuffer("/", 2)
	defer b.Close()

	ch := b.Subscribe(context.Background())
	b.Navigate("/a", false)
	b.Navigate("/b", false)
	b.Navigate("/c", false)

	require.Equal(t, "/b", (<-ch).URL)
	require.Equal(t, "/c", (<-ch).URL)
}

func TestUnsubscribeOnCancel(t *testing.T) {
	b := NewBroker("/")
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx)
	require.Equal(t, 1, b.SubscriberCount())

	cancel()
	require.Eventually(t, func() bool { return b.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)

	_, ok := <-ch
	require.False(t, ok)
}

func TestClosedBroker(t *testing.T) {
	b := NewBroker("/start")
	ch := b.Subscribe(context.Background())
	b.Close()
	b.Close()

	_, ok := <-ch
	require.False(t, ok)

	b.Navigate("/ignored", false)
	require.Equal(t, "/start", b.Current())

	_, ok = <-b.Subscribe(context.Background())
	require.False(t, ok)
}
