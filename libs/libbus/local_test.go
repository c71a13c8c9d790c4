package libbus_test

import (
	"testing"
	"time"

	"github.com/js402/ollamagate/libs/libbus"
	"github.com/stretchr/testify/require"
)

func TestLocalPublishStream(t *testing.T) {
	bus := libbus.NewLocalPubSub()
	defer bus.Close()

	ch := make(chan []byte, 4)
	sub, err := bus.Stream(t.Context(), "updates", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, bus.Publish(t.Context(), "updates", []byte("hello")))

	select {
	case msg := <-ch:
		require.Equal(t, "hello", string(msg))
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestLocalSubjectIsolation(t *testing.T) {
	bus := libbus.NewLocalPubSub()
	defer bus.Close()

	ch := make(chan []byte, 4)
	_, err := bus.Stream(t.Context(), "a", ch)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(t.Context(), "b", []byte("other")))
	select {
	case <-ch:
		t.Fatal("received message for a different subject")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocalUnsubscribeStopsDelivery(t *testing.T) {
	bus := libbus.NewLocalPubSub()
	defer bus.Close()

	ch := make(chan []byte, 4)
	sub, err := bus.Stream(t.Context(), "a", ch)
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())

	require.NoError(t, bus.Publish(t.Context(), "a", []byte("late")))
	select {
	case <-ch:
		t.Fatal("received message after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocalPublishAfterClose(t *testing.T) {
	bus := libbus.NewLocalPubSub()
	require.NoError(t, bus.Close())
	require.ErrorIs(t, bus.Publish(t.Context(), "a", []byte("x")), libbus.ErrConnectionClosed)
}

func TestLocalSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := libbus.NewLocalPubSub()
	defer bus.Close()

	ch := make(chan []byte) // unbuffered and never drained
	_, err := bus.Stream(t.Context(), "a", ch)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = bus.Publish(t.Context(), "a", []byte("dropped"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
