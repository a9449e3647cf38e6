package webhook

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHub_PublishToSubscribers(t *testing.T) {
	hub := NewHub(4)
	a, cancelA := hub.Subscribe()
	b, cancelB := hub.Subscribe()
	defer cancelA()
	defer cancelB()

	hub.Publish(EventAck, map[string]string{"id": "wamid.1"})

	for _, ch := range []<-chan Event{a, b} {
		evt := <-ch
		assert.Equal(t, EventAck, evt.Event)
		assert.Equal(t, map[string]string{"id": "wamid.1"}, evt.Data)
		assert.NotZero(t, evt.Time)
	}
}

func TestHub_SlowSubscriberDropsEvents(t *testing.T) {
	hub := NewHub(1)
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Publish(EventMessage, 1)
	hub.Publish(EventMessage, 2)

	assert.Equal(t, 1, (<-ch).Data)
	assert.Len(t, ch, 0)
}

func TestHub_CancelClosesChannel(t *testing.T) {
	hub := NewHub(1)
	ch, cancel := hub.Subscribe()
	assert.Equal(t, 1, hub.Subscribers())

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, hub.Subscribers())

	hub.Publish(EventMessage, "after cancel")
}

func TestHub_NilPublishIsNoop(t *testing.T) {
	var hub *Hub
	hub.Publish(EventMessage, nil)
}

func TestHub_ConcurrentUse(t *testing.T) {
	hub := NewHub(16)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, cancel := hub.Subscribe()
			cancel()
		}()
		go func(i int) {
			defer wg.Done()
			hub.Publish(EventMessage, i)
		}(i)
	}
	wg.Wait()
	assert.Zero(t, hub.Subscribers())
}

func TestHub_CloseEndsSubscriptions(t *testing.T) {
	hub := NewHub(1)
	ch, cancel := hub.Subscribe()

	hub.Close()
	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, hub.Subscribers())
	cancel()

	late, lateCancel := hub.Subscribe()
	_, open = <-late
	assert.False(t, open, "subscriptions after Close are already closed")
	lateCancel()
	assert.Zero(t, hub.Subscribers())
}
