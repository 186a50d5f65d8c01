package library

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/modular/internal/abi"
	"github.com/nfrund/modular/internal/events"
)

func TestSubscriptionKeepsEventsQueuedBeforeTeardown(t *testing.T) {
	const queued = 50

	for i := 0; i < 200; i++ {
		s := newSubscription()
		s.ref = abi.SubscriptionRef{Unsubscribe: func(abi.Obj) {}}
		obj := subscribers.Put(s)

		for n := 0; n < queued; n++ {
			require.True(t, s.queue.Push(events.Event{Topic: fmt.Sprint(n)}))
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		got := make(chan []string, 1)
		go func() {
			var topics []string
			for {
				ev, err := s.Next(ctx)
				if err != nil {
					got <- topics
					return
				}
				topics = append(topics, ev.Topic)
			}
		}()

		onUnsubscribe(obj)

		topics := <-got
		cancel()
		require.Len(t, topics, queued, "iteration %d", i)
		assert.Equal(t, "0", topics[0])
		assert.Equal(t, fmt.Sprint(queued-1), topics[queued-1])
	}
}
