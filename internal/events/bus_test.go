package events_test

import (
	"testing"

	"codeberg.org/mutker/nvtuner/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	defer cancel()

	for i := 0; i < 3; i++ {
		e := events.New(events.StressProgress)
		e.Step = i
		bus.Publish(e)
	}

	for i := 0; i < 3; i++ {
		got := <-ch
		assert.Equal(t, i, got.Step)
	}
}

func TestBusDropsOldestWhenFull(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	defer cancel()

	// One more than the buffer holds; the first event must be dropped,
	// never the publisher blocked.
	const total = 17
	for i := 0; i < total; i++ {
		e := events.New(events.StressProgress)
		e.Step = i
		bus.Publish(e)
	}

	got := <-ch
	assert.Equal(t, 1, got.Step, "the oldest event is dropped to make room")
}

func TestBusUnsubscribe(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	cancel()

	_, open := <-ch
	require.False(t, open, "cancel closes the subscription channel")

	// Publishing after cancel must not panic.
	bus.Publish(events.New(events.StageProgress))
}

func TestBusSubscribeAfterClose(t *testing.T) {
	bus := events.NewBus()
	bus.Close()

	ch, cancel := bus.Subscribe()
	defer cancel()

	_, open := <-ch
	assert.False(t, open)
}

func TestMultiFansOut(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	ch, cancel := bus.Subscribe()
	defer cancel()

	multi := events.Multi{events.Nop{}, bus}
	multi.Publish(events.New(events.OptimizationComplete))

	got := <-ch
	assert.Equal(t, events.OptimizationComplete, got.Type)
}
