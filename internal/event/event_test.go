package event_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/hbomb79/Iris/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Dispatch_DeliversToHandlerChannel(t *testing.T) {
	bus := event.New()
	channel := make(event.HandlerChannel, 2)
	bus.RegisterHandlerChannel(channel, event.DOWNLOAD_UPDATE)

	id := uuid.New()
	bus.Dispatch(event.DOWNLOAD_UPDATE, id)

	require.Len(t, channel, 1)
	message := <-channel
	assert.Equal(t, event.DOWNLOAD_UPDATE, message.Event)
	assert.Equal(t, id, message.Payload)
}

func Test_Dispatch_NeverBlocksOnFullHandlerChannel(t *testing.T) {
	bus := event.New()
	channel := make(event.HandlerChannel, 1)
	bus.RegisterHandlerChannel(channel, event.DOWNLOAD_COMPLETE)

	// With nothing draining the channel, repeated dispatches must drop
	// the overflow and return rather than wedging the dispatcher. This
	// is what lets shutdown terminalize many jobs after the activity
	// bridge has stopped consuming.
	first := uuid.New()
	bus.Dispatch(event.DOWNLOAD_COMPLETE, first)
	for i := 0; i < 150; i++ {
		bus.Dispatch(event.DOWNLOAD_COMPLETE, uuid.New())
	}

	require.Len(t, channel, 1)
	message := <-channel
	assert.Equal(t, first, message.Payload, "the buffered event survives; overflow is dropped")
}

func Test_Dispatch_RejectsIllegalPayloads(t *testing.T) {
	bus := event.New()
	channel := make(event.HandlerChannel, 1)
	bus.RegisterHandlerChannel(channel, event.DOWNLOAD_PROGRESS)

	bus.Dispatch(event.DOWNLOAD_PROGRESS, "not-a-uuid")
	bus.Dispatch(event.DOWNLOAD_PROGRESS, nil)

	assert.Empty(t, channel, "events with non-UUID payloads are not delivered")
}

func Test_Dispatch_HandlerFunctionsSeeEachEvent(t *testing.T) {
	bus := event.New()

	received := make([]event.Event, 0)
	bus.RegisterHandlerFunction(event.DOWNLOAD_UPDATE, func(ev event.Event, payload event.Payload) {
		received = append(received, ev)
	})

	bus.Dispatch(event.DOWNLOAD_UPDATE, uuid.New())
	bus.Dispatch(event.DOWNLOAD_UPDATE, uuid.New())

	assert.Len(t, received, 2)
}
