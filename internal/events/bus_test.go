package events

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitDeliversToSubscribers(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var received []*Event
	bus.Subscribe(DepositProcessed, func(event *Event) {
		received = append(received, event)
	})

	bus.Emit(DepositProcessed, "vault", DepositProcessedData{
		Holder: "alice",
		Amount: 1_000,
		Shares: 1_000,
	})
	bus.Emit(WithdrawProcessed, "vault", nil)

	require.Len(t, received, 1)
	assert.Equal(t, DepositProcessed, received[0].Type)
	assert.Equal(t, "vault", received[0].Module)
	assert.Equal(t, "alice", received[0].Data["holder"])
}

func TestSubscribeAllSeesEverything(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var types []EventType
	bus.SubscribeAll(func(event *Event) {
		types = append(types, event.Type)
	})

	bus.Emit(DepositProcessed, "vault", nil)
	bus.Emit(RebalanceExecuted, "rebalancing", nil)

	assert.Equal(t, []EventType{DepositProcessed, RebalanceExecuted}, types)
}

func TestSubscribeAllUnsubscribe(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var count int
	unsubscribe := bus.SubscribeAll(func(*Event) { count++ })

	bus.Emit(DepositProcessed, "vault", nil)
	unsubscribe()
	bus.Emit(DepositProcessed, "vault", nil)

	assert.Equal(t, 1, count)
}

func TestEmitWithoutSubscribersIsSafe(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	bus.Emit(ErrorOccurred, "vault", ErrorEventData{Error: "boom"})
}
