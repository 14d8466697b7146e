// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/amm/pkg/ids"
	"github.com/luxfi/amm/pkg/log"
)

func testEvent() Event {
	return PoolCreated{
		PoolID:    ids.GenerateTestID(),
		Asset0:    ids.GenerateTestID(),
		Asset1:    ids.GenerateTestID(),
		Actor:     ids.GenerateTestID(),
		Timestamp: time.Unix(1_700_000_000, 0),
	}
}

func TestBusFansOut(t *testing.T) {
	require := require.New(t)
	bus := NewBus(log.NoOp())

	a := bus.Subscribe()
	b := bus.Subscribe()
	bus.Emit(testEvent())

	require.Len(a, 1)
	require.Len(b, 1)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	require := require.New(t)
	bus := NewBus(log.NoOp())

	gone := bus.Subscribe()
	stays := bus.Subscribe()

	bus.Unsubscribe(gone)
	bus.Emit(testEvent())

	require.Len(gone, 0)
	require.Len(stays, 1)

	// The dropped subscriber no longer occupies a slot
	bus.mu.RLock()
	n := len(bus.subs)
	bus.mu.RUnlock()
	require.Equal(1, n)
}

func TestUnsubscribeUnknownChannelIsNoOp(t *testing.T) {
	require := require.New(t)
	bus := NewBus(log.NoOp())

	kept := bus.Subscribe()
	bus.Unsubscribe(make(chan Event))
	bus.Emit(testEvent())
	require.Len(kept, 1)
}
