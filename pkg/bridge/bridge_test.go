// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/amm/pkg/asset"
	"github.com/luxfi/amm/pkg/engine"
	"github.com/luxfi/amm/pkg/events"
	"github.com/luxfi/amm/pkg/governance"
	"github.com/luxfi/amm/pkg/ids"
	"github.com/luxfi/amm/pkg/ledger"
	"github.com/luxfi/amm/pkg/log"
	"github.com/luxfi/amm/pkg/metric"
	"github.com/luxfi/amm/pkg/oracle"
	"github.com/luxfi/amm/pkg/storage"
)

type env struct {
	relay  *Relay
	store  *storage.Storage
	bank   *asset.Bank
	clock  *ledger.ManualClock
	bus    *events.Bus
	trust  ids.ID
	assetX ids.ID
	assetY ids.ID
}

// newTestEnv builds a relay over a funded (1m, 2m) pool with the trusted
// relay address pre-configured and funded.
func newTestEnv(t *testing.T) *env {
	t.Helper()
	require := require.New(t)

	logger := log.NoOp()
	clock := ledger.NewManualClock(time.Unix(1_700_000_000, 0))
	bus := events.NewBus(logger)
	l := ledger.New(clock, logger)
	o := oracle.New(clock, oracle.DefaultConfig(), bus, logger)
	bank := asset.NewBank()

	m, err := metric.NewMetrics()
	require.NoError(err)

	owner := ids.GenerateTestID()
	trust := ids.GenerateTestID()
	params := governance.DefaultParams()
	params.BridgeRelay = trust
	gov := governance.New(clock, governance.DefaultDelay, owner, owner, params, bus, m, logger)

	eng := engine.New(l, o, gov, bank, bus, m, logger)

	assetX := ids.GenerateTestID()
	assetY := ids.GenerateTestID()
	lp := ids.GenerateTestID()
	bank.Mint(assetX, lp, uint256.NewInt(1_000_000))
	bank.Mint(assetY, lp, uint256.NewInt(2_000_000))

	_, err = eng.CreatePool(lp, assetX, assetY)
	require.NoError(err)
	_, _, _, err = eng.AddLiquidity(engine.AddLiquidityRequest{
		Actor:          lp,
		AssetA:         assetX,
		AssetB:         assetY,
		AmountADesired: uint256.NewInt(1_000_000),
		AmountBDesired: uint256.NewInt(2_000_000),
		Recipient:      lp,
	})
	require.NoError(err)

	// The relay escrows inbound bridged funds in its own account
	bank.Mint(assetX, trust, uint256.NewInt(1_000_000))

	store := storage.NewMemory()
	relay, err := New(eng, gov, store, clock, bus, m, logger)
	require.NoError(err)

	clock.Advance(time.Second)
	return &env{
		relay:  relay,
		store:  store,
		bank:   bank,
		clock:  clock,
		bus:    bus,
		trust:  trust,
		assetX: assetX,
		assetY: assetY,
	}
}

func (e *env) message(amountIn uint64, recipient ids.ID) *Message {
	return &Message{
		AssetIn:      e.assetX,
		AssetOut:     e.assetY,
		AmountIn:     uint256.NewInt(amountIn),
		AmountOutMin: uint256.NewInt(0),
		Recipient:    recipient,
		Deadline:     e.clock.Now().Add(time.Hour).Unix(),
	}
}

func TestCodecRoundTrip(t *testing.T) {
	require := require.New(t)

	msg := &Message{
		AssetIn:      ids.GenerateTestID(),
		AssetOut:     ids.GenerateTestID(),
		AmountIn:     uint256.NewInt(123456),
		AmountOutMin: uint256.NewInt(9),
		Recipient:    ids.GenerateTestID(),
		Deadline:     1_700_000_123,
	}

	payload := msg.Encode()
	require.Len(payload, MessageSize)

	decoded, err := Decode(payload)
	require.NoError(err)
	require.Equal(msg.AssetIn, decoded.AssetIn)
	require.Equal(msg.AssetOut, decoded.AssetOut)
	require.Equal(msg.AmountIn, decoded.AmountIn)
	require.Equal(msg.AmountOutMin, decoded.AmountOutMin)
	require.Equal(msg.Recipient, decoded.Recipient)
	require.Equal(msg.Deadline, decoded.Deadline)

	_, err = Decode(payload[:MessageSize-1])
	require.ErrorIs(err, ErrMalformedMessage)
	_, err = Decode(append(payload, 0))
	require.ErrorIs(err, ErrMalformedMessage)
}

func TestExecuteCrossChainSwap(t *testing.T) {
	require := require.New(t)
	e := newTestEnv(t)

	recipient := ids.GenerateTestID()
	payload := e.message(1000, recipient).Encode()

	messageID := ids.GenerateTestID()
	require.NoError(e.relay.ExecuteCrossChainSwap(e.trust, messageID, payload))
	require.True(e.relay.IsProcessed(messageID))

	// (1000*9970*2000000)/(1000000*10000+1000*9970) = 1992
	require.Equal(uint256.NewInt(1992), e.bank.BalanceOf(e.assetY, recipient))
}

func TestDuplicateInstructionsDistinctIDs(t *testing.T) {
	require := require.New(t)
	e := newTestEnv(t)

	// A user bridging the same amount twice produces two byte-identical
	// instructions; each carries its own message id and both execute.
	recipient := ids.GenerateTestID()
	payload := e.message(1000, recipient).Encode()

	require.NoError(e.relay.ExecuteCrossChainSwap(e.trust, ids.GenerateTestID(), payload))
	e.clock.Advance(time.Minute)
	require.NoError(e.relay.ExecuteCrossChainSwap(e.trust, ids.GenerateTestID(), payload))

	// 1992 from the first fill, 1988 from the second at the moved price
	require.Equal(uint256.NewInt(3980), e.bank.BalanceOf(e.assetY, recipient))
}

func TestSameIDDifferentPayloadRejected(t *testing.T) {
	require := require.New(t)
	e := newTestEnv(t)

	recipient := ids.GenerateTestID()
	messageID := ids.GenerateTestID()
	require.NoError(e.relay.ExecuteCrossChainSwap(e.trust, messageID, e.message(1000, recipient).Encode()))

	e.clock.Advance(time.Minute)
	err := e.relay.ExecuteCrossChainSwap(e.trust, messageID, e.message(500, recipient).Encode())
	require.ErrorIs(err, ErrMessageAlreadyProcessed)
	require.Equal(uint256.NewInt(1992), e.bank.BalanceOf(e.assetY, recipient))
}

func TestEmptyMessageIDRejected(t *testing.T) {
	require := require.New(t)
	e := newTestEnv(t)

	payload := e.message(1000, ids.GenerateTestID()).Encode()
	err := e.relay.ExecuteCrossChainSwap(e.trust, ids.Empty, payload)
	require.ErrorIs(err, ErrEmptyMessageID)
}

func TestReplayRejected(t *testing.T) {
	require := require.New(t)
	e := newTestEnv(t)

	recipient := ids.GenerateTestID()
	payload := e.message(1000, recipient).Encode()
	messageID := ids.GenerateTestID()

	require.NoError(e.relay.ExecuteCrossChainSwap(e.trust, messageID, payload))

	// Redelivery under the same id executes zero times more
	e.clock.Advance(time.Second)
	err := e.relay.ExecuteCrossChainSwap(e.trust, messageID, payload)
	require.ErrorIs(err, ErrMessageAlreadyProcessed)
	require.Equal(uint256.NewInt(1992), e.bank.BalanceOf(e.assetY, recipient))
}

func TestUnauthorizedRelay(t *testing.T) {
	require := require.New(t)
	e := newTestEnv(t)

	payload := e.message(1000, ids.GenerateTestID()).Encode()
	err := e.relay.ExecuteCrossChainSwap(ids.GenerateTestID(), ids.GenerateTestID(), payload)
	require.ErrorIs(err, ErrUnauthorizedBridge)
}

func TestFieldValidation(t *testing.T) {
	require := require.New(t)
	e := newTestEnv(t)

	recipient := ids.GenerateTestID()

	msg := e.message(0, recipient)
	err := e.relay.ExecuteCrossChainSwap(e.trust, ids.GenerateTestID(), msg.Encode())
	require.ErrorIs(err, engine.ErrZeroAmount)

	msg = e.message(1000, ids.Empty)
	err = e.relay.ExecuteCrossChainSwap(e.trust, ids.GenerateTestID(), msg.Encode())
	require.ErrorIs(err, engine.ErrZeroAddress)

	msg = e.message(1000, recipient)
	msg.AssetOut = msg.AssetIn
	err = e.relay.ExecuteCrossChainSwap(e.trust, ids.GenerateTestID(), msg.Encode())
	require.ErrorIs(err, engine.ErrInvalidToken)

	msg = e.message(1000, recipient)
	msg.Deadline = e.clock.Now().Add(-time.Hour).Unix()
	err = e.relay.ExecuteCrossChainSwap(e.trust, ids.GenerateTestID(), msg.Encode())
	require.ErrorIs(err, engine.ErrDeadlineExpired)

	err = e.relay.ExecuteCrossChainSwap(e.trust, ids.GenerateTestID(), []byte("short"))
	require.ErrorIs(err, ErrMalformedMessage)
}

func TestFailedSwapReleasesMark(t *testing.T) {
	require := require.New(t)
	e := newTestEnv(t)

	recipient := ids.GenerateTestID()
	msg := e.message(1000, recipient)
	msg.AmountOutMin = uint256.NewInt(10_000) // quote is 1992
	messageID := ids.GenerateTestID()

	err := e.relay.ExecuteCrossChainSwap(e.trust, messageID, msg.Encode())
	require.ErrorIs(err, engine.ErrSlippageExceeded)
	require.False(e.relay.IsProcessed(messageID))

	// The relay may redeliver the same id once conditions change
	msg.AmountOutMin = uint256.NewInt(0)
	require.NoError(e.relay.ExecuteCrossChainSwap(e.trust, messageID, msg.Encode()))
}

func TestProcessedSetSurvivesRestart(t *testing.T) {
	require := require.New(t)
	e := newTestEnv(t)

	recipient := ids.GenerateTestID()
	payload := e.message(1000, recipient).Encode()
	messageID := ids.GenerateTestID()

	require.NoError(e.relay.ExecuteCrossChainSwap(e.trust, messageID, payload))

	// A relay rebuilt over the same storage still rejects the replay.
	// Collaborators other than storage are irrelevant to the mark.
	logger := log.NoOp()
	m, err := metric.NewMetrics()
	require.NoError(err)
	l := ledger.New(e.clock, logger)
	o := oracle.New(e.clock, oracle.DefaultConfig(), e.bus, logger)
	owner := ids.GenerateTestID()
	params := governance.DefaultParams()
	params.BridgeRelay = e.trust
	gov := governance.New(e.clock, governance.DefaultDelay, owner, owner, params, e.bus, m, logger)
	eng := engine.New(l, o, gov, e.bank, e.bus, m, logger)

	reborn, err := New(eng, gov, e.store, e.clock, e.bus, m, logger)
	require.NoError(err)
	require.True(reborn.IsProcessed(messageID))

	err = reborn.ExecuteCrossChainSwap(e.trust, messageID, payload)
	require.ErrorIs(err, ErrMessageAlreadyProcessed)
}
