// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/luxfi/amm/pkg/ids"
	"github.com/luxfi/amm/pkg/log"
)

// Event type names as they appear on the wire and in the journal.
const (
	TypePoolCreated            = "PoolCreated"
	TypeSwap                   = "Swap"
	TypeLiquidityAdded         = "LiquidityAdded"
	TypeLiquidityRemoved       = "LiquidityRemoved"
	TypeFlashLoanFeeAdded      = "FlashLoanFeeAdded"
	TypePriceUpdated           = "PriceUpdated"
	TypePriceDeviationAlert    = "PriceDeviationAlert"
	TypeCrossChainSwapExecuted = "CrossChainSwapExecuted"
	TypeChangeProposed         = "ChangeProposed"
	TypeChangeExecuted         = "ChangeExecuted"
	TypeChangeCancelled        = "ChangeCancelled"
)

// Event is implemented by every engine event. Amounts are decimal strings
// so the off-chain indexer can reconstruct pool state without re-deriving
// any internal math.
type Event interface {
	EventType() string
}

// PoolCreated is emitted once per pool genesis
type PoolCreated struct {
	PoolID    ids.ID    `json:"pool_id"`
	Asset0    ids.ID    `json:"asset0"`
	Asset1    ids.ID    `json:"asset1"`
	Actor     ids.ID    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}

func (PoolCreated) EventType() string { return TypePoolCreated }

// Swap is emitted after every successful trade
type Swap struct {
	PoolID         ids.ID    `json:"pool_id"`
	Sender         ids.ID    `json:"sender"`
	Recipient      ids.ID    `json:"recipient"`
	AssetIn        ids.ID    `json:"asset_in"`
	AssetOut       ids.ID    `json:"asset_out"`
	AmountIn       string    `json:"amount_in"`
	AmountOut      string    `json:"amount_out"`
	PriceImpactBps uint64    `json:"price_impact_bps"`
	Timestamp      time.Time `json:"timestamp"`
}

func (Swap) EventType() string { return TypeSwap }

// LiquidityAdded is emitted on every share mint
type LiquidityAdded struct {
	PoolID       ids.ID    `json:"pool_id"`
	Provider     ids.ID    `json:"provider"`
	Amount0      string    `json:"amount0"`
	Amount1      string    `json:"amount1"`
	SharesMinted string    `json:"shares_minted"`
	Timestamp    time.Time `json:"timestamp"`
}

func (LiquidityAdded) EventType() string { return TypeLiquidityAdded }

// LiquidityRemoved is emitted on every share burn
type LiquidityRemoved struct {
	PoolID       ids.ID    `json:"pool_id"`
	Provider     ids.ID    `json:"provider"`
	Amount0      string    `json:"amount0"`
	Amount1      string    `json:"amount1"`
	SharesBurned string    `json:"shares_burned"`
	Timestamp    time.Time `json:"timestamp"`
}

func (LiquidityRemoved) EventType() string { return TypeLiquidityRemoved }

// FlashLoanFeeAdded records a flash-loan fee compounded into reserves
type FlashLoanFeeAdded struct {
	PoolID    ids.ID    `json:"pool_id"`
	Asset     ids.ID    `json:"asset"`
	Borrower  ids.ID    `json:"borrower"`
	Amount    string    `json:"amount"`
	Fee       string    `json:"fee"`
	Routed    bool      `json:"routed"` // false when the fee fell back to the treasury
	Timestamp time.Time `json:"timestamp"`
}

func (FlashLoanFeeAdded) EventType() string { return TypeFlashLoanFeeAdded }

// PriceUpdated is emitted on every successful oracle sample
type PriceUpdated struct {
	PoolID     ids.ID          `json:"pool_id"`
	Reserve0   string          `json:"reserve0"`
	Reserve1   string          `json:"reserve1"`
	SpotPrice0 decimal.Decimal `json:"spot_price0"`
	Height     uint64          `json:"height"`
	Timestamp  time.Time       `json:"timestamp"`
}

func (PriceUpdated) EventType() string { return TypePriceUpdated }

// PriceDeviationAlert flags an instantaneous price far from the TWAP
type PriceDeviationAlert struct {
	PoolID       ids.ID          `json:"pool_id"`
	DeviationBps uint64          `json:"deviation_bps"`
	SpotPrice0   decimal.Decimal `json:"spot_price0"`
	TwapPrice0   decimal.Decimal `json:"twap_price0"`
	Timestamp    time.Time       `json:"timestamp"`
}

func (PriceDeviationAlert) EventType() string { return TypePriceDeviationAlert }

// CrossChainSwapExecuted records a relayed swap instruction
type CrossChainSwapExecuted struct {
	MessageID ids.ID    `json:"message_id"`
	Relay     ids.ID    `json:"relay"`
	AssetIn   ids.ID    `json:"asset_in"`
	AssetOut  ids.ID    `json:"asset_out"`
	AmountIn  string    `json:"amount_in"`
	AmountOut string    `json:"amount_out"`
	Recipient ids.ID    `json:"recipient"`
	Timestamp time.Time `json:"timestamp"`
}

func (CrossChainSwapExecuted) EventType() string { return TypeCrossChainSwapExecuted }

// ChangeProposed is emitted when a timelocked change is queued
type ChangeProposed struct {
	ChangeID    ids.ID    `json:"change_id"`
	Kind        string    `json:"kind"`
	EffectiveAt time.Time `json:"effective_at"`
	Timestamp   time.Time `json:"timestamp"`
}

func (ChangeProposed) EventType() string { return TypeChangeProposed }

// ChangeExecuted is emitted when a timelocked change is applied
type ChangeExecuted struct {
	ChangeID  ids.ID    `json:"change_id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

func (ChangeExecuted) EventType() string { return TypeChangeExecuted }

// ChangeCancelled is emitted when a pending change is dropped unapplied
type ChangeCancelled struct {
	ChangeID  ids.ID    `json:"change_id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

func (ChangeCancelled) EventType() string { return TypeChangeCancelled }

// Sink receives serialized events for durable storage
type Sink interface {
	Append(eventType string, payload []byte) error
}

// Bus fans events out to in-process subscribers and an optional sink.
// Emission never blocks the engine: slow subscribers drop events.
type Bus struct {
	mu   sync.RWMutex
	subs []chan Event
	sink Sink
	log  log.Logger
}

// NewBus creates an event bus
func NewBus(logger log.Logger) *Bus {
	return &Bus{log: logger}
}

// SetSink attaches a durable journal sink
func (b *Bus) SetSink(sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
}

// Subscribe returns a buffered channel receiving all future events.
// Callers that go away must Unsubscribe, or their full buffer turns
// every later Emit into a drop.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 256)
	b.subs = append(b.subs, ch)
	return ch
}

// Unsubscribe removes a subscriber. The channel is left open so an Emit
// racing the removal cannot send on a closed channel.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Emit publishes an event to all subscribers and the sink
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	sink := b.sink
	subs := b.subs
	b.mu.RUnlock()

	if sink != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			b.log.Error("event marshal failed", "type", ev.EventType(), "error", err)
		} else if err := sink.Append(ev.EventType(), payload); err != nil {
			b.log.Error("event journal append failed", "type", ev.EventType(), "error", err)
		}
	}

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			b.log.Warn("event subscriber lagging, dropping event", "type", ev.EventType())
		}
	}
}
