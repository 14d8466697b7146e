// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/amm/pkg/engine"
	"github.com/luxfi/amm/pkg/events"
	"github.com/luxfi/amm/pkg/governance"
	"github.com/luxfi/amm/pkg/ids"
	"github.com/luxfi/amm/pkg/ledger"
	"github.com/luxfi/amm/pkg/log"
	"github.com/luxfi/amm/pkg/metric"
	"github.com/luxfi/amm/pkg/storage"
)

var (
	ErrUnauthorizedBridge      = errors.New("unauthorized bridge relay")
	ErrMessageAlreadyProcessed = errors.New("message already processed")
	ErrEmptyMessageID          = errors.New("empty message id")
)

// processedPrefix keys the durable replay-protection set
var processedPrefix = []byte("bridge/processed/")

// Relay executes swap instructions delivered by the trusted bridge
// relay. Each message carries a relay-assigned unique id and executes at
// most once, ever: the processed set is keyed by that id and persisted
// across restarts. Two independent instructions with identical fields are
// distinct messages as long as their ids differ.
type Relay struct {
	engine  *engine.Engine
	gov     *governance.Timelock
	store   *storage.Storage
	clock   ledger.Clock
	bus     *events.Bus
	metrics *metric.Metrics
	log     log.Logger

	mu        sync.Mutex
	processed map[ids.ID]bool
}

// New creates a relay, loading the processed set from storage
func New(
	eng *engine.Engine,
	gov *governance.Timelock,
	store *storage.Storage,
	clock ledger.Clock,
	bus *events.Bus,
	m *metric.Metrics,
	logger log.Logger,
) (*Relay, error) {
	r := &Relay{
		engine:    eng,
		gov:       gov,
		store:     store,
		clock:     clock,
		bus:       bus,
		metrics:   m,
		log:       logger,
		processed: make(map[ids.ID]bool),
	}

	it := store.NewIteratorWithPrefix(processedPrefix)
	defer it.Release()
	for it.Next() {
		key := it.Key()
		var id ids.ID
		copy(id[:], key[len(processedPrefix):])
		r.processed[id] = true
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("load processed set: %w", err)
	}

	if len(r.processed) > 0 {
		logger.Info("bridge replay set loaded", "messages", len(r.processed))
	}
	return r, nil
}

// IsProcessed reports whether a message has already executed
func (r *Relay) IsProcessed(messageID ids.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed[messageID]
}

// ExecuteCrossChainSwap validates and executes one relayed instruction
// under the id the source chain assigned to it. The message is marked
// processed before the swap runs, so a re-entrant or concurrent delivery
// under the same id is rejected; a failed swap releases the mark so the
// relay can redeliver once the cause clears.
func (r *Relay) ExecuteCrossChainSwap(relayActor, messageID ids.ID, payload []byte) error {
	if err := r.executeLocked(relayActor, messageID, payload); err != nil {
		if errors.Is(err, ErrMessageAlreadyProcessed) {
			r.metrics.BridgeMessagesReplayed.Inc()
		} else {
			r.metrics.OperationFailures.WithLabelValues("bridge_execute", bridgeErrKind(err)).Inc()
		}
		return err
	}
	r.metrics.BridgeMessagesExecuted.Inc()
	return nil
}

func (r *Relay) executeLocked(relayActor, messageID ids.ID, payload []byte) error {
	trusted := r.gov.BridgeRelay()
	if trusted.IsEmpty() || relayActor != trusted {
		return ErrUnauthorizedBridge
	}
	if messageID.IsEmpty() {
		return ErrEmptyMessageID
	}
	if r.IsProcessed(messageID) {
		return ErrMessageAlreadyProcessed
	}

	msg, err := Decode(payload)
	if err != nil {
		return err
	}

	if msg.AssetIn.IsEmpty() || msg.AssetOut.IsEmpty() || msg.AssetIn == msg.AssetOut {
		return engine.ErrInvalidToken
	}
	if msg.AmountIn.IsZero() {
		return engine.ErrZeroAmount
	}
	if msg.Recipient.IsEmpty() {
		return engine.ErrZeroAddress
	}

	var deadline time.Time
	if msg.Deadline != 0 {
		deadline = time.Unix(msg.Deadline, 0)
		if r.clock.Now().After(deadline) {
			return engine.ErrDeadlineExpired
		}
	}

	if err := r.markProcessed(messageID); err != nil {
		return err
	}

	amountOut, err := r.engine.Swap(engine.SwapRequest{
		Actor:        relayActor,
		AssetIn:      msg.AssetIn,
		AssetOut:     msg.AssetOut,
		AmountIn:     msg.AmountIn,
		AmountOutMin: msg.AmountOutMin,
		Recipient:    msg.Recipient,
		Deadline:     deadline,
	})
	if err != nil {
		r.unmarkProcessed(messageID)
		return fmt.Errorf("relayed swap: %w", err)
	}

	r.log.Info("cross-chain swap executed",
		"message", messageID,
		"asset_in", msg.AssetIn,
		"asset_out", msg.AssetOut,
		"amount_in", msg.AmountIn.Dec(),
		"amount_out", amountOut.Dec(),
		"recipient", msg.Recipient)
	r.bus.Emit(events.CrossChainSwapExecuted{
		MessageID: messageID,
		Relay:     relayActor,
		AssetIn:   msg.AssetIn,
		AssetOut:  msg.AssetOut,
		AmountIn:  msg.AmountIn.Dec(),
		AmountOut: amountOut.Dec(),
		Recipient: msg.Recipient,
		Timestamp: r.clock.Now(),
	})

	return nil
}

// markProcessed records the message durably and in memory, failing on a
// duplicate
func (r *Relay) markProcessed(messageID ids.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.processed[messageID] {
		return ErrMessageAlreadyProcessed
	}
	key := append(append([]byte{}, processedPrefix...), messageID[:]...)
	if err := r.store.Put(key, []byte{1}); err != nil {
		return fmt.Errorf("persist processed mark: %w", err)
	}
	r.processed[messageID] = true
	return nil
}

// unmarkProcessed releases a mark after a failed execution so the relay
// can redeliver
func (r *Relay) unmarkProcessed(messageID ids.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := append(append([]byte{}, processedPrefix...), messageID[:]...)
	if err := r.store.Delete(key); err != nil {
		// The durable mark outlives the in-memory one; err on the side of
		// rejecting redelivery rather than double-executing.
		r.log.Error("failed to release processed mark", "message", messageID, "error", err)
		return
	}
	delete(r.processed, messageID)
}

func bridgeErrKind(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorizedBridge):
		return "unauthorized_relay"
	case errors.Is(err, ErrEmptyMessageID):
		return "empty_message_id"
	case errors.Is(err, ErrMalformedMessage):
		return "malformed_message"
	case errors.Is(err, engine.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, engine.ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, engine.ErrZeroAddress):
		return "zero_address"
	case errors.Is(err, engine.ErrDeadlineExpired):
		return "deadline_expired"
	default:
		return "other"
	}
}
