// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package governance

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/luxfi/amm/pkg/events"
	"github.com/luxfi/amm/pkg/ids"
	"github.com/luxfi/amm/pkg/ledger"
	"github.com/luxfi/amm/pkg/log"
	"github.com/luxfi/amm/pkg/metric"
)

var (
	ErrAlreadyPending     = errors.New("change already pending")
	ErrNoPendingChange    = errors.New("no pending change")
	ErrTimelockNotExpired = errors.New("timelock not expired")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrFeeTooHigh         = errors.New("fee exceeds hard cap")
	ErrInvalidChange      = errors.New("invalid change payload")
)

// MaxFeeRateBps caps swap and flash-loan fees independently of the
// timelock, so governance cannot schedule unbounded value extraction.
const MaxFeeRateBps = 100

// DefaultDelay is the mandatory wait between proposing and executing
const DefaultDelay = 48 * time.Hour

// ChangeKind identifies the governed parameter a change mutates
type ChangeKind string

const (
	KindSetFeeRate        ChangeKind = "set_fee_rate"
	KindSetFlashFeeRate   ChangeKind = "set_flash_fee_rate"
	KindPause             ChangeKind = "pause"
	KindUnpause           ChangeKind = "unpause"
	KindBlacklistAsset    ChangeKind = "blacklist_asset"
	KindUnblacklistAsset  ChangeKind = "unblacklist_asset"
	KindSetMaxSwapSize    ChangeKind = "set_max_swap_size"
	KindSetBridgeRelay    ChangeKind = "set_bridge_relay"
	KindApproveBorrower   ChangeKind = "approve_borrower"
	KindRevokeBorrower    ChangeKind = "revoke_borrower"
)

// Change is the payload applied when a proposal executes
type Change struct {
	Kind        ChangeKind
	FeeRateBps  uint64
	Asset       ids.ID
	Addr        ids.ID
	MaxSwapSize *uint256.Int
}

// PendingChange is a proposed-but-unapplied change
type PendingChange struct {
	ChangeID    ids.ID
	Change      Change
	EffectiveAt time.Time
}

// Params is the mutable governed configuration read by the engine and
// its subsystems. All access goes through the Timelock's getters.
type Params struct {
	FeeRateBps         uint64
	FlashFeeRateBps    uint64
	MaxLoanFractionBps uint64
	Paused             bool
	MaxSwapSize        *uint256.Int // nil means unlimited
	Blacklist          map[ids.ID]bool
	BridgeRelay        ids.ID
	ApprovedBorrowers  map[ids.ID]bool
}

// DefaultParams returns the genesis configuration
func DefaultParams() Params {
	return Params{
		FeeRateBps:         30, // 0.3%
		FlashFeeRateBps:    9,  // 0.09%
		MaxLoanFractionBps: 1000,
		Blacklist:          make(map[ids.ID]bool),
		ApprovedBorrowers:  make(map[ids.ID]bool),
	}
}

// Timelock gates every irreversible administrative mutation behind a
// mandatory delay. Only full pause has an emergency-owner override.
type Timelock struct {
	mu    sync.RWMutex
	clock ledger.Clock
	delay time.Duration

	owner          ids.ID
	emergencyOwner ids.ID

	params Params

	pending map[ids.ID]*PendingChange
	// at most one pending change per governed parameter
	pendingParams map[string]ids.ID

	bus     *events.Bus
	metrics *metric.Metrics
	log     log.Logger
}

// New creates a timelock with the given owner and emergency owner
func New(clock ledger.Clock, delay time.Duration, owner, emergencyOwner ids.ID, params Params, bus *events.Bus, m *metric.Metrics, logger log.Logger) *Timelock {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if params.Blacklist == nil {
		params.Blacklist = make(map[ids.ID]bool)
	}
	if params.ApprovedBorrowers == nil {
		params.ApprovedBorrowers = make(map[ids.ID]bool)
	}
	return &Timelock{
		clock:          clock,
		delay:          delay,
		owner:          owner,
		emergencyOwner: emergencyOwner,
		params:         params,
		pending:        make(map[ids.ID]*PendingChange),
		pendingParams:  make(map[string]ids.ID),
		bus:            bus,
		metrics:        m,
		log:            logger,
	}
}

// paramKey maps a change to the single governed parameter it mutates
func paramKey(c Change) string {
	switch c.Kind {
	case KindPause, KindUnpause:
		return "paused"
	case KindBlacklistAsset, KindUnblacklistAsset:
		return "blacklist/" + c.Asset.String()
	case KindApproveBorrower, KindRevokeBorrower:
		return "borrower/" + c.Addr.String()
	default:
		return string(c.Kind)
	}
}

func validate(c Change) error {
	switch c.Kind {
	case KindSetFeeRate, KindSetFlashFeeRate:
		if c.FeeRateBps > MaxFeeRateBps {
			return ErrFeeTooHigh
		}
	case KindSetBridgeRelay:
		if c.Addr.IsEmpty() {
			return fmt.Errorf("%w: zero relay address", ErrInvalidChange)
		}
	case KindPause, KindUnpause, KindBlacklistAsset, KindUnblacklistAsset,
		KindSetMaxSwapSize, KindApproveBorrower, KindRevokeBorrower:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidChange, c.Kind)
	}
	return nil
}

// Propose queues a change to take effect after the delay
func (t *Timelock) Propose(actor, changeID ids.ID, change Change) error {
	if err := validate(change); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if actor != t.owner {
		return ErrUnauthorized
	}
	if _, exists := t.pending[changeID]; exists {
		return ErrAlreadyPending
	}
	if _, exists := t.pendingParams[paramKey(change)]; exists {
		return ErrAlreadyPending
	}

	effectiveAt := t.clock.Now().Add(t.delay)
	t.pending[changeID] = &PendingChange{
		ChangeID:    changeID,
		Change:      change,
		EffectiveAt: effectiveAt,
	}
	t.pendingParams[paramKey(change)] = changeID

	t.log.Info("change proposed",
		"change", changeID, "kind", change.Kind, "effective_at", effectiveAt)
	t.bus.Emit(events.ChangeProposed{
		ChangeID:    changeID,
		Kind:        string(change.Kind),
		EffectiveAt: effectiveAt,
		Timestamp:   t.clock.Now(),
	})

	return nil
}

// Execute applies a pending change exactly once after its delay
func (t *Timelock) Execute(actor, changeID ids.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if actor != t.owner {
		return ErrUnauthorized
	}
	pc, exists := t.pending[changeID]
	if !exists {
		return ErrNoPendingChange
	}
	if t.clock.Now().Before(pc.EffectiveAt) {
		return ErrTimelockNotExpired
	}

	// Hard cap re-checked at execution: the cap binds regardless of what
	// was queued.
	if err := validate(pc.Change); err != nil {
		return err
	}

	t.apply(pc.Change)
	delete(t.pending, changeID)
	delete(t.pendingParams, paramKey(pc.Change))

	t.metrics.GovernanceChanges.Inc()
	t.log.Info("change executed", "change", changeID, "kind", pc.Change.Kind)
	t.bus.Emit(events.ChangeExecuted{
		ChangeID:  changeID,
		Kind:      string(pc.Change.Kind),
		Timestamp: t.clock.Now(),
	})

	return nil
}

// Cancel clears a pending change without applying it
func (t *Timelock) Cancel(actor, changeID ids.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if actor != t.owner {
		return ErrUnauthorized
	}
	pc, exists := t.pending[changeID]
	if !exists {
		return ErrNoPendingChange
	}

	delete(t.pending, changeID)
	delete(t.pendingParams, paramKey(pc.Change))

	t.log.Info("change cancelled", "change", changeID, "kind", pc.Change.Kind)
	t.bus.Emit(events.ChangeCancelled{
		ChangeID:  changeID,
		Kind:      string(pc.Change.Kind),
		Timestamp: t.clock.Now(),
	})

	return nil
}

// EmergencyPause halts the engine immediately, bypassing the delay.
// Reserved for incident response; unpausing still goes through the
// timelock.
func (t *Timelock) EmergencyPause(actor ids.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if actor != t.emergencyOwner && actor != t.owner {
		return ErrUnauthorized
	}
	t.params.Paused = true
	t.metrics.GovernanceChanges.Inc()
	t.log.Warn("emergency pause engaged", "actor", actor)
	return nil
}

func (t *Timelock) apply(c Change) {
	switch c.Kind {
	case KindSetFeeRate:
		t.params.FeeRateBps = c.FeeRateBps
	case KindSetFlashFeeRate:
		t.params.FlashFeeRateBps = c.FeeRateBps
	case KindPause:
		t.params.Paused = true
	case KindUnpause:
		t.params.Paused = false
	case KindBlacklistAsset:
		t.params.Blacklist[c.Asset] = true
	case KindUnblacklistAsset:
		delete(t.params.Blacklist, c.Asset)
	case KindSetMaxSwapSize:
		if c.MaxSwapSize == nil || c.MaxSwapSize.IsZero() {
			t.params.MaxSwapSize = nil
		} else {
			t.params.MaxSwapSize = new(uint256.Int).Set(c.MaxSwapSize)
		}
	case KindSetBridgeRelay:
		t.params.BridgeRelay = c.Addr
	case KindApproveBorrower:
		t.params.ApprovedBorrowers[c.Addr] = true
	case KindRevokeBorrower:
		delete(t.params.ApprovedBorrowers, c.Addr)
	}
}

// Pending returns the pending change for an id, if any
func (t *Timelock) Pending(changeID ids.ID) (*PendingChange, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pc, ok := t.pending[changeID]
	if !ok {
		return nil, false
	}
	cp := *pc
	return &cp, true
}

// FeeRateBps returns the current swap fee
func (t *Timelock) FeeRateBps() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.params.FeeRateBps
}

// FlashFeeRateBps returns the current flash-loan fee
func (t *Timelock) FlashFeeRateBps() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.params.FlashFeeRateBps
}

// MaxLoanFractionBps returns the flash-loan size cap as a reserve fraction
func (t *Timelock) MaxLoanFractionBps() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.params.MaxLoanFractionBps
}

// IsPaused reports whether the engine is halted
func (t *Timelock) IsPaused() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.params.Paused
}

// IsBlacklisted reports whether an asset is barred from trading
func (t *Timelock) IsBlacklisted(asset ids.ID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.params.Blacklist[asset]
}

// MaxSwapSize returns the swap-size circuit breaker, nil when unlimited
func (t *Timelock) MaxSwapSize() *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.params.MaxSwapSize == nil {
		return nil
	}
	return new(uint256.Int).Set(t.params.MaxSwapSize)
}

// BridgeRelay returns the currently trusted relay address
func (t *Timelock) BridgeRelay() ids.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.params.BridgeRelay
}

// IsApprovedBorrower reports flash-loan allow-list membership
func (t *Timelock) IsApprovedBorrower(borrower ids.ID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.params.ApprovedBorrowers[borrower]
}
