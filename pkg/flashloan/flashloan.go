// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package flashloan

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/zeebo/blake3"

	"github.com/luxfi/amm/pkg/asset"
	"github.com/luxfi/amm/pkg/events"
	"github.com/luxfi/amm/pkg/governance"
	"github.com/luxfi/amm/pkg/ids"
	"github.com/luxfi/amm/pkg/ledger"
	"github.com/luxfi/amm/pkg/log"
	"github.com/luxfi/amm/pkg/metric"
)

var (
	ErrUnauthorizedBorrower  = errors.New("borrower not approved")
	ErrInvalidAmount         = errors.New("invalid loan amount")
	ErrInvalidCallback       = errors.New("invalid callback return")
	ErrInsufficientRepayment = errors.New("insufficient repayment")
	ErrAssetNotLendable      = errors.New("asset not lendable")
	ErrPaused                = errors.New("lending paused")
)

// callbackSentinel is the value a well-formed borrower callback must
// return, proving it was compiled against this interface version.
var callbackSentinel = blake3.Sum256([]byte("amm.flashloan.callback.v1"))

// CallbackSentinel returns the value OnFlashLoan must echo back
func CallbackSentinel() [32]byte {
	return callbackSentinel
}

// Borrower receives loaned funds and must hold amount+fee in its account
// when the callback returns. The returned sentinel must match
// CallbackSentinel().
type Borrower interface {
	OnFlashLoan(borrowAsset ids.ID, amount, fee *uint256.Int, data []byte) ([32]byte, error)
}

// Lender issues uncollateralized loans repaid within a single call.
// Loans are served from a pool's escrow when the asset has a registered
// routing pool, else from the treasury float. Fees compound into the
// routing pool's reserves, enriching LPs; unrouted fees accrue to the
// treasury.
type Lender struct {
	ledger   *ledger.Ledger
	gov      *governance.Timelock
	bank     asset.Journaling
	bus      *events.Bus
	metrics  *metric.Metrics
	log      log.Logger
	treasury ids.ID

	mu    sync.RWMutex
	pools map[ids.ID]ids.ID // asset -> fee-routing pool
}

// New creates a lender backed by the given treasury account
func New(
	l *ledger.Ledger,
	gov *governance.Timelock,
	bank asset.Journaling,
	bus *events.Bus,
	m *metric.Metrics,
	treasury ids.ID,
	logger log.Logger,
) *Lender {
	return &Lender{
		ledger:   l,
		gov:      gov,
		bank:     bank,
		bus:      bus,
		metrics:  m,
		log:      logger,
		treasury: treasury,
		pools:    make(map[ids.ID]ids.ID),
	}
}

// RegisterPool routes an asset's loans and fees through a pool. The pool
// must actually contain the asset.
func (f *Lender) RegisterPool(borrowAsset, poolID ids.ID) error {
	pool, err := f.ledger.GetPool(poolID)
	if err != nil {
		return err
	}
	if _, _, ok := pool.ReserveOf(borrowAsset); !ok {
		return fmt.Errorf("%w: pool %s does not hold %s", ErrAssetNotLendable, poolID, borrowAsset)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.pools[borrowAsset] = poolID
	return nil
}

// routingPool resolves the fee-routing pool for an asset, if registered
func (f *Lender) routingPool(borrowAsset ids.ID) (ids.ID, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	poolID, ok := f.pools[borrowAsset]
	return poolID, ok
}

// Borrow lends amount of borrowAsset to the borrower's account, invokes
// the callback, and pulls amount+fee back. Reserve state is only touched
// after repayment clears, and every balance movement made while the loan
// is open is journaled, so a failed loan rolls the bank back to its
// pre-loan state no matter where the callback moved the principal.
func (f *Lender) Borrow(borrower ids.ID, callback Borrower, borrowAsset ids.ID, amount *uint256.Int, data []byte) error {
	if err := f.ledger.Acquire(); err != nil {
		f.metrics.OperationFailures.WithLabelValues("flash_loan", "reentrant").Inc()
		return err
	}
	defer f.ledger.Release()

	if err := f.borrowLocked(borrower, callback, borrowAsset, amount, data); err != nil {
		f.metrics.OperationFailures.WithLabelValues("flash_loan", failKind(err)).Inc()
		return err
	}
	f.metrics.FlashLoansIssued.Inc()
	return nil
}

func (f *Lender) borrowLocked(borrower ids.ID, callback Borrower, borrowAsset ids.ID, amount *uint256.Int, data []byte) error {
	// Checks.
	if f.gov.IsPaused() {
		return ErrPaused
	}
	if !f.gov.IsApprovedBorrower(borrower) {
		return ErrUnauthorizedBorrower
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}

	var (
		source ids.ID
		routed bool
		poolID ids.ID
	)
	if id, ok := f.routingPool(borrowAsset); ok {
		pool, err := f.ledger.GetPool(id)
		if err != nil {
			return err
		}
		reserve, _, ok := pool.ReserveOf(borrowAsset)
		if !ok {
			return ErrAssetNotLendable
		}
		// Cap the loan at a fraction of the reserve so a single borrower
		// cannot empty the pool's escrow mid-flight.
		limit := new(uint256.Int).Mul(reserve, uint256.NewInt(f.gov.MaxLoanFractionBps()))
		limit.Div(limit, uint256.NewInt(10000))
		if amount.Gt(limit) {
			return fmt.Errorf("%w: %s exceeds loan cap %s", ErrInvalidAmount, amount.Dec(), limit.Dec())
		}
		source = pool.EscrowAccount()
		routed = true
		poolID = pool.ID
	} else {
		available := f.bank.BalanceOf(borrowAsset, f.treasury)
		if amount.Gt(available) {
			return fmt.Errorf("%w: treasury float %s too small", ErrInvalidAmount, available.Dec())
		}
		source = f.treasury
	}

	fee := new(uint256.Int).Mul(amount, uint256.NewInt(f.gov.FlashFeeRateBps()))
	fee.Div(fee, uint256.NewInt(10000))

	// Interactions: hand out the principal, run the callback, pull back
	// principal plus fee. The journal covers everything between checkpoint
	// and commit, including transfers the callback makes.
	mark := f.bank.Checkpoint()

	if err := f.bank.Transfer(borrowAsset, source, borrower, amount); err != nil {
		f.bank.Rollback(mark)
		return fmt.Errorf("lend out: %w", err)
	}

	sentinel, cbErr := callback.OnFlashLoan(borrowAsset, amount, fee, data)
	if cbErr == nil && sentinel != callbackSentinel {
		cbErr = ErrInvalidCallback
	}
	if cbErr != nil {
		f.bank.Rollback(mark)
		if errors.Is(cbErr, ErrInvalidCallback) {
			return cbErr
		}
		return fmt.Errorf("%w: %s", ErrInvalidCallback, cbErr)
	}

	repayment := new(uint256.Int).Add(amount, fee)
	if err := f.bank.Transfer(borrowAsset, borrower, source, repayment); err != nil {
		f.bank.Rollback(mark)
		return fmt.Errorf("%w: %s", ErrInsufficientRepayment, err)
	}

	// Effects after repayment cleared: compound the fee into reserves so
	// it accrues to LPs. Treasury-served loans keep the fee in the float.
	if routed && !fee.IsZero() {
		if err := f.ledger.AddToReserve(poolID, borrowAsset, fee); err != nil {
			f.bank.Rollback(mark)
			return err
		}
		if pool, err := f.ledger.GetPool(poolID); err == nil {
			if err := f.ledger.SetKLast(poolID, pool.K()); err != nil {
				f.bank.Rollback(mark)
				return err
			}
		}
	}
	f.bank.Commit(mark)

	if fee.IsUint64() {
		f.metrics.FlashLoanFees.Add(float64(fee.Uint64()))
	}
	f.log.Info("flash loan repaid",
		"asset", borrowAsset,
		"borrower", borrower,
		"amount", amount.Dec(),
		"fee", fee.Dec(),
		"routed", routed)
	f.bus.Emit(events.FlashLoanFeeAdded{
		PoolID:    poolID,
		Asset:     borrowAsset,
		Borrower:  borrower,
		Amount:    amount.Dec(),
		Fee:       fee.Dec(),
		Routed:    routed,
		Timestamp: f.ledger.Clock().Now(),
	})

	return nil
}

func failKind(err error) string {
	switch {
	case errors.Is(err, ErrPaused):
		return "paused"
	case errors.Is(err, ErrUnauthorizedBorrower):
		return "unauthorized_borrower"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidCallback):
		return "invalid_callback"
	case errors.Is(err, ErrInsufficientRepayment):
		return "insufficient_repayment"
	case errors.Is(err, ErrAssetNotLendable):
		return "asset_not_lendable"
	default:
		return "other"
	}
}
