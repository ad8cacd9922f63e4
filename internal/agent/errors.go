package agent

import (
	"errors"

	"github.com/atmx/auction-pool/internal/host"
	"github.com/atmx/auction-pool/internal/model"
	"github.com/atmx/auction-pool/internal/orderbook"
	"github.com/atmx/auction-pool/internal/route"
	"github.com/atmx/auction-pool/internal/settlement"
	"github.com/atmx/auction-pool/internal/store"
	"github.com/atmx/auction-pool/internal/valuation"
	"github.com/atmx/auction-pool/internal/workflow"
)

var (
	ErrUnauthorized = errors.New("agent: unauthorized")

	ErrInvalidDenom       = errors.New("agent: invalid denom")
	ErrInvalidAmount      = errors.New("agent: amount must be positive")
	ErrCannotManuallySwap = errors.New("agent: cannot manually swap the reference denom")

	ErrWrongRound                 = errors.New("agent: not the active round")
	ErrAlreadyHighestBidder       = errors.New("agent: agent is the highest bidder")
	ErrUnsettledPreviousBid       = errors.New("agent: bid from a previous round needs to be settled")
	ErrNotInBidTime               = errors.New("agent: not yet in bid time")
	ErrMinBidTooHigh              = errors.New("agent: next minimum bid is too high to be worth it")
	ErrBidAttemptNotFound         = errors.New("agent: no bid attempt found")
	ErrBidAttemptRoundNotFinished = errors.New("agent: bid attempt round not finished")
	ErrNotInWithdrawTime          = errors.New("agent: withdraw is disabled before the auction ends")
	ErrMaxTokensExceeded          = errors.New("agent: cannot exceed max tokens")
	ErrInsufficientFunds          = errors.New("agent: insufficient funds")

	ErrAccountNotFound    = errors.New("agent: account not found")
	ErrNotInitialized     = errors.New("agent: not initialized")
	ErrAlreadyInitialized = errors.New("agent: already initialized")

	// ErrHostCommit means the host session did not commit. The ledger
	// changes were rolled back with it.
	ErrHostCommit = errors.New("agent: host commit failed")
	// ErrLedgerCommit means the host committed but the ledger did not. A
	// Compensation record names the host effects left behind.
	ErrLedgerCommit = errors.New("agent: ledger commit failed after host commit")

	// ErrInvalidConfig aliases the model sentinel.
	ErrInvalidConfig = model.ErrInvalidConfig
)

// Class groups errors by how a caller should react.
type Class int

const (
	ClassInternal Class = iota
	ClassAuthorization
	ClassValidation
	ClassNotFound
	ClassPrecondition
	ClassSubOperation
)

func (c Class) String() string {
	switch c {
	case ClassAuthorization:
		return "authorization"
	case ClassValidation:
		return "validation"
	case ClassNotFound:
		return "not_found"
	case ClassPrecondition:
		return "precondition"
	case ClassSubOperation:
		return "sub_operation"
	default:
		return "internal"
	}
}

// Sub-operation failures wrap the host error that caused them, so they are
// matched first. A ledger commit failure is internal whatever store error it
// wraps.
var classes = []struct {
	class Class
	errs  []error
}{
	{ClassInternal, []error{ErrLedgerCommit}},
	{ClassSubOperation, []error{workflow.ErrSubMsgFailure, settlement.ErrMalformedAck}},
	{ClassAuthorization, []error{ErrUnauthorized}},
	{ClassValidation, []error{
		ErrInvalidDenom, ErrInvalidAmount, ErrCannotManuallySwap, model.ErrInvalidConfig,
		route.ErrSameDenom, route.ErrEmptyDenom, route.ErrInvalidMarketID, route.ErrDenomMismatch,
		orderbook.ErrAssetNotInMarket, orderbook.ErrInvalidTick,
	}},
	{ClassNotFound, []error{
		ErrAccountNotFound, ErrNotInitialized, route.ErrNotFound,
		host.ErrMarketNotFound, host.ErrLastResultNotFound,
	}},
	{ClassPrecondition, []error{
		ErrWrongRound, ErrAlreadyHighestBidder, ErrUnsettledPreviousBid, ErrNotInBidTime,
		ErrMinBidTooHigh, ErrBidAttemptNotFound, ErrBidAttemptRoundNotFinished,
		ErrNotInWithdrawTime, ErrMaxTokensExceeded, ErrInsufficientFunds, ErrAlreadyInitialized,
		route.ErrExists, orderbook.ErrNotEnoughLiquidity,
		host.ErrInsufficientFunds, host.ErrStaleSession, store.ErrConflict,
	}},
	{ClassInternal, []error{workflow.ErrUnknownContinuation, valuation.ErrUnknownStrategy}},
}

// Classify returns the class of err.
func Classify(err error) Class {
	for _, c := range classes {
		for _, e := range c.errs {
			if errors.Is(err, e) {
				return c.class
			}
		}
	}
	return ClassInternal
}
