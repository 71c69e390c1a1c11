package core

import "errors"

// Every precondition violation and external-transfer failure aborts the
// enclosing operation with no state mutation, so callers can retry. The
// sentinels below cover the four failure classes: authorization, phase,
// value, and external transfer.
var (
	// Authorization errors.
	ErrNotSeller     = errors.New("caller is not the seller")
	ErrNotOwner      = errors.New("caller is not the platform owner")
	ErrNotAuthorized = errors.New("caller may not settle this auction")

	// Phase errors.
	ErrAlreadyStarted = errors.New("auction already started")
	ErrNotActive      = errors.New("auction is not active")
	ErrAlreadyClosed  = errors.New("auction already closed")
	ErrAuctionExpired = errors.New("auction has passed its end time")
	ErrNotExpired     = errors.New("auction has not reached its end time")

	// Value errors.
	ErrBidTooLow        = errors.New("bid is not strictly greater than the current highest")
	ErrPrivilegedBidder = errors.New("seller, platform owner, and the null identity may not bid")
	ErrInvalidDuration  = errors.New("duration must be positive")
	ErrDurationTooLong  = errors.New("duration exceeds the configured maximum")

	// External-transfer errors.
	ErrAssetTransfer = errors.New("asset transfer rejected")
	ErrPayoutFailed  = errors.New("fund transfer failed")

	// ErrSettlementInconsistent is returned when a payout failed and the
	// compensating asset reclaim also failed, leaving custody and the
	// ledger in disagreement. It requires operator intervention and is
	// the only error after which state may not be safely retried.
	ErrSettlementInconsistent = errors.New("settlement inconsistent: payout failed and asset reclaim failed")
)
