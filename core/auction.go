package core

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultMaxDuration bounds how far in the future an auction's end time
// may be set at Start.
const DefaultMaxDuration = 30 * 24 * time.Hour

// Config carries the fixed parameters and collaborators of one auction.
// Seller and the platform-owner capability are set here, at construction,
// and never change afterward; Start requires caller == Seller.
type Config struct {
	ID      string
	Seller  Identity
	Owner   Authorizer
	Custody AssetCustody
	Funds   FundTransfer

	// Clock defaults to SystemClock when nil.
	Clock Clock
	// Events defaults to a discard sink when nil.
	Events EventSink
	// MaxDuration defaults to DefaultMaxDuration when zero.
	MaxDuration time.Duration
}

// Auction is a single-asset ascending-price auction with escrowed
// bidding. One auction = one lock: every operation executes atomically
// with respect to the shared state, and independent auctions share
// nothing.
//
// The deposits ledger holds refundable outbid amounts only. The current
// leader's live contribution is the separate highestBid scalar, consumed
// exactly once by settlement, so an amount is never simultaneously
// withdrawable and payable to the seller.
type Auction struct {
	mu sync.Mutex

	id          string
	seller      Identity
	owner       Authorizer
	custody     AssetCustody
	funds       FundTransfer
	clock       Clock
	events      EventSink
	maxDuration time.Duration

	phase         Phase
	terminated    bool
	asset         AssetRef
	endTime       time.Time
	highestBid    decimal.Decimal
	highestBidder Identity
	deposits      map[Identity]decimal.Decimal

	// escrowBalance tracks total funds held: sum of deposits plus the
	// leader's live amount while the auction is active.
	escrowBalance decimal.Decimal
}

// NewAuction constructs an auction in the NotStarted phase.
func NewAuction(cfg Config) (*Auction, error) {
	if cfg.ID == "" {
		return nil, errors.New("auction id is required")
	}
	if cfg.Seller == NoBidder {
		return nil, errors.New("seller identity is required")
	}
	if cfg.Owner == nil {
		return nil, errors.New("platform owner authorizer is required")
	}
	if cfg.Owner.IsPlatformOwner(cfg.Seller) {
		return nil, errors.New("seller may not be the platform owner")
	}
	if cfg.Custody == nil || cfg.Funds == nil {
		return nil, errors.New("asset custody and fund transfer collaborators are required")
	}
	a := &Auction{
		id:          cfg.ID,
		seller:      cfg.Seller,
		owner:       cfg.Owner,
		custody:     cfg.Custody,
		funds:       cfg.Funds,
		clock:       cfg.Clock,
		events:      cfg.Events,
		maxDuration: cfg.MaxDuration,
		phase:       PhaseNotStarted,
		deposits:    make(map[Identity]decimal.Decimal),
	}
	if a.clock == nil {
		a.clock = SystemClock()
	}
	if a.events == nil {
		a.events = discardSink{}
	}
	if a.maxDuration <= 0 {
		a.maxDuration = DefaultMaxDuration
	}
	return a, nil
}

// RestoreAuction rebuilds an auction from a persisted snapshot. The
// escrow balance is recomputed from the ledger: sum of deposits, plus the
// leader's live amount if the auction is still active.
func RestoreAuction(cfg Config, snap Snapshot) (*Auction, error) {
	cfg.ID = snap.ID
	cfg.Seller = snap.Seller
	a, err := NewAuction(cfg)
	if err != nil {
		return nil, err
	}
	switch snap.Phase {
	case PhaseNotStarted, PhaseActive, PhaseClosed:
	default:
		return nil, fmt.Errorf("unknown phase %q in snapshot %s", snap.Phase, snap.ID)
	}
	a.phase = snap.Phase
	a.terminated = snap.Terminated
	a.asset = snap.Asset
	a.endTime = snap.EndTime
	a.highestBid = snap.HighestBid
	a.highestBidder = snap.HighestBidder
	for bidder, amount := range snap.Deposits {
		if amount.IsZero() {
			continue
		}
		a.deposits[bidder] = amount
		a.escrowBalance = a.escrowBalance.Add(amount)
	}
	if a.phase == PhaseActive && a.highestBidder != NoBidder {
		a.escrowBalance = a.escrowBalance.Add(a.highestBid)
	}
	return a, nil
}

// ID returns the auction's identifier.
func (a *Auction) ID() string { return a.id }

// Start escrows the asset and opens the auction for bidding. Only the
// seller may start, exactly once, with a duration no longer than the
// configured maximum. The asset is acquired before any state changes, so
// a rejected transfer leaves the auction untouched.
func (a *Auction) Start(caller Identity, ref AssetRef, duration time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.seller {
		return ErrNotSeller
	}
	if a.phase != PhaseNotStarted {
		return ErrAlreadyStarted
	}
	if duration <= 0 {
		return ErrInvalidDuration
	}
	if duration > a.maxDuration {
		return ErrDurationTooLong
	}
	if ref.IsZero() {
		return errors.New("asset ref is required")
	}

	if err := a.custody.Deposit(a.seller, ref); err != nil {
		return fmt.Errorf("%w: %v", ErrAssetTransfer, err)
	}

	a.asset = ref
	a.endTime = a.clock.Now().Add(duration)
	a.phase = PhaseActive

	a.publish(Event{
		Type:   EventAuctionStarted,
		Asset:  a.asset,
		Seller: a.seller,
	})
	return nil
}

// Bid escrows the caller's funds and makes them the leader. The amount
// must be strictly greater than the current highest bid; equal bids are
// rejected, so whichever of two simultaneous equal bids is sequenced
// first wins. The previous leader's amount rolls into the deposits
// ledger and becomes withdrawable.
func (a *Auction) Bid(caller Identity, amount decimal.Decimal) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.phase != PhaseActive {
		return ErrNotActive
	}
	if !a.clock.Now().Before(a.endTime) {
		return ErrAuctionExpired
	}
	if caller == NoBidder || caller == a.seller || a.owner.IsPlatformOwner(caller) {
		return ErrPrivilegedBidder
	}
	if !amount.GreaterThan(a.highestBid) {
		return ErrBidTooLow
	}

	if a.highestBidder != NoBidder {
		a.deposits[a.highestBidder] = a.deposits[a.highestBidder].Add(a.highestBid)
	}
	a.highestBid = amount
	a.highestBidder = caller
	a.escrowBalance = a.escrowBalance.Add(amount)

	a.publish(Event{
		Type:   EventBidPlaced,
		Asset:  a.asset,
		Bidder: caller,
		Amount: amount,
	})
	return nil
}

// Withdraw refunds the caller's outbid deposits. Callable in any phase,
// including Closed, so outbid parties can always recover funds. A caller
// with nothing to withdraw gets a zero no-op, not an error. The ledger
// entry is zeroed before the transfer and restored if the transfer
// fails, so a deposit is paid out at most once and never lost.
func (a *Auction) Withdraw(caller Identity) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	amount, ok := a.deposits[caller]
	if !ok || amount.IsZero() {
		return decimal.Zero, nil
	}

	delete(a.deposits, caller)
	a.escrowBalance = a.escrowBalance.Sub(amount)

	if err := a.funds.Pay(caller, amount); err != nil {
		a.deposits[caller] = amount
		a.escrowBalance = a.escrowBalance.Add(amount)
		return decimal.Zero, fmt.Errorf("%w: %v", ErrPayoutFailed, err)
	}

	a.publish(Event{
		Type:   EventDepositWithdrawn,
		Asset:  a.asset,
		Bidder: caller,
		Amount: amount,
	})
	return amount, nil
}

// Finalize settles the auction. The seller may finalize once the end
// time has passed; the platform owner may finalize at any point before
// closure. With no bids the asset returns to the seller. With a winner,
// the asset is released to the winner and the winning amount is paid to
// the seller; a failed payout is compensated by reclaiming the asset
// into escrow so the whole call aborts with no net change.
func (a *Auction) Finalize(caller Identity) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settle(caller, false)
}

// Terminate is the platform owner's unilateral kill switch. It settles
// the auction under owner privilege, bypassing the seller's time gate,
// and emits a distinct terminated notification. Centralizing this power
// in one privileged identity is a deliberate trust trade-off.
func (a *Auction) Terminate(caller Identity) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.owner.IsPlatformOwner(caller) {
		return ErrNotOwner
	}
	return a.settle(caller, true)
}

// settle runs the shared close path. Caller must hold a.mu.
func (a *Auction) settle(caller Identity, forced bool) error {
	isOwner := a.owner.IsPlatformOwner(caller)
	if !isOwner && caller != a.seller {
		return ErrNotAuthorized
	}
	if a.phase == PhaseClosed {
		return ErrAlreadyClosed
	}
	if !isOwner {
		if a.phase != PhaseActive {
			return ErrNotActive
		}
		if a.clock.Now().Before(a.endTime) {
			return ErrNotExpired
		}
	}

	// The asset is in escrow only once the auction has started. An owner
	// closing a never-started auction has nothing to hand back.
	escrowed := a.phase == PhaseActive

	if a.highestBidder == NoBidder {
		if escrowed {
			if err := a.custody.Release(a.seller, a.asset); err != nil {
				return fmt.Errorf("%w: %v", ErrAssetTransfer, err)
			}
		}
	} else {
		if err := a.custody.Release(a.highestBidder, a.asset); err != nil {
			return fmt.Errorf("%w: %v", ErrAssetTransfer, err)
		}
		if err := a.funds.Pay(a.seller, a.highestBid); err != nil {
			if rerr := a.custody.Reclaim(a.highestBidder, a.asset); rerr != nil {
				return fmt.Errorf("%w: payout: %v, reclaim: %v", ErrSettlementInconsistent, err, rerr)
			}
			return fmt.Errorf("%w: %v", ErrPayoutFailed, err)
		}
		a.escrowBalance = a.escrowBalance.Sub(a.highestBid)
	}

	a.phase = PhaseClosed
	a.terminated = forced

	a.publish(Event{
		Type:   EventAuctionClosed,
		Asset:  a.asset,
		Seller: a.seller,
		Winner: a.highestBidder,
		Amount: a.highestBid,
	})
	if forced {
		a.publish(Event{
			Type:  EventAuctionTerminated,
			Asset: a.asset,
		})
	}
	return nil
}

// Snapshot returns a copy of the auction's observable state.
func (a *Auction) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	deposits := make(map[Identity]decimal.Decimal, len(a.deposits))
	for bidder, amount := range a.deposits {
		deposits[bidder] = amount
	}
	return Snapshot{
		ID:            a.id,
		Phase:         a.phase,
		Terminated:    a.terminated,
		Seller:        a.seller,
		Asset:         a.asset,
		EndTime:       a.endTime,
		HighestBid:    a.highestBid,
		HighestBidder: a.highestBidder,
		Deposits:      deposits,
	}
}

// EscrowBalance returns the total funds currently held by the engine for
// this auction. At every point it equals the sum of all deposit entries
// plus the leader's live amount while the auction is active.
func (a *Auction) EscrowBalance() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.escrowBalance
}

func (a *Auction) publish(ev Event) {
	ev.AuctionID = a.id
	ev.Timestamp = a.clock.Now()
	a.events.Publish(ev)
}
