package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Identity names a party interacting with the auction engine: a seller,
// a bidder, or the platform owner. The empty identity is NoBidder and is
// never accepted as a real participant.
type Identity string

// NoBidder is the distinguishable null identity. An auction whose highest
// bidder is NoBidder has received no valid bids.
const NoBidder Identity = ""

// AssetRef identifies the escrowed asset: a collection (contract)
// reference plus the unique token id within it.
type AssetRef struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
}

// IsZero reports whether the ref is unset.
func (r AssetRef) IsZero() bool {
	return r.Collection == "" && r.TokenID == ""
}

// Phase is the auction lifecycle state. Transitions are
// NotStarted → Active (via Start) and Active → Closed (via Finalize or
// Terminate). Closed is terminal.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseActive     Phase = "active"
	PhaseClosed     Phase = "closed"
)

// AssetCustody moves the auctioned asset between parties and engine
// escrow. Implementations must report failure rather than panic so the
// engine can abort the enclosing operation without partial state.
type AssetCustody interface {
	// Deposit moves the asset from its current holder into engine escrow.
	Deposit(from Identity, ref AssetRef) error
	// Release moves the asset out of engine escrow to the given party.
	Release(to Identity, ref AssetRef) error
	// Reclaim moves the asset from the given party back into engine
	// escrow. Used only to compensate a failed payout during settlement.
	Reclaim(from Identity, ref AssetRef) error
}

// FundTransfer sends currency value to a party. A returned error means
// no value moved and the caller may retry.
type FundTransfer interface {
	Pay(to Identity, amount decimal.Decimal) error
}

// Clock provides the current time. Injected so deadline behavior is
// deterministic under test.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// Authorizer is the platform-owner capability: a pure predicate over the
// caller identity. Passed in at construction rather than hardcoded so the
// privilege check is testable in isolation.
type Authorizer interface {
	IsPlatformOwner(caller Identity) bool
}

// SingleOwner is the simplest Authorizer: exactly one fixed privileged
// identity, set once and never changed.
type SingleOwner Identity

func (o SingleOwner) IsPlatformOwner(caller Identity) bool {
	return caller != NoBidder && caller == Identity(o)
}

// EventType identifies an auction notification.
type EventType string

const (
	EventAuctionStarted    EventType = "auction_started"
	EventBidPlaced         EventType = "bid_placed"
	EventDepositWithdrawn  EventType = "deposit_withdrawn"
	EventAuctionClosed     EventType = "auction_closed"
	EventAuctionTerminated EventType = "auction_terminated"
)

// Event is an observable auction notification. Fields that do not apply
// to a given event type are left at their zero values.
type Event struct {
	Type      EventType       `json:"type"`
	AuctionID string          `json:"auction_id"`
	Asset     AssetRef        `json:"asset"`
	Seller    Identity        `json:"seller,omitempty"`
	Bidder    Identity        `json:"bidder,omitempty"`
	Winner    Identity        `json:"winner,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventSink receives auction notifications. Publish must not call back
// into the originating auction; it runs while the auction lock is held.
type EventSink interface {
	Publish(Event)
}

type discardSink struct{}

func (discardSink) Publish(Event) {}

// Snapshot is a read-only copy of auction state, sufficient to answer
// queries and to persist an auction across restarts.
type Snapshot struct {
	ID            string
	Phase         Phase
	Terminated    bool
	Seller        Identity
	Asset         AssetRef
	EndTime       time.Time
	HighestBid    decimal.Decimal
	HighestBidder Identity
	Deposits      map[Identity]decimal.Decimal
}
