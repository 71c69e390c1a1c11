package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Fake collaborators for tests. They live in the main package (not a
// _test file) so auctiond and store tests can reuse them.

// escrowHolder marks engine custody inside FakeCustody.
const escrowHolder Identity = "@escrow"

// FakeCustody is an in-memory AssetCustody that tracks the holder of
// each asset and counts custody transfers. Individual operations can be
// forced to fail by setting the corresponding error.
type FakeCustody struct {
	mu        sync.Mutex
	holders   map[AssetRef]Identity
	Transfers int

	DepositErr error
	ReleaseErr error
	ReclaimErr error
}

func NewFakeCustody() *FakeCustody {
	return &FakeCustody{holders: make(map[AssetRef]Identity)}
}

// Seed records the initial holder of an asset.
func (c *FakeCustody) Seed(owner Identity, ref AssetRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holders[ref] = owner
}

func (c *FakeCustody) Deposit(from Identity, ref AssetRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.DepositErr != nil {
		return c.DepositErr
	}
	if holder, ok := c.holders[ref]; ok && holder != from {
		return fmt.Errorf("asset %v held by %q, not %q", ref, holder, from)
	}
	c.holders[ref] = escrowHolder
	c.Transfers++
	return nil
}

func (c *FakeCustody) Release(to Identity, ref AssetRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ReleaseErr != nil {
		return c.ReleaseErr
	}
	if holder := c.holders[ref]; holder != escrowHolder {
		return fmt.Errorf("asset %v not in escrow (held by %q)", ref, holder)
	}
	c.holders[ref] = to
	c.Transfers++
	return nil
}

func (c *FakeCustody) Reclaim(from Identity, ref AssetRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ReclaimErr != nil {
		return c.ReclaimErr
	}
	if holder := c.holders[ref]; holder != from {
		return fmt.Errorf("asset %v held by %q, not %q", ref, holder, from)
	}
	c.holders[ref] = escrowHolder
	c.Transfers++
	return nil
}

// Holder returns the current holder of the asset, or NoBidder if the
// asset is unknown. InEscrow reports engine custody.
func (c *FakeCustody) Holder(ref AssetRef) Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holders[ref]
}

func (c *FakeCustody) InEscrow(ref AssetRef) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holders[ref] == escrowHolder
}

// Payment records one successful FakeFunds transfer.
type Payment struct {
	To     Identity
	Amount decimal.Decimal
}

// FakeFunds is an in-memory FundTransfer. Setting Fail makes every Pay
// call report failure until it is cleared.
type FakeFunds struct {
	mu       sync.Mutex
	Payments []Payment
	Fail     error
}

func NewFakeFunds() *FakeFunds { return &FakeFunds{} }

func (f *FakeFunds) Pay(to Identity, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Fail != nil {
		return f.Fail
	}
	f.Payments = append(f.Payments, Payment{To: to, Amount: amount})
	return nil
}

// TotalPaid sums all successful payments to the given identity.
func (f *FakeFunds) TotalPaid(to Identity) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := decimal.Zero
	for _, p := range f.Payments {
		if p.To == to {
			total = total.Add(p.Amount)
		}
	}
	return total
}

// SetFail toggles failure injection.
func (f *FakeFunds) SetFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Fail = err
}

// ManualClock is a Clock advanced explicitly by tests.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// RecordingSink captures published events in order.
type RecordingSink struct {
	mu     sync.Mutex
	Events []Event
}

func NewRecordingSink() *RecordingSink { return &RecordingSink{} }

func (s *RecordingSink) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, ev)
}

// Types returns the event types seen so far, in publish order.
func (s *RecordingSink) Types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]EventType, len(s.Events))
	for i, ev := range s.Events {
		types[i] = ev.Type
	}
	return types
}

// Last returns the most recent event, if any.
func (s *RecordingSink) Last() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Events) == 0 {
		return Event{}, false
	}
	return s.Events[len(s.Events)-1], true
}
