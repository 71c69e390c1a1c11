package main

import (
	"fmt"
	"log"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/cloudx-io/escrowauction/core"
)

// In-process collaborator implementations. A production deployment
// replaces these by wiring real asset-registry and payment-rail clients
// behind core.AssetCustody and core.FundTransfer.

const escrowHolder core.Identity = "@auctiond"

// assetLedger tracks asset custody in memory. An asset it has never seen
// is treated as held by whichever party first moves it, so sellers do
// not need out-of-band registration.
type assetLedger struct {
	mu      sync.Mutex
	holders map[core.AssetRef]core.Identity
}

func newAssetLedger() *assetLedger {
	return &assetLedger{holders: make(map[core.AssetRef]core.Identity)}
}

func (l *assetLedger) Deposit(from core.Identity, ref core.AssetRef) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if holder, ok := l.holders[ref]; ok && holder != from {
		return fmt.Errorf("asset %s/%s held by %q, not %q", ref.Collection, ref.TokenID, holder, from)
	}
	l.holders[ref] = escrowHolder
	log.Printf("INFO: Asset %s/%s escrowed from %s", ref.Collection, ref.TokenID, from)
	return nil
}

func (l *assetLedger) Release(to core.Identity, ref core.AssetRef) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if holder := l.holders[ref]; holder != escrowHolder {
		return fmt.Errorf("asset %s/%s not in escrow (held by %q)", ref.Collection, ref.TokenID, holder)
	}
	l.holders[ref] = to
	log.Printf("INFO: Asset %s/%s released to %s", ref.Collection, ref.TokenID, to)
	return nil
}

func (l *assetLedger) Reclaim(from core.Identity, ref core.AssetRef) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if holder := l.holders[ref]; holder != from {
		return fmt.Errorf("asset %s/%s held by %q, not %q", ref.Collection, ref.TokenID, holder, from)
	}
	l.holders[ref] = escrowHolder
	log.Printf("WARNING: Asset %s/%s reclaimed into escrow from %s", ref.Collection, ref.TokenID, from)
	return nil
}

// holder reports the current custodian of an asset.
func (l *assetLedger) holder(ref core.AssetRef) core.Identity {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holders[ref]
}

// markEscrowed records engine custody for an asset restored from the
// store, where the deposit happened in a previous process.
func (l *assetLedger) markEscrowed(ref core.AssetRef) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.holders[ref] = escrowHolder
}

// paymentJournal is a FundTransfer that records every payout. It never
// fails; failure-path behavior is exercised in tests through the
// injectable fakes.
type paymentJournal struct {
	mu     sync.Mutex
	totals map[core.Identity]decimal.Decimal
}

func newPaymentJournal() *paymentJournal {
	return &paymentJournal{totals: make(map[core.Identity]decimal.Decimal)}
}

func (j *paymentJournal) Pay(to core.Identity, amount decimal.Decimal) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.totals[to] = j.totals[to].Add(amount)
	log.Printf("INFO: Paid %s to %s (lifetime total %s)", amount, to, j.totals[to])
	return nil
}
