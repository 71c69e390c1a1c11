package main

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/escrowauction/auctionapi"
	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/store"
	"github.com/cloudx-io/escrowauction/validation"
)

const testOwner core.Identity = "platform-owner"

// newTestServer wires a full server around a manual clock and a
// throwaway database so tests can cross the expiry gate.
func newTestServer(t *testing.T) (*Server, *core.ManualClock) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "auctiond.db"))
	assert.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	signer, err := NewSignerManager()
	assert.NoError(t, err)

	clock := core.NewManualClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	hub := NewEventHub()
	assets := newAssetLedger()
	house := core.NewHouse(core.HouseConfig{
		Owner:       core.SingleOwner(testOwner),
		Custody:     assets,
		Funds:       newPaymentJournal(),
		Clock:       clock,
		Events:      hub,
		MaxDuration: 30 * 24 * time.Hour,
	})

	s := &Server{
		cfg:    Config{PlatformOwner: string(testOwner)},
		house:  house,
		store:  st,
		signer: signer,
		hub:    hub,
		assets: assets,
	}
	return s, clock
}

// do marshals a request, runs it through the dispatch path, and returns
// the operation response.
func do(t *testing.T, s *Server, req any) auctionapi.OperationResponse {
	t.Helper()
	raw, err := json.Marshal(req)
	assert.NoError(t, err)
	resp, ok := s.handleRequest(raw).(auctionapi.OperationResponse)
	assert.True(t, ok)
	return resp
}

// createStarted creates an auction for "seller" and opens 3-day bidding.
func createStarted(t *testing.T, s *Server) string {
	t.Helper()
	created := do(t, s, auctionapi.CreateRequest{Type: auctionapi.TypeCreate, Seller: "seller"})
	assert.True(t, created.Success)
	assert.NotEqual(t, "", created.AuctionID)

	startResp := do(t, s, auctionapi.StartRequest{
		Type:         auctionapi.TypeStart,
		AuctionID:    created.AuctionID,
		Caller:       "seller",
		Collection:   "punks",
		TokenID:      "42",
		DurationDays: 3,
	})
	assert.True(t, startResp.Success)
	return created.AuctionID
}

func TestHandlePing(t *testing.T) {
	s, _ := newTestServer(t)

	resp, ok := s.handleRequest([]byte(`{"type":"ping"}`)).(map[string]any)
	assert.True(t, ok)
	check.Equal(t, "pong", resp["type"])
}

func TestHandleMalformedJSON(t *testing.T) {
	s, _ := newTestServer(t)

	resp, ok := s.handleRequest([]byte(`{not json`)).(auctionapi.OperationResponse)
	assert.True(t, ok)
	check.False(t, resp.Success)
}

func TestHandleUnknownType(t *testing.T) {
	s, _ := newTestServer(t)

	resp, ok := s.handleRequest([]byte(`{"type":"steal_request"}`)).(auctionapi.OperationResponse)
	assert.True(t, ok)
	check.False(t, resp.Success)
}

func TestHandleUnknownAuction(t *testing.T) {
	s, _ := newTestServer(t)

	resp := do(t, s, auctionapi.StatusRequest{Type: auctionapi.TypeStatus, AuctionID: "no-such-id"})
	check.False(t, resp.Success)
}

func TestHandleBidInvalidAmount(t *testing.T) {
	s, _ := newTestServer(t)
	id := createStarted(t, s)

	resp := do(t, s, auctionapi.BidRequest{
		Type: auctionapi.TypeBid, AuctionID: id, Caller: "alice", Amount: "ten bucks",
	})
	check.False(t, resp.Success)
}

func TestHandleStartRequiresSeller(t *testing.T) {
	s, _ := newTestServer(t)
	created := do(t, s, auctionapi.CreateRequest{Type: auctionapi.TypeCreate, Seller: "seller"})

	resp := do(t, s, auctionapi.StartRequest{
		Type:         auctionapi.TypeStart,
		AuctionID:    created.AuctionID,
		Caller:       "mallory",
		Collection:   "punks",
		TokenID:      "42",
		DurationDays: 3,
	})
	check.False(t, resp.Success)

	status := do(t, s, auctionapi.StatusRequest{Type: auctionapi.TypeStatus, AuctionID: created.AuctionID})
	check.Equal(t, string(core.PhaseNotStarted), status.Phase)
}

func TestHandleFinalizeBeforeExpiryRejected(t *testing.T) {
	s, _ := newTestServer(t)
	id := createStarted(t, s)

	resp := do(t, s, auctionapi.FinalizeRequest{Type: auctionapi.TypeFinalize, AuctionID: id, Caller: "seller"})
	check.False(t, resp.Success)
}

func TestHandleTerminateRequiresOwner(t *testing.T) {
	s, _ := newTestServer(t)
	id := createStarted(t, s)

	resp := do(t, s, auctionapi.TerminateRequest{Type: auctionapi.TypeTerminate, AuctionID: id, Caller: "seller"})
	check.False(t, resp.Success)
}

func TestFullAuctionFlow(t *testing.T) {
	s, clock := newTestServer(t)
	id := createStarted(t, s)

	bid := do(t, s, auctionapi.BidRequest{Type: auctionapi.TypeBid, AuctionID: id, Caller: "alice", Amount: "10"})
	assert.True(t, bid.Success)
	bid = do(t, s, auctionapi.BidRequest{Type: auctionapi.TypeBid, AuctionID: id, Caller: "bob", Amount: "12.50"})
	assert.True(t, bid.Success)
	check.Equal(t, "bob", bid.HighestBidder)
	check.Equal(t, "10", bid.Deposits["alice"])

	// Matching the leader is not enough.
	bid = do(t, s, auctionapi.BidRequest{Type: auctionapi.TypeBid, AuctionID: id, Caller: "carol", Amount: "12.50"})
	check.False(t, bid.Success)

	withdrawn := do(t, s, auctionapi.WithdrawRequest{Type: auctionapi.TypeWithdraw, AuctionID: id, Caller: "alice"})
	assert.True(t, withdrawn.Success)
	check.Equal(t, "10", withdrawn.Amount)

	clock.Advance(4 * 24 * time.Hour)

	final := do(t, s, auctionapi.FinalizeRequest{Type: auctionapi.TypeFinalize, AuctionID: id, Caller: "seller"})
	assert.True(t, final.Success)
	check.Equal(t, string(core.PhaseClosed), final.Phase)
	check.Equal(t, "bob", final.Winner)
	check.Equal(t, "12.5", final.Amount)
	check.False(t, final.Terminated)
	assert.NotEqual(t, auctionapi.ReceiptCOSEBase64(""), final.Receipt)

	pubPEM, err := s.signer.PublicKeyPEM()
	assert.NoError(t, err)
	receipt, err := validation.VerifyReceipt(final.Receipt, pubPEM)
	assert.NoError(t, err)
	check.Equal(t, id, receipt.AuctionID)
	check.Equal(t, "bob", receipt.Winner)
	check.Equal(t, "12.5", receipt.Amount)
	check.Equal(t, "punks", receipt.Collection)

	// Asset custody followed the sale.
	a, ok := s.house.Get(id)
	assert.True(t, ok)
	check.Equal(t, core.Identity("bob"), s.assets.holder(a.Snapshot().Asset))

	// A closed auction rejects further operations.
	bid = do(t, s, auctionapi.BidRequest{Type: auctionapi.TypeBid, AuctionID: id, Caller: "carol", Amount: "99"})
	check.False(t, bid.Success)
}

func TestTerminateByOwnerMidAuction(t *testing.T) {
	s, _ := newTestServer(t)
	id := createStarted(t, s)

	bid := do(t, s, auctionapi.BidRequest{Type: auctionapi.TypeBid, AuctionID: id, Caller: "alice", Amount: "7"})
	assert.True(t, bid.Success)

	resp := do(t, s, auctionapi.TerminateRequest{Type: auctionapi.TypeTerminate, AuctionID: id, Caller: string(testOwner)})
	assert.True(t, resp.Success)
	check.Equal(t, string(core.PhaseClosed), resp.Phase)
	check.True(t, resp.Terminated)
	check.Equal(t, "alice", resp.Winner)

	pubPEM, err := s.signer.PublicKeyPEM()
	assert.NoError(t, err)
	receipt, err := validation.VerifyReceipt(resp.Receipt, pubPEM)
	assert.NoError(t, err)
	check.True(t, receipt.Terminated)
}

func TestOperationsArePersisted(t *testing.T) {
	s, _ := newTestServer(t)
	id := createStarted(t, s)

	bid := do(t, s, auctionapi.BidRequest{Type: auctionapi.TypeBid, AuctionID: id, Caller: "alice", Amount: "10"})
	assert.True(t, bid.Success)

	snaps, err := s.store.LoadAll()
	assert.NoError(t, err)
	assert.Equal(t, 1, len(snaps))
	check.Equal(t, id, snaps[0].ID)
	check.Equal(t, core.PhaseActive, snaps[0].Phase)
	check.Equal(t, core.Identity("alice"), snaps[0].HighestBidder)
}

func TestRehydrateRestoresActiveAuction(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "auctiond.db")

	st, err := store.Open(dbPath)
	assert.NoError(t, err)

	signer, err := NewSignerManager()
	assert.NoError(t, err)

	clock := core.NewManualClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	build := func(st *store.Store) *Server {
		hub := NewEventHub()
		assets := newAssetLedger()
		house := core.NewHouse(core.HouseConfig{
			Owner:       core.SingleOwner(testOwner),
			Custody:     assets,
			Funds:       newPaymentJournal(),
			Clock:       clock,
			Events:      hub,
			MaxDuration: 30 * 24 * time.Hour,
		})
		return &Server{
			cfg:    Config{PlatformOwner: string(testOwner)},
			house:  house,
			store:  st,
			signer: signer,
			hub:    hub,
			assets: assets,
		}
	}

	s1 := build(st)
	id := createStarted(t, s1)
	bid := do(t, s1, auctionapi.BidRequest{Type: auctionapi.TypeBid, AuctionID: id, Caller: "alice", Amount: "10"})
	assert.True(t, bid.Success)
	assert.NoError(t, st.Close())

	// Restart over the same database.
	st2, err := store.Open(dbPath)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = st2.Close() })

	s2 := build(st2)
	assert.NoError(t, s2.rehydrate())

	status := do(t, s2, auctionapi.StatusRequest{Type: auctionapi.TypeStatus, AuctionID: id})
	assert.True(t, status.Success)
	check.Equal(t, string(core.PhaseActive), status.Phase)
	check.Equal(t, "alice", status.HighestBidder)

	// The restored auction can still settle: the asset is back in
	// engine custody and the winner receives it.
	resp := do(t, s2, auctionapi.TerminateRequest{Type: auctionapi.TypeTerminate, AuctionID: id, Caller: string(testOwner)})
	assert.True(t, resp.Success)
	check.Equal(t, "alice", resp.Winner)

	a, ok := s2.house.Get(id)
	assert.True(t, ok)
	check.Equal(t, core.Identity("alice"), s2.assets.holder(a.Snapshot().Asset))
}
