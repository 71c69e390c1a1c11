package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// HouseConfig carries the collaborators shared by every auction the
// house creates. Each auction still gets its own lock; the house only
// guards its own map.
type HouseConfig struct {
	Owner       Authorizer
	Custody     AssetCustody
	Funds       FundTransfer
	Clock       Clock
	Events      EventSink
	MaxDuration time.Duration
}

// House holds independent auction instances keyed by id.
type House struct {
	mu       sync.RWMutex
	cfg      HouseConfig
	auctions map[string]*Auction
}

// NewHouse creates an empty house.
func NewHouse(cfg HouseConfig) *House {
	return &House{
		cfg:      cfg,
		auctions: make(map[string]*Auction),
	}
}

func (h *House) auctionConfig() Config {
	return Config{
		Owner:       h.cfg.Owner,
		Custody:     h.cfg.Custody,
		Funds:       h.cfg.Funds,
		Clock:       h.cfg.Clock,
		Events:      h.cfg.Events,
		MaxDuration: h.cfg.MaxDuration,
	}
}

// Create constructs a new NotStarted auction for the given seller and
// registers it under a fresh id.
func (h *House) Create(seller Identity) (*Auction, error) {
	cfg := h.auctionConfig()
	cfg.ID = uuid.NewString()
	cfg.Seller = seller
	a, err := NewAuction(cfg)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.auctions[a.ID()] = a
	h.mu.Unlock()
	return a, nil
}

// Restore rebuilds an auction from a persisted snapshot and registers
// it. Restoring an id that is already present is a programmer error.
func (h *House) Restore(snap Snapshot) (*Auction, error) {
	a, err := RestoreAuction(h.auctionConfig(), snap)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.auctions[a.ID()]; exists {
		return nil, fmt.Errorf("auction %s already registered", a.ID())
	}
	h.auctions[a.ID()] = a
	return a, nil
}

// Get returns the auction with the given id.
func (h *House) Get(id string) (*Auction, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.auctions[id]
	return a, ok
}

// List returns all registered auctions in no particular order.
func (h *House) List() []*Auction {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Auction, 0, len(h.auctions))
	for _, a := range h.auctions {
		out = append(out, a)
	}
	return out
}
