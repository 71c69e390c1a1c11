// Package auctionapi defines the JSON wire protocol spoken by auctiond
// and the CBOR settlement receipt payload embedded in signed receipts.
package auctionapi

import (
	"encoding/base64"
	"time"

	"github.com/cloudx-io/escrowauction/core"
)

// Request type values dispatched by the auctiond server. Every request
// is a JSON object whose "type" field selects the operation.
const (
	TypePing      = "ping"
	TypeCreate    = "create_request"
	TypeStart     = "start_request"
	TypeBid       = "bid_request"
	TypeWithdraw  = "withdraw_request"
	TypeFinalize  = "finalize_request"
	TypeTerminate = "terminate_request"
	TypeStatus    = "status_request"
)

// BaseRequest is decoded first to pick the operation.
type BaseRequest struct {
	Type string `json:"type"`
}

// CreateRequest constructs a new NotStarted auction for a seller.
// The transport is trusted to have authenticated the caller identities
// carried in these requests.
type CreateRequest struct {
	Type   string `json:"type"`
	Seller string `json:"seller"`
}

// StartRequest escrows the asset and opens bidding.
type StartRequest struct {
	Type         string `json:"type"`
	AuctionID    string `json:"auction_id"`
	Caller       string `json:"caller"`
	Collection   string `json:"collection"`
	TokenID      string `json:"token_id"`
	DurationDays int    `json:"duration_days"`
}

// BidRequest places a bid. Amount is the value escrowed with the call,
// as a decimal string.
type BidRequest struct {
	Type      string `json:"type"`
	AuctionID string `json:"auction_id"`
	Caller    string `json:"caller"`
	Amount    string `json:"amount"`
}

// WithdrawRequest refunds the caller's outbid deposits.
type WithdrawRequest struct {
	Type      string `json:"type"`
	AuctionID string `json:"auction_id"`
	Caller    string `json:"caller"`
}

// FinalizeRequest settles the auction (seller after expiry, owner at will).
type FinalizeRequest struct {
	Type      string `json:"type"`
	AuctionID string `json:"auction_id"`
	Caller    string `json:"caller"`
}

// TerminateRequest is the platform owner's forced closure.
type TerminateRequest struct {
	Type      string `json:"type"`
	AuctionID string `json:"auction_id"`
	Caller    string `json:"caller"`
}

// StatusRequest reads the auction's observable state.
type StatusRequest struct {
	Type      string `json:"type"`
	AuctionID string `json:"auction_id"`
}

// OperationResponse is the uniform reply envelope. Fields that do not
// apply to the responded operation are omitted.
type OperationResponse struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`

	AuctionID     string            `json:"auction_id,omitempty"`
	Phase         string            `json:"phase,omitempty"`
	Terminated    bool              `json:"terminated,omitempty"`
	Seller        string            `json:"seller,omitempty"`
	Collection    string            `json:"collection,omitempty"`
	TokenID       string            `json:"token_id,omitempty"`
	EndTime       *time.Time        `json:"end_time,omitempty"`
	HighestBid    string            `json:"highest_bid,omitempty"`
	HighestBidder string            `json:"highest_bidder,omitempty"`
	Deposits      map[string]string `json:"deposits,omitempty"`

	// Amount is the payout of a withdraw call.
	Amount string `json:"amount,omitempty"`
	// Winner is set on finalize/terminate responses; empty means unsold.
	Winner string `json:"winner,omitempty"`
	// Receipt carries the signed settlement receipt, base64-encoded COSE.
	Receipt ReceiptCOSEBase64 `json:"receipt,omitempty"`
}

// ErrorResponse builds a failure reply for the given response type.
func ErrorResponse(respType, message string) OperationResponse {
	return OperationResponse{Type: respType, Success: false, Message: message}
}

// SnapshotResponse populates the state fields of a response from an
// engine snapshot.
func SnapshotResponse(respType string, snap core.Snapshot) OperationResponse {
	deposits := make(map[string]string, len(snap.Deposits))
	for bidder, amount := range snap.Deposits {
		deposits[string(bidder)] = amount.String()
	}
	resp := OperationResponse{
		Type:          respType,
		Success:       true,
		AuctionID:     snap.ID,
		Phase:         string(snap.Phase),
		Terminated:    snap.Terminated,
		Seller:        string(snap.Seller),
		Collection:    snap.Asset.Collection,
		TokenID:       snap.Asset.TokenID,
		HighestBid:    snap.HighestBid.String(),
		HighestBidder: string(snap.HighestBidder),
		Deposits:      deposits,
	}
	if !snap.EndTime.IsZero() {
		end := snap.EndTime
		resp.EndTime = &end
	}
	return resp
}

// SettlementReceipt is the CBOR payload of a signed settlement receipt,
// issued when an auction closes. Verifiers check the COSE signature and
// then these fields against the outcome they were notified of.
type SettlementReceipt struct {
	ReceiptID  string    `json:"receipt_id"`
	AuctionID  string    `json:"auction_id"`
	Collection string    `json:"collection"`
	TokenID    string    `json:"token_id"`
	Seller     string    `json:"seller"`
	Winner     string    `json:"winner,omitempty"`
	Amount     string    `json:"amount"`
	Terminated bool      `json:"terminated"`
	Timestamp  time.Time `json:"timestamp"`
	Nonce      string    `json:"nonce"`
}

// ReceiptCOSE is the raw COSE_Sign1 encoding of a signed receipt.
type ReceiptCOSE []byte

// EncodeBase64 encodes raw COSE bytes for JSON transport.
func (r ReceiptCOSE) EncodeBase64() ReceiptCOSEBase64 {
	return ReceiptCOSEBase64(base64.StdEncoding.EncodeToString(r))
}

// ReceiptCOSEBase64 is the base64 form carried in responses.
type ReceiptCOSEBase64 string

// Decode returns the raw COSE bytes.
func (r ReceiptCOSEBase64) Decode() (ReceiptCOSE, error) {
	raw, err := base64.StdEncoding.DecodeString(string(r))
	if err != nil {
		return nil, err
	}
	return ReceiptCOSE(raw), nil
}
