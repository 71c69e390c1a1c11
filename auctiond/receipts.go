package main

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/escrowauction/auctionapi"
	"github.com/cloudx-io/escrowauction/core"
)

// BuildReceipt assembles the settlement receipt for a closed auction.
// The nonce makes every receipt unique even for identical outcomes.
func BuildReceipt(snap core.Snapshot) (auctionapi.SettlementReceipt, error) {
	nonce, err := generateNonce()
	if err != nil {
		return auctionapi.SettlementReceipt{}, err
	}
	return auctionapi.SettlementReceipt{
		ReceiptID:  uuid.NewString(),
		AuctionID:  snap.ID,
		Collection: snap.Asset.Collection,
		TokenID:    snap.Asset.TokenID,
		Seller:     string(snap.Seller),
		Winner:     string(snap.HighestBidder),
		Amount:     snap.HighestBid.String(),
		Terminated: snap.Terminated,
		Timestamp:  time.Now().UTC(),
		Nonce:      nonce,
	}, nil
}

// SignReceipt encodes the receipt as CBOR and wraps it in a COSE_Sign1
// message signed with the daemon's key.
func SignReceipt(sm *SignerManager, receipt auctionapi.SettlementReceipt) (auctionapi.ReceiptCOSE, error) {
	payload, err := cbor.Marshal(receipt)
	if err != nil {
		return nil, fmt.Errorf("failed to encode receipt payload: %w", err)
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Payload = payload

	if err := msg.Sign(rand.Reader, nil, sm.signer); err != nil {
		return nil, fmt.Errorf("failed to sign receipt: %w", err)
	}

	raw, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("failed to encode signed receipt: %w", err)
	}
	return auctionapi.ReceiptCOSE(raw), nil
}

// signedReceiptFor builds and signs a receipt, returning the base64 form
// carried in responses.
func signedReceiptFor(sm *SignerManager, snap core.Snapshot) (auctionapi.ReceiptCOSEBase64, error) {
	receipt, err := BuildReceipt(snap)
	if err != nil {
		return "", err
	}
	raw, err := SignReceipt(sm, receipt)
	if err != nil {
		return "", err
	}
	return raw.EncodeBase64(), nil
}
