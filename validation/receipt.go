// Package validation verifies COSE-signed settlement receipts issued by
// auctiond, so sellers and bidders can independently confirm the
// recorded outcome of an auction.
package validation

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/shopspring/decimal"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/escrowauction/auctionapi"
)

// ParsePublicKeyPEM decodes a PEM-encoded ECDSA public key.
func ParsePublicKeyPEM(pemStr string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	ecdsaKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not ECDSA")
	}
	return ecdsaKey, nil
}

// VerifyReceipt checks the COSE_Sign1 signature against the given
// public key and decodes the CBOR payload. The receipt contents are
// only trustworthy when the returned error is nil.
func VerifyReceipt(receiptB64 auctionapi.ReceiptCOSEBase64, publicKeyPEM string) (*auctionapi.SettlementReceipt, error) {
	raw, err := receiptB64.Decode()
	if err != nil {
		return nil, fmt.Errorf("decode COSE bytes: %w", err)
	}

	pub, err := ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return nil, err
	}

	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(raw); err != nil {
		return nil, fmt.Errorf("parse COSE_Sign1 message: %w", err)
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES256, pub)
	if err != nil {
		return nil, fmt.Errorf("create verifier: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return nil, fmt.Errorf("COSE signature verification failed: %w", err)
	}

	var receipt auctionapi.SettlementReceipt
	if err := cbor.Unmarshal(msg.Payload, &receipt); err != nil {
		return nil, fmt.Errorf("decode receipt payload: %w", err)
	}
	return &receipt, nil
}

// ReceiptExpectation is the outcome a verifier was notified of, to be
// checked against the signed receipt.
type ReceiptExpectation struct {
	AuctionID string
	// Winner is the expected winning identity; empty means the auction
	// is expected to have closed unsold.
	Winner string
	// Amount is the expected winning amount as a decimal string; empty
	// skips the amount check.
	Amount string
}

// ReceiptValidationResult carries the per-check outcomes.
type ReceiptValidationResult struct {
	SignatureValid    bool
	AuctionMatch      bool
	WinnerMatch       bool
	AmountMatch       bool
	ValidationDetails []string
}

// IsValid returns true if all receipt validation checks passed.
func (r *ReceiptValidationResult) IsValid() bool {
	return r.SignatureValid && r.AuctionMatch && r.WinnerMatch && r.AmountMatch
}

// ValidateReceipt verifies the signature and checks the receipt against
// the expectation. An error is returned only when validation cannot be
// performed at all; check result.IsValid() for the outcome.
func ValidateReceipt(receiptB64 auctionapi.ReceiptCOSEBase64, publicKeyPEM string, expected ReceiptExpectation) (*ReceiptValidationResult, *auctionapi.SettlementReceipt, error) {
	result := &ReceiptValidationResult{}

	receipt, err := VerifyReceipt(receiptB64, publicKeyPEM)
	if err != nil {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Signature verification failed: %v", err))
		return result, nil, nil
	}
	result.SignatureValid = true

	result.AuctionMatch = receipt.AuctionID == expected.AuctionID
	if !result.AuctionMatch {
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("Auction mismatch: receipt has %s, expected %s", receipt.AuctionID, expected.AuctionID))
	}

	result.WinnerMatch = receipt.Winner == expected.Winner
	if !result.WinnerMatch {
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("Winner mismatch: receipt has %q, expected %q", receipt.Winner, expected.Winner))
	}

	result.AmountMatch = true
	if expected.Amount != "" {
		result.AmountMatch = false
		expectedAmount, err := decimal.NewFromString(expected.Amount)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid expected amount %q: %w", expected.Amount, err)
		}
		receiptAmount, err := decimal.NewFromString(receipt.Amount)
		if err != nil {
			result.ValidationDetails = append(result.ValidationDetails,
				fmt.Sprintf("Receipt carries invalid amount %q", receipt.Amount))
		} else if receiptAmount.Equal(expectedAmount) {
			result.AmountMatch = true
		} else {
			result.ValidationDetails = append(result.ValidationDetails,
				fmt.Sprintf("Amount mismatch: receipt has %s, expected %s", receipt.Amount, expected.Amount))
		}
	}

	return result, receipt, nil
}
