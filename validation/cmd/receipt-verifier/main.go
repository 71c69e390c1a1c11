// Command receipt-verifier checks a COSE-signed settlement receipt
// against the auctiond public key and an expected outcome.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/cloudx-io/escrowauction/auctionapi"
	"github.com/cloudx-io/escrowauction/validation"
)

func main() {
	var (
		receiptInput = flag.String("receipt", "", "Base64 COSE receipt (file path or inline)")
		keyInput     = flag.String("public-key", "", "PEM public key (file path or inline)")
		auctionID    = flag.String("auction", "", "Expected auction id")
		winner       = flag.String("winner", "", "Expected winner (empty = expected unsold)")
		amount       = flag.String("amount", "", "Expected winning amount (optional)")
		outputFormat = flag.String("format", "text", "Output format: text or json")
		help         = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	if *help {
		showUsage()
		os.Exit(0)
	}

	if *receiptInput == "" || *keyInput == "" || *auctionID == "" {
		showUsage()
		fmt.Fprintf(os.Stderr, "\nError: --receipt, --public-key, and --auction are required\n")
		os.Exit(1)
	}

	receipt, err := readInput(*receiptInput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading receipt: %v\n", err)
		os.Exit(2)
	}
	publicKey, err := readInput(*keyInput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading public key: %v\n", err)
		os.Exit(2)
	}

	result, parsed, err := validation.ValidateReceipt(
		auctionapi.ReceiptCOSEBase64(strings.TrimSpace(receipt)),
		publicKey,
		validation.ReceiptExpectation{
			AuctionID: *auctionID,
			Winner:    *winner,
			Amount:    *amount,
		},
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		outputJSON(result, parsed)
	} else {
		outputText(result, parsed)
	}

	if !result.IsValid() {
		os.Exit(1)
	}
}

// readInput accepts either a file path or the value itself.
func readInput(input string) (string, error) {
	if _, err := os.Stat(input); err == nil {
		data, err := os.ReadFile(input)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return input, nil
}

func outputText(result *validation.ReceiptValidationResult, receipt *auctionapi.SettlementReceipt) {
	status := func(ok bool) string {
		if ok {
			return "PASS"
		}
		return "FAIL"
	}
	fmt.Printf("Signature: %s\n", status(result.SignatureValid))
	fmt.Printf("Auction:   %s\n", status(result.AuctionMatch))
	fmt.Printf("Winner:    %s\n", status(result.WinnerMatch))
	fmt.Printf("Amount:    %s\n", status(result.AmountMatch))
	if receipt != nil {
		fmt.Printf("\nReceipt %s: auction %s, asset %s/%s, winner %q, amount %s\n",
			receipt.ReceiptID, receipt.AuctionID, receipt.Collection, receipt.TokenID,
			receipt.Winner, receipt.Amount)
	}
	for _, detail := range result.ValidationDetails {
		fmt.Printf("  - %s\n", detail)
	}
	if result.IsValid() {
		fmt.Println("\nReceipt is VALID")
	} else {
		fmt.Println("\nReceipt is INVALID")
	}
}

func outputJSON(result *validation.ReceiptValidationResult, receipt *auctionapi.SettlementReceipt) {
	out := map[string]any{
		"valid":   result.IsValid(),
		"result":  result,
		"receipt": receipt,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(string(data))
}

func showUsage() {
	fmt.Println("Usage: receipt-verifier --receipt <receipt> --public-key <key> --auction <id> [--winner <id>] [--amount <n>] [--format text|json]")
	fmt.Println()
	fmt.Println("Verifies a COSE-signed auctiond settlement receipt.")
	flag.PrintDefaults()
}
