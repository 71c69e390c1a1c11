package main

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cloudx-io/escrowauction/auctionapi"
	"github.com/cloudx-io/escrowauction/core"
)

// handleRequest decodes the envelope, dispatches on its type field, and
// returns the response object to encode.
func (s *Server) handleRequest(raw []byte) any {
	var base auctionapi.BaseRequest
	if err := json.Unmarshal(raw, &base); err != nil {
		log.Printf("ERROR: Failed to decode base request: %v", err)
		return auctionapi.ErrorResponse("error", fmt.Sprintf("Failed to decode request: %v", err))
	}

	log.Printf("INFO: Received request type: %s", base.Type)

	switch base.Type {
	case auctionapi.TypePing:
		return map[string]any{
			"type":      "pong",
			"message":   "auctiond is healthy",
			"timestamp": time.Now().Unix(),
		}
	case auctionapi.TypeCreate:
		var req auctionapi.CreateRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return auctionapi.ErrorResponse("create_response", fmt.Sprintf("Failed to decode create request: %v", err))
		}
		return s.handleCreate(req)
	case auctionapi.TypeStart:
		var req auctionapi.StartRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return auctionapi.ErrorResponse("start_response", fmt.Sprintf("Failed to decode start request: %v", err))
		}
		return s.handleStart(req)
	case auctionapi.TypeBid:
		var req auctionapi.BidRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return auctionapi.ErrorResponse("bid_response", fmt.Sprintf("Failed to decode bid request: %v", err))
		}
		return s.handleBid(req)
	case auctionapi.TypeWithdraw:
		var req auctionapi.WithdrawRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return auctionapi.ErrorResponse("withdraw_response", fmt.Sprintf("Failed to decode withdraw request: %v", err))
		}
		return s.handleWithdraw(req)
	case auctionapi.TypeFinalize:
		var req auctionapi.FinalizeRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return auctionapi.ErrorResponse("finalize_response", fmt.Sprintf("Failed to decode finalize request: %v", err))
		}
		return s.handleFinalize(req)
	case auctionapi.TypeTerminate:
		var req auctionapi.TerminateRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return auctionapi.ErrorResponse("terminate_response", fmt.Sprintf("Failed to decode terminate request: %v", err))
		}
		return s.handleTerminate(req)
	case auctionapi.TypeStatus:
		var req auctionapi.StatusRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return auctionapi.ErrorResponse("status_response", fmt.Sprintf("Failed to decode status request: %v", err))
		}
		return s.handleStatus(req)
	default:
		return auctionapi.ErrorResponse("error", fmt.Sprintf("Unknown request type: %s", base.Type))
	}
}

func (s *Server) lookup(respType, auctionID string) (*core.Auction, *auctionapi.OperationResponse) {
	a, ok := s.house.Get(auctionID)
	if !ok {
		resp := auctionapi.ErrorResponse(respType, fmt.Sprintf("Unknown auction %s", auctionID))
		return nil, &resp
	}
	return a, nil
}

// persist mirrors the in-memory auction into the store. The engine
// state is authoritative; a persistence failure is logged, not
// propagated, so the operation outcome reported to the caller stays
// truthful.
func (s *Server) persist(a *core.Auction) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(a.Snapshot()); err != nil {
		log.Printf("ERROR: Failed to persist auction %s: %v", a.ID(), err)
	}
}

func (s *Server) handleCreate(req auctionapi.CreateRequest) auctionapi.OperationResponse {
	a, err := s.house.Create(core.Identity(req.Seller))
	if err != nil {
		return auctionapi.ErrorResponse("create_response", err.Error())
	}
	s.persist(a)
	log.Printf("INFO: Created auction %s for seller %s", a.ID(), req.Seller)
	return auctionapi.SnapshotResponse("create_response", a.Snapshot())
}

func (s *Server) handleStart(req auctionapi.StartRequest) auctionapi.OperationResponse {
	a, errResp := s.lookup("start_response", req.AuctionID)
	if errResp != nil {
		return *errResp
	}
	ref := core.AssetRef{Collection: req.Collection, TokenID: req.TokenID}
	duration := time.Duration(req.DurationDays) * 24 * time.Hour
	if err := a.Start(core.Identity(req.Caller), ref, duration); err != nil {
		return auctionapi.ErrorResponse("start_response", err.Error())
	}
	s.persist(a)
	return auctionapi.SnapshotResponse("start_response", a.Snapshot())
}

func (s *Server) handleBid(req auctionapi.BidRequest) auctionapi.OperationResponse {
	a, errResp := s.lookup("bid_response", req.AuctionID)
	if errResp != nil {
		return *errResp
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return auctionapi.ErrorResponse("bid_response", fmt.Sprintf("Invalid bid amount %q: %v", req.Amount, err))
	}
	if err := a.Bid(core.Identity(req.Caller), amount); err != nil {
		return auctionapi.ErrorResponse("bid_response", err.Error())
	}
	s.persist(a)
	return auctionapi.SnapshotResponse("bid_response", a.Snapshot())
}

func (s *Server) handleWithdraw(req auctionapi.WithdrawRequest) auctionapi.OperationResponse {
	a, errResp := s.lookup("withdraw_response", req.AuctionID)
	if errResp != nil {
		return *errResp
	}
	amount, err := a.Withdraw(core.Identity(req.Caller))
	if err != nil {
		return auctionapi.ErrorResponse("withdraw_response", err.Error())
	}
	s.persist(a)
	resp := auctionapi.SnapshotResponse("withdraw_response", a.Snapshot())
	resp.Amount = amount.String()
	return resp
}

func (s *Server) handleFinalize(req auctionapi.FinalizeRequest) auctionapi.OperationResponse {
	a, errResp := s.lookup("finalize_response", req.AuctionID)
	if errResp != nil {
		return *errResp
	}
	if err := a.Finalize(core.Identity(req.Caller)); err != nil {
		return auctionapi.ErrorResponse("finalize_response", err.Error())
	}
	s.persist(a)
	return s.settledResponse("finalize_response", a)
}

func (s *Server) handleTerminate(req auctionapi.TerminateRequest) auctionapi.OperationResponse {
	a, errResp := s.lookup("terminate_response", req.AuctionID)
	if errResp != nil {
		return *errResp
	}
	if err := a.Terminate(core.Identity(req.Caller)); err != nil {
		return auctionapi.ErrorResponse("terminate_response", err.Error())
	}
	s.persist(a)
	return s.settledResponse("terminate_response", a)
}

// settledResponse reports a closed auction, attaching a signed
// settlement receipt. The closure already committed, so a receipt
// failure degrades the response rather than reversing the operation.
func (s *Server) settledResponse(respType string, a *core.Auction) auctionapi.OperationResponse {
	snap := a.Snapshot()
	resp := auctionapi.SnapshotResponse(respType, snap)
	resp.Winner = string(snap.HighestBidder)
	resp.Amount = snap.HighestBid.String()

	receipt, err := signedReceiptFor(s.signer, snap)
	if err != nil {
		log.Printf("ERROR: Failed to sign settlement receipt for %s: %v", snap.ID, err)
		resp.Message = "auction settled; settlement receipt unavailable"
		return resp
	}
	resp.Receipt = receipt
	return resp
}

func (s *Server) handleStatus(req auctionapi.StatusRequest) auctionapi.OperationResponse {
	a, errResp := s.lookup("status_response", req.AuctionID)
	if errResp != nil {
		return *errResp
	}
	return auctionapi.SnapshotResponse("status_response", a.Snapshot())
}
