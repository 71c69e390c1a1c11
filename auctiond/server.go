// Command auctiond runs the escrowed ascending-price auction service:
// a JSON request protocol over TCP (and optionally vsock), a websocket
// event feed, SQLite persistence, and COSE-signed settlement receipts.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/store"
)

// Server wires the auction house to its transports and sidecars.
type Server struct {
	cfg    Config
	house  *core.House
	store  *store.Store
	signer *SignerManager
	hub    *EventHub
	assets *assetLedger
}

// NewServer builds the full daemon: store, signer, event hub, in-process
// collaborators, and a house rehydrated from persisted snapshots.
func NewServer(cfg Config) (*Server, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	signer, err := NewSignerManager()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	log.Printf("INFO: SignerManager initialized")

	hub := NewEventHub()
	assets := newAssetLedger()

	house := core.NewHouse(core.HouseConfig{
		Owner:       core.SingleOwner(core.Identity(cfg.PlatformOwner)),
		Custody:     assets,
		Funds:       newPaymentJournal(),
		Clock:       core.SystemClock(),
		Events:      hub,
		MaxDuration: cfg.MaxDuration(),
	})

	s := &Server{
		cfg:    cfg,
		house:  house,
		store:  st,
		signer: signer,
		hub:    hub,
		assets: assets,
	}
	if err := s.rehydrate(); err != nil {
		_ = st.Close()
		return nil, err
	}
	return s, nil
}

// rehydrate restores every persisted auction. Assets of auctions that
// were active at shutdown are still in engine custody.
func (s *Server) rehydrate() error {
	snaps, err := s.store.LoadAll()
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		if _, err := s.house.Restore(snap); err != nil {
			return err
		}
		if snap.Phase == core.PhaseActive {
			s.assets.markEscrowed(snap.Asset)
		}
	}
	if len(snaps) > 0 {
		log.Printf("INFO: Restored %d auctions from %s", len(snaps), s.cfg.DBPath)
	}
	return nil
}

// Start brings up all listeners and blocks serving the TCP protocol.
func (s *Server) Start() error {
	pubPEM, err := s.signer.PublicKeyPEM()
	if err != nil {
		return err
	}
	log.Printf("INFO: Settlement receipt public key:\n%s", pubPEM)

	mux := http.NewServeMux()
	mux.Handle("/events", s.hub)
	go func() {
		log.Printf("INFO: Event feed listening on %s", s.cfg.EventsAddr)
		if err := http.ListenAndServe(s.cfg.EventsAddr, mux); err != nil {
			log.Printf("ERROR: Event feed listener failed: %v", err)
		}
	}()

	if s.cfg.VsockPort != 0 {
		vl, err := vsock.Listen(s.cfg.VsockPort, nil)
		if err != nil {
			return err
		}
		log.Printf("INFO: Auction server listening on vsock port %d", s.cfg.VsockPort)
		go func() {
			if err := s.serve(vl); err != nil {
				log.Printf("ERROR: Vsock listener stopped: %v", err)
			}
		}()
	}

	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	log.Printf("INFO: Auction server listening on %s", s.cfg.ListenAddr)
	return s.serve(listener)
}

// serve runs the accept loop with a bounded worker pool: when the pool
// is full, new connections are rejected immediately rather than queued.
// Returns once the listener is closed; transient accept errors are
// logged and the loop continues.
func (s *Server) serve(listener net.Listener) error {
	defer func() {
		if err := listener.Close(); err != nil {
			log.Printf("ERROR: Failed to close listener: %v", err)
		}
	}()

	semaphore := make(chan struct{}, s.cfg.MaxWorkers)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Printf("ERROR: Failed to accept connection: %v", err)
			continue
		}

		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }() // Release worker slot
				s.handleConnection(c)
			}(conn)
		default:
			log.Printf("INFO: No workers available, rejecting connection (pool full)")
			if err := conn.Close(); err != nil {
				log.Printf("ERROR: Failed to close rejected connection: %v", err)
			}
		}
	}
}

// handleConnection reads one JSON request (the client half-closes after
// writing), dispatches it, and writes one JSON response.
func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Panic recovered in handleConnection: %v", r)
		}
		if err := conn.Close(); err != nil {
			log.Printf("ERROR: Failed to close connection: %v", err)
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, conn); err != nil {
		log.Printf("ERROR: Failed to read request: %v", err)
		return
	}

	response := s.handleRequest(buf.Bytes())

	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(response); err != nil {
		log.Printf("ERROR: Failed to encode response: %v", err)
	}
}

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	server, err := NewServer(cfg)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	log.Fatal(server.Start())
}
