package main

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/cloudx-io/escrowauction/core"
)

// EventHub implements core.EventSink and fans auction notifications out
// to websocket subscribers. Publish runs while an auction's lock is
// held, so sends never block: a subscriber that cannot keep up is
// dropped.
type EventHub struct {
	mu          sync.Mutex
	subscribers map[int]chan core.Event
	nextID      int

	upgrader websocket.Upgrader
}

func NewEventHub() *EventHub {
	return &EventHub{
		subscribers: make(map[int]chan core.Event),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The feed is broadcast-only and carries no caller privileges.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Publish logs the notification and forwards it to every subscriber.
func (h *EventHub) Publish(ev core.Event) {
	log.Printf("INFO: Event %s auction=%s bidder=%s winner=%s amount=%s",
		ev.Type, ev.AuctionID, ev.Bidder, ev.Winner, ev.Amount)

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			log.Printf("WARNING: Dropping slow event subscriber %d", id)
			delete(h.subscribers, id)
			close(ch)
		}
	}
}

func (h *EventHub) subscribe() (int, chan core.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan core.Event, 64)
	h.subscribers[id] = ch
	return id, ch
}

func (h *EventHub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(ch)
	}
}

// ServeHTTP upgrades the connection and streams events as JSON until
// the client goes away.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ERROR: Failed to upgrade event subscriber: %v", err)
		return
	}
	id, ch := h.subscribe()
	log.Printf("INFO: Event subscriber %d connected from %s", id, r.RemoteAddr)

	defer func() {
		h.unsubscribe(id)
		if err := conn.Close(); err != nil {
			log.Printf("ERROR: Failed to close subscriber %d: %v", id, err)
		}
	}()

	// Reader goroutine: discard inbound frames, surface disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("INFO: Event subscriber %d write failed: %v", id, err)
				return
			}
		case <-done:
			return
		}
	}
}
