// Package ws streams auction lifecycle events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sealedbid/internal/auction"
	"sealedbid/internal/telemetry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	replayCount   = 200
	replayTimeout = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Source delivers encoded events published by any replica, such as the Redis
// event bus.
type Source interface {
	Subscribe(ctx context.Context) (<-chan []byte, error)
}

// Replayer returns the latest events, oldest first. A Source that also
// implements it lets a subscribing client catch up on recent history.
type Replayer interface {
	Recent(ctx context.Context, count int) ([]auction.Event, error)
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu sync.RWMutex
	// auctions filters delivery; empty means every auction.
	auctions map[int64]bool
}

// subscribeMsg narrows or widens the auctions a client follows:
// {"action":"subscribe","auctions":[1,2]}.
type subscribeMsg struct {
	Action   string  `json:"action"`
	Auctions []int64 `json:"auctions"`
}

type broadcastMsg struct {
	auctionID int64
	data      []byte
}

type directMsg struct {
	c    *client
	data []byte
}

// Hub fans events out to connected clients. Without a Source it is fed
// directly through Notify; with one it relays what the source delivers.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	direct     chan directMsg
	register   chan *client
	unregister chan *client
	source     Source
	replay     Replayer
	done       chan struct{}
	mu         sync.RWMutex
	log        *telemetry.Logger
}

// NewHub creates a hub. source may be nil.
func NewHub(source Source, log *telemetry.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		direct:     make(chan directMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		source:     source,
		done:       make(chan struct{}),
		log:        log.With("ws"),
	}
	if r, ok := source.(Replayer); ok {
		h.replay = r
	}
	return h
}

// Notify implements auction.Notifier. It never blocks; events are dropped
// when the broadcast queue is full.
func (h *Hub) Notify(_ context.Context, ev auction.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.enqueue(broadcastMsg{auctionID: ev.AuctionID, data: data})
	return nil
}

func (h *Hub) enqueue(msg broadcastMsg) {
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("dropping event for auction %d: broadcast queue full", msg.auctionID)
	}
}

// Run handles registration and broadcasting until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if h.source != nil {
		msgs, err := h.source.Subscribe(ctx)
		if err != nil {
			return err
		}
		go h.relay(ctx, msgs)
	}

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.log.Debug("client connected, %d total", h.ClientCount())

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.log.Debug("client disconnected, %d total", h.ClientCount())

		case msg := <-h.direct:
			h.mu.RLock()
			if h.clients[msg.c] {
				select {
				case msg.c.send <- msg.data:
				default:
					h.log.Warn("dropping replayed event for slow client")
				}
			}
			h.mu.RUnlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.follows(msg.auctionID) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.log.Warn("dropping event for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) relay(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.log.Warn("event subscription closed")
				return
			}
			var head struct {
				AuctionID int64 `json:"auction_id"`
			}
			if err := json.Unmarshal(data, &head); err != nil {
				continue
			}
			h.enqueue(broadcastMsg{auctionID: head.AuctionID, data: data})
		}
	}
}

// replayTo sends the recent events of the given auctions to one client.
func (h *Hub) replayTo(c *client, auctions []int64) {
	want := make(map[int64]bool, len(auctions))
	for _, id := range auctions {
		want[id] = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), replayTimeout)
	defer cancel()
	events, err := h.replay.Recent(ctx, replayCount)
	if err != nil {
		h.log.Warn("replay failed: %v", err)
		return
	}
	for _, ev := range events {
		if !want[ev.AuctionID] {
			continue
		}
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		select {
		case h.direct <- directMsg{c: c, data: data}:
		case <-h.done:
			return
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed: %v", err)
		return
	}
	c := &client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		auctions: make(map[int64]bool),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) follows(auctionID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.auctions) == 0 || c.auctions[auctionID]
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Warn("unexpected close: %v", err)
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) != nil {
			continue
		}
		c.apply(sub)
		if sub.Action == "subscribe" && len(sub.Auctions) > 0 && c.hub.replay != nil {
			c.hub.replayTo(c, sub.Auctions)
		}
	}
}

func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, id := range msg.Auctions {
			c.auctions[id] = true
		}
	case "unsubscribe":
		for _, id := range msg.Auctions {
			delete(c.auctions, id)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ auction.Notifier = (*Hub)(nil)
