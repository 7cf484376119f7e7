package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("gateway/events")

const (
	writeDeadline = 5 * time.Second
	sendBuffer    = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The stream carries only public event notifications.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub maintains the set of live websocket subscribers and pushes every
// published event to all of them.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mu        sync.Mutex
}

// NewHub builds a hub; call Run in a goroutine to start delivery.
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, sendBuffer),
	}
}

// Run delivers broadcasts until the channel closes. Slow clients get a
// write deadline so one stalled subscriber cannot wedge the hub.
func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mu.Lock()
		for client := range h.clients {
			_ = client.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debugw("subscriber write failed, dropping", "err", err)
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mu.Unlock()
	}
}

// Subscribe upgrades an HTTP request into a stream subscription.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugw("websocket upgrade failed", "err", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.mu.Unlock()
	log.Infow("event subscriber connected", "total", total)

	// Drain reads to learn about disconnects; subscribers never send.
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			total := len(h.clients)
			h.mu.Unlock()
			conn.Close()
			log.Infow("event subscriber disconnected", "total", total)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Publish fans an event out to websocket subscribers. Never blocks the
// caller: when the buffer is full the event is dropped.
func (h *Hub) Publish(ev Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- raw:
	default:
		log.Debugw("event stream buffer full, dropping", "type", ev.Type)
	}
}
