package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans out experiment log entries to subscribers keyed by experiment ID.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
}

type message struct {
	experimentID string
	payload      []byte
}

type subscription struct {
	experimentID string
	client       Subscriber
	done         chan struct{}
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, 64),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[sub.experimentID]; !ok {
				h.clients[sub.experimentID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.experimentID][sub.client] = struct{}{}
			h.mu.Unlock()
			close(sub.done)
		case sub := <-h.unreg:
			h.mu.Lock()
			h.remove(sub.experimentID, sub.client)
			h.mu.Unlock()
			close(sub.done)
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients[msg.experimentID] {
				if err := c.Send(msg.payload); err != nil {
					c.Close()
					h.remove(msg.experimentID, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) remove(experimentID string, client Subscriber) {
	clients, ok := h.clients[experimentID]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, experimentID)
	}
}

// Register adds a client to an experiment stream. It returns once the client
// will receive subsequent broadcasts.
func (h *Hub) Register(experimentID string, client Subscriber) {
	done := make(chan struct{})
	h.register <- subscription{experimentID: experimentID, client: client, done: done}
	<-done
}

// Unregister removes a client.
func (h *Hub) Unregister(experimentID string, client Subscriber) {
	done := make(chan struct{})
	h.unreg <- subscription{experimentID: experimentID, client: client, done: done}
	<-done
}

// Broadcast queues payload for all clients of the experiment.
func (h *Hub) Broadcast(experimentID string, payload []byte) {
	h.broadcast <- message{experimentID: experimentID, payload: payload}
}

// Subscribers reports how many clients follow an experiment.
func (h *Hub) Subscribers(experimentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[experimentID])
}
