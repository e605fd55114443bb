package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// maxClosedGroups bounds the closed-group memory. A registration against an
// evicted entry opens a fresh group; the subscriber then idles until its
// handler notices the record is terminal, instead of the hub remembering
// every deployment ever finished.
const maxClosedGroups = 4096

// Hub manages broadcast groups keyed by deployment ID. A group exists while
// its build is running; CloseGroup tears it down when the deployment reaches
// a terminal state.
type Hub struct {
	mu          sync.RWMutex
	clients     map[string]map[Subscriber]struct{}
	closed      map[string]struct{}
	closedOrder []string
	register    chan subscription
	unreg       chan subscription
	broadcast   chan message
	closeGrp    chan string
	done        chan struct{}
	once        sync.Once
}

// message couples payload with group identifier.
type message struct {
	groupID string
	payload []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	groupID string
	client  Subscriber
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		closed:    make(map[string]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
		closeGrp:  make(chan string),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for id, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		case sub := <-h.register:
			h.mu.Lock()
			if _, gone := h.closed[sub.groupID]; gone {
				// Group already torn down: the subscriber sees stream
				// termination instead of hanging on a dead group.
				h.mu.Unlock()
				sub.client.Close()
				continue
			}
			if _, ok := h.clients[sub.groupID]; !ok {
				h.clients[sub.groupID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.groupID][sub.client] = struct{}{}
			h.mu.Unlock()
		case sub := <-h.unreg:
			h.mu.Lock()
			if clients, ok := h.clients[sub.groupID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.groupID)
				}
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			if clients, ok := h.clients[msg.groupID]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.groupID)
				}
			}
			h.mu.Unlock()
		case id := <-h.closeGrp:
			h.mu.Lock()
			if clients, ok := h.clients[id]; ok {
				for c := range clients {
					c.Close()
				}
				delete(h.clients, id)
			}
			if _, seen := h.closed[id]; !seen {
				h.closed[id] = struct{}{}
				h.closedOrder = append(h.closedOrder, id)
				for len(h.closedOrder) > maxClosedGroups {
					oldest := h.closedOrder[0]
					h.closedOrder = h.closedOrder[1:]
					delete(h.closed, oldest)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a client to a group. Registering against a closed group
// closes the client immediately.
func (h *Hub) Register(groupID string, client Subscriber) {
	select {
	case h.register <- subscription{groupID: groupID, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client from its group.
func (h *Hub) Unregister(groupID string, client Subscriber) {
	select {
	case h.unreg <- subscription{groupID: groupID, client: client}:
	case <-h.done:
	}
}

// Broadcast sends payload to all current group subscribers. Delivery is
// best-effort and at-most-once per subscriber; a failed send evicts the
// subscriber.
func (h *Hub) Broadcast(groupID string, payload []byte) {
	select {
	case h.broadcast <- message{groupID: groupID, payload: payload}:
	case <-h.done:
	}
}

// CloseGroup disconnects every subscriber of a group and marks the group
// closed so later registrations fail gracefully.
func (h *Hub) CloseGroup(groupID string) {
	select {
	case h.closeGrp <- groupID:
	case <-h.done:
	}
}

// Subscribers reports the current subscriber count for a group.
func (h *Hub) Subscribers(groupID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[groupID])
}

// Shutdown stops the hub loop and closes every client.
func (h *Hub) Shutdown() {
	h.once.Do(func() { close(h.done) })
}
