package conversations

// Subscriber abstracts a realtime client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans out events to the clients watching a conversation. All state is
// owned by the run goroutine.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan event
	count     chan chan int
}

type event struct {
	conversationID string
	payload        []byte
}

type subscription struct {
	conversationID string
	client         Subscriber
}

func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan event, 64),
		count:     make(chan chan int),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.clients[sub.conversationID]; !ok {
				h.clients[sub.conversationID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.conversationID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.conversationID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.conversationID)
				}
			}
		case ev := <-h.broadcast:
			if clients, ok := h.clients[ev.conversationID]; ok {
				for c := range clients {
					if err := c.Send(ev.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, ev.conversationID)
				}
			}
		case reply := <-h.count:
			n := 0
			for _, clients := range h.clients {
				n += len(clients)
			}
			reply <- n
		}
	}
}

// Register adds a client to a conversation stream.
func (h *Hub) Register(conversationID string, client Subscriber) {
	h.register <- subscription{conversationID: conversationID, client: client}
}

func (h *Hub) Unregister(conversationID string, client Subscriber) {
	h.unreg <- subscription{conversationID: conversationID, client: client}
}

// Broadcast queues payload for every client of the conversation.
func (h *Hub) Broadcast(conversationID string, payload []byte) {
	h.broadcast <- event{conversationID: conversationID, payload: payload}
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	reply := make(chan int)
	h.count <- reply
	return <-reply
}
