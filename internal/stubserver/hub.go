package stubserver

import (
	"chat-console-core/internal/realtime"
)

// Room groups every console and widget connected for one tenant. There is
// no per-conversation subscription: members receive all tenant events and
// filter locally.
type Room struct {
	TenantID string
	Clients  map[string]*wsClient
}

type tenantEvent struct {
	TenantID string
	Event    realtime.Event
}

type Hub struct {
	Rooms      map[string]*Room
	Register   chan *wsClient
	Unregister chan *wsClient
	Broadcast  chan tenantEvent
}

func NewHub() *Hub {
	return &Hub{
		Rooms:      make(map[string]*Room),
		Register:   make(chan *wsClient),
		Unregister: make(chan *wsClient),
		Broadcast:  make(chan tenantEvent),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			// Rooms come into being with their first member; joins are
			// client-driven and re-issued after every reconnect.
			room, ok := h.Rooms[client.tenantID]
			if !ok {
				room = &Room{TenantID: client.tenantID, Clients: make(map[string]*wsClient)}
				h.Rooms[client.tenantID] = room
			}
			room.Clients[client.id] = client
			incWSConnections()

		case client := <-h.Unregister:
			room, ok := h.Rooms[client.tenantID]
			if !ok {
				continue
			}
			if _, ok := room.Clients[client.id]; ok {
				delete(room.Clients, client.id)
				close(client.send)
				decWSConnections()
			}

		case event := <-h.Broadcast:
			room, ok := h.Rooms[event.TenantID]
			if !ok {
				continue
			}
			delivered := 0
			for _, client := range room.Clients {
				select {
				case client.send <- event.Event:
					delivered++
				default:
					// Slow consumer: drop it rather than stall the room.
					close(client.send)
					delete(room.Clients, client.id)
					decWSConnections()
				}
			}
			if delivered > 0 {
				addWSDelivered(delivered)
			}
		}
	}
}
