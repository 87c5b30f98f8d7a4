package stubserver

import (
	"context"
	"encoding/json"
	"log"

	"github.com/go-redis/redis/v8"

	"chat-console-core/internal/realtime"
)

// Notifier fans a tenant event out to every connected client of that tenant.
type Notifier interface {
	Notify(tenantID string, event realtime.Event)
}

// hubNotifier delivers straight into the in-process hub. The default when no
// redis is configured.
type hubNotifier struct {
	hub *Hub
}

func (n *hubNotifier) Notify(tenantID string, event realtime.Event) {
	n.hub.Broadcast <- tenantEvent{TenantID: tenantID, Event: event}
}

const redisChannelPrefix = "chat:tenant:"

// redisNotifier publishes events to a per-tenant redis channel instead of the
// local hub. A bridge subscribed to the same channels feeds them back into
// the hub, so several stub processes can share one event stream.
type redisNotifier struct {
	rdb *redis.Client
}

func (n *redisNotifier) Notify(tenantID string, event realtime.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("stubserver: encode event for tenant %s: %v", tenantID, err)
		return
	}
	if err := n.rdb.Publish(context.Background(), redisChannelPrefix+tenantID, payload).Err(); err != nil {
		log.Printf("stubserver: publish to tenant %s: %v", tenantID, err)
	}
}

// runRedisBridge subscribes to all tenant channels and replays published
// events into the local hub. Runs until ctx is canceled.
func runRedisBridge(ctx context.Context, rdb *redis.Client, hub *Hub) {
	sub := rdb.PSubscribe(ctx, redisChannelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event realtime.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("stubserver: decode redis event: %v", err)
				continue
			}
			tenantID := msg.Channel[len(redisChannelPrefix):]
			hub.Broadcast <- tenantEvent{TenantID: tenantID, Event: event}
		}
	}
}
