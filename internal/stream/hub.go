package stream

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/coconiss/WalkTracker-sub000/internal/activity"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Envelope is the wire frame pushed to live watchers: throttled activity
// snapshots and raw location updates. Origin identifies the publishing
// instance so the Redis bridge can drop its own messages.
type Envelope struct {
	Type     string                `json:"type"`
	Origin   string                `json:"origin,omitempty"`
	Status   *activity.Snapshot    `json:"status,omitempty"`
	Location *activity.LocationFix `json:"location,omitempty"`
}

// Hub fans activity updates out to websocket watchers per user, bridged
// across server instances via Redis pub/sub.
type Hub struct {
	id       string
	redis    *redis.Client
	watchers map[string]map[*Watcher]struct{}
	mu       sync.RWMutex
}

type Watcher struct {
	UserID string
	Send   chan []byte
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		id:       uuid.NewString(),
		redis:    redisClient,
		watchers: map[string]map[*Watcher]struct{}{},
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(userID string) *Watcher {
	w := &Watcher{
		UserID: userID,
		Send:   make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.watchers[userID] == nil {
		h.watchers[userID] = map[*Watcher]struct{}{}
	}
	h.watchers[userID][w] = struct{}{}
	return w
}

func (h *Hub) Unregister(w *Watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if userWatchers, ok := h.watchers[w.UserID]; ok {
		delete(userWatchers, w)
		if len(userWatchers) == 0 {
			delete(h.watchers, w.UserID)
		}
	}
	close(w.Send)
}

// BroadcastStatus pushes a live totals snapshot to the user's watchers.
func (h *Hub) BroadcastStatus(snap activity.Snapshot) {
	payload, err := json.Marshal(Envelope{Type: "status", Origin: h.id, Status: &snap})
	if err != nil {
		return
	}
	h.broadcast(snap.UserID, payload)
}

// BroadcastLocation pushes a raw accepted location to the user's watchers.
func (h *Hub) BroadcastLocation(userID string, fix activity.LocationFix) {
	payload, err := json.Marshal(Envelope{Type: "location", Origin: h.id, Location: &fix})
	if err != nil {
		return
	}
	h.broadcast(userID, payload)
}

func (h *Hub) broadcast(userID string, payload []byte) {
	h.mu.RLock()
	watchers := h.watchers[userID]
	h.mu.RUnlock()

	for w := range watchers {
		select {
		case w.Send <- payload:
		default:
		}
	}

	if h.redis != nil {
		if err := h.redis.Publish(context.Background(), redisChannel(userID), payload).Err(); err != nil {
			log.Printf("stream: redis publish error: %v", err)
		}
	}
}

func (h *Hub) subscribeRedis() {
	ctx := context.Background()
	pubsub := h.redis.PSubscribe(ctx, "activity:*:live")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		// Our own publishes already went to local watchers directly.
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil || env.Origin == h.id {
			continue
		}

		userID := userIDFromChannel(msg.Channel)
		h.mu.RLock()
		watchers := h.watchers[userID]
		h.mu.RUnlock()
		for w := range watchers {
			select {
			case w.Send <- []byte(msg.Payload):
			default:
			}
		}
	}
}

func redisChannel(userID string) string {
	return "activity:" + userID + ":live"
}

func userIDFromChannel(ch string) string {
	// activity:{user}:live
	const prefix = "activity:"
	const suffix = ":live"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
