// Package notify pushes real-time events to a user's open browser sessions.
//
// The Registry maps a user id to the set of that user's open stream handles
// (SSE or websocket). Delivery is at-most-once: if the user has no open
// handle when an event arrives, or a handle's buffer is full, the event is
// dropped. Nothing is persisted.
//
// With a Bus configured, Publish goes through the bus and every instance's
// Run loop delivers to its own local handles, so a user connected to any
// instance receives the event.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/lalith-99/linedesk/internal/observ"
	"go.uber.org/zap"
)

// Event types.
const (
	EventConnected           = "connected"
	EventHeartbeat           = "heartbeat"
	EventNewMessage          = "new_message"
	EventConversationUpdated = "conversation_updated"
	EventBroadcastCompleted  = "broadcast_completed"
)

var (
	ErrBufferFull = errors.New("notify: handle buffer full")
	ErrClosed     = errors.New("notify: handle closed")
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an event payload.
func NewEvent(typ string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, Data: raw}, nil
}

// Handle is one open stream. Send must not block.
type Handle interface {
	Send(ev Event) error
	Close()
}

// Envelope is what travels over a Bus.
type Envelope struct {
	UserID uuid.UUID `json:"user_id"`
	Event  Event     `json:"event"`
}

// Bus carries events between instances.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe delivers every published envelope until ctx is done.
	Subscribe(ctx context.Context, deliver func(Envelope)) error
	Close() error
}

type Registry struct {
	mu      sync.RWMutex
	handles map[uuid.UUID]map[Handle]struct{}
	bus     Bus
	logger  *zap.Logger
}

// NewRegistry builds a registry. bus may be nil, in which case Publish
// delivers in-process.
func NewRegistry(bus Bus, logger *zap.Logger) *Registry {
	return &Registry{
		handles: make(map[uuid.UUID]map[Handle]struct{}),
		bus:     bus,
		logger:  logger,
	}
}

// Register adds h to the user's set. There is no limit per user.
func (r *Registry) Register(userID uuid.UUID, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.handles[userID]
	if set == nil {
		set = make(map[Handle]struct{})
		r.handles[userID] = set
	}
	set[h] = struct{}{}
}

// Unregister removes h and prunes the user entry once it is empty.
func (r *Registry) Unregister(userID uuid.UUID, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.handles[userID]
	if set == nil {
		return
	}
	delete(set, h)
	if len(set) == 0 {
		delete(r.handles, userID)
	}
}

// Count returns the number of open handles for the user.
func (r *Registry) Count(userID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles[userID])
}

// Users returns how many users have at least one open handle.
func (r *Registry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Publish sends ev to every open handle of the user. It never fails: a
// bus error is logged and the event is lost.
func (r *Registry) Publish(ctx context.Context, userID uuid.UUID, ev Event) {
	if r.bus == nil {
		r.deliver(Envelope{UserID: userID, Event: ev})
		return
	}
	if err := r.bus.Publish(ctx, Envelope{UserID: userID, Event: ev}); err != nil {
		r.logger.Warn("publish event failed",
			zap.String("user_id", userID.String()),
			zap.String("type", ev.Type),
			zap.Error(err),
		)
	}
}

// PublishMany sends the same event to several users, once per user.
func (r *Registry) PublishMany(ctx context.Context, userIDs []uuid.UUID, ev Event) {
	seen := make(map[uuid.UUID]bool, len(userIDs))
	for _, id := range userIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		r.Publish(ctx, id, ev)
	}
}

func (r *Registry) deliver(env Envelope) {
	r.mu.RLock()
	set := r.handles[env.UserID]
	targets := make([]Handle, 0, len(set))
	for h := range set {
		targets = append(targets, h)
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		observ.NotificationsTotal.WithLabelValues("no_listener").Inc()
		return
	}
	for _, h := range targets {
		switch err := h.Send(env.Event); {
		case err == nil:
			observ.NotificationsTotal.WithLabelValues("delivered").Inc()
		case errors.Is(err, ErrBufferFull):
			observ.NotificationsTotal.WithLabelValues("dropped").Inc()
		default:
			observ.NotificationsTotal.WithLabelValues("dropped").Inc()
			r.Unregister(env.UserID, h)
		}
	}
}

// Run consumes the bus until ctx is done. Without a bus it just waits.
func (r *Registry) Run(ctx context.Context) error {
	if r.bus == nil {
		<-ctx.Done()
		return nil
	}
	r.logger.Info("notification bus subscribed")
	err := r.bus.Subscribe(ctx, r.deliver)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Close ends every open handle and closes the bus.
func (r *Registry) Close() error {
	r.mu.Lock()
	all := r.handles
	r.handles = make(map[uuid.UUID]map[Handle]struct{})
	r.mu.Unlock()

	for _, set := range all {
		for h := range set {
			h.Close()
		}
	}
	if r.bus != nil {
		return r.bus.Close()
	}
	return nil
}
