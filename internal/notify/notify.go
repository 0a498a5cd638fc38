// Package notify implements the in-process session registry used to push
// order state changes to connected clients.
//
// Delivery is best-effort and advisory: there is no durable queue, and a
// user without a connected session simply receives nothing. The registry is
// kept behind the service-level Notifier interface so a distributed pub/sub
// backend can replace it without touching business logic.
package notify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/model"
)

const sessionBuffer = 8

// Session is one connected client of a user. Events arrive on C until
// Unregister is called.
type Session struct {
	UserID int64
	C      chan model.Event
}

// Registry maps user ids to their live sessions. A user may hold several
// sessions (multiple tabs/devices); Send fans out to all of them.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]map[*Session]struct{}
	logger   *zap.Logger
}

// NewRegistry creates an empty session registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[int64]map[*Session]struct{}),
		logger:   logger,
	}
}

// Register creates a session for userID and starts routing its events.
func (r *Registry) Register(userID int64) *Session {
	s := &Session{
		UserID: userID,
		C:      make(chan model.Event, sessionBuffer),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[userID] == nil {
		r.sessions[userID] = make(map[*Session]struct{})
	}
	r.sessions[userID][s] = struct{}{}

	return s
}

// Unregister removes the session and closes its channel. Safe to call more
// than once.
func (r *Registry) Unregister(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessions[s.UserID]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}

	delete(set, s)
	if len(set) == 0 {
		delete(r.sessions, s.UserID)
	}
	close(s.C)
}

// Send delivers the event to every session of userID. It never blocks: a
// session with a full buffer misses the event, and a user with no session is
// a normal, silent outcome. The next status poll covers both cases.
func (r *Registry) Send(userID int64, event model.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.sessions[userID]
	if !ok {
		return
	}

	for s := range set {
		select {
		case s.C <- event:
		default:
			r.logger.Debug("notification dropped, session buffer full",
				zap.Int64("userID", userID),
				zap.Int64("orderID", event.OrderID),
			)
		}
	}
}
