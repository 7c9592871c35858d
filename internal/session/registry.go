package session

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrReplaced is the close cause of a session that was displaced by a newer
// connection from the same device. The displaced session's tasks observe it
// through context.Cause.
var ErrReplaced = errors.New("session replaced by a newer connection from the same device")

// Registry maps device ids to live sessions. A device has at most one
// session: registering a new one closes and replaces the previous one.
//
// All methods are safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers sess under its device id. If the device already has a
// session, that session is closed with cause [ErrReplaced] first. Add
// reports whether a previous session was displaced.
func (r *Registry) Add(sess *Session) (replaced bool) {
	r.mu.Lock()
	old := r.sessions[sess.DeviceID]
	r.sessions[sess.DeviceID] = sess
	r.mu.Unlock()

	if old == nil {
		return false
	}
	slog.Info("session: replacing previous connection",
		"device", sess.DeviceID, "old_session", old.ID, "new_session", sess.ID)
	if err := old.Close(ErrReplaced); err != nil {
		slog.Warn("session: close replaced session", "device", sess.DeviceID, "err", err)
	}
	return true
}

// Remove deregisters sess. It only removes the entry if sess is still the
// registered session for its device, so a displaced session's deferred
// cleanup cannot evict its replacement.
func (r *Registry) Remove(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[sess.DeviceID] == sess {
		delete(r.sessions, sess.DeviceID)
	}
}

// Get returns the session registered for the device, if any.
func (r *Registry) Get(deviceID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[deviceID]
	return sess, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every registered session with the given cause and empties
// the registry. Close errors are joined.
func (r *Registry) CloseAll(cause error) error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var errs []error
	for _, sess := range sessions {
		if err := sess.Close(cause); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
