// Package registry owns presence state: the mapping between stable user ids
// and the transient connection each user is currently reachable on.
//
// A Registry is constructed once per process and passed to every connection
// handler. Every mutation happens under a single lock, so concurrent
// handshakes and disconnects cannot lose updates or allocate two user ids for
// one connection.
package registry

import (
	"slices"
	"strings"
	"sync"
	"time"

	id "payhub/pkg/domain"
)

// Session binds a user to its live connection.
type Session struct {
	UserID       id.UserID
	ConnectionID id.ConnectionID
}

// HandshakeResult is returned by RegisterOrResume and Resume.
type HandshakeResult struct {
	UserID id.UserID
	// Users is the active user set after the handshake, including UserID.
	Users []id.UserID
	// Connections is the active connection set after the handshake.
	Connections []id.ConnectionID
	// Created is true when a new session entry was added.
	Created bool
	// Resumed is true when a previously issued user id was rebound.
	Resumed bool
}

// DefaultResumeWindow is how long a released user id can be resumed.
const DefaultResumeWindow = 10 * time.Minute

// Registry is a bidirectional userId <-> connectionId map.
type Registry struct {
	mu           sync.RWMutex
	byUser       map[id.UserID]id.ConnectionID
	byConn       map[id.ConnectionID]id.UserID
	newID        func() id.UserID
	now          func() time.Time
	resumeWindow time.Duration
	lastSweep    time.Time
	// known holds user ids issued by this process. The value is when the
	// user went offline, zero while bound. Released entries are swept once
	// the resume window has passed.
	known map[id.UserID]time.Time
}

type Option func(*Registry)

// WithIDGenerator overrides user id allocation; for tests.
func WithIDGenerator(gen func() id.UserID) Option {
	return func(r *Registry) {
		r.newID = gen
	}
}

// WithResumeWindow sets how long after a disconnect a user id may be resumed.
func WithResumeWindow(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.resumeWindow = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		byUser:       make(map[id.UserID]id.ConnectionID),
		byConn:       make(map[id.ConnectionID]id.UserID),
		known:        make(map[id.UserID]time.Time),
		newID:        id.NewUserID,
		now:          time.Now,
		resumeWindow: DefaultResumeWindow,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.lastSweep = r.now()
	return r
}

// RegisterOrResume returns the user already bound to connID, or allocates a
// fresh user id and binds it. The lookup and insert share one critical
// section.
func (r *Registry) RegisterOrResume(connID id.ConnectionID) HandshakeResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if userID, ok := r.byConn[connID]; ok {
		return r.resultLocked(userID, false, false)
	}
	userID := r.allocateLocked()
	r.bindLocked(userID, connID)
	return r.resultLocked(userID, true, false)
}

// Resume rebinds a previously issued user id to connID. The user id must have
// been issued by this registry and be either online or released within the
// resume window; if it is bound to another connection, that stale binding is
// replaced. Unknown or expired ids fall back to RegisterOrResume semantics and
// Resumed is false.
func (r *Registry) Resume(connID id.ConnectionID, previous id.UserID) HandshakeResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if userID, ok := r.byConn[connID]; ok {
		return r.resultLocked(userID, false, userID == previous)
	}
	if !r.resumableLocked(previous) {
		userID := r.allocateLocked()
		r.bindLocked(userID, connID)
		return r.resultLocked(userID, true, false)
	}
	if old, ok := r.byUser[previous]; ok {
		delete(r.byConn, old)
	}
	r.bindLocked(previous, connID)
	return r.resultLocked(previous, true, true)
}

// Unregister removes the session owning connID. Unknown connections are a
// no-op: ok is false and the remaining set is still returned.
func (r *Registry) Unregister(connID id.ConnectionID) (userID id.UserID, remaining []id.ConnectionID, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok = r.byConn[connID]
	if ok {
		delete(r.byConn, connID)
		delete(r.byUser, userID)
		now := r.now()
		r.known[userID] = now
		r.sweepLocked(now)
	}
	return userID, r.connectionsLocked(), ok
}

// Resolve returns the live connection for a user.
func (r *Registry) Resolve(userID id.UserID) (id.ConnectionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.byUser[userID]
	return connID, ok
}

// Owner returns the user bound to a connection.
func (r *Registry) Owner(connID id.ConnectionID) (id.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.byConn[connID]
	return userID, ok
}

// Users returns the active user ids in a stable order.
func (r *Registry) Users() []id.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.usersLocked()
}

// Connections returns the active connection ids in a stable order.
func (r *Registry) Connections() []id.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connectionsLocked()
}

// Sessions returns a snapshot of all live sessions.
func (r *Registry) Sessions() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.byUser))
	for userID, connID := range r.byUser {
		out = append(out, Session{UserID: userID, ConnectionID: connID})
	}
	slices.SortFunc(out, func(a, b Session) int {
		return strings.Compare(a.UserID.String(), b.UserID.String())
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func (r *Registry) allocateLocked() id.UserID {
	for {
		userID := r.newID()
		if _, taken := r.known[userID]; !taken && !userID.IsNil() {
			return userID
		}
	}
}

func (r *Registry) bindLocked(userID id.UserID, connID id.ConnectionID) {
	r.byUser[userID] = connID
	r.byConn[connID] = userID
	r.known[userID] = time.Time{}
}

func (r *Registry) resumableLocked(userID id.UserID) bool {
	releasedAt, ok := r.known[userID]
	if !ok || userID.IsNil() {
		return false
	}
	return releasedAt.IsZero() || r.now().Sub(releasedAt) <= r.resumeWindow
}

// sweepLocked drops released user ids older than the resume window. It runs
// at most once per window.
func (r *Registry) sweepLocked(now time.Time) {
	if now.Sub(r.lastSweep) < r.resumeWindow {
		return
	}
	r.lastSweep = now
	for userID, releasedAt := range r.known {
		if !releasedAt.IsZero() && now.Sub(releasedAt) > r.resumeWindow {
			delete(r.known, userID)
		}
	}
}

// Known returns how many user ids are bound or still resumable.
func (r *Registry) Known() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.known)
}

func (r *Registry) resultLocked(userID id.UserID, created, resumed bool) HandshakeResult {
	return HandshakeResult{
		UserID:      userID,
		Users:       r.usersLocked(),
		Connections: r.connectionsLocked(),
		Created:     created,
		Resumed:     resumed,
	}
}

func (r *Registry) usersLocked() []id.UserID {
	out := make([]id.UserID, 0, len(r.byUser))
	for userID := range r.byUser {
		out = append(out, userID)
	}
	slices.SortFunc(out, func(a, b id.UserID) int { return strings.Compare(a.String(), b.String()) })
	return out
}

func (r *Registry) connectionsLocked() []id.ConnectionID {
	out := make([]id.ConnectionID, 0, len(r.byConn))
	for connID := range r.byConn {
		out = append(out, connID)
	}
	slices.SortFunc(out, func(a, b id.ConnectionID) int { return strings.Compare(a.String(), b.String()) })
	return out
}
