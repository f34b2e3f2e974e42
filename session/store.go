package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTTL is the lifetime of an established session
const DefaultTTL = 12 * time.Hour

// Reader is the read-only view of the store given to guards, gates and handlers
type Reader interface {
	Get(id string) Session
	Subscribe(fn func(Event)) (cancel func())
	Version() uint64
}

// Writer is the mutating surface of the store. Only the auth flow holds one.
type Writer interface {
	Establish(user SessionUser) (string, Session)
	Revoke(id string) bool
	RevokeUser(userID uuid.UUID) int
	Sweep(now time.Time) int
}

var (
	_ Reader = (*Store)(nil)
	_ Writer = (*Store)(nil)
)

// EventKind describes a store mutation
type EventKind string

const (
	EventEstablished EventKind = "established"
	EventRevoked     EventKind = "revoked"
	EventExpired     EventKind = "expired"
)

// Event is delivered to subscribers after every write
type Event struct {
	Kind      EventKind
	SessionID string
	UserID    uuid.UUID
	Version   uint64
}

// Store is an in-memory session registry keyed by opaque session ID.
// Thread-safe implementation using sync.RWMutex.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]Session
	version  uint64

	subMu  sync.Mutex
	subs   []subscriber // in subscription order
	nextID int

	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store whose sessions live for ttl (DefaultTTL when <= 0)
func NewStore(ttl time.Duration, logger *zap.Logger, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		sessions: make(map[string]Session),
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Establish stores a new authenticated session for user and returns its ID
func (s *Store) Establish(user SessionUser) (string, Session) {
	now := s.now()
	u := user
	sess := Session{
		Authenticated: true,
		User:          &u,
		IssuedAt:      now,
		ExpiresAt:     now.Add(s.ttl),
	}
	id := uuid.NewString()

	s.mu.Lock()
	s.sessions[id] = sess
	s.version++
	v := s.version
	s.mu.Unlock()

	s.logger.Debug("session established",
		zap.String("user_id", user.ID.String()),
		zap.String("role", user.Role.String()),
	)
	s.publish(Event{Kind: EventEstablished, SessionID: id, UserID: user.ID, Version: v})
	return id, sess
}

// Get returns the session for id. Unknown or expired IDs yield the empty session.
func (s *Store) Get(id string) Session {
	if id == "" {
		return Empty
	}
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok || !sess.Active(s.now()) {
		return Empty
	}
	return sess
}

// Revoke removes a session. It reports whether the session existed.
func (s *Store) Revoke(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.sessions, id)
	s.version++
	v := s.version
	s.mu.Unlock()

	var userID uuid.UUID
	if sess.User != nil {
		userID = sess.User.ID
	}
	s.publish(Event{Kind: EventRevoked, SessionID: id, UserID: userID, Version: v})
	return true
}

// RevokeUser removes every session belonging to userID and returns how many were removed
func (s *Store) RevokeUser(userID uuid.UUID) int {
	s.mu.Lock()
	var ids []string
	for id, sess := range s.sessions {
		if sess.User != nil && sess.User.ID == userID {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(s.sessions, id)
	}
	var v uint64
	if len(ids) > 0 {
		s.version++
		v = s.version
	}
	s.mu.Unlock()

	sort.Strings(ids)
	for _, id := range ids {
		s.publish(Event{Kind: EventRevoked, SessionID: id, UserID: userID, Version: v})
	}
	return len(ids)
}

// Sweep deletes sessions that expired at or before now
func (s *Store) Sweep(now time.Time) int {
	type expired struct {
		id     string
		userID uuid.UUID
	}

	s.mu.Lock()
	var gone []expired
	for id, sess := range s.sessions {
		if sess.Active(now) {
			continue
		}
		e := expired{id: id}
		if sess.User != nil {
			e.userID = sess.User.ID
		}
		gone = append(gone, e)
		delete(s.sessions, id)
	}
	var v uint64
	if len(gone) > 0 {
		s.version++
		v = s.version
	}
	s.mu.Unlock()

	for _, e := range gone {
		s.publish(Event{Kind: EventExpired, SessionID: e.id, UserID: e.userID, Version: v})
	}
	return len(gone)
}

// Version is bumped by every write
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Len returns the number of stored sessions, including expired ones not yet swept
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

type subscriber struct {
	id int
	fn func(Event)
}

// Subscribe registers fn to be called after every write.
// Callbacks run synchronously on the writer's goroutine, outside the store
// lock, in the order they subscribed.
func (s *Store) Subscribe(fn func(Event)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					// copy so a snapshot held by publish is never rewritten
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Store) publish(e Event) {
	s.subMu.Lock()
	subs := s.subs
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.fn(e)
	}
}

// RunJanitor sweeps expired sessions every interval until ctx is done
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				s.logger.Info("swept expired sessions", zap.Int("count", n))
			}
		}
	}
}
