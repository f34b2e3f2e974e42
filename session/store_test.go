package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fieldops/field-manager/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(ttl time.Duration) (*Store, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return NewStore(ttl, zap.NewNop(), WithClock(clock.Now)), clock
}

func testUser(role models.Role) SessionUser {
	return SessionUser{ID: uuid.New(), Email: "op@example.com", Role: role}
}

func TestSession_ZeroValue(t *testing.T) {
	var s Session
	assert.False(t, s.Active(time.Now()))
	assert.Equal(t, models.RoleNone, s.Role())
}

func TestSession_Role(t *testing.T) {
	user := testUser(models.RoleAdmin)

	assert.Equal(t, models.RoleAdmin, Session{Authenticated: true, User: &user}.Role())
	assert.Equal(t, models.RoleNone, Session{Authenticated: false, User: &user}.Role())
	assert.Equal(t, models.RoleNone, Session{Authenticated: true}.Role())

	bogus := SessionUser{ID: uuid.New(), Role: models.Role("warlord")}
	assert.Equal(t, models.RoleNone, Session{Authenticated: true, User: &bogus}.Role())
}

func TestSession_Active(t *testing.T) {
	now := time.Now()
	user := testUser(models.RolePlayer)

	assert.True(t, Session{Authenticated: true, User: &user}.Active(now), "zero expiry never expires")
	assert.True(t, Session{Authenticated: true, User: &user, ExpiresAt: now.Add(time.Second)}.Active(now))
	assert.False(t, Session{Authenticated: true, User: &user, ExpiresAt: now}.Active(now))
	assert.False(t, Session{Authenticated: true, User: nil, ExpiresAt: now.Add(time.Hour)}.Active(now))
}

func TestEphemeral(t *testing.T) {
	user := testUser(models.RoleFieldManager)
	s := Ephemeral(user, time.Now().Add(time.Minute))
	user.Role = models.RoleGuest

	assert.True(t, s.Active(time.Now()))
	assert.Equal(t, models.RoleFieldManager, s.Role(), "session holds its own copy of the user")
}

func TestStore_EstablishAndGet(t *testing.T) {
	store, clock := newTestStore(time.Hour)
	user := testUser(models.RoleTeamLeader)

	id, sess := store.Establish(user)
	require.NotEmpty(t, id)
	assert.True(t, sess.Authenticated)
	assert.Equal(t, clock.Now().Add(time.Hour), sess.ExpiresAt)

	got := store.Get(id)
	assert.True(t, got.Active(clock.Now()))
	assert.Equal(t, models.RoleTeamLeader, got.Role())
	assert.Equal(t, user.ID, got.User.ID)
}

func TestStore_GetUnknown(t *testing.T) {
	store, _ := newTestStore(time.Hour)
	assert.Equal(t, Empty, store.Get("nope"))
	assert.Equal(t, Empty, store.Get(""))
}

func TestStore_Expiry(t *testing.T) {
	store, clock := newTestStore(time.Minute)
	id, _ := store.Establish(testUser(models.RolePlayer))

	clock.Advance(59 * time.Second)
	assert.True(t, store.Get(id).Authenticated)

	clock.Advance(time.Second)
	assert.Equal(t, Empty, store.Get(id), "expired session reads as empty")
	assert.Equal(t, 1, store.Len(), "expired session stays until swept")

	assert.Equal(t, 1, store.Sweep(clock.Now()))
	assert.Equal(t, 0, store.Len())
}

func TestStore_Revoke(t *testing.T) {
	store, _ := newTestStore(time.Hour)
	id, _ := store.Establish(testUser(models.RoleAdmin))

	assert.True(t, store.Revoke(id))
	assert.Equal(t, Empty, store.Get(id))
	assert.False(t, store.Revoke(id), "second revoke is a no-op")
}

func TestStore_RevokeUser(t *testing.T) {
	store, _ := newTestStore(time.Hour)
	target := testUser(models.RolePlayer)
	other := testUser(models.RolePlayer)

	a, _ := store.Establish(target)
	b, _ := store.Establish(target)
	c, _ := store.Establish(other)

	assert.Equal(t, 2, store.RevokeUser(target.ID))
	assert.Equal(t, Empty, store.Get(a))
	assert.Equal(t, Empty, store.Get(b))
	assert.True(t, store.Get(c).Authenticated)
	assert.Equal(t, 0, store.RevokeUser(target.ID))
}

func TestStore_VersionBumpsOnWrite(t *testing.T) {
	store, clock := newTestStore(time.Minute)
	assert.Equal(t, uint64(0), store.Version())

	id, _ := store.Establish(testUser(models.RolePlayer))
	assert.Equal(t, uint64(1), store.Version())

	store.Get(id)
	assert.Equal(t, uint64(1), store.Version(), "reads do not bump the version")

	store.Revoke(id)
	assert.Equal(t, uint64(2), store.Version())

	store.Revoke(id)
	assert.Equal(t, uint64(2), store.Version(), "no-op revoke does not bump the version")

	store.Establish(testUser(models.RolePlayer))
	clock.Advance(time.Hour)
	store.Sweep(clock.Now())
	assert.Equal(t, uint64(4), store.Version())
}

func TestStore_Subscribe(t *testing.T) {
	store, _ := newTestStore(time.Hour)

	var events []Event
	cancel := store.Subscribe(func(e Event) {
		// writes are visible to readers by the time subscribers run
		if e.Kind == EventEstablished {
			assert.True(t, store.Get(e.SessionID).Authenticated)
		}
		events = append(events, e)
	})

	user := testUser(models.RoleAdmin)
	id, _ := store.Establish(user)
	store.Revoke(id)

	require.Len(t, events, 2)
	assert.Equal(t, EventEstablished, events[0].Kind)
	assert.Equal(t, user.ID, events[0].UserID)
	assert.Equal(t, EventRevoked, events[1].Kind)
	assert.Equal(t, uint64(2), events[1].Version)

	cancel()
	cancel()
	store.Establish(user)
	assert.Len(t, events, 2, "cancelled subscriber receives nothing")
}

func TestStore_SubscribersRunInOrder(t *testing.T) {
	store, _ := newTestStore(time.Hour)

	var order []string
	record := func(name string) func(Event) {
		return func(Event) { order = append(order, name) }
	}
	store.Subscribe(record("cache"))
	cancelAudit := store.Subscribe(record("audit"))
	store.Subscribe(record("metrics"))
	store.Subscribe(record("notify"))

	for i := 0; i < 10; i++ {
		store.Establish(testUser(models.RolePlayer))
	}
	require.Len(t, order, 40)
	for i := 0; i < 40; i += 4 {
		assert.Equal(t, []string{"cache", "audit", "metrics", "notify"}, order[i:i+4])
	}

	order = nil
	cancelAudit()
	store.Subscribe(record("late"))
	store.Establish(testUser(models.RolePlayer))
	assert.Equal(t, []string{"cache", "metrics", "notify", "late"}, order)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store := NewStore(time.Hour, nil)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _ := store.Establish(testUser(models.RolePlayer))
			_ = store.Get(id)
			store.Revoke(id)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, store.Len())
	assert.Equal(t, uint64(40), store.Version())
}

func TestStore_RunJanitor(t *testing.T) {
	clock := &fakeClock{now: time.Now().UTC()}
	store := NewStore(time.Millisecond, zap.NewNop(), WithClock(clock.Now))
	store.Establish(testUser(models.RolePlayer))
	clock.Advance(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.RunJanitor(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}
