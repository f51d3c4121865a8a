package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/sayit-api/internal/dto"
	"github.com/noah-isme/sayit-api/internal/observability"
)

// Broadcaster pushes an event to every connected client.
type Broadcaster interface {
	Broadcast(ctx context.Context, event string, payload interface{})
}

// PresenceStore persists the online flag and last-seen timestamp of a user.
type PresenceStore interface {
	UpdatePresence(ctx context.Context, id string, online bool, lastSeen *time.Time) error
}

// PresenceTracker counts joined connections per user. Only the first connect and the
// last disconnect change state, persist it and broadcast presence:update.
type PresenceTracker interface {
	Connect(ctx context.Context, userID string) error
	Disconnect(ctx context.Context, userID string) error
	Snapshot() []dto.PresenceState
	Shutdown(ctx context.Context) error
}

// presenceEntry lives for the lifetime of the tracker. Its lock serialises the count
// change together with the persist and broadcast of the resulting transition.
type presenceEntry struct {
	mu    sync.Mutex
	count int
}

type presenceTracker struct {
	mu          sync.Mutex
	entries     map[string]*presenceEntry
	online      map[string]struct{}
	store       PresenceStore
	broadcaster Broadcaster
	logger      zerolog.Logger
	now         func() time.Time
}

// NewPresenceTracker creates an empty tracker.
func NewPresenceTracker(store PresenceStore, broadcaster Broadcaster, logger zerolog.Logger) PresenceTracker {
	return &presenceTracker{
		entries:     make(map[string]*presenceEntry),
		online:      make(map[string]struct{}),
		store:       store,
		broadcaster: broadcaster,
		logger:      logger.With().Str("component", "presence_tracker").Logger(),
		now:         time.Now,
	}
}

func (t *presenceTracker) Connect(ctx context.Context, userID string) error {
	entry := t.acquire(userID)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.count++
	if entry.count > 1 {
		return nil
	}

	t.setOnline(userID, true)
	return t.transition(ctx, userID, true, nil)
}

func (t *presenceTracker) Disconnect(ctx context.Context, userID string) error {
	t.mu.Lock()
	entry, ok := t.entries[userID]
	t.mu.Unlock()
	if !ok {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.count == 0 {
		return nil
	}
	entry.count--
	if entry.count > 0 {
		return nil
	}

	t.setOnline(userID, false)
	lastSeen := t.now().UTC()
	return t.transition(ctx, userID, false, &lastSeen)
}

// Snapshot reports every online user. Offline users are not included.
func (t *presenceTracker) Snapshot() []dto.PresenceState {
	t.mu.Lock()
	ids := make([]string, 0, len(t.online))
	for id := range t.online {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	sort.Strings(ids)
	states := make([]dto.PresenceState, 0, len(ids))
	for _, id := range ids {
		states = append(states, dto.PresenceState{UserID: id, IsOnline: true})
	}
	return states
}

// Shutdown marks every tracked user offline.
func (t *presenceTracker) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	entries := make(map[string]*presenceEntry, len(t.entries))
	for id, entry := range t.entries {
		entries[id] = entry
	}
	t.mu.Unlock()

	var firstErr error
	for userID, entry := range entries {
		entry.mu.Lock()
		if entry.count == 0 {
			entry.mu.Unlock()
			continue
		}
		entry.count = 0
		t.setOnline(userID, false)

		lastSeen := t.now().UTC()
		if err := t.transition(ctx, userID, false, &lastSeen); err != nil && firstErr == nil {
			firstErr = err
		}
		entry.mu.Unlock()
	}
	return firstErr
}

func (t *presenceTracker) acquire(userID string) *presenceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[userID]
	if !ok {
		entry = &presenceEntry{}
		t.entries[userID] = entry
	}
	return entry
}

func (t *presenceTracker) setOnline(userID string, online bool) {
	t.mu.Lock()
	if online {
		t.online[userID] = struct{}{}
	} else {
		delete(t.online, userID)
	}
	count := len(t.online)
	t.mu.Unlock()
	observability.PresenceOnlineUsers().Set(float64(count))
}

// transition persists the new state then broadcasts it. The broadcast still happens when
// persistence fails; the error is returned to the caller.
func (t *presenceTracker) transition(ctx context.Context, userID string, online bool, lastSeen *time.Time) error {
	var err error
	if t.store != nil {
		if err = t.store.UpdatePresence(ctx, userID, online, lastSeen); err != nil {
			t.logger.Error().Err(err).Str("user_id", userID).Bool("online", online).Msg("failed to persist presence")
		}
	}

	if t.broadcaster != nil {
		t.broadcaster.Broadcast(ctx, dto.EventPresenceUpdate, dto.PresenceState{
			UserID:   userID,
			IsOnline: online,
			LastSeen: lastSeen,
		})
	}
	return err
}
