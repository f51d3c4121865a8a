package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sayit-api/internal/dto"
)

type presenceCall struct {
	UserID   string
	Online   bool
	LastSeen *time.Time
}

type recordingPresenceStore struct {
	mu    sync.Mutex
	calls []presenceCall
	err   error
}

func (s *recordingPresenceStore) UpdatePresence(_ context.Context, id string, online bool, lastSeen *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, presenceCall{UserID: id, Online: online, LastSeen: lastSeen})
	return s.err
}

func (s *recordingPresenceStore) snapshot() []presenceCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]presenceCall(nil), s.calls...)
}

func presenceUpdates(p *recordingPusher) []dto.PresenceState {
	updates := make([]dto.PresenceState, 0)
	for _, push := range p.byEvent(dto.EventPresenceUpdate) {
		updates = append(updates, push.Payload.(dto.PresenceState))
	}
	return updates
}

func TestPresenceTrackerOnlyFirstAndLastConnectionChangeState(t *testing.T) {
	store := &recordingPresenceStore{}
	broadcaster := &recordingPusher{}
	tracker := NewPresenceTracker(store, broadcaster, zerolog.Nop())
	ctx := context.Background()

	const connections = 4
	for i := 0; i < connections; i++ {
		require.NoError(t, tracker.Connect(ctx, "user-1"))
	}
	for i := 0; i < connections-1; i++ {
		require.NoError(t, tracker.Disconnect(ctx, "user-1"))
	}

	require.Equal(t, []dto.PresenceState{{UserID: "user-1", IsOnline: true}}, tracker.Snapshot())
	updates := presenceUpdates(broadcaster)
	require.Len(t, updates, 1)
	require.True(t, updates[0].IsOnline)
	require.Nil(t, updates[0].LastSeen)

	require.NoError(t, tracker.Disconnect(ctx, "user-1"))
	require.Empty(t, tracker.Snapshot())

	updates = presenceUpdates(broadcaster)
	require.Len(t, updates, 2)
	require.False(t, updates[1].IsOnline)
	require.NotNil(t, updates[1].LastSeen)

	calls := store.snapshot()
	require.Len(t, calls, 2)
	require.True(t, calls[0].Online)
	require.Nil(t, calls[0].LastSeen)
	require.False(t, calls[1].Online)
	require.NotNil(t, calls[1].LastSeen)
}

func TestPresenceTrackerIgnoresUnknownDisconnect(t *testing.T) {
	store := &recordingPresenceStore{}
	broadcaster := &recordingPusher{}
	tracker := NewPresenceTracker(store, broadcaster, zerolog.Nop())

	require.NoError(t, tracker.Disconnect(context.Background(), "ghost"))
	require.Empty(t, store.snapshot())
	require.Empty(t, presenceUpdates(broadcaster))
}

func TestPresenceTrackerConcurrentConnections(t *testing.T) {
	store := &recordingPresenceStore{}
	broadcaster := &recordingPusher{}
	tracker := NewPresenceTracker(store, broadcaster, zerolog.Nop())
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tracker.Connect(ctx, "busy")
		}()
	}
	wg.Wait()
	require.Len(t, presenceUpdates(broadcaster), 1)
	require.Len(t, tracker.Snapshot(), 1)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tracker.Disconnect(ctx, "busy")
		}()
	}
	wg.Wait()

	updates := presenceUpdates(broadcaster)
	require.Len(t, updates, 2)
	require.False(t, updates[1].IsOnline)
	require.Empty(t, tracker.Snapshot())
}

func TestPresenceTrackerBroadcastsEvenWhenPersistFails(t *testing.T) {
	store := &recordingPresenceStore{err: errors.New("db down")}
	broadcaster := &recordingPusher{}
	tracker := NewPresenceTracker(store, broadcaster, zerolog.Nop())

	err := tracker.Connect(context.Background(), "user-1")
	require.Error(t, err)
	require.Len(t, presenceUpdates(broadcaster), 1)
	require.Len(t, tracker.Snapshot(), 1)
}

func TestPresenceTrackerShutdownMarksEveryoneOffline(t *testing.T) {
	store := &recordingPresenceStore{}
	broadcaster := &recordingPusher{}
	tracker := NewPresenceTracker(store, broadcaster, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, tracker.Connect(ctx, "a"))
	require.NoError(t, tracker.Connect(ctx, "b"))
	require.NoError(t, tracker.Connect(ctx, "b"))

	require.NoError(t, tracker.Shutdown(ctx))
	require.Empty(t, tracker.Snapshot())

	offline := 0
	for _, update := range presenceUpdates(broadcaster) {
		if !update.IsOnline {
			offline++
		}
	}
	require.Equal(t, 2, offline)

	require.NoError(t, tracker.Disconnect(ctx, "b"))
	require.Len(t, presenceUpdates(broadcaster), 4)
}

type gatedPresenceStore struct {
	recordingPresenceStore
	offlineStarted chan struct{}
	release        chan struct{}
}

func (s *gatedPresenceStore) UpdatePresence(ctx context.Context, id string, online bool, lastSeen *time.Time) error {
	if !online {
		close(s.offlineStarted)
		<-s.release
	}
	return s.recordingPresenceStore.UpdatePresence(ctx, id, online, lastSeen)
}

func TestPresenceTrackerReconnectDuringOfflinePersistEndsOnline(t *testing.T) {
	store := &gatedPresenceStore{offlineStarted: make(chan struct{}), release: make(chan struct{})}
	broadcaster := &recordingPusher{}
	tracker := NewPresenceTracker(store, broadcaster, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, tracker.Connect(ctx, "user-1"))

	disconnected := make(chan error, 1)
	go func() { disconnected <- tracker.Disconnect(ctx, "user-1") }()
	<-store.offlineStarted

	reconnected := make(chan error, 1)
	go func() { reconnected <- tracker.Connect(ctx, "user-1") }()

	select {
	case <-reconnected:
		t.Fatal("connect finished while the offline transition was still persisting")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	require.NoError(t, <-disconnected)
	require.NoError(t, <-reconnected)

	require.Equal(t, []dto.PresenceState{{UserID: "user-1", IsOnline: true}}, tracker.Snapshot())

	calls := store.snapshot()
	require.Len(t, calls, 3)
	require.True(t, calls[2].Online)

	updates := presenceUpdates(broadcaster)
	require.Len(t, updates, 3)
	require.True(t, updates[2].IsOnline)
}
