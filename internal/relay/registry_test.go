package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeNext(t *testing.T) {
	cases := []struct {
		from    Mode
		trigger Trigger
		want    Mode
		applies bool
	}{
		{BotHandled, TriggerOperatorEnable, HumanHandled, true},
		{BotHandled, TriggerEscalation, HumanHandled, true},
		{BotHandled, TriggerOperatorDisable, BotHandled, true},
		{HumanHandled, TriggerOperatorDisable, BotHandled, true},
		{HumanHandled, TriggerOperatorEnable, HumanHandled, true},
		{HumanHandled, TriggerEscalation, HumanHandled, false},
	}
	for _, tc := range cases {
		got, ok := tc.from.Next(tc.trigger)
		assert.Equal(t, tc.want, got, "%s trigger=%d", tc.from, tc.trigger)
		assert.Equal(t, tc.applies, ok, "%s trigger=%d", tc.from, tc.trigger)
	}
}

func TestRegistry_EnsureRoomIdempotent(t *testing.T) {
	store := newMemStore()
	chatID := store.addChat()
	reg := NewRegistry(store, 0, nil)

	_, err := reg.Attach(context.Background(), chatID, newRecorder("s1"), SessionStudent)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := reg.EnsureRoom(context.Background(), chatID)
			assert.NoError(t, err)
			assert.Equal(t, chatID, st.ChatID)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, reg.Rooms())
	store.mu.Lock()
	assert.Equal(t, 1, store.getChatCalls)
	assert.Len(t, store.chats, 1)
	store.mu.Unlock()
}

func TestRegistry_EnsureRoomUnknownChat(t *testing.T) {
	reg := NewRegistry(newMemStore(), 0, nil)
	_, err := reg.EnsureRoom(context.Background(), 404)
	assert.ErrorIs(t, err, ErrChatNotFound)
	assert.Equal(t, 0, reg.Rooms())
}

func TestRegistry_PresenceIsEdgeTriggered(t *testing.T) {
	store := newMemStore()
	chatID := store.addChat()
	reg := NewRegistry(store, 0, nil)
	ctx := context.Background()

	student := newRecorder("student")
	_, err := reg.Attach(ctx, chatID, student, SessionStudent)
	require.NoError(t, err)

	st, err := reg.Attach(ctx, chatID, newRecorder("a1"), SessionAdmin)
	require.NoError(t, err)
	assert.True(t, st.AdminConnected)
	_, err = reg.Attach(ctx, chatID, newRecorder("a2"), SessionAdmin)
	require.NoError(t, err)

	assert.True(t, reg.Detach(chatID, "a1"))
	assert.True(t, reg.Detach(chatID, "a2"))

	events := student.events()
	require.Len(t, events, 2)
	assert.Equal(t, AdminStatusPayload{ChatID: chatID, IsAdminConnected: true}, events[0].Payload)
	assert.Equal(t, AdminStatusPayload{ChatID: chatID, IsAdminConnected: false}, events[1].Payload)
}

func TestRegistry_AttachTwiceIsNoop(t *testing.T) {
	store := newMemStore()
	chatID := store.addChat()
	reg := NewRegistry(store, 0, nil)
	ctx := context.Background()

	student := newRecorder("student")
	admin := newRecorder("admin")
	_, err := reg.Attach(ctx, chatID, student, SessionStudent)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = reg.Attach(ctx, chatID, admin, SessionAdmin)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, student.count(EventAdminStatusChanged))

	assert.True(t, reg.Detach(chatID, "admin"))
	assert.False(t, reg.Detach(chatID, "admin"))
	assert.Equal(t, 2, student.count(EventAdminStatusChanged))

	assert.True(t, reg.Detach(chatID, "student"))
	assert.Equal(t, 0, reg.Rooms())
}

func TestRegistry_DetachAll(t *testing.T) {
	store := newMemStore()
	reg := NewRegistry(store, 0, nil)
	ctx := context.Background()

	admin := newRecorder("admin")
	watchers := map[int64]*recorder{}
	for i := 0; i < 3; i++ {
		id := store.addChat()
		w := newRecorder("student")
		watchers[id] = w
		_, err := reg.Attach(ctx, id, w, SessionStudent)
		require.NoError(t, err)
		_, err = reg.Attach(ctx, id, admin, SessionAdmin)
		require.NoError(t, err)
	}
	require.Len(t, reg.Memberships("admin"), 3)

	assert.Equal(t, 3, reg.DetachAll("admin"))
	assert.Empty(t, reg.Memberships("admin"))
	for id, w := range watchers {
		assert.Equal(t, 2, w.count(EventAdminStatusChanged), "chat %d", id)
	}
	assert.Equal(t, 0, reg.DetachAll("admin"))
}

func TestRegistry_SetHumanEnabled(t *testing.T) {
	store := newMemStore()
	chatID := store.addChat()
	reg := NewRegistry(store, 0, nil)
	ctx := context.Background()

	w := newRecorder("w")
	_, err := reg.Attach(ctx, chatID, w, SessionStudent)
	require.NoError(t, err)

	require.NoError(t, reg.SetHumanEnabled(ctx, chatID, true))
	on, err := reg.IsHumanEnabled(ctx, chatID)
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, store.humanEnabled(chatID))

	events := w.events()
	require.Len(t, events, 1)
	assert.Equal(t, HumanEnabledPayload{ChatID: chatID, IsHumanEnabled: true}, events[0].Payload)
}

func TestRegistry_SetHumanEnabledStorageFailure(t *testing.T) {
	store := newMemStore()
	chatID := store.addChat()
	store.setHumanErr = errors.New("db down")
	reg := NewRegistry(store, 0, nil)
	ctx := context.Background()

	w := newRecorder("w")
	_, err := reg.Attach(ctx, chatID, w, SessionStudent)
	require.NoError(t, err)

	err = reg.SetHumanEnabled(ctx, chatID, true)
	assert.ErrorIs(t, err, ErrStorage)
	on, err := reg.IsHumanEnabled(ctx, chatID)
	require.NoError(t, err)
	assert.False(t, on)
	assert.Empty(t, w.events())
}

func TestRegistry_StateSurvivesEviction(t *testing.T) {
	store := newMemStore()
	chatID := store.addChat()
	reg := NewRegistry(store, 0, nil)
	ctx := context.Background()

	require.NoError(t, reg.SetHumanEnabled(ctx, chatID, true))
	assert.Equal(t, 0, reg.Rooms())

	on, err := reg.IsHumanEnabled(ctx, chatID)
	require.NoError(t, err)
	assert.True(t, on)
}

func TestRegistry_LoadUnaffectedByOtherEvictions(t *testing.T) {
	store := newMemStore()
	chatID := store.addChat()
	others := make([]int64, 8)
	for i := range others {
		others[i] = store.addChat()
	}
	store.getChatDelay = 2 * time.Millisecond
	reg := NewRegistry(store, 0, nil)
	ctx := context.Background()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, id := range others {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, err := reg.EnsureRoom(ctx, id)
				assert.NoError(t, err)
			}
		}()
	}
	time.Sleep(10 * time.Millisecond)

	start := time.Now()
	st, err := reg.EnsureRoom(ctx, chatID)
	elapsed := time.Since(start)
	close(stop)
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, chatID, st.ChatID)
	assert.Less(t, elapsed, 100*time.Millisecond)
}

func TestRegistry_ChatsDoNotBlockEachOther(t *testing.T) {
	store := newMemStore()
	busy, free := store.addChat(), store.addChat()
	reg := NewRegistry(store, 0, nil)
	ctx := context.Background()

	locked := make(chan struct{})
	unlock := make(chan struct{})
	go func() {
		_ = reg.withRoom(ctx, busy, func(*room) error {
			close(locked)
			<-unlock
			return nil
		})
	}()
	<-locked
	defer close(unlock)

	done := make(chan error, 1)
	go func() { done <- reg.SetHumanEnabled(ctx, free, true) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("operation on one chat waited for another chat's room")
	}
	assert.True(t, store.humanEnabled(free))
}
