package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/planning-poker-backend/internal/engine"
	"github.com/DoyleJ11/planning-poker-backend/internal/eventbus"
	"github.com/DoyleJ11/planning-poker-backend/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCoordinator(t *testing.T, mod func(*Options)) *Coordinator {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	opts := Options{
		MutationTimeout: time.Second,
		TickInterval:    10 * time.Millisecond,
		ChatBurst:       100,
	}
	if mod != nil {
		mod(&opts)
	}
	return New(ctx, opts)
}

func openRepo(t *testing.T) *storage.GormRepository {
	t.Helper()
	db, err := storage.Open("sqlite", ":memory:", nil)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return storage.NewRepository(db)
}

func recvRoom(t *testing.T, sub *eventbus.Subscription) engine.Room {
	t.Helper()
	select {
	case msg, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		room, ok := msg.(engine.Room)
		require.True(t, ok, "unexpected payload %T", msg)
		return room
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for room snapshot")
		return engine.Room{}
	}
}

func TestCoordinator_VotingRoundWithCountdown(t *testing.T) {
	c := newTestCoordinator(t, func(o *Options) { o.TickInterval = 50 * time.Millisecond })
	ctx := context.Background()

	room, err := c.CreateRoom(ctx, "", "Sprint", []string{"1", "2", "3", "5", "?"})
	require.NoError(t, err)
	require.NotEmpty(t, room.ID)
	assert.Equal(t, engine.RevealNone, room.RevealStage)

	room, err = c.JoinRoom(ctx, room.ID, JoinUser{ID: "A", Username: "alice"}, "")
	require.NoError(t, err)
	assert.Equal(t, "A", room.RoomOwnerID)
	_, err = c.JoinRoom(ctx, room.ID, JoinUser{ID: "B", Username: "bob"}, "")
	require.NoError(t, err)

	sub, err := c.SubscribeRoom(ctx, room.ID)
	require.NoError(t, err)
	defer sub.Close()
	assert.Len(t, recvRoom(t, sub).Users, 2)

	_, err = c.PickCard(ctx, "A", room.ID, "3")
	require.NoError(t, err)
	_, err = c.PickCard(ctx, "B", room.ID, "5")
	require.NoError(t, err)

	_, err = c.StartRevealCountdown(ctx, room.ID, "B")
	assert.ErrorIs(t, err, engine.ErrForbidden)

	started, err := c.StartRevealCountdown(ctx, room.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, engine.RevealCountdown, started.RevealStage)

	// a second click while running is harmless
	again, err := c.StartRevealCountdown(ctx, room.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, engine.RevealCountdown, again.RevealStage)

	var last engine.Room
	for !last.IsGameOver() {
		last = recvRoom(t, sub)
	}
	avg, ok := last.VoteAverage()
	require.True(t, ok)
	assert.InDelta(t, 4.0, avg, 1e-9)

	room, err = c.ResetGame(ctx, room.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, engine.RevealNone, room.RevealStage)
	assert.Empty(t, room.Game.Table)
}

func TestCoordinator_CreateRoomConflicts(t *testing.T) {
	c := newTestCoordinator(t, nil)
	ctx := context.Background()

	room, err := c.CreateRoom(ctx, "fixed", "", nil)
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultCards, room.Deck.Cards)

	_, err = c.CreateRoom(ctx, "fixed", "", nil)
	assert.ErrorIs(t, err, engine.ErrAlreadyExists)
}

func TestCoordinator_UnknownRoom(t *testing.T) {
	c := newTestCoordinator(t, nil)
	ctx := context.Background()

	got, err := c.RoomByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = c.PickCard(ctx, "A", "nope", "1")
	assert.ErrorIs(t, err, engine.ErrNotFound)

	_, err = c.SubscribeChat(ctx, "nope")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestCoordinator_BanUnbanFlow(t *testing.T) {
	c := newTestCoordinator(t, nil)
	ctx := context.Background()

	room, err := c.CreateRoom(ctx, "R", "", nil)
	require.NoError(t, err)
	_, err = c.JoinRoom(ctx, room.ID, JoinUser{ID: "owner", Username: "olga"}, "")
	require.NoError(t, err)
	_, err = c.JoinRoom(ctx, room.ID, JoinUser{ID: "X", Username: "xavier"}, "")
	require.NoError(t, err)
	_, err = c.PickCard(ctx, "X", room.ID, "8")
	require.NoError(t, err)

	events, err := c.SubscribeEvents(ctx, room.ID)
	require.NoError(t, err)
	defer events.Close()

	room, err = c.BanUser(ctx, room.ID, "owner", "X")
	require.NoError(t, err)
	assert.False(t, room.HasUser("X"))
	assert.True(t, room.IsBanned("X"))

	select {
	case msg := <-events.C():
		assert.Equal(t, engine.RoomEvent{RoomID: "R", EventType: engine.RoomEventBan, TargetUserID: "X"}, msg)
	case <-time.After(time.Second):
		t.Fatal("no ban event")
	}

	_, err = c.JoinRoom(ctx, room.ID, JoinUser{ID: "X", Username: "xavier"}, "")
	assert.ErrorIs(t, err, engine.ErrBanned)
	assert.Equal(t, engine.KindBanned, engine.KindOf(err))

	_, err = c.UnbanUser(ctx, room.ID, "owner", "X")
	require.NoError(t, err)
	room, err = c.JoinRoom(ctx, room.ID, JoinUser{ID: "X", Username: "xavier"}, "")
	require.NoError(t, err)
	_, voted := room.Game.Table["X"]
	assert.False(t, voted)
}

func TestCoordinator_ChatOrderAndRateLimit(t *testing.T) {
	c := newTestCoordinator(t, func(o *Options) {
		o.ChatBurst = 2
		o.ChatRateInterval = time.Hour
	})
	ctx := context.Background()

	room, err := c.CreateRoom(ctx, "R", "", nil)
	require.NoError(t, err)
	for _, u := range []JoinUser{{ID: "A", Username: "alice"}, {ID: "B", Username: "bob"}} {
		_, err = c.JoinRoom(ctx, room.ID, u, "")
		require.NoError(t, err)
	}

	pos := &engine.Position{X: 0.5, Y: 0.25}
	first, err := c.SendChatMessage(ctx, ChatInput{RoomID: "R", UserID: "A", Content: "one", Position: pos})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "alice", first.Username)
	require.NotNil(t, first.Position)

	_, err = c.SendChatMessage(ctx, ChatInput{RoomID: "R", UserID: "B", Content: "two"})
	require.NoError(t, err)
	_, err = c.SendChatMessage(ctx, ChatInput{RoomID: "R", UserID: "A", Content: "three"})
	require.NoError(t, err)

	_, err = c.SendChatMessage(ctx, ChatInput{RoomID: "R", UserID: "A", Content: "four"})
	assert.ErrorIs(t, err, engine.ErrRateLimited)

	got, err := c.RoomByID(ctx, "R")
	require.NoError(t, err)
	require.NotNil(t, got)
	var contents []string
	for _, m := range got.ChatHistory {
		contents = append(contents, m.Content)
		assert.Nil(t, m.Position)
	}
	assert.Equal(t, []string{"one", "two", "three"}, contents)
}

func TestCoordinator_UsersEditAndLogout(t *testing.T) {
	c := newTestCoordinator(t, nil)
	ctx := context.Background()

	_, err := c.CreateUser(ctx, "  ")
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)

	alice, err := c.CreateUser(ctx, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, alice.ID)

	for _, id := range []string{"R1", "R2"} {
		_, err = c.CreateRoom(ctx, id, "", nil)
		require.NoError(t, err)
		_, err = c.JoinRoom(ctx, id, JoinUser{ID: alice.ID, Username: alice.Username}, "")
		require.NoError(t, err)
	}
	_, err = c.JoinRoom(ctx, "R1", JoinUser{ID: "B", Username: "bob"}, "")
	require.NoError(t, err)

	edited, err := c.EditUser(ctx, alice.ID, "Alice L.")
	require.NoError(t, err)
	assert.Equal(t, "Alice L.", edited.Username)
	for _, id := range []string{"R1", "R2"} {
		room, err := c.RoomByID(ctx, id)
		require.NoError(t, err)
		u, ok := room.User(alice.ID)
		require.True(t, ok)
		assert.Equal(t, "Alice L.", u.Username)
	}

	_, err = c.EditUser(ctx, "", "boo")
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)

	ok, err := c.Logout(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	r1, err := c.RoomByID(ctx, "R1")
	require.NoError(t, err)
	assert.False(t, r1.HasUser(alice.ID))
	assert.Equal(t, "B", r1.RoomOwnerID, "ownership passes to the remaining member")

	r2, err := c.RoomByID(ctx, "R2")
	require.NoError(t, err)
	assert.Empty(t, r2.Users)
	assert.Empty(t, r2.RoomOwnerID)

	ok, err = c.Logout(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCoordinator_SetRoomOwner(t *testing.T) {
	c := newTestCoordinator(t, nil)
	ctx := context.Background()

	_, err := c.CreateRoom(ctx, "R", "", nil)
	require.NoError(t, err)
	_, err = c.JoinRoom(ctx, "R", JoinUser{ID: "A", Username: "alice"}, "")
	require.NoError(t, err)
	_, err = c.JoinRoom(ctx, "R", JoinUser{ID: "B", Username: "bob"}, "")
	require.NoError(t, err)

	_, err = c.SetRoomOwner(ctx, "R", "B", "B")
	assert.ErrorIs(t, err, engine.ErrForbidden)

	room, err := c.SetRoomOwner(ctx, "R", "A", "")
	require.NoError(t, err)
	assert.Empty(t, room.RoomOwnerID)

	room, err = c.SetRoomOwner(ctx, "R", "B", "B")
	require.NoError(t, err)
	assert.Equal(t, "B", room.RoomOwnerID)
}

func TestCoordinator_RestoresRoomsFromStorage(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()

	first := newTestCoordinator(t, func(o *Options) { o.Repo = repo })
	_, err := first.CreateRoom(ctx, "R", "", []string{"1", "2"})
	require.NoError(t, err)
	_, err = first.JoinRoom(ctx, "R", JoinUser{ID: "A", Username: "alice", RoomName: "Planning"}, "")
	require.NoError(t, err)
	_, err = first.JoinRoom(ctx, "R", JoinUser{ID: "B", Username: "bob"}, "")
	require.NoError(t, err)
	_, err = first.ToggleCountdownOption(ctx, "R", "A", false)
	require.NoError(t, err)
	_, err = first.BanUser(ctx, "R", "A", "B")
	require.NoError(t, err)
	_, err = first.SendChatMessage(ctx, ChatInput{RoomID: "R", UserID: "A", Content: "hello"})
	require.NoError(t, err)
	require.NoError(t, first.Shutdown(ctx))

	second := newTestCoordinator(t, func(o *Options) { o.Repo = repo })
	room, err := second.RoomByID(ctx, "R")
	require.NoError(t, err)
	require.NotNil(t, room)

	assert.Equal(t, "Planning", room.Name)
	assert.Equal(t, []string{"1", "2"}, room.Deck.Cards)
	assert.False(t, room.CountdownEnabled)
	assert.Equal(t, []string{"B"}, room.BannedUsers)
	require.Len(t, room.ChatHistory, 1)
	assert.Equal(t, "hello", room.ChatHistory[0].Content)
	assert.Empty(t, room.Users)

	_, err = second.CreateRoom(ctx, "R", "", nil)
	assert.ErrorIs(t, err, engine.ErrAlreadyExists)
}

func TestCoordinator_ReclaimEmptyRooms(t *testing.T) {
	repo := openRepo(t)
	clock := &fakeClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	c := newTestCoordinator(t, func(o *Options) {
		o.Repo = repo
		o.Now = clock.Now
	})
	ctx := context.Background()

	_, err := c.CreateRoom(ctx, "empty", "", nil)
	require.NoError(t, err)
	_, err = c.CreateRoom(ctx, "busy", "", nil)
	require.NoError(t, err)
	_, err = c.JoinRoom(ctx, "busy", JoinUser{ID: "A", Username: "alice"}, "")
	require.NoError(t, err)

	sub, err := c.SubscribeRoom(ctx, "empty")
	require.NoError(t, err)
	_ = recvRoom(t, sub)

	n, err := c.ReclaimEmptyRooms(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing has been empty long enough")

	clock.Advance(2 * time.Hour)
	n, err = c.ReclaimEmptyRooms(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case _, ok := <-sub.C():
		assert.False(t, ok, "subscription should be closed")
	case <-time.After(time.Second):
		t.Fatal("subscription of reclaimed room still open")
	}

	got, err := c.RoomByID(ctx, "empty")
	require.NoError(t, err)
	assert.Nil(t, got)
	_, err = repo.LoadRoom(ctx, "empty", 0)
	assert.ErrorIs(t, err, engine.ErrNotFound)

	got, err = c.RoomByID(ctx, "busy")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestCoordinator_EditUserAdoptsUnknownIdentity(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()

	first := newTestCoordinator(t, func(o *Options) { o.Repo = repo })
	_, err := first.CreateRoom(ctx, "R", "", nil)
	require.NoError(t, err)
	require.NoError(t, first.Shutdown(ctx))

	// A fresh process has an empty directory but the client still holds its id.
	second := newTestCoordinator(t, func(o *Options) { o.Repo = repo })
	edited, err := second.EditUser(ctx, "kept-id", "Carol")
	require.NoError(t, err)
	assert.Equal(t, "kept-id", edited.ID)
	assert.Equal(t, "Carol", edited.Username)

	ok, err := second.Logout(ctx, "kept-id")
	require.NoError(t, err)
	assert.True(t, ok, "the adopted identity is known from now on")

	room, err := second.JoinRoom(ctx, "R", JoinUser{ID: "kept-id", Username: "Carol"}, "")
	require.NoError(t, err)
	assert.True(t, room.HasUser("kept-id"))
}
