// Package coordinator is the service API behind every transport. It resolves
// rooms to their lobbies, bounds each mutation with a timeout and writes the
// durable part of each commit through to storage.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/planning-poker-backend/internal/engine"
	"github.com/DoyleJ11/planning-poker-backend/internal/eventbus"
	"github.com/DoyleJ11/planning-poker-backend/internal/hub"
	"github.com/DoyleJ11/planning-poker-backend/internal/lobby"
	"github.com/DoyleJ11/planning-poker-backend/internal/storage"
)

type Options struct {
	Bus    *eventbus.Bus
	Repo   storage.Repository
	Logger *zap.Logger

	MutationTimeout time.Duration
	TickInterval    time.Duration
	CountdownFrom   int

	ChatRetention    int
	ChatRateInterval time.Duration
	ChatBurst        int

	Now   func() time.Time
	NewID func() string
}

type Coordinator struct {
	hub  *hub.Hub
	bus  *eventbus.Bus
	repo storage.Repository
	log  *zap.Logger

	timeout       time.Duration
	countdownFrom int
	retention     int
	chatEvery     rate.Limit
	chatBurst     int
	now           func() time.Time
	newID         func() string

	rehydrate singleflight.Group

	mu       sync.RWMutex
	users    map[string]string              // user id -> username
	rooms    map[string]map[string]struct{} // user id -> room ids
	limiters map[limiterKey]*rate.Limiter
}

type limiterKey struct{ roomID, userID string }

func New(ctx context.Context, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.New(opts.Logger)
	}
	if opts.Repo == nil {
		opts.Repo = storage.Nop{}
	}
	if opts.MutationTimeout <= 0 {
		opts.MutationTimeout = 5 * time.Second
	}
	if opts.CountdownFrom <= 0 {
		opts.CountdownFrom = engine.DefaultCountdownFrom
	}
	if opts.ChatRetention <= 0 {
		opts.ChatRetention = engine.DefaultChatRetention
	}
	if opts.ChatBurst <= 0 {
		opts.ChatBurst = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	c := &Coordinator{
		bus:           opts.Bus,
		repo:          opts.Repo,
		log:           opts.Logger.Named("coordinator"),
		timeout:       opts.MutationTimeout,
		countdownFrom: opts.CountdownFrom,
		retention:     opts.ChatRetention,
		chatEvery:     rate.Inf,
		chatBurst:     opts.ChatBurst,
		now:           opts.Now,
		newID:         opts.NewID,
		users:         make(map[string]string),
		rooms:         make(map[string]map[string]struct{}),
		limiters:      make(map[limiterKey]*rate.Limiter),
	}
	if opts.ChatRateInterval > 0 {
		c.chatEvery = rate.Every(opts.ChatRateInterval)
	}
	c.hub = hub.NewHub(ctx, lobby.Options{
		Bus:          opts.Bus,
		TickInterval: opts.TickInterval,
		Logger:       opts.Logger,
		Now:          opts.Now,
		OnCommit:     c.onCommit,
	})
	return c
}

// Shutdown stops every room. Subscriptions end with their rooms.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	return c.hub.Shutdown(ctx)
}

func (c *Coordinator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// lobbyFor returns the live lobby of roomID, reloading the room from storage
// when it is not in memory.
func (c *Coordinator) lobbyFor(ctx context.Context, roomID string) (*lobby.Lobby, error) {
	if roomID == "" {
		return nil, fmt.Errorf("%w: missing room id", engine.ErrInvalidArgument)
	}
	lb, err := c.hub.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if lb != nil {
		return lb, nil
	}

	v, err, _ := c.rehydrate.Do(roomID, func() (any, error) {
		room, err := c.repo.LoadRoom(ctx, roomID, c.retention)
		if err != nil {
			return nil, err
		}
		room.CountdownFrom = c.countdownFrom
		room.ChatRetention = c.retention
		c.log.Info("room restored from storage", zap.String("room_id", roomID))
		return c.hub.Ensure(ctx, room)
	})
	if err != nil {
		return nil, err
	}
	return v.(*lobby.Lobby), nil
}

// mutate runs cmd against roomID under the mutation timeout. A duplicate
// countdown start is not an error for the caller.
func (c *Coordinator) mutate(ctx context.Context, roomID string, cmd engine.Command) (lobby.Result, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	lb, err := c.lobbyFor(ctx, roomID)
	if err != nil {
		return lobby.Result{}, err
	}
	res, err := lb.Do(ctx, cmd)
	if errors.Is(err, engine.ErrAlreadyInProgress) {
		c.log.Debug("countdown already running", zap.String("room_id", roomID), zap.String("actor", cmd.ActorID))
		return res, nil
	}
	if err != nil {
		return lobby.Result{}, err
	}
	return res, nil
}

func (c *Coordinator) mutateRoom(ctx context.Context, roomID string, cmd engine.Command) (engine.Room, error) {
	res, err := c.mutate(ctx, roomID, cmd)
	if err != nil {
		return engine.Room{}, err
	}
	return res.Room, nil
}

// onCommit runs inside the room's loop. It keeps the membership index current
// and writes durable changes through to storage.
func (c *Coordinator) onCommit(room engine.Room, events []engine.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	saveRoom := false
	for _, e := range events {
		var err error
		switch e.Type {
		case engine.EvtUserJoined:
			c.track(e.UserID, room.ID)
		case engine.EvtUserLeft, engine.EvtUserKicked:
			c.untrack(e.UserID, room.ID)
		case engine.EvtUserBanned:
			c.untrack(e.UserID, room.ID)
			err = c.repo.AddBan(ctx, room.ID, e.UserID)
		case engine.EvtUserUnbanned:
			err = c.repo.RemoveBan(ctx, room.ID, e.UserID)
		case engine.EvtChatMessageSent:
			if e.Message != nil {
				err = c.repo.AppendChat(ctx, *e.Message)
			}
		case engine.EvtDeckUpdated, engine.EvtRoomRenamed, engine.EvtSettingsChanged:
			saveRoom = true
		}
		if err != nil {
			c.log.Error("write-through failed", zap.String("room_id", room.ID), zap.String("event", string(e.Type)), zap.Error(err))
		}
	}
	if saveRoom {
		if err := c.repo.SaveRoom(ctx, room); err != nil {
			c.log.Error("failed to save room", zap.String("room_id", room.ID), zap.Error(err))
		}
	}
}

func (c *Coordinator) track(userID, roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.rooms[userID]
	if set == nil {
		set = make(map[string]struct{})
		c.rooms[userID] = set
	}
	set[roomID] = struct{}{}
}

func (c *Coordinator) untrack(userID, roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.rooms[userID]
	delete(set, roomID)
	if len(set) == 0 {
		delete(c.rooms, userID)
	}
}

func (c *Coordinator) roomsOf(userID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.rooms[userID]))
	for id := range c.rooms[userID] {
		out = append(out, id)
	}
	return out
}

// forgetRoom drops every index entry that points at roomID.
func (c *Coordinator) forgetRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for userID, set := range c.rooms {
		delete(set, roomID)
		if len(set) == 0 {
			delete(c.rooms, userID)
		}
	}
	for key := range c.limiters {
		if key.roomID == roomID {
			delete(c.limiters, key)
		}
	}
}
