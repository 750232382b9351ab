// Package hub owns the registry of live room lobbies. Like a lobby it is a
// single goroutine fed by an inbox, so creation races resolve in one place.
package hub

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker-backend/internal/engine"
	"github.com/DoyleJ11/planning-poker-backend/internal/lobby"
)

type HubMsg interface{ isHubMsg() }

type CreateLobby struct {
	Room  engine.Room
	Reply chan CreateResult
}

type CreateResult struct {
	Lobby   *lobby.Lobby
	Created bool // false when a lobby with that id was already live
}

type GetLobby struct {
	ID    string
	Reply chan *lobby.Lobby
}

type EnsureLobby struct {
	Room  engine.Room // only used if creation happens
	Reply chan *lobby.Lobby
}

type RemoveLobby struct {
	ID    string
	Reply chan bool
}

type ListLobbies struct {
	Reply chan []*lobby.Lobby
}

type ShutdownHub struct{}

func (CreateLobby) isHubMsg() {}
func (GetLobby) isHubMsg()    {}
func (EnsureLobby) isHubMsg() {}
func (RemoveLobby) isHubMsg() {}
func (ListLobbies) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	opts    lobby.Options
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHub starts the registry. opts is handed to every lobby it creates.
func NewHub(parent context.Context, opts lobby.Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		opts:    opts,
		log:     opts.Logger.Named("hub"),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				if lb := h.live(msg.Room.ID); lb != nil {
					msg.Reply <- CreateResult{Lobby: lb}
					break
				}
				msg.Reply <- CreateResult{Lobby: h.spawn(msg.Room), Created: true}

			case GetLobby:
				msg.Reply <- h.live(msg.ID) // May be nil

			case EnsureLobby:
				if lb := h.live(msg.Room.ID); lb != nil {
					msg.Reply <- lb
					break
				}
				msg.Reply <- h.spawn(msg.Room)

			case RemoveLobby:
				lb, ok := h.lobbies[msg.ID]
				if ok {
					delete(h.lobbies, msg.ID)
					stop(lb)
				}
				if msg.Reply != nil {
					msg.Reply <- ok
				}

			case ListLobbies:
				out := make([]*lobby.Lobby, 0, len(h.lobbies))
				for id := range h.lobbies {
					if lb := h.live(id); lb != nil {
						out = append(out, lb)
					}
				}
				msg.Reply <- out

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

// live returns the registered lobby for id, forgetting it if its loop has
// already exited.
func (h *Hub) live(id string) *lobby.Lobby {
	lb := h.lobbies[id]
	if lb == nil {
		return nil
	}
	select {
	case <-lb.Done():
		delete(h.lobbies, id)
		return nil
	default:
		return lb
	}
}

func (h *Hub) spawn(room engine.Room) *lobby.Lobby {
	lb := lobby.NewLobby(h.ctx, room, h.opts)
	h.lobbies[room.ID] = lb
	h.log.Debug("lobby started", zap.String("room_id", room.ID))
	return lb
}

func stop(lb *lobby.Lobby) {
	select {
	case lb.Inbox() <- lobby.Shutdown{}:
	case <-lb.Done():
	}
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		stop(lb)
	}
	for _, lb := range h.lobbies {
		<-lb.Done()
	}
	clear(h.lobbies)
	h.cancel()
}

var errStopped = errors.New("hub stopped")

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctxErr(ctx)
	case <-h.done:
		return errStopped
	}
}

func wait[T any](ctx context.Context, h *Hub, reply chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctxErr(ctx)
	case <-h.done:
		return zero, errStopped
	}
}

func ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: room registry did not respond in time", engine.ErrTimeout)
	}
	return ctx.Err()
}

// Create starts a lobby for room. It fails with engine.ErrAlreadyExists when
// the id is taken.
func (h *Hub) Create(ctx context.Context, room engine.Room) (*lobby.Lobby, error) {
	reply := make(chan CreateResult, 1)
	if err := h.send(ctx, CreateLobby{Room: room, Reply: reply}); err != nil {
		return nil, err
	}
	res, err := wait(ctx, h, reply)
	if err != nil {
		return nil, err
	}
	if !res.Created {
		return res.Lobby, fmt.Errorf("%w: room %s", engine.ErrAlreadyExists, room.ID)
	}
	return res.Lobby, nil
}

// Get returns the live lobby for id, or nil.
func (h *Hub) Get(ctx context.Context, id string) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	if err := h.send(ctx, GetLobby{ID: id, Reply: reply}); err != nil {
		return nil, err
	}
	return wait(ctx, h, reply)
}

// Ensure returns the live lobby for room.ID, starting one from room if none
// is running.
func (h *Hub) Ensure(ctx context.Context, room engine.Room) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	if err := h.send(ctx, EnsureLobby{Room: room, Reply: reply}); err != nil {
		return nil, err
	}
	return wait(ctx, h, reply)
}

// Remove stops the lobby for id and reports whether one was registered.
func (h *Hub) Remove(ctx context.Context, id string) (bool, error) {
	reply := make(chan bool, 1)
	if err := h.send(ctx, RemoveLobby{ID: id, Reply: reply}); err != nil {
		return false, err
	}
	return wait(ctx, h, reply)
}

func (h *Hub) List(ctx context.Context) ([]*lobby.Lobby, error) {
	reply := make(chan []*lobby.Lobby, 1)
	if err := h.send(ctx, ListLobbies{Reply: reply}); err != nil {
		return nil, err
	}
	return wait(ctx, h, reply)
}

// Shutdown stops every lobby and waits for the hub loop to exit.
func (h *Hub) Shutdown(ctx context.Context) error {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctxErr(ctx)
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctxErr(ctx)
	}
}
