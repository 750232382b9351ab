package lobby

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker-backend/internal/engine"
	"github.com/DoyleJ11/planning-poker-backend/internal/eventbus"
)

const DefaultTickInterval = time.Second

type Msg interface{ isLobbyMsg() }

type FromClient struct {
	Cmd   engine.Command
	Reply chan Result // must be buffered
}

func (FromClient) isLobbyMsg() {}

// Subscribe registers a bus subscription from inside the loop, so a room
// subscriber gets the current snapshot strictly before any later update.
type Subscribe struct {
	Channel eventbus.Channel
	Reply   chan *eventbus.Subscription
}

func (Subscribe) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type Result struct {
	Room   engine.Room
	Events []engine.Event
	Err    error
}

type View struct {
	Version    int
	NumUsers   int
	EmptySince time.Time // zero while the room has members
	State      engine.Room
}

type Options struct {
	Bus          *eventbus.Bus
	TickInterval time.Duration
	Logger       *zap.Logger
	Now          func() time.Time
	// OnCommit runs inside the loop after every committed change, so calls
	// for one room arrive in commit order.
	OnCommit func(room engine.Room, events []engine.Event)
}

// Lobby is the single serialization point of one room. Committed rooms are
// never modified again, so snapshots can be shared without copying.
type Lobby struct {
	id           string
	inbox        chan Msg
	ticks        chan uint64
	state        engine.Room
	version      int
	emptySince   time.Time
	bus          *eventbus.Bus
	tickInterval time.Duration
	onCommit     func(engine.Room, []engine.Event)
	timer        *time.Timer
	now          func() time.Time
	log          *zap.Logger
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
}

func NewLobby(parent context.Context, initial engine.Room, opts Options) *Lobby {
	ctx, cancel := context.WithCancel(parent)

	if opts.Bus == nil {
		opts.Bus = eventbus.New(opts.Logger)
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	l := &Lobby{
		id:           initial.ID,
		inbox:        make(chan Msg, 64), // Small buffer
		ticks:        make(chan uint64, 4),
		state:        initial,
		bus:          opts.Bus,
		tickInterval: opts.TickInterval,
		onCommit:     opts.OnCommit,
		now:          opts.Now,
		log:          opts.Logger.With(zap.String("room_id", initial.ID)),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	if len(initial.Users) == 0 {
		l.emptySince = l.now()
	}

	go l.loop()
	return l
}

func (l *Lobby) ID() string { return l.id }

// Expose the inbox so tests or the coordinator can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Done is closed after the lobby has shut down.
func (l *Lobby) Done() <-chan struct{} { return l.done }

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case gen := <-l.ticks:
			l.apply(engine.Command{Type: engine.CmdCountdownTick, System: true, Generation: gen})

		case m := <-l.inbox:
			switch msg := m.(type) {
			case FromClient:
				msg.Reply <- l.apply(msg.Cmd)

			case Subscribe:
				sub := l.bus.Subscribe(l.id, msg.Channel)
				if msg.Channel == eventbus.ChannelRoom {
					sub.Push(l.state)
				}
				msg.Reply <- sub

			case GetState:
				msg.Reply <- View{
					Version:    l.version,
					NumUsers:   len(l.state.Users),
					EmptySince: l.emptySince,
					State:      l.state,
				}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) apply(cmd engine.Command) Result {
	if cmd.At.IsZero() {
		cmd.At = l.now()
	}

	events, next, err := engine.Apply(l.state, cmd)
	if err != nil {
		if errors.Is(err, engine.ErrStaleTimer) {
			l.log.Debug("dropping stale countdown tick", zap.Uint64("generation", cmd.Generation))
		}
		return Result{Room: l.state, Err: err}
	}
	if len(events) == 0 {
		return Result{Room: l.state}
	}

	l.state = next
	l.version++
	switch {
	case len(next.Users) == 0 && l.emptySince.IsZero():
		l.emptySince = cmd.At
	case len(next.Users) > 0:
		l.emptySince = time.Time{}
	}

	l.schedule(events)
	l.publish(events)
	if l.onCommit != nil {
		l.onCommit(l.state, events)
	}
	return Result{Room: l.state, Events: events}
}

// schedule arms the countdown timer for the generation carried by the
// events. Any other reveal-stage change disarms it.
func (l *Lobby) schedule(events []engine.Event) {
	for _, e := range events {
		switch e.Type {
		case engine.EvtCountdownStarted, engine.EvtCountdownTicked:
			if e.Value > 0 {
				l.arm(e.Generation)
			}
		case engine.EvtCountdownCancelled, engine.EvtCardsRevealed, engine.EvtGameReset:
			l.disarm()
		}
	}
}

func (l *Lobby) arm(gen uint64) {
	l.disarm()
	l.timer = time.AfterFunc(l.tickInterval, func() {
		select {
		case l.ticks <- gen:
		case <-l.ctx.Done():
		}
	})
}

func (l *Lobby) disarm() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *Lobby) publish(events []engine.Event) {
	l.bus.Publish(l.id, eventbus.ChannelRoom, l.state)

	for _, e := range events {
		switch e.Type {
		case engine.EvtChatMessageSent:
			if e.Message == nil {
				l.log.Error("chat event without message", zap.String("user_id", e.UserID))
				continue
			}
			l.bus.Publish(l.id, eventbus.ChannelChat, *e.Message)
		case engine.EvtUserKicked:
			l.bus.Publish(l.id, eventbus.ChannelEvents, engine.RoomEvent{RoomID: l.id, EventType: engine.RoomEventKick, TargetUserID: e.UserID})
		case engine.EvtUserBanned:
			l.bus.Publish(l.id, eventbus.ChannelEvents, engine.RoomEvent{RoomID: l.id, EventType: engine.RoomEventBan, TargetUserID: e.UserID})
		case engine.EvtUserUnbanned:
			l.bus.Publish(l.id, eventbus.ChannelEvents, engine.RoomEvent{RoomID: l.id, EventType: engine.RoomEventUnban, TargetUserID: e.UserID})
		}
	}
}

func (l *Lobby) shutdown() {
	l.disarm()
	l.bus.CloseRoom(l.id) // Tell subscribers no more updates
	l.cancel()
}

// Do sends cmd to the lobby and waits for the committed result. The wait is
// bounded by ctx; a deadline surfaces as engine.ErrTimeout.
func (l *Lobby) Do(ctx context.Context, cmd engine.Command) (Result, error) {
	reply := make(chan Result, 1)
	if err := l.send(ctx, FromClient{Cmd: cmd, Reply: reply}); err != nil {
		return Result{}, err
	}
	select {
	case res := <-reply:
		return res, res.Err
	case <-ctx.Done():
		return Result{}, l.ctxErr(ctx)
	case <-l.done:
		return Result{}, l.closedErr()
	}
}

func (l *Lobby) Subscribe(ctx context.Context, channel eventbus.Channel) (*eventbus.Subscription, error) {
	reply := make(chan *eventbus.Subscription, 1)
	if err := l.send(ctx, Subscribe{Channel: channel, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case sub := <-reply:
		return sub, nil
	case <-ctx.Done():
		// The loop may still register it; make sure it does not leak.
		go func() {
			select {
			case sub := <-reply:
				sub.Close()
			case <-l.done:
			}
		}()
		return nil, l.ctxErr(ctx)
	case <-l.done:
		return nil, l.closedErr()
	}
}

func (l *Lobby) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := l.send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, l.ctxErr(ctx)
	case <-l.done:
		return View{}, l.closedErr()
	}
}

func (l *Lobby) send(ctx context.Context, m Msg) error {
	select {
	case l.inbox <- m:
		return nil
	case <-ctx.Done():
		return l.ctxErr(ctx)
	case <-l.done:
		return l.closedErr()
	}
}

func (l *Lobby) ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: room %s did not respond in time", engine.ErrTimeout, l.id)
	}
	return ctx.Err()
}

func (l *Lobby) closedErr() error {
	return fmt.Errorf("%w: room %s", engine.ErrNotFound, l.id)
}
