// Package ws serves GraphQL operations over websockets using the
// graphql-transport-ws protocol.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	graphql "github.com/graph-gophers/graphql-go"
	gqlerrors "github.com/graph-gophers/graphql-go/errors"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/DoyleJ11/planning-poker-backend/internal/graph"
	"github.com/DoyleJ11/planning-poker-backend/internal/types"
)

// Close codes defined by graphql-transport-ws.
const (
	StatusInvalidMessage      websocket.StatusCode = 4400
	StatusUnauthorized        websocket.StatusCode = 4401
	StatusUnsupportedProtocol websocket.StatusCode = 4406
	StatusInitTimeout         websocket.StatusCode = 4408
	StatusSubscriberExists    websocket.StatusCode = 4409
	StatusTooManyInitRequests websocket.StatusCode = 4429
)

const (
	defaultInitTimeout  = 10 * time.Second
	defaultWriteTimeout = 3 * time.Second
	outboxSize          = 32
)

type Options struct {
	// OriginPatterns are passed to websocket.Accept. Same-origin requests
	// are always allowed.
	OriginPatterns []string
	InitTimeout    time.Duration
	WriteTimeout   time.Duration
}

func Handler(schema *graphql.Schema, log *zap.Logger, opts Options) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = defaultInitTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	log = log.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{types.Subprotocol},
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			log.Debug("websocket accept failed", zap.Error(err))
			return
		}
		if conn.Subprotocol() != types.Subprotocol {
			conn.Close(StatusUnsupportedProtocol, "Unsupported subprotocol")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		c := &connection{
			conn:   conn,
			schema: schema,
			log:    log,
			opts:   opts,
			ctx:    ctx,
			out:    make(chan types.ServerMessage, outboxSize),
			ops:    map[string]context.CancelFunc{},
			viewer: graph.ViewerFrom(r.Context()),
		}
		go c.writeLoop()

		status, reason := c.readLoop()
		cancel()
		c.wg.Wait()
		conn.Close(status, reason)
	}
}

type connection struct {
	conn   *websocket.Conn
	schema *graphql.Schema
	log    *zap.Logger
	opts   Options
	ctx    context.Context

	out chan types.ServerMessage
	wg  sync.WaitGroup

	mu     sync.Mutex
	ops    map[string]context.CancelFunc
	viewer string
	acked  bool
}

func (c *connection) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.out:
			payload, err := json.Marshal(msg)
			if err != nil {
				c.log.Error("failed to encode message", zap.String("type", string(msg.Type)), zap.Error(err))
				continue
			}
			ctx, cancel := context.WithTimeout(c.ctx, c.opts.WriteTimeout)
			err = c.conn.Write(ctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (c *connection) send(msg types.ServerMessage) bool {
	select {
	case c.out <- msg:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// readLoop handles client messages until the connection ends and returns the
// close status to report.
func (c *connection) readLoop() (websocket.StatusCode, string) {
	initTimer := time.AfterFunc(c.opts.InitTimeout, func() {
		c.mu.Lock()
		acked := c.acked
		c.mu.Unlock()
		if !acked {
			c.conn.Close(StatusInitTimeout, "Connection initialisation timeout")
		}
	})
	defer initTimer.Stop()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if !errors.Is(err, context.Canceled) {
					c.log.Debug("websocket read ended", zap.Error(err))
				}
			}
			return websocket.StatusNormalClosure, ""
		}

		var msg types.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return StatusInvalidMessage, "Invalid message received"
		}

		switch msg.Type {
		case types.MsgConnectionInit:
			c.mu.Lock()
			if c.acked {
				c.mu.Unlock()
				return StatusTooManyInitRequests, "Too many initialisation requests"
			}
			var init types.InitPayload
			if len(msg.Payload) > 0 && string(msg.Payload) != "null" {
				if err := json.Unmarshal(msg.Payload, &init); err != nil {
					c.mu.Unlock()
					return StatusInvalidMessage, "Invalid connection_init payload"
				}
			}
			if init.UserID != "" {
				c.viewer = init.UserID
			}
			c.acked = true
			c.mu.Unlock()
			c.send(types.ServerMessage{Type: types.MsgConnectionAck})

		case types.MsgPing:
			c.send(types.ServerMessage{Type: types.MsgPong})

		case types.MsgPong:

		case types.MsgSubscribe:
			if msg.ID == "" {
				return StatusInvalidMessage, "Subscribe requires an id"
			}
			var payload types.SubscribePayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Query == "" {
				return StatusInvalidMessage, "Invalid subscribe payload"
			}
			if status, reason := c.start(msg.ID, payload); status != 0 {
				return status, reason
			}

		case types.MsgComplete:
			c.stop(msg.ID)

		default:
			return StatusInvalidMessage, "Invalid message type"
		}
	}
}

// start runs one operation. Queries and mutations yield a single result;
// subscriptions stream until the client completes them or the room goes away.
func (c *connection) start(id string, payload types.SubscribePayload) (websocket.StatusCode, string) {
	c.mu.Lock()
	if !c.acked {
		c.mu.Unlock()
		return StatusUnauthorized, "Unauthorized"
	}
	if _, ok := c.ops[id]; ok {
		c.mu.Unlock()
		return StatusSubscriberExists, "Subscriber for " + id + " already exists"
	}
	ctx, cancel := context.WithCancel(graph.WithViewer(c.ctx, c.viewer))
	c.ops[id] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		last, ok := c.run(ctx, id, payload)
		c.stop(id)
		if ok {
			c.send(last)
		}
	}()
	return 0, ""
}

// run forwards results as next messages and returns the message that ends
// the operation. ok is false when the client or connection went away first.
func (c *connection) run(ctx context.Context, id string, payload types.SubscribePayload) (types.ServerMessage, bool) {
	results, err := c.schema.Subscribe(ctx, payload.Query, payload.OperationName, payload.Variables)
	if err != nil {
		return types.ServerMessage{ID: id, Type: types.MsgError, Payload: []*gqlerrors.QueryError{gqlerrors.Errorf("%s", err)}}, true
	}
	for v := range results {
		res, ok := v.(*graphql.Response)
		if !ok {
			continue
		}
		errs := withCodes(res.Errors)
		if len(res.Data) == 0 && len(errs) > 0 {
			return types.ServerMessage{ID: id, Type: types.MsgError, Payload: errs}, true
		}
		res.Errors = errs
		if !c.send(types.ServerMessage{ID: id, Type: types.MsgNext, Payload: res}) {
			return types.ServerMessage{}, false
		}
	}
	if ctx.Err() != nil {
		return types.ServerMessage{}, false
	}
	return types.ServerMessage{ID: id, Type: types.MsgComplete}, true
}

func (c *connection) stop(id string) {
	c.mu.Lock()
	cancel, ok := c.ops[id]
	delete(c.ops, id)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

type extensioner interface {
	Extensions() map[string]interface{}
}

// withCodes copies resolver error extensions onto errors that lost them on
// the way through the executor.
func withCodes(errs []*gqlerrors.QueryError) []*gqlerrors.QueryError {
	for _, e := range errs {
		if e == nil || e.Extensions != nil || e.ResolverError == nil {
			continue
		}
		var ext extensioner
		if errors.As(e.ResolverError, &ext) {
			e.Extensions = ext.Extensions()
		}
	}
	return errs
}
