package coordinator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/planning-poker-backend/internal/engine"
)

func (c *Coordinator) remember(userID, username string) {
	c.mu.Lock()
	c.users[userID] = username
	c.mu.Unlock()
}

func (c *Coordinator) lookupUser(userID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.users[userID]
	return name, ok
}

// CreateUser issues a new identity. It is not attached to any room.
func (c *Coordinator) CreateUser(ctx context.Context, username string) (engine.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return engine.User{}, fmt.Errorf("%w: missing username", engine.ErrInvalidArgument)
	}
	u := engine.User{ID: c.newID(), Username: username}
	c.remember(u.ID, u.Username)
	return u, nil
}

// EditUser renames userID everywhere it is seated and records the new name.
func (c *Coordinator) EditUser(ctx context.Context, userID, username string) (engine.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return engine.User{}, fmt.Errorf("%w: missing username", engine.ErrInvalidArgument)
	}
	if strings.TrimSpace(userID) == "" {
		return engine.User{}, fmt.Errorf("%w: missing user id", engine.ErrInvalidArgument)
	}
	// Identities are client-held and outlive a restart of this process, so an
	// id the directory has not seen yet is adopted rather than rejected.
	c.remember(userID, username)

	err := c.eachRoomOf(ctx, userID, func(ctx context.Context, roomID string) error {
		_, err := c.mutate(ctx, roomID, engine.Command{
			Type:     engine.CmdRenameUser,
			System:   true,
			UserID:   userID,
			Username: username,
		})
		return err
	})
	if err != nil {
		return engine.User{}, err
	}
	return engine.User{ID: userID, Username: username}, nil
}

// Logout removes userID from every room it is in. The identity survives. It
// reports false for a user this server has never seen.
func (c *Coordinator) Logout(ctx context.Context, userID string) (bool, error) {
	_, known := c.lookupUser(userID)
	rooms := c.roomsOf(userID)
	if !known && len(rooms) == 0 {
		return false, nil
	}

	err := c.eachRoomOf(ctx, userID, func(ctx context.Context, roomID string) error {
		_, err := c.mutate(ctx, roomID, engine.Command{Type: engine.CmdLeave, System: true, UserID: userID})
		return err
	})
	if err != nil {
		return false, err
	}
	c.log.Info("user logged out", zap.String("user_id", userID), zap.Int("rooms", len(rooms)))
	return true, nil
}

// eachRoomOf runs fn for every room userID is in, concurrently. Rooms that
// disappeared in the meantime are skipped.
func (c *Coordinator) eachRoomOf(ctx context.Context, userID string, fn func(context.Context, string) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, roomID := range c.roomsOf(userID) {
		g.Go(func() error {
			err := fn(gctx, roomID)
			if engine.KindOf(err) == engine.KindNotFound {
				c.untrack(userID, roomID)
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
