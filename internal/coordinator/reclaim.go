package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ReclaimEmptyRooms stops every room that has had no members for at least
// ttl and deletes its stored rows. It returns how many rooms were removed.
func (c *Coordinator) ReclaimEmptyRooms(ctx context.Context, ttl time.Duration) (int, error) {
	lobbies, err := c.hub.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := c.now().Add(-ttl)

	var (
		mu     sync.Mutex
		victim []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, lb := range lobbies {
		g.Go(func() error {
			vctx, cancel := c.withTimeout(gctx)
			defer cancel()
			v, err := lb.View(vctx)
			if err != nil {
				// already stopped or busy; the next run will see it
				c.log.Debug("skipping room", zap.String("room_id", lb.ID()), zap.Error(err))
				return nil
			}
			if v.NumUsers == 0 && !v.EmptySince.IsZero() && !v.EmptySince.After(cutoff) {
				mu.Lock()
				victim = append(victim, lb.ID())
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range victim {
		ok, err := c.hub.Remove(ctx, id)
		if err != nil {
			return removed, err
		}
		if !ok {
			continue
		}
		c.forgetRoom(id)
		if err := c.repo.DeleteRoom(ctx, id); err != nil {
			c.log.Error("failed to delete stored room", zap.String("room_id", id), zap.Error(err))
		}
		removed++
	}
	if removed > 0 {
		c.log.Info("reclaimed empty rooms", zap.Int("count", removed), zap.Duration("ttl", ttl))
	}
	return removed, nil
}
