package tasks

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Reclaimer removes rooms that have been empty for at least ttl.
type Reclaimer interface {
	ReclaimEmptyRooms(ctx context.Context, ttl time.Duration) (int, error)
}

type RoomReaper struct {
	rooms   Reclaimer
	ttl     time.Duration
	timeout time.Duration
	log     *zap.Logger
	cron    *cron.Cron
}

func NewRoomReaper(rooms Reclaimer, ttl time.Duration, log *zap.Logger) *RoomReaper {
	if log == nil {
		log = zap.NewNop()
	}
	return &RoomReaper{
		rooms:   rooms,
		ttl:     ttl,
		timeout: time.Minute,
		log:     log.Named("reaper"),
	}
}

// Run performs one sweep.
func (r *RoomReaper) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	n, err := r.rooms.ReclaimEmptyRooms(ctx, r.ttl)
	if err != nil {
		r.log.Error("room cleanup failed", zap.Error(err))
		return
	}
	r.log.Debug("room cleanup finished", zap.Int("removed", n))
}

// Start schedules Run on spec (standard cron syntax or descriptors such as
// "@every 10m").
func (r *RoomReaper) Start(spec string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddJob(spec, r); err != nil {
		return err
	}
	r.cron = c
	c.Start()
	r.log.Info("room cleanup scheduled", zap.String("schedule", spec), zap.Duration("ttl", r.ttl))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *RoomReaper) Stop(ctx context.Context) error {
	if r.cron == nil {
		return nil
	}
	select {
	case <-r.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
