// Package scheduler drives the window lifecycle: it opens windows, posts
// hourly standings and settles each window when it locks. Only the leader
// runs it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-fa-bot/internal/clock"
	"github.com/jensholdgaard/discord-fa-bot/internal/settlement"
	"github.com/jensholdgaard/discord-fa-bot/internal/store"
	"github.com/jensholdgaard/discord-fa-bot/internal/window"
)

// Actor is recorded as the processor of scheduled settlements.
const Actor = "scheduler"

// retryDelay is how long a failed settlement waits before the next attempt.
const retryDelay = time.Minute

// Settler runs settlements.
type Settler interface {
	Settle(ctx context.Context, req settlement.Request) (*settlement.Report, error)
}

// Publisher posts to the free-agency channel.
type Publisher interface {
	Publish(ctx context.Context, windowID string) error
	PublishSettlement(ctx context.Context, summary string) error
}

// LockTrigger is the guard key of a window's scheduled settlement.
func LockTrigger(windowID string) string { return "lock:" + windowID }

// Scheduler reacts to window boundaries.
type Scheduler struct {
	schedule  *window.Schedule
	windows   store.WindowRepository
	settler   Settler
	publisher Publisher
	clock     clock.Clock
	interval  time.Duration
	logger    *slog.Logger
	tracer    trace.Tracer

	opened     string
	lastStatus time.Time
	settled    map[string]bool
	// failed holds windows whose settlement errored; they are retried
	// every retryDelay, also after their boundary has passed.
	failed  map[string]window.Window
	retryAt time.Time
}

// New returns a Scheduler publishing standings every interval. A zero
// interval only publishes when a window opens.
func New(schedule *window.Schedule, windows store.WindowRepository, settler Settler, publisher Publisher, clk clock.Clock, interval time.Duration, logger *slog.Logger, tp trace.TracerProvider) *Scheduler {
	return &Scheduler{
		schedule:  schedule,
		windows:   windows,
		settler:   settler,
		publisher: publisher,
		clock:     clk,
		interval:  interval,
		logger:    logger,
		tracer:    tp.Tracer("github.com/jensholdgaard/discord-fa-bot/internal/scheduler"),
		settled:   make(map[string]bool),
		failed:    make(map[string]window.Window),
	}
}

// Run settles overdue windows and then handles boundaries until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.CatchUp(ctx); err != nil {
		s.logger.ErrorContext(ctx, "catch-up failed", slog.Any("error", err))
	}

	for {
		s.Tick(ctx)

		now := s.clock.Now()
		wait := s.NextWake(now).Sub(now)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// CatchUp settles every recorded window whose lock time has passed but that
// never closed, e.g. because leadership moved during its grace period.
func (s *Scheduler) CatchUp(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "Scheduler.CatchUp")
	defer span.End()

	pending, err := s.windows.ListUnsettled(ctx)
	if err != nil {
		return fmt.Errorf("listing unsettled windows: %w", err)
	}

	now := s.clock.Now()
	for _, row := range pending {
		w, err := s.schedule.Parse(row.WindowID)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unparseable window",
				slog.String("window_id", row.WindowID),
				slog.Any("error", err),
			)
			continue
		}
		if !w.Locked(now) {
			continue
		}
		s.logger.InfoContext(ctx, "settling overdue window", slog.String("window_id", w.ID))
		s.lock(ctx, w)
	}
	return nil
}

// Tick performs whatever is due at the current time.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock.Now()
	w := s.schedule.At(now)

	if len(s.failed) > 0 && !now.Before(s.retryAt) {
		for _, id := range slices.Sorted(maps.Keys(s.failed)) {
			if id != w.ID {
				s.logger.InfoContext(ctx, "retrying settlement", slog.String("window_id", id))
				s.lock(ctx, s.failed[id])
			}
		}
	}

	switch {
	case w.Locked(now):
		s.lock(ctx, w)
	case s.opened != w.ID:
		s.open(ctx, w)
	case s.interval > 0 && !now.Before(s.lastStatus.Add(s.interval)):
		s.publish(ctx, w.ID)
	}
}

// NextWake returns when Tick next has work to do.
func (s *Scheduler) NextWake(now time.Time) time.Time {
	next := s.nextBoundaryWake(now)
	if len(s.failed) > 0 && s.retryAt.Before(next) {
		if s.retryAt.Before(now) {
			return now
		}
		return s.retryAt
	}
	return next
}

func (s *Scheduler) nextBoundaryWake(now time.Time) time.Time {
	w := s.schedule.At(now)
	if w.Locked(now) {
		if !s.settled[w.ID] {
			return now.Add(retryDelay)
		}
		return w.Boundary()
	}
	next := w.LockAt
	if s.opened != w.ID {
		return now
	}
	if s.interval > 0 {
		if at := s.lastStatus.Add(s.interval); at.Before(next) {
			next = at
		}
	}
	return next
}

func (s *Scheduler) open(ctx context.Context, w window.Window) {
	ctx, span := s.tracer.Start(ctx, "Scheduler.open",
		trace.WithAttributes(attribute.String("window_id", w.ID)),
	)
	defer span.End()

	err := s.windows.Ensure(ctx, &store.BidWindow{
		WindowID:  w.ID,
		StartTime: w.Start,
		EndTime:   w.End,
		Status:    string(window.Active),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record window", slog.String("window_id", w.ID), slog.Any("error", err))
	}
	s.opened = w.ID
	s.logger.InfoContext(ctx, "window opened",
		slog.String("window_id", w.ID),
		slog.Time("lock_at", w.LockAt),
	)
	s.publish(ctx, w.ID)
}

func (s *Scheduler) publish(ctx context.Context, windowID string) {
	s.lastStatus = s.clock.Now()
	if err := s.publisher.Publish(ctx, windowID); err != nil {
		s.logger.WarnContext(ctx, "failed to publish status",
			slog.String("window_id", windowID),
			slog.Any("error", err),
		)
	}
}

func (s *Scheduler) lock(ctx context.Context, w window.Window) {
	if s.settled[w.ID] {
		return
	}

	ctx, span := s.tracer.Start(ctx, "Scheduler.lock",
		trace.WithAttributes(attribute.String("window_id", w.ID)),
	)
	defer span.End()

	err := s.windows.Ensure(ctx, &store.BidWindow{
		WindowID:  w.ID,
		StartTime: w.Start,
		EndTime:   w.End,
		Status:    string(window.Locked),
	})
	if err == nil {
		err = s.windows.Advance(ctx, w.ID, string(window.Locked))
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to lock window", slog.String("window_id", w.ID), slog.Any("error", err))
	}

	report, err := s.settler.Settle(ctx, settlement.Request{
		WindowID: w.ID,
		Trigger:  LockTrigger(w.ID),
		Actor:    Actor,
	})
	switch {
	case errors.Is(err, settlement.ErrInProgress), errors.Is(err, settlement.ErrRecentlyRun):
		s.markSettled(w.ID)
		return
	case err != nil:
		s.failed[w.ID] = w
		s.retryAt = s.clock.Now().Add(retryDelay)
		s.logger.ErrorContext(ctx, "scheduled settlement failed",
			slog.String("window_id", w.ID),
			slog.Time("retry_at", s.retryAt),
			slog.Any("error", err),
		)
		return
	}
	s.markSettled(w.ID)

	if err := s.publisher.PublishSettlement(ctx, report.Summary()); err != nil {
		s.logger.WarnContext(ctx, "failed to publish settlement report",
			slog.String("batch_id", report.BatchID),
			slog.Any("error", err),
		)
	}
}

func (s *Scheduler) markSettled(windowID string) {
	s.settled[windowID] = true
	delete(s.failed, windowID)
}
