// Package scheduler runs the orchestrator's recurring jobs: the
// drawdown swap check, end-of-day statistics, the weekly report, the
// news veto refresh and calendar maintenance.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one recurring job. Next computes the next firing after now;
// Run does the work. A failing run is logged and rescheduled.
type Task struct {
	Name string
	Next func(now time.Time) time.Time
	Run  func(ctx context.Context) error
}

// Scheduler fires tasks at their computed times with a coarse poll.
type Scheduler struct {
	mu    sync.Mutex
	tasks []*scheduled
	poll  time.Duration
	loc   *time.Location
	log   *zap.SugaredLogger
}

type scheduled struct {
	Task
	nextAt time.Time
}

// New builds a scheduler. poll bounds the firing precision.
func New(poll time.Duration, loc *time.Location, log *zap.SugaredLogger) *Scheduler {
	if poll <= 0 {
		poll = 30 * time.Second
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{poll: poll, loc: loc, log: log}
}

// Add registers a task. The first firing is computed from the current
// time in the scheduler's location.
func (s *Scheduler) Add(t Task) error {
	if t.Name == "" || t.Next == nil || t.Run == nil {
		return fmt.Errorf("scheduler: task needs name, next and run")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &scheduled{Task: t, nextAt: t.Next(time.Now().In(s.loc))})
	return nil
}

// Start blocks, firing due tasks until ctx is cancelled. Tasks run
// sequentially on the scheduler goroutine; long jobs delay later ones.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.fireDue(ctx, now.In(s.loc))
		}
	}
}

func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := make([]*scheduled, 0, len(s.tasks))
	for _, t := range s.tasks {
		if !now.Before(t.nextAt) {
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		if err := t.Run(ctx); err != nil {
			s.log.Warnw("scheduled task failed", "task", t.Name, "err", err)
		} else {
			s.log.Debugw("scheduled task ran", "task", t.Name)
		}
		s.mu.Lock()
		t.nextAt = t.Next(now)
		s.mu.Unlock()
	}
}

// Every fires at fixed intervals.
func Every(interval time.Duration) func(time.Time) time.Time {
	return func(now time.Time) time.Time { return now.Add(interval) }
}

// DailyAt fires once per day at hh:mm. With weekdaysOnly, Saturday and
// Sunday are skipped.
func DailyAt(hour, minute int, weekdaysOnly bool) func(time.Time) time.Time {
	return func(now time.Time) time.Time {
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		for !next.After(now) || (weekdaysOnly && isWeekend(next)) {
			next = next.AddDate(0, 0, 1)
			next = time.Date(next.Year(), next.Month(), next.Day(), hour, minute, 0, 0, now.Location())
		}
		return next
	}
}

// WeeklyAt fires once per week on the given weekday at hh:mm.
func WeeklyAt(day time.Weekday, hour, minute int) func(time.Time) time.Time {
	return func(now time.Time) time.Time {
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		for next.Weekday() != day || !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}
}

// MonthlyOn fires on the given day of month at hh:mm. Months shorter
// than day fire on their last day.
func MonthlyOn(day, hour, minute int) func(time.Time) time.Time {
	return func(now time.Time) time.Time {
		next := monthlyDate(now.Year(), now.Month(), day, hour, minute, now.Location())
		if !next.After(now) {
			y, m := now.Year(), now.Month()+1
			next = monthlyDate(y, m, day, hour, minute, now.Location())
		}
		return next
	}
}

// YearlyOn fires once per year on the given month and day at hh:mm.
func YearlyOn(month time.Month, day, hour, minute int) func(time.Time) time.Time {
	return func(now time.Time) time.Time {
		next := time.Date(now.Year(), month, day, hour, minute, 0, 0, now.Location())
		if !next.After(now) {
			next = time.Date(now.Year()+1, month, day, hour, minute, 0, 0, now.Location())
		}
		return next
	}
}

func monthlyDate(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
	if day > last {
		day = last
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}
