// Package scheduler fires the recurring jobs: scrape ticks, the daily
// statistics recompute, vessel cleanup, the AIS poll, and the boat broadcast
// probe. Jobs run synchronously inside their loop, so a run that overshoots
// its period can never stack on top of itself; missed ticks coalesce into one.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Scrape cadence switches at these local hours. Bridges barely move at night,
// so the off-hours tick is slower.
const (
	dayStartHour = 6
	dayEndHour   = 22
)

// Scheduler owns the job goroutines. All cron-like evaluation happens in the
// configured zone so daylight transitions shift with the clock on the wall.
type Scheduler struct {
	log *logrus.Entry
	loc *time.Location
	wg  sync.WaitGroup
}

// New returns a scheduler evaluating schedules in loc.
func New(loc *time.Location, log *logrus.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		log: log.WithField("component", "scheduler"),
		loc: loc,
	}
}

// Wait blocks until every job loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Every runs fn once per interval until ctx is canceled.
func (s *Scheduler) Every(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.WithFields(logrus.Fields{"job": name, "every": interval}).Info("job scheduled")
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.log.WithField("job", name).Info("job stopped")
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// DayNight runs fn on the day interval during waking hours and the night
// interval otherwise, re-evaluating the window after every run.
func (s *Scheduler) DayNight(ctx context.Context, name string, day, night time.Duration, fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.WithFields(logrus.Fields{"job": name, "day": day, "night": night}).Info("job scheduled")
		timer := time.NewTimer(intervalAt(time.Now().In(s.loc), day, night))
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				s.log.WithField("job", name).Info("job stopped")
				return
			case <-timer.C:
				fn(ctx)
				timer.Reset(intervalAt(time.Now().In(s.loc), day, night))
			}
		}
	}()
}

// Daily runs fn once per day at the given local time.
func (s *Scheduler) Daily(ctx context.Context, name string, hour, minute int, fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.WithFields(logrus.Fields{"job": name, "at": time.Date(0, 1, 1, hour, minute, 0, 0, time.UTC).Format("15:04")}).Info("job scheduled")
		timer := time.NewTimer(time.Until(nextDaily(time.Now().In(s.loc), hour, minute)))
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				s.log.WithField("job", name).Info("job stopped")
				return
			case <-timer.C:
				fn(ctx)
				timer.Reset(time.Until(nextDaily(time.Now().In(s.loc), hour, minute)))
			}
		}
	}()
}

// intervalAt picks the day or night interval for the local time t.
func intervalAt(t time.Time, day, night time.Duration) time.Duration {
	if h := t.Hour(); h >= dayStartHour && h < dayEndHour {
		return day
	}
	return night
}

// nextDaily returns the next occurrence of hour:minute strictly after now, in
// now's location.
func nextDaily(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
