package models

import (
	"fmt"
	"log/slog"

	cronlib "github.com/robfig/cron/v3"
)

// DefaultSchedule resyncs the catalogue hourly.
const DefaultSchedule = "@every 1h"

// Syncer pushes the catalogue to every connected account.
type Syncer interface {
	SyncModels()
}

// Scheduler runs periodic models.sync pushes.
type Scheduler struct {
	cron    *cronlib.Cron
	entryID cronlib.EntryID
	logger  *slog.Logger
}

// NewScheduler registers target on schedule, a standard five-field cron
// expression or a descriptor such as "@every 30m". The scheduler is not
// running until Start.
func NewScheduler(schedule string, target Syncer, logger *slog.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cron:   cronlib.New(),
		logger: logger.With("component", "models"),
	}
	id, err := s.cron.AddFunc(schedule, func() {
		s.logger.Debug("scheduled models sync")
		target.SyncModels()
	})
	if err != nil {
		return nil, fmt.Errorf("models schedule %q: %w", schedule, err)
	}
	s.entryID = id
	return s, nil
}

// Start begins running the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sync to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Next reports when the next sync will run, or "" before Start.
func (s *Scheduler) Next() string {
	e := s.cron.Entry(s.entryID)
	if e.Next.IsZero() {
		return ""
	}
	return e.Next.Format("2006-01-02T15:04:05Z07:00")
}
