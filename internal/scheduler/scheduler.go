// Package scheduler runs the engine's background jobs on a cron schedule,
// guarding each one against overlapping runs and persisting its run state
// so a dashboard (or a human) can see what last ran and whether it failed.
package scheduler

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/moneymoves/engine/internal/domain"
	"github.com/moneymoves/engine/internal/store"
)

// Job is a named unit of scheduled work.
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

var retryBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// Scheduler manages background jobs: one goroutine set per registered job,
// a mutex-guarded per-job running flag preventing a slow run from
// overlapping its own next tick, and a persisted scheduled_tasks row
// updated at start/success/failure. Cron schedules are evaluated in
// America/New_York (the process's local zone if that zone cannot be loaded).
type Scheduler struct {
	cron  *cron.Cron
	store *store.Store
	log   zerolog.Logger

	mu      sync.Mutex
	running map[string]bool
}

func New(s *store.Store, log zerolog.Logger) *Scheduler {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		log.Warn().Err(err).Msg("America/New_York unavailable; scheduling in local time")
		loc = time.Local
	}
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		store:   s,
		log:     log.With().Str("component", "scheduler").Logger(),
		running: map[string]bool{},
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}

// AddJob registers a job under a cron expression (seconds-resolution,
// robfig/cron/v3 syntax: "0 */5 * * * *", "@hourly", "@every 30s", ...).
func (s *Scheduler) AddJob(ctx context.Context, schedule string, job Job) error {
	if err := s.upsertTaskRow(job.Name(), schedule); err != nil {
		return err
	}

	_, err := s.cron.AddFunc(schedule, func() {
		s.runGuarded(ctx, job)
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("job registered")
	return nil
}

// RunNow executes a job immediately, outside its schedule, subject to the
// same overlap guard as a normal tick.
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	return s.runGuarded(ctx, job)
}

func (s *Scheduler) runGuarded(ctx context.Context, job Job) error {
	s.mu.Lock()
	if s.running[job.Name()] {
		s.mu.Unlock()
		s.log.Warn().Str("job", job.Name()).Msg("skipping run: previous run still in progress")
		return nil
	}
	s.running[job.Name()] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running[job.Name()] = false
		s.mu.Unlock()
	}()

	s.markStatus(job.Name(), "running", "")

	var err error
	for attempt := 0; attempt <= len(retryBackoff); attempt++ {
		err = job.Run(ctx)
		if err == nil {
			break
		}
		s.log.Error().Err(err).Str("job", job.Name()).Int("attempt", attempt+1).Msg("job failed")
		if attempt < len(retryBackoff) {
			time.Sleep(retryBackoff[attempt])
		}
	}

	if err != nil {
		s.markStatus(job.Name(), "failed", err.Error())
		return err
	}
	s.markStatus(job.Name(), "active", "")
	return nil
}

func (s *Scheduler) upsertTaskRow(name, schedule string) error {
	_, err := s.store.Exec(context.Background(),
		`INSERT INTO scheduled_tasks (name, cron_expression, status) VALUES (?, ?, 'active')
		 ON CONFLICT(name) DO UPDATE SET cron_expression = excluded.cron_expression`,
		name, schedule)
	return err
}

func (s *Scheduler) markStatus(name, status, errLog string) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.store.Exec(context.Background(),
		`UPDATE scheduled_tasks SET status = ?, last_run = ?, error_log = ? WHERE name = ?`,
		status, now, errLog, name)
	if err != nil {
		s.log.Warn().Err(err).Str("job", name).Msg("failed to persist job status")
	}
}

// Tasks returns the persisted run-state of every registered job.
func (s *Scheduler) Tasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	rows, err := s.store.Query(ctx, `SELECT id, name, cron_expression, last_run, next_run, status, error_log FROM scheduled_tasks ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ScheduledTask
	for rows.Next() {
		var t domain.ScheduledTask
		var lastRun, nextRun sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &t.CronExpression, &lastRun, &nextRun, &t.Status, &t.ErrorLog); err != nil {
			return nil, err
		}
		if lastRun.Valid {
			parsed, perr := time.Parse(time.RFC3339, lastRun.String)
			if perr == nil {
				t.LastRun = &parsed
			}
		}
		if nextRun.Valid {
			parsed, perr := time.Parse(time.RFC3339, nextRun.String)
			if perr == nil {
				t.NextRun = &parsed
			}
		}
		out = append(out, t)
	}
	return out, nil
}
