// Package scheduler runs agent tasks from a single polling loop.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/alphabot-ai/agentnet/internal/activity"
	"github.com/alphabot-ai/agentnet/internal/metrics"
	"github.com/alphabot-ai/agentnet/internal/model"
	"github.com/alphabot-ai/agentnet/internal/store"
)

type Store interface {
	store.TaskStore
	store.AgentStore
	store.ThreadStore
}

// Purger drops expired auth state; auth.Service satisfies it.
type Purger interface {
	PurgeExpired(ctx context.Context) (nonces, sessions int64, err error)
}

type Options struct {
	Interval time.Duration
	Batch    int
	Workers  int
}

type Scheduler struct {
	store    Store
	purger   Purger
	pub      activity.Publisher
	log      logrus.FieldLogger
	interval time.Duration
	batch    int
	workers  int
	now      func() time.Time
}

func New(st Store, purger Purger, pub activity.Publisher, log logrus.FieldLogger, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Batch <= 0 {
		opts.Batch = 50
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Scheduler{
		store:    st,
		purger:   purger,
		pub:      pub,
		log:      log,
		interval: opts.Interval,
		batch:    opts.Batch,
		workers:  opts.Workers,
		now:      time.Now,
	}
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NextRun returns the first activation of schedule strictly after from.
// Schedules are 5-field cron expressions or descriptors such as
// "@hourly" and "@every 10m".
func NextRun(schedule string, from time.Time) (time.Time, error) {
	sched, err := parser.Parse(strings.TrimSpace(schedule))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	next := sched.Next(from)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("schedule %q never fires", schedule)
	}
	return next, nil
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.WithFields(logrus.Fields{
		"interval": s.interval.String(),
		"batch":    s.batch,
		"workers":  s.workers,
	}).Info("scheduler started")
	s.scheduleLoop(ctx)
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) scheduleLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Error("scheduler tick failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one pass: purge expired auth rows, then execute every due task.
// It returns the number of tasks picked up.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	metrics.RecordTick()
	now := s.now()

	if s.purger != nil {
		nonces, sessions, err := s.purger.PurgeExpired(ctx)
		if err != nil {
			s.log.WithError(err).Warn("purge expired auth failed")
		} else {
			metrics.RecordPurge(nonces, sessions)
			if nonces+sessions > 0 {
				s.log.WithFields(logrus.Fields{"nonces": nonces, "sessions": sessions}).Debug("purged expired auth")
			}
		}
	}

	tasks, err := s.store.ListDueTasks(ctx, now, s.batch)
	if err != nil {
		return 0, fmt.Errorf("list due tasks: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i := range tasks {
		task := tasks[i]
		g.Go(func() error {
			return s.runTask(ctx, task)
		})
	}
	return len(tasks), g.Wait()
}

var errAgentPaused = errors.New("agent paused")

// runTask executes one task and records the outcome. Only bookkeeping
// failures are returned; task failures land in lastError.
func (s *Scheduler) runTask(ctx context.Context, task model.AgentTask) error {
	log := s.log.WithFields(logrus.Fields{"task": task.ID, "agent": task.AgentID, "kind": task.Kind})
	start := s.now()

	next, err := NextRun(task.Schedule, start)
	if err != nil {
		log.WithError(err).Warn("disabling task with invalid schedule")
		task.Enabled = false
		return s.store.UpdateTask(ctx, &task)
	}

	runErr := s.execute(ctx, task)
	if errors.Is(runErr, errAgentPaused) {
		metrics.RecordTaskSkipped(task.Kind)
		task.NextRunAt = next
		log.Debug("skipped task for paused agent")
		return s.store.UpdateTask(ctx, &task)
	}

	metrics.RecordTaskRun(task.Kind, s.now().Sub(start), runErr == nil)
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
		log.WithError(runErr).Warn("task failed")
	} else {
		log.Debug("task ran")
	}
	if err := s.store.RecordTaskRun(ctx, task.ID, start.UTC(), next.UTC(), msg); err != nil {
		return fmt.Errorf("record run %s: %w", task.ID, err)
	}
	return nil
}

func (s *Scheduler) execute(ctx context.Context, task model.AgentTask) error {
	agent, err := s.store.GetAgent(ctx, task.AgentID)
	if err != nil {
		return fmt.Errorf("load agent: %w", err)
	}
	if agent.Status == model.AgentPaused {
		return errAgentPaused
	}

	switch task.Kind {
	case model.TaskHeartbeat:
		return s.store.TouchAgent(ctx, agent.ID, s.now().UTC())
	case model.TaskPostThread:
		var payload model.PostThreadPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		payload.Title = strings.TrimSpace(payload.Title)
		payload.Tags = model.NormalizeTags(payload.Tags)
		if err := model.ValidateThread(payload.Title, payload.Body, payload.Tags); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
		thread := model.Thread{
			AgentID: agent.ID,
			Title:   payload.Title,
			Body:    payload.Body,
			Tags:    payload.Tags,
		}
		if err := s.store.CreateThread(ctx, &thread); err != nil {
			return fmt.Errorf("create thread: %w", err)
		}
		if s.pub != nil {
			s.pub.Publish(model.Activity{
				Kind:      model.ActivityThread,
				AgentID:   agent.ID,
				AgentName: agent.Name,
				ThreadID:  thread.ID,
				Title:     thread.Title,
				Excerpt:   store.Excerpt(thread.Body, 200),
				CreatedAt: thread.CreatedAt,
			})
		}
		return s.store.TouchAgent(ctx, agent.ID, s.now().UTC())
	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
}
