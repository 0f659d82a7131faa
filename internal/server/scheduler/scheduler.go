// Package scheduler keeps the local feed catalog in step with the ingestion
// service. A trigger loop claims feeds that are due for a reload and a
// reconciliation loop follows outstanding remote jobs. Both publish tasks
// on an in-process bus consumed by a bounded worker pool.
package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/dmitrijs2005/feedgate/internal/logging"
	"github.com/dmitrijs2005/feedgate/internal/server/archive"
	"github.com/dmitrijs2005/feedgate/internal/server/ingestion"
	"github.com/dmitrijs2005/feedgate/internal/server/metrics"
	"github.com/dmitrijs2005/feedgate/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTriggerInterval   = 5 * time.Minute
	DefaultReconcileInterval = time.Minute
	DefaultWorkers           = 8
	DefaultClaimLease        = 2 * ingestion.DefaultTimeout

	topicTasks = "feedgate.scheduler.tasks"
)

var errAlreadyQueued = errors.New("task already queued")

type TaskKind string

const (
	TaskReload TaskKind = "reload"
	TaskUpdate TaskKind = "update"
)

// Task is the bus payload. JobID is the job observed by the
// reconciliation loop and is only set for update tasks.
type Task struct {
	Kind   TaskKind   `json:"kind"`
	FeedID uuid.UUID  `json:"feed_id"`
	JobID  *uuid.UUID `json:"job_id,omitempty"`
}

func (t Task) key() string { return string(t.Kind) + ":" + t.FeedID.String() }

type Options struct {
	TriggerInterval   time.Duration
	ReconcileInterval time.Duration
	Workers           int
	// ClaimLease is how long a polling claim is honoured before another
	// trigger, in this or any other process, may take the feed over.
	ClaimLease time.Duration
}

func (o Options) withDefaults() Options {
	if o.TriggerInterval <= 0 {
		o.TriggerInterval = DefaultTriggerInterval
	}
	if o.ReconcileInterval <= 0 {
		o.ReconcileInterval = DefaultReconcileInterval
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.ClaimLease <= 0 {
		o.ClaimLease = DefaultClaimLease
	}
	return o
}

type Scheduler struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	ingestion   ingestion.Service
	archive     archive.Archiver
	metrics     metrics.Reporter
	log         logging.Logger
	opts        Options
	now         func() time.Time

	bus      *gochannel.GoChannel
	messages <-chan *message.Message

	// in-flight (kind, feed) pairs, from publish until the task returns
	inflight sync.Map
}

// New creates a scheduler and subscribes it to its task bus, so tasks
// published before Run are held until workers pick them up.
func New(db *sql.DB, rm repomanager.RepositoryManager, ing ingestion.Service, arch archive.Archiver,
	m metrics.Reporter, log logging.Logger, opts Options) (*Scheduler, error) {
	log = log.With("module", "scheduler")
	opts = opts.withDefaults()

	bus := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: int64(opts.Workers)}, logging.Watermill(log))
	messages, err := bus.Subscribe(context.Background(), topicTasks)
	if err != nil {
		return nil, fmt.Errorf("subscribe to task bus: %w", err)
	}

	return &Scheduler{
		db:          db,
		repomanager: rm,
		ingestion:   ing,
		archive:     arch,
		metrics:     m,
		log:         log,
		opts:        opts,
		now:         time.Now,
		bus:         bus,
		messages:    messages,
	}, nil
}

// Run runs both loops and the worker pool until ctx is cancelled. Polling
// claims found in the store are left to their owners until the claim lease
// runs out. Tasks already running are allowed to finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		s.every(ctx, "trigger", s.opts.TriggerInterval, s.Trigger)
	}()
	go func() {
		defer loops.Done()
		s.every(ctx, "reconciliation", s.opts.ReconcileInterval, s.Reconcile)
	}()

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		s.work(context.WithoutCancel(ctx))
	}()

	s.log.Info(ctx, "scheduler started",
		"trigger_interval", s.opts.TriggerInterval, "reconcile_interval", s.opts.ReconcileInterval, "workers", s.opts.Workers)

	<-ctx.Done()
	loops.Wait()
	if err := s.bus.Close(); err != nil {
		s.log.Warn(ctx, "closing task bus", "error", err)
	}
	<-workersDone

	s.log.Info(ctx, "scheduler stopped")
	return nil
}

// every runs fn immediately and then on each tick until ctx is done.
func (s *Scheduler) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context) (int, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if n, err := fn(ctx); err != nil {
			s.log.Error(ctx, "scheduler loop failed", "loop", name, "error", err)
		} else if n > 0 {
			s.log.Debug(ctx, "scheduler loop dispatched", "loop", name, "tasks", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// work consumes the bus until it is closed. Messages are acked on receipt;
// a failed task is logged and waits for the next cycle.
func (s *Scheduler) work(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)

	for msg := range s.messages {
		msg.Ack()

		var task Task
		if err := json.Unmarshal(msg.Payload, &task); err != nil {
			s.log.Error(ctx, "dropping malformed task", "message_id", msg.UUID, "error", err)
			continue
		}

		g.Go(func() error {
			defer s.inflight.Delete(task.key())
			s.execute(ctx, task)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) execute(ctx context.Context, task Task) {
	start := time.Now()
	var err error
	switch task.Kind {
	case TaskReload:
		err = s.ReloadFeed(ctx, task.FeedID)
	case TaskUpdate:
		if task.JobID == nil {
			err = errors.New("update task without job id")
			break
		}
		err = s.UpdateFeed(ctx, task.FeedID, *task.JobID)
	default:
		err = fmt.Errorf("unknown task kind %q", task.Kind)
	}

	kind := metrics.Tag("kind", string(task.Kind))
	s.metrics.Timing(metrics.SchedulerTaskDuration, time.Since(start), kind)
	if err != nil {
		s.metrics.Incr(metrics.SchedulerTaskResult, kind, metrics.Tag("result", "error"))
		s.log.Error(ctx, "task failed", "kind", task.Kind, "feed_id", task.FeedID, "error", err)
		return
	}
	s.metrics.Incr(metrics.SchedulerTaskResult, kind, metrics.Tag("result", "ok"))
}

// dispatch publishes task unless the same (kind, feed) pair is still queued
// or running.
func (s *Scheduler) dispatch(task Task) error {
	if _, loaded := s.inflight.LoadOrStore(task.key(), struct{}{}); loaded {
		s.metrics.Incr(metrics.SchedulerSkipped, metrics.Tag("kind", string(task.Kind)))
		return errAlreadyQueued
	}

	payload, err := json.Marshal(task)
	if err != nil {
		s.inflight.Delete(task.key())
		return err
	}
	if err := s.bus.Publish(topicTasks, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		s.inflight.Delete(task.key())
		return fmt.Errorf("publish %s: %w", task.key(), err)
	}

	s.metrics.Incr(metrics.SchedulerDispatched, metrics.Tag("kind", string(task.Kind)))
	return nil
}

// Trigger claims every due feed, including feeds whose claim has outlived
// the lease, and dispatches a reload for each. A feed whose reload cannot
// be published is released right away; one whose reload is still queued
// keeps its claim for that reload to release.
func (s *Scheduler) Trigger(ctx context.Context) (int, error) {
	feeds := s.repomanager.Feeds(s.db)
	now := s.now()
	claimed, err := feeds.ClaimDue(ctx, now, now.Add(-s.opts.ClaimLease))
	if err != nil {
		return 0, fmt.Errorf("claim due feeds: %w", err)
	}
	s.metrics.Gauge(metrics.SchedulerClaimed, float64(len(claimed)))

	dispatched := 0
	for _, feed := range claimed {
		err := s.dispatch(Task{Kind: TaskReload, FeedID: feed.ID})
		if err == nil {
			dispatched++
			continue
		}
		if errors.Is(err, errAlreadyQueued) {
			continue
		}
		s.log.Error(ctx, "dispatch reload failed", "feed_id", feed.ID, "error", err)
		if err := feeds.ReleasePolling(ctx, feed.ID); err != nil {
			s.log.Error(ctx, "release polling failed", "feed_id", feed.ID, "error", err)
		}
	}
	return dispatched, nil
}

// Reconcile dispatches an update for every feed with an outstanding job.
func (s *Scheduler) Reconcile(ctx context.Context) (int, error) {
	active, err := s.repomanager.Feeds(s.db).ListWithActiveJob(ctx)
	if err != nil {
		return 0, fmt.Errorf("list feeds with active job: %w", err)
	}
	s.metrics.Gauge(metrics.SchedulerJobsOutstanding, float64(len(active)))

	dispatched := 0
	for _, feed := range active {
		jobID := *feed.ActiveJobID
		err := s.dispatch(Task{Kind: TaskUpdate, FeedID: feed.ID, JobID: &jobID})
		switch {
		case err == nil:
			dispatched++
		case !errors.Is(err, errAlreadyQueued):
			s.log.Error(ctx, "dispatch update failed", "feed_id", feed.ID, "error", err)
		}
	}
	return dispatched, nil
}
