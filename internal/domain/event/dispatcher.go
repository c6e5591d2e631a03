package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ertriage/ertriage/internal/platform/websocket"
)

// Broadcaster pushes a payload to every subscriber of a topic. Implemented
// by the websocket hub. Delivery is best-effort; an error is a transient
// infrastructure failure, never "nobody was listening".
type Broadcaster interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
}

// Enqueuer is the narrow dispatcher surface domain services depend on to
// hand over freshly committed event ids.
type Enqueuer interface {
	Enqueue(id uuid.UUID)
}

// DispatcherConfig tunes the worker pool, retry policy, and the
// reconciliation sweep.
type DispatcherConfig struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	BaseBackoff    time.Duration // doubles per attempt
	AttemptTimeout time.Duration
	SweepInterval  time.Duration
	GracePeriod    time.Duration // minimum event age before the sweep reclaims it
	SweepLimit     int
}

// DefaultDispatcherConfig returns the documented production defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:        4,
		QueueSize:      1024,
		MaxAttempts:    3,
		BaseBackoff:    5 * time.Second,
		AttemptTimeout: 10 * time.Second,
		SweepInterval:  5 * time.Second,
		GracePeriod:    10 * time.Second,
		SweepLimit:     100,
	}
}

// Dispatcher delivers committed outbox events to the broadcast layer.
// Delivery is at-least-once: the immediate path (Enqueue after commit) is
// fast but lossy across crashes, and the periodic sweep re-enqueues any
// event older than the grace period that was never marked processed.
// Dispatch is idempotent, so a sweep racing a slow immediate dispatch is
// harmless.
type Dispatcher struct {
	repo        Repository
	broadcaster Broadcaster
	logger      zerolog.Logger
	cfg         DispatcherConfig

	jobs chan uuid.UUID
	wg   sync.WaitGroup
}

// NewDispatcher creates a Dispatcher; call Start to launch its workers.
func NewDispatcher(repo Repository, broadcaster Broadcaster, logger zerolog.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultDispatcherConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultDispatcherConfig().QueueSize
	}
	return &Dispatcher{
		repo:        repo,
		broadcaster: broadcaster,
		logger:      logger.With().Str("component", "dispatcher").Logger(),
		cfg:         cfg,
		jobs:        make(chan uuid.UUID, cfg.QueueSize),
	}
}

// Start launches the worker pool and the reconciliation sweep, all bound to
// ctx. It returns immediately; Wait blocks until all workers exit.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}

	d.wg.Add(1)
	go d.sweepLoop(ctx)
}

// Wait blocks until Start's goroutines have exited after ctx cancellation.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Enqueue hands a committed event id to the worker pool. It never blocks:
// when the queue is full the id is dropped and the sweep picks the event up
// later.
func (d *Dispatcher) Enqueue(id uuid.UUID) {
	select {
	case d.jobs <- id:
	default:
		d.logger.Warn().Str("event_id", id.String()).Msg("dispatch queue full, deferring to sweep")
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-d.jobs:
			d.process(ctx, id)
		}
	}
}

// process retries a single event with exponential backoff. After the attempt
// cap the event is left unprocessed; the sweep will retry it indefinitely.
func (d *Dispatcher) process(ctx context.Context, id uuid.UUID) {
	backoff := d.cfg.BaseBackoff
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		err := d.dispatch(ctx, id)
		if err == nil {
			return
		}

		d.logger.Error().Err(err).
			Str("event_id", id.String()).
			Int("attempt", attempt).
			Msg("event dispatch failed")

		if attempt == d.cfg.MaxAttempts {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// dispatch loads the event, publishes it to the union of its hospital and
// encounter topics, and stamps processed_at. Safe to repeat: an already
// processed event is skipped, and duplicate publishes are tolerated by
// consumers.
func (d *Dispatcher) dispatch(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	ev, err := d.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load event: %w", err)
	}
	if ev.ProcessedAt != nil {
		return nil
	}

	msg := ev.PushMessage()
	if err := d.broadcaster.Publish(ctx, websocket.HospitalTopic(ev.HospitalID), msg); err != nil {
		return fmt.Errorf("publish to hospital topic: %w", err)
	}
	if err := d.broadcaster.Publish(ctx, websocket.EncounterTopic(ev.EncounterID), msg); err != nil {
		return fmt.Errorf("publish to encounter topic: %w", err)
	}

	if err := d.repo.MarkProcessed(ctx, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

func (d *Dispatcher) sweepLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Sweep(ctx); err != nil {
				d.logger.Error().Err(err).Msg("reconciliation sweep failed")
			}
		}
	}
}

// Sweep re-enqueues events older than the grace period that were never
// marked processed. The grace period keeps the sweep from racing an
// immediate dispatch that is still in flight.
func (d *Dispatcher) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-d.cfg.GracePeriod)
	ids, err := d.repo.ListUnprocessedBefore(ctx, cutoff, d.cfg.SweepLimit)
	if err != nil {
		return fmt.Errorf("list unprocessed events: %w", err)
	}

	for _, id := range ids {
		d.Enqueue(id)
	}

	if len(ids) > 0 {
		d.logger.Info().Int("count", len(ids)).Msg("sweep re-enqueued undispatched events")
	}
	return nil
}
