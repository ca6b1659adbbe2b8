// Package worker runs the per-task control loop: persist settings, poll
// the shared store, claim exclusivity, run the work, reschedule, sleep.
// Cross-process mutual exclusion comes entirely from the store's
// conditional claim; workers never coordinate in-process.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"taskbeat/internal/cancel"
	"taskbeat/internal/domain"
	"taskbeat/internal/settings"
	"taskbeat/internal/store"
)

var (
	// ErrInvalidSettings is returned by Start when the supplied settings
	// fail validation. The loop is never entered.
	ErrInvalidSettings = errors.New("invalid task settings")
	// ErrPersistence is returned by Start when the task record cannot be
	// written. The loop is never entered.
	ErrPersistence = errors.New("task persistence failed")
)

const defaultPollInterval = 5 * time.Second

// stepResult is the outcome of one poll-and-maybe-run step.
type stepResult int

const (
	stepNotReady stepResult = iota
	stepAborted
	stepRan
)

// Worker owns one task identifier's lifecycle. Construct with New,
// launch with Start, interrupt with Stop. Multiple Worker instances for
// the same id (same or different processes) only interact through the
// store's claim.
type Worker struct {
	id    string
	run   domain.WorkFunc
	store store.Store
	log   zerolog.Logger
	sig   *cancel.Signal
	poll  time.Duration

	// closed when the control loop exits
	done chan struct{}
}

func New(id string, run domain.WorkFunc, st store.Store, log zerolog.Logger) *Worker {
	return &Worker{
		id:    id,
		run:   run,
		store: st,
		log:   log.With().Str("task_id", id).Logger(),
		sig:   cancel.New(),
		poll:  defaultPollInterval,
		done:  make(chan struct{}),
	}
}

func (w *Worker) ID() string { return w.id }

// Start validates and persists rawSettings, then launches the control
// loop in the background. It returns once the record is written; loop
// failures after that are only logged. Redefining an existing task
// overwrites its settings but leaves schedule and claim untouched.
func (w *Worker) Start(ctx context.Context, rawSettings []byte) error {
	cfg, err := settings.Parse(rawSettings)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	if err := w.store.UpsertSettings(ctx, w.id, rawSettings, cfg.FirstRun(time.Now())); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	go w.loop(ctx)
	return nil
}

// Stop triggers the worker's cancel signal. Idempotent. An in-progress
// sleep resolves promptly; an in-progress run or store call is allowed
// to finish, but no new poll begins afterward. Stop does not wait for
// the loop to exit.
func (w *Worker) Stop() { w.sig.Cancel() }

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			w.log.Warn().Interface("panic", r).Msg("task loop stopped on panic")
		}
	}()

	for {
		if w.sig.Cancelled() || ctx.Err() != nil {
			return
		}
		if w.step(ctx) == stepAborted {
			return
		}
		timer := time.NewTimer(w.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-w.sig.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// step performs one poll-and-maybe-run. Transient store failures are
// absorbed as stepNotReady; only unreadable settings abort the loop,
// on the assumption that a newer definition has superseded this one.
func (w *Worker) step(ctx context.Context) stepResult {
	now := time.Now()
	rec, err := w.store.FindClaimable(ctx, w.id, now)
	if errors.Is(err, store.ErrNotClaimable) {
		return stepNotReady
	}
	if err != nil {
		w.log.Warn().Err(err).Msg("task record read failed, retrying next poll")
		return stepNotReady
	}

	cfg, err := settings.Parse(rec.SettingsJSON)
	if err != nil {
		w.log.Info().Err(err).Msg("stored settings unreadable, assuming task superseded")
		return stepAborted
	}

	ticket := "run_" + uuid.NewString()
	if err := w.store.Claim(ctx, w.id, ticket, now); err != nil {
		if !errors.Is(err, store.ErrClaimLost) {
			w.log.Warn().Err(err).Msg("claim attempt failed")
		}
		return stepNotReady
	}

	started := time.Now()
	if err := w.runOnce(ctx); err != nil {
		w.log.Error().Err(err).Dur("dur", time.Since(started)).Msg("task run failed")
	} else {
		w.log.Debug().Dur("dur", time.Since(started)).Msg("task run completed")
	}

	// Failure or success, the schedule advances the same way.
	next := cfg.NextRun(time.Now())
	if err := w.store.Release(ctx, w.id, next); err != nil {
		w.log.Warn().Err(err).Str("ticket", ticket).Msg("release failed, ticket left in place")
	}
	return stepRan
}

func (w *Worker) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("work function panic: %v", r)
		}
	}()
	return w.run(ctx)
}
