package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/movinglive/autoagent/core/scheduler"
	"github.com/movinglive/autoagent/core/taskstore"
	"github.com/movinglive/autoagent/core/types"
	"github.com/movinglive/autoagent/pkg/describe"
	"github.com/movinglive/autoagent/services/notify"
	"github.com/mudler/xlog"
)

// Deliverer hands prompts to the consumption surface.
type Deliverer interface {
	HasSurface(ctx context.Context) (bool, error)
	Deliver(ctx context.Context, prompt string) (types.Tab, error)
}

// Reconciler decides, from persisted state only, which occurrences were missed
// and keeps the missed list and the tasks' last runs consistent as records are
// executed or dismissed. It holds no state between calls.
type Reconciler struct {
	store     *taskstore.Store
	delivery  Deliverer
	notifier  notify.Notifier
	indicator types.MissedIndicator
	now       func() time.Time
	window    time.Duration
	spacing   time.Duration
	attempts  int
	delay     time.Duration
}

type Option func(*Reconciler)

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithSweepWindow bounds how late a due instant may be for the periodic
// sweep to still flag it.
func WithSweepWindow(d time.Duration) Option {
	return func(r *Reconciler) { r.window = d }
}

// WithSpacing sets the pause between deliveries of a bulk execution.
func WithSpacing(d time.Duration) Option {
	return func(r *Reconciler) { r.spacing = d }
}

func WithNotifier(n notify.Notifier) Option {
	return func(r *Reconciler) { r.notifier = n }
}

func WithIndicator(i types.MissedIndicator) Option {
	return func(r *Reconciler) { r.indicator = i }
}

// WithRetry bounds how often a store write that hit unavailable storage is
// attempted, starting with delay between attempts and backing off from there.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(r *Reconciler) {
		r.attempts = attempts
		r.delay = delay
	}
}

func New(store *taskstore.Store, delivery Deliverer, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:    store,
		delivery: delivery,
		notifier: notify.Log{},
		now:      time.Now,
		window:   5 * time.Minute,
		spacing:  time.Second,
		attempts: 3,
		delay:    100 * time.Millisecond,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// OnAlarmFired services a task's alarm: with a surface open the prompt is
// delivered and lastRun advances, otherwise the occurrence is recorded as
// missed and lastRun is left alone.
func (r *Reconciler) OnAlarmFired(ctx context.Context, taskID string) error {
	task, ok, err := r.store.FindTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !ok {
		xlog.Debug("Alarm for unknown task ignored", "task_id", taskID)
		return nil
	}
	if !task.IsActive {
		xlog.Debug("Alarm for paused task ignored", "task_id", taskID)
		return nil
	}

	if !r.hasSurface(ctx) {
		xlog.Info("No open surface, recording missed task", "task_id", task.ID, "task", task.Name)
		_, _, err := r.RecordMissedOccurrence(ctx, task)
		return err
	}

	xlog.Info("Executing task", "task_id", task.ID, "task", task.Name)
	if _, err := r.delivery.Deliver(types.WithTaskID(ctx, task.ID), task.Prompt); err != nil {
		xlog.Error("Task delivery failed, recording missed task", "task_id", task.ID, "error", err)
		r.notifier.Notify(ctx, notify.Error("Could not run %q", task.Name))
		if _, _, recErr := r.RecordMissedOccurrence(ctx, task); recErr != nil {
			return errors.Join(err, recErr)
		}
		return err
	}

	return r.markRun(ctx, task.ID, r.now())
}

// ReconcileOnStartup records every active task that is overdue while no
// surface is open. It returns the number of new records.
func (r *Reconciler) ReconcileOnStartup(ctx context.Context) (int, error) {
	return r.sweep(ctx, 0)
}

// ReconcilePeriodically is ReconcileOnStartup restricted to tasks that
// became due within the sweep window. Older gaps were already flagged by an
// earlier sweep or by the startup pass.
func (r *Reconciler) ReconcilePeriodically(ctx context.Context) (int, error) {
	return r.sweep(ctx, r.window)
}

func (r *Reconciler) sweep(ctx context.Context, window time.Duration) (int, error) {
	now := r.now()
	tasks, err := r.store.ActiveTasks(ctx)
	if err != nil {
		return 0, err
	}

	var due []types.Task
	for _, t := range tasks {
		if !scheduler.IsDue(t, now) {
			continue
		}
		if window > 0 && now.Sub(t.NextDue()) > window {
			continue
		}
		due = append(due, t)
	}
	if len(due) == 0 {
		return 0, nil
	}
	if r.hasSurface(ctx) {
		xlog.Debug("Surface open, leaving due tasks to their alarms", "due", len(due))
		return 0, nil
	}

	created, err := r.record(ctx, now, due...)
	if err != nil {
		return 0, err
	}
	if len(created) > 0 {
		xlog.Info("Missed tasks recorded", "count", len(created), "window", window)
	}
	return len(created), nil
}

// RecordMissedOccurrence appends a record for task unless one already exists
// for the same task on today's calendar day. It reports whether a record was
// created.
func (r *Reconciler) RecordMissedOccurrence(ctx context.Context, task types.Task) (types.MissedOccurrence, bool, error) {
	created, err := r.record(ctx, r.now(), task)
	if err != nil || len(created) == 0 {
		return types.MissedOccurrence{}, false, err
	}
	return created[0], true, nil
}

func (r *Reconciler) record(ctx context.Context, now time.Time, tasks ...types.Task) ([]types.MissedOccurrence, error) {
	var created []types.MissedOccurrence
	records, err := r.store.UpdateMissedOccurrences(ctx, func(records []types.MissedOccurrence) ([]types.MissedOccurrence, bool, error) {
		for _, t := range tasks {
			if types.FindMissedOnDay(records, t.ID, now) >= 0 {
				continue
			}
			m := types.NewMissedOccurrence(t, now)
			records = append(records, m)
			created = append(created, m)
		}
		return records, len(created) > 0, nil
	})
	if err != nil {
		xlog.Error("Failed to record missed tasks", "error", err)
		return nil, err
	}

	if len(created) > 0 {
		r.setMissedCount(ctx, len(records))
		for _, m := range created {
			r.notifier.Notify(ctx, notify.Info("%s", describe.Missed(m, now)))
		}
	}
	return created, nil
}

// MissedOccurrences lists outstanding records.
func (r *Reconciler) MissedOccurrences(ctx context.Context) ([]types.MissedOccurrence, error) {
	return r.store.GetMissedOccurrences(ctx)
}

// ExecuteMissedOccurrence delivers the record's prompt without checking for
// an open surface, advances the task's lastRun if the task still exists, and
// removes the record. A failed delivery leaves the record in place.
func (r *Reconciler) ExecuteMissedOccurrence(ctx context.Context, id string) error {
	m, ok, err := r.store.FindMissedOccurrence(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return types.MissedNotFound(id)
	}

	if _, err := r.delivery.Deliver(types.WithTaskID(ctx, m.TaskID), m.Prompt); err != nil {
		xlog.Error("Missed task delivery failed", "missed_id", id, "task_id", m.TaskID, "error", err)
		r.notifier.Notify(ctx, notify.Error("Could not run %q", m.TaskName))
		return err
	}

	ranAt := r.now()
	if err := r.withRetry(ctx, func() error { return r.markRun(ctx, m.TaskID, ranAt) }); err != nil {
		return fmt.Errorf("advance last run of %s: %w", m.TaskID, err)
	}
	if err := r.withRetry(ctx, func() error { return r.remove(ctx, id) }); err != nil {
		return fmt.Errorf("remove missed task %s: %w", id, err)
	}
	xlog.Info("Missed task executed", "missed_id", id, "task_id", m.TaskID)
	return nil
}

// DismissMissedOccurrence drops the record; the task's lastRun is untouched.
func (r *Reconciler) DismissMissedOccurrence(ctx context.Context, id string) error {
	var found bool
	records, err := r.store.UpdateMissedOccurrences(ctx, func(records []types.MissedOccurrence) ([]types.MissedOccurrence, bool, error) {
		i := types.FindMissed(records, id)
		if i < 0 {
			return records, false, nil
		}
		found = true
		return append(records[:i], records[i+1:]...), true, nil
	})
	if err != nil {
		return err
	}
	if !found {
		return types.MissedNotFound(id)
	}
	r.setMissedCount(ctx, len(records))
	xlog.Info("Missed task dismissed", "missed_id", id)
	return nil
}

// DismissAll empties the missed list in one write and returns how many
// records were dropped.
func (r *Reconciler) DismissAll(ctx context.Context) (int, error) {
	var dropped int
	_, err := r.store.UpdateMissedOccurrences(ctx, func(records []types.MissedOccurrence) ([]types.MissedOccurrence, bool, error) {
		dropped = len(records)
		return []types.MissedOccurrence{}, dropped > 0, nil
	})
	if err != nil {
		return 0, err
	}
	r.setMissedCount(ctx, 0)
	xlog.Info("All missed tasks dismissed", "count", dropped)
	return dropped, nil
}

// ExecuteAllMissed delivers every outstanding record, one at a time, then
// applies the lastRun updates and the removals as one write per collection.
// Records whose delivery failed are kept and their errors joined.
func (r *Reconciler) ExecuteAllMissed(ctx context.Context) (int, error) {
	records, err := r.store.GetMissedOccurrences(ctx)
	if err != nil {
		return 0, err
	}

	executed := make(map[string]bool, len(records))
	ranAt := make(map[string]time.Time, len(records))
	var failures []error
	for i, m := range records {
		if i > 0 && r.spacing > 0 {
			select {
			case <-ctx.Done():
				failures = append(failures, ctx.Err())
				return r.applyExecuted(ctx, executed, ranAt, failures)
			case <-time.After(r.spacing):
			}
		}
		if _, err := r.delivery.Deliver(types.WithTaskID(ctx, m.TaskID), m.Prompt); err != nil {
			xlog.Error("Missed task delivery failed", "missed_id", m.ID, "task_id", m.TaskID, "error", err)
			failures = append(failures, fmt.Errorf("%s: %w", m.ID, err))
			continue
		}
		executed[m.ID] = true
		ranAt[m.TaskID] = r.now()
	}

	return r.applyExecuted(ctx, executed, ranAt, failures)
}

func (r *Reconciler) applyExecuted(ctx context.Context, executed map[string]bool, ranAt map[string]time.Time, failures []error) (int, error) {
	if len(executed) == 0 {
		return 0, errors.Join(failures...)
	}

	err := r.withRetry(ctx, func() error {
		_, err := r.store.UpdateTasks(ctx, func(tasks []types.Task) ([]types.Task, bool, error) {
			changed := false
			for i := range tasks {
				if at, ok := ranAt[tasks[i].ID]; ok {
					tasks[i].MarkRun(at)
					changed = true
				}
			}
			return tasks, changed, nil
		})
		return err
	})
	if err != nil {
		return 0, errors.Join(append(failures, fmt.Errorf("advance last runs: %w", err))...)
	}

	var remaining int
	err = r.withRetry(ctx, func() error {
		records, err := r.store.UpdateMissedOccurrences(ctx, func(records []types.MissedOccurrence) ([]types.MissedOccurrence, bool, error) {
			kept := records[:0]
			for _, m := range records {
				if !executed[m.ID] {
					kept = append(kept, m)
				}
			}
			return kept, len(kept) != len(records), nil
		})
		remaining = len(records)
		return err
	})
	if err != nil {
		return 0, errors.Join(append(failures, fmt.Errorf("remove executed records: %w", err))...)
	}

	r.setMissedCount(ctx, remaining)
	xlog.Info("Missed tasks executed", "count", len(executed), "failed", len(failures))
	return len(executed), errors.Join(failures...)
}

// OnAutomationError handles a failure reported by the page automation after
// the tab was opened: the occurrence is recorded as missed so it can be
// retried by hand.
func (r *Reconciler) OnAutomationError(ctx context.Context, taskID, reason string) error {
	xlog.Warn("Page automation failed", "task_id", taskID, "reason", reason)
	task, ok, err := r.store.FindTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !ok {
		return types.TaskNotFound(taskID)
	}
	_, _, err = r.RecordMissedOccurrence(ctx, task)
	return err
}

func (r *Reconciler) markRun(ctx context.Context, taskID string, at time.Time) error {
	_, err := r.store.UpdateTasks(ctx, func(tasks []types.Task) ([]types.Task, bool, error) {
		i := types.FindTask(tasks, taskID)
		if i < 0 {
			return tasks, false, nil
		}
		tasks[i].MarkRun(at)
		return tasks, true, nil
	})
	return err
}

func (r *Reconciler) remove(ctx context.Context, id string) error {
	records, err := r.store.UpdateMissedOccurrences(ctx, func(records []types.MissedOccurrence) ([]types.MissedOccurrence, bool, error) {
		i := types.FindMissed(records, id)
		if i < 0 {
			return records, false, nil
		}
		return append(records[:i], records[i+1:]...), true, nil
	})
	if err != nil {
		return err
	}
	r.setMissedCount(ctx, len(records))
	return nil
}

func (r *Reconciler) hasSurface(ctx context.Context) bool {
	ok, err := r.delivery.HasSurface(ctx)
	if err != nil {
		xlog.Warn("Tab query failed, assuming no open surface", "error", err)
		return false
	}
	return ok
}

// withRetry runs fn again while it fails with ErrStorageUnavailable. Any
// other error is returned at once.
func (r *Reconciler) withRetry(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.delay
	b.Reset()

	retries := uint64(0)
	if r.attempts > 1 {
		retries = uint64(r.attempts - 1)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)

	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !errors.Is(err, types.ErrStorageUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		xlog.Warn("Retrying store write", "error", err, "wait", wait)
	})
}

func (r *Reconciler) setMissedCount(ctx context.Context, n int) {
	if r.indicator != nil {
		r.indicator.SetMissedCount(ctx, n)
	}
}
