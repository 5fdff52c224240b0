package types

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ScheduleUnit string

const (
	ScheduleUnitHours ScheduleUnit = "hours"
	ScheduleUnitDays  ScheduleUnit = "days"
	ScheduleUnitWeeks ScheduleUnit = "weeks"
)

// SchedulingData carries the user's "at HH:MM" / "each weekday" choice.
// It is kept for display only: cadence is governed by IntervalInMinutes.
type SchedulingData struct {
	Type    ScheduleUnit `json:"type"`
	Minutes *int         `json:"minutes,omitempty"`
	Hours   *int         `json:"hours,omitempty"`
	Day     *int         `json:"day,omitempty"`
}

// Task is a user-defined recurring prompt.
type Task struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Prompt            string          `json:"prompt"`
	IntervalInMinutes int             `json:"intervalInMinutes"`
	SchedulingData    *SchedulingData `json:"schedulingData,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	LastRun           *time.Time      `json:"lastRun"`
	IsActive          bool            `json:"isActive"`
}

// NewTask creates an active task with a fresh id and creation time.
func NewTask(name, prompt string, intervalInMinutes int, data *SchedulingData, now time.Time) Task {
	return Task{
		ID:                uuid.New().String(),
		Name:              name,
		Prompt:            prompt,
		IntervalInMinutes: intervalInMinutes,
		SchedulingData:    data,
		CreatedAt:         now,
		IsActive:          true,
	}
}

// Interval returns the nominal period between occurrences.
func (t Task) Interval() time.Duration {
	return time.Duration(t.IntervalInMinutes) * time.Minute
}

// Baseline is the instant the next occurrence is counted from: the last run,
// or the creation time for a task that never ran.
func (t Task) Baseline() time.Time {
	if t.LastRun != nil {
		return *t.LastRun
	}
	return t.CreatedAt
}

// NextDue is the instant the next occurrence becomes due.
func (t Task) NextDue() time.Time {
	return t.Baseline().Add(t.Interval())
}

// MarkRun records a serviced occurrence.
func (t *Task) MarkRun(at time.Time) {
	t.LastRun = &at
}

// FindTask returns the index of the task with the given id, or -1.
func FindTask(tasks []Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

type taskIDKey struct{}

// WithTaskID tags ctx with the task a delivery is made for, so the page
// automation can report back against it.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, id)
}

func TaskIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(taskIDKey{}).(string)
	return id
}
