package types

import (
	"time"

	"github.com/google/uuid"
)

// MissedOccurrence records that a task occurrence was due but not serviced.
// TaskName and Prompt are a snapshot taken when the record was created.
type MissedOccurrence struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"taskId"`
	TaskName     string    `json:"taskName"`
	Prompt       string    `json:"prompt"`
	MissedAt     time.Time `json:"missedAt"`
	ScheduledFor time.Time `json:"scheduledFor"`
}

func NewMissedOccurrence(task Task, at time.Time) MissedOccurrence {
	return MissedOccurrence{
		ID:           uuid.New().String(),
		TaskID:       task.ID,
		TaskName:     task.Name,
		Prompt:       task.Prompt,
		MissedAt:     at,
		ScheduledFor: at,
	}
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// FindMissedOnDay returns the index of a record for taskID missed on the same
// calendar day as day (in day's location), or -1.
func FindMissedOnDay(records []MissedOccurrence, taskID string, day time.Time) int {
	for i := range records {
		if records[i].TaskID == taskID && SameDay(records[i].MissedAt, day, day.Location()) {
			return i
		}
	}
	return -1
}

// FindMissed returns the index of the record with the given id, or -1.
func FindMissed(records []MissedOccurrence, id string) int {
	for i := range records {
		if records[i].ID == id {
			return i
		}
	}
	return -1
}
