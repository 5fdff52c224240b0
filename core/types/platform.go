package types

import (
	"context"
	"time"
)

// AlarmInfo mirrors the platform alarm creation options.
type AlarmInfo struct {
	DelayInMinutes  float64 `json:"delayInMinutes"`
	PeriodInMinutes float64 `json:"periodInMinutes"`
}

type Alarm struct {
	Name            string    `json:"name"`
	ScheduledTime   time.Time `json:"scheduledTime"`
	PeriodInMinutes float64   `json:"periodInMinutes,omitempty"`
}

// Alarms is the platform alarm service: named, optionally periodic callbacks.
type Alarms interface {
	Create(ctx context.Context, name string, info AlarmInfo) error
	Clear(ctx context.Context, name string) (bool, error)
	ClearAll(ctx context.Context) error
	GetAll(ctx context.Context) ([]Alarm, error)
}

type TabStatus string

const (
	TabStatusLoading  TabStatus = "loading"
	TabStatusComplete TabStatus = "complete"
)

type Tab struct {
	ID     int       `json:"id"`
	URL    string    `json:"url"`
	Status TabStatus `json:"status"`
	Active bool      `json:"active"`
}

type TabQuery struct {
	URLPatterns []string `json:"url"`
}

type CreateTab struct {
	URL    string `json:"url"`
	Active bool   `json:"active"`
}

// Tabs is the platform tab service.
type Tabs interface {
	Query(ctx context.Context, q TabQuery) ([]Tab, error)
	Create(ctx context.Context, props CreateTab) (Tab, error)
	Get(ctx context.Context, id int) (Tab, error)
}

// MissedIndicator displays the number of outstanding missed occurrences.
type MissedIndicator interface {
	SetMissedCount(ctx context.Context, count int)
}
