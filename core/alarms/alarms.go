package alarms

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/movinglive/autoagent/core/types"
	"github.com/mudler/xlog"
	"github.com/robfig/cron/v3"
)

// Listener is invoked, in its own goroutine, every time an alarm fires.
type Listener func(ctx context.Context, name string)

// Service hosts named alarms on a cron runner. Creating an alarm with an
// existing name replaces it.
type Service struct {
	cron     *cron.Cron
	mu       sync.Mutex
	entries  map[string]entry
	listener Listener
	now      func() time.Time
	minute   time.Duration
}

type entry struct {
	id       cron.EntryID
	schedule *schedule
}

type Option func(*Service)

// WithMinute changes the length of an alarm minute. Tests use it to run
// alarms in milliseconds.
func WithMinute(d time.Duration) Option {
	return func(s *Service) { s.minute = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(opts ...Option) *Service {
	s := &Service{
		entries: make(map[string]entry),
		now:     time.Now,
		minute:  time.Minute,
	}
	for _, o := range opts {
		o(s)
	}
	s.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{})))
	return s
}

// OnAlarm registers the listener fired alarms are delivered to.
func (s *Service) OnAlarm(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

func (s *Service) Start() {
	s.cron.Start()
	xlog.Info("Alarm service started")
}

// Stop waits for running listeners to return.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
	xlog.Info("Alarm service stopped")
}

func (s *Service) Create(_ context.Context, name string, info types.AlarmInfo) error {
	if name == "" {
		return fmt.Errorf("%w: empty alarm name", types.ErrAlarmOperationFailed)
	}
	if info.DelayInMinutes < 0 || info.PeriodInMinutes < 0 {
		return fmt.Errorf("%w: negative delay or period for %s", types.ErrAlarmOperationFailed, name)
	}

	sched := &schedule{
		first:  s.now().Add(s.minutes(info.DelayInMinutes)),
		period: s.minutes(info.PeriodInMinutes),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[name]; ok {
		s.cron.Remove(old.id)
	}
	id := s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(name, sched) }))
	s.entries[name] = entry{id: id, schedule: sched}
	xlog.Debug("Alarm created", "name", name, "delay_minutes", info.DelayInMinutes, "period_minutes", info.PeriodInMinutes)
	return nil
}

func (s *Service) Clear(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.entries[name]
	if !ok {
		return false, nil
	}
	s.cron.Remove(old.id)
	delete(s.entries, name)
	return true, nil
}

func (s *Service) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, e := range s.entries {
		s.cron.Remove(e.id)
		delete(s.entries, name)
	}
	return nil
}

func (s *Service) GetAll(_ context.Context) ([]types.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]types.Alarm, 0, len(s.entries))
	for name, e := range s.entries {
		out = append(out, types.Alarm{
			Name:            name,
			ScheduledTime:   e.schedule.Next(now),
			PeriodInMinutes: float64(e.schedule.period) / float64(s.minute),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Service) fire(name string, sched *schedule) {
	s.mu.Lock()
	listener := s.listener
	// One-shot alarms disappear once fired, unless replaced meanwhile.
	if sched.period <= 0 {
		if e, ok := s.entries[name]; ok && e.schedule == sched {
			s.cron.Remove(e.id)
			delete(s.entries, name)
		}
	}
	s.mu.Unlock()

	xlog.Debug("Alarm fired", "name", name)
	if listener != nil {
		listener(context.Background(), name)
	}
}

func (s *Service) minutes(m float64) time.Duration {
	return time.Duration(m * float64(s.minute))
}

// schedule fires at first and then every period; a zero period fires once.
type schedule struct {
	first  time.Time
	period time.Duration
}

func (s *schedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	if s.period <= 0 {
		return time.Time{}
	}
	n := t.Sub(s.first)/s.period + 1
	return s.first.Add(n * s.period)
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	xlog.Debug(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	xlog.Error(msg, append(keysAndValues, "error", err)...)
}
