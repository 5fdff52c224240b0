package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/movinglive/autoagent/core/scheduler"
	"github.com/movinglive/autoagent/core/storage"
	"github.com/movinglive/autoagent/core/taskstore"
	"github.com/movinglive/autoagent/core/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeAlarms records alarm operations the way the platform would hold them.
type fakeAlarms struct {
	mu        sync.Mutex
	alarms    map[string]types.AlarmInfo
	cleared   []string
	failWrite bool
}

func newFakeAlarms() *fakeAlarms {
	return &fakeAlarms{alarms: map[string]types.AlarmInfo{}}
}

func (f *fakeAlarms) Create(_ context.Context, name string, info types.AlarmInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite {
		return errors.New("alarm quota")
	}
	f.alarms[name] = info
	return nil
}

func (f *fakeAlarms) Clear(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, name)
	_, ok := f.alarms[name]
	delete(f.alarms, name)
	return ok, nil
}

func (f *fakeAlarms) ClearAll(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alarms = map[string]types.AlarmInfo{}
	return nil
}

func (f *fakeAlarms) GetAll(_ context.Context) ([]types.Alarm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []types.Alarm{}
	for name, info := range f.alarms {
		out = append(out, types.Alarm{Name: name, PeriodInMinutes: info.PeriodInMinutes})
	}
	return out, nil
}

func (f *fakeAlarms) names() []string {
	all, _ := f.GetAll(context.Background())
	names := []string{}
	for _, a := range all {
		names = append(names, a.Name)
	}
	return names
}

var _ = Describe("IsDue", func() {
	t0 := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	It("uses createdAt for a task that never ran", func() {
		task := types.Task{ID: "t1", CreatedAt: t0, IntervalInMinutes: 60, IsActive: true}
		Expect(scheduler.IsDue(task, t0.Add(61*time.Minute))).To(BeTrue())
		Expect(scheduler.IsDue(task, t0.Add(59*time.Minute))).To(BeFalse())
	})

	It("is due exactly at the boundary", func() {
		task := types.Task{ID: "t1", CreatedAt: t0, IntervalInMinutes: 60}
		Expect(scheduler.IsDue(task, t0.Add(time.Hour))).To(BeTrue())
	})

	It("is not due right after a run", func() {
		task := types.Task{ID: "t1", CreatedAt: t0, IntervalInMinutes: 60}
		now := t0.Add(5 * time.Hour)
		Expect(scheduler.IsDue(task, now)).To(BeTrue())
		task.MarkRun(now)
		Expect(scheduler.IsDue(task, now)).To(BeFalse())
	})
})

var _ = Describe("IntervalFor", func() {
	It("maps units onto minutes", func() {
		for unit, want := range map[types.ScheduleUnit]int{
			types.ScheduleUnitHours: 60,
			types.ScheduleUnitDays:  1440,
			types.ScheduleUnitWeeks: 10080,
		} {
			got, err := scheduler.IntervalFor(&types.SchedulingData{Type: unit})
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
		}
	})

	It("rejects unknown units", func() {
		_, err := scheduler.IntervalFor(&types.SchedulingData{Type: "months"})
		Expect(errors.Is(err, types.ErrInvalidTask)).To(BeTrue())
		_, err = scheduler.IntervalFor(nil)
		Expect(errors.Is(err, types.ErrInvalidTask)).To(BeTrue())
	})
})

var _ = Describe("Engine", func() {
	var (
		ctx    context.Context
		store  *taskstore.Store
		alarms *fakeAlarms
		engine *scheduler.Engine
		now    time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = taskstore.New(storage.NewMemoryStore())
		alarms = newFakeAlarms()
		now = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
		engine = scheduler.NewEngine(store, alarms, scheduler.WithClock(func() time.Time { return now }))
	})

	Describe("Schedule", func() {
		It("is idempotent", func() {
			task := types.NewTask("news", "latest news", 60, nil, now)
			Expect(engine.Schedule(ctx, task)).To(Succeed())
			Expect(engine.Schedule(ctx, task)).To(Succeed())
			Expect(alarms.names()).To(ConsistOf(task.ID))
			Expect(alarms.alarms[task.ID]).To(Equal(types.AlarmInfo{DelayInMinutes: 60, PeriodInMinutes: 60}))
		})

		It("clears the alarm of an inactive task", func() {
			task := types.NewTask("news", "latest news", 60, nil, now)
			Expect(engine.Schedule(ctx, task)).To(Succeed())
			task.IsActive = false
			Expect(engine.Schedule(ctx, task)).To(Succeed())
			Expect(alarms.names()).To(BeEmpty())
		})

		It("reports alarm failures", func() {
			alarms.failWrite = true
			err := engine.Schedule(ctx, types.NewTask("news", "latest news", 60, nil, now))
			Expect(errors.Is(err, types.ErrAlarmOperationFailed)).To(BeTrue())
		})

		It("tolerates unscheduling an unknown task", func() {
			Expect(engine.Unschedule(ctx, "nope")).To(Succeed())
		})
	})

	Describe("RescheduleAll", func() {
		It("rebuilds alarms from active tasks only", func() {
			Expect(alarms.Create(ctx, "stale", types.AlarmInfo{DelayInMinutes: 1})).To(Succeed())
			a := types.NewTask("a", "p", 60, nil, now)
			b := types.NewTask("b", "p", 60, nil, now)
			b.IsActive = false
			Expect(engine.RescheduleAll(ctx, []types.Task{a, b})).To(Succeed())
			Expect(alarms.names()).To(ConsistOf(a.ID))
		})

		It("restores from the store", func() {
			a := types.NewTask("a", "p", 1440, nil, now)
			Expect(store.SaveTasks(ctx, []types.Task{a})).To(Succeed())
			Expect(engine.Restore(ctx)).To(Succeed())
			Expect(alarms.names()).To(ConsistOf(a.ID))
		})
	})

	Describe("task lifecycle", func() {
		It("creates a task and its alarm", func() {
			task, err := engine.CreateTask(ctx, scheduler.TaskInput{
				Name:           "  daily digest ",
				Prompt:         "summarize today's AI news",
				SchedulingData: &types.SchedulingData{Type: types.ScheduleUnitDays},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(task.Name).To(Equal("daily digest"))
			Expect(task.IntervalInMinutes).To(Equal(1440))
			Expect(task.CreatedAt).To(Equal(now))
			Expect(task.LastRun).To(BeNil())
			Expect(alarms.names()).To(ConsistOf(task.ID))

			tasks, err := store.GetTasks(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(tasks).To(HaveLen(1))
		})

		It("validates names and prompts", func() {
			_, err := engine.CreateTask(ctx, scheduler.TaskInput{Name: " ", Prompt: "p", IntervalInMinutes: 60})
			Expect(errors.Is(err, types.ErrInvalidTask)).To(BeTrue())
			_, err = engine.CreateTask(ctx, scheduler.TaskInput{Name: "n", Prompt: "", IntervalInMinutes: 60})
			Expect(errors.Is(err, types.ErrInvalidTask)).To(BeTrue())
		})

		It("keeps the task when the alarm cannot be created", func() {
			alarms.failWrite = true
			task, err := engine.CreateTask(ctx, scheduler.TaskInput{Name: "n", Prompt: "p", IntervalInMinutes: 60})
			Expect(err).NotTo(HaveOccurred())
			_, ok, err := store.FindTask(ctx, task.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("updates editable fields and keeps history", func() {
			task, err := engine.CreateTask(ctx, scheduler.TaskInput{Name: "n", Prompt: "p", IntervalInMinutes: 60})
			Expect(err).NotTo(HaveOccurred())

			updated, err := engine.UpdateTask(ctx, task.ID, scheduler.TaskInput{
				Name:           "weekly",
				Prompt:         "weekly recap",
				SchedulingData: &types.SchedulingData{Type: types.ScheduleUnitWeeks},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.IntervalInMinutes).To(Equal(10080))
			Expect(updated.CreatedAt).To(BeTemporally("==", task.CreatedAt))
			Expect(updated.IsActive).To(BeTrue())
			Expect(alarms.alarms[task.ID].PeriodInMinutes).To(Equal(float64(10080)))
		})

		It("toggles activation and the alarm with it", func() {
			task, err := engine.CreateTask(ctx, scheduler.TaskInput{Name: "n", Prompt: "p", IntervalInMinutes: 60})
			Expect(err).NotTo(HaveOccurred())

			paused, err := engine.ToggleTask(ctx, task.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(paused.IsActive).To(BeFalse())
			Expect(alarms.cleared).To(ContainElement(task.ID))
			Expect(alarms.names()).To(BeEmpty())

			resumed, err := engine.ToggleTask(ctx, task.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(resumed.IsActive).To(BeTrue())
			Expect(alarms.names()).To(ConsistOf(task.ID))
		})

		It("deletes the task and its alarm", func() {
			task, err := engine.CreateTask(ctx, scheduler.TaskInput{Name: "n", Prompt: "p", IntervalInMinutes: 60})
			Expect(err).NotTo(HaveOccurred())
			Expect(engine.DeleteTask(ctx, task.ID)).To(Succeed())
			Expect(alarms.names()).To(BeEmpty())

			tasks, err := store.GetTasks(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(tasks).To(BeEmpty())
		})

		It("reports unknown tasks", func() {
			_, err := engine.ToggleTask(ctx, "nope")
			Expect(errors.Is(err, types.ErrNotFound)).To(BeTrue())
			_, err = engine.UpdateTask(ctx, "nope", scheduler.TaskInput{Name: "n", Prompt: "p", IntervalInMinutes: 5})
			Expect(errors.Is(err, types.ErrNotFound)).To(BeTrue())
			Expect(errors.Is(engine.DeleteTask(ctx, "nope"), types.ErrNotFound)).To(BeTrue())
		})
	})
})
