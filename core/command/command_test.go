package command_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/movinglive/autoagent/core/alarms"
	"github.com/movinglive/autoagent/core/command"
	"github.com/movinglive/autoagent/core/reconciler"
	"github.com/movinglive/autoagent/core/scheduler"
	"github.com/movinglive/autoagent/core/storage"
	"github.com/movinglive/autoagent/core/taskstore"
	"github.com/movinglive/autoagent/core/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeDelivery struct {
	mu        sync.Mutex
	delivered []string
}

func (f *fakeDelivery) HasSurface(context.Context) (bool, error) { return false, nil }

func (f *fakeDelivery) Deliver(_ context.Context, prompt string) (types.Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, prompt)
	return types.Tab{ID: len(f.delivered)}, nil
}

var _ = Describe("Decode", func() {
	It("decodes every registered action", func() {
		for _, a := range command.Actions() {
			cmd, err := command.Decode([]byte(`{"action":"` + string(a) + `"}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(cmd.Action()).To(Equal(a))
		}
	})

	It("reads task fields from the flat message", func() {
		cmd, err := command.Decode([]byte(`{
			"action": "updateTask",
			"taskId": "t1",
			"name": "news",
			"prompt": "latest news",
			"schedulingData": {"type": "days", "hours": 8, "minutes": 30}
		}`))
		Expect(err).NotTo(HaveOccurred())

		update, ok := cmd.(*command.UpdateTask)
		Expect(ok).To(BeTrue())
		Expect(update.TaskID).To(Equal("t1"))
		Expect(update.Name).To(Equal("news"))
		Expect(update.SchedulingData.Type).To(Equal(types.ScheduleUnitDays))
		Expect(*update.SchedulingData.Hours).To(Equal(8))
	})

	It("reads the content script's reports", func() {
		cmd, err := command.Decode([]byte(`{"action":"taskError","taskId":"t1","error":"input not found"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(cmd).To(Equal(&command.TaskError{TaskID: "t1", Error: "input not found"}))
	})

	It("rejects unknown actions", func() {
		_, err := command.Decode([]byte(`{"action":"selfDestruct"}`))
		Expect(errors.Is(err, command.ErrUnknownAction)).To(BeTrue())
	})

	It("rejects malformed payloads", func() {
		_, err := command.Decode([]byte(`not json`))
		Expect(errors.Is(err, command.ErrMalformed)).To(BeTrue())
		_, err = command.Decode([]byte(`{"action":"toggleTask","taskId":42}`))
		Expect(errors.Is(err, command.ErrMalformed)).To(BeTrue())
	})
})

var _ = Describe("Dispatcher", func() {
	var (
		ctx        context.Context
		store      *taskstore.Store
		engine     *scheduler.Engine
		alarmSvc   *alarms.Service
		delivery   *fakeDelivery
		dispatcher *command.Dispatcher
		now        time.Time
	)

	dispatch := func(raw string) (command.Response, error) {
		cmd, err := command.Decode([]byte(raw))
		Expect(err).NotTo(HaveOccurred())
		return dispatcher.Dispatch(ctx, cmd)
	}

	create := func(name string) types.Task {
		resp, err := dispatch(`{"action":"createTask","name":"` + name + `","prompt":"` + name + ` prompt","intervalInMinutes":60}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Success).To(BeTrue())
		return *resp.Task
	}

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }

		store = taskstore.New(storage.NewMemoryStore())
		Expect(store.Init(ctx)).To(Succeed())
		alarmSvc = alarms.New(alarms.WithClock(clock))
		engine = scheduler.NewEngine(store, alarmSvc, scheduler.WithClock(clock))
		delivery = &fakeDelivery{}
		rec := reconciler.New(store, delivery, reconciler.WithClock(clock), reconciler.WithSpacing(0))
		dispatcher = command.NewDispatcher(store, engine, rec)
	})

	It("creates, lists and schedules tasks", func() {
		task := create("news")
		Expect(task.IsActive).To(BeTrue())

		resp, err := dispatch(`{"action":"getTasks"}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Tasks).To(HaveLen(1))
		Expect(resp.Tasks[0].ID).To(Equal(task.ID))

		all, err := alarmSvc.GetAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(1))
		Expect(all[0].Name).To(Equal(task.ID))
	})

	It("validates new tasks", func() {
		_, err := dispatch(`{"action":"createTask","name":"  ","prompt":"x","intervalInMinutes":60}`)
		Expect(errors.Is(err, types.ErrInvalidTask)).To(BeTrue())
	})

	It("toggles and filters active tasks", func() {
		a := create("a")
		create("b")

		resp, err := dispatch(`{"action":"toggleTask","taskId":"` + a.ID + `"}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Task.IsActive).To(BeFalse())

		resp, err = dispatch(`{"action":"getActiveTasks"}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Tasks).To(HaveLen(1))
		Expect(resp.Tasks[0].Name).To(Equal("b"))

		resp, err = dispatch(`{"action":"getCounts"}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(*resp.Counts).To(Equal(taskstore.Counts{Active: 1, Paused: 1}))
	})

	It("updates and deletes tasks", func() {
		t := create("a")

		resp, err := dispatch(`{"action":"updateTask","taskId":"` + t.ID + `","name":"renamed","prompt":"p","schedulingData":{"type":"weeks"}}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Task.Name).To(Equal("renamed"))
		Expect(resp.Task.IntervalInMinutes).To(Equal(scheduler.MinutesPerWeek))

		_, err = dispatch(`{"action":"deleteTask","taskId":"` + t.ID + `"}`)
		Expect(err).NotTo(HaveOccurred())
		_, err = dispatch(`{"action":"deleteTask","taskId":"` + t.ID + `"}`)
		Expect(errors.Is(err, types.ErrNotFound)).To(BeTrue())
	})

	It("runs the missed task workflow", func() {
		a := create("a")
		b := create("b")
		c := create("c")
		for _, t := range []types.Task{a, b, c} {
			_, err := dispatch(`{"action":"taskError","taskId":"` + t.ID + `","error":"input not found"}`)
			Expect(err).NotTo(HaveOccurred())
		}

		resp, err := dispatch(`{"action":"getMissedTasks"}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.MissedTasks).To(HaveLen(3))

		resp, err = dispatch(`{"action":"executeMissedTask","missedTaskId":"` + resp.MissedTasks[0].ID + `"}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Success).To(BeTrue())
		Expect(delivery.delivered).To(Equal([]string{"a prompt"}))

		resp, err = dispatch(`{"action":"executeAllMissedTasks"}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(*resp.Count).To(Equal(2))

		resp, err = dispatch(`{"action":"getMissedTasks"}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.MissedTasks).To(BeEmpty())
	})

	It("dismisses missed tasks", func() {
		t := create("a")
		_, err := dispatch(`{"action":"taskError","taskId":"` + t.ID + `","error":"x"}`)
		Expect(err).NotTo(HaveOccurred())

		resp, err := dispatch(`{"action":"dismissAllMissedTasks"}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(*resp.Count).To(Equal(1))

		_, err = dispatch(`{"action":"dismissMissedTask","missedTaskId":"gone"}`)
		Expect(errors.Is(err, types.ErrNotFound)).To(BeTrue())
	})

	It("acknowledges submitted prompts", func() {
		resp, err := dispatch(`{"action":"taskExecuted","taskId":"t1","timestamp":"2026-03-10T06:00:00Z"}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Success).To(BeTrue())
	})

	It("lets callers override a handler", func() {
		dispatcher.Handle(command.ActionGetTasks, func(context.Context, command.Command) (command.Response, error) {
			return command.Response{Success: true, Error: "overridden"}, nil
		})
		resp, err := dispatch(`{"action":"getTasks"}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Error).To(Equal("overridden"))
	})

	It("renders responses in the popup's shape", func() {
		task := create("a")
		resp, err := dispatch(`{"action":"getMissedTasks"}`)
		Expect(err).NotTo(HaveOccurred())
		raw, err := json.Marshal(resp)
		Expect(err).NotTo(HaveOccurred())
		Expect(raw).To(MatchJSON(`{"success":true,"missedTasks":[]}`))

		_, err = dispatch(`{"action":"deleteTask","taskId":"` + task.ID + `"}`)
		Expect(err).NotTo(HaveOccurred())
		resp, err = dispatch(`{"action":"getTasks"}`)
		Expect(err).NotTo(HaveOccurred())
		raw, err = json.Marshal(resp)
		Expect(err).NotTo(HaveOccurred())
		Expect(raw).To(MatchJSON(`{"success":true,"tasks":[]}`))

		raw, err = json.Marshal(command.Response{Success: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(raw).To(MatchJSON(`{"success":true}`))

		raw, err = json.Marshal(command.Failure(types.MissedNotFound("x")))
		Expect(err).NotTo(HaveOccurred())
		Expect(raw).To(MatchJSON(`{"success":false,"error":"missed task not found: x"}`))
	})
})
