package types_test

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/movinglive/autoagent/core/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Task", func() {
	t0 := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	It("counts from createdAt when it never ran", func() {
		task := types.NewTask("daily", "news", 60, nil, t0)
		Expect(task.ID).NotTo(BeEmpty())
		Expect(task.IsActive).To(BeTrue())
		Expect(task.LastRun).To(BeNil())
		Expect(task.NextDue()).To(Equal(t0.Add(time.Hour)))
	})

	It("counts from lastRun once it ran", func() {
		task := types.NewTask("daily", "news", 60, nil, t0)
		task.MarkRun(t0.Add(3 * time.Hour))
		Expect(task.NextDue()).To(Equal(t0.Add(4 * time.Hour)))
	})

	It("keeps the persisted field names", func() {
		task := types.NewTask("daily", "news", 1440, &types.SchedulingData{Type: types.ScheduleUnitDays}, t0)
		raw, err := json.Marshal(task)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(raw)).To(ContainSubstring(`"intervalInMinutes":1440`))
		Expect(string(raw)).To(ContainSubstring(`"lastRun":null`))
		Expect(string(raw)).To(ContainSubstring(`"isActive":true`))
		Expect(string(raw)).To(ContainSubstring(`"schedulingData":{"type":"days"}`))
	})
})

var _ = Describe("MissedOccurrence", func() {
	morning := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	It("snapshots the task", func() {
		task := types.NewTask("daily", "news", 60, nil, morning)
		m := types.NewMissedOccurrence(task, morning)
		Expect(m.TaskID).To(Equal(task.ID))
		Expect(m.TaskName).To(Equal("daily"))
		Expect(m.Prompt).To(Equal("news"))
		Expect(m.ScheduledFor).To(Equal(m.MissedAt))
	})

	It("finds records on the same calendar day only", func() {
		records := []types.MissedOccurrence{
			{ID: "a", TaskID: "t1", MissedAt: morning.Add(-24 * time.Hour)},
			{ID: "b", TaskID: "t2", MissedAt: morning},
			{ID: "c", TaskID: "t1", MissedAt: morning.Add(2 * time.Hour)},
		}
		Expect(types.FindMissedOnDay(records, "t1", morning)).To(Equal(2))
		Expect(types.FindMissedOnDay(records, "t3", morning)).To(Equal(-1))
		Expect(types.FindMissedOnDay(records[:2], "t1", morning)).To(Equal(-1))
	})

	It("uses the location of the reference day", func() {
		paris := time.FixedZone("CET", 3600)
		lateUTC := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
		Expect(types.SameDay(lateUTC, time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC), time.UTC)).To(BeTrue())
		Expect(types.SameDay(lateUTC, time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC), paris)).To(BeFalse())
	})
})

var _ = Describe("Errors", func() {
	It("matches not found errors", func() {
		err := types.MissedNotFound("m1")
		Expect(errors.Is(err, types.ErrNotFound)).To(BeTrue())
		var nf *types.NotFoundError
		Expect(errors.As(err, &nf)).To(BeTrue())
		Expect(nf.Kind).To(Equal("missed task"))
		Expect(err.Error()).To(Equal("missed task not found: m1"))
	})
})
