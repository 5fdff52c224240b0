package describe

import (
	"bytes"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/movinglive/autoagent/core/types"
	"github.com/mudler/xlog"
)

const (
	defaultHours   = 9
	defaultMinutes = 0
)

const describeTemplates = `
{{- define "hours" }}Every hour at {{ .Minutes }} minute{{ ternary "s" "" (ne .Minutes 1) }}{{ end -}}
{{- define "days" }}Every day at {{ printf "%02d:%02d" .Hours .Minutes }}{{ end -}}
{{- define "weeks" }}Every {{ .Weekday }} at {{ printf "%02d:%02d" .Hours .Minutes }}{{ end -}}
{{- define "interval" }}Every {{ if eq .Interval 1 }}minute{{ else }}{{ .Interval }} minutes{{ end }}{{ end -}}
{{- define "ago" }}
{{- if lt .Seconds 60 }}less than a minute ago
{{- else }}{{ .N }} {{ .Unit }}{{ ternary "s" "" (gt .N 1) }} ago{{ end }}
{{- end -}}
`

var templates = template.Must(template.New("describe").Funcs(sprig.TxtFuncMap()).Parse(describeTemplates))

type scheduleView struct {
	Minutes  int
	Hours    int
	Weekday  string
	Interval int
}

// Schedule renders a task's cadence for display, e.g. "Every day at 09:00".
// Tasks without scheduling data fall back to their raw interval.
func Schedule(task types.Task) string {
	view := scheduleView{
		Minutes:  defaultMinutes,
		Hours:    defaultHours,
		Weekday:  time.Sunday.String(),
		Interval: task.IntervalInMinutes,
	}

	name := "interval"
	if d := task.SchedulingData; d != nil {
		if d.Minutes != nil {
			view.Minutes = *d.Minutes
		}
		if d.Hours != nil {
			view.Hours = *d.Hours
		}
		if d.Day != nil && *d.Day >= 0 && *d.Day <= 6 {
			view.Weekday = time.Weekday(*d.Day).String()
		}
		switch d.Type {
		case types.ScheduleUnitHours:
			name = "hours"
		case types.ScheduleUnitDays:
			name = "days"
		case types.ScheduleUnitWeeks:
			name = "weeks"
		}
	}
	return render(name, view)
}

type agoView struct {
	Seconds int64
	N       int64
	Unit    string
}

// TimeAgo renders how long before now t happened, in the largest whole unit.
func TimeAgo(t, now time.Time) string {
	secs := int64(now.Sub(t) / time.Second)
	view := agoView{Seconds: secs}
	switch {
	case secs < 60:
	case secs < 3600:
		view.N, view.Unit = secs/60, "minute"
	case secs < 86400:
		view.N, view.Unit = secs/3600, "hour"
	default:
		view.N, view.Unit = secs/86400, "day"
	}
	return render("ago", view)
}

// Missed summarises a missed occurrence for notifications and listings.
func Missed(m types.MissedOccurrence, now time.Time) string {
	return m.TaskName + " missed " + TimeAgo(m.MissedAt, now)
}

func render(name string, data any) string {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		xlog.Error("Failed to render description", "template", name, "error", err)
		return ""
	}
	return buf.String()
}
