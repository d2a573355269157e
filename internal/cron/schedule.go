package cron

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tau-run/tau/pkg/models"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// evaluateDue decides whether def is due at now, given its last recorded
// run (nil if it has never run). Grounded on the teacher's
// schedule.go Next, narrowed from its generic "at/every/cron" Schedule to
// the spec's exact immediate/at/periodic taxonomy and its due-or-not
// verdict rather than a raw next-run time.
func evaluateDue(def models.EventDefinition, lastRun *int64, now time.Time, staleImmediateMaxAge time.Duration) DueEvaluation {
	ev := DueEvaluation{Definition: def}
	if !def.Enabled {
		ev.Reason = models.DueReasonDisabled
		return ev
	}

	switch def.Schedule.Kind {
	case models.ScheduleImmediate:
		if lastRun != nil {
			ev.Reason = models.DueReasonAlreadyRun
			return ev
		}
		age := now.Sub(time.UnixMilli(def.CreatedAt))
		if staleImmediateMaxAge > 0 && age > staleImmediateMaxAge {
			ev.Reason = models.DueReasonStaleImmediate
			return ev
		}
		ev.Due = true
		ev.Reason = models.DueReasonDue
		return ev

	case models.ScheduleAt:
		at := time.UnixMilli(def.Schedule.AtUnixMS)
		if lastRun != nil {
			ev.Reason = models.DueReasonAlreadyRun
			return ev
		}
		if now.Before(at) {
			ev.Reason = models.DueReasonNotDue
			ev.NextRun = at
			return ev
		}
		ev.Due = true
		ev.Reason = models.DueReasonDue
		return ev

	case models.SchedulePeriodic:
		schedule, err := cronParser.Parse(def.Schedule.Cron)
		if err != nil {
			ev.Reason = models.DueReasonMalformed
			return ev
		}
		loc := time.UTC
		if def.Schedule.Timezone != "" {
			if tz, err := time.LoadLocation(def.Schedule.Timezone); err == nil {
				loc = tz
			}
		}
		base := time.UnixMilli(def.CreatedAt)
		if lastRun != nil {
			base = time.UnixMilli(*lastRun)
		}
		next := schedule.Next(base.In(loc))
		ev.NextRun = next
		if !next.After(now) {
			ev.Due = true
			ev.Reason = models.DueReasonDue
			return ev
		}
		ev.Reason = models.DueReasonNotDue
		return ev

	default:
		ev.Reason = models.DueReasonMalformed
		return ev
	}
}
