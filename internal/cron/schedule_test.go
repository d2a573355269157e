package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tau-run/tau/pkg/models"
)

func TestEvaluateDueImmediateFirstRun(t *testing.T) {
	now := time.Now()
	def := models.EventDefinition{ID: "e1", Enabled: true, CreatedAt: now.UnixMilli(), Schedule: models.Schedule{Kind: models.ScheduleImmediate}}

	ev := evaluateDue(def, nil, now, time.Hour)
	require.True(t, ev.Due)
	require.Equal(t, models.DueReasonDue, ev.Reason)
}

func TestEvaluateDueImmediateAlreadyRun(t *testing.T) {
	now := time.Now()
	lastRun := now.UnixMilli()
	def := models.EventDefinition{ID: "e1", Enabled: true, CreatedAt: now.UnixMilli(), Schedule: models.Schedule{Kind: models.ScheduleImmediate}}

	ev := evaluateDue(def, &lastRun, now, time.Hour)
	require.False(t, ev.Due)
	require.Equal(t, models.DueReasonAlreadyRun, ev.Reason)
}

func TestEvaluateDueImmediateStale(t *testing.T) {
	now := time.Now()
	created := now.Add(-2 * time.Hour)
	def := models.EventDefinition{ID: "e1", Enabled: true, CreatedAt: created.UnixMilli(), Schedule: models.Schedule{Kind: models.ScheduleImmediate}}

	ev := evaluateDue(def, nil, now, time.Hour)
	require.False(t, ev.Due)
	require.Equal(t, models.DueReasonStaleImmediate, ev.Reason)
}

func TestEvaluateDueAtFutureNotDue(t *testing.T) {
	now := time.Now()
	def := models.EventDefinition{ID: "e1", Enabled: true, Schedule: models.Schedule{Kind: models.ScheduleAt, AtUnixMS: now.Add(time.Hour).UnixMilli()}}

	ev := evaluateDue(def, nil, now, 0)
	require.False(t, ev.Due)
	require.Equal(t, models.DueReasonNotDue, ev.Reason)
}

func TestEvaluateDueAtPastDue(t *testing.T) {
	now := time.Now()
	def := models.EventDefinition{ID: "e1", Enabled: true, Schedule: models.Schedule{Kind: models.ScheduleAt, AtUnixMS: now.Add(-time.Minute).UnixMilli()}}

	ev := evaluateDue(def, nil, now, 0)
	require.True(t, ev.Due)
}

func TestEvaluateDuePeriodicUsesLastRunAsBase(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
	lastRun := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	def := models.EventDefinition{ID: "e1", Enabled: true, Schedule: models.Schedule{Kind: models.SchedulePeriodic, Cron: "*/5 * * * *", Timezone: "UTC"}}

	ev := evaluateDue(def, &lastRun, now, 0)
	require.True(t, ev.Due)
}

func TestEvaluateDuePeriodicMalformedCron(t *testing.T) {
	def := models.EventDefinition{ID: "e1", Enabled: true, Schedule: models.Schedule{Kind: models.SchedulePeriodic, Cron: "not a cron"}}
	ev := evaluateDue(def, nil, time.Now(), 0)
	require.False(t, ev.Due)
	require.Equal(t, models.DueReasonMalformed, ev.Reason)
}

func TestEvaluateDueDisabled(t *testing.T) {
	def := models.EventDefinition{ID: "e1", Enabled: false, Schedule: models.Schedule{Kind: models.ScheduleImmediate}}
	ev := evaluateDue(def, nil, time.Now(), 0)
	require.False(t, ev.Due)
	require.Equal(t, models.DueReasonDisabled, ev.Reason)
}
