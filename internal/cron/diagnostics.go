package cron

import (
	"time"

	"github.com/tau-run/tau/pkg/models"
)

// InspectReport enumerates every definition found, whether or not it
// parses, for offline triage.
type InspectReport struct {
	Definitions []DueEvaluation `json:"definitions"`
	Diagnostics []string        `json:"diagnostics"`
}

// Inspect loads definitions and reports their current due status without
// running anything or mutating state.
func (s *Scheduler) Inspect() (InspectReport, error) {
	defs, diagnostics := s.loadDefinitions()
	st, err := s.loadState()
	if err != nil {
		return InspectReport{}, err
	}
	now := time.Now()
	report := InspectReport{Diagnostics: diagnostics}
	for _, def := range defs {
		var lastRun *int64
		if v, ok := st.LastRun[def.ID]; ok {
			lastRun = &v
		}
		report.Definitions = append(report.Definitions, evaluateDue(def, lastRun, now, s.cfg.StaleImmediateMaxAge))
	}
	return report, nil
}

// ValidateReport is Inspect narrowed to just the malformed/disabled rows a
// deploy-time check cares about.
type ValidateReport struct {
	Valid       bool     `json:"valid"`
	Diagnostics []string `json:"diagnostics"`
}

// Validate reports whether every definition file in DefinitionsDir parses
// and has a well-formed schedule.
func (s *Scheduler) Validate() (ValidateReport, error) {
	inspected, err := s.Inspect()
	if err != nil {
		return ValidateReport{}, err
	}
	report := ValidateReport{Valid: true, Diagnostics: inspected.Diagnostics}
	for _, d := range inspected.Definitions {
		if d.Reason == models.DueReasonMalformed {
			report.Valid = false
			report.Diagnostics = append(report.Diagnostics, d.Definition.ID+": malformed schedule")
		}
	}
	if len(inspected.Diagnostics) > 0 {
		report.Valid = false
	}
	return report, nil
}

// SimulateReport lists every run an event would perform within the
// horizon, one entry per definition per projected run.
type SimulateReport struct {
	Horizon time.Duration   `json:"horizon"`
	Runs    []DueEvaluation `json:"runs"`
}

// Simulate projects due evaluations forward across horizon, re-evaluating
// each definition as if the prior projected run had just completed. This
// gives an operator a sense of firing cadence without waiting for wall
// clock time to pass.
func (s *Scheduler) Simulate(horizon time.Duration) (SimulateReport, error) {
	defs, _ := s.loadDefinitions()
	st, err := s.loadState()
	if err != nil {
		return SimulateReport{}, err
	}

	report := SimulateReport{Horizon: horizon}
	deadline := time.Now().Add(horizon)
	lastRun := make(map[string]int64, len(st.LastRun))
	for k, v := range st.LastRun {
		lastRun[k] = v
	}

	for _, def := range defs {
		cursor := time.Now()
		for {
			var lr *int64
			if v, ok := lastRun[def.ID]; ok {
				lr = &v
			}
			ev := evaluateDue(def, lr, cursor, s.cfg.StaleImmediateMaxAge)
			if !ev.Due {
				if !ev.NextRun.IsZero() && ev.NextRun.Before(deadline) {
					cursor = ev.NextRun
					continue
				}
				break
			}
			report.Runs = append(report.Runs, ev)
			lastRun[def.ID] = cursor.UnixMilli()
			cursor = cursor.Add(time.Second)
			if cursor.After(deadline) {
				break
			}
		}
	}
	return report, nil
}

// DryRunReport is what a real tick would have dispatched, without running
// anything or persisting state.
type DryRunReport struct {
	Due []DueEvaluation `json:"due"`
}

// DryRun computes the due queue exactly as tick would, bounded by
// queueLimit (0 uses the scheduler's configured QueueLimit), but performs
// no side effects.
func (s *Scheduler) DryRun(queueLimit int) (DryRunReport, error) {
	defs, _ := s.loadDefinitions()
	st, err := s.loadState()
	if err != nil {
		return DryRunReport{}, err
	}
	limit := s.cfg.QueueLimit
	if queueLimit > 0 {
		limit = queueLimit
	}
	saved := s.cfg.QueueLimit
	s.cfg.QueueLimit = limit
	due := s.dueQueue(defs, st, time.Now())
	s.cfg.QueueLimit = saved
	return DryRunReport{Due: due}, nil
}
