package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tau-run/tau/internal/atomicfile"
	"github.com/tau-run/tau/pkg/models"
)

const stateFileName = "scheduler-state.json"

// Config holds the Scheduler's construction inputs.
type Config struct {
	DefinitionsDir       string
	PollInterval         time.Duration
	QueueLimit           int
	StaleImmediateMaxAge time.Duration
	Logger               *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = 50
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Scheduler is a cooperative, single-threaded tick loop over a directory
// of event definition files plus a last-run state file. Grounded on the
// teacher's functional-options Scheduler for the run/stop lifecycle shape,
// rebuilt around file-backed definitions instead of a static config job
// list.
type Scheduler struct {
	cfg    Config
	runner EventRunner

	mu    sync.Mutex
	stop  chan struct{}
	done  chan struct{}
	watch *fsnotify.Watcher
}

// New constructs a Scheduler. runner executes each due definition.
func New(cfg Config, runner EventRunner) *Scheduler {
	return &Scheduler{cfg: cfg.withDefaults(), runner: runner}
}

func (s *Scheduler) statePath() string {
	return filepath.Join(s.cfg.DefinitionsDir, stateFileName)
}

func (s *Scheduler) loadState() (state, error) {
	st := state{LastRun: make(map[string]int64)}
	data, err := os.ReadFile(s.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("cron: read state: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("cron: parse state: %w", err)
	}
	if st.LastRun == nil {
		st.LastRun = make(map[string]int64)
	}
	return st, nil
}

func (s *Scheduler) saveState(st state) error {
	body, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("cron: encode state: %w", err)
	}
	return atomicfile.WriteText(s.statePath(), body)
}

// loadDefinitions loads every *.json definition file except the state
// file, skipping malformed ones rather than failing the whole load.
func (s *Scheduler) loadDefinitions() ([]models.EventDefinition, []string) {
	entries, err := os.ReadDir(s.cfg.DefinitionsDir)
	if err != nil {
		return nil, []string{fmt.Sprintf("read definitions dir: %v", err)}
	}

	var defs []models.EventDefinition
	var diagnostics []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" || entry.Name() == stateFileName {
			continue
		}
		path := filepath.Join(s.cfg.DefinitionsDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			diagnostics = append(diagnostics, fmt.Sprintf("%s: read: %v", entry.Name(), err))
			continue
		}
		var def models.EventDefinition
		if err := json.Unmarshal(data, &def); err != nil {
			diagnostics = append(diagnostics, fmt.Sprintf("%s: parse: %v", entry.Name(), err))
			continue
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, diagnostics
}

// dueQueue evaluates every definition against st and returns the due
// subset in deterministic (id-sorted) order, bounded by QueueLimit.
func (s *Scheduler) dueQueue(defs []models.EventDefinition, st state, now time.Time) []DueEvaluation {
	var due []DueEvaluation
	for _, def := range defs {
		var lastRun *int64
		if v, ok := st.LastRun[def.ID]; ok {
			lastRun = &v
		}
		ev := evaluateDue(def, lastRun, now, s.cfg.StaleImmediateMaxAge)
		if ev.Due {
			due = append(due, ev)
			if len(due) >= s.cfg.QueueLimit {
				break
			}
		}
	}
	return due
}

// tick runs one scheduling pass: load definitions, compute the due queue,
// run each due event in order, and advance last_run on success. A runner
// error leaves last_run untouched so the next tick retries (at-least-once
// delivery).
func (s *Scheduler) tick(ctx context.Context) error {
	defs, diagnostics := s.loadDefinitions()
	for _, d := range diagnostics {
		s.cfg.Logger.Warn("cron: skipped malformed definition", "detail", d)
	}

	st, err := s.loadState()
	if err != nil {
		return err
	}

	now := time.Now()
	for _, ev := range s.dueQueue(defs, st, now) {
		if err := s.runner.RunEvent(ctx, ev.Definition, now); err != nil {
			s.cfg.Logger.Error("cron: event run failed, will retry", "event_id", ev.Definition.ID, "error", err)
			continue
		}
		st.LastRun[ev.Definition.ID] = now.UnixMilli()
	}

	return s.saveState(st)
}

// Run ticks at PollInterval until ctx is cancelled. Between ticks it also
// watches DefinitionsDir with fsnotify so a webhook-written definition is
// visible on the very next tick rather than waiting a full poll cycle.
func (s *Scheduler) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if watchErr := watcher.Add(s.cfg.DefinitionsDir); watchErr != nil {
			_ = watcher.Close()
			watcher = nil
		}
	} else {
		watcher = nil
	}
	s.mu.Lock()
	s.watch = watcher
	s.mu.Unlock()
	if watcher != nil {
		defer watcher.Close()
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				s.cfg.Logger.Error("cron: tick failed", "error", err)
			}
		case _, ok := <-watcherEvents(watcher):
			if !ok {
				continue
			}
			if err := s.tick(ctx); err != nil {
				s.cfg.Logger.Error("cron: tick failed", "error", err)
			}
		}
	}
}

func watcherEvents(w *fsnotify.Watcher) chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}
