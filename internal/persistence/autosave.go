package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultAutosaveSchedule is the cron schedule of background saves.
const DefaultAutosaveSchedule = "@every 30s"

// Autosaver periodically autosaves the graph while it has unsaved changes.
type Autosaver struct {
	manager  *Manager
	schedule string
	timeout  time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewAutosaver creates an Autosaver. An empty schedule uses DefaultAutosaveSchedule.
func NewAutosaver(m *Manager, schedule string, logger *slog.Logger) *Autosaver {
	if schedule == "" {
		schedule = DefaultAutosaveSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Autosaver{manager: m, schedule: schedule, timeout: 30 * time.Second, logger: logger}
}

// Start schedules the autosave job.
func (a *Autosaver) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cron != nil {
		return fmt.Errorf("autosaver already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(a.schedule, a.Tick); err != nil {
		return fmt.Errorf("parse autosave schedule %q: %w", a.schedule, err)
	}
	c.Start()
	a.cron = c
	a.logger.Info("autosaver started", "schedule", a.schedule)
	return nil
}

// Tick autosaves once if the graph changed since the last save.
func (a *Autosaver) Tick() {
	if !a.manager.Dirty() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.manager.Autosave(ctx); err != nil {
		a.logger.Warn("autosave failed", "error", err)
	}
}

// Stop cancels the schedule and waits for a running autosave to finish.
func (a *Autosaver) Stop() {
	a.mu.Lock()
	c := a.cron
	a.cron = nil
	a.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	a.logger.Info("autosaver stopped")
}
