package workspace

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/repairops/internal/logfields"
)

// Sweeper periodically reclaims stale workspace directories.
type Sweeper struct {
	scheduler gocron.Scheduler
}

// NewSweeper schedules Sweep(maxAge) every interval. Call Start to begin
// and Stop to shut the scheduler down.
func NewSweeper(m *Manager, interval, maxAge time.Duration) (*Sweeper, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create sweeper scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if _, err := m.Sweep(maxAge); err != nil {
				slog.Warn("Workspace sweep failed", logfields.Error(err))
			}
		}),
		gocron.WithName("workspace-sweep"),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule workspace sweep: %w", err)
	}
	return &Sweeper{scheduler: s}, nil
}

// Start begins periodic sweeping.
func (s *Sweeper) Start() { s.scheduler.Start() }

// Stop shuts the scheduler down.
func (s *Sweeper) Stop() error { return s.scheduler.Shutdown() }
