// Package scheduler runs the engine's periodic housekeeping jobs.
package scheduler

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// RetentionScheduler deletes rotated log files once they age past the
// configured retention window. Runs weekly; deleting a file twice is harmless
// so missed or doubled runs need no coordination.
type RetentionScheduler struct {
	baseDir       string
	retentionDays int
	cron          *cron.Cron
	logger        *zap.Logger

	now func() time.Time
}

// NewRetentionScheduler creates a RetentionScheduler over baseDir.
func NewRetentionScheduler(baseDir string, retentionDays int, logger *zap.Logger) *RetentionScheduler {
	return &RetentionScheduler{
		baseDir:       baseDir,
		retentionDays: retentionDays,
		cron:          cron.New(),
		logger:        logger,
		now:           time.Now,
	}
}

// Start schedules the weekly sweep. A retention of zero or less disables the
// job entirely.
func (s *RetentionScheduler) Start() error {
	if s.retentionDays <= 0 {
		s.logger.Info("Log retention disabled")
		return nil
	}
	if _, err := s.cron.AddFunc("@weekly", s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("Scheduled weekly log cleanup",
		zap.String("dir", s.baseDir),
		zap.Int("retention_days", s.retentionDays))
	return nil
}

// Stop stops the scheduler. A sweep already in flight runs to completion.
func (s *RetentionScheduler) Stop() {
	s.cron.Stop()
}

func (s *RetentionScheduler) sweep() {
	removed, err := s.Sweep()
	if err != nil {
		s.logger.Error("Log cleanup failed", zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("Removed expired log files", zap.Int("count", removed))
	}
}

// Sweep removes expired .log files under the base directory and returns how
// many were deleted. Exposed so an operator endpoint or test can trigger it
// directly.
func (s *RetentionScheduler) Sweep() (int, error) {
	cutoff := s.now().AddDate(0, 0, -s.retentionDays)

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.baseDir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("Failed to remove expired log file",
				zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}
