package scheduler

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs named periodic maintenance jobs
type Scheduler struct {
	cron      *cron.Cron
	logger    *zap.Logger
	jobMap    map[string]cron.EntryID // Maps job name to cron entry ID
	jobMapMux sync.RWMutex            // Protects jobMap
}

// NewScheduler creates a scheduler. Specs accept an optional seconds field and
// descriptors such as "@every 30s".
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithParser(cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		logger: logger.Named("scheduler"),
		jobMap: make(map[string]cron.EntryID),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Cron scheduler started", zap.Int("jobs", s.JobCount()))
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron scheduler stopped")
}

// AddJob schedules fn under name, replacing any job with the same name.
// A job that panics is logged and does not stop the scheduler.
func (s *Scheduler) AddJob(name, spec string, fn func()) error {
	s.RemoveJob(name)

	entryID, err := s.cron.AddFunc(spec, func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Job panicked", zap.String("job", name), zap.Any("panic", r))
			}
		}()
		fn()
	})
	if err != nil {
		s.logger.Error("Failed to schedule job", zap.String("job", name), zap.String("spec", spec), zap.Error(err))
		return fmt.Errorf("schedule %s: %w", name, err)
	}

	s.jobMapMux.Lock()
	s.jobMap[name] = entryID
	s.jobMapMux.Unlock()

	s.logger.Info("Scheduled job", zap.String("job", name), zap.String("spec", spec), zap.Int("entry_id", int(entryID)))
	return nil
}

// RemoveJob removes a job by name; unknown names are ignored
func (s *Scheduler) RemoveJob(name string) {
	s.jobMapMux.Lock()
	defer s.jobMapMux.Unlock()

	if entryID, exists := s.jobMap[name]; exists {
		s.cron.Remove(entryID)
		delete(s.jobMap, name)
		s.logger.Info("Removed job", zap.String("job", name))
	}
}

// JobCount returns the number of currently scheduled jobs
func (s *Scheduler) JobCount() int {
	s.jobMapMux.RLock()
	defer s.jobMapMux.RUnlock()
	return len(s.jobMap)
}
