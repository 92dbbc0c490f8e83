package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

// IntervalScheduler runs named jobs on fixed intervals. A job whose previous
// run has not finished is skipped rather than run concurrently, and panics
// are recovered and logged.
type IntervalScheduler struct {
	logger  *zap.Logger
	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewIntervalScheduler creates a new scheduler
func NewIntervalScheduler(logger *zap.Logger) *IntervalScheduler {
	cronLogger := &cronLogger{logger: logger.Named("cron")}
	cronOptions := []cron.Option{
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	}

	return &IntervalScheduler{
		logger:  logger,
		cron:    cron.New(cronOptions...),
		entries: make(map[string]cron.EntryID),
	}
}

// Every registers fn to run every interval under name, replacing any job
// already registered with that name
func (s *IntervalScheduler) Every(name string, interval time.Duration, fn func()) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
	}
	s.entries[name] = s.cron.Schedule(cron.Every(interval), cron.FuncJob(fn))

	s.logger.Info("Job scheduled",
		zap.String("job", name),
		zap.Duration("interval", interval))
	return nil
}

// Remove unregisters the job with the given name
func (s *IntervalScheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

// Start starts the scheduler
func (s *IntervalScheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling new runs. The returned context is done once every
// running job has completed.
func (s *IntervalScheduler) Stop() context.Context {
	return s.cron.Stop()
}
