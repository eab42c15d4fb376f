package job

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/MyNameIsWhaaat/teamboard/internal/comment/storage"
	"github.com/MyNameIsWhaaat/teamboard/internal/comment/thread"
	"github.com/MyNameIsWhaaat/teamboard/internal/metrics"
)

const DefaultSchedule = "@every 10m"

// OrphanSweeper removes replies whose parent was deleted while the reply was being written.
type OrphanSweeper struct {
	store   storage.Backend
	logger  *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

func NewOrphanSweeper(store storage.Backend, logger *zap.Logger, m *metrics.Metrics) *OrphanSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrphanSweeper{
		store:   store,
		logger:  logger,
		metrics: m,
		timeout: time.Minute,
	}
}

// Run implements cron.Job.
func (j *OrphanSweeper) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if _, err := j.Sweep(ctx); err != nil {
		j.logger.Error("Orphan sweep failed", zap.Error(err))
	}
}

// Sweep deletes every orphaned reply in one call and reports how many there were.
func (j *OrphanSweeper) Sweep(ctx context.Context) (int, error) {
	all, err := j.store.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	orphans := thread.Orphans(all)
	if len(orphans) == 0 {
		j.logger.Debug("No orphaned replies found")
		return 0, nil
	}

	if err := j.store.Delete(ctx, orphans...); err != nil {
		return 0, err
	}

	j.metrics.AddOrphansSwept(len(orphans))
	j.logger.Info("Orphaned replies removed", zap.Int("count", len(orphans)))
	return len(orphans), nil
}

// NewScheduler registers job under spec. Overlapping runs are skipped.
func NewScheduler(spec string, job cron.Job, logger *zap.Logger) (*cron.Cron, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	log := cronLogger{logger.Sugar()}
	c := cron.New(cron.WithLogger(log))
	if _, err := c.AddJob(spec, cron.NewChain(cron.SkipIfStillRunning(log)).Then(job)); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	return c, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
