package stats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/switchboard/internal/hub"
	"gorm.io/gorm"
)

// DefaultSchedule publishes a snapshot every five minutes.
const DefaultSchedule = "*/5 * * * *"

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule validates a 5-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("stats: parse schedule %q: %w", expr, err)
	}
	return sched, nil
}

// SchedulerOpts configures a Scheduler.
type SchedulerOpts struct {
	DB       *gorm.DB
	Hub      *hub.Hub
	Schedule string // defaults to DefaultSchedule
	Now      func() time.Time
	Logger   *slog.Logger
}

// Scheduler publishes stats.snapshot events on the system channel.
type Scheduler struct {
	db     *gorm.DB
	hub    *hub.Hub
	sched  cron.Schedule
	now    func() time.Time
	logger *slog.Logger
}

// NewScheduler validates opts and returns a Scheduler.
func NewScheduler(opts SchedulerOpts) (*Scheduler, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("stats: db is required")
	}
	if opts.Schedule == "" {
		opts.Schedule = DefaultSchedule
	}
	sched, err := ParseSchedule(opts.Schedule)
	if err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		db:     opts.DB,
		hub:    opts.Hub,
		sched:  sched,
		now:    opts.Now,
		logger: opts.Logger,
	}, nil
}

// Run fires Tick on the schedule until ctx is cancelled, then waits for a
// running tick to finish.
func (s *Scheduler) Run(ctx context.Context) {
	c := cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC))
	c.Schedule(s.sched, cron.FuncJob(func() { s.Tick() }))
	c.Start()
	s.logger.Info("stats: scheduler started")

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("stats: scheduler stopped")
}

// Tick computes one snapshot and publishes it. It returns the number of
// subscribers reached.
func (s *Scheduler) Tick() int {
	snap, err := Overview(s.db, s.now())
	if err != nil {
		s.logger.Warn("stats: snapshot failed", "error", err)
		return 0
	}
	return s.hub.Publish(hub.ChannelSystem, hub.StatsSnapshot(snap.GeneratedAt, snap))
}
