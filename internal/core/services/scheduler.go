package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sentinel/console/internal/core/ports"
	"github.com/sentinel/console/internal/infrastructure/logger"
	"github.com/sentinel/console/internal/infrastructure/metrics"
)

const dayLayout = "2006-01-02"

// ==================== Readiness ====================

// Readiness is a one-shot barrier every job waits on before its first tick.
type Readiness struct {
	once sync.Once
	ch   chan struct{}
}

func NewReadiness() *Readiness {
	return &Readiness{ch: make(chan struct{})}
}

// MarkReady opens the barrier. Later calls are no-ops.
func (r *Readiness) MarkReady() {
	r.once.Do(func() { close(r.ch) })
}

func (r *Readiness) IsReady() bool {
	select {
	case <-r.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until MarkReady is called or ctx ends.
func (r *Readiness) Wait(ctx context.Context) error {
	select {
	case <-r.ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrReadinessCanceled, ctx.Err())
	}
}

// ==================== Cadence ====================

// Cadence is either a fixed interval or a wall-clock time of day.
type Cadence struct {
	interval time.Duration
	daily    bool
	hour     int
	minute   int
	loc      *time.Location
}

func Every(d time.Duration) Cadence {
	return Cadence{interval: d}
}

func DailyAt(hour, minute int, loc *time.Location) Cadence {
	if loc == nil {
		loc = time.Local
	}
	return Cadence{daily: true, hour: hour, minute: minute, loc: loc}
}

func (c Cadence) Daily() bool { return c.daily }

func (c Cadence) String() string {
	if c.daily {
		return fmt.Sprintf("daily at %02d:%02d %s", c.hour, c.minute, c.loc)
	}
	return "every " + c.interval.String()
}

func (c Cadence) valid() bool {
	if c.daily {
		return c.hour >= 0 && c.hour < 24 && c.minute >= 0 && c.minute < 60
	}
	return c.interval > 0
}

// triggerOn returns the trigger time on the calendar day of t.
func (c Cadence) triggerOn(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), c.hour, c.minute, 0, 0, c.loc)
}

// nextDaily returns the first trigger strictly after now.
func (c Cadence) nextDaily(now time.Time) time.Time {
	next := c.triggerOn(now)
	if !next.After(now) {
		n := now.In(c.loc)
		next = time.Date(n.Year(), n.Month(), n.Day()+1, c.hour, c.minute, 0, 0, c.loc)
	}
	return next
}

// ==================== Scheduler ====================

// Job is one periodic unit of work. Timeout bounds a single run; zero uses
// the scheduler default.
type Job struct {
	Name         string
	Cadence      Cadence
	InitialDelay time.Duration
	Timeout      time.Duration
	Run          func(ctx context.Context) error
}

// SchedulerConfig tunes the Scheduler.
type SchedulerConfig struct {
	JobTimeout time.Duration
	// DailyGrace is how long after its trigger a daily job may still fire,
	// covering restarts shortly after the trigger time.
	DailyGrace time.Duration
}

// Scheduler runs registered jobs, each under its own supervisor goroutine.
// A failing or panicking job never affects the others.
type Scheduler struct {
	cfg      SchedulerConfig
	ready    *Readiness
	jobState ports.JobStateRepository
	log      *logger.Logger
	metrics  *metrics.Collector

	mu      sync.Mutex
	jobs    map[string]*Job
	order   []string
	fired   map[string]string
	started bool
	stopped bool
	now     func() time.Time
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(cfg SchedulerConfig, ready *Readiness, jobState ports.JobStateRepository, log *logger.Logger, m *metrics.Collector) *Scheduler {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	return &Scheduler{
		cfg:      cfg,
		ready:    ready,
		jobState: jobState,
		log:      log,
		metrics:  m,
		jobs:     make(map[string]*Job),
		fired:    make(map[string]string),
		now:      time.Now,
	}
}

// SetClock replaces the clock used for daily cadences.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Scheduler) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil || !job.Cadence.valid() {
		return ErrJobInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrSchedulerStarted
	}
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, job.Name)
	}
	j := job
	s.jobs[job.Name] = &j
	s.order = append(s.order, job.Name)
	return nil
}

// Jobs lists registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Start launches one supervisor per registered job. Supervisors wait for
// readiness before their first run.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrSchedulerStarted
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, name := range s.order {
		job := s.jobs[name]
		s.wg.Add(1)
		go s.supervise(ctx, job)
	}
	s.log.Infow("scheduler_started", "jobs", len(s.order))
	return nil
}

// Stop cancels every supervisor and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.log.Infow("scheduler_stopped")
}

// RunNow runs a job once, outside its cadence and without the readiness
// gate.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.runJob(ctx, job)
}

func (s *Scheduler) supervise(ctx context.Context, job *Job) {
	defer s.wg.Done()

	if err := s.ready.Wait(ctx); err != nil {
		return
	}
	if job.InitialDelay > 0 && !sleep(ctx, job.InitialDelay) {
		return
	}

	if job.Cadence.daily {
		s.superviseDaily(ctx, job)
		return
	}

	ticker := time.NewTicker(job.Cadence.interval)
	defer ticker.Stop()
	for {
		_ = s.runJob(ctx, job)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) superviseDaily(ctx context.Context, job *Job) {
	for {
		now := s.clock()
		if s.dueToday(job, now) {
			s.fireDaily(ctx, job, now)
		}
		next := job.Cadence.nextDaily(now)
		if !sleep(ctx, next.Sub(now)) {
			return
		}
	}
}

// dueToday reports whether now falls in the firing window of today's
// trigger.
func (s *Scheduler) dueToday(job *Job, now time.Time) bool {
	trigger := job.Cadence.triggerOn(now)
	if now.Before(trigger) {
		return false
	}
	return s.cfg.DailyGrace <= 0 || now.Before(trigger.Add(s.cfg.DailyGrace))
}

// fireDaily runs a daily job unless it already fired on now's calendar day.
// The day is recorded before the run so a crash mid-run cannot cause a
// second report. It reports whether the job ran.
func (s *Scheduler) fireDaily(ctx context.Context, job *Job, now time.Time) bool {
	day := now.In(job.Cadence.loc).Format(dayLayout)

	s.mu.Lock()
	memDay := s.fired[job.Name]
	s.mu.Unlock()

	last, err := s.jobState.LastFired(ctx, job.Name)
	if err != nil {
		s.log.Warnw("scheduler_last_fired_failed", "job", job.Name, "error", err)
		last = memDay
	}
	if last == day || memDay == day {
		s.log.Debugw("scheduler_daily_skipped", "job", job.Name, "day", day)
		return false
	}

	s.mu.Lock()
	s.fired[job.Name] = day
	s.mu.Unlock()
	if err := s.jobState.MarkFired(ctx, job.Name, day); err != nil {
		s.log.Warnw("scheduler_mark_fired_failed", "job", job.Name, "error", err)
	}

	_ = s.runJob(ctx, job)
	return true
}

// runJob executes one run under a timeout and converts panics to errors.
func (s *Scheduler) runJob(ctx context.Context, job *Job) (err error) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = s.cfg.JobTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrJobPanicked, job.Name, r)
		}
		elapsed := time.Since(start)
		s.metrics.JobRun(job.Name, elapsed, err)
		if err != nil {
			s.log.Errorw("scheduler_job_failed", "job", job.Name, "elapsed", elapsed, "error", err)
			return
		}
		s.log.Debugw("scheduler_job_ok", "job", job.Name, "elapsed", elapsed)
	}()

	return job.Run(runCtx)
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
