package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "ttagenda/internal/log"
)

// CaptureFunc takes one screenshot.
type CaptureFunc func(ctx context.Context, opts Options) error

// Job captures the board on a cron schedule and remembers the outcome of
// the last run.
type Job struct {
	opts    Options
	spec    string
	capture CaptureFunc

	mu      sync.RWMutex
	lastAt  time.Time
	lastErr error

	cron *cron.Cron
}

func NewJob(spec string, opts Options, fn CaptureFunc) *Job {
	if fn == nil {
		fn = BoardPNG
	}
	return &Job{opts: opts, spec: spec, capture: fn}
}

// RunOnce captures immediately.
func (j *Job) RunOnce(ctx context.Context) error {
	start := time.Now()
	err := j.capture(ctx, j.opts)

	j.mu.Lock()
	j.lastAt, j.lastErr = time.Now(), err
	j.mu.Unlock()

	if err != nil {
		appLog.Error("capture failed", err, "url", j.opts.URL)
		return err
	}
	appLog.Info("capture completed", "output", j.opts.OutputPath, "elapsed", time.Since(start).String())
	return nil
}

// Start schedules RunOnce. Overlapping runs are skipped.
func (j *Job) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(j.spec, func() { _ = j.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("capture: schedule %q: %w", j.spec, err)
	}
	j.cron = c
	c.Start()
	appLog.Info("capture scheduled", "schedule", j.spec, "url", j.opts.URL)
	return nil
}

func (j *Job) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

// Last reports when the job last ran and how it ended.
func (j *Job) Last() (time.Time, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastAt, j.lastErr
}
