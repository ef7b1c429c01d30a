package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CronTrigger installs at most one "@every" job on a cron engine. A tick
// that fires while the previous one is still running is skipped.
type CronTrigger struct {
	mu         sync.Mutex
	cronEngine *cron.Cron
	entry      cron.EntryID
	installed  bool
	logger     *logrus.Entry
}

func NewCronTrigger(logger *logrus.Entry) *CronTrigger {
	log := logger.WithField("component", "scheduler")
	cl := cronLogger{entry: log}
	return &CronTrigger{
		cronEngine: cron.New(
			cron.WithLocation(time.Local), // Use server's local time for cron
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: log,
	}
}

// cronLogger writes the cron engine's messages to logrus. The engine's own
// bookkeeping goes to Debug; skipped ticks and recovered panics keep their
// level.
type cronLogger struct {
	entry *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	e := l.entry.WithFields(cronFields(keysAndValues))
	if msg == "skip" {
		e.Info("Tick skipped; previous run still in progress")
		return
	}
	e.Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithError(err).WithFields(cronFields(keysAndValues)).Error(msg)
}

func cronFields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}

// Start runs the cron engine. Installing before Start is allowed.
func (t *CronTrigger) Start() {
	t.cronEngine.Start()
	t.logger.Info("Scheduler started")
}

// Stop stops the engine and waits for a running job to finish or ctx to end.
func (t *CronTrigger) Stop(ctx context.Context) {
	t.logger.Info("Stopping scheduler...")
	done := t.cronEngine.Stop()
	select {
	case <-done.Done():
		t.logger.Info("Scheduler gracefully stopped")
	case <-ctx.Done():
		t.logger.Warn("Scheduler stop timed out with a job still running")
	}
}

func (t *CronTrigger) Install(interval time.Duration, fn func()) error {
	if interval <= 0 {
		return fmt.Errorf("invalid trigger interval %s", interval)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked()

	id, err := t.cronEngine.AddFunc(fmt.Sprintf("@every %s", interval), fn)
	if err != nil {
		return fmt.Errorf("could not add pipeline cron job: %w", err)
	}
	t.entry = id
	t.installed = true
	t.logger.WithField("interval", interval).Info("Pipeline trigger installed")
	return nil
}

func (t *CronTrigger) Remove() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.installed {
		t.logger.Info("Pipeline trigger removed")
	}
	t.removeLocked()
}

func (t *CronTrigger) removeLocked() {
	if !t.installed {
		return
	}
	t.cronEngine.Remove(t.entry)
	t.installed = false
	t.entry = 0
}

func (t *CronTrigger) Installed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.installed
}

// Next reports when the installed trigger fires next.
func (t *CronTrigger) Next() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.installed {
		return time.Time{}, false
	}
	return t.cronEngine.Entry(t.entry).Next, true
}
