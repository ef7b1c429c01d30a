// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"harkness_helper/internal/domain/discussion"
	"harkness_helper/internal/domain/roster"
	"harkness_helper/internal/domain/settings"
)

// Application-level errors
var (
	ErrNotAuthorized     = fmt.Errorf("performing user is not authorized as an admin")
	ErrNotConfigured     = fmt.Errorf("required collaborators or settings are missing")
	ErrNoChannelEnabled  = fmt.Errorf("no distribution channel is enabled")
	ErrNotDistributable  = fmt.Errorf("discussion is not in a distributable status")
	ErrNotGeneratable    = fmt.Errorf("discussion is not in a status feedback can be generated for")
	ErrDiscussionLocked  = fmt.Errorf("discussion has already been sent")
	ErrInvalidUpdate     = fmt.Errorf("invalid update")
	ErrCourseUnavailable = fmt.Errorf("no LMS course configured")
)

// Store is the record store the services work against. Each backend in
// internal/infra implements all of it.
type Store interface {
	discussion.Repository
	roster.Repository
	settings.Repository
}

// Prompts renders a named template with {placeholder} variables.
type Prompts interface {
	Render(ctx context.Context, name string, vars map[string]string) (string, error)
}

// Notifier pushes short alerts to the teacher.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Recorder receives pipeline metrics.
type Recorder interface {
	PipelineRun(outcome string, took time.Duration)
	DiscussionIngested()
	Transcription(result string)
	FeedbackGenerated(mode, result string)
	Delivery(channel, result string)
	WatchdogTimeout()
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string) error { return nil }

type nopRecorder struct{}

func (nopRecorder) PipelineRun(string, time.Duration) {}
func (nopRecorder) DiscussionIngested()               {}
func (nopRecorder) Transcription(string)              {}
func (nopRecorder) FeedbackGenerated(string, string)  {}
func (nopRecorder) Delivery(string, string)           {}
func (nopRecorder) WatchdogTimeout()                  {}

// Option customizes a service.
type Option func(*common)

// common carries the ambient collaborators shared by every service.
type common struct {
	notifier Notifier
	metrics  Recorder
	now      func() time.Time
	sleep    func(time.Duration)
}

func newCommon(opts []Option) common {
	c := common{
		notifier: nopNotifier{},
		metrics:  nopRecorder{},
		now:      time.Now,
		sleep:    time.Sleep,
	}
	for _, o := range opts {
		o(&c)
	}
	return c
}

func WithNotifier(n Notifier) Option {
	return func(c *common) {
		if n != nil {
			c.notifier = n
		}
	}
}

func WithMetrics(r Recorder) Option {
	return func(c *common) {
		if r != nil {
			c.metrics = r
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *common) { c.now = now }
}

// WithSleep replaces time.Sleep for the feedback throttle.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *common) { c.sleep = sleep }
}

// notify sends an alert. Delivery problems are logged, never returned.
func (c common) notify(ctx context.Context, log *logrus.Entry, format string, args ...any) {
	if err := c.notifier.Notify(ctx, fmt.Sprintf(format, args...)); err != nil {
		log.WithError(err).Warn("Failed to notify admin")
	}
}

// budget tracks the deadline of one invocation.
type budget struct {
	deadline time.Time
	now      func() time.Time
}

func (c common) newBudget(d time.Duration) budget {
	if d <= 0 {
		return budget{now: c.now}
	}
	return budget{deadline: c.now().Add(d), now: c.now}
}

func (b budget) exhausted() bool {
	return !b.deadline.IsZero() && !b.now().Before(b.deadline)
}

// AdminGate restricts teacher commands to the configured admin.
type AdminGate struct {
	adminID int64
}

func NewAdminGate(adminID int64) AdminGate {
	return AdminGate{adminID: adminID}
}

func (g AdminGate) Check(senderID int64) error {
	if g.adminID == 0 || senderID != g.adminID {
		return ErrNotAuthorized
	}
	return nil
}
