package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v3"

	"harkness_helper/internal/app"
	"harkness_helper/internal/domain/discussion"
)

const adminID = int64(42)

type fakeTrigger struct {
	started, stopped, ran int
	status                app.TriggerStatus
}

func (f *fakeTrigger) Start(context.Context) (app.TickOutcome, error) {
	f.started++
	return app.TickRan, nil
}
func (f *fakeTrigger) Stop(context.Context) error { f.stopped++; return nil }
func (f *fakeTrigger) RunOnce(context.Context) app.TickOutcome {
	f.ran++
	return app.TickFailed
}
func (f *fakeTrigger) Status(context.Context) (app.TriggerStatus, error) { return f.status, nil }

type fakeOverview map[discussion.Status]int

func (f fakeOverview) Overview(context.Context) (map[discussion.Status]int, error) { return f, nil }

type fakeFeedback struct{ gotID string }

func (f *fakeFeedback) Generate(_ context.Context, id string) (app.FeedbackSummary, error) {
	f.gotID = id
	if id == "missing" {
		return app.FeedbackSummary{}, discussion.ErrNotFound
	}
	return app.FeedbackSummary{Discussions: 1, Generated: 3}, nil
}

type fakeDistribution struct{}

func (fakeDistribution) Send(context.Context, string) (app.DistributionSummary, error) {
	return app.DistributionSummary{}, app.ErrNoChannelEnabled
}

type fakeRoster struct{}

func (fakeRoster) Sync(context.Context) (app.SyncSummary, error) {
	return app.SyncSummary{}, errors.New("canvas down")
}

func newCommands() (*Commands, *fakeTrigger, *fakeFeedback) {
	l, _ := test.NewNullLogger()
	tr := &fakeTrigger{}
	fb := &fakeFeedback{}
	return &Commands{
		Gate:         app.NewAdminGate(adminID),
		Trigger:      tr,
		Pipeline:     fakeOverview{discussion.StatusReview: 2, discussion.StatusUploaded: 1},
		Feedback:     fb,
		Distribution: fakeDistribution{},
		Roster:       fakeRoster{},
		Logger:       logrus.NewEntry(l),
	}, tr, fb
}

func run(c *Commands, name string, sender int64, args ...string) string {
	return c.dispatch(context.Background(), name, sender, args, c.handlers()[name])
}

func TestCommandsRejectNonAdmin(t *testing.T) {
	c, tr, _ := newCommands()
	for name := range c.handlers() {
		assert.Equal(t, unauthorized, run(c, name, 7), name)
	}
	assert.Zero(t, tr.started)
	assert.Zero(t, tr.ran)
}

func TestTriggerCommands(t *testing.T) {
	c, tr, _ := newCommands()

	assert.Contains(t, run(c, "/start_processing", adminID), "ran")
	assert.Equal(t, "Processing stopped.", run(c, "/stop_processing", adminID))
	assert.Contains(t, run(c, "/process_now", adminID), "failed")
	assert.Equal(t, 1, tr.started)
	assert.Equal(t, 1, tr.stopped)
	assert.Equal(t, 1, tr.ran)
}

func TestGenerateAndSendReplies(t *testing.T) {
	c, _, fb := newCommands()

	assert.Contains(t, run(c, "/generate", adminID, "d1"), "3 generated")
	assert.Equal(t, "d1", fb.gotID)
	assert.Contains(t, run(c, "/generate", adminID), "1 discussion(s)")
	assert.Empty(t, fb.gotID)
	assert.Equal(t, "Error: discussion not found.", run(c, "/generate", adminID, "missing"))

	assert.Contains(t, run(c, "/send", adminID), "no distribution channel is enabled")
	assert.Contains(t, run(c, "/sync_roster", adminID), "canvas down")
}

func TestStatusReply(t *testing.T) {
	c, tr, _ := newCommands()
	started := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	tr.status = app.TriggerStatus{Running: true, StartedAt: started, ExpiresAt: started.Add(time.Hour)}

	reply := run(c, "/status", adminID)
	assert.Contains(t, reply, "running since 2025-01-15 10:00:00, stops at 2025-01-15 11:00:00")
	assert.Contains(t, reply, "review: 2")
	assert.Contains(t, reply, "uploaded: 1")
}

type recordingBot struct {
	to   telebot.Recipient
	what interface{}
}

func (r *recordingBot) Send(to telebot.Recipient, what interface{}, _ ...interface{}) (*telebot.Message, error) {
	r.to, r.what = to, what
	return &telebot.Message{}, nil
}

func TestNotifierSendsToAdmin(t *testing.T) {
	bot := &recordingBot{}
	n := &Notifier{bot: bot, adminID: adminID}

	require.NoError(t, n.Notify(context.Background(), "Discussion d1 needs speaker confirmation"))
	assert.Equal(t, "42", bot.to.Recipient())
	assert.Equal(t, "Discussion d1 needs speaker confirmation", bot.what)

	silent := &recordingBot{}
	require.NoError(t, (&Notifier{bot: silent}).Notify(context.Background(), "x"))
	assert.Nil(t, silent.to)
}
