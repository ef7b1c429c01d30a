package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"harkness_helper/internal/app"
	"harkness_helper/internal/domain/discussion"
)

type trigger interface {
	Start(ctx context.Context) (app.TickOutcome, error)
	Stop(ctx context.Context) error
	RunOnce(ctx context.Context) app.TickOutcome
	Status(ctx context.Context) (app.TriggerStatus, error)
}

type overview interface {
	Overview(ctx context.Context) (map[discussion.Status]int, error)
}

type feedback interface {
	Generate(ctx context.Context, discussionID string) (app.FeedbackSummary, error)
}

type distribution interface {
	Send(ctx context.Context, discussionID string) (app.DistributionSummary, error)
}

type rosterSync interface {
	Sync(ctx context.Context) (app.SyncSummary, error)
}

// Commands holds the services behind the admin bot commands.
type Commands struct {
	Gate         app.AdminGate
	Trigger      trigger
	Pipeline     overview
	Feedback     feedback
	Distribution distribution
	Roster       rosterSync
	Logger       *logrus.Entry
}

const unauthorized = "Error: you are not allowed to run this command."

type handlerFunc func(ctx context.Context, args []string) string

// RegisterAdminHandlers wires every admin command to the bot.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, cmds *Commands) {
	for name, h := range cmds.handlers() {
		name, h := name, h
		b.Handle(name, func(c telebot.Context) error {
			return c.Send(cmds.dispatch(ctx, name, c.Sender().ID, c.Args(), h))
		})
	}
}

func (c *Commands) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"/start_processing": c.startProcessing,
		"/stop_processing":  c.stopProcessing,
		"/process_now":      c.processNow,
		"/generate":         c.generate,
		"/send":             c.send,
		"/sync_roster":      c.syncRoster,
		"/status":           c.status,
		"/help":             c.help,
		"/start":            c.help,
	}
}

func (c *Commands) dispatch(ctx context.Context, name string, senderID int64, args []string, h handlerFunc) string {
	log := c.Logger.WithFields(logrus.Fields{
		"handler":   name,
		"sender_id": senderID,
	})
	log.Info("Command received")
	if err := c.Gate.Check(senderID); err != nil {
		log.Warn("Unauthorized access attempt")
		return unauthorized
	}
	return h(ctx, args)
}

func optionalID(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return strings.TrimSpace(args[0])
}

func (c *Commands) startProcessing(ctx context.Context, _ []string) string {
	outcome, err := c.Trigger.Start(ctx)
	if err != nil {
		c.Logger.WithError(err).Error("Failed to start processing")
		return fmt.Sprintf("Could not start processing: %s", err)
	}
	return fmt.Sprintf("Processing started. First pass: %s.", outcome)
}

func (c *Commands) stopProcessing(ctx context.Context, _ []string) string {
	if err := c.Trigger.Stop(ctx); err != nil {
		c.Logger.WithError(err).Error("Failed to stop processing")
		return fmt.Sprintf("Could not stop processing: %s", err)
	}
	return "Processing stopped."
}

func (c *Commands) processNow(ctx context.Context, _ []string) string {
	return fmt.Sprintf("Pass finished: %s.", c.Trigger.RunOnce(ctx))
}

func (c *Commands) generate(ctx context.Context, args []string) string {
	sum, err := c.Feedback.Generate(ctx, optionalID(args))
	if err != nil {
		return errorReply("generate feedback", err)
	}
	return fmt.Sprintf("Feedback: %d discussion(s), %d generated, %d failed, %d skipped.",
		sum.Discussions, sum.Generated, sum.Failed, sum.Skipped)
}

func (c *Commands) send(ctx context.Context, args []string) string {
	sum, err := c.Distribution.Send(ctx, optionalID(args))
	if err != nil {
		return errorReply("send feedback", err)
	}
	return fmt.Sprintf("Distribution: %d discussion(s), %d sent, %d deliveries, %d failures, %d skipped.",
		sum.Discussions, sum.Sent, sum.Deliveries, sum.Failures, sum.Skipped)
}

func (c *Commands) syncRoster(ctx context.Context, _ []string) string {
	sum, err := c.Roster.Sync(ctx)
	if err != nil {
		return errorReply("sync roster", err)
	}
	return fmt.Sprintf("Roster: %d course(s), %d section(s), %d created, %d updated, %d unchanged.",
		sum.Courses, sum.Sections, sum.Created, sum.Updated, sum.Unchanged)
}

func (c *Commands) status(ctx context.Context, _ []string) string {
	var sb strings.Builder
	st, err := c.Trigger.Status(ctx)
	switch {
	case err != nil:
		sb.WriteString("Processing: unknown\n")
	case st.Running:
		sb.WriteString(fmt.Sprintf("Processing: running since %s, stops at %s\n",
			st.StartedAt.Format(time.DateTime), st.ExpiresAt.Format(time.DateTime)))
	default:
		sb.WriteString("Processing: stopped\n")
	}

	counts, err := c.Pipeline.Overview(ctx)
	if err != nil {
		c.Logger.WithError(err).Error("Failed to load status overview")
		sb.WriteString("Discussions: unavailable")
		return sb.String()
	}
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	sb.WriteString("Discussions:")
	if len(statuses) == 0 {
		sb.WriteString(" none")
	}
	for _, s := range statuses {
		sb.WriteString(fmt.Sprintf("\n  %s: %d", s, counts[discussion.Status(s)]))
	}
	return sb.String()
}

func (c *Commands) help(context.Context, []string) string {
	var helpText strings.Builder
	helpText.WriteString("Available commands:\n\n")
	helpText.WriteString("/start_processing - start the processing window and run a pass now\n")
	helpText.WriteString("/stop_processing - stop periodic processing\n")
	helpText.WriteString("/process_now - run one pass immediately\n")
	helpText.WriteString("/generate [discussion id] - generate feedback for discussions in review\n")
	helpText.WriteString("/send [discussion id] - distribute approved feedback\n")
	helpText.WriteString("/sync_roster - pull sections and students from Canvas\n")
	helpText.WriteString("/status - show processing state and discussion counts\n")
	helpText.WriteString("/help - show this message")
	return helpText.String()
}

func errorReply(action string, err error) string {
	switch {
	case errors.Is(err, discussion.ErrNotFound):
		return "Error: discussion not found."
	case errors.Is(err, app.ErrNotConfigured), errors.Is(err, app.ErrCourseUnavailable),
		errors.Is(err, app.ErrNoChannelEnabled), errors.Is(err, app.ErrNotDistributable),
		errors.Is(err, app.ErrNotGeneratable), errors.Is(err, discussion.ErrStatusChanged):
		return fmt.Sprintf("Cannot %s: %s.", action, err)
	default:
		return fmt.Sprintf("Failed to %s: %s", action, err)
	}
}
