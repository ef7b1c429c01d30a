// internal/app/feedback_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"harkness_helper/internal/domain/discussion"
	"harkness_helper/internal/domain/provider"
	"harkness_helper/internal/domain/settings"
)

// FeedbackSummary reports what one generation run did.
type FeedbackSummary struct {
	Discussions int
	Generated   int
	Failed      int
	Skipped     int
}

// FeedbackService generates group or per-student feedback on teacher request.
type FeedbackService struct {
	common
	store     Store
	generator provider.Generator
	prompts   Prompts
	delay     time.Duration
	budget    time.Duration
	logger    *logrus.Entry
}

func NewFeedbackService(store Store, generator provider.Generator, prompts Prompts, delay, passBudget time.Duration, logger *logrus.Entry, opts ...Option) *FeedbackService {
	return &FeedbackService{
		common:    newCommon(opts),
		store:     store,
		generator: generator,
		prompts:   prompts,
		delay:     delay,
		budget:    passBudget,
		logger:    logger.WithField("component", "feedback"),
	}
}

// Generate runs over every review and mapping discussion, or only over
// discussionID when it is set. A targeted discussion may also be in error
// if its transcript exists; it re-enters review on success.
func (s *FeedbackService) Generate(ctx context.Context, discussionID string) (FeedbackSummary, error) {
	var sum FeedbackSummary
	if s.generator == nil {
		return sum, fmt.Errorf("%w: generator", ErrNotConfigured)
	}
	cfg, err := settings.Load(ctx, s.store)
	if err != nil {
		return sum, fmt.Errorf("failed to load settings: %w", err)
	}
	if cfg.ModeErr != nil {
		return sum, fmt.Errorf("%w: %v", ErrNotConfigured, cfg.ModeErr)
	}

	targets, err := s.targets(ctx, discussionID)
	if err != nil {
		return sum, err
	}

	b := s.newBudget(s.budget)
	for _, d := range targets {
		if b.exhausted() {
			s.logger.Warn("Pass budget reached; run generation again for the remaining discussions")
			break
		}
		sum.Discussions++
		log := s.logger.WithFields(logrus.Fields{"discussion_id": d.ID, "mode": cfg.Mode})

		var runErr error
		if cfg.Mode == discussion.ModeGroup {
			runErr = s.generateGroup(ctx, d, cfg, &sum, log)
		} else {
			runErr = s.generateIndividual(ctx, d, cfg, &sum, log)
		}
		if runErr != nil {
			sum.Failed++
			s.failDiscussion(ctx, s.store, log, d, runErr)
			s.notify(ctx, log, "Feedback generation failed for discussion %s (%s %s): %v", d.ID, d.Section, d.Date, runErr)
		}
	}
	return sum, nil
}

func (s *FeedbackService) targets(ctx context.Context, discussionID string) ([]*discussion.Discussion, error) {
	if discussionID == "" {
		list, err := s.store.ListDiscussionsByStatus(ctx, discussion.StatusReview, discussion.StatusMapping)
		if err != nil {
			return nil, fmt.Errorf("failed to list discussions: %w", err)
		}
		return list, nil
	}

	d, err := s.store.GetDiscussion(ctx, discussionID)
	if err != nil {
		return nil, err
	}
	switch d.Status {
	case discussion.StatusReview, discussion.StatusMapping:
		return []*discussion.Discussion{d}, nil
	case discussion.StatusError:
		if _, err := s.store.GetTranscript(ctx, d.ID); err != nil {
			if errors.Is(err, discussion.ErrTranscriptNotFound) {
				return nil, fmt.Errorf("%w: discussion %s has no transcript", ErrNotGeneratable, d.ID)
			}
			return nil, err
		}
		return []*discussion.Discussion{d}, nil
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrNotGeneratable, d.ID, d.Status)
	}
}

// finish writes the hint and takes an errored discussion back to review.
func (s *FeedbackService) finish(ctx context.Context, d *discussion.Discussion, hint string) error {
	if d.Status == discussion.StatusError {
		return moveTo(ctx, s.store, d, discussion.StatusReview, discussion.Patch{NextStep: &hint})
	}
	return setNextStep(ctx, s.store, d, hint)
}

func (s *FeedbackService) generateGroup(ctx context.Context, d *discussion.Discussion, cfg settings.Settings, sum *FeedbackSummary, log *logrus.Entry) error {
	if !d.HasGrade() {
		sum.Skipped++
		return s.finish(ctx, d, "Enter a grade, then generate feedback")
	}
	if d.GroupFeedback != "" {
		sum.Skipped++
		log.Debug("Group feedback already present")
		return s.finish(ctx, d, hintReviewFeedback)
	}

	t, err := s.store.GetTranscript(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("failed to load transcript: %w", err)
	}
	prompt, err := s.prompts.Render(ctx, settings.PromptGroupFeedback, map[string]string{
		"grade":      d.Grade,
		"transcript": namedTranscript(t),
	})
	if err != nil {
		return fmt.Errorf("failed to render group prompt: %w", err)
	}
	text, err := s.generator.Generate(ctx, cfg.GeminiModel, prompt)
	if err != nil {
		s.metrics.FeedbackGenerated(string(discussion.ModeGroup), "failed")
		return fmt.Errorf("group feedback generation failed: %w", err)
	}
	s.metrics.FeedbackGenerated(string(discussion.ModeGroup), "ok")

	updated, err := s.store.UpdateDiscussion(ctx, d.ID, discussion.Patch{GroupFeedback: &text})
	if err != nil {
		return fmt.Errorf("failed to store group feedback: %w", err)
	}
	*d = *updated
	sum.Generated++
	log.Info("Group feedback generated")
	return s.finish(ctx, d, hintReviewFeedback)
}

func (s *FeedbackService) generateIndividual(ctx context.Context, d *discussion.Discussion, cfg settings.Settings, sum *FeedbackSummary, log *logrus.Entry) error {
	mappings, err := s.store.ListSpeakers(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("failed to list speaker mappings: %w", err)
	}
	if !discussion.AllConfirmed(mappings) {
		sum.Skipped++
		return setNextStep(ctx, s.store, d, "Confirm speaker names before generating feedback")
	}

	t, err := s.store.GetTranscript(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("failed to load transcript: %w", err)
	}
	named := namedTranscript(t)
	if _, err := s.ensureReports(ctx, s.store, log, d, mappings, named); err != nil {
		return err
	}
	reports, err := s.store.ListReports(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("failed to list reports: %w", err)
	}

	needGrades := 0
	calls := 0
	for _, r := range reports {
		if !r.HasGrade() {
			needGrades++
			continue
		}
		if !r.NeedsFeedback() {
			continue
		}
		if calls > 0 && s.delay > 0 {
			s.sleep(s.delay)
		}
		calls++

		rlog := log.WithField("report_id", r.ID)
		feedback, genErr := s.individualFeedback(ctx, r, named, cfg)
		if genErr != nil {
			s.metrics.FeedbackGenerated(string(discussion.ModeIndividual), "failed")
			sum.Failed++
			feedback = discussion.FeedbackErrorPrefix + genErr.Error()
			rlog.WithError(genErr).Warn("Feedback generation failed for student")
		} else {
			s.metrics.FeedbackGenerated(string(discussion.ModeIndividual), "ok")
			sum.Generated++
		}
		if _, err := s.store.UpdateReport(ctx, r.ID, discussion.ReportPatch{Feedback: &feedback}); err != nil {
			rlog.WithError(err).Error("Failed to store student feedback")
		}
	}

	if needGrades > 0 {
		return s.finish(ctx, d, fmt.Sprintf("Enter grades for %d student(s), then generate feedback again", needGrades))
	}
	return s.finish(ctx, d, "Review and approve student reports, then send")
}

func (s *FeedbackService) individualFeedback(ctx context.Context, r *discussion.Report, named string, cfg settings.Settings) (string, error) {
	prompt, err := s.prompts.Render(ctx, settings.PromptIndividualFeedback, map[string]string{
		"student_name":  r.StudentName,
		"contributions": r.Contributions,
		"transcript":    named,
		"grade":         r.Grade,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return s.generator.Generate(ctx, cfg.GeminiModel, prompt)
}
