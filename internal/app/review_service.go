// internal/app/review_service.go
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"harkness_helper/internal/domain/discussion"
)

// DiscussionUpdate holds the teacher-editable gate fields of a discussion.
// Status is never writable here.
type DiscussionUpdate struct {
	Grade              *string
	Approved           *bool
	CanvasAssignmentID *string
	CanvasItemType     *string
	GroupFeedback      *string
}

// ReportUpdate holds the teacher-editable fields of a student report.
type ReportUpdate struct {
	Grade    *string
	Approved *bool
	Feedback *string
}

// ReviewService applies teacher review actions.
type ReviewService struct {
	common
	store  Store
	logger *logrus.Entry
}

func NewReviewService(store Store, logger *logrus.Entry, opts ...Option) *ReviewService {
	return &ReviewService{
		common: newCommon(opts),
		store:  store,
		logger: logger.WithField("component", "review"),
	}
}

// ListDiscussions returns discussions, optionally only those in status.
func (s *ReviewService) ListDiscussions(ctx context.Context, status string) ([]*discussion.Discussion, error) {
	if status == "" {
		return s.store.ListDiscussions(ctx)
	}
	st, err := discussion.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}
	return s.store.ListDiscussionsByStatus(ctx, st)
}

// ConfirmSpeaker records the teacher's name for a speaker label.
func (s *ReviewService) ConfirmSpeaker(ctx context.Context, discussionID, label, studentName string) error {
	name := strings.TrimSpace(studentName)
	if name == "" {
		return fmt.Errorf("%w: student name is required", ErrInvalidUpdate)
	}
	d, err := s.store.GetDiscussion(ctx, discussionID)
	if err != nil {
		return err
	}
	if d.Status == discussion.StatusSent {
		return ErrDiscussionLocked
	}
	if err := s.store.ConfirmSpeaker(ctx, d.ID, label, name); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"discussion_id": d.ID, "label": label, "student": name}).Info("Speaker confirmed")
	return nil
}

// UpdateDiscussion writes gate fields of a discussion.
func (s *ReviewService) UpdateDiscussion(ctx context.Context, id string, u DiscussionUpdate) (*discussion.Discussion, error) {
	d, err := s.store.GetDiscussion(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status == discussion.StatusSent {
		return nil, ErrDiscussionLocked
	}
	if u.CanvasItemType != nil {
		switch *u.CanvasItemType {
		case "assignment", "discussion":
		default:
			return nil, fmt.Errorf("%w: canvas item type %q", ErrInvalidUpdate, *u.CanvasItemType)
		}
	}
	patch := discussion.Patch{
		Grade:              trimmed(u.Grade),
		Approved:           u.Approved,
		CanvasAssignmentID: trimmed(u.CanvasAssignmentID),
		CanvasItemType:     u.CanvasItemType,
		GroupFeedback:      u.GroupFeedback,
	}
	updated, err := s.store.UpdateDiscussion(ctx, d.ID, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update discussion: %w", err)
	}
	s.logger.WithField("discussion_id", d.ID).Info("Discussion review fields updated")
	return updated, nil
}

// UpdateReport writes grade, approval or feedback of a student report.
func (s *ReviewService) UpdateReport(ctx context.Context, id string, u ReportUpdate) (*discussion.Report, error) {
	r, err := s.store.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Sent {
		return nil, fmt.Errorf("%w: report already sent", ErrInvalidUpdate)
	}
	updated, err := s.store.UpdateReport(ctx, r.ID, discussion.ReportPatch{
		Grade:    trimmed(u.Grade),
		Approved: u.Approved,
		Feedback: u.Feedback,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update report: %w", err)
	}
	s.logger.WithField("report_id", r.ID).Info("Report review fields updated")
	return updated, nil
}

// Reports lists the student reports of a discussion.
func (s *ReviewService) Reports(ctx context.Context, discussionID string) ([]*discussion.Report, error) {
	return s.store.ListReports(ctx, discussionID)
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	return &t
}
