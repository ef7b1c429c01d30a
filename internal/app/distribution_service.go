// internal/app/distribution_service.go
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"harkness_helper/internal/domain/discussion"
	"harkness_helper/internal/domain/provider"
	"harkness_helper/internal/domain/roster"
	"harkness_helper/internal/domain/settings"
)

const (
	channelEmail  = "email"
	channelCanvas = "canvas"
)

// DistributionSummary reports what one send run did.
type DistributionSummary struct {
	Discussions int
	Sent        int // discussions that reached sent
	Deliveries  int
	Failures    int
	Skipped     int
}

// DistributionService delivers approved feedback by email and LMS grade post.
type DistributionService struct {
	common
	store  Store
	mailer provider.Mailer
	lms    provider.LMS // nil when LMS credentials are absent
	budget time.Duration
	logger *logrus.Entry
}

func NewDistributionService(store Store, mailer provider.Mailer, lms provider.LMS, passBudget time.Duration, logger *logrus.Entry, opts ...Option) *DistributionService {
	return &DistributionService{
		common: newCommon(opts),
		store:  store,
		mailer: mailer,
		lms:    lms,
		budget: passBudget,
		logger: logger.WithField("component", "distribution"),
	}
}

// tally accumulates the outcome of one discussion's deliveries.
type tally struct {
	sent   int
	failed int
	errs   []string
}

func (t *tally) fail(format string, args ...any) {
	t.failed++
	t.errs = append(t.errs, fmt.Sprintf(format, args...))
}

type channels struct {
	email  bool
	canvas bool
	cfg    settings.Settings
}

// Send distributes every review and approved discussion, or only
// discussionID when it is set.
func (s *DistributionService) Send(ctx context.Context, discussionID string) (DistributionSummary, error) {
	var sum DistributionSummary
	cfg, err := settings.Load(ctx, s.store)
	if err != nil {
		return sum, fmt.Errorf("failed to load settings: %w", err)
	}
	if cfg.ModeErr != nil {
		return sum, fmt.Errorf("%w: %v", ErrNotConfigured, cfg.ModeErr)
	}
	ch := channels{
		email:  cfg.DistributeEmail && s.mailer != nil,
		canvas: cfg.DistributeCanvas && s.lms != nil,
		cfg:    cfg,
	}
	if cfg.DistributeCanvas && s.lms == nil {
		s.logger.Warn("Canvas distribution is enabled but LMS credentials are missing")
	}
	if !ch.email && !ch.canvas {
		return sum, ErrNoChannelEnabled
	}

	targets, err := s.targets(ctx, discussionID)
	if err != nil {
		return sum, err
	}

	b := s.newBudget(s.budget)
	for _, d := range targets {
		if b.exhausted() {
			s.logger.Warn("Pass budget reached; run send again for the remaining discussions")
			break
		}
		log := s.logger.WithFields(logrus.Fields{"discussion_id": d.ID, "mode": cfg.Mode})

		var t *tally
		var done bool
		var runErr error
		if cfg.Mode == discussion.ModeGroup {
			if !d.Approved {
				sum.Skipped++
				continue
			}
			t, runErr = s.sendGroup(ctx, d, ch, log)
			done = true
		} else {
			reports, err := s.store.ListReports(ctx, d.ID)
			if err != nil {
				log.WithError(err).Error("Failed to list reports")
				continue
			}
			if !hasDeliverable(reports) {
				sum.Skipped++
				continue
			}
			t, done, runErr = s.sendIndividual(ctx, d, reports, ch, log)
		}
		if t == nil {
			t = &tally{}
		}
		if runErr != nil {
			t.fail("%v", runErr)
		}

		sum.Discussions++
		sum.Deliveries += t.sent
		sum.Failures += t.failed
		if reached, err := s.settle(ctx, d, cfg.Mode, t, done, log); err != nil {
			log.WithError(err).Error("Failed to record distribution outcome")
		} else if reached {
			sum.Sent++
		}
	}
	return sum, nil
}

func (s *DistributionService) targets(ctx context.Context, discussionID string) ([]*discussion.Discussion, error) {
	if discussionID == "" {
		list, err := s.store.ListDiscussionsByStatus(ctx, discussion.StatusReview, discussion.StatusApproved)
		if err != nil {
			return nil, fmt.Errorf("failed to list discussions: %w", err)
		}
		return list, nil
	}
	d, err := s.store.GetDiscussion(ctx, discussionID)
	if err != nil {
		return nil, err
	}
	if d.Status != discussion.StatusReview && d.Status != discussion.StatusApproved {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotDistributable, d.ID, d.Status)
	}
	return []*discussion.Discussion{d}, nil
}

func hasDeliverable(reports []*discussion.Report) bool {
	for _, r := range reports {
		if r.Deliverable() {
			return true
		}
	}
	return false
}

// settle moves the discussion according to the tally. done means every
// recipient of the discussion has been fully delivered.
func (s *DistributionService) settle(ctx context.Context, d *discussion.Discussion, mode discussion.Mode, t *tally, done bool, log *logrus.Entry) (bool, error) {
	if t.failed == 0 && done {
		if err := moveTo(ctx, s.store, d, discussion.StatusSent, discussion.Patch{NextStep: discussion.Ptr("Sent")}); err != nil {
			return false, err
		}
		log.WithField("deliveries", t.sent).Info("Discussion fully distributed")
		return true, nil
	}

	patch := discussion.Patch{}
	if t.failed == 0 {
		patch.NextStep = discussion.Ptr("Sent approved reports; approve the remaining reports and send again")
	} else {
		msg := fmt.Sprintf("Distribution partially failed (%d sent, %d failed): %s", t.sent, t.failed, strings.Join(t.errs, "; "))
		patch.AppendError = discussion.ErrorEntry(s.now(), msg)
		patch.NextStep = discussion.Ptr(fmt.Sprintf("Partial failure: %d delivery error(s). Fix the problem and run send again", t.failed))
		log.WithField("failures", t.failed).Warn(msg)
		s.notify(ctx, log, "Discussion %s (%s %s): %s", d.ID, d.Section, d.Date, msg)
	}

	if mode == discussion.ModeIndividual && d.Status == discussion.StatusReview {
		return false, moveTo(ctx, s.store, d, discussion.StatusApproved, patch)
	}
	updated, err := s.store.UpdateDiscussion(ctx, d.ID, patch)
	if err != nil {
		return false, err
	}
	*d = *updated
	return false, nil
}

// sectionStudents returns the roster of the discussion's section and course.
func (s *DistributionService) sectionStudents(ctx context.Context, d *discussion.Discussion) ([]*roster.Student, error) {
	all, err := s.store.ListStudents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	want := roster.NewKey("", d.Section, d.Course)
	var out []*roster.Student
	for _, st := range all {
		k := st.Key()
		if k.Section == want.Section && k.Course == want.Course {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *DistributionService) sendGroup(ctx context.Context, d *discussion.Discussion, ch channels, log *logrus.Entry) (*tally, error) {
	t := &tally{}
	students, err := s.sectionStudents(ctx, d)
	if err != nil {
		return t, err
	}
	if len(students) == 0 {
		t.fail("no students on the roster for section %q", d.Section)
		return t, nil
	}

	patch := discussion.Patch{}
	if ch.email && !d.EmailSent {
		before := t.failed
		subject := ch.cfg.Subject(d.Date, d.Section, d.Course)
		for _, st := range students {
			if d.DeliveredTo(channelEmail, st.ID) {
				continue
			}
			if st.Email == "" {
				t.fail("no email for %s", st.Name)
				continue
			}
			if s.deliverEmail(ctx, t, provider.Message{
				To:      st.Email,
				ReplyTo: ch.cfg.TeacherEmail,
				Subject: subject,
				Body:    groupLetter(st.Name, d, ch.cfg),
			}, log) {
				s.markDelivered(ctx, t, d, channelEmail, st)
			}
		}
		if t.failed == before {
			patch.EmailSent = discussion.Ptr(true)
		}
	}

	if ch.canvas && d.CanvasAssignmentID != "" && !d.GradesPosted {
		before := t.failed
		ref, err := s.courseRef(ctx, d.Course, ch.cfg)
		if err != nil {
			t.fail("%v", err)
		} else {
			for _, st := range students {
				if d.DeliveredTo(channelCanvas, st.ID) {
					continue
				}
				if s.deliverGrade(ctx, t, ref, d.CanvasAssignmentID, st, d.Grade, d.GroupFeedback, log) {
					s.markDelivered(ctx, t, d, channelCanvas, st)
				}
			}
		}
		if t.failed == before {
			patch.GradesPosted = discussion.Ptr(true)
		}
	}

	if patch.EmailSent != nil || patch.GradesPosted != nil {
		updated, err := s.store.UpdateDiscussion(ctx, d.ID, patch)
		if err != nil {
			return t, fmt.Errorf("failed to record channel completion: %w", err)
		}
		*d = *updated
	}
	return t, nil
}

// markDelivered records one group recipient as soon as it was served, so a
// rerun after a partial failure skips it.
func (s *DistributionService) markDelivered(ctx context.Context, t *tally, d *discussion.Discussion, channel string, st *roster.Student) {
	updated, err := s.store.UpdateDiscussion(ctx, d.ID, discussion.Patch{
		MarkDelivered: []string{discussion.DeliveryKey(channel, st.ID)},
	})
	if err != nil {
		t.fail("record %s delivery for %s: %v", channel, st.Name, err)
		return
	}
	*d = *updated
}

func (s *DistributionService) sendIndividual(ctx context.Context, d *discussion.Discussion, reports []*discussion.Report, ch channels, log *logrus.Entry) (*tally, bool, error) {
	t := &tally{}
	postGrades := ch.canvas && d.CanvasAssignmentID != ""

	var ref provider.CourseRef
	var refErr error
	if postGrades {
		ref, refErr = s.courseRef(ctx, d.Course, ch.cfg)
	}

	for _, r := range reports {
		if !r.Deliverable() {
			continue
		}
		rlog := log.WithField("report_id", r.ID)
		if r.FeedbackFailed() {
			t.fail("feedback for %s is a generation error; regenerate it before sending", r.StudentName)
			continue
		}
		st, err := s.store.GetStudent(ctx, r.StudentID)
		if err != nil {
			t.fail("student %s: %v", r.StudentName, err)
			continue
		}

		patch := discussion.ReportPatch{}
		emailDone, gradeDone := r.EmailSent || !ch.email, r.GradePosted || !postGrades

		if !emailDone {
			if st.Email == "" {
				t.fail("no email for %s", r.StudentName)
			} else if s.deliverEmail(ctx, t, provider.Message{
				To:      st.Email,
				ReplyTo: ch.cfg.TeacherEmail,
				Subject: ch.cfg.Subject(d.Date, d.Section, d.Course),
				Body:    individualLetter(r, d, ch.cfg),
			}, rlog) {
				emailDone = true
				patch.EmailSent = discussion.Ptr(true)
			}
		}

		if !gradeDone {
			if refErr != nil {
				t.fail("%v", refErr)
			} else if s.deliverGrade(ctx, t, ref, d.CanvasAssignmentID, st, r.Grade, r.Feedback, rlog) {
				gradeDone = true
				patch.GradePosted = discussion.Ptr(true)
			}
		}

		if emailDone && gradeDone {
			patch.Sent = discussion.Ptr(true)
		}
		if patch.EmailSent == nil && patch.GradePosted == nil && patch.Sent == nil {
			continue
		}
		if _, err := s.store.UpdateReport(ctx, r.ID, patch); err != nil {
			t.fail("record delivery for %s: %v", r.StudentName, err)
		}
	}

	fresh, err := s.store.ListReports(ctx, d.ID)
	if err != nil {
		return t, false, fmt.Errorf("failed to reload reports: %w", err)
	}
	done := len(fresh) > 0
	for _, r := range fresh {
		if !r.Sent {
			done = false
			break
		}
	}
	return t, done, nil
}

func (s *DistributionService) deliverEmail(ctx context.Context, t *tally, msg provider.Message, log *logrus.Entry) bool {
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.metrics.Delivery(channelEmail, "failed")
		t.fail("email to %s: %v", msg.To, err)
		log.WithError(err).WithField("to", msg.To).Warn("Email delivery failed")
		return false
	}
	s.metrics.Delivery(channelEmail, "ok")
	t.sent++
	return true
}

func (s *DistributionService) deliverGrade(ctx context.Context, t *tally, ref provider.CourseRef, itemID string, st *roster.Student, grade, comment string, log *logrus.Entry) bool {
	if st.CanvasUserID == "" {
		t.fail("no LMS user id for %s; sync the roster", st.Name)
		return false
	}
	if err := s.lms.PostGrade(ctx, ref, itemID, st.CanvasUserID, grade, comment); err != nil {
		s.metrics.Delivery(channelCanvas, "failed")
		t.fail("grade for %s: %v", st.Name, err)
		log.WithError(err).WithField("student", st.Name).Warn("Grade post failed")
		return false
	}
	s.metrics.Delivery(channelCanvas, "ok")
	t.sent++
	return true
}

// courseRef resolves the LMS course of a discussion: the matching course row
// in multi-course mode, else the single course from settings.
func (s *DistributionService) courseRef(ctx context.Context, course string, cfg settings.Settings) (provider.CourseRef, error) {
	return resolveCourse(ctx, s.store, course, cfg)
}

func resolveCourse(ctx context.Context, store Store, course string, cfg settings.Settings) (provider.CourseRef, error) {
	courses, err := store.ListCourses(ctx)
	if err != nil {
		return provider.CourseRef{}, fmt.Errorf("failed to list courses: %w", err)
	}
	for _, c := range courses {
		if strings.EqualFold(c.Name, course) && c.CanvasCourseID != "" {
			return provider.CourseRef{CourseID: c.CanvasCourseID, BaseURL: c.CanvasBaseURL}, nil
		}
	}
	if cfg.CanvasCourseID == "" {
		return provider.CourseRef{}, fmt.Errorf("%w for %q", ErrCourseUnavailable, course)
	}
	return provider.CourseRef{CourseID: cfg.CanvasCourseID, BaseURL: cfg.CanvasBaseURL}, nil
}

func signature(cfg settings.Settings) string {
	if cfg.TeacherName == "" {
		return ""
	}
	return "\n\n" + cfg.TeacherName
}

func groupLetter(name string, d *discussion.Discussion, cfg settings.Settings) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", name)
	fmt.Fprintf(&b, "Here is the feedback for our Harkness discussion on %s", d.Date)
	if d.Section != "" {
		fmt.Fprintf(&b, " (%s)", d.Section)
	}
	b.WriteString(".\n\n")
	if d.HasGrade() {
		fmt.Fprintf(&b, "Group grade: %s\n\n", d.Grade)
	}
	b.WriteString(d.GroupFeedback)
	b.WriteString(signature(cfg))
	return b.String()
}

func individualLetter(r *discussion.Report, d *discussion.Discussion, cfg settings.Settings) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", r.StudentName)
	fmt.Fprintf(&b, "Here is your feedback for our Harkness discussion on %s.\n\n", d.Date)
	if r.HasGrade() {
		fmt.Fprintf(&b, "Grade: %s\n\n", r.Grade)
	}
	b.WriteString(r.Feedback)
	b.WriteString(signature(cfg))
	return b.String()
}
