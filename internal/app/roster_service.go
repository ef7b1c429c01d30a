// internal/app/roster_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"harkness_helper/internal/domain/provider"
	"harkness_helper/internal/domain/roster"
	"harkness_helper/internal/domain/settings"
)

// SyncSummary reports the result of a roster sync.
type SyncSummary struct {
	Courses   int
	Sections  int
	Created   int
	Updated   int
	Unchanged int
}

// RosterService keeps the student roster in line with the LMS.
type RosterService struct {
	common
	store  Store
	lms    provider.LMS
	logger *logrus.Entry
}

func NewRosterService(store Store, lms provider.LMS, logger *logrus.Entry, opts ...Option) *RosterService {
	return &RosterService{
		common: newCommon(opts),
		store:  store,
		lms:    lms,
		logger: logger.WithField("component", "roster"),
	}
}

type syncTarget struct {
	name string
	ref  provider.CourseRef
}

// Sync pulls sections and enrolled students for every configured course
// and creates or refreshes the matching Student rows.
func (s *RosterService) Sync(ctx context.Context) (SyncSummary, error) {
	var sum SyncSummary
	if s.lms == nil {
		return sum, fmt.Errorf("%w: LMS credentials", ErrNotConfigured)
	}
	targets, err := s.syncTargets(ctx)
	if err != nil {
		return sum, err
	}

	for _, target := range targets {
		log := s.logger.WithFields(logrus.Fields{"course": target.name, "canvas_course_id": target.ref.CourseID})
		sections, err := s.lms.ListSections(ctx, target.ref)
		if err != nil {
			return sum, fmt.Errorf("failed to list sections for %s: %w", target.ref.CourseID, err)
		}
		sum.Courses++
		for _, sec := range sections {
			enrolled, err := s.lms.ListSectionStudents(ctx, target.ref, sec.ID)
			if err != nil {
				return sum, fmt.Errorf("failed to list students of section %s: %w", sec.Name, err)
			}
			sum.Sections++
			for _, e := range enrolled {
				if err := s.upsert(ctx, e, sec.Name, target.name, &sum); err != nil {
					return sum, err
				}
			}
		}
		log.WithField("sections", len(sections)).Info("Course roster synced")
	}
	return sum, nil
}

func (s *RosterService) syncTargets(ctx context.Context) ([]syncTarget, error) {
	courses, err := s.store.ListCourses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	var out []syncTarget
	for _, c := range courses {
		if c.CanvasCourseID == "" {
			continue
		}
		out = append(out, syncTarget{name: c.Name, ref: provider.CourseRef{CourseID: c.CanvasCourseID, BaseURL: c.CanvasBaseURL}})
	}
	if len(courses) > 0 {
		return out, nil
	}

	cfg, err := settings.Load(ctx, s.store)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if cfg.CanvasCourseID == "" {
		return nil, ErrCourseUnavailable
	}
	return []syncTarget{{ref: provider.CourseRef{CourseID: cfg.CanvasCourseID, BaseURL: cfg.CanvasBaseURL}}}, nil
}

func (s *RosterService) upsert(ctx context.Context, e provider.Enrollment, section, course string, sum *SyncSummary) error {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return nil
	}
	existing, err := s.store.FindStudent(ctx, roster.NewKey(name, section, course))
	if err != nil && !errors.Is(err, roster.ErrStudentNotFound) {
		return fmt.Errorf("failed to look up student %s: %w", name, err)
	}
	now := s.now()
	if existing == nil {
		st := &roster.Student{
			ID:           uuid.NewString(),
			Name:         name,
			Email:        e.Email,
			Section:      section,
			Course:       course,
			CanvasUserID: e.UserID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.store.CreateStudent(ctx, st); err != nil {
			return fmt.Errorf("failed to create student %s: %w", name, err)
		}
		sum.Created++
		return nil
	}

	changed := false
	if e.Email != "" && existing.Email != e.Email {
		existing.Email = e.Email
		changed = true
	}
	if e.UserID != "" && existing.CanvasUserID != e.UserID {
		existing.CanvasUserID = e.UserID
		changed = true
	}
	if !changed {
		sum.Unchanged++
		return nil
	}
	existing.UpdatedAt = now
	if err := s.store.UpdateStudent(ctx, existing); err != nil {
		return fmt.Errorf("failed to update student %s: %w", name, err)
	}
	sum.Updated++
	return nil
}

// ListItems lists gradable items of a course so the teacher can pick the
// grade-item reference of a discussion. course is a course row name, or
// empty for the single configured course.
func (s *RosterService) ListItems(ctx context.Context, course string) ([]provider.GradeItem, error) {
	if s.lms == nil {
		return nil, fmt.Errorf("%w: LMS credentials", ErrNotConfigured)
	}
	cfg, err := settings.Load(ctx, s.store)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	ref, err := resolveCourse(ctx, s.store, course, cfg)
	if err != nil {
		return nil, err
	}
	itemType := cfg.CanvasItemType
	courses, err := s.store.ListCourses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	for _, c := range courses {
		if strings.EqualFold(c.Name, course) && c.ItemType != "" {
			itemType = c.ItemType
		}
	}
	return s.lms.ListItems(ctx, ref, itemType)
}
