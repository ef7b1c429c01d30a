// internal/app/records.go
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"harkness_helper/internal/domain/discussion"
	"harkness_helper/internal/domain/roster"
	"harkness_helper/internal/domain/transcript"
)

// failDiscussion moves d to error with a timestamped entry appended to its
// history. Errors writing the failure are logged only.
func (c common) failDiscussion(ctx context.Context, store Store, log *logrus.Entry, d *discussion.Discussion, cause error) {
	msg := cause.Error()
	patch := discussion.Patch{
		AppendError: discussion.ErrorEntry(c.now(), msg),
		NextStep:    discussion.Ptr("Failed: see error_message"),
	}
	if d.Status.CanTransition(discussion.StatusError) {
		patch.From = discussion.Ptr(d.Status)
		patch.Status = discussion.Ptr(discussion.StatusError)
	}
	updated, err := store.UpdateDiscussion(ctx, d.ID, patch)
	if errors.Is(err, discussion.ErrStatusChanged) {
		log.WithError(err).Warn("Discussion changed before its failure was recorded")
		return
	}
	if err != nil {
		log.WithError(err).Error("Failed to record discussion failure")
		return
	}
	*d = *updated
	log.WithField("cause", msg).Warn("Discussion moved to error")
}

// moveTo applies a validated status change together with the rest of patch.
// The store rejects it with discussion.ErrStatusChanged when the record is no
// longer in d.Status.
func moveTo(ctx context.Context, store Store, d *discussion.Discussion, to discussion.Status, patch discussion.Patch) error {
	next, err := d.Status.Transition(to)
	if err != nil {
		return err
	}
	from := d.Status
	patch.From = &from
	patch.Status = &next
	updated, err := store.UpdateDiscussion(ctx, d.ID, patch)
	if err != nil {
		return fmt.Errorf("failed to update discussion %s: %w", d.ID, err)
	}
	*d = *updated
	return nil
}

// setNextStep overwrites the hint when it changed.
func setNextStep(ctx context.Context, store Store, d *discussion.Discussion, hint string) error {
	if d.NextStep == hint {
		return nil
	}
	updated, err := store.UpdateDiscussion(ctx, d.ID, discussion.Patch{NextStep: &hint})
	if err != nil {
		return fmt.Errorf("failed to update next step for discussion %s: %w", d.ID, err)
	}
	*d = *updated
	return nil
}

// namedTranscript returns the best available transcript text.
func namedTranscript(t *discussion.Transcript) string {
	if strings.TrimSpace(t.Named) != "" {
		return t.Named
	}
	return t.Raw
}

// rebuildNamed rewrites the raw transcript with the current mapping rows and
// persists the result.
func (c common) rebuildNamed(ctx context.Context, store Store, d *discussion.Discussion, mappings []*discussion.SpeakerMapping) (*discussion.Transcript, error) {
	t, err := store.GetTranscript(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	names := discussion.NameMap(mappings)
	t.Named = transcript.Rename(t.Raw, names)
	t.SpeakerMap = names
	t.UpdatedAt = c.now()
	if err := store.SaveTranscript(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to save named transcript: %w", err)
	}
	return t, nil
}

// ensureReports creates the missing StudentReport rows for every student
// speaker of d. Students are looked up by identity key and created when
// absent. Existing reports are left untouched.
func (c common) ensureReports(ctx context.Context, store Store, log *logrus.Entry, d *discussion.Discussion, mappings []*discussion.SpeakerMapping, named string) (int, error) {
	seen := map[string]bool{}
	created := 0
	for _, m := range mappings {
		name := m.ResolvedName()
		if !transcript.IsStudentName(name) {
			continue
		}
		key := roster.NewKey(name, d.Section, d.Course)
		if seen[key.Name] {
			continue
		}
		seen[key.Name] = true

		student, err := c.lookupOrCreateStudent(ctx, store, name, d.Section, d.Course)
		if err != nil {
			return created, err
		}

		_, err = store.FindReport(ctx, d.ID, student.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, discussion.ErrReportNotFound) {
			return created, fmt.Errorf("failed to check existing report for %s: %w", name, err)
		}

		now := c.now()
		r := &discussion.Report{
			ID:            uuid.NewString(),
			DiscussionID:  d.ID,
			StudentID:     student.ID,
			StudentName:   student.Name,
			Contributions: transcript.Contributions(named, name),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := store.CreateReport(ctx, r); err != nil {
			return created, fmt.Errorf("failed to create report for %s: %w", name, err)
		}
		created++
		log.WithFields(logrus.Fields{"report_id": r.ID, "student": student.Name}).Info("Student report created")
	}
	return created, nil
}

func (c common) lookupOrCreateStudent(ctx context.Context, store Store, name, section, course string) (*roster.Student, error) {
	student, err := store.FindStudent(ctx, roster.NewKey(name, section, course))
	if err == nil {
		return student, nil
	}
	if !errors.Is(err, roster.ErrStudentNotFound) {
		return nil, fmt.Errorf("failed to look up student %s: %w", name, err)
	}
	now := c.now()
	student = &roster.Student{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Section:   section,
		Course:    course,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateStudent(ctx, student); err != nil {
		if errors.Is(err, roster.ErrDuplicateKey) {
			return store.FindStudent(ctx, roster.NewKey(name, section, course))
		}
		return nil, fmt.Errorf("failed to create student %s: %w", name, err)
	}
	return student, nil
}
