// internal/domain/discussion/repository.go
package discussion

import (
	"context"
	"errors"
)

var (
	ErrNotFound           = errors.New("discussion not found")
	ErrTranscriptNotFound = errors.New("transcript not found")
	ErrMappingNotFound    = errors.New("speaker mapping not found")
	ErrReportNotFound     = errors.New("student report not found")
	ErrStatusChanged      = errors.New("discussion status changed concurrently")
)

// Repository defines persistence for a Discussion and the records it owns.
type Repository interface {
	// Discussion methods
	CreateDiscussion(ctx context.Context, d *Discussion) error
	GetDiscussion(ctx context.Context, id string) (*Discussion, error)
	ListDiscussions(ctx context.Context) ([]*Discussion, error)
	// ListDiscussionsByStatus returns exact status matches only.
	ListDiscussionsByStatus(ctx context.Context, statuses ...Status) ([]*Discussion, error)
	// UpdateDiscussion applies patch atomically, returning ErrStatusChanged
	// when patch.From no longer matches.
	UpdateDiscussion(ctx context.Context, id string, patch Patch) (*Discussion, error)

	// Transcript methods
	GetTranscript(ctx context.Context, discussionID string) (*Transcript, error)
	SaveTranscript(ctx context.Context, t *Transcript) error // upsert by discussion id

	// SpeakerMapping methods
	ListSpeakers(ctx context.Context, discussionID string) ([]*SpeakerMapping, error)
	// UpsertSpeaker inserts a row or refreshes its suggestion; a confirmed
	// row keeps its student name and flag.
	UpsertSpeaker(ctx context.Context, m *SpeakerMapping) error
	ConfirmSpeaker(ctx context.Context, discussionID, label, studentName string) error

	// StudentReport methods
	CreateReport(ctx context.Context, r *Report) error
	GetReport(ctx context.Context, id string) (*Report, error)
	FindReport(ctx context.Context, discussionID, studentID string) (*Report, error)
	ListReports(ctx context.Context, discussionID string) ([]*Report, error)
	UpdateReport(ctx context.Context, id string, patch ReportPatch) (*Report, error)
}
