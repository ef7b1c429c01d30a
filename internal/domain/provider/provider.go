// internal/domain/provider/provider.go
package provider

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotConfigured is returned by collaborators whose credentials are absent.
var ErrNotConfigured = errors.New("provider not configured")

// Audio is a recording handed to the transcriber. Exactly one of Body or URL
// is set; URL is used for files above the inline upload threshold.
type Audio struct {
	Name     string
	MimeType string
	Size     int64
	Body     io.Reader
	URL      string
}

// Transcriber turns audio into "[<label>] [MM:SS] text" lines.
type Transcriber interface {
	Transcribe(ctx context.Context, audio Audio, model string) (string, error)
}

// Generator submits a rendered prompt and returns the model's text.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// CourseRef addresses one course on an LMS instance. An empty BaseURL means
// the client's default instance.
type CourseRef struct {
	CourseID string
	BaseURL  string
}

// Section is an LMS course section.
type Section struct {
	ID   string
	Name string
}

// Enrollment is a student enrolled in a section.
type Enrollment struct {
	UserID string
	Name   string
	Email  string
}

// GradeItem is an assignment or graded discussion a grade can be posted to.
type GradeItem struct {
	ID       string
	Name     string
	ItemType string // assignment | discussion
}

// LMS is the roster and gradebook service.
type LMS interface {
	ListSections(ctx context.Context, course CourseRef) ([]Section, error)
	ListSectionStudents(ctx context.Context, course CourseRef, sectionID string) ([]Enrollment, error)
	// PostGrade posts to the assignment behind itemID; comment may be empty.
	PostGrade(ctx context.Context, course CourseRef, itemID, userID, grade, comment string) error
	ListItems(ctx context.Context, course CourseRef, itemType string) ([]GradeItem, error)
}

// Message is one outgoing email.
type Message struct {
	To      string
	ReplyTo string
	Subject string
	Body    string
}

// Mailer sends email.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// FileInfo describes a stored recording.
type FileInfo struct {
	ID        string
	Name      string
	MimeType  string
	Size      int64
	CreatedAt time.Time
}

// FileStore lists and relocates recordings between named folders.
type FileStore interface {
	List(ctx context.Context, folder string) ([]FileInfo, error)
	Move(ctx context.Context, fileID, folder string) (FileInfo, error)
	Open(ctx context.Context, fileID string) (io.ReadCloser, FileInfo, error)
	// SignedURL returns a time-limited URL the transcriber can fetch.
	SignedURL(ctx context.Context, fileID string, ttl time.Duration) (string, error)
}
