// internal/domain/discussion/discussion.go
package discussion

import (
	"fmt"
	"strings"
	"time"

	"harkness_helper/internal/domain/schema"
)

// DateLayout is the storage format of Discussion.Date.
const DateLayout = "2006-01-02"

// Discussion is one recorded session and the aggregate root for its
// transcript, speaker mappings and student reports.
type Discussion struct {
	ID                 string `validate:"required"`
	Date               string `validate:"required,datetime=2006-01-02"`
	Section            string
	Course             string
	AudioFileID        string `validate:"required"`
	Status             Status `validate:"required,oneof=uploaded transcribing mapping review approved sent error"`
	Grade              string
	GroupFeedback      string
	Approved           bool
	CanvasAssignmentID string
	CanvasItemType     string `validate:"omitempty,oneof=assignment discussion"`
	NextStep           string
	ErrorMessage       string   // newline separated, oldest first
	EmailSent          bool     // group mode: email channel completed
	GradesPosted       bool     // group mode: LMS channel completed
	Delivered          []string // group mode: DeliveryKey of every recipient served
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Validate checks the record against its declared field set.
func (d *Discussion) Validate() error {
	return schema.Validate(d)
}

// HasGrade reports whether the teacher entered a group grade.
func (d *Discussion) HasGrade() bool {
	return strings.TrimSpace(d.Grade) != ""
}

// DeliveryKey names one group-mode delivery: a channel and a student id.
func DeliveryKey(channel, studentID string) string {
	return channel + ":" + studentID
}

// DeliveredTo reports whether channel already reached the student.
func (d *Discussion) DeliveredTo(channel, studentID string) bool {
	return contains(d.Delivered, DeliveryKey(channel, studentID))
}

// Patch is a partial update. Nil fields are left untouched; AppendError is
// added to the end of ErrorMessage rather than replacing it. From, when set,
// is the status the record must still have for the patch to apply.
type Patch struct {
	From               *Status
	Status             *Status
	NextStep           *string
	AppendError        string
	Grade              *string
	GroupFeedback      *string
	Approved           *bool
	CanvasAssignmentID *string
	CanvasItemType     *string
	EmailSent          *bool
	GradesPosted       *bool
	MarkDelivered      []string
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T {
	return &v
}

// Check rejects the patch with ErrStatusChanged when d has left the
// expected status. Stores call it under their write lock.
func (p Patch) Check(d *Discussion) error {
	if p.From != nil && d.Status != *p.From {
		return fmt.Errorf("%w: %s is %s, expected %s", ErrStatusChanged, d.ID, d.Status, *p.From)
	}
	return nil
}

// Apply writes the patch onto d and stamps UpdatedAt.
func (p Patch) Apply(d *Discussion, now time.Time) {
	if p.Status != nil {
		d.Status = *p.Status
	}
	if p.NextStep != nil {
		d.NextStep = *p.NextStep
	}
	if p.AppendError != "" {
		d.ErrorMessage = AppendErrorLog(d.ErrorMessage, p.AppendError)
	}
	if p.Grade != nil {
		d.Grade = *p.Grade
	}
	if p.GroupFeedback != nil {
		d.GroupFeedback = *p.GroupFeedback
	}
	if p.Approved != nil {
		d.Approved = *p.Approved
	}
	if p.CanvasAssignmentID != nil {
		d.CanvasAssignmentID = *p.CanvasAssignmentID
	}
	if p.CanvasItemType != nil {
		d.CanvasItemType = *p.CanvasItemType
	}
	if p.EmailSent != nil {
		d.EmailSent = *p.EmailSent
	}
	if p.GradesPosted != nil {
		d.GradesPosted = *p.GradesPosted
	}
	if len(p.MarkDelivered) > 0 {
		delivered := append([]string(nil), d.Delivered...)
		for _, key := range p.MarkDelivered {
			if !contains(delivered, key) {
				delivered = append(delivered, key)
			}
		}
		d.Delivered = delivered
	}
	d.UpdatedAt = now
}

// ErrorEntry formats one timestamped line of the error log.
func ErrorEntry(at time.Time, msg string) string {
	return "[" + at.Format("2006-01-02 15:04:05") + "] " + msg
}

// AppendErrorLog adds entry after any existing history.
func AppendErrorLog(existing, entry string) string {
	if strings.TrimSpace(existing) == "" {
		return entry
	}
	return existing + "\n" + entry
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
