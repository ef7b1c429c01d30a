// internal/domain/discussion/records.go
package discussion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"harkness_helper/internal/domain/schema"
)

// UnknownSpeaker is the placeholder suggestion stored when the generator did
// not propose a name for a label.
const UnknownSpeaker = "?"

// Transcript belongs to exactly one Discussion.
type Transcript struct {
	DiscussionID string `validate:"required"`
	Raw          string
	Named        string
	SpeakerMap   map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (t *Transcript) Validate() error {
	return schema.Validate(t)
}

// EncodeSpeakerMap serializes a label->name map for storage.
func EncodeSpeakerMap(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode speaker map: %w", err)
	}
	return string(b), nil
}

// DecodeSpeakerMap is the inverse of EncodeSpeakerMap. Blank input yields an
// empty map.
func DecodeSpeakerMap(raw string) (map[string]string, error) {
	m := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode speaker map: %w", err)
	}
	return m, nil
}

// SpeakerMapping ties one diarization label of a discussion to a student.
type SpeakerMapping struct {
	DiscussionID  string `validate:"required"`
	Label         string `validate:"required"`
	SuggestedName string
	StudentName   string
	Confirmed     bool
}

func (m *SpeakerMapping) Validate() error {
	return schema.Validate(m)
}

// ResolvedName is the confirmed name when present, else the suggestion.
func (m *SpeakerMapping) ResolvedName() string {
	if name := strings.TrimSpace(m.StudentName); name != "" {
		return name
	}
	return strings.TrimSpace(m.SuggestedName)
}

// AllConfirmed reports whether every mapping has been confirmed by the
// teacher. An empty set is not confirmed.
func AllConfirmed(mappings []*SpeakerMapping) bool {
	if len(mappings) == 0 {
		return false
	}
	for _, m := range mappings {
		if !m.Confirmed {
			return false
		}
	}
	return true
}

// NameMap builds label->resolved name from the mapping rows.
func NameMap(mappings []*SpeakerMapping) map[string]string {
	out := make(map[string]string, len(mappings))
	for _, m := range mappings {
		if name := m.ResolvedName(); name != "" {
			out[m.Label] = name
		}
	}
	return out
}

// Report is one student's row for an individual-mode discussion.
type Report struct {
	ID                   string `validate:"required"`
	DiscussionID         string `validate:"required"`
	StudentID            string `validate:"required"`
	StudentName          string `validate:"required"`
	Contributions        string
	ParticipationSummary string
	Grade                string
	Feedback             string
	Approved             bool
	Sent                 bool
	EmailSent            bool
	GradePosted          bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (r *Report) Validate() error {
	return schema.Validate(r)
}

// HasGrade reports whether the teacher entered a grade for this student.
func (r *Report) HasGrade() bool {
	return strings.TrimSpace(r.Grade) != ""
}

// FeedbackErrorPrefix marks feedback text that is a stored generation
// failure rather than real feedback.
const FeedbackErrorPrefix = "[generation error] "

// NeedsFeedback is true for graded reports whose feedback is empty or holds
// a previous generation failure.
func (r *Report) NeedsFeedback() bool {
	if !r.HasGrade() {
		return false
	}
	return strings.TrimSpace(r.Feedback) == "" || r.FeedbackFailed()
}

// FeedbackFailed reports whether the stored feedback is a generation failure.
func (r *Report) FeedbackFailed() bool {
	return strings.HasPrefix(strings.TrimSpace(r.Feedback), strings.TrimSpace(FeedbackErrorPrefix))
}

// Deliverable is true for approved reports that have not been fully sent.
// Reports whose feedback holds a generation error count here and fail at
// send time.
func (r *Report) Deliverable() bool {
	return r.Approved && !r.Sent
}

// ReportPatch is a partial update of a Report.
type ReportPatch struct {
	Grade                *string
	Feedback             *string
	Approved             *bool
	Sent                 *bool
	EmailSent            *bool
	GradePosted          *bool
	ParticipationSummary *string
}

// Apply writes the patch onto r and stamps UpdatedAt.
func (p ReportPatch) Apply(r *Report, now time.Time) {
	if p.Grade != nil {
		r.Grade = *p.Grade
	}
	if p.Feedback != nil {
		r.Feedback = *p.Feedback
	}
	if p.Approved != nil {
		r.Approved = *p.Approved
	}
	if p.Sent != nil {
		r.Sent = *p.Sent
	}
	if p.EmailSent != nil {
		r.EmailSent = *p.EmailSent
	}
	if p.GradePosted != nil {
		r.GradePosted = *p.GradePosted
	}
	if p.ParticipationSummary != nil {
		r.ParticipationSummary = *p.ParticipationSummary
	}
	r.UpdatedAt = now
}
