// Package memory is an in-process record store for tests and local runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"harkness_helper/internal/domain/discussion"
	"harkness_helper/internal/domain/roster"
	"harkness_helper/internal/domain/settings"
)

type speakerKey struct {
	discussionID string
	label        string
}

// Store keeps every collection in maps guarded by one mutex. Returned
// records are copies.
type Store struct {
	mu          sync.Mutex
	now         func() time.Time
	discussions map[string]*discussion.Discussion
	transcripts map[string]*discussion.Transcript
	speakers    map[speakerKey]*discussion.SpeakerMapping
	speakerSeq  []speakerKey
	reports     map[string]*discussion.Report
	students    map[string]*roster.Student
	courses     []*roster.Course
	settings    map[string]string
	prompts     map[string]string
}

func NewStore() *Store {
	return &Store{
		now:         time.Now,
		discussions: map[string]*discussion.Discussion{},
		transcripts: map[string]*discussion.Transcript{},
		speakers:    map[speakerKey]*discussion.SpeakerMapping{},
		reports:     map[string]*discussion.Report{},
		students:    map[string]*roster.Student{},
		settings:    map[string]string{},
		prompts:     map[string]string{},
	}
}

// SetClock replaces the time source used for UpdatedAt stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AddCourse appends a course row.
func (s *Store) AddCourse(c roster.Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses = append(s.courses, &c)
}

// SetPrompt stores a prompt override.
func (s *Store) SetPrompt(name, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[name] = text
}

// --- discussions ---

func (s *Store) CreateDiscussion(_ context.Context, d *discussion.Discussion) error {
	if err := d.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.discussions[d.ID] = &cp
	return nil
}

func (s *Store) GetDiscussion(_ context.Context, id string) (*discussion.Discussion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.discussions[id]
	if !ok {
		return nil, discussion.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *Store) ListDiscussions(_ context.Context) ([]*discussion.Discussion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterDiscussions(func(*discussion.Discussion) bool { return true }), nil
}

func (s *Store) ListDiscussionsByStatus(_ context.Context, statuses ...discussion.Status) ([]*discussion.Discussion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[discussion.Status]bool{}
	for _, st := range statuses {
		want[st] = true
	}
	return s.filterDiscussions(func(d *discussion.Discussion) bool { return want[d.Status] }), nil
}

func (s *Store) filterDiscussions(keep func(*discussion.Discussion) bool) []*discussion.Discussion {
	var out []*discussion.Discussion
	for _, d := range s.discussions {
		if keep(d) {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) UpdateDiscussion(_ context.Context, id string, patch discussion.Patch) (*discussion.Discussion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.discussions[id]
	if !ok {
		return nil, discussion.ErrNotFound
	}
	if err := patch.Check(d); err != nil {
		return nil, err
	}
	next := *d
	patch.Apply(&next, s.now())
	if err := next.Validate(); err != nil {
		return nil, err
	}
	s.discussions[id] = &next
	cp := next
	return &cp, nil
}

// --- transcripts ---

func (s *Store) GetTranscript(_ context.Context, discussionID string) (*discussion.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[discussionID]
	if !ok {
		return nil, discussion.ErrTranscriptNotFound
	}
	cp := *t
	cp.SpeakerMap = copyMap(t.SpeakerMap)
	return &cp, nil
}

func (s *Store) SaveTranscript(_ context.Context, t *discussion.Transcript) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	cp.SpeakerMap = copyMap(t.SpeakerMap)
	if prev, ok := s.transcripts[t.DiscussionID]; ok && !prev.CreatedAt.IsZero() {
		cp.CreatedAt = prev.CreatedAt
	}
	s.transcripts[t.DiscussionID] = &cp
	return nil
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// --- speaker mappings ---

func (s *Store) ListSpeakers(_ context.Context, discussionID string) ([]*discussion.SpeakerMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*discussion.SpeakerMapping
	for _, k := range s.speakerSeq {
		if k.discussionID != discussionID {
			continue
		}
		cp := *s.speakers[k]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) UpsertSpeaker(_ context.Context, m *discussion.SpeakerMapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := speakerKey{m.DiscussionID, m.Label}
	if prev, ok := s.speakers[k]; ok {
		prev.SuggestedName = m.SuggestedName
		if !prev.Confirmed {
			prev.StudentName = m.StudentName
			prev.Confirmed = m.Confirmed
		}
		return nil
	}
	cp := *m
	s.speakers[k] = &cp
	s.speakerSeq = append(s.speakerSeq, k)
	return nil
}

func (s *Store) ConfirmSpeaker(_ context.Context, discussionID, label, studentName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.speakers[speakerKey{discussionID, label}]
	if !ok {
		return discussion.ErrMappingNotFound
	}
	m.StudentName = studentName
	m.Confirmed = true
	return nil
}

// --- reports ---

func (s *Store) CreateReport(_ context.Context, r *discussion.Report) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.reports[r.ID] = &cp
	return nil
}

func (s *Store) GetReport(_ context.Context, id string) (*discussion.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, discussion.ErrReportNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) FindReport(_ context.Context, discussionID, studentID string) (*discussion.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reports {
		if r.DiscussionID == discussionID && r.StudentID == studentID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, discussion.ErrReportNotFound
}

func (s *Store) ListReports(_ context.Context, discussionID string) ([]*discussion.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*discussion.Report
	for _, r := range s.reports {
		if r.DiscussionID == discussionID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentName < out[j].StudentName })
	return out, nil
}

func (s *Store) UpdateReport(_ context.Context, id string, patch discussion.ReportPatch) (*discussion.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, discussion.ErrReportNotFound
	}
	next := *r
	patch.Apply(&next, s.now())
	s.reports[id] = &next
	cp := next
	return &cp, nil
}

// --- roster ---

func (s *Store) CreateStudent(_ context.Context, st *roster.Student) error {
	if err := st.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.students {
		if existing.Key() == st.Key() {
			return roster.ErrDuplicateKey
		}
	}
	cp := *st
	s.students[st.ID] = &cp
	return nil
}

func (s *Store) GetStudent(_ context.Context, id string) (*roster.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[id]
	if !ok {
		return nil, roster.ErrStudentNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *Store) FindStudent(_ context.Context, key roster.Key) (*roster.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.students {
		if st.Key() == key {
			cp := *st
			return &cp, nil
		}
	}
	return nil, roster.ErrStudentNotFound
}

func (s *Store) ListStudents(_ context.Context) ([]*roster.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*roster.Student, 0, len(s.students))
	for _, st := range s.students {
		cp := *st
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Section != out[j].Section {
			return out[i].Section < out[j].Section
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

func (s *Store) UpdateStudent(_ context.Context, st *roster.Student) error {
	if err := st.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.students[st.ID]; !ok {
		return roster.ErrStudentNotFound
	}
	cp := *st
	s.students[st.ID] = &cp
	return nil
}

func (s *Store) ListCourses(_ context.Context) ([]*roster.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*roster.Course, 0, len(s.courses))
	for _, c := range s.courses {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

// --- settings ---

func (s *Store) LoadSettings(_ context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMap(s.settings), nil
}

func (s *Store) SaveSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *Store) GetPrompt(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.prompts[name]
	if !ok || strings.TrimSpace(text) == "" {
		return "", settings.ErrPromptNotFound
	}
	return text, nil
}
