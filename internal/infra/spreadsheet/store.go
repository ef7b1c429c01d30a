// Package spreadsheet persists every collection in one .xlsx workbook laid
// out as the teacher-facing template: one tab per collection, a header row
// and one record per row.
package spreadsheet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"harkness_helper/internal/domain/discussion"
	"harkness_helper/internal/domain/roster"
	"harkness_helper/internal/domain/settings"
	"harkness_helper/internal/infra/memory"
)

const (
	tabSettings    = "Settings"
	tabDiscussions = "Discussions"
	tabStudents    = "Students"
	tabTranscripts = "Transcripts"
	tabSpeakers    = "SpeakerMap"
	tabReports     = "StudentReports"
	tabPrompts     = "Prompts"
	tabCourses     = "Courses"

	timeLayout = time.RFC3339
)

var headers = map[string][]string{
	tabSettings: {"setting_key", "setting_value"},
	tabDiscussions: {"status", "next_step", "date", "section", "course", "grade", "approved", "group_feedback",
		"canvas_assignment_id", "canvas_item_type", "discussion_id", "audio_file_id", "error_message",
		"created_at", "updated_at", "email_sent", "grades_posted", "delivered"},
	tabStudents:    {"name", "email", "section", "course", "canvas_user_id", "student_id"},
	tabTranscripts: {"discussion_id", "raw_transcript", "speaker_map", "named_transcript", "created_at", "updated_at"},
	tabSpeakers:    {"discussion_id", "speaker_label", "suggested_name", "student_name", "confirmed"},
	tabReports: {"student_name", "grade", "approved", "sent", "feedback", "discussion_id", "transcript_contributions",
		"participation_summary", "student_id", "report_id", "created_at", "updated_at", "email_sent", "grade_posted"},
	tabPrompts: {"prompt_name", "prompt_text"},
	tabCourses: {"course_name", "canvas_course_id", "canvas_base_url", "canvas_item_type"},
}

var tabOrder = []string{tabSettings, tabDiscussions, tabStudents, tabTranscripts, tabSpeakers, tabReports, tabPrompts, tabCourses}

// Store keeps the workbook contents in an in-process store and writes the
// whole workbook back after every mutation.
type Store struct {
	*memory.Store
	mu      sync.Mutex
	path    string
	prompts [][2]string
	logger  *logrus.Entry
}

// Open loads the workbook at path, creating a fresh template with default
// settings when the file does not exist yet.
func Open(ctx context.Context, path string, logger *logrus.Entry) (*Store, error) {
	s := &Store{
		Store:  memory.NewStore(),
		path:   path,
		logger: logger.WithField("component", "workbook"),
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		for _, d := range settings.Defaults {
			_ = s.Store.SaveSetting(ctx, d[0], d[1])
		}
		if err := s.flush(ctx); err != nil {
			return nil, err
		}
		s.logger.WithField("path", path).Info("Created new workbook from template")
		return s, nil
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()
	if err := s.load(ctx, f); err != nil {
		return nil, err
	}
	return s, nil
}

// row gives header-addressed access to one sheet row.
type row struct {
	cols  map[string]int
	cells []string
}

func (r row) get(name string) string {
	i, ok := r.cols[name]
	if !ok || i >= len(r.cells) {
		return ""
	}
	return strings.TrimSpace(r.cells[i])
}

func (r row) bool(name string) bool {
	switch strings.ToLower(r.get(name)) {
	case "true", "yes", "1":
		return true
	}
	return false
}

// list splits a comma separated cell, dropping blanks.
func (r row) list(name string) []string {
	var out []string
	for _, v := range strings.Split(r.get(name), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (r row) time(name string) time.Time {
	t, _ := time.Parse(timeLayout, r.get(name))
	return t
}

func readTab(f *excelize.File, tab string) ([]row, error) {
	if idx, _ := f.GetSheetIndex(tab); idx < 0 {
		return nil, nil
	}
	rows, err := f.GetRows(tab)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s tab: %w", tab, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	cols := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		cols[strings.TrimSpace(h)] = i
	}
	out := make([]row, 0, len(rows)-1)
	for _, cells := range rows[1:] {
		if len(cells) == 0 {
			continue
		}
		out = append(out, row{cols: cols, cells: cells})
	}
	return out, nil
}

func (s *Store) load(ctx context.Context, f *excelize.File) error {
	tabs := make(map[string][]row, len(tabOrder))
	for _, tab := range tabOrder {
		rows, err := readTab(f, tab)
		if err != nil {
			return err
		}
		tabs[tab] = rows
	}

	for _, r := range tabs[tabSettings] {
		if key := r.get("setting_key"); key != "" {
			_ = s.Store.SaveSetting(ctx, key, r.get("setting_value"))
		}
	}
	for _, r := range tabs[tabPrompts] {
		name, text := r.get("prompt_name"), r.get("prompt_text")
		if name == "" {
			continue
		}
		s.prompts = append(s.prompts, [2]string{name, text})
		s.Store.SetPrompt(name, text)
	}
	for _, r := range tabs[tabCourses] {
		if name := r.get("course_name"); name != "" {
			s.Store.AddCourse(roster.Course{
				Name:           name,
				CanvasCourseID: r.get("canvas_course_id"),
				CanvasBaseURL:  r.get("canvas_base_url"),
				ItemType:       r.get("canvas_item_type"),
			})
		}
	}
	for _, r := range tabs[tabStudents] {
		st := &roster.Student{
			ID:           r.get("student_id"),
			Name:         r.get("name"),
			Email:        r.get("email"),
			Section:      r.get("section"),
			Course:       r.get("course"),
			CanvasUserID: r.get("canvas_user_id"),
			CreatedAt:    time.Now(),
		}
		if st.ID == "" {
			st.ID = uuid.NewString()
		}
		if err := s.Store.CreateStudent(ctx, st); err != nil {
			s.logger.WithError(err).WithField("student", st.Name).Warn("Skipping invalid Students row")
		}
	}
	for _, r := range tabs[tabDiscussions] {
		d := &discussion.Discussion{
			ID:                 r.get("discussion_id"),
			Date:               r.get("date"),
			Section:            r.get("section"),
			Course:             r.get("course"),
			AudioFileID:        r.get("audio_file_id"),
			Status:             discussion.Status(r.get("status")),
			Grade:              r.get("grade"),
			GroupFeedback:      r.get("group_feedback"),
			Approved:           r.bool("approved"),
			CanvasAssignmentID: r.get("canvas_assignment_id"),
			CanvasItemType:     r.get("canvas_item_type"),
			NextStep:           r.get("next_step"),
			ErrorMessage:       r.get("error_message"),
			EmailSent:          r.bool("email_sent"),
			GradesPosted:       r.bool("grades_posted"),
			Delivered:          r.list("delivered"),
			CreatedAt:          r.time("created_at"),
			UpdatedAt:          r.time("updated_at"),
		}
		if err := s.Store.CreateDiscussion(ctx, d); err != nil {
			s.logger.WithError(err).WithField("discussion_id", d.ID).Warn("Skipping invalid Discussions row")
		}
	}
	for _, r := range tabs[tabTranscripts] {
		m, err := discussion.DecodeSpeakerMap(r.get("speaker_map"))
		if err != nil {
			m = map[string]string{}
		}
		t := &discussion.Transcript{
			DiscussionID: r.get("discussion_id"),
			Raw:          r.get("raw_transcript"),
			Named:        r.get("named_transcript"),
			SpeakerMap:   m,
			CreatedAt:    r.time("created_at"),
			UpdatedAt:    r.time("updated_at"),
		}
		if err := s.Store.SaveTranscript(ctx, t); err != nil {
			s.logger.WithError(err).Warn("Skipping invalid Transcripts row")
		}
	}
	for _, r := range tabs[tabSpeakers] {
		m := &discussion.SpeakerMapping{
			DiscussionID:  r.get("discussion_id"),
			Label:         r.get("speaker_label"),
			SuggestedName: r.get("suggested_name"),
			StudentName:   r.get("student_name"),
			Confirmed:     r.bool("confirmed"),
		}
		if err := s.Store.UpsertSpeaker(ctx, m); err != nil {
			s.logger.WithError(err).Warn("Skipping invalid SpeakerMap row")
		}
	}
	for _, r := range tabs[tabReports] {
		rep := &discussion.Report{
			ID:                   r.get("report_id"),
			DiscussionID:         r.get("discussion_id"),
			StudentID:            r.get("student_id"),
			StudentName:          r.get("student_name"),
			Contributions:        r.get("transcript_contributions"),
			ParticipationSummary: r.get("participation_summary"),
			Grade:                r.get("grade"),
			Feedback:             r.get("feedback"),
			Approved:             r.bool("approved"),
			Sent:                 r.bool("sent"),
			EmailSent:            r.bool("email_sent"),
			GradePosted:          r.bool("grade_posted"),
			CreatedAt:            r.time("created_at"),
			UpdatedAt:            r.time("updated_at"),
		}
		if err := s.Store.CreateReport(ctx, rep); err != nil {
			s.logger.WithError(err).WithField("report_id", rep.ID).Warn("Skipping invalid StudentReports row")
		}
	}
	return nil
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeLayout)
}

func flag(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// snapshot collects every tab's rows from the in-process store.
func (s *Store) snapshot(ctx context.Context) (map[string][][]string, error) {
	out := make(map[string][][]string, len(tabOrder))

	raw, err := s.Store.LoadSettings(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for _, d := range settings.Defaults {
		if v, ok := raw[d[0]]; ok {
			out[tabSettings] = append(out[tabSettings], []string{d[0], v})
			seen[d[0]] = true
		}
	}
	var extra []string
	for k := range raw {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		out[tabSettings] = append(out[tabSettings], []string{k, raw[k]})
	}

	for _, p := range s.prompts {
		out[tabPrompts] = append(out[tabPrompts], []string{p[0], p[1]})
	}

	courses, err := s.Store.ListCourses(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range courses {
		out[tabCourses] = append(out[tabCourses], []string{c.Name, c.CanvasCourseID, c.CanvasBaseURL, c.ItemType})
	}

	students, err := s.Store.ListStudents(ctx)
	if err != nil {
		return nil, err
	}
	for _, st := range students {
		out[tabStudents] = append(out[tabStudents], []string{st.Name, st.Email, st.Section, st.Course, st.CanvasUserID, st.ID})
	}

	discussions, err := s.Store.ListDiscussions(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range discussions {
		out[tabDiscussions] = append(out[tabDiscussions], []string{
			string(d.Status), d.NextStep, d.Date, d.Section, d.Course, d.Grade, flag(d.Approved), d.GroupFeedback,
			d.CanvasAssignmentID, d.CanvasItemType, d.ID, d.AudioFileID, d.ErrorMessage,
			stamp(d.CreatedAt), stamp(d.UpdatedAt), flag(d.EmailSent), flag(d.GradesPosted),
			strings.Join(d.Delivered, ","),
		})

		t, err := s.Store.GetTranscript(ctx, d.ID)
		switch {
		case err == nil:
			m, err := discussion.EncodeSpeakerMap(t.SpeakerMap)
			if err != nil {
				return nil, err
			}
			out[tabTranscripts] = append(out[tabTranscripts], []string{t.DiscussionID, t.Raw, m, t.Named, stamp(t.CreatedAt), stamp(t.UpdatedAt)})
		case !errors.Is(err, discussion.ErrTranscriptNotFound):
			return nil, err
		}

		speakers, err := s.Store.ListSpeakers(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range speakers {
			out[tabSpeakers] = append(out[tabSpeakers], []string{m.DiscussionID, m.Label, m.SuggestedName, m.StudentName, flag(m.Confirmed)})
		}

		reports, err := s.Store.ListReports(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		for _, r := range reports {
			out[tabReports] = append(out[tabReports], []string{
				r.StudentName, r.Grade, flag(r.Approved), flag(r.Sent), r.Feedback, r.DiscussionID, r.Contributions,
				r.ParticipationSummary, r.StudentID, r.ID, stamp(r.CreatedAt), stamp(r.UpdatedAt),
				flag(r.EmailSent), flag(r.GradePosted),
			})
		}
	}
	return out, nil
}

// flush rewrites the workbook through a temporary file and a rename.
func (s *Store) flush(ctx context.Context) error {
	data, err := s.snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to snapshot workbook: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4285F4"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, tab := range tabOrder {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", tab); err != nil {
				return fmt.Errorf("failed to name %s tab: %w", tab, err)
			}
		} else if _, err := f.NewSheet(tab); err != nil {
			return fmt.Errorf("failed to create %s tab: %w", tab, err)
		}
		if err := writeRow(f, tab, 1, headers[tab]); err != nil {
			return err
		}
		last, _ := excelize.CoordinatesToCellName(len(headers[tab]), 1)
		if err := f.SetCellStyle(tab, "A1", last, headerStyle); err != nil {
			return fmt.Errorf("failed to style %s header: %w", tab, err)
		}
		for j, cells := range data[tab] {
			if err := writeRow(f, tab, j+2, cells); err != nil {
				return err
			}
		}
	}

	tmp := filepath.Join(filepath.Dir(s.path), "."+filepath.Base(s.path)+".tmp")
	if err := f.SaveAs(tmp); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, tab string, n int, cells []string) error {
	cell, _ := excelize.CoordinatesToCellName(1, n)
	values := make([]interface{}, len(cells))
	for i, c := range cells {
		values[i] = c
	}
	if err := f.SetSheetRow(tab, cell, &values); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", tab, n, err)
	}
	return nil
}

// write runs a mutation and persists the workbook when it succeeds.
func (s *Store) write(ctx context.Context, mutate func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := mutate(); err != nil {
		return err
	}
	return s.flush(ctx)
}

func (s *Store) CreateDiscussion(ctx context.Context, d *discussion.Discussion) error {
	return s.write(ctx, func() error { return s.Store.CreateDiscussion(ctx, d) })
}

func (s *Store) UpdateDiscussion(ctx context.Context, id string, patch discussion.Patch) (*discussion.Discussion, error) {
	var out *discussion.Discussion
	err := s.write(ctx, func() (err error) {
		out, err = s.Store.UpdateDiscussion(ctx, id, patch)
		return err
	})
	return out, err
}

func (s *Store) SaveTranscript(ctx context.Context, t *discussion.Transcript) error {
	return s.write(ctx, func() error { return s.Store.SaveTranscript(ctx, t) })
}

func (s *Store) UpsertSpeaker(ctx context.Context, m *discussion.SpeakerMapping) error {
	return s.write(ctx, func() error { return s.Store.UpsertSpeaker(ctx, m) })
}

func (s *Store) ConfirmSpeaker(ctx context.Context, discussionID, label, studentName string) error {
	return s.write(ctx, func() error { return s.Store.ConfirmSpeaker(ctx, discussionID, label, studentName) })
}

func (s *Store) CreateReport(ctx context.Context, r *discussion.Report) error {
	return s.write(ctx, func() error { return s.Store.CreateReport(ctx, r) })
}

func (s *Store) UpdateReport(ctx context.Context, id string, patch discussion.ReportPatch) (*discussion.Report, error) {
	var out *discussion.Report
	err := s.write(ctx, func() (err error) {
		out, err = s.Store.UpdateReport(ctx, id, patch)
		return err
	})
	return out, err
}

func (s *Store) CreateStudent(ctx context.Context, st *roster.Student) error {
	return s.write(ctx, func() error { return s.Store.CreateStudent(ctx, st) })
}

func (s *Store) UpdateStudent(ctx context.Context, st *roster.Student) error {
	return s.write(ctx, func() error { return s.Store.UpdateStudent(ctx, st) })
}

func (s *Store) SaveSetting(ctx context.Context, key, value string) error {
	return s.write(ctx, func() error { return s.Store.SaveSetting(ctx, key, value) })
}

// SeedPrompts appends a Prompts row for every name the workbook lacks.
// Existing rows are left alone, including blank ones.
func (s *Store) SeedPrompts(ctx context.Context, prompts map[string]string) error {
	return s.write(ctx, func() error {
		have := make(map[string]bool, len(s.prompts))
		for _, p := range s.prompts {
			have[p[0]] = true
		}
		names := make([]string, 0, len(prompts))
		for name := range prompts {
			if !have[name] {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			s.prompts = append(s.prompts, [2]string{name, prompts[name]})
			s.Store.SetPrompt(name, prompts[name])
		}
		return nil
	})
}
