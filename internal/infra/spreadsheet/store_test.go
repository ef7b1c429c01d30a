package spreadsheet

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"harkness_helper/internal/domain/discussion"
	"harkness_helper/internal/domain/roster"
	"harkness_helper/internal/domain/settings"
)

func nullLogger() *logrus.Entry {
	l, _ := test.NewNullLogger()
	return logrus.NewEntry(l)
}

func TestOpenCreatesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harkness.xlsx")
	ctx := context.Background()

	s, err := Open(ctx, path, nullLogger())
	require.NoError(t, err)
	cfg, err := settings.Load(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, discussion.ModeGroup, cfg.Mode)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, tabOrder, f.GetSheetList())
	rows, err := f.GetRows(tabSettings)
	require.NoError(t, err)
	assert.Equal(t, []string{"setting_key", "setting_value"}, rows[0])
	assert.Equal(t, []string{"mode", "group"}, rows[1])
}

func TestRecordsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harkness.xlsx")
	ctx := context.Background()
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	s, err := Open(ctx, path, nullLogger())
	require.NoError(t, err)
	require.NoError(t, s.SaveSetting(ctx, settings.KeyMode, "individual"))
	require.NoError(t, s.CreateStudent(ctx, &roster.Student{ID: "s1", Name: "Maria", Email: "maria@school.org", Section: "Period 2"}))
	require.NoError(t, s.CreateDiscussion(ctx, &discussion.Discussion{
		ID: "d1", Date: "2025-01-14", Section: "Period 2", AudioFileID: "f1",
		Status: discussion.StatusUploaded, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, s.SaveTranscript(ctx, &discussion.Transcript{
		DiscussionID: "d1", Raw: "[Speaker 0] [00:01] Hi, I'm Maria", SpeakerMap: map[string]string{"Speaker 0": "Maria"},
	}))
	require.NoError(t, s.UpsertSpeaker(ctx, &discussion.SpeakerMapping{DiscussionID: "d1", Label: "Speaker 0", SuggestedName: "Maria"}))
	require.NoError(t, s.ConfirmSpeaker(ctx, "d1", "Speaker 0", "Maria"))
	require.NoError(t, s.CreateReport(ctx, &discussion.Report{ID: "r1", DiscussionID: "d1", StudentID: "s1", StudentName: "Maria"}))
	_, err = s.UpdateReport(ctx, "r1", discussion.ReportPatch{Grade: discussion.Ptr("A"), EmailSent: discussion.Ptr(true)})
	require.NoError(t, err)
	_, err = s.UpdateDiscussion(ctx, "d1", discussion.Patch{
		Status: discussion.Ptr(discussion.StatusTranscribing), AppendError: "[2025-01-15 10:00:00] first",
		MarkDelivered: []string{"email:s1", "canvas:s1"},
	})
	require.NoError(t, err)

	reopened, err := Open(ctx, path, nullLogger())
	require.NoError(t, err)

	cfg, _ := settings.Load(ctx, reopened)
	assert.Equal(t, discussion.ModeIndividual, cfg.Mode)

	d, err := reopened.GetDiscussion(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, discussion.StatusTranscribing, d.Status)
	assert.Equal(t, "[2025-01-15 10:00:00] first", d.ErrorMessage)
	assert.Equal(t, now, d.CreatedAt)
	assert.Equal(t, []string{"email:s1", "canvas:s1"}, d.Delivered)

	tr, err := reopened.GetTranscript(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Maria", tr.SpeakerMap["Speaker 0"])

	speakers, _ := reopened.ListSpeakers(ctx, "d1")
	require.Len(t, speakers, 1)
	assert.True(t, speakers[0].Confirmed)

	r, err := reopened.GetReport(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "A", r.Grade)
	assert.True(t, r.EmailSent)

	st, err := reopened.FindStudent(ctx, roster.NewKey("maria", "period 2", ""))
	require.NoError(t, err)
	assert.Equal(t, "maria@school.org", st.Email)
}

func TestHandEditedWorkbookIsRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harkness.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", tabStudents))
	require.NoError(t, f.SetSheetRow(tabStudents, "A1", &[]interface{}{"email", "name", "section"}))
	require.NoError(t, f.SetSheetRow(tabStudents, "A2", &[]interface{}{"ana@school.org", "Ana", "Block C"}))
	_, err := f.NewSheet(tabPrompts)
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow(tabPrompts, "A1", &[]interface{}{"prompt_name", "prompt_text"}))
	require.NoError(t, f.SetSheetRow(tabPrompts, "A2", &[]interface{}{"GROUP_FEEDBACK", "Custom {grade}"}))
	_, err = f.NewSheet(tabCourses)
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow(tabCourses, "A1", &[]interface{}{"course_name", "canvas_course_id"}))
	require.NoError(t, f.SetSheetRow(tabCourses, "A2", &[]interface{}{"Biology", "123"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	ctx := context.Background()
	s, err := Open(ctx, path, nullLogger())
	require.NoError(t, err)

	students, err := s.ListStudents(ctx)
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, "Ana", students[0].Name)
	assert.NotEmpty(t, students[0].ID, "missing student ids are generated")

	text, err := s.GetPrompt(ctx, settings.PromptGroupFeedback)
	require.NoError(t, err)
	assert.Equal(t, "Custom {grade}", text)

	courses, _ := s.ListCourses(ctx)
	require.Len(t, courses, 1)
	assert.Equal(t, "123", courses[0].CanvasCourseID)
}

func TestUpdateRejectsChangedStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harkness.xlsx")
	ctx := context.Background()
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	s, err := Open(ctx, path, nullLogger())
	require.NoError(t, err)
	require.NoError(t, s.CreateDiscussion(ctx, &discussion.Discussion{
		ID: "d1", Date: "2025-01-14", AudioFileID: "f1", Status: discussion.StatusMapping, CreatedAt: now, UpdatedAt: now,
	}))

	_, err = s.UpdateDiscussion(ctx, "d1", discussion.Patch{
		From: discussion.Ptr(discussion.StatusUploaded), Status: discussion.Ptr(discussion.StatusTranscribing),
	})
	assert.ErrorIs(t, err, discussion.ErrStatusChanged)

	reopened, err := Open(ctx, path, nullLogger())
	require.NoError(t, err)
	d, err := reopened.GetDiscussion(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, discussion.StatusMapping, d.Status)
}

func TestSeedPromptsAddsMissingOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harkness.xlsx")
	ctx := context.Background()
	s, err := Open(ctx, path, nullLogger())
	require.NoError(t, err)

	require.NoError(t, s.SeedPrompts(ctx, map[string]string{settings.PromptGroupFeedback: "Default {grade}"}))
	require.NoError(t, s.SeedPrompts(ctx, map[string]string{settings.PromptGroupFeedback: "Changed"}))

	reopened, err := Open(ctx, path, nullLogger())
	require.NoError(t, err)
	text, err := reopened.GetPrompt(ctx, settings.PromptGroupFeedback)
	require.NoError(t, err)
	assert.Equal(t, "Default {grade}", text)
}
