package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harkness_helper/internal/domain/discussion"
	"harkness_helper/internal/domain/roster"
	"harkness_helper/internal/domain/settings"
	"harkness_helper/internal/infra/memory"
)

const namedSample = `[Maria] [00:01] Hi, I'm Maria.
[James] [00:04] I'm James.
[Teacher] [00:08] Begin.
[Maria] [01:00] The narrator hides the truth.`

// seedReviewed stores a discussion in status with a transcript and two
// confirmed student speakers plus the teacher.
func seedReviewed(t *testing.T, store *memory.Store, id string, status discussion.Status, now time.Time) *discussion.Discussion {
	t.Helper()
	ctx := context.Background()
	d := &discussion.Discussion{
		ID: id, Date: "2025-01-14", Section: "Period 2", AudioFileID: "processing/" + id,
		Status: status, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateDiscussion(ctx, d))
	require.NoError(t, store.SaveTranscript(ctx, &discussion.Transcript{
		DiscussionID: id,
		Raw:          strings.NewReplacer("[Maria]", "[Speaker 0]", "[James]", "[Speaker 1]", "[Teacher]", "[Speaker 2]").Replace(namedSample),
		Named:        namedSample,
	}))
	for label, name := range map[string]string{"Speaker 0": "Maria", "Speaker 1": "James", "Speaker 2": "Teacher"} {
		require.NoError(t, store.UpsertSpeaker(ctx, &discussion.SpeakerMapping{DiscussionID: id, Label: label, SuggestedName: name}))
		require.NoError(t, store.ConfirmSpeaker(ctx, id, label, name))
	}
	return d
}

func seedRoster(t *testing.T, store *memory.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateStudent(ctx, &roster.Student{ID: "s-maria", Name: "Maria", Section: "Period 2", Email: "maria@school.org", CanvasUserID: "101"}))
	require.NoError(t, store.CreateStudent(ctx, &roster.Student{ID: "s-james", Name: "James", Section: "Period 2", Email: "james@school.org", CanvasUserID: "102"}))
}

func newFeedbackService(store *memory.Store, gen *fakeGenerator, c *clock, sleeps *[]time.Duration) *FeedbackService {
	return NewFeedbackService(store, gen, fakePrompts{}, 2*time.Second, time.Minute, testLogger(),
		WithClock(c.Now),
		WithSleep(func(d time.Duration) { *sleeps = append(*sleeps, d) }),
	)
}

func TestGroupFeedbackNeedsGrade(t *testing.T) {
	store, c := memory.NewStore(), newClock()
	ctx := context.Background()
	seedReviewed(t, store, "d1", discussion.StatusReview, c.Now())
	gen := &fakeGenerator{}
	var sleeps []time.Duration

	sum, err := newFeedbackService(store, gen, c, &sleeps).Generate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Zero(t, gen.count())

	d, _ := store.GetDiscussion(ctx, "d1")
	assert.Equal(t, discussion.StatusReview, d.Status)
	assert.Equal(t, "Enter a grade, then generate feedback", d.NextStep)
	assert.Empty(t, d.ErrorMessage)
}

func TestGroupFeedbackGenerated(t *testing.T) {
	store, c := memory.NewStore(), newClock()
	ctx := context.Background()
	seedReviewed(t, store, "d1", discussion.StatusReview, c.Now())
	_, err := store.UpdateDiscussion(ctx, "d1", discussion.Patch{Grade: discussion.Ptr("85")})
	require.NoError(t, err)
	gen := &fakeGenerator{answer: func(string) (string, error) { return "Strong discussion, 85.", nil }}
	var sleeps []time.Duration
	svc := newFeedbackService(store, gen, c, &sleeps)

	sum, err := svc.Generate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Generated)
	require.Equal(t, 1, gen.count())
	assert.Contains(t, gen.prompts[0], settings.PromptGroupFeedback)
	assert.Contains(t, gen.prompts[0], "grade=85")
	assert.Contains(t, gen.prompts[0], "[Maria] [01:00]")

	d, _ := store.GetDiscussion(ctx, "d1")
	assert.Equal(t, "Strong discussion, 85.", d.GroupFeedback)
	assert.Equal(t, discussion.StatusReview, d.Status)

	_, err = svc.Generate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, gen.count(), "existing group feedback is kept")
}

func TestGroupFeedbackFailureMovesToError(t *testing.T) {
	store, c := memory.NewStore(), newClock()
	ctx := context.Background()
	seedReviewed(t, store, "d1", discussion.StatusReview, c.Now())
	seedReviewed(t, store, "d2", discussion.StatusReview, c.Now().Add(time.Second))
	for _, id := range []string{"d1", "d2"} {
		_, err := store.UpdateDiscussion(ctx, id, discussion.Patch{Grade: discussion.Ptr("90")})
		require.NoError(t, err)
	}
	calls := 0
	gen := &fakeGenerator{answer: func(string) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("quota exceeded")
		}
		return "ok", nil
	}}
	var sleeps []time.Duration

	sum, err := newFeedbackService(store, gen, c, &sleeps).Generate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Generated)

	d1, _ := store.GetDiscussion(ctx, "d1")
	assert.Equal(t, discussion.StatusError, d1.Status)
	assert.Contains(t, d1.ErrorMessage, "quota exceeded")
	d2, _ := store.GetDiscussion(ctx, "d2")
	assert.Equal(t, "ok", d2.GroupFeedback)
}

func TestTargetedErrorDiscussionReentersReview(t *testing.T) {
	store, c := memory.NewStore(), newClock()
	ctx := context.Background()
	seedReviewed(t, store, "d1", discussion.StatusError, c.Now())
	_, err := store.UpdateDiscussion(ctx, "d1", discussion.Patch{Grade: discussion.Ptr("7/10")})
	require.NoError(t, err)
	var sleeps []time.Duration
	svc := newFeedbackService(store, &fakeGenerator{}, c, &sleeps)

	sum, err := svc.Generate(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, sum.Discussions, "error discussions are not picked up without a target")

	_, err = svc.Generate(ctx, "d1")
	require.NoError(t, err)
	d, _ := store.GetDiscussion(ctx, "d1")
	assert.Equal(t, discussion.StatusReview, d.Status)
	assert.Equal(t, "generated", d.GroupFeedback)
}

func TestTargetedDiscussionWithoutTranscriptIsRejected(t *testing.T) {
	store, c := memory.NewStore(), newClock()
	ctx := context.Background()
	require.NoError(t, store.CreateDiscussion(ctx, &discussion.Discussion{
		ID: "d1", Date: "2025-01-14", AudioFileID: "f", Status: discussion.StatusError, CreatedAt: c.Now(), UpdatedAt: c.Now(),
	}))
	var sleeps []time.Duration

	_, err := newFeedbackService(store, &fakeGenerator{}, c, &sleeps).Generate(ctx, "d1")
	assert.ErrorIs(t, err, ErrNotGeneratable)
}

func TestIndividualFeedbackOnlyForGradedStudents(t *testing.T) {
	store, c := memory.NewStore(), newClock()
	ctx := context.Background()
	require.NoError(t, store.SaveSetting(ctx, settings.KeyMode, "individual"))
	seedRoster(t, store)
	seedReviewed(t, store, "d1", discussion.StatusReview, c.Now())
	gen := &fakeGenerator{}
	var sleeps []time.Duration
	svc := newFeedbackService(store, gen, c, &sleeps)

	sum, err := svc.Generate(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, sum.Generated)

	reports, err := store.ListReports(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, reports, 2, "reports are created lazily")

	var maria *discussion.Report
	for _, r := range reports {
		if r.StudentName == "Maria" {
			maria = r
		}
	}
	require.NotNil(t, maria)
	_, err = store.UpdateReport(ctx, maria.ID, discussion.ReportPatch{Grade: discussion.Ptr("92")})
	require.NoError(t, err)

	sum, err = svc.Generate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Generated)
	require.Equal(t, 1, gen.count())
	assert.Contains(t, gen.prompts[0], "student_name=Maria")
	assert.Contains(t, gen.prompts[0], "contributions=[Maria] [00:01] Hi, I'm Maria.\n[Maria] [01:00] The narrator hides the truth.")

	d, _ := store.GetDiscussion(ctx, "d1")
	assert.Equal(t, discussion.StatusReview, d.Status)
	assert.Equal(t, "Enter grades for 1 student(s), then generate feedback again", d.NextStep)

	reports, _ = store.ListReports(ctx, "d1")
	for _, r := range reports {
		if r.StudentName == "Maria" {
			assert.Equal(t, "generated", r.Feedback)
		} else {
			assert.Empty(t, r.Feedback)
		}
	}
}

func TestIndividualFeedbackIsolatesFailuresAndThrottles(t *testing.T) {
	store, c := memory.NewStore(), newClock()
	ctx := context.Background()
	require.NoError(t, store.SaveSetting(ctx, settings.KeyMode, "individual"))
	seedRoster(t, store)
	seedReviewed(t, store, "d1", discussion.StatusReview, c.Now())

	fail := true
	gen := &fakeGenerator{answer: func(prompt string) (string, error) {
		if strings.Contains(prompt, "student_name=James") && fail {
			return "", errors.New("rate limited")
		}
		return "fine work", nil
	}}
	var sleeps []time.Duration
	svc := newFeedbackService(store, gen, c, &sleeps)

	_, err := svc.Generate(ctx, "")
	require.NoError(t, err)
	reports, _ := store.ListReports(ctx, "d1")
	for _, r := range reports {
		_, err := store.UpdateReport(ctx, r.ID, discussion.ReportPatch{Grade: discussion.Ptr("88")})
		require.NoError(t, err)
	}

	sum, err := svc.Generate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Generated)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, []time.Duration{2 * time.Second}, sleeps)

	d, _ := store.GetDiscussion(ctx, "d1")
	assert.Equal(t, discussion.StatusReview, d.Status)
	assert.Equal(t, "Review and approve student reports, then send", d.NextStep)

	reports, _ = store.ListReports(ctx, "d1")
	byName := map[string]*discussion.Report{}
	for _, r := range reports {
		byName[r.StudentName] = r
	}
	assert.True(t, strings.HasPrefix(byName["James"].Feedback, discussion.FeedbackErrorPrefix))
	assert.Equal(t, "fine work", byName["Maria"].Feedback)

	fail = false
	before := gen.count()
	_, err = svc.Generate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, before+1, gen.count(), "only the failed report is regenerated")
	james, _ := store.GetReport(ctx, byName["James"].ID)
	assert.Equal(t, "fine work", james.Feedback)
}

func TestIndividualFeedbackWaitsForConfirmation(t *testing.T) {
	store, c := memory.NewStore(), newClock()
	ctx := context.Background()
	require.NoError(t, store.SaveSetting(ctx, settings.KeyMode, "individual"))
	require.NoError(t, store.CreateDiscussion(ctx, &discussion.Discussion{
		ID: "d1", Date: "2025-01-14", AudioFileID: "f", Status: discussion.StatusMapping, CreatedAt: c.Now(), UpdatedAt: c.Now(),
	}))
	require.NoError(t, store.UpsertSpeaker(ctx, &discussion.SpeakerMapping{DiscussionID: "d1", Label: "Speaker 0", SuggestedName: "Maria"}))
	var sleeps []time.Duration

	sum, err := newFeedbackService(store, &fakeGenerator{}, c, &sleeps).Generate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	d, _ := store.GetDiscussion(ctx, "d1")
	assert.Equal(t, discussion.StatusMapping, d.Status)
	assert.Equal(t, "Confirm speaker names before generating feedback", d.NextStep)
}
