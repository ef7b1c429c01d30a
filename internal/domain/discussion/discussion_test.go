package discussion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	next, err := StatusUploaded.Transition(StatusTranscribing)
	require.NoError(t, err)
	assert.Equal(t, StatusTranscribing, next)

	_, err = StatusSent.Transition(StatusReview)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = StatusMapping.Transition(StatusSent)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	assert.True(t, StatusError.CanTransition(StatusReview))
	assert.False(t, StatusError.CanTransition(StatusMapping))

	for _, s := range AllStatuses {
		if s == StatusSent || s == StatusError {
			continue
		}
		assert.True(t, s.CanTransition(StatusError), "error must be reachable from %s", s)
	}
}

func TestParseStatusAndMode(t *testing.T) {
	s, err := ParseStatus(" Review ")
	require.NoError(t, err)
	assert.Equal(t, StatusReview, s)

	_, err = ParseStatus("done")
	assert.Error(t, err)

	m, err := ParseMode("INDIVIDUAL")
	require.NoError(t, err)
	assert.Equal(t, ModeIndividual, m)

	_, err = ParseMode("pairs")
	assert.Error(t, err)
}

func TestPatchAppendsErrors(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	d := &Discussion{ID: "d1", Status: StatusReview, ErrorMessage: "[2025-01-01 00:00:00] first"}

	Patch{
		Status:      Ptr(StatusError),
		AppendError: ErrorEntry(now, "second"),
		NextStep:    Ptr("retry"),
	}.Apply(d, now)

	assert.Equal(t, StatusError, d.Status)
	assert.Equal(t, "[2025-01-01 00:00:00] first\n[2025-01-02 03:04:05] second", d.ErrorMessage)
	assert.Equal(t, "retry", d.NextStep)
	assert.Equal(t, now, d.UpdatedAt)
	assert.Equal(t, "d1", d.ID)
}

func TestDiscussionValidate(t *testing.T) {
	d := &Discussion{ID: "d1", Date: "2025-01-15", AudioFileID: "f1", Status: StatusUploaded}
	require.NoError(t, d.Validate())

	d.Date = "15/01/2025"
	assert.Error(t, d.Validate())

	d.Date = "2025-01-15"
	d.CanvasItemType = "quiz"
	assert.Error(t, d.Validate())
}

func TestSpeakerHelpers(t *testing.T) {
	ms := []*SpeakerMapping{
		{DiscussionID: "d", Label: "Speaker 0", SuggestedName: "Maria", Confirmed: true},
		{DiscussionID: "d", Label: "Speaker 1", SuggestedName: "?", StudentName: "James"},
		{DiscussionID: "d", Label: "Speaker 2"},
	}
	assert.False(t, AllConfirmed(ms))
	assert.False(t, AllConfirmed(nil))
	assert.Equal(t, map[string]string{"Speaker 0": "Maria", "Speaker 1": "James"}, NameMap(ms))

	raw, err := EncodeSpeakerMap(NameMap(ms))
	require.NoError(t, err)
	back, err := DecodeSpeakerMap(raw)
	require.NoError(t, err)
	assert.Equal(t, NameMap(ms), back)
}

func TestReportNeedsFeedback(t *testing.T) {
	r := &Report{}
	assert.False(t, r.NeedsFeedback())

	r.Grade = "90"
	assert.True(t, r.NeedsFeedback())

	r.Feedback = FeedbackErrorPrefix + "quota exceeded"
	assert.True(t, r.NeedsFeedback())
	assert.True(t, r.FeedbackFailed())

	r.Feedback = "Great work."
	assert.False(t, r.NeedsFeedback())
}

func TestPatchCheckExpectedStatus(t *testing.T) {
	d := &Discussion{ID: "d1", Status: StatusTranscribing}
	assert.NoError(t, Patch{}.Check(d))
	assert.NoError(t, Patch{From: Ptr(StatusTranscribing)}.Check(d))
	assert.ErrorIs(t, Patch{From: Ptr(StatusUploaded)}.Check(d), ErrStatusChanged)
}

func TestPatchMarksDeliveriesOnce(t *testing.T) {
	d := &Discussion{Delivered: []string{"email:s1"}}
	before := d.Delivered
	Patch{MarkDelivered: []string{DeliveryKey("email", "s1"), DeliveryKey("canvas", "s1")}}.Apply(d, time.Now())

	assert.Equal(t, []string{"email:s1", "canvas:s1"}, d.Delivered)
	assert.Equal(t, []string{"email:s1"}, before)
	assert.True(t, d.DeliveredTo("canvas", "s1"))
	assert.False(t, d.DeliveredTo("canvas", "s2"))
}
