package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harkness_helper/internal/domain/discussion"
	"harkness_helper/internal/infra/memory"
)

func TestReviewConfirmSpeaker(t *testing.T) {
	store, c := memory.NewStore(), newClock()
	ctx := context.Background()
	require.NoError(t, store.CreateDiscussion(ctx, &discussion.Discussion{
		ID: "d1", Date: "2025-01-14", AudioFileID: "f", Status: discussion.StatusMapping, CreatedAt: c.Now(), UpdatedAt: c.Now(),
	}))
	require.NoError(t, store.UpsertSpeaker(ctx, &discussion.SpeakerMapping{DiscussionID: "d1", Label: "Speaker 0", SuggestedName: "?"}))
	svc := NewReviewService(store, testLogger())

	require.NoError(t, svc.ConfirmSpeaker(ctx, "d1", "Speaker 0", " Maria "))
	speakers, _ := store.ListSpeakers(ctx, "d1")
	require.Len(t, speakers, 1)
	assert.True(t, speakers[0].Confirmed)
	assert.Equal(t, "Maria", speakers[0].StudentName)

	require.NoError(t, store.UpsertSpeaker(ctx, &discussion.SpeakerMapping{DiscussionID: "d1", Label: "Speaker 0", SuggestedName: "Mario"}))
	speakers, _ = store.ListSpeakers(ctx, "d1")
	assert.True(t, speakers[0].Confirmed, "a re-run never clobbers a confirmation")
	assert.Equal(t, "Maria", speakers[0].ResolvedName())

	assert.ErrorIs(t, svc.ConfirmSpeaker(ctx, "d1", "Speaker 9", "X"), discussion.ErrMappingNotFound)
	assert.ErrorIs(t, svc.ConfirmSpeaker(ctx, "d1", "Speaker 0", ""), ErrInvalidUpdate)
	assert.ErrorIs(t, svc.ConfirmSpeaker(ctx, "nope", "Speaker 0", "X"), discussion.ErrNotFound)
}

func TestReviewUpdateDiscussionGateFields(t *testing.T) {
	store, c := memory.NewStore(), newClock()
	ctx := context.Background()
	require.NoError(t, store.CreateDiscussion(ctx, &discussion.Discussion{
		ID: "d1", Date: "2025-01-14", AudioFileID: "f", Status: discussion.StatusReview, CreatedAt: c.Now(), UpdatedAt: c.Now(),
	}))
	svc := NewReviewService(store, testLogger())

	d, err := svc.UpdateDiscussion(ctx, "d1", DiscussionUpdate{Grade: discussion.Ptr(" 85 "), Approved: discussion.Ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, "85", d.Grade)
	assert.True(t, d.Approved)
	assert.Equal(t, discussion.StatusReview, d.Status)

	_, err = svc.UpdateDiscussion(ctx, "d1", DiscussionUpdate{CanvasItemType: discussion.Ptr("quiz")})
	assert.ErrorIs(t, err, ErrInvalidUpdate)

	_, err = store.UpdateDiscussion(ctx, "d1", discussion.Patch{Status: discussion.Ptr(discussion.StatusSent)})
	require.NoError(t, err)
	_, err = svc.UpdateDiscussion(ctx, "d1", DiscussionUpdate{Grade: discussion.Ptr("90")})
	assert.ErrorIs(t, err, ErrDiscussionLocked)
}

func TestReviewUpdateReport(t *testing.T) {
	store, c := memory.NewStore(), newClock()
	ctx := context.Background()
	require.NoError(t, store.CreateReport(ctx, &discussion.Report{ID: "r1", DiscussionID: "d1", StudentID: "s1", StudentName: "Maria", CreatedAt: c.Now()}))
	svc := NewReviewService(store, testLogger())

	r, err := svc.UpdateReport(ctx, "r1", ReportUpdate{Grade: discussion.Ptr("A"), Approved: discussion.Ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, "A", r.Grade)
	assert.True(t, r.Approved)

	_, err = store.UpdateReport(ctx, "r1", discussion.ReportPatch{Sent: discussion.Ptr(true)})
	require.NoError(t, err)
	_, err = svc.UpdateReport(ctx, "r1", ReportUpdate{Grade: discussion.Ptr("B")})
	assert.ErrorIs(t, err, ErrInvalidUpdate)
}

func TestReviewListDiscussionsFilter(t *testing.T) {
	store, c := memory.NewStore(), newClock()
	ctx := context.Background()
	for id, st := range map[string]discussion.Status{"a": discussion.StatusReview, "b": discussion.StatusError} {
		require.NoError(t, store.CreateDiscussion(ctx, &discussion.Discussion{ID: id, Date: "2025-01-14", AudioFileID: id, Status: st, CreatedAt: c.Now()}))
	}
	svc := NewReviewService(store, testLogger())

	list, err := svc.ListDiscussions(ctx, "error")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].ID)

	all, err := svc.ListDiscussions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = svc.ListDiscussions(ctx, "bogus")
	assert.ErrorIs(t, err, ErrInvalidUpdate)
}

func TestAdminGate(t *testing.T) {
	g := NewAdminGate(42)
	assert.NoError(t, g.Check(42))
	assert.ErrorIs(t, g.Check(7), ErrNotAuthorized)
	assert.ErrorIs(t, NewAdminGate(0).Check(0), ErrNotAuthorized)
}
