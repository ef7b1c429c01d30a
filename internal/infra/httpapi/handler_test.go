package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harkness_helper/internal/app"
	"harkness_helper/internal/domain/discussion"
	"harkness_helper/internal/domain/provider"
	"harkness_helper/internal/infra/storage"
)

type triggerStub struct{ started int }

func (t *triggerStub) Start(context.Context) (app.TickOutcome, error) {
	t.started++
	return app.TickRan, nil
}
func (t *triggerStub) Stop(context.Context) error               { return nil }
func (t *triggerStub) RunOnce(context.Context) app.TickOutcome { return app.TickRan }
func (t *triggerStub) Status(context.Context) (app.TriggerStatus, error) {
	return app.TriggerStatus{Running: true, Installed: true}, nil
}

type pipelineStub struct{}

func (pipelineStub) Overview(context.Context) (map[discussion.Status]int, error) {
	return map[discussion.Status]int{discussion.StatusReview: 2}, nil
}

type feedbackStub struct{ gotID string }

func (f *feedbackStub) Generate(_ context.Context, id string) (app.FeedbackSummary, error) {
	f.gotID = id
	return app.FeedbackSummary{Discussions: 1, Generated: 1}, nil
}

type distributionStub struct{}

func (distributionStub) Send(context.Context, string) (app.DistributionSummary, error) {
	return app.DistributionSummary{}, app.ErrNoChannelEnabled
}

type rosterStub struct{}

func (rosterStub) Sync(context.Context) (app.SyncSummary, error) {
	return app.SyncSummary{Courses: 1, Created: 4}, nil
}

func (rosterStub) ListItems(_ context.Context, course string) ([]provider.GradeItem, error) {
	if course == "unknown" {
		return nil, app.ErrCourseUnavailable
	}
	return []provider.GradeItem{{ID: "900", Name: "Harkness 1", ItemType: "discussion"}}, nil
}

type reviewStub struct {
	update    app.DiscussionUpdate
	confirmed [3]string
}

func (r *reviewStub) ListDiscussions(_ context.Context, status string) ([]*discussion.Discussion, error) {
	if status == "bogus" {
		return nil, app.ErrInvalidUpdate
	}
	return []*discussion.Discussion{{ID: "d1", Date: "2025-01-14", Status: discussion.StatusReview}}, nil
}

func (r *reviewStub) ConfirmSpeaker(_ context.Context, id, label, name string) error {
	r.confirmed = [3]string{id, label, name}
	return nil
}

func (r *reviewStub) UpdateDiscussion(_ context.Context, id string, u app.DiscussionUpdate) (*discussion.Discussion, error) {
	if id == "sent" {
		return nil, app.ErrDiscussionLocked
	}
	r.update = u
	return &discussion.Discussion{ID: id, Grade: *u.Grade, Status: discussion.StatusReview}, nil
}

func (r *reviewStub) UpdateReport(_ context.Context, id string, _ app.ReportUpdate) (*discussion.Report, error) {
	return nil, discussion.ErrReportNotFound
}

func (r *reviewStub) Reports(context.Context, string) ([]*discussion.Report, error) {
	return []*discussion.Report{{ID: "r1", StudentName: "Maria"}}, nil
}

type audioStub struct{}

func (audioStub) OpenSigned(_ context.Context, token string) (io.ReadCloser, provider.FileInfo, error) {
	if token != "good" {
		return nil, provider.FileInfo{}, storage.ErrTokenExpired
	}
	return io.NopCloser(strings.NewReader("mp3data")), provider.FileInfo{Name: "a.mp3", MimeType: "audio/mpeg", Size: 7}, nil
}

func newTestRouter() (*gin.Engine, *Handler) {
	gin.SetMode(gin.TestMode)
	l, _ := test.NewNullLogger()
	h := &Handler{
		Trigger:      &triggerStub{},
		Pipeline:     pipelineStub{},
		Feedback:     &feedbackStub{},
		Distribution: distributionStub{},
		Roster:       rosterStub{},
		Review:       &reviewStub{},
		Audio:        audioStub{},
		Metrics:      http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
	}
	return NewRouter(h, logrus.NewEntry(l)), h
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	var env map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestHealthAndMetrics(t *testing.T) {
	r, _ := newTestRouter()

	w := do(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	w = do(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, "# metrics", w.Body.String())
}

func TestAudioDownload(t *testing.T) {
	r, _ := newTestRouter()

	w := do(r, http.MethodGet, "/audio/good", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/mpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "mp3data", w.Body.String())

	w = do(r, http.MethodGet, "/audio/stale", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPipelineActions(t *testing.T) {
	r, h := newTestRouter()

	w := do(r, http.MethodPost, "/api/pipeline/start", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ran", decode(t, w)["data"].(map[string]interface{})["outcome"])
	assert.Equal(t, 1, h.Trigger.(*triggerStub).started)

	w = do(r, http.MethodGet, "/api/pipeline", "")
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, true, data["running"])
	assert.Equal(t, float64(2), data["discussions"].(map[string]interface{})["review"])
}

func TestFeedbackAndDistribution(t *testing.T) {
	r, h := newTestRouter()

	w := do(r, http.MethodPost, "/api/feedback/generate", `{"discussion_id":"d1"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "d1", h.Feedback.(*feedbackStub).gotID)

	w = do(r, http.MethodPost, "/api/feedback/generate", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, h.Feedback.(*feedbackStub).gotID)

	w = do(r, http.MethodPost, "/api/distribution/send", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "not_configured", decode(t, w)["error"].(map[string]interface{})["code"])
}

func TestRosterRoutes(t *testing.T) {
	r, _ := newTestRouter()

	w := do(r, http.MethodPost, "/api/roster/sync", "")
	assert.Equal(t, float64(4), decode(t, w)["data"].(map[string]interface{})["created"])

	w = do(r, http.MethodGet, "/api/courses/Biology/items", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"900"`)

	w = do(r, http.MethodGet, "/api/courses/unknown/items", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestReviewRoutes(t *testing.T) {
	r, h := newTestRouter()
	review := h.Review.(*reviewStub)

	w := do(r, http.MethodGet, "/api/discussions?status=review", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"d1"`)

	w = do(r, http.MethodGet, "/api/discussions?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPatch, "/api/discussions/d1", `{"grade":"B+","approved":true}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "B+", *review.update.Grade)
	assert.True(t, *review.update.Approved)
	assert.Nil(t, review.update.GroupFeedback)

	w = do(r, http.MethodPatch, "/api/discussions/d1", `{"canvas_item_type":"quiz"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPatch, "/api/discussions/sent", `{"grade":"A"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodPut, "/api/discussions/d1/speakers/Speaker%200", `{"student_name":"Maria"}`)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, [3]string{"d1", "Speaker 0", "Maria"}, review.confirmed)

	w = do(r, http.MethodPut, "/api/discussions/d1/speakers/Speaker%200", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPatch, "/api/reports/r9", `{"grade":"A"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPatch, "/api/reports/r9", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/discussions/d1/reports", "")
	assert.Contains(t, w.Body.String(), `"student_name":"Maria"`)
}

func TestMissingServicesAnswerUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := test.NewNullLogger()
	r := NewRouter(&Handler{}, logrus.NewEntry(l))

	w := do(r, http.MethodPost, "/api/pipeline/run", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w = do(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
