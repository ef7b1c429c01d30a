// Package httpapi is the HTTP surface for operations and teacher review.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"harkness_helper/internal/app"
	"harkness_helper/internal/domain/discussion"
	"harkness_helper/internal/domain/provider"
)

type triggerService interface {
	Start(ctx context.Context) (app.TickOutcome, error)
	Stop(ctx context.Context) error
	RunOnce(ctx context.Context) app.TickOutcome
	Status(ctx context.Context) (app.TriggerStatus, error)
}

type pipelineService interface {
	Overview(ctx context.Context) (map[discussion.Status]int, error)
}

type feedbackService interface {
	Generate(ctx context.Context, discussionID string) (app.FeedbackSummary, error)
}

type distributionService interface {
	Send(ctx context.Context, discussionID string) (app.DistributionSummary, error)
}

type rosterService interface {
	Sync(ctx context.Context) (app.SyncSummary, error)
	ListItems(ctx context.Context, course string) ([]provider.GradeItem, error)
}

type reviewService interface {
	ListDiscussions(ctx context.Context, status string) ([]*discussion.Discussion, error)
	ConfirmSpeaker(ctx context.Context, discussionID, label, studentName string) error
	UpdateDiscussion(ctx context.Context, id string, u app.DiscussionUpdate) (*discussion.Discussion, error)
	UpdateReport(ctx context.Context, id string, u app.ReportUpdate) (*discussion.Report, error)
	Reports(ctx context.Context, discussionID string) ([]*discussion.Report, error)
}

type audioSource interface {
	OpenSigned(ctx context.Context, token string) (io.ReadCloser, provider.FileInfo, error)
}

// Handler serves every route. Nil services answer 503.
type Handler struct {
	Trigger      triggerService
	Pipeline     pipelineService
	Feedback     feedbackService
	Distribution distributionService
	Roster       rosterService
	Review       reviewService
	Audio        audioSource
	Metrics      http.Handler
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Prometheus(c *gin.Context) {
	if h.Metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.Metrics.ServeHTTP(c.Writer, c.Request)
}

// Audio streams a recording named by a signed token. The transcriber uses
// this for files above the inline upload threshold.
func (h *Handler) AudioDownload(c *gin.Context) {
	rc, info, err := h.Audio.OpenSigned(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()
	c.DataFromReader(http.StatusOK, info.Size, info.MimeType, rc, map[string]string{
		"Content-Disposition": `attachment; filename="` + info.Name + `"`,
	})
}

func (h *Handler) StartPipeline(c *gin.Context) {
	outcome, err := h.Trigger.Start(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"outcome": outcome})
}

func (h *Handler) StopPipeline(c *gin.Context) {
	if err := h.Trigger.Stop(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"stopped": true})
}

func (h *Handler) RunPipeline(c *gin.Context) {
	respond(c, http.StatusOK, gin.H{"outcome": h.Trigger.RunOnce(c.Request.Context())})
}

func (h *Handler) PipelineStatus(c *gin.Context) {
	ctx := c.Request.Context()
	st, err := h.Trigger.Status(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	counts, err := h.Pipeline.Overview(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	byStatus := make(map[string]int, len(counts))
	for s, n := range counts {
		byStatus[string(s)] = n
	}
	respond(c, http.StatusOK, gin.H{
		"running":     st.Running,
		"installed":   st.Installed,
		"started_at":  st.StartedAt,
		"expires_at":  st.ExpiresAt,
		"discussions": byStatus,
	})
}

func bindTarget(c *gin.Context) (string, bool) {
	var req targetRequest
	if c.Request.ContentLength == 0 {
		return "", true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return "", false
	}
	return req.DiscussionID, true
}

func (h *Handler) GenerateFeedback(c *gin.Context) {
	id, ok := bindTarget(c)
	if !ok {
		return
	}
	sum, err := h.Feedback.Generate(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"discussions": sum.Discussions,
		"generated":   sum.Generated,
		"failed":      sum.Failed,
		"skipped":     sum.Skipped,
	})
}

func (h *Handler) SendFeedback(c *gin.Context) {
	id, ok := bindTarget(c)
	if !ok {
		return
	}
	sum, err := h.Distribution.Send(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"discussions": sum.Discussions,
		"sent":        sum.Sent,
		"deliveries":  sum.Deliveries,
		"failures":    sum.Failures,
		"skipped":     sum.Skipped,
	})
}

func (h *Handler) SyncRoster(c *gin.Context) {
	sum, err := h.Roster.Sync(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"courses":   sum.Courses,
		"sections":  sum.Sections,
		"created":   sum.Created,
		"updated":   sum.Updated,
		"unchanged": sum.Unchanged,
	})
}

func (h *Handler) ListItems(c *gin.Context) {
	items, err := h.Roster.ListItems(c.Request.Context(), c.Param("course"))
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]gin.H, 0, len(items))
	for _, it := range items {
		out = append(out, gin.H{"id": it.ID, "name": it.Name, "item_type": it.ItemType})
	}
	respond(c, http.StatusOK, out)
}

func (h *Handler) ListDiscussions(c *gin.Context) {
	list, err := h.Review.ListDiscussions(c.Request.Context(), c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]discussionDTO, 0, len(list))
	for _, d := range list {
		out = append(out, toDiscussionDTO(d))
	}
	respond(c, http.StatusOK, out)
}

func (h *Handler) ListReports(c *gin.Context) {
	list, err := h.Review.Reports(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]reportDTO, 0, len(list))
	for _, r := range list {
		out = append(out, toReportDTO(r))
	}
	respond(c, http.StatusOK, out)
}

func (h *Handler) UpdateDiscussion(c *gin.Context) {
	var req discussionPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	d, err := h.Review.UpdateDiscussion(c.Request.Context(), c.Param("id"), app.DiscussionUpdate{
		Grade:              req.Grade,
		Approved:           req.Approved,
		CanvasAssignmentID: req.CanvasAssignmentID,
		CanvasItemType:     req.CanvasItemType,
		GroupFeedback:      req.GroupFeedback,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, toDiscussionDTO(d))
}

func (h *Handler) ConfirmSpeaker(c *gin.Context) {
	var req speakerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Review.ConfirmSpeaker(c.Request.Context(), c.Param("id"), c.Param("label"), req.StudentName); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) UpdateReport(c *gin.Context) {
	var req reportPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Grade == nil && req.Approved == nil && req.Feedback == nil {
		badRequest(c, errors.New("no fields to update"))
		return
	}
	r, err := h.Review.UpdateReport(c.Request.Context(), c.Param("id"), app.ReportUpdate{
		Grade:    req.Grade,
		Approved: req.Approved,
		Feedback: req.Feedback,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, toReportDTO(r))
}
