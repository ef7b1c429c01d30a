package httpapi

import (
	"time"

	"harkness_helper/internal/domain/discussion"
)

type discussionDTO struct {
	ID                 string    `json:"id"`
	Date               string    `json:"date"`
	Section            string    `json:"section"`
	Course             string    `json:"course"`
	AudioFileID        string    `json:"audio_file_id"`
	Status             string    `json:"status"`
	Grade              string    `json:"grade"`
	GroupFeedback      string    `json:"group_feedback"`
	Approved           bool      `json:"approved"`
	CanvasAssignmentID string    `json:"canvas_assignment_id"`
	CanvasItemType     string    `json:"canvas_item_type"`
	NextStep           string    `json:"next_step"`
	ErrorMessage       string    `json:"error_message,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func toDiscussionDTO(d *discussion.Discussion) discussionDTO {
	return discussionDTO{
		ID:                 d.ID,
		Date:               d.Date,
		Section:            d.Section,
		Course:             d.Course,
		AudioFileID:        d.AudioFileID,
		Status:             string(d.Status),
		Grade:              d.Grade,
		GroupFeedback:      d.GroupFeedback,
		Approved:           d.Approved,
		CanvasAssignmentID: d.CanvasAssignmentID,
		CanvasItemType:     d.CanvasItemType,
		NextStep:           d.NextStep,
		ErrorMessage:       d.ErrorMessage,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

type reportDTO struct {
	ID                   string `json:"id"`
	DiscussionID         string `json:"discussion_id"`
	StudentID            string `json:"student_id"`
	StudentName          string `json:"student_name"`
	Contributions        string `json:"contributions"`
	ParticipationSummary string `json:"participation_summary"`
	Grade                string `json:"grade"`
	Feedback             string `json:"feedback"`
	Approved             bool   `json:"approved"`
	Sent                 bool   `json:"sent"`
}

func toReportDTO(r *discussion.Report) reportDTO {
	return reportDTO{
		ID:                   r.ID,
		DiscussionID:         r.DiscussionID,
		StudentID:            r.StudentID,
		StudentName:          r.StudentName,
		Contributions:        r.Contributions,
		ParticipationSummary: r.ParticipationSummary,
		Grade:                r.Grade,
		Feedback:             r.Feedback,
		Approved:             r.Approved,
		Sent:                 r.Sent,
	}
}

// Request bodies. Pointer fields distinguish "absent" from "cleared".

type discussionPatchRequest struct {
	Grade              *string `json:"grade"`
	Approved           *bool   `json:"approved"`
	CanvasAssignmentID *string `json:"canvas_assignment_id"`
	CanvasItemType     *string `json:"canvas_item_type" binding:"omitempty,oneof=assignment discussion"`
	GroupFeedback      *string `json:"group_feedback"`
}

type reportPatchRequest struct {
	Grade    *string `json:"grade"`
	Approved *bool   `json:"approved"`
	Feedback *string `json:"feedback"`
}

type speakerRequest struct {
	StudentName string `json:"student_name" binding:"required"`
}

type targetRequest struct {
	DiscussionID string `json:"discussion_id"`
}
