// internal/infra/database/postgres_discussion_repository.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"harkness_helper/internal/domain/discussion"
)

type PostgresDiscussionRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresDiscussionRepository(db *sql.DB) *PostgresDiscussionRepository {
	return &PostgresDiscussionRepository{db: db, now: time.Now}
}

const discussionColumns = `id, discussion_date, section, course, audio_file_id, status, grade, group_feedback,
       approved, canvas_assignment_id, canvas_item_type, next_step, error_message, email_sent, grades_posted,
       delivered, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDiscussion(row scanner) (*discussion.Discussion, error) {
	d := &discussion.Discussion{}
	err := row.Scan(&d.ID, &d.Date, &d.Section, &d.Course, &d.AudioFileID, &d.Status, &d.Grade, &d.GroupFeedback,
		&d.Approved, &d.CanvasAssignmentID, &d.CanvasItemType, &d.NextStep, &d.ErrorMessage, &d.EmailSent, &d.GradesPosted,
		pq.Array(&d.Delivered), &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// deliveredArray never yields NULL for the NOT NULL column.
func deliveredArray(d *discussion.Discussion) any {
	if d.Delivered == nil {
		return pq.Array([]string{})
	}
	return pq.Array(d.Delivered)
}

// --- Discussion Methods ---

func (r *PostgresDiscussionRepository) CreateDiscussion(ctx context.Context, d *discussion.Discussion) error {
	if err := d.Validate(); err != nil {
		return err
	}
	query := `INSERT INTO discussions (` + discussionColumns + `)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	_, err := r.db.ExecContext(ctx, query, d.ID, d.Date, d.Section, d.Course, d.AudioFileID, d.Status, d.Grade, d.GroupFeedback,
		d.Approved, d.CanvasAssignmentID, d.CanvasItemType, d.NextStep, d.ErrorMessage, d.EmailSent, d.GradesPosted,
		deliveredArray(d), d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating discussion: %w", err)
	}
	return nil
}

func (r *PostgresDiscussionRepository) GetDiscussion(ctx context.Context, id string) (*discussion.Discussion, error) {
	query := `SELECT ` + discussionColumns + ` FROM discussions WHERE id = $1`
	d, err := scanDiscussion(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, discussion.ErrNotFound
		}
		return nil, fmt.Errorf("error getting discussion by ID: %w", err)
	}
	return d, nil
}

func (r *PostgresDiscussionRepository) ListDiscussions(ctx context.Context) ([]*discussion.Discussion, error) {
	query := `SELECT ` + discussionColumns + ` FROM discussions ORDER BY created_at, id`
	return r.queryDiscussions(ctx, query)
}

func (r *PostgresDiscussionRepository) ListDiscussionsByStatus(ctx context.Context, statuses ...discussion.Status) ([]*discussion.Discussion, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	query := `SELECT ` + discussionColumns + ` FROM discussions WHERE status = ANY($1) ORDER BY created_at, id`
	return r.queryDiscussions(ctx, query, pq.Array(names))
}

func (r *PostgresDiscussionRepository) queryDiscussions(ctx context.Context, query string, args ...any) ([]*discussion.Discussion, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing discussions: %w", err)
	}
	defer rows.Close()

	out := make([]*discussion.Discussion, 0)
	for rows.Next() {
		d, err := scanDiscussion(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning discussion: %w", err)
		}
		out = append(out, d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating discussions: %w", err)
	}
	return out, nil
}

// UpdateDiscussion applies the patch under a row lock. The status
// precondition of the patch is checked against the locked row.
func (r *PostgresDiscussionRepository) UpdateDiscussion(ctx context.Context, id string, patch discussion.Patch) (*discussion.Discussion, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	d, err := scanDiscussion(tx.QueryRowContext(ctx, `SELECT `+discussionColumns+` FROM discussions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, discussion.ErrNotFound
		}
		return nil, fmt.Errorf("error locking discussion: %w", err)
	}
	if err := patch.Check(d); err != nil {
		return nil, err
	}
	patch.Apply(d, r.now())
	if err := d.Validate(); err != nil {
		return nil, err
	}

	query := `UPDATE discussions
              SET status = $1, next_step = $2, error_message = $3, grade = $4, group_feedback = $5, approved = $6,
                  canvas_assignment_id = $7, canvas_item_type = $8, email_sent = $9, grades_posted = $10,
                  delivered = $11, updated_at = $12
              WHERE id = $13`
	if _, err := tx.ExecContext(ctx, query, d.Status, d.NextStep, d.ErrorMessage, d.Grade, d.GroupFeedback, d.Approved,
		d.CanvasAssignmentID, d.CanvasItemType, d.EmailSent, d.GradesPosted, deliveredArray(d), d.UpdatedAt, d.ID); err != nil {
		return nil, fmt.Errorf("error updating discussion: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing discussion update: %w", err)
	}
	return d, nil
}

// --- Transcript Methods ---

func (r *PostgresDiscussionRepository) GetTranscript(ctx context.Context, discussionID string) (*discussion.Transcript, error) {
	query := `SELECT discussion_id, raw, named, speaker_map, created_at, updated_at FROM transcripts WHERE discussion_id = $1`
	t := &discussion.Transcript{}
	var speakerMap string
	err := r.db.QueryRowContext(ctx, query, discussionID).Scan(&t.DiscussionID, &t.Raw, &t.Named, &speakerMap, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, discussion.ErrTranscriptNotFound
		}
		return nil, fmt.Errorf("error getting transcript: %w", err)
	}
	if t.SpeakerMap, err = discussion.DecodeSpeakerMap(speakerMap); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *PostgresDiscussionRepository) SaveTranscript(ctx context.Context, t *discussion.Transcript) error {
	if err := t.Validate(); err != nil {
		return err
	}
	speakerMap, err := discussion.EncodeSpeakerMap(t.SpeakerMap)
	if err != nil {
		return err
	}
	now := r.now()
	query := `INSERT INTO transcripts (discussion_id, raw, named, speaker_map, created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $5)
              ON CONFLICT (discussion_id) DO UPDATE
              SET raw = EXCLUDED.raw, named = EXCLUDED.named, speaker_map = EXCLUDED.speaker_map, updated_at = EXCLUDED.updated_at
              RETURNING created_at, updated_at`
	if err := r.db.QueryRowContext(ctx, query, t.DiscussionID, t.Raw, t.Named, speakerMap, now).Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
		return fmt.Errorf("error saving transcript: %w", err)
	}
	return nil
}

// --- SpeakerMapping Methods ---

func (r *PostgresDiscussionRepository) ListSpeakers(ctx context.Context, discussionID string) ([]*discussion.SpeakerMapping, error) {
	query := `SELECT discussion_id, label, suggested_name, student_name, confirmed
              FROM speaker_mappings WHERE discussion_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, discussionID)
	if err != nil {
		return nil, fmt.Errorf("error listing speaker mappings: %w", err)
	}
	defer rows.Close()

	out := make([]*discussion.SpeakerMapping, 0)
	for rows.Next() {
		m := &discussion.SpeakerMapping{}
		if err := rows.Scan(&m.DiscussionID, &m.Label, &m.SuggestedName, &m.StudentName, &m.Confirmed); err != nil {
			return nil, fmt.Errorf("error scanning speaker mapping: %w", err)
		}
		out = append(out, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating speaker mappings: %w", err)
	}
	return out, nil
}

func (r *PostgresDiscussionRepository) UpsertSpeaker(ctx context.Context, m *discussion.SpeakerMapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	query := `INSERT INTO speaker_mappings (discussion_id, label, suggested_name, student_name, confirmed)
              VALUES ($1, $2, $3, $4, $5)
              ON CONFLICT (discussion_id, label) DO UPDATE
              SET suggested_name = EXCLUDED.suggested_name
              WHERE speaker_mappings.confirmed = FALSE`
	if _, err := r.db.ExecContext(ctx, query, m.DiscussionID, m.Label, m.SuggestedName, m.StudentName, m.Confirmed); err != nil {
		return fmt.Errorf("error upserting speaker mapping: %w", err)
	}
	return nil
}

func (r *PostgresDiscussionRepository) ConfirmSpeaker(ctx context.Context, discussionID, label, studentName string) error {
	query := `UPDATE speaker_mappings SET student_name = $1, confirmed = TRUE WHERE discussion_id = $2 AND label = $3`
	res, err := r.db.ExecContext(ctx, query, studentName, discussionID, label)
	if err != nil {
		return fmt.Errorf("error confirming speaker mapping: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return discussion.ErrMappingNotFound
	}
	return nil
}

// --- StudentReport Methods ---

const reportColumns = `id, discussion_id, student_id, student_name, contributions, participation_summary, grade, feedback,
       approved, sent, email_sent, grade_posted, created_at, updated_at`

func scanReport(row scanner) (*discussion.Report, error) {
	rep := &discussion.Report{}
	err := row.Scan(&rep.ID, &rep.DiscussionID, &rep.StudentID, &rep.StudentName, &rep.Contributions, &rep.ParticipationSummary,
		&rep.Grade, &rep.Feedback, &rep.Approved, &rep.Sent, &rep.EmailSent, &rep.GradePosted, &rep.CreatedAt, &rep.UpdatedAt)
	return rep, err
}

func (r *PostgresDiscussionRepository) CreateReport(ctx context.Context, rep *discussion.Report) error {
	if err := rep.Validate(); err != nil {
		return err
	}
	query := `INSERT INTO student_reports (` + reportColumns + `)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := r.db.ExecContext(ctx, query, rep.ID, rep.DiscussionID, rep.StudentID, rep.StudentName, rep.Contributions,
		rep.ParticipationSummary, rep.Grade, rep.Feedback, rep.Approved, rep.Sent, rep.EmailSent, rep.GradePosted,
		rep.CreatedAt, rep.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating student report: %w", err)
	}
	return nil
}

func (r *PostgresDiscussionRepository) GetReport(ctx context.Context, id string) (*discussion.Report, error) {
	rep, err := scanReport(r.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM student_reports WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, discussion.ErrReportNotFound
		}
		return nil, fmt.Errorf("error getting student report: %w", err)
	}
	return rep, nil
}

func (r *PostgresDiscussionRepository) FindReport(ctx context.Context, discussionID, studentID string) (*discussion.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM student_reports WHERE discussion_id = $1 AND student_id = $2`
	rep, err := scanReport(r.db.QueryRowContext(ctx, query, discussionID, studentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, discussion.ErrReportNotFound
		}
		return nil, fmt.Errorf("error finding student report: %w", err)
	}
	return rep, nil
}

func (r *PostgresDiscussionRepository) ListReports(ctx context.Context, discussionID string) ([]*discussion.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM student_reports WHERE discussion_id = $1 ORDER BY student_name, id`
	rows, err := r.db.QueryContext(ctx, query, discussionID)
	if err != nil {
		return nil, fmt.Errorf("error listing student reports: %w", err)
	}
	defer rows.Close()

	out := make([]*discussion.Report, 0)
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning student report: %w", err)
		}
		out = append(out, rep)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating student reports: %w", err)
	}
	return out, nil
}

func (r *PostgresDiscussionRepository) UpdateReport(ctx context.Context, id string, patch discussion.ReportPatch) (*discussion.Report, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	rep, err := scanReport(tx.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM student_reports WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, discussion.ErrReportNotFound
		}
		return nil, fmt.Errorf("error locking student report: %w", err)
	}
	patch.Apply(rep, r.now())

	query := `UPDATE student_reports
              SET grade = $1, feedback = $2, approved = $3, sent = $4, email_sent = $5, grade_posted = $6,
                  participation_summary = $7, updated_at = $8
              WHERE id = $9`
	if _, err := tx.ExecContext(ctx, query, rep.Grade, rep.Feedback, rep.Approved, rep.Sent, rep.EmailSent, rep.GradePosted,
		rep.ParticipationSummary, rep.UpdatedAt, rep.ID); err != nil {
		return nil, fmt.Errorf("error updating student report: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing student report update: %w", err)
	}
	return rep, nil
}
