package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"harkness_helper/internal/domain/roster"
)

const uniqueViolation = "23505"

type PostgresRosterRepository struct {
	db *sql.DB
}

func NewPostgresRosterRepository(db *sql.DB) *PostgresRosterRepository {
	return &PostgresRosterRepository{db: db}
}

const studentColumns = `id, name, email, section, course, canvas_user_id, created_at, updated_at`

func scanStudent(row scanner) (*roster.Student, error) {
	s := &roster.Student{}
	err := row.Scan(&s.ID, &s.Name, &s.Email, &s.Section, &s.Course, &s.CanvasUserID, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r *PostgresRosterRepository) CreateStudent(ctx context.Context, s *roster.Student) error {
	if err := s.Validate(); err != nil {
		return err
	}
	key := s.Key()
	query := `INSERT INTO students (` + studentColumns + `, name_key, section_key, course_key)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.db.ExecContext(ctx, query, s.ID, s.Name, s.Email, s.Section, s.Course, s.CanvasUserID, s.CreatedAt, s.UpdatedAt,
		key.Name, key.Section, key.Course)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == "students_identity_key" {
			return roster.ErrDuplicateKey
		}
		return fmt.Errorf("error creating student: %w", err)
	}
	return nil
}

func (r *PostgresRosterRepository) GetStudent(ctx context.Context, id string) (*roster.Student, error) {
	s, err := scanStudent(r.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, roster.ErrStudentNotFound
		}
		return nil, fmt.Errorf("error getting student by ID: %w", err)
	}
	return s, nil
}

func (r *PostgresRosterRepository) FindStudent(ctx context.Context, key roster.Key) (*roster.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE name_key = $1 AND section_key = $2 AND course_key = $3`
	s, err := scanStudent(r.db.QueryRowContext(ctx, query, key.Name, key.Section, key.Course))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, roster.ErrStudentNotFound
		}
		return nil, fmt.Errorf("error finding student: %w", err)
	}
	return s, nil
}

func (r *PostgresRosterRepository) ListStudents(ctx context.Context) ([]*roster.Student, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+studentColumns+` FROM students ORDER BY section, name`)
	if err != nil {
		return nil, fmt.Errorf("error listing students: %w", err)
	}
	defer rows.Close()

	students := make([]*roster.Student, 0)
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning student: %w", err)
		}
		students = append(students, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating students: %w", err)
	}
	return students, nil
}

func (r *PostgresRosterRepository) UpdateStudent(ctx context.Context, s *roster.Student) error {
	if err := s.Validate(); err != nil {
		return err
	}
	key := s.Key()
	query := `UPDATE students
              SET name = $1, email = $2, section = $3, course = $4, canvas_user_id = $5, updated_at = $6,
                  name_key = $7, section_key = $8, course_key = $9
              WHERE id = $10`
	res, err := r.db.ExecContext(ctx, query, s.Name, s.Email, s.Section, s.Course, s.CanvasUserID, s.UpdatedAt,
		key.Name, key.Section, key.Course, s.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return roster.ErrDuplicateKey
		}
		return fmt.Errorf("error updating student: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return roster.ErrStudentNotFound
	}
	return nil
}

func (r *PostgresRosterRepository) ListCourses(ctx context.Context) ([]*roster.Course, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, canvas_course_id, canvas_base_url, item_type FROM courses ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("error listing courses: %w", err)
	}
	defer rows.Close()

	courses := make([]*roster.Course, 0)
	for rows.Next() {
		c := &roster.Course{}
		if err := rows.Scan(&c.Name, &c.CanvasCourseID, &c.CanvasBaseURL, &c.ItemType); err != nil {
			return nil, fmt.Errorf("error scanning course: %w", err)
		}
		courses = append(courses, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating courses: %w", err)
	}
	return courses, nil
}
