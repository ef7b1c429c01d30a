// internal/domain/roster/roster.go
package roster

import (
	"context"
	"errors"
	"strings"
	"time"

	"harkness_helper/internal/domain/schema"
)

var (
	ErrStudentNotFound = errors.New("student not found")
	ErrDuplicateKey    = errors.New("student with this name, section and course already exists")
)

// Student is one roster entry.
type Student struct {
	ID           string `validate:"required"`
	Name         string `validate:"required"`
	Email        string `validate:"omitempty,email"`
	Section      string
	Course       string
	CanvasUserID string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s *Student) Validate() error {
	return schema.Validate(s)
}

// Key returns the identity key of the student.
func (s *Student) Key() Key {
	return NewKey(s.Name, s.Section, s.Course)
}

// Key is the (name, section, course) identity of a student, compared
// case-insensitively with surrounding whitespace ignored.
type Key struct {
	Name    string
	Section string
	Course  string
}

func NewKey(name, section, course string) Key {
	return Key{
		Name:    normalize(name),
		Section: normalize(section),
		Course:  normalize(course),
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Course is one row of the multi-course table.
type Course struct {
	Name           string `validate:"required"`
	CanvasCourseID string
	CanvasBaseURL  string `validate:"omitempty,url"`
	ItemType       string `validate:"omitempty,oneof=assignment discussion"`
}

func (c *Course) Validate() error {
	return schema.Validate(c)
}

// SectionRef is one known (section, course) pair fed to the classifier.
type SectionRef struct {
	Section string
	Course  string
}

// KnownSections returns the distinct (section, course) pairs of the roster
// in first-seen order.
func KnownSections(students []*Student) []SectionRef {
	seen := make(map[SectionRef]bool)
	var out []SectionRef
	for _, s := range students {
		sec := strings.TrimSpace(s.Section)
		if sec == "" {
			continue
		}
		ref := SectionRef{Section: sec, Course: strings.TrimSpace(s.Course)}
		if seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	return out
}

// Repository defines persistence for students and courses.
type Repository interface {
	CreateStudent(ctx context.Context, s *Student) error
	GetStudent(ctx context.Context, id string) (*Student, error)
	FindStudent(ctx context.Context, key Key) (*Student, error)
	ListStudents(ctx context.Context) ([]*Student, error)
	UpdateStudent(ctx context.Context, s *Student) error
	ListCourses(ctx context.Context) ([]*Course, error)
}
