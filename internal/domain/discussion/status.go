// internal/domain/discussion/status.go
package discussion

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIllegalTransition is returned when a stage asks for a status move the
// state machine does not allow.
var ErrIllegalTransition = errors.New("illegal status transition")

// Status is the lifecycle position of a discussion.
type Status string

const (
	StatusUploaded     Status = "uploaded"
	StatusTranscribing Status = "transcribing"
	StatusMapping      Status = "mapping"
	StatusReview       Status = "review"
	StatusApproved     Status = "approved" // individual mode only
	StatusSent         Status = "sent"
	StatusError        Status = "error"
)

// AllStatuses lists every status in pipeline order, error last.
var AllStatuses = []Status{
	StatusUploaded,
	StatusTranscribing,
	StatusMapping,
	StatusReview,
	StatusApproved,
	StatusSent,
	StatusError,
}

var transitions = map[Status][]Status{
	StatusUploaded:     {StatusTranscribing, StatusError},
	StatusTranscribing: {StatusMapping, StatusError},
	StatusMapping:      {StatusReview, StatusError},
	StatusReview:       {StatusApproved, StatusSent, StatusError},
	StatusApproved:     {StatusSent, StatusError},
	StatusError:        {StatusReview},
	StatusSent:         {},
}

// ParseStatus maps a stored value onto the closed set of statuses.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := transitions[s]; !ok {
		return "", fmt.Errorf("unknown discussion status %q", raw)
	}
	return s, nil
}

// Terminal reports whether nothing can follow s.
func (s Status) Terminal() bool {
	return s == StatusSent
}

// CanTransition reports whether the state machine allows s -> to.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition returns the next status or ErrIllegalTransition.
func (s Status) Transition(to Status) (Status, error) {
	if !s.CanTransition(to) {
		return s, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, to)
	}
	return to, nil
}

// Mode selects how a discussion is graded and distributed.
type Mode string

const (
	ModeGroup      Mode = "group"
	ModeIndividual Mode = "individual"
)

// ParseMode maps a settings value onto a mode.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeGroup:
		return ModeGroup, nil
	case ModeIndividual:
		return ModeIndividual, nil
	default:
		return "", fmt.Errorf("unknown mode %q", raw)
	}
}
