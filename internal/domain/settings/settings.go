// internal/domain/settings/settings.go
package settings

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"harkness_helper/internal/domain/discussion"
)

var ErrPromptNotFound = errors.New("prompt not found")

// Setting keys as stored in the key/value collection.
const (
	KeyMode                 = "mode"
	KeyDistributeEmail      = "distribute_email"
	KeyDistributeCanvas     = "distribute_canvas"
	KeyGradeScale           = "grade_scale"
	KeyTeacherEmail         = "teacher_email"
	KeyTeacherName          = "teacher_name"
	KeyEmailSubjectTemplate = "email_subject_template"
	KeyGeminiModel          = "gemini_model"
	KeyElevenLabsModel      = "elevenlabs_model"
	KeyCanvasCourseID       = "canvas_course_id"
	KeyCanvasBaseURL        = "canvas_base_url"
	KeyCanvasItemType       = "canvas_item_type"
)

// Prompt names of the built-in library.
const (
	PromptSpeakerIdentification = "SPEAKER_IDENTIFICATION"
	PromptGroupFeedback         = "GROUP_FEEDBACK"
	PromptIndividualFeedback    = "INDIVIDUAL_FEEDBACK"
)

// Defaults are the values a fresh store is seeded with, in display order.
var Defaults = [][2]string{
	{KeyMode, "group"},
	{KeyDistributeEmail, "true"},
	{KeyDistributeCanvas, "false"},
	{KeyGradeScale, "0-100"},
	{KeyTeacherEmail, ""},
	{KeyTeacherName, ""},
	{KeyEmailSubjectTemplate, "Harkness Discussion Report - {date}"},
	{KeyGeminiModel, "gemini-2.0-flash"},
	{KeyElevenLabsModel, "scribe_v2"},
	{KeyCanvasCourseID, ""},
	{KeyCanvasBaseURL, ""},
	{KeyCanvasItemType, "assignment"},
}

// Settings is the typed view of the key/value collection.
type Settings struct {
	Mode                 discussion.Mode
	ModeErr              error // set when the stored mode is not a known value
	DistributeEmail      bool
	DistributeCanvas     bool
	GradeScale           string
	TeacherEmail         string
	TeacherName          string
	EmailSubjectTemplate string
	GeminiModel          string
	ElevenLabsModel      string
	CanvasCourseID       string
	CanvasBaseURL        string
	CanvasItemType       string
}

// FromMap types raw values, falling back to Defaults for missing keys.
func FromMap(raw map[string]string) Settings {
	get := func(key string) string {
		if v, ok := raw[key]; ok {
			return strings.TrimSpace(v)
		}
		for _, d := range Defaults {
			if d[0] == key {
				return d[1]
			}
		}
		return ""
	}

	s := Settings{
		DistributeEmail:      parseBool(get(KeyDistributeEmail)),
		DistributeCanvas:     parseBool(get(KeyDistributeCanvas)),
		GradeScale:           get(KeyGradeScale),
		TeacherEmail:         get(KeyTeacherEmail),
		TeacherName:          get(KeyTeacherName),
		EmailSubjectTemplate: get(KeyEmailSubjectTemplate),
		GeminiModel:          get(KeyGeminiModel),
		ElevenLabsModel:      get(KeyElevenLabsModel),
		CanvasCourseID:       get(KeyCanvasCourseID),
		CanvasBaseURL:        get(KeyCanvasBaseURL),
		CanvasItemType:       get(KeyCanvasItemType),
	}
	s.Mode, s.ModeErr = discussion.ParseMode(get(KeyMode))
	if s.EmailSubjectTemplate == "" {
		s.EmailSubjectTemplate = "Harkness Discussion Report - {date}"
	}
	if s.CanvasItemType == "" {
		s.CanvasItemType = "assignment"
	}
	return s
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return strings.EqualFold(v, "yes")
	}
	return b
}

// Subject renders the email subject template.
func (s Settings) Subject(date, section, course string) string {
	return strings.NewReplacer(
		"{date}", date,
		"{section}", section,
		"{course}", course,
	).Replace(s.EmailSubjectTemplate)
}

// Repository defines access to the Settings and Prompts collections.
type Repository interface {
	LoadSettings(ctx context.Context) (map[string]string, error)
	SaveSetting(ctx context.Context, key, value string) error
	// GetPrompt returns ErrPromptNotFound when the teacher has not stored
	// an override.
	GetPrompt(ctx context.Context, name string) (string, error)
}

// Load reads and types the settings collection.
func Load(ctx context.Context, repo Repository) (Settings, error) {
	raw, err := repo.LoadSettings(ctx)
	if err != nil {
		return Settings{}, err
	}
	return FromMap(raw), nil
}
