package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harkness_helper/internal/domain/discussion"
)

func TestFromMapDefaults(t *testing.T) {
	s := FromMap(nil)
	require.NoError(t, s.ModeErr)
	assert.Equal(t, discussion.ModeGroup, s.Mode)
	assert.True(t, s.DistributeEmail)
	assert.False(t, s.DistributeCanvas)
	assert.Equal(t, "assignment", s.CanvasItemType)
	assert.Equal(t, "gemini-2.0-flash", s.GeminiModel)
}

func TestFromMapTypesValues(t *testing.T) {
	s := FromMap(map[string]string{
		KeyMode:             "Individual",
		KeyDistributeEmail:  "FALSE",
		KeyDistributeCanvas: "yes",
		KeyTeacherEmail:     " t@school.org ",
	})
	assert.Equal(t, discussion.ModeIndividual, s.Mode)
	assert.False(t, s.DistributeEmail)
	assert.True(t, s.DistributeCanvas)
	assert.Equal(t, "t@school.org", s.TeacherEmail)

	bad := FromMap(map[string]string{KeyMode: "pairs"})
	assert.Error(t, bad.ModeErr)
}

func TestSubject(t *testing.T) {
	s := FromMap(map[string]string{KeyEmailSubjectTemplate: "{course} {section}: {date}"})
	assert.Equal(t, "Biology Period 2: 2025-01-15", s.Subject("2025-01-15", "Period 2", "Biology"))
}
