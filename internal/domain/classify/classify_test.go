package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"harkness_helper/internal/domain/roster"
)

var today = time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC)

func TestClassifyWithoutRoster(t *testing.T) {
	cases := []struct {
		name    string
		file    string
		section string
		date    string
	}{
		{"section and dashed date", "Section 3 - 2025-01-15.m4a", "Section 3", "2025-01-15"},
		{"block letter", "Block C.mp3", "Block C", "2025-02-03"},
		{"letter before block", "C block 20250120.wav", "Block C", "2025-01-20"},
		{"period word", "period_4_discussion.m4a", "Period 4", "2025-02-03"},
		{"short section", "S2 2025-01-10.mp3", "Section 2", "2025-01-10"},
		{"short period", "p7-20250111.webm", "Period 7", "2025-01-11"},
		{"lone letter", "harkness D.m4a", "Block D", "2025-02-03"},
		{"nothing recognizable", "recording.m4a", "", "2025-02-03"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Classify(tc.file, nil, nil, today)
			assert.Equal(t, tc.section, res.Section)
			assert.Equal(t, tc.date, res.Date)
			assert.Empty(t, res.Course)
		})
	}
}

func TestClassifyPrefersLongestExactMatch(t *testing.T) {
	known := []roster.SectionRef{{Section: "Period 1"}, {Section: "Period 10"}}

	res := Classify("Period 10 2025-03-01.m4a", known, nil, today)
	assert.Equal(t, "Period 10", res.Section)

	res = Classify("Period 1 2025-03-01.m4a", known, nil, today)
	assert.Equal(t, "Period 1", res.Section)
}

func TestClassifyFuzzyTokens(t *testing.T) {
	known := []roster.SectionRef{{Section: "English 10 Honors"}, {Section: "History A"}}

	res := Classify("honors-eng-20250301.m4a", known, nil, today)
	assert.Equal(t, "English 10 Honors", res.Section)
	assert.Equal(t, "2025-03-01", res.Date)
}

func TestClassifyStripsCoursePrefix(t *testing.T) {
	known := []roster.SectionRef{
		{Section: "Section 1", Course: "Biology"},
		{Section: "Section 2", Course: "Chemistry"},
	}
	courses := []string{"Biology", "Chemistry"}

	res := Classify("Chemistry_Section 2_2025-04-02.mp3", known, courses, today)
	assert.Equal(t, Result{Section: "Section 2", Date: "2025-04-02", Course: "Chemistry"}, res)
}

func TestClassifyCoursePrefixWithWidthChangingCase(t *testing.T) {
	// "Ⱥ" is three bytes; its lower case "ⱥ" is two.
	res := Classify("Ⱥ.m4a", nil, []string{"Ⱥ"}, today)
	assert.Equal(t, "Ⱥ", res.Course)

	res = Classify("ⱥ Section 3 2025-04-02.m4a", nil, []string{"Ⱥ"}, today)
	assert.Equal(t, Result{Section: "Section 3", Date: "2025-04-02", Course: "Ⱥ"}, res)

	res = Classify("Étude Block C.m4a", nil, []string{"étude"}, today)
	assert.Equal(t, "étude", res.Course)
	assert.Equal(t, "Block C", res.Section)
}

func TestClassifyCourseOrderWins(t *testing.T) {
	courses := []string{"Bio", "Bio AP"}

	res := Classify("Bio AP Section 1.m4a", nil, courses, today)
	assert.Equal(t, "Bio", res.Course)
}

func TestClassifyCoursePrefixNeedsBoundary(t *testing.T) {
	res := Classify("Biology Section 1.m4a", nil, []string{"Bio"}, today)
	assert.Empty(t, res.Course)
	assert.Equal(t, "Section 1", res.Section)
}

func TestClassifyRecoversEmbeddedCombinations(t *testing.T) {
	known := []roster.SectionRef{
		{Section: "Period 2", Course: "World History"},
		{Section: "Period 12", Course: "World History"},
		{Section: "Block B", Course: "Literature"},
		{Section: "Block BB", Course: "Literature"},
	}
	courses := []string{"World History", "Literature"}
	dates := []string{"2024-09-03", "2025-12-31"}

	for _, k := range known {
		for _, d := range dates {
			file := k.Course + " - " + k.Section + " - " + d + ".m4a"
			res := Classify(file, known, courses, today)
			assert.Equal(t, k.Section, res.Section, file)
			assert.Equal(t, k.Course, res.Course, file)
			assert.Equal(t, d, res.Date, file)
		}
	}
}

func TestClassifyInvalidDateFallsBackToToday(t *testing.T) {
	res := Classify("Section 1 2025-13-45.m4a", nil, nil, today)
	assert.Equal(t, "2025-02-03", res.Date)
}
