// Package transcript parses and rewrites speaker-labeled transcripts of the
// form "[<label>] [MM:SS] text".
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// ExcerptSeconds is where the introduction excerpt stops.
	ExcerptSeconds = 180
	// ExcerptFallbackChars is used when no timestamp reaches ExcerptSeconds.
	ExcerptFallbackChars = 5000
)

var ErrNoMapping = errors.New("no speaker mapping object in response")

var lineRe = regexp.MustCompile(`^\s*\[([^\]]+)\]\s*\[(\d{1,2}(?::\d{2}){1,2})\]\s?(.*)$`)

// Line is one parsed transcript line.
type Line struct {
	Label   string
	Stamp   string
	Seconds int
	Text    string
}

// ParseLine splits a transcript line; ok is false for lines that do not
// carry a label and timestamp.
func ParseLine(s string) (Line, bool) {
	m := lineRe.FindStringSubmatch(s)
	if m == nil {
		return Line{}, false
	}
	secs, ok := parseStamp(m[2])
	if !ok {
		return Line{}, false
	}
	return Line{Label: strings.TrimSpace(m[1]), Stamp: m[2], Seconds: secs, Text: m[3]}, true
}

func (l Line) String() string {
	return fmt.Sprintf("[%s] [%s] %s", l.Label, l.Stamp, l.Text)
}

func parseStamp(s string) (int, bool) {
	total := 0
	for _, part := range strings.Split(s, ":") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0, false
		}
		total = total*60 + n
	}
	return total, true
}

// FormatStamp renders seconds as MM:SS, or H:MM:SS past the hour.
func FormatStamp(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, (seconds/60)%60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func splitLines(raw string) []string {
	return strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
}

// Excerpt returns the opening of the discussion, up to the first line whose
// timestamp reaches three minutes. Without such a line it falls back to the
// first ExcerptFallbackChars characters.
func Excerpt(raw string) string {
	lines := splitLines(raw)
	for i, s := range lines {
		if l, ok := ParseLine(s); ok && l.Seconds >= ExcerptSeconds {
			return strings.TrimRight(strings.Join(lines[:i], "\n"), "\n")
		}
	}
	r := []rune(raw)
	if len(r) > ExcerptFallbackChars {
		return string(r[:ExcerptFallbackChars])
	}
	return raw
}

// Labels lists the distinct speaker labels in order of first appearance.
func Labels(raw string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range splitLines(raw) {
		l, ok := ParseLine(s)
		if !ok || seen[l.Label] {
			continue
		}
		seen[l.Label] = true
		out = append(out, l.Label)
	}
	return out
}

// Rename replaces each line's label with its mapped name. Labels without a
// usable name are left as they are.
func Rename(raw string, names map[string]string) string {
	lines := splitLines(raw)
	for i, s := range lines {
		l, ok := ParseLine(s)
		if !ok {
			continue
		}
		name := strings.TrimSpace(names[l.Label])
		if name == "" || name == "?" {
			continue
		}
		l.Label = name
		lines[i] = l.String()
	}
	return strings.Join(lines, "\n")
}

// Contributions returns the lines spoken by name in a named transcript.
func Contributions(named, name string) string {
	var out []string
	for _, s := range splitLines(named) {
		if l, ok := ParseLine(s); ok && strings.EqualFold(l.Label, strings.TrimSpace(name)) {
			out = append(out, l.String())
		}
	}
	return strings.Join(out, "\n")
}

// IsStudentName reports whether a resolved speaker name refers to a student,
// as opposed to a placeholder or the teacher.
func IsStudentName(name string) bool {
	n := strings.TrimSpace(name)
	return n != "" && n != "?" && !strings.EqualFold(n, "teacher")
}

// ParseSpeakerMap extracts the label->name object from a generator
// response, tolerating code fences and prose around it.
func ParseSpeakerMap(response string) (map[string]string, error) {
	obj := extractJSON(response)
	if obj == "" {
		return nil, ErrNoMapping
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, fmt.Errorf("parse speaker mapping: %w", err)
	}
	out := make(map[string]string, len(raw))
	for label, v := range raw {
		name, ok := v.(string)
		if !ok {
			continue
		}
		out[strings.TrimSpace(label)] = strings.TrimSpace(name)
	}
	return out, nil
}

func extractJSON(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, fence := range []string{"```json", "```"} {
		s = strings.ReplaceAll(s, fence, "")
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
}
