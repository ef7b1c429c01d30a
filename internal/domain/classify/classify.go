// Package classify derives section, date and course from an uploaded file
// name. It performs no I/O.
package classify

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"harkness_helper/internal/domain/roster"
)

// Result is the outcome of classifying one file name. Section is empty when
// no pass matched.
type Result struct {
	Section string
	Date    string // 2006-01-02
	Course  string
}

var (
	dashedDate  = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
	compactDate = regexp.MustCompile(`(?:^|\D)(\d{8})(?:\D|$)`)

	sectionWord = regexp.MustCompile(`^(?i)(section|period)(\d+)$`)
	shortForm   = regexp.MustCompile(`^(?i)([sp])(\d+)$`)
	digitsOnly  = regexp.MustCompile(`^\d+$`)
)

// Classify resolves a file name against the known sections of the roster.
// courses are the configured course names in order; an empty slice means
// single-course mode. today supplies the default date.
func Classify(fileName string, known []roster.SectionRef, courses []string, today time.Time) Result {
	rest := stripExtension(fileName)

	var res Result
	res.Course, rest = matchCoursePrefix(rest, courses)

	res.Date, rest = extractDate(rest)
	if res.Date == "" {
		res.Date = today.Format("2006-01-02")
	}

	candidates := sectionsFor(known, res.Course)
	if s := exactSection(rest, candidates); s != "" {
		res.Section = s
		return res
	}
	if s := fuzzySection(rest, candidates); s != "" {
		res.Section = s
		return res
	}
	res.Section = patternSection(rest)
	return res
}

func stripExtension(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	ext := filepath.Ext(name)
	if ext != "" && len(ext) <= 6 && ext != name {
		return strings.TrimSuffix(name, ext)
	}
	return name
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// matchCoursePrefix tests course names in configured order; the first one
// the name starts with wins and is removed along with its separator.
func matchCoursePrefix(name string, courses []string) (string, string) {
	for _, c := range courses {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		n := foldPrefix(name, c)
		if n < 0 {
			continue
		}
		rest := name[n:]
		if r, _ := utf8.DecodeRuneInString(rest); rest != "" && !isSeparator(r) {
			continue
		}
		return c, strings.TrimLeftFunc(rest, isSeparator)
	}
	return "", name
}

// foldPrefix returns the byte length of the prefix of name that equals
// prefix under case folding, or -1. Lengths are measured on name itself
// since folding may change the encoded width of a rune.
func foldPrefix(name, prefix string) int {
	n := 0
	for _, want := range prefix {
		if n >= len(name) {
			return -1
		}
		got, size := utf8.DecodeRuneInString(name[n:])
		if !strings.EqualFold(string(got), string(want)) {
			return -1
		}
		n += size
	}
	return n
}

// extractDate returns the first valid date and the name with it removed.
func extractDate(name string) (string, string) {
	for _, m := range dashedDate.FindAllStringIndex(name, -1) {
		raw := name[m[0]:m[1]]
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			return t.Format("2006-01-02"), name[:m[0]] + " " + name[m[1]:]
		}
	}
	for _, m := range compactDate.FindAllStringSubmatchIndex(name, -1) {
		raw := name[m[2]:m[3]]
		if t, err := time.Parse("20060102", raw); err == nil {
			return t.Format("2006-01-02"), name[:m[2]] + " " + name[m[3]:]
		}
	}
	return "", name
}

// sectionsFor restricts candidates to the matched course (or rows without a
// course), falling back to every known section when nothing is left.
func sectionsFor(known []roster.SectionRef, course string) []string {
	var scoped, all []string
	seenScoped := map[string]bool{}
	seenAll := map[string]bool{}
	for _, k := range known {
		sec := strings.TrimSpace(k.Section)
		if sec == "" {
			continue
		}
		if !seenAll[sec] {
			seenAll[sec] = true
			all = append(all, sec)
		}
		if course != "" && (k.Course == "" || strings.EqualFold(k.Course, course)) && !seenScoped[sec] {
			seenScoped[sec] = true
			scoped = append(scoped, sec)
		}
	}
	out := all
	if course != "" && len(scoped) > 0 {
		out = scoped
	}
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

func exactSection(name string, candidates []string) string {
	lower := strings.ToLower(name)
	for _, c := range candidates {
		if strings.Contains(lower, strings.ToLower(c)) {
			return c
		}
	}
	return ""
}

func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), isSeparator)
}

func fuzzySection(name string, candidates []string) string {
	var fileTokens []string
	for _, t := range tokens(name) {
		if len(t) >= 4 && digitsOnly.MatchString(t) {
			continue
		}
		fileTokens = append(fileTokens, t)
	}
	if len(fileTokens) == 0 {
		return ""
	}

	best := ""
	bestCount, bestRatio := 0, 0.0
	for _, c := range candidates {
		secTokens := tokens(c)
		matched := map[string]bool{}
		for _, ft := range fileTokens {
			for _, st := range secTokens {
				if strings.Contains(ft, st) || strings.Contains(st, ft) {
					matched[ft] = true
					break
				}
			}
		}
		count := len(matched)
		if count == 0 {
			continue
		}
		ratio := float64(count) / float64(len(fileTokens))
		if count > bestCount || (count == bestCount && ratio > bestRatio) {
			best, bestCount, bestRatio = c, count, ratio
		}
	}
	return best
}

// patternSection recognizes common naming conventions when the roster has
// nothing that fits.
func patternSection(name string) string {
	toks := strings.FieldsFunc(name, isSeparator)

	for i, t := range toks {
		if m := sectionWord.FindStringSubmatch(t); m != nil {
			return title(m[1]) + " " + trimZeros(m[2])
		}
		lt := strings.ToLower(t)
		if (lt == "section" || lt == "period") && i+1 < len(toks) && digitsOnly.MatchString(toks[i+1]) {
			return title(lt) + " " + trimZeros(toks[i+1])
		}
	}
	for _, t := range toks {
		if m := shortForm.FindStringSubmatch(t); m != nil {
			if strings.EqualFold(m[1], "s") {
				return "Section " + trimZeros(m[2])
			}
			return "Period " + trimZeros(m[2])
		}
	}
	for i, t := range toks {
		if !strings.EqualFold(t, "block") {
			continue
		}
		if i+1 < len(toks) && isLetter(toks[i+1]) {
			return "Block " + strings.ToUpper(toks[i+1])
		}
		if i > 0 && isLetter(toks[i-1]) {
			return "Block " + strings.ToUpper(toks[i-1])
		}
	}
	for _, t := range toks {
		if isLetter(t) {
			return "Block " + strings.ToUpper(t)
		}
	}
	return ""
}

func isLetter(t string) bool {
	r := []rune(t)
	return len(r) == 1 && unicode.IsLetter(r[0])
}

func title(s string) string {
	s = strings.ToLower(s)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func trimZeros(d string) string {
	t := strings.TrimLeft(d, "0")
	if t == "" {
		return "0"
	}
	return t
}
