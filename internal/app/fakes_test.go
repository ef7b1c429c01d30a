package app

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"harkness_helper/internal/domain/provider"
)

func testLogger() *logrus.Entry {
	l, _ := test.NewNullLogger()
	return logrus.NewEntry(l)
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeFile struct {
	info   provider.FileInfo
	folder string
	data   string
}

type fakeFiles struct {
	files   map[string]*fakeFile
	moveErr error
	signed  []string
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{files: map[string]*fakeFile{}}
}

func (f *fakeFiles) add(folder, name, mime string, size int64) {
	id := folder + "/" + name
	f.files[id] = &fakeFile{
		info:   provider.FileInfo{ID: id, Name: name, MimeType: mime, Size: size},
		folder: folder,
		data:   "audio:" + name,
	}
}

func (f *fakeFiles) List(_ context.Context, folder string) ([]provider.FileInfo, error) {
	var out []provider.FileInfo
	for _, file := range f.files {
		if file.folder == folder {
			out = append(out, file.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeFiles) Move(_ context.Context, fileID, folder string) (provider.FileInfo, error) {
	if f.moveErr != nil {
		return provider.FileInfo{}, f.moveErr
	}
	file, ok := f.files[fileID]
	if !ok {
		return provider.FileInfo{}, errors.New("no such file")
	}
	delete(f.files, fileID)
	file.folder = folder
	file.info.ID = folder + "/" + file.info.Name
	f.files[file.info.ID] = file
	return file.info, nil
}

func (f *fakeFiles) Open(_ context.Context, fileID string) (io.ReadCloser, provider.FileInfo, error) {
	file, ok := f.files[fileID]
	if !ok {
		return nil, provider.FileInfo{}, errors.New("no such file")
	}
	return io.NopCloser(strings.NewReader(file.data)), file.info, nil
}

func (f *fakeFiles) SignedURL(_ context.Context, fileID string, _ time.Duration) (string, error) {
	f.signed = append(f.signed, fileID)
	return "https://files.example/" + fileID, nil
}

type fakeTranscriber struct {
	mu    sync.Mutex
	text  string
	err   error
	calls []provider.Audio
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio provider.Audio, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, audio)
	return f.text, f.err
}

func (f *fakeTranscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeGenerator answers by prompt content.
type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	answer  func(prompt string) (string, error)
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.answer == nil {
		return "generated", nil
	}
	return f.answer(prompt)
}

func (f *fakeGenerator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// fakePrompts renders "NAME|key=value|..." so tests can inspect what was sent.
type fakePrompts struct{}

func (fakePrompts) Render(_ context.Context, name string, vars map[string]string) (string, error) {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := []string{name}
	for _, k := range keys {
		parts = append(parts, k+"="+vars[k])
	}
	return strings.Join(parts, "|"), nil
}

type fakeMailer struct {
	sent   []provider.Message
	failTo map[string]bool
}

func (f *fakeMailer) Send(_ context.Context, msg provider.Message) error {
	if f.failTo[msg.To] {
		return errors.New("mailbox unavailable")
	}
	f.sent = append(f.sent, msg)
	return nil
}

type postedGrade struct {
	course, item, user, grade, comment string
}

type fakeLMS struct {
	sections map[string][]provider.Section
	students map[string][]provider.Enrollment
	items    []provider.GradeItem
	posted   []postedGrade
	failUser map[string]bool
}

func (f *fakeLMS) ListSections(_ context.Context, course provider.CourseRef) ([]provider.Section, error) {
	return f.sections[course.CourseID], nil
}

func (f *fakeLMS) ListSectionStudents(_ context.Context, _ provider.CourseRef, sectionID string) ([]provider.Enrollment, error) {
	return f.students[sectionID], nil
}

func (f *fakeLMS) PostGrade(_ context.Context, course provider.CourseRef, itemID, userID, grade, comment string) error {
	if f.failUser[userID] {
		return errors.New("403 forbidden")
	}
	f.posted = append(f.posted, postedGrade{course.CourseID, itemID, userID, grade, comment})
	return nil
}

func (f *fakeLMS) ListItems(_ context.Context, _ provider.CourseRef, itemType string) ([]provider.GradeItem, error) {
	var out []provider.GradeItem
	for _, it := range f.items {
		if it.ItemType == itemType {
			out = append(out, it)
		}
	}
	return out, nil
}

type fakeTrigger struct {
	installed bool
	installs  int
	removes   int
	fn        func()
}

func (f *fakeTrigger) Install(_ time.Duration, fn func()) error {
	f.installed = true
	f.installs++
	f.fn = fn
	return nil
}

func (f *fakeTrigger) Remove() {
	f.installed = false
	f.removes++
}

func (f *fakeTrigger) Installed() bool { return f.installed }

type fakeRunState struct {
	at  time.Time
	set bool
}

func (f *fakeRunState) StartedAt(context.Context) (time.Time, bool, error) {
	return f.at, f.set, nil
}

func (f *fakeRunState) MarkStarted(_ context.Context, at time.Time) error {
	f.at, f.set = at, true
	return nil
}

func (f *fakeRunState) Clear(context.Context) error {
	f.at, f.set = time.Time{}, false
	return nil
}

type fakeNotifier struct {
	messages []string
	err      error
}

func (f *fakeNotifier) Notify(_ context.Context, text string) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, text)
	return nil
}
