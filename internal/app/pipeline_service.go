// internal/app/pipeline_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"harkness_helper/internal/domain/classify"
	"harkness_helper/internal/domain/discussion"
	"harkness_helper/internal/domain/provider"
	"harkness_helper/internal/domain/roster"
	"harkness_helper/internal/domain/settings"
	"harkness_helper/internal/domain/transcript"
)

const hintReviewFeedback = "Review feedback and set approved to send"

var allowedMimeTypes = map[string]bool{
	"audio/mpeg":      true,
	"audio/mp3":       true,
	"audio/mp4":       true,
	"audio/m4a":       true,
	"audio/x-m4a":     true,
	"audio/aac":       true,
	"audio/wav":       true,
	"audio/x-wav":     true,
	"audio/webm":      true,
	"audio/ogg":       true,
	"audio/flac":      true,
	"video/mp4":       true,
	"video/webm":      true,
	"video/quicktime": true,
}

var allowedExtensions = map[string]bool{
	".mp3": true, ".m4a": true, ".mp4": true, ".aac": true, ".wav": true,
	".webm": true, ".ogg": true, ".flac": true, ".mov": true,
}

// isAudio accepts by MIME type, then by file extension.
func isAudio(f provider.FileInfo) bool {
	mime := strings.ToLower(strings.TrimSpace(f.MimeType))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if allowedMimeTypes[mime] {
		return true
	}
	return allowedExtensions[strings.ToLower(filepath.Ext(f.Name))]
}

// PipelineConfig holds the fixed parameters of a pipeline pass.
type PipelineConfig struct {
	InboxFolder       string
	ProcessingFolder  string
	LargeFileBytes    int64
	SignedURLTTL      time.Duration
	TranscribeTimeout time.Duration
	PassBudget        time.Duration
}

// PassReport summarizes one pipeline pass.
type PassReport struct {
	Ingested    int
	Transcribed int
	Failed      int
	TimedOut    int
	Advanced    int
}

// PipelineService runs the scheduled stages: intake, transcription and
// speaker mapping, the stuck-transcription watchdog, and status advancement.
type PipelineService struct {
	common
	store       Store
	files       provider.FileStore
	transcriber provider.Transcriber
	generator   provider.Generator
	prompts     Prompts
	cfg         PipelineConfig
	logger      *logrus.Entry
}

func NewPipelineService(
	store Store,
	files provider.FileStore,
	transcriber provider.Transcriber,
	generator provider.Generator,
	prompts Prompts,
	cfg PipelineConfig,
	logger *logrus.Entry,
	opts ...Option,
) *PipelineService {
	return &PipelineService{
		common:      newCommon(opts),
		store:       store,
		files:       files,
		transcriber: transcriber,
		generator:   generator,
		prompts:     prompts,
		cfg:         cfg,
		logger:      logger.WithField("component", "pipeline"),
	}
}

// RunPass runs one bounded pass of every scheduled stage in order.
func (s *PipelineService) RunPass(ctx context.Context) (PassReport, error) {
	var report PassReport
	b := s.newBudget(s.cfg.PassBudget)

	cfg, err := settings.Load(ctx, s.store)
	if err != nil {
		return report, fmt.Errorf("failed to load settings: %w", err)
	}

	if err := s.configured(cfg); err != nil {
		s.logger.WithError(err).Warn("Skipping intake and transcription for this pass")
	} else {
		created, err := s.Intake(ctx, cfg, b)
		if err != nil {
			s.logger.WithError(err).Error("Intake failed")
		}
		report.Ingested = created

		ok, failed, err := s.TranscribePending(ctx, cfg, b)
		if err != nil {
			s.logger.WithError(err).Error("Transcription stage failed")
		}
		report.Transcribed, report.Failed = ok, failed
	}

	timedOut, err := s.Watchdog(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Watchdog failed")
	}
	report.TimedOut = timedOut

	if cfg.ModeErr == nil {
		advanced, err := s.Advance(ctx, cfg.Mode, b)
		if err != nil {
			s.logger.WithError(err).Error("Status advancement failed")
		}
		report.Advanced = advanced
	}

	s.logger.WithFields(logrus.Fields{
		"ingested":    report.Ingested,
		"transcribed": report.Transcribed,
		"failed":      report.Failed,
		"timed_out":   report.TimedOut,
		"advanced":    report.Advanced,
	}).Info("Pipeline pass finished")
	return report, nil
}

// configured reports the missing prerequisites of intake, if any.
func (s *PipelineService) configured(cfg settings.Settings) error {
	var missing []string
	if s.files == nil {
		missing = append(missing, "file store")
	}
	if s.transcriber == nil {
		missing = append(missing, "transcriber")
	}
	if s.generator == nil {
		missing = append(missing, "generator")
	}
	if cfg.ModeErr != nil {
		missing = append(missing, cfg.ModeErr.Error())
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrNotConfigured, strings.Join(missing, ", "))
	}
	return nil
}

// Intake moves every accepted inbox file to the processing folder and
// creates one uploaded Discussion for it.
func (s *PipelineService) Intake(ctx context.Context, cfg settings.Settings, b budget) (int, error) {
	files, err := s.files.List(ctx, s.cfg.InboxFolder)
	if err != nil {
		return 0, fmt.Errorf("failed to list inbox: %w", err)
	}
	if len(files) == 0 {
		return 0, nil
	}

	students, err := s.store.ListStudents(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list students: %w", err)
	}
	courses, err := s.store.ListCourses(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list courses: %w", err)
	}
	known := roster.KnownSections(students)
	courseNames := make([]string, 0, len(courses))
	for _, c := range courses {
		courseNames = append(courseNames, c.Name)
	}

	created := 0
	for _, f := range files {
		if b.exhausted() {
			s.logger.Warn("Pass budget reached during intake; remaining files wait for the next tick")
			break
		}
		log := s.logger.WithFields(logrus.Fields{"file": f.Name, "file_id": f.ID})
		if !isAudio(f) {
			log.WithField("mime_type", f.MimeType).Debug("Skipping non-audio file")
			continue
		}
		if s.cfg.LargeFileBytes > 0 && f.Size > s.cfg.LargeFileBytes {
			log.WithField("size", f.Size).Info("Large recording; it will be submitted by URL")
		}

		res := classify.Classify(f.Name, known, courseNames, s.now())
		moved, err := s.files.Move(ctx, f.ID, s.cfg.ProcessingFolder)
		if err != nil {
			log.WithError(err).Error("Failed to move file to processing folder")
			continue
		}

		now := s.now()
		d := &discussion.Discussion{
			ID:             uuid.NewString(),
			Date:           res.Date,
			Section:        res.Section,
			Course:         res.Course,
			AudioFileID:    moved.ID,
			Status:         discussion.StatusUploaded,
			CanvasItemType: itemTypeFor(res.Course, courses, cfg),
			NextStep:       "Waiting for transcription",
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.store.CreateDiscussion(ctx, d); err != nil {
			log.WithError(err).Error("Failed to create discussion for moved file")
			s.notify(ctx, log, "Recording %s was moved to processing but no discussion could be created: %v", f.Name, err)
			continue
		}
		created++
		s.metrics.DiscussionIngested()
		log.WithFields(logrus.Fields{
			"discussion_id": d.ID,
			"section":       d.Section,
			"course":        d.Course,
			"date":          d.Date,
		}).Info("Discussion created from upload")
	}
	return created, nil
}

func itemTypeFor(course string, courses []*roster.Course, cfg settings.Settings) string {
	for _, c := range courses {
		if strings.EqualFold(c.Name, course) && c.ItemType != "" {
			return c.ItemType
		}
	}
	return cfg.CanvasItemType
}

// TranscribePending transcribes and maps every uploaded discussion, oldest
// first. Each discussion fails on its own.
func (s *PipelineService) TranscribePending(ctx context.Context, cfg settings.Settings, b budget) (int, int, error) {
	pending, err := s.store.ListDiscussionsByStatus(ctx, discussion.StatusUploaded)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list uploaded discussions: %w", err)
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })

	ok, failed := 0, 0
	for _, d := range pending {
		if b.exhausted() {
			s.logger.Warn("Pass budget reached during transcription; remaining discussions wait for the next tick")
			break
		}
		if err := s.TranscribeAndMap(ctx, d, cfg); err != nil {
			failed++
			continue
		}
		ok++
	}
	return ok, failed, nil
}

// TranscribeAndMap runs the transcription and speaker-mapping stage for one
// discussion. Any failure leaves the discussion in error.
func (s *PipelineService) TranscribeAndMap(ctx context.Context, d *discussion.Discussion, cfg settings.Settings) error {
	log := s.logger.WithField("discussion_id", d.ID)

	current, err := s.store.GetDiscussion(ctx, d.ID)
	if err != nil {
		log.WithError(err).Error("Failed to reload discussion")
		return err
	}
	if current.Status != discussion.StatusUploaded {
		log.WithField("status", current.Status).Debug("Discussion already picked up")
		return nil
	}
	*d = *current

	err = moveTo(ctx, s.store, d, discussion.StatusTranscribing, discussion.Patch{NextStep: discussion.Ptr("Transcribing")})
	if errors.Is(err, discussion.ErrStatusChanged) {
		log.Debug("Discussion picked up by another run")
		return nil
	}
	if err != nil {
		log.WithError(err).Error("Failed to mark discussion as transcribing")
		return err
	}

	if err := s.transcribeAndMap(ctx, d, cfg, log); err != nil {
		if errors.Is(err, discussion.ErrStatusChanged) {
			log.WithError(err).Warn("Discussion changed while it was being transcribed; leaving it as is")
			return nil
		}
		s.metrics.Transcription("failed")
		s.failDiscussion(ctx, s.store, log, d, err)
		s.notify(ctx, log, "Discussion %s (%s %s) failed during transcription: %v", d.ID, d.Section, d.Date, err)
		return err
	}
	s.metrics.Transcription("ok")
	return nil
}

func (s *PipelineService) transcribeAndMap(ctx context.Context, d *discussion.Discussion, cfg settings.Settings, log *logrus.Entry) error {
	raw, err := s.transcribe(ctx, d, cfg)
	if err != nil {
		return err
	}
	if strings.TrimSpace(raw) == "" {
		return errors.New("transcription returned no text")
	}

	now := s.now()
	t := &discussion.Transcript{DiscussionID: d.ID, Raw: raw, CreatedAt: now, UpdatedAt: now}
	if existing, err := s.store.GetTranscript(ctx, d.ID); err == nil {
		t.CreatedAt = existing.CreatedAt
	}
	if err := s.store.SaveTranscript(ctx, t); err != nil {
		return fmt.Errorf("failed to save raw transcript: %w", err)
	}

	labels := transcript.Labels(raw)
	if len(labels) == 0 {
		return errors.New("transcript has no speaker labels")
	}

	suggestions, err := s.suggestSpeakers(ctx, raw, cfg)
	if err != nil {
		return err
	}

	for _, label := range labels {
		name := strings.TrimSpace(suggestions[label])
		if name == "" {
			name = discussion.UnknownSpeaker
		}
		m := &discussion.SpeakerMapping{DiscussionID: d.ID, Label: label, SuggestedName: name}
		if err := s.store.UpsertSpeaker(ctx, m); err != nil {
			return fmt.Errorf("failed to save speaker mapping %s: %w", label, err)
		}
	}

	mappings, err := s.store.ListSpeakers(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("failed to list speaker mappings: %w", err)
	}
	if _, err := s.rebuildNamed(ctx, s.store, d, mappings); err != nil {
		return err
	}

	hint := "Speakers identified; advancing to review"
	if cfg.Mode == discussion.ModeIndividual {
		hint = "Confirm speaker names"
	}
	if err := moveTo(ctx, s.store, d, discussion.StatusMapping, discussion.Patch{NextStep: &hint}); err != nil {
		return err
	}
	log.WithField("speakers", len(labels)).Info("Transcript mapped")
	if cfg.Mode == discussion.ModeIndividual {
		s.notify(ctx, log, "Discussion %s (%s %s) is ready for speaker confirmation", d.ID, d.Section, d.Date)
	}
	return nil
}

func (s *PipelineService) transcribe(ctx context.Context, d *discussion.Discussion, cfg settings.Settings) (string, error) {
	body, info, err := s.files.Open(ctx, d.AudioFileID)
	if err != nil {
		return "", fmt.Errorf("failed to open recording: %w", err)
	}
	defer body.Close()

	audio := provider.Audio{Name: info.Name, MimeType: info.MimeType, Size: info.Size}
	if s.cfg.LargeFileBytes > 0 && info.Size > s.cfg.LargeFileBytes {
		url, err := s.files.SignedURL(ctx, d.AudioFileID, s.cfg.SignedURLTTL)
		if err != nil {
			return "", fmt.Errorf("failed to sign recording URL: %w", err)
		}
		audio.URL = url
	} else {
		audio.Body = io.Reader(body)
	}

	raw, err := s.transcriber.Transcribe(ctx, audio, cfg.ElevenLabsModel)
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return raw, nil
}

// suggestSpeakers asks the generator for label->name suggestions from the
// introduction excerpt. An unparseable answer yields no suggestions.
func (s *PipelineService) suggestSpeakers(ctx context.Context, raw string, cfg settings.Settings) (map[string]string, error) {
	prompt, err := s.prompts.Render(ctx, settings.PromptSpeakerIdentification, map[string]string{
		"transcript": transcript.Excerpt(raw),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render speaker prompt: %w", err)
	}
	resp, err := s.generator.Generate(ctx, cfg.GeminiModel, prompt)
	if err != nil {
		return nil, fmt.Errorf("speaker identification failed: %w", err)
	}
	m, err := transcript.ParseSpeakerMap(resp)
	if err != nil {
		s.logger.WithError(err).Warn("Speaker identification response had no mapping")
		return map[string]string{}, nil
	}
	return m, nil
}

// Watchdog moves transcribing discussions that have not changed for the
// timeout to error.
func (s *PipelineService) Watchdog(ctx context.Context) (int, error) {
	if s.cfg.TranscribeTimeout <= 0 {
		return 0, nil
	}
	stuck, err := s.store.ListDiscussionsByStatus(ctx, discussion.StatusTranscribing)
	if err != nil {
		return 0, fmt.Errorf("failed to list in-flight discussions: %w", err)
	}
	now := s.now()
	n := 0
	for _, d := range stuck {
		elapsed := now.Sub(d.UpdatedAt)
		if elapsed <= s.cfg.TranscribeTimeout {
			continue
		}
		log := s.logger.WithField("discussion_id", d.ID)
		minutes := int(elapsed.Minutes())
		msg := fmt.Sprintf("Transcription timed out after %d minutes. Try splitting the recording into shorter parts and uploading them again.", minutes)
		patch := discussion.Patch{
			AppendError: discussion.ErrorEntry(now, msg),
			NextStep:    discussion.Ptr("Transcription timed out; split the recording and re-upload"),
		}
		if err := moveTo(ctx, s.store, d, discussion.StatusError, patch); err != nil {
			if errors.Is(err, discussion.ErrStatusChanged) {
				log.Debug("Transcription finished before the timeout was recorded")
				continue
			}
			log.WithError(err).Error("Failed to time out discussion")
			continue
		}
		n++
		s.metrics.WatchdogTimeout()
		log.WithField("elapsed_minutes", minutes).Warn("Stuck transcription moved to error")
		s.notify(ctx, log, "Discussion %s (%s %s): %s", d.ID, d.Section, d.Date, msg)
	}
	return n, nil
}

// Advance moves mapping discussions to review. Group mode advances every
// one; individual mode waits for every speaker to be confirmed and creates
// the student reports first.
func (s *PipelineService) Advance(ctx context.Context, mode discussion.Mode, b budget) (int, error) {
	waiting, err := s.store.ListDiscussionsByStatus(ctx, discussion.StatusMapping)
	if err != nil {
		return 0, fmt.Errorf("failed to list mapping discussions: %w", err)
	}

	n := 0
	for _, d := range waiting {
		if b.exhausted() {
			s.logger.Warn("Pass budget reached during advancement")
			break
		}
		log := s.logger.WithField("discussion_id", d.ID)
		advanced, err := s.advanceOne(ctx, d, mode, log)
		if errors.Is(err, discussion.ErrStatusChanged) {
			log.Debug("Discussion moved on before advancement")
			continue
		}
		if err != nil {
			log.WithError(err).Error("Failed to advance discussion")
			continue
		}
		if advanced {
			n++
		}
	}
	return n, nil
}

func (s *PipelineService) advanceOne(ctx context.Context, d *discussion.Discussion, mode discussion.Mode, log *logrus.Entry) (bool, error) {
	if mode == discussion.ModeGroup {
		hint := "Enter a grade, then generate feedback"
		if d.GroupFeedback != "" {
			hint = hintReviewFeedback
		}
		if err := moveTo(ctx, s.store, d, discussion.StatusReview, discussion.Patch{NextStep: &hint}); err != nil {
			return false, err
		}
		log.Info("Discussion advanced to review")
		return true, nil
	}

	mappings, err := s.store.ListSpeakers(ctx, d.ID)
	if err != nil {
		return false, fmt.Errorf("failed to list speaker mappings: %w", err)
	}
	if !discussion.AllConfirmed(mappings) {
		confirmed := 0
		for _, m := range mappings {
			if m.Confirmed {
				confirmed++
			}
		}
		hint := fmt.Sprintf("Confirm speaker names (%d of %d confirmed)", confirmed, len(mappings))
		return false, setNextStep(ctx, s.store, d, hint)
	}

	t, err := s.rebuildNamed(ctx, s.store, d, mappings)
	if err != nil {
		return false, err
	}
	if _, err := s.ensureReports(ctx, s.store, log, d, mappings, namedTranscript(t)); err != nil {
		return false, err
	}
	hint := "Enter student grades, then generate feedback"
	if err := moveTo(ctx, s.store, d, discussion.StatusReview, discussion.Patch{NextStep: &hint}); err != nil {
		return false, err
	}
	log.Info("Discussion advanced to review with student reports")
	return true, nil
}

// Overview counts discussions per status.
func (s *PipelineService) Overview(ctx context.Context) (map[discussion.Status]int, error) {
	all, err := s.store.ListDiscussions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list discussions: %w", err)
	}
	counts := make(map[discussion.Status]int, len(discussion.AllStatuses))
	for _, st := range discussion.AllStatuses {
		counts[st] = 0
	}
	for _, d := range all {
		counts[d.Status]++
	}
	return counts, nil
}
