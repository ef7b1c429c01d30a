// Package elevenlabs is a client for the ElevenLabs Scribe speech-to-text
// API with speaker diarization.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"harkness_helper/internal/domain/provider"
	"harkness_helper/internal/domain/transcript"
)

const defaultModel = "scribe_v2"

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Entry
}

// NewClient returns nil when apiKey is empty so callers can treat the
// transcriber as unconfigured.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *logrus.Entry) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.WithField("component", "elevenlabs"),
	}
}

type word struct {
	Text      string  `json:"text"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Type      string  `json:"type"`
	SpeakerID string  `json:"speaker_id"`
}

type response struct {
	LanguageCode string `json:"language_code"`
	Text         string `json:"text"`
	Words        []word `json:"words"`
}

// Transcribe uploads the audio, or passes its URL when audio.URL is set, and
// returns one "[Speaker N] [MM:SS] text" line per speaker turn.
func (c *Client) Transcribe(ctx context.Context, audio provider.Audio, model string) (string, error) {
	if model == "" {
		model = defaultModel
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := map[string]string{
		"model_id":               model,
		"diarize":                "true",
		"timestamps_granularity": "word",
		"tag_audio_events":       "false",
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return "", fmt.Errorf("failed to build request: %w", err)
		}
	}
	switch {
	case audio.URL != "":
		if err := w.WriteField("cloud_storage_url", audio.URL); err != nil {
			return "", fmt.Errorf("failed to build request: %w", err)
		}
	case audio.Body != nil:
		part, err := w.CreateFormFile("file", audio.Name)
		if err != nil {
			return "", fmt.Errorf("failed to build request: %w", err)
		}
		if _, err := io.Copy(part, audio.Body); err != nil {
			return "", fmt.Errorf("failed to read audio: %w", err)
		}
	default:
		return "", fmt.Errorf("audio %s has neither body nor URL", audio.Name)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/speech-to-text", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("xi-api-key", c.apiKey)

	c.logger.WithFields(logrus.Fields{"file": audio.Name, "by_url": audio.URL != ""}).Info("Submitting audio for transcription")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("transcription failed with status %d: %s", resp.StatusCode, truncate(string(raw), 300))
	}

	var parsed response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("json decode error: %w", err)
	}
	return formatWords(parsed.Words), nil
}

// formatWords groups consecutive words of one speaker into a line stamped
// with the turn's start time.
func formatWords(words []word) string {
	var (
		lines   []string
		current string
		start   float64
		buf     strings.Builder
	)
	flush := func() {
		if text := strings.TrimSpace(buf.String()); text != "" {
			lines = append(lines, fmt.Sprintf("[%s] [%s] %s", current, transcript.FormatStamp(int(start)), text))
		}
		buf.Reset()
	}
	for _, w := range words {
		if w.Type == "audio_event" {
			continue
		}
		label := speakerLabel(w.SpeakerID)
		if w.Type == "word" && label != current {
			flush()
			current, start = label, w.Start
		}
		buf.WriteString(w.Text)
	}
	flush()
	return strings.Join(lines, "\n")
}

// speakerLabel turns "speaker_0" into "Speaker 0".
func speakerLabel(id string) string {
	n := strings.TrimPrefix(id, "speaker_")
	if _, err := strconv.Atoi(n); err == nil {
		return "Speaker " + n
	}
	if id == "" {
		return "Speaker ?"
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
