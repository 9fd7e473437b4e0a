// Package transcription turns one audio upload into a normalized transcript
// using either OpenAI or Gemini.
package transcription

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"voxscribe/internal/catalog"
	"voxscribe/internal/upstream/gemini"
	"voxscribe/internal/upstream/openai"
)

// GeminiPrompt instructs Gemini to answer in the same block layout the
// OpenAI adapter produces.
const GeminiPrompt = `Your task is to produce high quality, accurate subtitles appropriate for the audience that faithfully capture the dialogue. Number each segment, assign its timestamp and transcribe what is said. Do not stop until the end and do not skip any dialogue. The exact output format must be:

SEGMENT NUMBER
START_TIMESTAMP --> END_TIMESTAMP
DIALOGUE TRANSCRIPTION`

const geminiTemperature = 0.2

const defaultAudioMIMEType = "audio/mpeg"

type OpenAIClient interface {
	Transcribe(ctx context.Context, apiKey string, file io.Reader, fileName, model string) (openai.VerboseTranscription, error)
}

type GeminiClient interface {
	GenerateContent(ctx context.Context, apiKey, model string, req gemini.GenerateContentRequest) (gemini.GenerateContentResponse, error)
}

// Audio is an uploaded file. ContentType is the declared part type, may be
// empty.
type Audio struct {
	Reader      io.Reader
	FileName    string
	ContentType string
}

type Request struct {
	Provider catalog.Provider
	Model    string
	APIKey   string
	Audio    Audio
}

// Result is the provider independent shape of a finished transcription.
type Result struct {
	Transcript string
	Duration   Amount
	Cost       Amount
}

type Service struct {
	openai  OpenAIClient
	gemini  GeminiClient
	timeout time.Duration
}

func New(openaiClient OpenAIClient, geminiClient GeminiClient, timeout time.Duration) *Service {
	return &Service{
		openai:  openaiClient,
		gemini:  geminiClient,
		timeout: timeout,
	}
}

// Transcribe dispatches to the adapter of req.Provider.
func (s *Service) Transcribe(ctx context.Context, req Request) (Result, error) {
	switch req.Provider {
	case catalog.ProviderOpenAI:
		return s.TranscribeWithOpenAI(ctx, req.APIKey, req.Model, req.Audio)
	case catalog.ProviderGemini:
		return s.TranscribeWithGemini(ctx, req.APIKey, req.Model, req.Audio)
	default:
		return Result{}, invalid("unsupported provider %q", req.Provider)
	}
}

func (s *Service) TranscribeWithOpenAI(ctx context.Context, apiKey, model string, audio Audio) (Result, error) {
	model, data, err := prepare(catalog.ProviderOpenAI, apiKey, model, audio)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.openai.Transcribe(ctx, apiKey, bytes.NewReader(data), fileNameOrDefault(audio.FileName), model)
	if err != nil {
		return Result{}, classifyOpenAI(err)
	}
	if resp.Duration == nil {
		return Result{}, &DecodingError{Provider: catalog.ProviderOpenAI, Err: errors.New("missing duration")}
	}
	if resp.Segments == nil {
		return Result{}, &DecodingError{Provider: catalog.ProviderOpenAI, Err: errors.New("missing segments")}
	}

	duration := *resp.Duration
	return Result{
		Transcript: FormatSegments(resp.Segments),
		Duration:   Known(duration),
		Cost:       Known(EstimateCost(duration, catalog.RatePerMinute(model))),
	}, nil
}

func (s *Service) TranscribeWithGemini(ctx context.Context, apiKey, model string, audio Audio) (Result, error) {
	model, data, err := prepare(catalog.ProviderGemini, apiKey, model, audio)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.gemini.GenerateContent(ctx, apiKey, model, gemini.GenerateContentRequest{
		Contents: []gemini.Content{{
			Parts: []gemini.Part{
				{Text: GeminiPrompt},
				{InlineData: &gemini.InlineData{
					MimeType: audioMIMEType(audio, data),
					Data:     base64.StdEncoding.EncodeToString(data),
				}},
			},
		}},
		GenerationConfig: gemini.GenerationConfig{Temperature: geminiTemperature},
	})
	if err != nil {
		return Result{}, classifyGemini(err)
	}

	return Result{
		Transcript: resp.Text,
		Duration:   Unavailable(),
		Cost:       Unavailable(),
	}, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// prepare checks the preconditions shared by both adapters and reads the
// whole file into memory.
func prepare(p catalog.Provider, apiKey, model string, audio Audio) (string, []byte, error) {
	if strings.TrimSpace(apiKey) == "" {
		return "", nil, invalid("an API key for %s is required", p.DisplayName())
	}
	if audio.Reader == nil {
		return "", nil, invalid("an audio file is required")
	}
	resolved, err := catalog.ResolveModel(p, model)
	if err != nil {
		return "", nil, invalid("%v", err)
	}
	data, err := io.ReadAll(audio.Reader)
	if err != nil {
		return "", nil, invalid("audio file could not be read: %v", err)
	}
	if len(data) == 0 {
		return "", nil, invalid("audio file is empty")
	}
	return resolved, data, nil
}

func fileNameOrDefault(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return "audio.mp3"
	}
	return name
}

// audioMIMEType prefers the declared type, then content sniffing, then the
// file extension.
func audioMIMEType(audio Audio, data []byte) string {
	if mt := audioMediaType(audio.ContentType); mt != "" {
		return mt
	}
	if mt := audioMediaType(mimetype.Detect(data).String()); mt != "" {
		return mt
	}
	if mt := audioMediaType(mime.TypeByExtension(strings.ToLower(filepath.Ext(audio.FileName)))); mt != "" {
		return mt
	}
	return defaultAudioMIMEType
}

func audioMediaType(value string) string {
	if value == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(value)
	if err != nil || !strings.HasPrefix(mt, "audio/") {
		return ""
	}
	return mt
}
