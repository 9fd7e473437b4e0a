package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidResponse marks a successful HTTP exchange whose body does not
// have the expected verbose transcription shape.
var ErrInvalidResponse = errors.New("invalid transcription response")

var validate = validator.New(validator.WithRequiredStructEnabled())

type ObserverFunc func(endpoint string, status int, duration time.Duration)

type Option func(*Client)

type Client struct {
	baseURL    string
	httpClient *http.Client
	observer   ObserverFunc
}

// Error is a non-2xx answer. Message holds error.message from the body when
// the API supplied one.
type Error struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("openai request failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("openai request failed with status %d", e.StatusCode)
}

type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start" validate:"gte=0"`
	End   float64 `json:"end" validate:"gtefield=Start"`
	Text  string  `json:"text"`
}

// VerboseTranscription is the verbose_json answer of /audio/transcriptions.
// Segments must be present; silent audio yields an empty list, not a
// missing one.
type VerboseTranscription struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Duration *float64  `json:"duration" validate:"required,gte=0"`
	Segments []Segment `json:"segments" validate:"required,dive"`
}

func WithObserver(observer ObserverFunc) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

func New(baseURL string, httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Transcribe uploads the audio and asks for verbose JSON with segment level
// timestamps.
func (c *Client) Transcribe(ctx context.Context, apiKey string, file io.Reader, fileName, model string) (VerboseTranscription, error) {
	started := time.Now()
	statusCode := 0
	defer func() { c.observe("audio_transcriptions", statusCode, time.Since(started)) }()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	fields := [][2]string{
		{"model", model},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "segment"},
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return VerboseTranscription{}, err
		}
	}
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return VerboseTranscription{}, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return VerboseTranscription{}, err
	}
	if err := writer.Close(); err != nil {
		return VerboseTranscription{}, err
	}

	url := c.baseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body.Bytes()))
	if err != nil {
		return VerboseTranscription{}, err
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(apiKey))
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return VerboseTranscription{}, err
	}
	defer resp.Body.Close()
	statusCode = resp.StatusCode

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return VerboseTranscription{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return VerboseTranscription{}, newError(resp.StatusCode, respBody)
	}

	return parseVerboseTranscription(respBody)
}

func (c *Client) CheckModels(ctx context.Context, apiKey string) error {
	started := time.Now()
	statusCode := 0
	defer func() { c.observe("models", statusCode, time.Since(started)) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(apiKey))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	statusCode = resp.StatusCode

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return newError(resp.StatusCode, body)
	}
	return nil
}

func (c *Client) observe(endpoint string, status int, duration time.Duration) {
	if c.observer != nil {
		c.observer(endpoint, status, duration)
	}
}

func parseVerboseTranscription(data []byte) (VerboseTranscription, error) {
	var parsed VerboseTranscription
	if err := json.Unmarshal(data, &parsed); err != nil {
		return VerboseTranscription{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := validate.Struct(parsed); err != nil {
		return VerboseTranscription{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return parsed, nil
}

func newError(status int, body []byte) *Error {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	e := &Error{StatusCode: status, Body: truncateBody(string(body))}
	if json.Unmarshal(body, &parsed) == nil {
		e.Message = strings.TrimSpace(parsed.Error.Message)
	}
	return e
}

func truncateBody(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4096 {
		return s
	}
	return s[:4096] + "..."
}
