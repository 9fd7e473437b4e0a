// Package gemini is a minimal client for the Generative Language API
// generateContent endpoint.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidResponse marks a 2xx answer without a usable candidate.
var ErrInvalidResponse = errors.New("invalid generateContent response")

var validate = validator.New(validator.WithRequiredStructEnabled())

type ObserverFunc func(endpoint string, status int, duration time.Duration)

type Option func(*Client)

type Client struct {
	baseURL    string
	httpClient *http.Client
	observer   ObserverFunc
}

type Error struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gemini request failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gemini request failed with status %d", e.StatusCode)
}

type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type GenerationConfig struct {
	Temperature float64 `json:"temperature"`
}

type GenerateContentRequest struct {
	Contents         []Content        `json:"contents"`
	GenerationConfig GenerationConfig `json:"generationConfig"`
}

type responsePart struct {
	Text string `json:"text" validate:"required"`
}

type responseContent struct {
	Parts []responsePart `json:"parts" validate:"min=1"`
}

type candidate struct {
	Content      responseContent `json:"content"`
	FinishReason string          `json:"finishReason,omitempty"`
}

// Later candidates and parts are never read, so only the first of each is
// validated.
type generateContentResponse struct {
	Candidates []candidate `json:"candidates" validate:"min=1"`
}

// GenerateContentResponse carries the first candidate's first text part,
// the only piece callers read.
type GenerateContentResponse struct {
	Text         string
	FinishReason string
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

func (c *Client) GenerateContent(ctx context.Context, apiKey, model string, reqPayload GenerateContentRequest) (GenerateContentResponse, error) {
	started := time.Now()
	statusCode := 0
	defer func() { c.observe("generate_content", statusCode, time.Since(started)) }()

	payload, err := json.Marshal(reqPayload)
	if err != nil {
		return GenerateContentResponse{}, err
	}

	endpoint := c.baseURL + "/models/" + url.PathEscape(model) + ":generateContent"
	resp, err := c.do(ctx, http.MethodPost, endpoint, apiKey, payload)
	if err != nil {
		return GenerateContentResponse{}, err
	}
	defer resp.Body.Close()
	statusCode = resp.StatusCode

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return GenerateContentResponse{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return GenerateContentResponse{}, newError(resp.StatusCode, respBody)
	}

	return parseGenerateContent(respBody)
}

func (c *Client) CheckModels(ctx context.Context, apiKey string) error {
	started := time.Now()
	statusCode := 0
	defer func() { c.observe("models", statusCode, time.Since(started)) }()

	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/models", apiKey, nil)
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

// do sends the request with the key as a query credential. Transport errors
// embed the request URL, so the key is scrubbed from them before returning.
func (c *Client) do(ctx context.Context, method, endpoint, apiKey string, payload []byte) (*http.Response, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("key", strings.TrimSpace(apiKey))
	u.RawQuery = q.Encode()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, redactKey(err)
	}
	return resp, nil
}

func (c *Client) observe(endpoint string, status int, duration time.Duration) {
	if c.observer != nil {
		c.observer(endpoint, status, duration)
	}
}

func redactKey(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	u, parseErr := url.Parse(urlErr.URL)
	if parseErr != nil {
		return &url.Error{Op: urlErr.Op, URL: "[redacted]", Err: urlErr.Err}
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return &url.Error{Op: urlErr.Op, URL: u.String(), Err: urlErr.Err}
}

func parseGenerateContent(data []byte) (GenerateContentResponse, error) {
	var parsed generateContentResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return GenerateContentResponse{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := validate.Struct(parsed); err != nil {
		return GenerateContentResponse{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	first := parsed.Candidates[0]
	if err := validate.Struct(first.Content); err != nil {
		return GenerateContentResponse{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	part := first.Content.Parts[0]
	if err := validate.Struct(part); err != nil {
		return GenerateContentResponse{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return GenerateContentResponse{
		Text:         part.Text,
		FinishReason: first.FinishReason,
	}, nil
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
