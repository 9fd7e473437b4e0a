package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestTranscribeSendsVerboseSegmentRequest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected auth header: %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()
		if r.FormValue("model") != "whisper-1" {
			t.Fatalf("unexpected model: %q", r.FormValue("model"))
		}
		if r.FormValue("response_format") != "verbose_json" {
			t.Fatalf("unexpected response_format: %q", r.FormValue("response_format"))
		}
		if r.FormValue("timestamp_granularities[]") != "segment" {
			t.Fatalf("unexpected granularity: %q", r.FormValue("timestamp_granularities[]"))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		if header.Filename != "sample.mp3" || string(body) != "audio" {
			t.Fatalf("unexpected file %q: %q", header.Filename, body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"hi there","duration":3.5,"segments":[{"id":0,"start":0,"end":1.2,"text":" hi"},{"id":1,"start":1.2,"end":3.5,"text":" there"}]}`)
	}))
	defer ts.Close()

	c := New(ts.URL, ts.Client())
	got, err := c.Transcribe(context.Background(), "test-key", strings.NewReader("audio"), "sample.mp3", "whisper-1")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got.Duration == nil || *got.Duration != 3.5 {
		t.Fatalf("unexpected duration: %v", got.Duration)
	}
	if len(got.Segments) != 2 || got.Segments[1].Text != " there" {
		t.Fatalf("unexpected segments: %+v", got.Segments)
	}
}

func TestTranscribeRejectsResponseWithoutDuration(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"text":"hello"}`)
	}))
	defer ts.Close()

	c := New(ts.URL, ts.Client())
	_, err := c.Transcribe(context.Background(), "k", strings.NewReader("audio"), "a.wav", "whisper-1")
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestTranscribeRejectsResponseWithoutSegments(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"text":"hello","duration":90}`)
	}))
	defer ts.Close()

	c := New(ts.URL, ts.Client())
	_, err := c.Transcribe(context.Background(), "k", strings.NewReader("audio"), "a.wav", "whisper-1")
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestTranscribeAcceptsEmptySegmentList(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"text":"","duration":4,"segments":[]}`)
	}))
	defer ts.Close()

	c := New(ts.URL, ts.Client())
	got, err := c.Transcribe(context.Background(), "k", strings.NewReader("audio"), "silence.wav", "whisper-1")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got.Segments == nil || len(got.Segments) != 0 {
		t.Fatalf("unexpected segments: %#v", got.Segments)
	}
}

func TestTranscribeRejectsPlainTextResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hello\nworld")
	}))
	defer ts.Close()

	c := New(ts.URL, ts.Client())
	_, err := c.Transcribe(context.Background(), "k", strings.NewReader("audio"), "a.wav", "whisper-1")
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestTranscribeReturnsUpstreamErrorMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`)
	}))
	defer ts.Close()

	c := New(ts.URL, ts.Client())
	_, err := c.Transcribe(context.Background(), "bad", strings.NewReader("audio"), "a.wav", "whisper-1")
	var upErr *Error
	if !errors.As(err, &upErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if upErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: %d", upErr.StatusCode)
	}
	if upErr.Message != "Incorrect API key provided" {
		t.Fatalf("unexpected message: %q", upErr.Message)
	}
}

func TestTranscribeErrorWithoutMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := New(ts.URL, ts.Client())
	_, err := c.Transcribe(context.Background(), "k", strings.NewReader("audio"), "a.wav", "whisper-1")
	var upErr *Error
	if !errors.As(err, &upErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if upErr.Message != "" || upErr.Body != "rate limited" {
		t.Fatalf("unexpected error: %+v", upErr)
	}
}

func TestObserverReceivesStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	var gotEndpoint string
	var gotStatus int
	c := New(ts.URL, ts.Client(), WithObserver(func(endpoint string, status int, _ time.Duration) {
		gotEndpoint = endpoint
		gotStatus = status
	}))
	if err := c.CheckModels(context.Background(), "k"); err != nil {
		t.Fatalf("CheckModels() error = %v", err)
	}
	if gotEndpoint != "models" || gotStatus != http.StatusOK {
		t.Fatalf("unexpected observation: %s %d", gotEndpoint, gotStatus)
	}
}
