package transcription

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"voxscribe/internal/catalog"
	"voxscribe/internal/upstream/gemini"
	"voxscribe/internal/upstream/openai"
)

type fakeOpenAI struct {
	resp     openai.VerboseTranscription
	err      error
	calls    int
	apiKey   string
	model    string
	fileName string
	fileBody string
}

func (f *fakeOpenAI) Transcribe(_ context.Context, apiKey string, file io.Reader, fileName, model string) (openai.VerboseTranscription, error) {
	f.calls++
	body, _ := io.ReadAll(file)
	f.apiKey, f.model, f.fileName, f.fileBody = apiKey, model, fileName, string(body)
	return f.resp, f.err
}

type fakeGemini struct {
	resp  gemini.GenerateContentResponse
	err   error
	calls int
	model string
	req   gemini.GenerateContentRequest
}

func (f *fakeGemini) GenerateContent(_ context.Context, _ string, model string, req gemini.GenerateContentRequest) (gemini.GenerateContentResponse, error) {
	f.calls++
	f.model = model
	f.req = req
	return f.resp, f.err
}

func ptr(v float64) *float64 { return &v }

func twoSegmentResponse() openai.VerboseTranscription {
	return openai.VerboseTranscription{
		Duration: ptr(90),
		Segments: []openai.Segment{
			{Start: 0, End: 45, Text: " First half."},
			{Start: 45, End: 90, Text: " Second half."},
		},
	}
}

func audio(body string) Audio {
	return Audio{Reader: strings.NewReader(body), FileName: "clip.mp3"}
}

func TestTranscribeWithOpenAIFormatsSegmentsAndCost(t *testing.T) {
	oa := &fakeOpenAI{resp: twoSegmentResponse()}
	svc := New(oa, &fakeGemini{}, time.Second)

	res, err := svc.TranscribeWithOpenAI(context.Background(), "sk-test", "whisper-1", audio("audio-bytes"))
	if err != nil {
		t.Fatalf("TranscribeWithOpenAI() error = %v", err)
	}
	want := "0\n00:00:00,000 --> 00:00:45,000\nFirst half.\n\n1\n00:00:45,000 --> 00:01:30,000\nSecond half."
	if res.Transcript != want {
		t.Fatalf("unexpected transcript:\n%s", res.Transcript)
	}
	if got := FormatCost(res.Cost); got != "0.00900" {
		t.Fatalf("unexpected cost: %q", got)
	}
	if got := res.Duration.String(); got != "90" {
		t.Fatalf("unexpected duration: %q", got)
	}
	if oa.apiKey != "sk-test" || oa.model != "whisper-1" || oa.fileBody != "audio-bytes" || oa.fileName != "clip.mp3" {
		t.Fatalf("unexpected upstream call: %+v", oa)
	}
}

func TestTranscribeWithOpenAIIsDeterministic(t *testing.T) {
	svc := New(&fakeOpenAI{resp: twoSegmentResponse()}, &fakeGemini{}, time.Second)

	first, err := svc.TranscribeWithOpenAI(context.Background(), "k", "gpt-4o", audio("a"))
	if err != nil {
		t.Fatalf("first call error = %v", err)
	}
	second, err := svc.TranscribeWithOpenAI(context.Background(), "k", "gpt-4o", audio("a"))
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if first.Transcript != second.Transcript {
		t.Fatalf("transcripts differ:\n%q\n%q", first.Transcript, second.Transcript)
	}
	if got := FormatCost(first.Cost); got != "0.02250" {
		t.Fatalf("unexpected gpt-4o cost: %q", got)
	}
}

func TestTranscribeWithGeminiReportsUnavailableStats(t *testing.T) {
	gm := &fakeGemini{resp: gemini.GenerateContentResponse{Text: "0\n00:00:00,000 --> 00:00:02,000\nHola"}}
	svc := New(&fakeOpenAI{}, gm, time.Second)

	res, err := svc.TranscribeWithGemini(context.Background(), "g-key", "", Audio{
		Reader:      strings.NewReader("raw-audio"),
		FileName:    "clip.ogg",
		ContentType: "audio/ogg",
	})
	if err != nil {
		t.Fatalf("TranscribeWithGemini() error = %v", err)
	}
	if res.Transcript != "0\n00:00:00,000 --> 00:00:02,000\nHola" {
		t.Fatalf("transcript must be returned verbatim, got %q", res.Transcript)
	}
	if res.Duration.IsKnown() || res.Cost.IsKnown() {
		t.Fatalf("expected unavailable stats, got duration=%v cost=%v", res.Duration, res.Cost)
	}
	if res.Cost.String() != UnavailableMarker || res.Duration.String() != UnavailableMarker {
		t.Fatalf("unexpected stat rendering: %q %q", res.Duration, res.Cost)
	}
	if gm.model != "gemini-2.5-pro" {
		t.Fatalf("expected default model, got %q", gm.model)
	}

	parts := gm.req.Contents[0].Parts
	if parts[0].Text != GeminiPrompt {
		t.Fatalf("unexpected prompt part: %q", parts[0].Text)
	}
	if parts[1].InlineData.MimeType != "audio/ogg" {
		t.Fatalf("unexpected mime type: %q", parts[1].InlineData.MimeType)
	}
	decoded, err := base64.StdEncoding.DecodeString(parts[1].InlineData.Data)
	if err != nil || string(decoded) != "raw-audio" {
		t.Fatalf("unexpected inline data: %q (%v)", decoded, err)
	}
	if gm.req.GenerationConfig.Temperature != 0.2 {
		t.Fatalf("unexpected temperature: %v", gm.req.GenerationConfig.Temperature)
	}
}

func TestAudioMIMETypeDetection(t *testing.T) {
	id3 := "ID3\x03\x00\x00\x00\x00\x00\x00" + strings.Repeat("\x00", 32)
	cases := []struct {
		name  string
		audio Audio
		data  string
		want  string
	}{
		{"declared", Audio{ContentType: "audio/wav; codecs=1"}, "x", "audio/wav"},
		{"sniffed", Audio{ContentType: "application/octet-stream"}, id3, "audio/mpeg"},
		{"fallback", Audio{FileName: "clip.unknownext"}, "plain", "audio/mpeg"},
	}
	for _, tc := range cases {
		if got := audioMIMEType(tc.audio, []byte(tc.data)); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestValidationErrorsSkipNetwork(t *testing.T) {
	oa := &fakeOpenAI{}
	gm := &fakeGemini{}
	svc := New(oa, gm, time.Second)

	cases := []struct {
		name string
		req  Request
	}{
		{"missing key", Request{Provider: catalog.ProviderGemini, Audio: audio("a")}},
		{"blank key", Request{Provider: catalog.ProviderOpenAI, APIKey: "  ", Audio: audio("a")}},
		{"missing audio", Request{Provider: catalog.ProviderOpenAI, APIKey: "k"}},
		{"empty audio", Request{Provider: catalog.ProviderOpenAI, APIKey: "k", Audio: audio("")}},
		{"wrong model", Request{Provider: catalog.ProviderOpenAI, APIKey: "k", Model: "gemini-2.5-pro", Audio: audio("a")}},
		{"unknown provider", Request{Provider: "azure", APIKey: "k", Audio: audio("a")}},
	}
	for _, tc := range cases {
		_, err := svc.Transcribe(context.Background(), tc.req)
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("%s: expected *ValidationError, got %v", tc.name, err)
		}
	}
	if oa.calls != 0 || gm.calls != 0 {
		t.Fatalf("no upstream call expected, got openai=%d gemini=%d", oa.calls, gm.calls)
	}
}

func TestProviderErrorMessageIsVerbatim(t *testing.T) {
	svc := New(&fakeOpenAI{err: &openai.Error{StatusCode: 401, Message: "Incorrect API key provided: sk-***"}}, &fakeGemini{}, time.Second)

	_, err := svc.TranscribeWithOpenAI(context.Background(), "k", "whisper-1", audio("a"))
	var pErr *ProviderError
	if !errors.As(err, &pErr) {
		t.Fatalf("expected *ProviderError, got %T", err)
	}
	if err.Error() != "Incorrect API key provided: sk-***" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	if pErr.StatusCode != 401 {
		t.Fatalf("unexpected status: %d", pErr.StatusCode)
	}
}

func TestProviderErrorFallbackMessage(t *testing.T) {
	svc := New(&fakeOpenAI{}, &fakeGemini{err: &gemini.Error{StatusCode: 500}}, time.Second)

	_, err := svc.TranscribeWithGemini(context.Background(), "k", "gemini-2.5-flash", audio("a"))
	if err == nil || err.Error() != "unknown error from the Gemini API" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNetworkAndDecodingErrors(t *testing.T) {
	transportErr := &fakeOpenAI{err: http.ErrHandlerTimeout}
	svc := New(transportErr, &fakeGemini{err: errors.Join(gemini.ErrInvalidResponse, errors.New("candidates missing"))}, time.Second)

	_, err := svc.TranscribeWithOpenAI(context.Background(), "k", "whisper-1", audio("a"))
	var nErr *NetworkError
	if !errors.As(err, &nErr) || nErr.Provider != catalog.ProviderOpenAI {
		t.Fatalf("expected *NetworkError, got %v", err)
	}

	_, err = svc.TranscribeWithGemini(context.Background(), "k", "gemini-2.5-flash", audio("a"))
	var dErr *DecodingError
	if !errors.As(err, &dErr) || dErr.Provider != catalog.ProviderGemini {
		t.Fatalf("expected *DecodingError, got %v", err)
	}
}

func TestTranscribeWithOpenAIMissingSegmentsIsDecodingError(t *testing.T) {
	oa := &fakeOpenAI{resp: openai.VerboseTranscription{Text: "hello", Duration: ptr(90)}}
	svc := New(oa, &fakeGemini{}, time.Second)

	res, err := svc.TranscribeWithOpenAI(context.Background(), "k", "whisper-1", audio("a"))
	var dErr *DecodingError
	if !errors.As(err, &dErr) || dErr.Provider != catalog.ProviderOpenAI {
		t.Fatalf("expected *DecodingError, got %v", err)
	}
	if res.Transcript != "" {
		t.Fatalf("unexpected transcript: %q", res.Transcript)
	}
}

func TestIsTimeout(t *testing.T) {
	err := &NetworkError{Provider: catalog.ProviderOpenAI, Err: context.DeadlineExceeded}
	if !IsTimeout(err) {
		t.Fatal("expected wrapped deadline to be a timeout")
	}
	if IsTimeout(errors.New("boom")) {
		t.Fatal("plain error is not a timeout")
	}
}
