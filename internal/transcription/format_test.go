package transcription

import (
	"strings"
	"testing"

	"voxscribe/internal/upstream/openai"
)

func TestFormatTimestamp(t *testing.T) {
	cases := map[float64]string{
		0:       "00:00:00,000",
		75.5:    "00:01:15,500",
		1.001:   "00:00:01,001",
		3661.25: "01:01:01,250",
		90000:   "25:00:00,000",
		-3:      "00:00:00,000",
	}
	for in, want := range cases {
		if got := FormatTimestamp(in); got != want {
			t.Fatalf("FormatTimestamp(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatSegmentsNumbersBlocksFromZero(t *testing.T) {
	segments := []openai.Segment{
		{Start: 0, End: 2.5, Text: " Hello there. "},
		{Start: 2.5, End: 4, Text: "General Kenobi."},
		{Start: 4, End: 75.5, Text: " Bye"},
	}

	got := FormatSegments(segments)
	blocks := strings.Split(got, "\n\n")
	if len(blocks) != len(segments) {
		t.Fatalf("got %d blocks, want %d: %q", len(blocks), len(segments), got)
	}
	want := "0\n00:00:00,000 --> 00:00:02,500\nHello there."
	if blocks[0] != want {
		t.Fatalf("block 0 = %q, want %q", blocks[0], want)
	}
	if blocks[2] != "2\n00:00:04,000 --> 00:01:15,500\nBye" {
		t.Fatalf("unexpected block 2: %q", blocks[2])
	}
}

func TestFormatSegmentsEmpty(t *testing.T) {
	if got := FormatSegments(nil); got != "" {
		t.Fatalf("expected empty transcript, got %q", got)
	}
}

func TestFormatCost(t *testing.T) {
	if got := FormatCost(Known(EstimateCost(120, 0.006))); got != "0.01200" {
		t.Fatalf("unexpected cost: %q", got)
	}
	if got := FormatCost(Known(EstimateCost(90, 0.006))); got != "0.00900" {
		t.Fatalf("unexpected cost: %q", got)
	}
	if got := FormatCost(Known(EstimateCost(300, 0))); got != "0.00000" {
		t.Fatalf("unexpected zero-rate cost: %q", got)
	}
}

func TestUnavailableAmountIsNotZero(t *testing.T) {
	a := Unavailable()
	if a.IsKnown() {
		t.Fatal("Unavailable() must not be known")
	}
	if got := a.String(); got != UnavailableMarker {
		t.Fatalf("unexpected rendering: %q", got)
	}
	if got := FormatCost(a); got != UnavailableMarker {
		t.Fatalf("unexpected cost rendering: %q", got)
	}
	if got := Known(90).String(); got != "90" {
		t.Fatalf("unexpected known rendering: %q", got)
	}
}
