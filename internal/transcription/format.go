package transcription

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"voxscribe/internal/upstream/openai"
)

// UnavailableMarker is how an Amount the provider cannot supply is rendered.
const UnavailableMarker = "N/A"

// Amount is a statistic that is either known or explicitly unavailable.
// The zero value is unavailable, never 0.
type Amount struct {
	value float64
	known bool
}

func Known(v float64) Amount {
	return Amount{value: v, known: true}
}

// Unavailable reports a statistic the provider response cannot supply.
func Unavailable() Amount {
	return Amount{}
}

func (a Amount) Value() (float64, bool) {
	return a.value, a.known
}

func (a Amount) IsKnown() bool {
	return a.known
}

// Format renders the value with the given number of decimals, or the
// shortest exact representation when decimals is negative.
func (a Amount) Format(decimals int) string {
	if !a.known {
		return UnavailableMarker
	}
	return strconv.FormatFloat(a.value, 'f', decimals, 64)
}

func (a Amount) String() string {
	return a.Format(-1)
}

// FormatTimestamp renders an offset in seconds as HH:MM:SS,mmm.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	totalMS := int64(math.Round(seconds * 1000))
	ms := totalMS % 1000
	totalSec := totalMS / 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", totalSec/3600, (totalSec/60)%60, totalSec%60, ms)
}

// FormatSegments builds numbered subtitle blocks separated by blank lines.
// Indexes start at 0.
func FormatSegments(segments []openai.Segment) string {
	blocks := make([]string, 0, len(segments))
	for i, seg := range segments {
		blocks = append(blocks, fmt.Sprintf("%d\n%s --> %s\n%s",
			i,
			FormatTimestamp(seg.Start),
			FormatTimestamp(seg.End),
			strings.TrimSpace(seg.Text),
		))
	}
	return strings.Join(blocks, "\n\n")
}

// EstimateCost returns (durationSeconds / 60) * ratePerMinute.
func EstimateCost(durationSeconds, ratePerMinute float64) float64 {
	return (durationSeconds / 60) * ratePerMinute
}

// FormatCost renders a USD amount with 5 decimals.
func FormatCost(cost Amount) string {
	return cost.Format(5)
}
