// Package catalog lists the supported transcription providers, their models
// and the per-minute prices used for cost estimates.
package catalog

import (
	"fmt"
	"strings"
)

// Provider identifies an external speech-to-text backend.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// Model describes one selectable model of a provider.
type Model struct {
	ID    string
	Label string
}

var providers = []Provider{ProviderOpenAI, ProviderGemini}

var models = map[Provider][]Model{
	ProviderOpenAI: {
		{ID: "whisper-1", Label: "Whisper-1 (recommended, most compatible)"},
		{ID: "gpt-4o", Label: "GPT-4o (higher quality, requires access)"},
	},
	ProviderGemini: {
		{ID: "gemini-2.5-pro", Label: "Gemini 2.5 Pro (highest quality)"},
		{ID: "gemini-2.5-flash", Label: "Gemini 2.5 Flash (fast and efficient)"},
		{ID: "gemini-2.5-flash-lite-preview-06-17", Label: "Gemini 2.5 Flash Lite (experimental)"},
	},
}

// USD per minute of audio. Gemini bills by token, so its models carry 0.
var pricing = map[string]float64{
	"whisper-1":                           0.006,
	"gpt-4o":                              0.015,
	"gemini-2.5-pro":                      0,
	"gemini-2.5-flash":                    0,
	"gemini-2.5-flash-lite-preview-06-17": 0,
}

// Providers returns every supported provider in display order.
func Providers() []Provider {
	return append([]Provider(nil), providers...)
}

func ParseProvider(value string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := models[p]; !ok {
		return "", fmt.Errorf("unsupported provider %q", value)
	}
	return p, nil
}

// DisplayName is the human facing provider name used in messages.
func (p Provider) DisplayName() string {
	switch p {
	case ProviderOpenAI:
		return "OpenAI"
	case ProviderGemini:
		return "Gemini"
	default:
		return string(p)
	}
}

func Models(p Provider) []Model {
	return append([]Model(nil), models[p]...)
}

func DefaultModel(p Provider) string {
	list := models[p]
	if len(list) == 0 {
		return ""
	}
	return list[0].ID
}

func Supports(p Provider, model string) bool {
	for _, m := range models[p] {
		if m.ID == model {
			return true
		}
	}
	return false
}

// ResolveModel returns the provider default for an empty model and rejects
// models the provider does not offer.
func ResolveModel(p Provider, model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		if def := DefaultModel(p); def != "" {
			return def, nil
		}
		return "", fmt.Errorf("unsupported provider %q", p)
	}
	if !Supports(p, model) {
		return "", fmt.Errorf("model %q is not offered by %s", model, p.DisplayName())
	}
	return model, nil
}

// RatePerMinute returns the USD per-minute price for model, 0 when unknown.
func RatePerMinute(model string) float64 {
	return pricing[model]
}
