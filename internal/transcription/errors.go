package transcription

import (
	"context"
	"errors"
	"fmt"
	"net"

	"voxscribe/internal/catalog"
	"voxscribe/internal/upstream/gemini"
	"voxscribe/internal/upstream/openai"
)

// ValidationError rejects an attempt before anything is sent.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NetworkError is a transport level failure reaching the provider.
type NetworkError struct {
	Provider catalog.Provider
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("could not reach %s: %v", e.Provider.DisplayName(), e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ProviderError is a non-success HTTP answer. Error returns Message verbatim.
type ProviderError struct {
	Provider   catalog.Provider
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return e.Message
}

// DecodingError is a successful answer with a malformed or unexpected body.
type DecodingError struct {
	Provider catalog.Provider
	Err      error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("unexpected response from %s: %v", e.Provider.DisplayName(), e.Err)
}

func (e *DecodingError) Unwrap() error {
	return e.Err
}

// FallbackMessage is used when a provider error carries no message.
func FallbackMessage(p catalog.Provider) string {
	return fmt.Sprintf("unknown error from the %s API", p.DisplayName())
}

func classifyOpenAI(err error) error {
	var upErr *openai.Error
	switch {
	case errors.As(err, &upErr):
		return providerError(catalog.ProviderOpenAI, upErr.StatusCode, upErr.Message)
	case errors.Is(err, openai.ErrInvalidResponse):
		return &DecodingError{Provider: catalog.ProviderOpenAI, Err: err}
	default:
		return &NetworkError{Provider: catalog.ProviderOpenAI, Err: err}
	}
}

func classifyGemini(err error) error {
	var upErr *gemini.Error
	switch {
	case errors.As(err, &upErr):
		return providerError(catalog.ProviderGemini, upErr.StatusCode, upErr.Message)
	case errors.Is(err, gemini.ErrInvalidResponse):
		return &DecodingError{Provider: catalog.ProviderGemini, Err: err}
	default:
		return &NetworkError{Provider: catalog.ProviderGemini, Err: err}
	}
}

func providerError(p catalog.Provider, status int, message string) error {
	if message == "" {
		message = FallbackMessage(p)
	}
	return &ProviderError{Provider: p, StatusCode: status, Message: message}
}

// IsTimeout reports whether err came from an expired deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
