package model

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id,omitempty"`
}

type HealthResponse struct {
	OK bool `json:"ok"`
}

type ReadyResponse struct {
	OK          bool   `json:"ok"`
	ServiceName string `json:"service_name,omitempty"`
}

type ModelInfo struct {
	ID               string  `json:"id"`
	Label            string  `json:"label"`
	RatePerMinuteUSD float64 `json:"rate_per_minute_usd"`
}

type ProviderInfo struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	DefaultModel string      `json:"default_model"`
	Models       []ModelInfo `json:"models"`
}

type ProvidersResponse struct {
	Providers []ProviderInfo `json:"providers"`
}

// SettingsResponse never carries key material, only whether a key is saved.
type SettingsResponse struct {
	SelectedProvider string          `json:"selected_provider"`
	APIKeysSaved     map[string]bool `json:"api_keys_saved"`
}

type SelectProviderRequest struct {
	Provider string `json:"provider"`
}

type SaveAPIKeyRequest struct {
	APIKey string `json:"api_key"`
}

type SaveAPIKeyResponse struct {
	Provider string `json:"provider"`
	Status   string `json:"status"`
}

type VerifyAPIKeyResponse struct {
	OK       bool   `json:"ok"`
	Provider string `json:"provider"`
}

type TranscriptionStats struct {
	ElapsedSeconds  string `json:"elapsed_seconds"`
	DurationSeconds string `json:"duration_seconds"`
	CostUSD         string `json:"cost_usd"`
}

type TranscriptionResponse struct {
	AttemptID  string             `json:"attempt_id"`
	Provider   string             `json:"provider"`
	Model      string             `json:"model"`
	Transcript string             `json:"transcript"`
	Status     string             `json:"status"`
	Stats      TranscriptionStats `json:"stats"`
}

type SessionOutcome struct {
	AttemptID  string              `json:"attempt_id"`
	State      string              `json:"state"`
	Provider   string              `json:"provider"`
	Model      string              `json:"model"`
	Transcript string              `json:"transcript,omitempty"`
	Status     string              `json:"status"`
	Stats      *TranscriptionStats `json:"stats,omitempty"`
}

type SessionResponse struct {
	State   string          `json:"state"`
	Outcome *SessionOutcome `json:"outcome,omitempty"`
}
