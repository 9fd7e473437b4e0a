package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"voxscribe/internal/catalog"
	"voxscribe/internal/config"
	"voxscribe/internal/credentials"
	"voxscribe/internal/model"
	"voxscribe/internal/session"
	"voxscribe/internal/transcription"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type SessionController interface {
	Run(ctx context.Context, a session.Attempt) (session.Outcome, error)
	Current() session.Snapshot
	Export() (session.Export, bool)
	Settings() session.Settings
	SelectProvider(p catalog.Provider) error
	SaveAPIKey(p catalog.Provider, key string) error
}

type KeyChecker interface {
	CheckModels(ctx context.Context, apiKey string) error
}

type MetricsObserver interface {
	ObserveHTTP(route, method string, status int, duration time.Duration)
	IncAttemptRejected(reason string)
}

type Dependencies struct {
	Session        SessionController
	Credentials    credentials.Store
	KeyCheckers    map[catalog.Provider]KeyChecker
	Metrics        MetricsObserver
	MetricsHandler http.Handler
}

type server struct {
	cfg          config.Config
	logger       *slog.Logger
	session      SessionController
	credentials  credentials.Store
	keyCheckers  map[catalog.Provider]KeyChecker
	metrics      MetricsObserver
	metricsRoute http.Handler
}

type ctxKey string

const (
	requestIDHeader      = "X-Request-Id"
	requestIDContext     = ctxKey("request_id")
	requestAPIKeyContext = ctxKey("request_api_key")
	maxJSONBodyBytes     = 1 << 20
	verifyTimeout        = 10 * time.Second
)

func NewServer(cfg config.Config, logger *slog.Logger, deps Dependencies) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Session == nil || deps.Credentials == nil {
		panic("httpapi: session and credentials dependencies are required")
	}

	s := &server{
		cfg:          cfg,
		logger:       logger,
		session:      deps.Session,
		credentials:  deps.Credentials,
		keyCheckers:  deps.KeyCheckers,
		metrics:      deps.Metrics,
		metricsRoute: deps.MetricsHandler,
	}

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, "not_found", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(s.apiKeyMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.metricsRoute != nil {
		r.Handle("/metrics", s.metricsRoute)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/providers", s.handleProviders)
		r.Get("/settings", s.handleSettings)
		r.Put("/settings/provider", s.handleSelectProvider)
		r.Put("/credentials/{provider}", s.handleSaveAPIKey)
		r.Post("/credentials/{provider}/verify", s.handleVerifyAPIKey)
		r.Post("/transcriptions", s.handleTranscriptions)
		r.Get("/session", s.handleSession)
		r.Get("/session/transcript.txt", s.handleExport)
	})

	return r
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{OK: true})
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.credentials.Load(); err != nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "not_ready", "credentials store unreadable", detailsForError(err))
		return
	}
	writeJSON(w, http.StatusOK, model.ReadyResponse{OK: true, ServiceName: "voxscribe"})
}

func (s *server) handleProviders(w http.ResponseWriter, r *http.Request) {
	resp := model.ProvidersResponse{}
	for _, p := range catalog.Providers() {
		info := model.ProviderInfo{
			ID:           string(p),
			Name:         p.DisplayName(),
			DefaultModel: catalog.DefaultModel(p),
		}
		for _, m := range catalog.Models(p) {
			info.Models = append(info.Models, model.ModelInfo{
				ID:               m.ID,
				Label:            m.Label,
				RatePerMinuteUSD: catalog.RatePerMinute(m.ID),
			})
		}
		resp.Providers = append(resp.Providers, info)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSettingsResponse(s.session.Settings()))
}

func (s *server) handleSelectProvider(w http.ResponseWriter, r *http.Request) {
	var req model.SelectProviderRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	p, err := catalog.ParseProvider(req.Provider)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	if err := s.session.SelectProvider(p); err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(s.session.Settings()))
}

func (s *server) handleSaveAPIKey(w http.ResponseWriter, r *http.Request) {
	p, ok := s.providerParam(w, r)
	if !ok {
		return
	}
	var req model.SaveAPIKeyRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := s.session.SaveAPIKey(p, req.APIKey); err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.SaveAPIKeyResponse{Provider: string(p), Status: "API key saved"})
}

func (s *server) handleVerifyAPIKey(w http.ResponseWriter, r *http.Request) {
	p, ok := s.providerParam(w, r)
	if !ok {
		return
	}
	checker := s.keyCheckers[p]
	if checker == nil {
		s.writeError(w, r, http.StatusNotImplemented, "not_supported", fmt.Sprintf("key verification is not available for %s", p.DisplayName()), nil)
		return
	}
	apiKey := requestAPIKeyFromContext(r.Context())
	if apiKey == "" {
		apiKey = s.session.Settings().APIKey(p)
	}
	if apiKey == "" {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", fmt.Sprintf("no %s API key saved", p.DisplayName()), nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), verifyTimeout)
	defer cancel()
	if err := checker.CheckModels(ctx, apiKey); err != nil {
		s.writeError(w, r, http.StatusBadGateway, "key_rejected", fmt.Sprintf("%s rejected the API key", p.DisplayName()), detailsForError(err))
		return
	}
	writeJSON(w, http.StatusOK, model.VerifyAPIKeyResponse{OK: true, Provider: string(p)})
}

func (s *server) handleTranscriptions(w http.ResponseWriter, r *http.Request) {
	file, header, form, err := s.readMultipartAudio(w, r)
	if err != nil {
		s.handleMultipartReadError(w, r, err)
		return
	}
	defer cleanupMultipartForm(form)

	attempt := session.Attempt{
		Model:  strings.TrimSpace(r.FormValue("model")),
		APIKey: strings.TrimSpace(r.FormValue("api_key")),
	}
	if attempt.APIKey == "" {
		attempt.APIKey = requestAPIKeyFromContext(r.Context())
	}
	if raw := strings.TrimSpace(r.FormValue("provider")); raw != "" {
		p, err := catalog.ParseProvider(raw)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error(), nil)
			return
		}
		attempt.Provider = p
	}
	if file != nil {
		defer func() { _ = file.Close() }()
		attempt.Audio = transcription.Audio{
			Reader:      file,
			FileName:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
		}
	}

	outcome, err := s.session.Run(r.Context(), attempt)
	if err != nil {
		s.writeAttemptError(w, r, outcome, err)
		return
	}

	writeJSON(w, http.StatusOK, model.TranscriptionResponse{
		AttemptID:  outcome.AttemptID,
		Provider:   string(outcome.Provider),
		Model:      outcome.Model,
		Transcript: outcome.Transcript,
		Status:     outcome.Status,
		Stats:      toModelStats(outcome.Stats),
	})
}

func (s *server) handleSession(w http.ResponseWriter, r *http.Request) {
	snap := s.session.Current()
	resp := model.SessionResponse{State: string(snap.State)}
	if o := snap.Outcome; o != nil {
		resp.Outcome = &model.SessionOutcome{
			AttemptID:  o.AttemptID,
			State:      string(o.State),
			Provider:   string(o.Provider),
			Model:      o.Model,
			Transcript: o.Transcript,
			Status:     o.Status,
		}
		if o.Stats != nil {
			stats := toModelStats(o.Stats)
			resp.Outcome.Stats = &stats
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	exp, ok := s.session.Export()
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "no_transcript", "there is no transcript to export", nil)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": exp.FileName}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, exp.Content)
}

func (s *server) providerParam(w http.ResponseWriter, r *http.Request) (catalog.Provider, bool) {
	p, err := catalog.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		s.writeError(w, r, http.StatusNotFound, "unknown_provider", err.Error(), nil)
		return "", false
	}
	return p, true
}

// readMultipartAudio returns a nil file without error when the form has no
// file part, so the session can answer with its own validation notice.
func (s *server) readMultipartAudio(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, *multipart.Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(min(s.cfg.MaxUploadBytes, 8<<20)); err != nil {
		return nil, nil, nil, err
	}
	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil, r.MultipartForm, nil
	}
	if err != nil {
		return nil, nil, r.MultipartForm, err
	}
	return file, header, r.MultipartForm, nil
}

func (s *server) handleMultipartReadError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, "request_too_large", fmt.Sprintf("request exceeds %d bytes", s.cfg.MaxUploadBytes), nil)
		return
	}
	s.writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid multipart form data", nil)
}

func (s *server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	defer func() { _ = r.Body.Close() }()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		s.handleJSONDecodeError(w, r, err)
		return false
	}
	if err := ensureBodyFullyConsumed(decoder); err != nil {
		s.handleJSONDecodeError(w, r, err)
		return false
	}
	return true
}

func (s *server) handleJSONDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, "request_too_large", "JSON body too large", nil)
		return
	}
	s.writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body", nil)
}

// writeAttemptError reports a failed trigger. Rejections that never reached
// a provider carry the notice itself; provider failures carry the
// "Error: ..." status the session produced.
func (s *server) writeAttemptError(w http.ResponseWriter, r *http.Request, outcome session.Outcome, err error) {
	var validationErr *transcription.ValidationError
	switch {
	case errors.As(err, &validationErr):
		if s.metrics != nil {
			s.metrics.IncAttemptRejected("validation")
		}
	case errors.Is(err, session.ErrAttemptInProgress):
		if s.metrics != nil {
			s.metrics.IncAttemptRejected("in_progress")
		}
	}

	if outcome.AttemptID == "" {
		s.writeMappedError(w, r, err)
		return
	}

	status, code := statusForError(err)
	details := detailsForError(err)
	details["attempt_id"] = outcome.AttemptID
	details["provider"] = string(outcome.Provider)
	s.writeError(w, r, status, code, outcome.Status, details)
}

func (s *server) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusForError(err)
	message := "request failed"
	var details map[string]any

	var validationErr *transcription.ValidationError
	switch {
	case errors.As(err, &validationErr):
		message = validationErr.Message
	case errors.Is(err, session.ErrAttemptInProgress):
		message = err.Error()
	default:
		details = detailsForError(err)
	}

	s.writeError(w, r, status, code, message, details)
}

func statusForError(err error) (int, string) {
	var (
		validationErr *transcription.ValidationError
		providerErr   *transcription.ProviderError
		networkErr    *transcription.NetworkError
		decodingErr   *transcription.DecodingError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, session.ErrAttemptInProgress):
		return http.StatusConflict, "attempt_in_progress"
	case errors.As(err, &providerErr):
		return http.StatusBadGateway, "provider_error"
	case errors.As(err, &decodingErr):
		return http.StatusBadGateway, "decoding_error"
	case errors.Is(err, context.Canceled):
		return 499, "canceled"
	case errors.As(err, &networkErr) && transcription.IsTimeout(err):
		return http.StatusGatewayTimeout, "timeout"
	case errors.As(err, &networkErr):
		return http.StatusBadGateway, "network_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	if rid := requestIDFromContext(r.Context()); rid != "" {
		w.Header().Set(requestIDHeader, rid)
	}
	writeJSON(w, status, model.ErrorResponse{
		Error:     model.APIError{Code: code, Message: message, Details: details},
		RequestID: requestIDFromContext(r.Context()),
	})
}

func (s *server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = newRequestID()
		}
		w.Header().Set(requestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), requestIDContext, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		duration := time.Since(started)
		if s.metrics != nil {
			s.metrics.ObserveHTTP(route, r.Method, status, duration)
		}

		s.logger.Info("http_request",
			"request_id", requestIDFromContext(r.Context()),
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", duration.Milliseconds(),
		)
	})
}

func (s *server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", "request_id", requestIDFromContext(r.Context()), "panic", rec)
				s.writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// apiKeyMiddleware lets callers supply a provider key per request with
// "Authorization: Bearer <key>" instead of relying on the saved one.
func (s *server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, hasHeader, ok := extractBearerToken(r.Header.Get("Authorization"))
		if hasHeader && !ok {
			s.writeError(w, r, http.StatusUnauthorized, "unauthorized", "Authorization must be Bearer <provider_api_key>", nil)
			return
		}
		if token != "" {
			r = r.WithContext(context.WithValue(r.Context(), requestAPIKeyContext, token))
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func ensureBodyFullyConsumed(decoder *json.Decoder) error {
	var extra any
	if err := decoder.Decode(&extra); err != io.EOF {
		if err == nil {
			return fmt.Errorf("multiple JSON values")
		}
		return err
	}
	return nil
}

func cleanupMultipartForm(form *multipart.Form) {
	if form != nil {
		_ = form.RemoveAll()
	}
}

func requestIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(requestIDContext).(string)
	return value
}

func requestAPIKeyFromContext(ctx context.Context) string {
	value, _ := ctx.Value(requestAPIKeyContext).(string)
	return value
}

func extractBearerToken(header string) (token string, hasHeader bool, ok bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false, true
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", true, false
	}
	token = strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", true, false
	}
	return token, true, true
}

func newRequestID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

func toSettingsResponse(settings session.Settings) model.SettingsResponse {
	resp := model.SettingsResponse{
		SelectedProvider: string(settings.SelectedProvider),
		APIKeysSaved:     make(map[string]bool),
	}
	for _, p := range catalog.Providers() {
		resp.APIKeysSaved[string(p)] = settings.HasAPIKey(p)
	}
	return resp
}

func toModelStats(stats *session.Stats) model.TranscriptionStats {
	if stats == nil {
		return model.TranscriptionStats{}
	}
	return model.TranscriptionStats{
		ElapsedSeconds:  stats.ElapsedSeconds,
		DurationSeconds: stats.DurationSeconds,
		CostUSD:         stats.CostUSD,
	}
}

func detailsForError(err error) map[string]any {
	if err == nil {
		return map[string]any{}
	}
	details := map[string]any{"error": err.Error()}
	var providerErr *transcription.ProviderError
	if errors.As(err, &providerErr) {
		details["upstream_status"] = providerErr.StatusCode
	}
	return details
}
