// Package server exposes the OpenAI-compatible HTTP API of the gateway.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/book-expert/logger"

	"github.com/lizhe2004/openai-xunjie-tts/internal/config"
	"github.com/lizhe2004/openai-xunjie-tts/internal/core"
	"github.com/lizhe2004/openai-xunjie-tts/internal/speech"
	"github.com/lizhe2004/openai-xunjie-tts/internal/voices"
	"github.com/lizhe2004/openai-xunjie-tts/internal/xunjie"
)

const (
	maxRequestBody = 1 << 20 // 1 MiB

	headerContentType        = "Content-Type"
	headerContentDisposition = "Content-Disposition"
	contentTypeJSON          = "application/json"
)

// modelIDs are the model names reported on /v1/models. Synthesis ignores the
// requested model; the listing exists for OpenAI client compatibility.
var modelIDs = []string{"tts-1", "tts-1-hd"}

// errorResponse is the JSON body for all error replies.
type errorResponse struct {
	Error string `json:"error"`
}

// modelEntry mirrors the OpenAI model object shape.
type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// Handler serves the HTTP API. It delegates synthesis to a core.SpeechService
// and voice listings to the mapper.
type Handler struct {
	cfg     *config.Config
	service core.SpeechService
	mapper  *voices.Mapper
	log     *logger.Logger
}

// NewHandler creates a Handler.
func NewHandler(
	cfg *config.Config,
	service core.SpeechService,
	mapper *voices.Mapper,
	log *logger.Logger,
) *Handler {
	return &Handler{
		cfg:     cfg,
		service: service,
		mapper:  mapper,
		log:     log,
	}
}

// Speech handles POST /v1/audio/speech.
func (h *Handler) Speech(w http.ResponseWriter, r *http.Request) {
	credential, ok := h.authorize(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req core.SpeechRequest

	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())

		return
	}

	if req.Input == "" {
		respondError(w, http.StatusBadRequest, "input is required")

		return
	}

	result, err := h.service.Speak(r.Context(), req, credential)
	if err != nil {
		h.respondSpeechError(w, err)

		return
	}

	w.Header().Set(headerContentType, result.MIMEType)
	w.Header().Set(
		headerContentDisposition,
		fmt.Sprintf("attachment; filename=speech.%s", result.Format),
	)

	_, err = w.Write(result.Data)
	if err != nil {
		h.log.Warn("Failed to write audio response: %v", err)
	}
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Models handles GET /v1/models.
func (h *Handler) Models(w http.ResponseWriter, _ *http.Request) {
	entries := make([]modelEntry, 0, len(modelIDs))
	for _, id := range modelIDs {
		entries = append(entries, modelEntry{
			ID:      id,
			Object:  "model",
			OwnedBy: "openai-xunjie-tts",
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   entries,
	})
}

// Voices handles GET and POST /v1/voices, listing the configured voice
// mappings. An optional language filter is accepted for client compatibility;
// the mapping table carries no locale, so any specific filter other than
// "all" returns the full list as well.
func (h *Handler) Voices(w http.ResponseWriter, r *http.Request) {
	// The filter is accepted from both query string and form body.
	_ = r.URL.Query().Get("language")

	respondJSON(w, http.StatusOK, map[string]any{
		"voices": h.mapper.Entries(),
	})
}

// VoicesAll handles GET and POST /v1/voices/all. Unlike the plain listing it
// always requires the configured API key.
func (h *Handler) VoicesAll(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token != h.cfg.Server.APIKey {
		respondError(w, http.StatusUnauthorized, "invalid API key")

		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"voices": h.mapper.Entries(),
	})
}

// authorize checks the Authorization header and returns the credential to
// forward upstream. When API key enforcement is disabled a missing token
// falls back to the configured key.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := bearerToken(r)

	if h.cfg.Server.RequireAPIKey {
		if token != h.cfg.Server.APIKey {
			respondError(w, http.StatusUnauthorized, "invalid API key")

			return "", false
		}

		return token, true
	}

	if token == "" {
		return h.cfg.Server.APIKey, true
	}

	return token, true
}

// respondSpeechError maps pipeline errors onto HTTP statuses: validation
// failures are the client's fault, upstream failures are a bad gateway,
// everything else is internal.
func (h *Handler) respondSpeechError(w http.ResponseWriter, err error) {
	h.log.Error("Speech request failed: %v", err)

	switch {
	case errors.Is(err, speech.ErrInputEmpty),
		errors.Is(err, speech.ErrUnsupportedFormat),
		errors.Is(err, speech.ErrSpeedRange):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, xunjie.ErrUpstreamFailure),
		errors.Is(err, xunjie.ErrTaskTimeout),
		errors.Is(err, xunjie.ErrNotComplete):
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}

	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}
