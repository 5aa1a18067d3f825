// Package core defines the core types and interfaces for the speech gateway.
package core

import "context"

// SpeechRequest is the OpenAI-compatible request body accepted by the
// /v1/audio/speech endpoint. Model is accepted for client compatibility but
// does not influence synthesis.
type SpeechRequest struct {
	Model          string   `json:"model,omitempty"`
	Input          string   `json:"input"`
	Voice          string   `json:"voice,omitempty"`
	ResponseFormat string   `json:"response_format,omitempty"`
	Speed          *float64 `json:"speed,omitempty"`
}

// SynthesisJob carries the fully resolved parameters for one upstream
// synthesis call. Rate, Pitch and Volume use the upstream 0..10 scale.
type SynthesisJob struct {
	Text     string
	Voice    string
	Rate     int
	Pitch    int
	Volume   int
	Emotion  string
	DeviceID string
	Token    string
}

// SpeechResult is the final audio produced for a request.
type SpeechResult struct {
	Data     []byte
	Format   string
	MIMEType string
}

// Synthesizer converts a resolved job into raw MP3 audio by calling the
// upstream TTS provider.
type Synthesizer interface {
	Synthesize(ctx context.Context, job SynthesisJob) ([]byte, error)
}

// SpeechService runs the full request pipeline: filtering, voice resolution,
// synthesis, format conversion and archiving.
type SpeechService interface {
	Speak(ctx context.Context, req SpeechRequest, credential string) (*SpeechResult, error)
}

// AudioStore persists a produced audio file under a key and returns the
// location it was stored at.
type AudioStore interface {
	Save(ctx context.Context, key string, data []byte) (string, error)
}
