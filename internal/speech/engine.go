// Package speech orchestrates the request pipeline: text filtering, voice
// resolution, upstream synthesis, format conversion and archiving.
package speech

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/book-expert/logger"

	"github.com/lizhe2004/openai-xunjie-tts/internal/archive"
	"github.com/lizhe2004/openai-xunjie-tts/internal/audio"
	"github.com/lizhe2004/openai-xunjie-tts/internal/config"
	"github.com/lizhe2004/openai-xunjie-tts/internal/core"
	"github.com/lizhe2004/openai-xunjie-tts/internal/observe"
	"github.com/lizhe2004/openai-xunjie-tts/internal/text"
	"github.com/lizhe2004/openai-xunjie-tts/internal/voices"
)

const (
	defaultEmotion = "neutral"

	maxSpeed = 10

	archiveTimeout = 30 * time.Second
)

// Static errors. These map to client-facing 400 responses; everything else
// from the pipeline is a server-side failure.
var (
	ErrInputEmpty        = errors.New("input text cannot be empty")
	ErrUnsupportedFormat = errors.New("unsupported response format")
	ErrSpeedRange        = errors.New("speed must be between 0 and 10")
)

// Engine implements core.SpeechService. It is safe for concurrent use.
type Engine struct {
	cfg          *config.Config
	synthesizer  core.Synthesizer
	mapper       *voices.Mapper
	preprocessor *text.Preprocessor
	converter    *audio.Converter
	stores       []namedStore
	metrics      *observe.Metrics
	log          *logger.Logger
}

type namedStore struct {
	name  string
	store core.AudioStore
}

// NewEngine creates an Engine. Archive stores are optional; audio is archived
// to every store given here when a request's voice carries the archive flag.
func NewEngine(
	cfg *config.Config,
	synthesizer core.Synthesizer,
	mapper *voices.Mapper,
	converter *audio.Converter,
	metrics *observe.Metrics,
	log *logger.Logger,
) *Engine {
	return &Engine{
		cfg:          cfg,
		synthesizer:  synthesizer,
		mapper:       mapper,
		preprocessor: text.NewPreprocessor(),
		converter:    converter,
		stores:       nil,
		metrics:      metrics,
		log:          log,
	}
}

// AddStore registers an archive destination under a name used in logs and
// metrics.
func (e *Engine) AddStore(name string, store core.AudioStore) {
	e.stores = append(e.stores, namedStore{name: name, store: store})
}

// Speak runs the full pipeline for one request. The credential is the caller's
// API key, passed upstream as both device id and token.
func (e *Engine) Speak(
	ctx context.Context,
	req core.SpeechRequest,
	credential string,
) (*core.SpeechResult, error) {
	req = e.applyDefaults(req)

	err := e.validate(req)
	if err != nil {
		return nil, err
	}

	input := req.Input
	if !e.cfg.Speech.RemoveFilter {
		input = e.preprocessor.PreprocessText(input)
	}

	spec := e.mapper.Resolve(req.Voice)

	job := e.buildJob(input, spec, req.Speed, credential)

	mp3Data, err := e.synthesize(ctx, job)
	if err != nil {
		return nil, err
	}

	data, format, err := e.convert(ctx, mp3Data, req.ResponseFormat)
	if err != nil {
		return nil, err
	}

	result := &core.SpeechResult{
		Data:     data,
		Format:   format,
		MIMEType: audio.MIMEType(format),
	}

	if spec.Archive && len(e.stores) > 0 {
		go e.archiveResult(spec.Voice, result)
	}

	return result, nil
}

// applyDefaults fills unset request fields from the configured defaults.
func (e *Engine) applyDefaults(req core.SpeechRequest) core.SpeechRequest {
	if req.Voice == "" {
		req.Voice = e.cfg.Speech.DefaultVoice
	}

	if req.ResponseFormat == "" {
		req.ResponseFormat = e.cfg.Speech.DefaultResponseFormat
	}

	return req
}

func (e *Engine) validate(req core.SpeechRequest) error {
	if req.Input == "" {
		return ErrInputEmpty
	}

	if !audio.IsSupportedFormat(req.ResponseFormat) {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.ResponseFormat)
	}

	if req.Speed != nil && (*req.Speed < 0 || *req.Speed > maxSpeed) {
		return fmt.Errorf("%w, got %g", ErrSpeedRange, *req.Speed)
	}

	return nil
}

// buildJob resolves the final synthesis parameters. The rate embedded in the
// voice string wins over the request speed, which wins over the configured
// default.
func (e *Engine) buildJob(
	input string,
	spec voices.Spec,
	speed *float64,
	credential string,
) core.SynthesisJob {
	rate := e.cfg.Speech.DefaultSpeed
	if speed != nil {
		rate = int(math.Round(*speed))
	}

	rate = spec.Rate.OrDefault(rate)

	return core.SynthesisJob{
		Text:     input,
		Voice:    spec.Voice,
		Rate:     rate,
		Pitch:    spec.Pitch.OrDefault(e.cfg.Speech.DefaultPitch),
		Volume:   spec.Volume.OrDefault(e.cfg.Speech.DefaultVolume),
		Emotion:  defaultEmotion,
		DeviceID: credential,
		Token:    credential,
	}
}

func (e *Engine) synthesize(
	ctx context.Context,
	job core.SynthesisJob,
) ([]byte, error) {
	start := time.Now()

	mp3Data, err := e.synthesizer.Synthesize(ctx, job)

	e.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		e.metrics.RecordUpstreamRequest(ctx, "error")

		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}

	e.metrics.RecordUpstreamRequest(ctx, "ok")

	return mp3Data, nil
}

func (e *Engine) convert(
	ctx context.Context,
	mp3Data []byte,
	format string,
) ([]byte, string, error) {
	start := time.Now()

	data, delivered, err := e.converter.Convert(ctx, mp3Data, format)

	e.metrics.ConversionDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		return nil, "", fmt.Errorf("audio conversion failed: %w", err)
	}

	return data, delivered, nil
}

// archiveResult saves the audio to every registered store. It runs detached
// from the request; failures are logged and never surfaced to the client.
func (e *Engine) archiveResult(voice string, result *core.SpeechResult) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	key := archive.FileKey(voice, result.Format)

	for _, entry := range e.stores {
		location, err := entry.store.Save(ctx, key, result.Data)
		if err != nil {
			e.metrics.RecordArchiveSave(ctx, entry.name, "error")
			e.log.Error("Failed to archive audio to %s: %v", entry.name, err)

			continue
		}

		e.metrics.RecordArchiveSave(ctx, entry.name, "ok")
		e.log.Info("Archived audio to %s at %s", entry.name, location)
	}
}
