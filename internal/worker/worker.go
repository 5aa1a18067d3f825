// Package worker provides a NATS worker that serves speech synthesis jobs
// published on a subject, for pipelines that prefer messaging over HTTP.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/lizhe2004/openai-xunjie-tts/internal/core"
)

const handleMessageTimeout = 150 * time.Second

// SpeechRequestedEvent is the job payload consumed from the subject. It
// carries the text inline; resolution of voice and defaults matches the HTTP
// endpoint.
type SpeechRequestedEvent struct {
	RequestID      string   `json:"request_id"`
	Input          string   `json:"input"`
	Voice          string   `json:"voice,omitempty"`
	ResponseFormat string   `json:"response_format,omitempty"`
	Speed          *float64 `json:"speed,omitempty"`
}

// SpeechGeneratedEvent is the reply published when a job completes. The audio
// itself lands in the object store under AudioKey.
type SpeechGeneratedEvent struct {
	RequestID string `json:"request_id"`
	AudioKey  string `json:"audio_key"`
	Format    string `json:"format"`
	Size      int    `json:"size"`
}

// NatsWorker listens for speech jobs on a NATS subject and processes them.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.AudioStore
	service        core.SpeechService
	credential     string
	log            *logger.Logger
}

// NewNatsWorker creates a worker. The credential is used for every upstream
// call, since messaging jobs carry no Authorization header.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	store core.AudioStore,
	service core.SpeechService,
	credential string,
	log *logger.Logger,
) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		service:        service,
		credential:     credential,
		log:            log,
	}
}

// Run starts the worker and blocks until the context is canceled.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Worker listening on subject %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	event, err := parseEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse speech job: %v", err)

		return
	}

	replyEvent, err := w.processJob(ctx, event)
	if err != nil {
		w.log.Error("Failed to process speech job %s: %v", event.RequestID, err)

		return
	}

	err = w.publishReply(msg, replyEvent)
	if err != nil {
		w.log.Error(
			"Failed to publish reply for job %s: %v",
			event.RequestID, err,
		)
	}
}

// processJob runs the synthesis pipeline and stores the produced audio.
func (w *NatsWorker) processJob(
	ctx context.Context,
	event *SpeechRequestedEvent,
) (*SpeechGeneratedEvent, error) {
	req := core.SpeechRequest{
		Model:          "",
		Input:          event.Input,
		Voice:          event.Voice,
		ResponseFormat: event.ResponseFormat,
		Speed:          event.Speed,
	}

	result, err := w.service.Speak(ctx, req, w.credential)
	if err != nil {
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}

	audioKey := uuid.NewString() + "." + result.Format

	_, err = w.store.Save(ctx, audioKey, result.Data)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to store audio for key '%s': %w",
			audioKey, err,
		)
	}

	return &SpeechGeneratedEvent{
		RequestID: event.RequestID,
		AudioKey:  audioKey,
		Format:    result.Format,
		Size:      len(result.Data),
	}, nil
}

func (w *NatsWorker) publishReply(msg *nats.Msg, replyEvent *SpeechGeneratedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func parseEvent(msg *nats.Msg) (*SpeechRequestedEvent, error) {
	var event SpeechRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}
