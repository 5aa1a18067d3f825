// Package worker_test tests the NATS worker for the speech gateway.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lizhe2004/openai-xunjie-tts/internal/core"
	"github.com/lizhe2004/openai-xunjie-tts/internal/worker"
)

var (
	errMockSave  = errors.New("mock save error")
	errMockSpeak = errors.New("mock speak error")
)

// mockAudioStore is a mock implementation of the AudioStore interface.
type mockAudioStore struct {
	saveShouldFail bool
	savedKey       string
	savedData      []byte
}

func (m *mockAudioStore) Save(_ context.Context, key string, data []byte) (string, error) {
	if m.saveShouldFail {
		return "", errMockSave
	}

	m.savedKey = key
	m.savedData = data

	return key, nil
}

// mockSpeaker is a mock implementation of the SpeechService interface.
type mockSpeaker struct {
	speakShouldFail bool
	request         core.SpeechRequest
	credential      string
}

func (m *mockSpeaker) Speak(
	_ context.Context,
	req core.SpeechRequest,
	credential string,
) (*core.SpeechResult, error) {
	if m.speakShouldFail {
		return nil, errMockSpeak
	}

	m.request = req
	m.credential = credential

	return &core.SpeechResult{
		Data:     []byte("sample audio"),
		Format:   "mp3",
		MIMEType: "audio/mpeg",
	}, nil
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		server.Shutdown()
	})

	return natsConnection
}

func setupTest(t *testing.T) (
	*worker.NatsWorker,
	*mockAudioStore,
	*mockSpeaker,
	*nats.Conn,
) {
	t.Helper()

	mockStore := &mockAudioStore{
		saveShouldFail: false,
		savedKey:       "",
		savedData:      nil,
	}
	speaker := &mockSpeaker{
		speakShouldFail: false,
		request:         core.SpeechRequest{},
		credential:      "",
	}

	natsConnection := createTestNatsClient(t)

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	workerInstance := worker.NewNatsWorker(
		natsConnection,
		"tts.speech.requested",
		mockStore,
		speaker,
		"worker-key",
		testLogger,
	)

	return workerInstance, mockStore, speaker, natsConnection
}

func TestMessageHandler_Success(t *testing.T) {
	t.Parallel()

	workerInstance, mockStore, speaker, natsConnection := setupTest(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return natsConnection.NumSubscriptions() > 0
	}, 2*time.Second, 10*time.Millisecond, "worker subscription should be registered")
	require.NoError(t, natsConnection.Flush())

	testEvent := &worker.SpeechRequestedEvent{
		RequestID:      uuid.NewString(),
		Input:          "hello from the queue",
		Voice:          "siqi",
		ResponseFormat: "mp3",
		Speed:          nil,
	}
	eventData, err := json.Marshal(testEvent)
	require.NoError(t, err)

	replyMsg, err := natsConnection.Request(
		"tts.speech.requested", eventData, 5*time.Second,
	)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var replyEvent worker.SpeechGeneratedEvent

	err = json.Unmarshal(replyMsg.Data, &replyEvent)
	require.NoError(t, err)

	assert.Equal(t, "hello from the queue", speaker.request.Input)
	assert.Equal(t, "siqi", speaker.request.Voice)
	assert.Equal(t, "worker-key", speaker.credential)

	assert.Equal(t, []byte("sample audio"), mockStore.savedData)
	assert.True(t, strings.HasSuffix(mockStore.savedKey, ".mp3"))

	assert.Equal(t, testEvent.RequestID, replyEvent.RequestID)
	assert.Equal(t, mockStore.savedKey, replyEvent.AudioKey)
	assert.Equal(t, "mp3", replyEvent.Format)
	assert.Equal(t, len("sample audio"), replyEvent.Size)

	cancel()

	shutdownErr := <-errChan
	assert.NoError(t, shutdownErr, "worker.Run should not error on graceful shutdown")
}

func TestMessageHandler_SpeakFailureProducesNoReply(t *testing.T) {
	t.Parallel()

	workerInstance, mockStore, speaker, natsConnection := setupTest(t)
	speaker.speakShouldFail = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = workerInstance.Run(ctx) }()

	eventData, err := json.Marshal(&worker.SpeechRequestedEvent{
		RequestID:      uuid.NewString(),
		Input:          "doomed",
		Voice:          "",
		ResponseFormat: "",
		Speed:          nil,
	})
	require.NoError(t, err)

	_, err = natsConnection.Request("tts.speech.requested", eventData, 500*time.Millisecond)
	require.Error(t, err, "Failed jobs must not produce a reply")

	assert.Empty(t, mockStore.savedKey)
}
