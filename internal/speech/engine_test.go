package speech_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/lizhe2004/openai-xunjie-tts/internal/audio"
	"github.com/lizhe2004/openai-xunjie-tts/internal/config"
	"github.com/lizhe2004/openai-xunjie-tts/internal/core"
	"github.com/lizhe2004/openai-xunjie-tts/internal/observe"
	"github.com/lizhe2004/openai-xunjie-tts/internal/speech"
	"github.com/lizhe2004/openai-xunjie-tts/internal/voices"
)

var (
	errSynthesisDown = errors.New("synthesis unavailable")
	errNoFFmpeg      = errors.New("executable file not found in $PATH")
)

// mockSynthesizer records the last job and returns canned audio.
type mockSynthesizer struct {
	mu      sync.Mutex
	lastJob core.SynthesisJob
	fail    bool
}

func (m *mockSynthesizer) Synthesize(
	_ context.Context,
	job core.SynthesisJob,
) ([]byte, error) {
	m.mu.Lock()
	m.lastJob = job
	m.mu.Unlock()

	if m.fail {
		return nil, errSynthesisDown
	}

	return []byte("mp3-audio"), nil
}

func (m *mockSynthesizer) job() core.SynthesisJob {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastJob
}

// mockStore signals on a channel when a save lands.
type mockStore struct {
	saved chan string
}

func (m *mockStore) Save(_ context.Context, key string, _ []byte) (string, error) {
	m.saved <- key

	return "/archive/" + key, nil
}

func newTestEngine(
	t *testing.T,
	cfg *config.Config,
	synth core.Synthesizer,
) *speech.Engine {
	t.Helper()

	log, err := logger.New(t.TempDir(), "speech-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	require.NoError(t, err)

	// No ffmpeg so conversion degrades to mp3 passthrough deterministically.
	converter := audio.NewConverterWithLookPath(
		log,
		func(string) (string, error) { return "", errNoFFmpeg },
	)

	return speech.NewEngine(cfg, synth, voices.NewMapper(log), converter, metrics, log)
}

func speechRequest(input string) core.SpeechRequest {
	return core.SpeechRequest{
		Model:          "tts-1",
		Input:          input,
		Voice:          "",
		ResponseFormat: "",
		Speed:          nil,
	}
}

func TestSpeak_EmptyInput(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, config.Default(), &mockSynthesizer{})

	_, err := engine.Speak(context.Background(), speechRequest(""), "key")

	require.ErrorIs(t, err, speech.ErrInputEmpty)
}

func TestSpeak_UnsupportedFormat(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, config.Default(), &mockSynthesizer{})

	req := speechRequest("hello")
	req.ResponseFormat = "ogg"

	_, err := engine.Speak(context.Background(), req, "key")

	require.ErrorIs(t, err, speech.ErrUnsupportedFormat)
}

func TestSpeak_SpeedOutOfRange(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, config.Default(), &mockSynthesizer{})

	tooFast := 11.0
	req := speechRequest("hello")
	req.Speed = &tooFast

	_, err := engine.Speak(context.Background(), req, "key")

	require.ErrorIs(t, err, speech.ErrSpeedRange)
}

func TestSpeak_AppliesDefaults(t *testing.T) {
	t.Parallel()

	synth := &mockSynthesizer{}
	engine := newTestEngine(t, config.Default(), synth)

	result, err := engine.Speak(context.Background(), speechRequest("hello"), "key")
	require.NoError(t, err)

	job := synth.job()
	assert.Equal(t, "siqi", job.Voice)
	assert.Equal(t, config.DefaultSpeed, job.Rate)
	assert.Equal(t, config.DefaultPitch, job.Pitch)
	assert.Equal(t, config.DefaultVolume, job.Volume)
	assert.Equal(t, "neutral", job.Emotion)
	assert.Equal(t, "key", job.DeviceID)
	assert.Equal(t, "key", job.Token)

	assert.Equal(t, "mp3", result.Format)
	assert.Equal(t, "audio/mpeg", result.MIMEType)
	assert.Equal(t, []byte("mp3-audio"), result.Data)
}

func TestSpeak_RequestSpeedOverridesDefault(t *testing.T) {
	t.Parallel()

	synth := &mockSynthesizer{}
	engine := newTestEngine(t, config.Default(), synth)

	faster := 7.4
	req := speechRequest("hello")
	req.Speed = &faster

	_, err := engine.Speak(context.Background(), req, "key")
	require.NoError(t, err)

	assert.Equal(t, 7, synth.job().Rate)
}

func TestSpeak_VoiceRateOverridesRequestSpeed(t *testing.T) {
	t.Parallel()

	synth := &mockSynthesizer{}
	engine := newTestEngine(t, config.Default(), synth)

	requested := 7.0
	req := speechRequest("hello")
	req.Voice = "siqi-2"
	req.Speed = &requested

	_, err := engine.Speak(context.Background(), req, "key")
	require.NoError(t, err)

	assert.Equal(t, 2, synth.job().Rate)
}

func TestSpeak_FiltersMarkdownByDefault(t *testing.T) {
	t.Parallel()

	synth := &mockSynthesizer{}
	engine := newTestEngine(t, config.Default(), synth)

	_, err := engine.Speak(
		context.Background(),
		speechRequest("# Heading\n\nSome **bold** text"),
		"key",
	)
	require.NoError(t, err)

	assert.Equal(t, "Heading Some bold text.", synth.job().Text)
}

func TestSpeak_RemoveFilterKeepsInput(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Speech.RemoveFilter = true

	synth := &mockSynthesizer{}
	engine := newTestEngine(t, cfg, synth)

	_, err := engine.Speak(
		context.Background(),
		speechRequest("**raw** input"),
		"key",
	)
	require.NoError(t, err)

	assert.Equal(t, "**raw** input", synth.job().Text)
}

func TestSpeak_SynthesisFailure(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, config.Default(), &mockSynthesizer{fail: true})

	_, err := engine.Speak(context.Background(), speechRequest("hello"), "key")

	require.ErrorIs(t, err, errSynthesisDown)
}

func TestSpeak_ArchiveSuffixTriggersSave(t *testing.T) {
	t.Parallel()

	synth := &mockSynthesizer{}
	engine := newTestEngine(t, config.Default(), synth)

	store := &mockStore{saved: make(chan string, 1)}
	engine.AddStore("local", store)

	req := speechRequest("hello")
	req.Voice = "siqi+s"

	_, err := engine.Speak(context.Background(), req, "key")
	require.NoError(t, err)

	select {
	case key := <-store.saved:
		assert.Contains(t, key, "siqi_")
	case <-time.After(5 * time.Second):
		t.Fatal("archive save did not happen")
	}
}

func TestSpeak_NoArchiveWithoutSuffix(t *testing.T) {
	t.Parallel()

	synth := &mockSynthesizer{}
	engine := newTestEngine(t, config.Default(), synth)

	store := &mockStore{saved: make(chan string, 1)}
	engine.AddStore("local", store)

	_, err := engine.Speak(context.Background(), speechRequest("hello"), "key")
	require.NoError(t, err)

	select {
	case key := <-store.saved:
		t.Fatalf("unexpected archive save: %s", key)
	case <-time.After(100 * time.Millisecond):
	}
}
