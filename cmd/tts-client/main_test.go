package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestSpeechPayload_SpeedOmittedWhenUnset(t *testing.T) {
	t.Parallel()

	payload := speechPayload{
		Model:          "tts-1",
		Input:          "hello",
		Voice:          "",
		ResponseFormat: "",
		Speed:          nil,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if _, ok := decoded["speed"]; ok {
		t.Error("speed should be omitted when unset")
	}

	if _, ok := decoded["voice"]; ok {
		t.Error("empty voice should be omitted")
	}
}

func TestCheckHealth(t *testing.T) {
	t.Parallel()

	healthy := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/health" {
				t.Errorf("Unexpected path: %s", r.URL.Path)
			}

			w.WriteHeader(http.StatusOK)
		}),
	)
	defer healthy.Close()

	if err := checkHealth(healthy.URL); err != nil {
		t.Errorf("checkHealth against healthy gateway failed: %v", err)
	}

	down := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}),
	)
	defer down.Close()

	if err := checkHealth(down.URL); err == nil {
		t.Error("checkHealth against unhealthy gateway should fail")
	}
}

func TestRequestSpeech_WritesOutputFile(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/audio/speech" {
				t.Errorf("Unexpected path: %s", r.URL.Path)
			}

			if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
				t.Errorf("Unexpected Authorization header: %q", got)
			}

			_, _ = w.Write([]byte("audio-bytes"))
		}),
	)
	defer server.Close()

	output := filepath.Join(t.TempDir(), "out.mp3")

	err := requestSpeech(appFlags{
		text:   "hello",
		voice:  "siqi",
		format: "mp3",
		speed:  speedOmittedSentry,
		output: output,
		key:    "test-key",
		url:    server.URL,
		health: false,
	})
	if err != nil {
		t.Fatalf("requestSpeech failed: %v", err)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("Failed to read output: %v", err)
	}

	if string(data) != "audio-bytes" {
		t.Errorf("Output file content = %q, want %q", data, "audio-bytes")
	}
}
