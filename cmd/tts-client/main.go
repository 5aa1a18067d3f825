// Command tts-client is a small CLI for exercising the speech gateway.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// Flag names.
const (
	flagText   = "text"
	flagVoice  = "voice"
	flagFormat = "format"
	flagSpeed  = "speed"
	flagOutput = "output"
	flagKey    = "key"
	flagURL    = "url"
	flagHealth = "health"
)

// Flag descriptions.
const (
	flagTextDesc   = "Text to convert to speech"
	flagVoiceDesc  = "Voice name, optionally with adjustments (e.g. siqi-4-5)"
	flagFormatDesc = "Response format: mp3, wav, aac, opus, flac"
	flagSpeedDesc  = "Speech rate on the 0..10 scale (-1 to omit)"
	flagOutputDesc = "Output file path"
	flagKeyDesc    = "API key sent as Bearer token"
	flagURLDesc    = "Gateway base URL"
	flagHealthDesc = "Check gateway health and exit"
)

const (
	defaultURL    = "http://localhost:5050"
	defaultOutput = "speech.mp3"

	requestTimeout     = 180 * time.Second
	healthTimeout      = 10 * time.Second
	outputFilePerms    = 0o600
	speedOmittedSentry = -1
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	text   string
	voice  string
	format string
	speed  float64
	output string
	key    string
	url    string
	health bool
}

// speechPayload is the request body for /v1/audio/speech.
type speechPayload struct {
	Model          string   `json:"model"`
	Input          string   `json:"input"`
	Voice          string   `json:"voice,omitempty"`
	ResponseFormat string   `json:"response_format,omitempty"`
	Speed          *float64 `json:"speed,omitempty"`
}

var (
	errTextRequired = errors.New("--text is required")
	errNotHealthy   = errors.New("gateway is not healthy")
	errRequestFail  = errors.New("gateway returned an error")
)

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()

	if flags.health {
		return checkHealth(flags.url)
	}

	if flags.text == "" {
		flag.Usage()

		return errTextRequired
	}

	return requestSpeech(flags)
}

func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.text, flagText, "", flagTextDesc)
	flag.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	flag.StringVar(&flags.format, flagFormat, "", flagFormatDesc)
	flag.Float64Var(&flags.speed, flagSpeed, speedOmittedSentry, flagSpeedDesc)
	flag.StringVar(&flags.output, flagOutput, defaultOutput, flagOutputDesc)
	flag.StringVar(&flags.key, flagKey, "", flagKeyDesc)
	flag.StringVar(&flags.url, flagURL, defaultURL, flagURLDesc)
	flag.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	flag.Parse()

	return flags
}

func checkHealth(baseURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, baseURL+"/health", http.NoBody,
	)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s", errNotHealthy, resp.Status)
	}

	fmt.Println("Gateway is healthy")

	return nil
}

func requestSpeech(flags appFlags) error {
	payload := speechPayload{
		Model:          "tts-1",
		Input:          flags.text,
		Voice:          flags.voice,
		ResponseFormat: flags.format,
		Speed:          nil,
	}

	if flags.speed >= 0 {
		payload.Speed = &flags.speed
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		flags.url+"/v1/audio/speech",
		strings.NewReader(string(body)),
	)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if flags.key != "" {
		req.Header.Set("Authorization", "Bearer "+flags.key)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf(
			"%w: %s: %s",
			errRequestFail, resp.Status, strings.TrimSpace(string(data)),
		)
	}

	err = os.WriteFile(flags.output, data, outputFilePerms)
	if err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}

	fmt.Printf("Generated: %s (%d bytes)\n", flags.output, len(data))

	return nil
}
