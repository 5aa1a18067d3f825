// Package config provides the configuration structure for the speech gateway.
//
// Values are resolved in three layers: compiled defaults, an optional project
// TOML loaded through the configurator, and environment variables. Environment
// variables always win, matching the deployment contract of the service.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Environment variable names understood by the gateway.
const (
	EnvAPIKey                = "API_KEY"
	EnvPort                  = "PORT"
	EnvDefaultVoice          = "DEFAULT_VOICE"
	EnvDefaultResponseFormat = "DEFAULT_RESPONSE_FORMAT"
	EnvDefaultSpeed          = "DEFAULT_SPEED"
	EnvDefaultPitch          = "DEFAULT_PITCH"
	EnvDefaultVolume         = "DEFAULT_VOLUME"
	EnvRequireAPIKey         = "REQUIRE_API_KEY"
	EnvRemoveFilter          = "REMOVE_FILTER"
	EnvExpandAPI             = "EXPAND_API"
	EnvOutputDir             = "TTS_OUTPUT_DIR"
	EnvVoiceMappingsPath     = "VOICE_MAPPINGS_PATH"
	EnvNATSURL               = "NATS_URL"
	EnvAllowedOrigins        = "CORS_ALLOWED_ORIGINS"
)

// Default values applied when neither the TOML file nor the environment
// provides a setting.
const (
	DefaultAPIKey         = "your_api_key_here"
	DefaultPort           = 5050
	DefaultVoice          = "siqi"
	DefaultResponseFormat = "mp3"
	DefaultSpeed          = 4
	DefaultPitch          = 5
	DefaultVolume         = 5
	DefaultOutputDir      = "tts_output"
	DefaultMappingsPath   = "voice_mappings.json"

	defaultUpstreamTimeoutSeconds = 120
	defaultLogsDir                = "/tmp/openai-xunjie-tts/logs"
	defaultSpeechSubject          = "tts.speech.requested"
	defaultArchiveBucket          = "TTS_ARCHIVE"
)

// ServerConfig holds the HTTP listener and API surface settings.
type ServerConfig struct {
	Port           int      `toml:"port"`
	APIKey         string   `toml:"api_key"`
	RequireAPIKey  bool     `toml:"require_api_key"`
	ExpandAPI      bool     `toml:"expand_api"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// SpeechConfig holds the per-request defaults for synthesis.
type SpeechConfig struct {
	DefaultVoice          string `toml:"default_voice"`
	DefaultResponseFormat string `toml:"default_response_format"`
	DefaultSpeed          int    `toml:"default_speed"`
	DefaultPitch          int    `toml:"default_pitch"`
	DefaultVolume         int    `toml:"default_volume"`
	RemoveFilter          bool   `toml:"remove_filter"`
	VoiceMappingsPath     string `toml:"voice_mappings_path"`
}

// UpstreamConfig holds the settings for the Xunjie TTS API client.
type UpstreamConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ArchiveConfig holds the settings for persisted audio copies.
type ArchiveConfig struct {
	OutputDir string `toml:"output_dir"`
}

// NATSConfig holds the optional NATS wiring. The worker and the object store
// archive are enabled only when URL is non-empty.
type NATSConfig struct {
	URL                    string `toml:"url"`
	SpeechRequestedSubject string `toml:"speech_requested_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Speech   SpeechConfig   `toml:"speech"`
	Upstream UpstreamConfig `toml:"upstream"`
	Archive  ArchiveConfig  `toml:"archive"`
	NATS     NATSConfig     `toml:"nats"`
	Paths    PathsConfig    `toml:"paths"`
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           DefaultPort,
			APIKey:         DefaultAPIKey,
			RequireAPIKey:  true,
			ExpandAPI:      true,
			AllowedOrigins: nil,
		},
		Speech: SpeechConfig{
			DefaultVoice:          DefaultVoice,
			DefaultResponseFormat: DefaultResponseFormat,
			DefaultSpeed:          DefaultSpeed,
			DefaultPitch:          DefaultPitch,
			DefaultVolume:         DefaultVolume,
			RemoveFilter:          false,
			VoiceMappingsPath:     DefaultMappingsPath,
		},
		Upstream: UpstreamConfig{
			BaseURL:        "",
			TimeoutSeconds: defaultUpstreamTimeoutSeconds,
		},
		Archive: ArchiveConfig{
			OutputDir: DefaultOutputDir,
		},
		NATS: NATSConfig{
			URL:                    "",
			SpeechRequestedSubject: defaultSpeechSubject,
			AudioObjectStoreBucket: defaultArchiveBucket,
		},
		Paths: PathsConfig{
			BaseLogsDir: defaultLogsDir,
		},
	}
}

// Load resolves the effective configuration. A project TOML is optional; when
// the configurator cannot find one the compiled defaults are used. Environment
// variables are applied last and take precedence over both.
func Load(log *logger.Logger) (*Config, error) {
	cfg := Default()

	var fileCfg Config

	err := configurator.Load(&fileCfg, log)
	if err != nil {
		log.Warn("No project TOML loaded, using defaults: %v", err)
	} else {
		mergeFileConfig(cfg, &fileCfg)
	}

	cfg.ApplyEnv()

	return cfg, nil
}

// ApplyEnv overrides configuration values from the environment.
func (c *Config) ApplyEnv() {
	c.Server.APIKey = envOr(EnvAPIKey, c.Server.APIKey)
	c.Server.Port = envInt(EnvPort, c.Server.Port)
	c.Server.RequireAPIKey = envBool(EnvRequireAPIKey, c.Server.RequireAPIKey)
	c.Server.ExpandAPI = envBool(EnvExpandAPI, c.Server.ExpandAPI)
	c.Server.AllowedOrigins = envCSV(EnvAllowedOrigins, c.Server.AllowedOrigins)

	c.Speech.DefaultVoice = envOr(EnvDefaultVoice, c.Speech.DefaultVoice)
	c.Speech.DefaultResponseFormat = envOr(
		EnvDefaultResponseFormat,
		c.Speech.DefaultResponseFormat,
	)
	c.Speech.DefaultSpeed = envInt(EnvDefaultSpeed, c.Speech.DefaultSpeed)
	c.Speech.DefaultPitch = envInt(EnvDefaultPitch, c.Speech.DefaultPitch)
	c.Speech.DefaultVolume = envInt(EnvDefaultVolume, c.Speech.DefaultVolume)
	c.Speech.RemoveFilter = envBool(EnvRemoveFilter, c.Speech.RemoveFilter)
	c.Speech.VoiceMappingsPath = envOr(
		EnvVoiceMappingsPath,
		c.Speech.VoiceMappingsPath,
	)

	c.Archive.OutputDir = envOr(EnvOutputDir, c.Archive.OutputDir)
	c.NATS.URL = envOr(EnvNATSURL, c.NATS.URL)
}

// mergeFileConfig copies non-zero values from the loaded TOML over the
// defaults. Booleans from the file are taken as-is only when the section was
// present, which the configurator guarantees by unmarshalling the full struct.
func mergeFileConfig(dst, src *Config) {
	if src.Server.Port != 0 {
		dst.Server.Port = src.Server.Port
	}

	if src.Server.APIKey != "" {
		dst.Server.APIKey = src.Server.APIKey
	}

	if len(src.Server.AllowedOrigins) > 0 {
		dst.Server.AllowedOrigins = src.Server.AllowedOrigins
	}

	if src.Speech.DefaultVoice != "" {
		dst.Speech.DefaultVoice = src.Speech.DefaultVoice
	}

	if src.Speech.DefaultResponseFormat != "" {
		dst.Speech.DefaultResponseFormat = src.Speech.DefaultResponseFormat
	}

	if src.Speech.DefaultSpeed != 0 {
		dst.Speech.DefaultSpeed = src.Speech.DefaultSpeed
	}

	if src.Speech.DefaultPitch != 0 {
		dst.Speech.DefaultPitch = src.Speech.DefaultPitch
	}

	if src.Speech.DefaultVolume != 0 {
		dst.Speech.DefaultVolume = src.Speech.DefaultVolume
	}

	if src.Speech.VoiceMappingsPath != "" {
		dst.Speech.VoiceMappingsPath = src.Speech.VoiceMappingsPath
	}

	if src.Upstream.BaseURL != "" {
		dst.Upstream.BaseURL = src.Upstream.BaseURL
	}

	if src.Upstream.TimeoutSeconds != 0 {
		dst.Upstream.TimeoutSeconds = src.Upstream.TimeoutSeconds
	}

	if src.Archive.OutputDir != "" {
		dst.Archive.OutputDir = src.Archive.OutputDir
	}

	if src.NATS.URL != "" {
		dst.NATS.URL = src.NATS.URL
	}

	if src.NATS.SpeechRequestedSubject != "" {
		dst.NATS.SpeechRequestedSubject = src.NATS.SpeechRequestedSubject
	}

	if src.NATS.AudioObjectStoreBucket != "" {
		dst.NATS.AudioObjectStoreBucket = src.NATS.AudioObjectStoreBucket
	}

	if src.Paths.BaseLogsDir != "" {
		dst.Paths.BaseLogsDir = src.Paths.BaseLogsDir
	}
}

// envOr returns the value of the environment variable when set, otherwise the
// fallback.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

// envInt parses an integer environment variable, keeping the fallback on
// missing or malformed values.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}

	return parsed
}

// envBool parses a boolean environment variable. Accepted truthy values are
// 1, true, yes and on (case-insensitive); everything else is false.
func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// envCSV parses a comma-separated environment variable into a trimmed list.
func envCSV(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}

	if len(out) == 0 {
		return fallback
	}

	return out
}
