// Package audio provides output format handling for the speech gateway.
//
// Upstream synthesis always yields MP3. Other response formats are produced
// by transcoding through an ffmpeg subprocess; when ffmpeg is unavailable the
// original MP3 is passed through unchanged rather than failing the request.
package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/book-expert/logger"
)

// Supported response formats.
const (
	FormatMP3  = "mp3"
	FormatWAV  = "wav"
	FormatAAC  = "aac"
	FormatOpus = "opus"
	FormatFLAC = "flac"
)

const (
	ffmpegBinary    = "ffmpeg"
	defaultBitrate  = "192k"
	filePermissions = 0o600
)

// ErrUnsupportedFormat is returned for response formats the gateway cannot
// produce.
var ErrUnsupportedFormat = errors.New("unsupported response format")

// mimeTypes maps response formats to their MIME types. Unknown formats fall
// back to audio/mpeg.
var mimeTypes = map[string]string{
	FormatMP3:  "audio/mpeg",
	FormatWAV:  "audio/wav",
	FormatAAC:  "audio/aac",
	FormatOpus: "audio/ogg",
	FormatFLAC: "audio/flac",
}

// codecs maps response formats to ffmpeg audio codecs.
var codecs = map[string]string{
	FormatAAC:  "aac",
	FormatMP3:  "libmp3lame",
	FormatWAV:  "pcm_s16le",
	FormatOpus: "libopus",
	FormatFLAC: "flac",
}

// containers maps response formats to ffmpeg output container formats. AAC is
// written into an MP4 container and Opus into an Ogg container; the rest use
// the format name directly.
var containers = map[string]string{
	FormatAAC:  "mp4",
	FormatOpus: "ogg",
}

// MIMEType returns the MIME type for a response format.
func MIMEType(format string) string {
	if mime, ok := mimeTypes[format]; ok {
		return mime
	}

	return mimeTypes[FormatMP3]
}

// IsSupportedFormat reports whether the gateway can produce the format.
func IsSupportedFormat(format string) bool {
	_, ok := mimeTypes[format]

	return ok
}

// Converter transcodes MP3 audio into other response formats.
type Converter struct {
	log *logger.Logger

	// lookPath locates the ffmpeg binary; injectable for tests.
	lookPath func(string) (string, error)
}

// NewConverter creates a Converter.
func NewConverter(log *logger.Logger) *Converter {
	return &Converter{
		log:      log,
		lookPath: exec.LookPath,
	}
}

// NewConverterWithLookPath creates a Converter with a custom binary locator.
// This constructor is primarily for testing ffmpeg-absent behavior.
func NewConverterWithLookPath(
	log *logger.Logger,
	lookPath func(string) (string, error),
) *Converter {
	return &Converter{
		log:      log,
		lookPath: lookPath,
	}
}

// FFmpegInstalled reports whether the ffmpeg binary is available.
func (c *Converter) FFmpegInstalled() bool {
	_, err := c.lookPath(ffmpegBinary)

	return err == nil
}

// Convert transcodes MP3 data into the requested format and returns the
// produced bytes together with the format actually delivered. Requests for
// MP3 are returned as-is; when ffmpeg is missing the MP3 passes through with
// a logged warning.
func (c *Converter) Convert(
	ctx context.Context,
	mp3Data []byte,
	format string,
) ([]byte, string, error) {
	if !IsSupportedFormat(format) {
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	if format == FormatMP3 {
		return mp3Data, FormatMP3, nil
	}

	if !c.FFmpegInstalled() {
		c.log.Warn("FFmpeg is not available, returning unmodified mp3 audio")

		return mp3Data, FormatMP3, nil
	}

	converted, err := c.runFFmpeg(ctx, mp3Data, format)
	if err != nil {
		return nil, "", err
	}

	return converted, format, nil
}

// runFFmpeg performs the transcode through temp files, mirroring the ffmpeg
// CLI contract.
func (c *Converter) runFFmpeg(
	ctx context.Context,
	mp3Data []byte,
	format string,
) ([]byte, error) {
	inputFile, err := os.CreateTemp("", "tts-input-*.mp3")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp input file: %w", err)
	}

	defer c.removeTempFile(inputFile.Name())

	err = os.WriteFile(inputFile.Name(), mp3Data, filePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to write temp input file: %w", err)
	}

	outputFile, err := os.CreateTemp("", "tts-output-*."+format)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp output file: %w", err)
	}

	defer c.removeTempFile(outputFile.Name())

	args := c.ffmpegArgs(inputFile.Name(), outputFile.Name(), format)

	// #nosec G204 -- the format is validated against the supported set
	cmd := exec.CommandContext(ctx, ffmpegBinary, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf(
			"ffmpeg conversion to %s failed: %w - output: %s",
			format, err, string(output),
		)
	}

	converted, err := os.ReadFile(outputFile.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to read converted audio: %w", err)
	}

	return converted, nil
}

// ffmpegArgs builds the ffmpeg invocation for one conversion.
func (c *Converter) ffmpegArgs(inputPath, outputPath, format string) []string {
	container := format
	if mapped, ok := containers[format]; ok {
		container = mapped
	}

	args := []string{
		"-i", inputPath,
		"-c:a", codecs[format],
	}

	// WAV is uncompressed; a bitrate option would be meaningless.
	if format != FormatWAV {
		args = append(args, "-b:a", defaultBitrate)
	}

	args = append(args,
		"-f", container,
		"-y",
		outputPath,
	)

	return args
}

func (c *Converter) removeTempFile(path string) {
	removeErr := os.Remove(path)
	if removeErr != nil {
		c.log.Warn("Failed to remove temp file '%s': %v", path, removeErr)
	}
}
