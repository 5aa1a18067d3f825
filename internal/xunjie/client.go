// Package xunjie provides the client for the Xunjie (hudunsoft) cloud TTS API.
//
// The API is form-encoded. A synthesis request either completes inline and
// returns a downloadable file link, or is queued as a task that must be polled
// until completion. Audio is always produced as MP3; format conversion is the
// caller's concern.
package xunjie

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"

	"github.com/lizhe2004/openai-xunjie-tts/internal/core"
)

// API endpoints and request constants.
const (
	DefaultBaseURL = "https://user.api.hudunsoft.com"

	apiTextToAudio  = "/v1/alivoice/texttoaudio"
	apiTextTaskInfo = "/v1/alivoice/textTaskInfo"

	paramClient      = "web"
	paramSource      = "335"
	paramSoftVersion = "V4.4.0.0"

	contentTypeForm = "application/x-www-form-urlencoded; charset=UTF-8"
	headerContent   = "Content-Type"
)

// Response codes. The API emits codes as both bare numbers and quoted
// strings, so comparisons are done on the textual form.
const (
	codeOK         = "0"
	codeTaskQueued = "2105"
)

// Task polling bounds: at most maxTaskPolls polls, one every pollInterval,
// which caps the wait at sixty seconds.
const (
	defaultPollInterval = 5 * time.Second
	maxTaskPolls        = 12

	titleMaxRunes = 10
)

// Static errors.
var (
	ErrTextEmpty       = errors.New("text cannot be empty")
	ErrTaskTimeout     = errors.New("task did not complete within the polling window")
	ErrNoFileLink      = errors.New("no file link in response")
	ErrEmptyAudio      = errors.New("received empty audio data")
	ErrUpstreamFailure = errors.New("upstream TTS error")
	ErrNotComplete     = errors.New("audio generation not complete")
)

// flexString unmarshals a JSON value that may arrive as either a string or a
// number into its textual form.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	*f = flexString(strings.Trim(string(data), `"`))

	return nil
}

// flexBool accepts true/false, 0/1 and their quoted forms.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(string(data), `"`)
	*b = trimmed == "true" || trimmed == "1"

	return nil
}

// apiResponse is the envelope shared by the synthesis and task-info calls.
type apiResponse struct {
	Code    flexString `json:"code"`
	Message string     `json:"message"`
	Data    apiResult  `json:"data"`
}

type apiResult struct {
	TaskID     flexString `json:"task_id"`
	IsComplete flexBool   `json:"is_complete"`
	FileLink   string     `json:"file_link"`
}

// Client talks to the Xunjie TTS API. The zero value is not usable; construct
// with NewClient.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	pollInterval time.Duration
	maxPolls     int
	log          *logger.Logger
}

// NewClient creates a client for the given base URL. An empty baseURL selects
// the production endpoint. The timeout applies per HTTP call, not to the
// overall task polling, which is bounded by the caller's context and the poll
// limit.
func NewClient(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      baseURL,
		pollInterval: defaultPollInterval,
		maxPolls:     maxTaskPolls,
		log:          log,
	}
}

// NewClientWithPolling creates a client with explicit polling parameters.
// This constructor is primarily for testing, allowing short poll intervals
// while keeping the same client behavior.
func NewClientWithPolling(
	baseURL string,
	timeout time.Duration,
	pollInterval time.Duration,
	maxPolls int,
	log *logger.Logger,
) *Client {
	client := NewClient(baseURL, timeout, log)
	client.pollInterval = pollInterval
	client.maxPolls = maxPolls

	return client
}

// Synthesize requests speech generation for the job and returns the MP3
// bytes. Queued tasks are polled until the file is ready or the polling
// window closes.
func (c *Client) Synthesize(ctx context.Context, job core.SynthesisJob) ([]byte, error) {
	if job.Text == "" {
		return nil, ErrTextEmpty
	}

	resp, err := c.postForm(ctx, apiTextToAudio, c.synthesisParams(job))
	if err != nil {
		return nil, err
	}

	fileLink, err := c.resolveFileLink(ctx, job, resp)
	if err != nil {
		return nil, err
	}

	return c.download(ctx, fileLink)
}

// synthesisParams builds the form parameters for a texttoaudio call.
func (c *Client) synthesisParams(job core.SynthesisJob) url.Values {
	return url.Values{
		"client":       {paramClient},
		"source":       {paramSource},
		"soft_version": {paramSoftVersion},
		"device_id":    {job.DeviceID},
		"token":        {job.Token},
		"text":         {job.Text},
		"voice":        {job.Voice},
		"volume":       {strconv.Itoa(job.Volume)},
		"speech_rate":  {strconv.Itoa(job.Rate)},
		"pitch_rate":   {strconv.Itoa(job.Pitch)},
		"format":       {"mp3"},
		"title":        {titleFor(job.Text)},
		"emotion":      {job.Emotion},
		"bgid":         {"0"},
		"bg_volume":    {"5"},
		"bg_url":       {""},
	}
}

// resolveFileLink extracts the audio file link from a synthesis response,
// polling the task endpoint when the request was queued.
func (c *Client) resolveFileLink(
	ctx context.Context,
	job core.SynthesisJob,
	resp *apiResponse,
) (string, error) {
	switch string(resp.Code) {
	case codeTaskQueued:
		if resp.Data.TaskID == "" {
			return "", fmt.Errorf("%w: queued without task id", ErrUpstreamFailure)
		}

		return c.pollTask(ctx, job, string(resp.Data.TaskID))
	case codeOK:
		if !bool(resp.Data.IsComplete) {
			return "", ErrNotComplete
		}

		if resp.Data.FileLink == "" {
			return "", ErrNoFileLink
		}

		return resp.Data.FileLink, nil
	default:
		return "", fmt.Errorf(
			"%w: %s (code %s)",
			ErrUpstreamFailure, resp.Message, resp.Code,
		)
	}
}

// pollTask polls the task-info endpoint until the task completes or the poll
// budget is spent.
func (c *Client) pollTask(
	ctx context.Context,
	job core.SynthesisJob,
	taskID string,
) (string, error) {
	params := url.Values{
		"client":       {paramClient},
		"source":       {paramSource},
		"soft_version": {paramSoftVersion},
		"device_id":    {job.DeviceID},
		"taskId":       {taskID},
	}

	for poll := 0; poll < c.maxPolls; poll++ {
		resp, err := c.postForm(ctx, apiTextTaskInfo, params)
		if err != nil {
			return "", err
		}

		if string(resp.Code) == codeOK &&
			bool(resp.Data.IsComplete) &&
			resp.Data.FileLink != "" {
			return resp.Data.FileLink, nil
		}

		c.log.Info("Task %s not complete, poll %d/%d", taskID, poll+1, c.maxPolls)

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("task polling canceled: %w", ctx.Err())
		case <-time.After(c.pollInterval):
		}
	}

	return "", ErrTaskTimeout
}

// postForm sends a form-encoded POST and decodes the response envelope.
func (c *Client) postForm(
	ctx context.Context,
	path string,
	params url.Values,
) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+path,
		strings.NewReader(params.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerContent, contentTypeForm)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to send request to TTS API at %s: %w",
			c.baseURL, err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)

		return nil, fmt.Errorf(
			"%w: API request failed with status %s, body: %s",
			ErrUpstreamFailure, resp.Status, string(body),
		)
	}

	var decoded apiResponse

	err = json.NewDecoder(resp.Body).Decode(&decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode API response: %w", err)
	}

	return &decoded, nil
}

// download fetches the generated audio file.
func (c *Client) download(ctx context.Context, fileLink string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileLink, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download audio file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(
			"%w: audio download failed with status %s",
			ErrUpstreamFailure, resp.Status,
		)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// titleFor truncates the text to the first ten runes, the upstream title
// limit.
func titleFor(text string) string {
	runes := []rune(text)
	if len(runes) > titleMaxRunes {
		runes = runes[:titleMaxRunes]
	}

	return string(runes)
}
