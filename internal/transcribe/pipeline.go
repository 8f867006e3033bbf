// Package transcribe submits captured audio to the configured provider and
// optionally rewrites the transcript through a chat-completion endpoint.
package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"murmur/internal/capture"
	"murmur/internal/domain"
)

// requestTimeout bounds each provider call; the source behavior left this
// unspecified, so a fixed ceiling is applied and surfaced as a provider error.
const requestTimeout = 60 * time.Second

const (
	postProcessTemperature = 0.2
	postProcessMaxTokens   = 4096
)

// Stage names emitted through Request.OnStage, in order.
const (
	StageStart      = "start"
	StageSubmitting = "submitting"
	StageReceiving  = "receiving"
	StageProcessing = "processing"
	StageComplete   = "complete"
)

// Request contains the audio blob and execution callbacks for one run.
type Request struct {
	Blob     capture.Blob
	Provider domain.ProviderConfig
	Prompt   domain.PromptSettings
	OnStage  func(stage, message string)
}

// Result contains the raw and post-processed transcript for one run.
type Result struct {
	RawText       string
	ProcessedText string
	Timestamp     time.Time
}

// transcriptionResponse is the provider's transcription success body.
type transcriptionResponse struct {
	Text string `json:"text"`
}

// chatResponse is the subset of the chat-completion body the pipeline reads.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// chatPayload is the post-processing request body.
type chatPayload struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

// chatMessage is one conversation turn in the post-processing request.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Pipeline orchestrates provider submission and optional post-processing.
type Pipeline struct {
	client     *resty.Client
	logger     *zap.Logger
	createTemp func(dir, pattern string) (*os.File, error)
	remove     func(name string) error
	now        func() time.Time
}

// NewPipeline constructs the production pipeline.
func NewPipeline(logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		client:     resty.New().SetTimeout(requestTimeout),
		logger:     logger,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
		now:        time.Now,
	}
}

// Run submits the blob for transcription and applies optional
// post-processing. Progress is reported through req.OnStage in the order
// start, submitting, receiving, processing (optional), complete. Clipboard
// and history side effects belong to the caller, which re-checks
// cancellation before applying them.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	emitStage(req.OnStage, StageStart, "Preparing audio")

	if strings.TrimSpace(req.Provider.APIKey) == "" {
		return Result{}, &PipelineError{
			Stage:   StageStart,
			Kind:    KindConfiguration,
			Message: "no API key configured for the active provider",
		}
	}
	if len(req.Blob.Data) == 0 {
		return Result{}, &PipelineError{
			Stage:   StageStart,
			Kind:    KindEmptyResult,
			Message: "no audio captured",
		}
	}

	rawText, err := p.transcribe(ctx, req)
	if err != nil {
		return Result{}, err
	}

	processedText := rawText
	if req.Prompt.Enabled {
		emitStage(req.OnStage, StageProcessing, "Post-processing transcript")
		if rewritten, postErr := p.postProcess(ctx, req.Provider, req.Prompt, rawText); postErr != nil {
			// Post-processing never blocks delivery of the raw transcript.
			p.logger.Warn("post-processing failed, keeping raw transcript", zap.Error(postErr))
			emitStage(req.OnStage, StageProcessing, "Post-processing failed, keeping raw transcript")
		} else {
			processedText = rewritten
		}
	}

	if ctx.Err() != nil {
		return Result{}, fmt.Errorf("session cancelled: %w", ctx.Err())
	}

	emitStage(req.OnStage, StageComplete, "Transcription complete")
	return Result{
		RawText:       rawText,
		ProcessedText: processedText,
		Timestamp:     p.now().UTC(),
	}, nil
}

// transcribe uploads the audio blob and classifies the provider response.
// The temp file backing the multipart upload is removed on every exit path.
func (p *Pipeline) transcribe(ctx context.Context, req Request) (string, error) {
	tempFile, err := p.createTemp("", "murmur-upload-*.wav")
	if err != nil {
		return "", &PipelineError{
			Stage:   StageSubmitting,
			Kind:    KindProvider,
			Message: "failed to stage audio for upload",
			Err:     err,
		}
	}
	tempPath := tempFile.Name()
	defer func() {
		if removeErr := p.remove(tempPath); removeErr != nil {
			p.logger.Warn("remove upload temp file", zap.Error(removeErr))
		}
	}()

	if _, err := tempFile.Write(req.Blob.Data); err != nil {
		_ = tempFile.Close()
		return "", &PipelineError{
			Stage:   StageSubmitting,
			Kind:    KindProvider,
			Message: "failed to stage audio for upload",
			Err:     err,
		}
	}
	if err := tempFile.Close(); err != nil {
		return "", &PipelineError{
			Stage:   StageSubmitting,
			Kind:    KindProvider,
			Message: "failed to stage audio for upload",
			Err:     err,
		}
	}

	emitStage(req.OnStage, StageSubmitting, "Uploading audio")
	resp, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(req.Provider.APIKey).
		SetFile("file", tempPath).
		SetFormData(map[string]string{"model": req.Provider.Model}).
		Post(endpoint(req.Provider.BaseURL, "/audio/transcriptions"))
	if err != nil {
		return "", &PipelineError{
			Stage:   StageSubmitting,
			Kind:    KindProvider,
			Message: "transcription request failed",
			Err:     err,
		}
	}

	emitStage(req.OnStage, StageReceiving, "Reading transcript")
	if classifyErr := classify(resp.StatusCode(), resp.Body()); classifyErr != nil {
		return "", classifyErr
	}

	var body transcriptionResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", &PipelineError{
			Stage:   StageReceiving,
			Kind:    KindProvider,
			Message: "malformed transcription response",
			Err:     err,
		}
	}
	text := strings.TrimSpace(body.Text)
	if text == "" {
		return "", &PipelineError{
			Stage:   StageReceiving,
			Kind:    KindEmptyResult,
			Message: "no speech detected",
		}
	}
	return text, nil
}

// postProcess rewrites the raw transcript through the chat endpoint.
func (p *Pipeline) postProcess(ctx context.Context, provider domain.ProviderConfig, prompt domain.PromptSettings, rawText string) (string, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(provider.APIKey).
		SetHeader("Content-Type", "application/json").
		SetBody(chatPayload{
			Model: provider.ChatModel,
			Messages: []chatMessage{
				{Role: "system", Content: prompt.Prompt},
				{Role: "user", Content: rawText},
			},
			Temperature: postProcessTemperature,
			MaxTokens:   postProcessMaxTokens,
		}).
		Post(endpoint(provider.BaseURL, "/chat/completions"))
	if err != nil {
		return "", fmt.Errorf("post-process request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("post-process status %d: %s", resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	}

	var body chatResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", fmt.Errorf("malformed post-process response: %w", err)
	}
	if len(body.Choices) == 0 {
		return "", fmt.Errorf("post-process response has no choices")
	}
	content := strings.TrimSpace(body.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("post-process response is empty")
	}
	return content, nil
}

// classify maps provider HTTP status codes onto the error taxonomy.
func classify(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 401:
		return &PipelineError{
			Stage:      StageReceiving,
			Kind:       KindAuth,
			Message:    "invalid or expired API key",
			StatusCode: status,
		}
	case status == 404:
		return &PipelineError{
			Stage:      StageReceiving,
			Kind:       KindEndpoint,
			Message:    "transcription endpoint not found; check the provider base URL",
			StatusCode: status,
		}
	default:
		return &PipelineError{
			Stage:      StageReceiving,
			Kind:       KindProvider,
			Message:    "provider request failed",
			StatusCode: status,
			Body:       strings.TrimSpace(string(body)),
		}
	}
}

// endpoint joins the provider base URL with an API path.
func endpoint(baseURL, path string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
}

// emitStage forwards stage updates when a callback is configured.
func emitStage(cb func(stage, message string), stage, message string) {
	if cb != nil {
		cb(stage, message)
	}
}

// NewPipelineForTests constructs a pipeline with injectable dependencies.
func NewPipelineForTests(
	client *resty.Client,
	createTemp func(dir, pattern string) (*os.File, error),
	remove func(name string) error,
	now func() time.Time,
) *Pipeline {
	return &Pipeline{
		client:     client,
		logger:     zap.NewNop(),
		createTemp: createTemp,
		remove:     remove,
		now:        now,
	}
}
