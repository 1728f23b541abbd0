package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = `You are a sommelier assistant. Given a wine name read from a shelf label
(possibly with OCR errors), identify the wine and estimate its typical consumer rating on a 1.0-5.0 scale.
Respond with a single JSON object with these fields:
"canonical_name" (string), "rating" (number or null if you do not recognize the wine),
"confidence" (0.0-1.0, how sure you are of the identification), "wine_type", "region", "varietal",
"brand" (strings, may be empty), "blurb" (one or two sentences, may be empty),
"review_snippets" (array of at most three short review-style strings, may be empty).`

// OpenAIConfig configures the chat-completions estimator.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float32
	MaxRetries  int
}

// DefaultOpenAIConfig returns defaults for the estimator.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		Model:      openai.GPT4oMini,
		Timeout:    8 * time.Second,
		MaxRetries: 1,
	}
}

// OpenAIEstimator estimates ratings with any OpenAI-compatible endpoint.
type OpenAIEstimator struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAIEstimator creates an estimator. An API key is required.
func NewOpenAIEstimator(cfg OpenAIConfig) (*OpenAIEstimator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm api key is required")
	}
	def := DefaultOpenAIConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAIEstimator{client: openai.NewClientWithConfig(oc), cfg: cfg}, nil
}

// Provider returns the provider tag recorded on estimates.
func (o *OpenAIEstimator) Provider() string { return "openai:" + o.cfg.Model }

// Estimate asks the model about name.
func (o *OpenAIEstimator) Estimate(ctx context.Context, name string) (*Estimate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNoEstimate
	}

	req := openai.ChatCompletionRequest{
		Model:       o.cfg.Model,
		Temperature: o.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Wine name: " + name},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	var (
		resp    openai.ChatCompletionResponse
		lastErr error
	)
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 250 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, o.transportError(ctx.Err())
			case <-time.After(backoff):
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
		resp, lastErr = o.client.CreateChatCompletion(callCtx, req)
		cancel()
		if lastErr == nil || !retryable(lastErr) {
			break
		}
		slog.Debug("Retrying language model call", "name", name, "attempt", attempt+1, "error", lastErr)
	}
	if lastErr != nil {
		return nil, o.transportError(lastErr)
	}
	if len(resp.Choices) == 0 {
		return nil, o.transportError(errors.New("empty completion"))
	}

	est, err := parseEstimate(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, o.transportError(err)
	}
	est.Provider = o.Provider()
	if est.Rating == nil {
		return nil, ErrNoEstimate
	}
	return est, nil
}

func (o *OpenAIEstimator) transportError(err error) error {
	te := &TransportError{Provider: o.Provider(), Err: err}
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		te.StatusCode = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		te.StatusCode = reqErr.HTTPStatusCode
	}
	return te
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	return errors.Is(err, context.DeadlineExceeded)
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*\\})\\s*```")

// parseEstimate decodes the model's reply, tolerating a fenced code block.
func parseEstimate(content string) (*Estimate, error) {
	content = strings.TrimSpace(content)
	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		content = m[1]
	}
	var est Estimate
	if err := json.Unmarshal([]byte(content), &est); err != nil {
		return nil, fmt.Errorf("decode estimate: %w", err)
	}
	est.sanitize()
	return &est, nil
}
