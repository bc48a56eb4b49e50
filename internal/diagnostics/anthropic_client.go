package diagnostics

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sportygroup/qa-goldenpath/internal/clients"
)

// UpstreamError wraps a rate-limited or otherwise retryable upstream
// failure, distinguished from a hard failure so callers can choose to
// back off rather than give up on diagnostics for the rest of the run.
type UpstreamError struct {
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error (status %d): %v", e.StatusCode, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// AnthropicClient implements clients.LLMClient against the Anthropic
// Messages API.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicClient builds a client for model using apiKey, optionally
// against a non-default baseURL (empty uses the SDK default).
func NewAnthropicClient(apiKey, baseURL, model string) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}
}

var _ clients.LLMClient = (*AnthropicClient)(nil)

// Complete sends a single-turn completion request and returns the
// concatenated text of every text block in the response.
//
// A 429 from the API is surfaced as *UpstreamError so the bulkhead/breaker
// layer above can treat it as a transient failure; any other >=400 status
// is turned into a short human-readable string rather than the raw SDK
// error, matching what gets shown in the run's diagnostics panel.
func (c *AnthropicClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			if apiErr.StatusCode == 429 {
				return "", &UpstreamError{StatusCode: apiErr.StatusCode, Err: err}
			}
			if apiErr.StatusCode >= 400 {
				return "", fmt.Errorf("diagnostics unavailable — %s", apiErr.Error())
			}
		}
		return "", fmt.Errorf("anthropic completion: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}
