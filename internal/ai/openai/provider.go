// Package openai talks to any OpenAI-compatible chat completions endpoint
// (OpenAI itself, Groq, and vLLM's built-in server).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/finscan/internal/config"
	"github.com/kiranshivaraju/finscan/pkg/models"
)

// GroqBaseURL is Groq's OpenAI-compatible API root.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// maxErrorBody bounds how much of a failed response body ends up in an error.
const maxErrorBody = 512

// Provider implements models.AIProvider against /chat/completions.
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// New creates a provider for an arbitrary OpenAI-compatible server. apiKey may be empty.
func New(name, baseURL, apiKey, model string, timeout time.Duration) *Provider {
	return &Provider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func NewProvider(cfg config.OpenAIConfig, timeout time.Duration) *Provider {
	return New("openai", cfg.BaseURL, cfg.APIKey, cfg.Model, timeout)
}

func NewGroqProvider(cfg config.GroqConfig, timeout time.Duration) *Provider {
	return New("groq", GroqBaseURL, cfg.APIKey, cfg.Model, timeout)
}

func (p *Provider) Name() string  { return p.name }
func (p *Provider) Model() string { return p.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = models.DefaultMaxTokens
	}

	body := chatRequest{
		Model:       p.model,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(p.name, resp)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding %s response: %v", models.ErrInvalidResponse, p.name, err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: %s returned no content", models.ErrInvalidResponse, p.name)
	}
	return out.Choices[0].Message.Content, nil
}

// statusError maps a non-200 reply. Throttling, auth and server faults mean the
// provider cannot serve us right now; anything else is a malformed exchange.
func statusError(name string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(snippet))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s status %d: %s", models.ErrProviderUnavailable, name, resp.StatusCode, msg)
	default:
		return fmt.Errorf("%w: %s status %d: %s", models.ErrInvalidResponse, name, resp.StatusCode, msg)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", models.ErrInferenceTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", models.ErrInferenceTimeout, err)
		}
		return fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
	}

	return fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
}

var _ models.AIProvider = (*Provider)(nil)
