package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/kiranshivaraju/finscan/internal/config"
	"github.com/kiranshivaraju/finscan/pkg/models"
)

// Provider implements models.AIProvider using the Anthropic Messages API.
type Provider struct {
	messages sdk.MessageService
	model    string
	timeout  time.Duration
}

// NewProvider builds a client from cfg. Extra request options are appended after the
// API key, which lets callers point the client at another base URL.
func NewProvider(cfg config.AnthropicConfig, timeout time.Duration, opts ...option.RequestOption) *Provider {
	opts = append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	client := sdk.NewClient(opts...)
	return &Provider{
		messages: client.Messages,
		model:    cfg.Model,
		timeout:  timeout,
	}
}

func (p *Provider) Name() string  { return "anthropic" }
func (p *Provider) Model() string { return p.model }

func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = models.DefaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	resp, err := p.messages.New(ctx, params)
	if err != nil {
		return "", classifyError(err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(out.String()) == "" {
		return "", fmt.Errorf("%w: anthropic returned no text content", models.ErrInvalidResponse)
	}
	return out.String(), nil
}

func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", models.ErrInferenceTimeout, err)
	}

	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode == http.StatusUnauthorized,
			apiErr.StatusCode == http.StatusForbidden,
			apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: anthropic status %d: %v", models.ErrProviderUnavailable, apiErr.StatusCode, err)
		default:
			return fmt.Errorf("%w: anthropic status %d: %v", models.ErrInvalidResponse, apiErr.StatusCode, err)
		}
	}

	return fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
}

var _ models.AIProvider = (*Provider)(nil)
