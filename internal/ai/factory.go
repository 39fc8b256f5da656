package ai

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/finscan/internal/ai/anthropic"
	"github.com/kiranshivaraju/finscan/internal/ai/gemini"
	"github.com/kiranshivaraju/finscan/internal/ai/ollama"
	"github.com/kiranshivaraju/finscan/internal/ai/openai"
	"github.com/kiranshivaraju/finscan/internal/ai/vllm"
	"github.com/kiranshivaraju/finscan/internal/config"
	"github.com/kiranshivaraju/finscan/pkg/models"
)

// NewProvider constructs the appropriate AI provider based on config.
// Called once at server startup.
func NewProvider(ctx context.Context, cfg config.AIConfig) (models.AIProvider, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.NewProvider(cfg.Ollama, cfg.InferenceTimeout), nil
	case "vllm":
		return vllm.NewProvider(cfg.VLLM, cfg.InferenceTimeout), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI, cfg.InferenceTimeout), nil
	case "groq":
		return openai.NewGroqProvider(cfg.Groq, cfg.InferenceTimeout), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic, cfg.InferenceTimeout), nil
	case "gemini":
		p, err := gemini.NewProvider(ctx, cfg.Gemini)
		if err != nil {
			return nil, fmt.Errorf("creating gemini provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of anthropic, gemini, openai, groq, vllm, ollama", cfg.Provider)
	}
}
