// Package vllm wires a self-hosted vLLM server, which exposes the OpenAI API under /v1.
package vllm

import (
	"strings"
	"time"

	"github.com/kiranshivaraju/finscan/internal/ai/openai"
	"github.com/kiranshivaraju/finscan/internal/config"
)

func NewProvider(cfg config.VLLMConfig, timeout time.Duration) *openai.Provider {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return openai.New("vllm", base, "", cfg.Model, timeout)
}
