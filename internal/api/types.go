package api

import (
	"github.com/Tech-Tweakers/polaris-core/internal/history"
	"github.com/Tech-Tweakers/polaris-core/internal/inference"
)

// GenerateRequest is the body of POST /v1/generate. Unset numeric fields
// fall back to the server defaults.
type GenerateRequest struct {
	Prompt        string   `json:"prompt"`
	SystemPrompt  string   `json:"system_prompt,omitempty"`
	MaxTokens     *int     `json:"max_tokens,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
	Seed          *int64   `json:"seed,omitempty"`
	Stream        *bool    `json:"stream,omitempty"`
}

type GenerateResponse struct {
	ID         string          `json:"id"`
	Object     string          `json:"object"`
	CreatedAt  int64           `json:"created_at"`
	Text       string          `json:"text"`
	Content    string          `json:"content"`
	Reasoning  string          `json:"reasoning,omitempty"`
	StopReason string          `json:"stop_reason"`
	Usage      Usage           `json:"usage"`
	Stats      inference.Stats `json:"stats"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func usageOf(st inference.Stats) Usage {
	return Usage{
		PromptTokens:     st.PromptTokens,
		CompletionTokens: st.TokensGenerated,
		TotalTokens:      st.PromptTokens + st.TokensGenerated,
	}
}

type ModelInfo struct {
	Object      string `json:"object"`
	Backend     string `json:"backend"`
	Model       string `json:"model,omitempty"`
	ContextSize int    `json:"context_size"`
	Occupied    int    `json:"occupied"`
	Version     string `json:"version,omitempty"`
}

type GenerationList struct {
	Object string           `json:"object"`
	Data   []history.Record `json:"data"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

type streamEvent struct {
	Type           string            `json:"type"`
	ID             string            `json:"id"`
	SequenceNumber int               `json:"sequence_number"`
	Delta          string            `json:"delta,omitempty"`
	ContentDelta   string            `json:"content_delta,omitempty"`
	ReasoningDelta string            `json:"reasoning_delta,omitempty"`
	Response       *GenerateResponse `json:"response,omitempty"`
	Error          *ResponseError    `json:"error,omitempty"`
}
