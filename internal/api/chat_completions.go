package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"

	"github.com/Tech-Tweakers/polaris-core/internal/inference"
)

// ChatCompletionRequest is the subset of the OpenAI chat completion request
// that maps onto a single-turn generate call.
type ChatCompletionRequest struct {
	Model               string        `json:"model"`
	Messages            []ChatMessage `json:"messages"`
	Temperature         *float64      `json:"temperature,omitempty"`
	TopP                *float64      `json:"top_p,omitempty"`
	MaxTokens           *int          `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int          `json:"max_completion_tokens,omitempty"`
	RepeatPenalty       *float64      `json:"repeat_penalty,omitempty"`
	Seed                *int64        `json:"seed,omitempty"`
	Stream              bool          `json:"stream,omitempty"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

func (s *Server) RegisterChatCompletions(e *echo.Echo) {
	e.POST("/v1/chat/completions", s.handleChatCompletions)
}

func (s *Server) handleChatCompletions(c *echo.Context) error {
	req, err := decodeJSON[ChatCompletionRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Stream {
		return writeBadRequest(c, "stream is not supported on /v1/chat/completions; use /v1/generate with stream")
	}
	opts, err := chatToRequestOptions(req)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	g, release, err := s.admit(c)
	if err != nil {
		return writeGenerateError(c, err)
	}
	defer release()

	res, err := s.run(g, opts)
	if err != nil {
		return writeGenerateError(c, err)
	}

	gen := s.response(g.id, g.created, res)
	model := req.Model
	if model == "" {
		model = s.backend
	}
	return c.JSON(http.StatusOK, ChatCompletionResponse{
		ID:      "chatcmpl-" + strings.TrimPrefix(g.id, "gen_"),
		Object:  "chat.completion",
		Created: g.created.Unix(),
		Model:   model,
		Choices: []ChatChoice{{
			Message:      ChatMessage{Role: "assistant", Content: gen.Content},
			FinishReason: finishReason(res.StopReason),
		}},
		Usage: gen.Usage,
	})
}

// chatToRequestOptions folds system messages into the system prompt and
// requires exactly one user message after them. The session keeps no
// conversation, so prior assistant turns are rejected.
func chatToRequestOptions(req ChatCompletionRequest) (inference.RequestOptions, error) {
	var (
		system []string
		opts   inference.RequestOptions
		users  int
	)
	if len(req.Messages) == 0 {
		return opts, newInvalidRequest("messages is required and must not be empty")
	}
	for _, m := range req.Messages {
		text, err := messageText(m.Content)
		if err != nil {
			return opts, err
		}
		switch m.Role {
		case "system", "developer":
			system = append(system, text)
		case "user":
			users++
			opts.Prompt = text
		default:
			return opts, newInvalidRequest("unsupported message role " + m.Role + ": only system and a single user turn are accepted")
		}
	}
	if users != 1 {
		return opts, newInvalidRequest("exactly one user message is required")
	}
	if strings.TrimSpace(opts.Prompt) == "" {
		return opts, newInvalidRequest("user message must not be empty")
	}
	opts.SystemPrompt = strings.Join(system, "\n")
	opts.MaxTokens = req.MaxTokens
	if req.MaxCompletionTokens != nil {
		opts.MaxTokens = req.MaxCompletionTokens
	}
	opts.Temperature = req.Temperature
	opts.TopP = req.TopP
	opts.RepeatPenalty = req.RepeatPenalty
	opts.Seed = req.Seed
	return opts, nil
}

func messageText(content any) (string, error) {
	switch v := content.(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	case []any:
		var parts []string
		for _, raw := range v {
			pm, ok := raw.(map[string]any)
			if !ok {
				return "", newInvalidRequest("invalid content part")
			}
			if typ, _ := pm["type"].(string); typ == "text" {
				if text, ok := pm["text"].(string); ok {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, "\n"), nil
	default:
		return "", newInvalidRequest("message content: unsupported type")
	}
}

func finishReason(r inference.StopReason) string {
	switch r {
	case inference.StopLength, inference.StopNoRoom, inference.StopContext:
		return "length"
	default:
		return "stop"
	}
}
