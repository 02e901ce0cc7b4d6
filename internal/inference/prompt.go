package inference

import (
	"fmt"
	"strings"
)

type Framing string

const (
	FramingChatML Framing = "chatml"
	FramingRaw    Framing = "raw"
)

func ParseFraming(s string) (Framing, error) {
	switch f := Framing(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FramingChatML, nil
	case FramingChatML, FramingRaw:
		return f, nil
	default:
		return "", fmt.Errorf("unknown prompt framing %q (expected chatml or raw)", s)
	}
}

type PromptRenderInput struct {
	Framing      Framing
	SystemPrompt string
	Prompt       string
}

func RenderPrompt(input PromptRenderInput) (string, error) {
	switch input.Framing {
	case FramingChatML, "":
		return renderChatML(input.SystemPrompt, input.Prompt), nil
	case FramingRaw:
		if input.SystemPrompt == "" {
			return input.Prompt, nil
		}
		return input.SystemPrompt + "\n\n" + input.Prompt, nil
	default:
		return "", fmt.Errorf("unknown prompt framing %q", input.Framing)
	}
}

func renderChatML(system, user string) string {
	var sb strings.Builder
	if system != "" {
		sb.WriteString("<|im_start|>system\n")
		sb.WriteString(system)
		sb.WriteString("\n<|im_end|>\n")
	}
	sb.WriteString("<|im_start|>user\n")
	sb.WriteString(user)
	sb.WriteString("\n<|im_end|>\n")
	sb.WriteString("<|im_start|>assistant\n")
	return sb.String()
}
