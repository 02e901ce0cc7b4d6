// Package reasoning separates <think>...</think> blocks from model output.
package reasoning

import "strings"

const (
	openTag  = "<think>"
	closeTag = "</think>"
)

type SplitResult struct {
	Content   string
	Reasoning string
}

// SplitRaw splits finished output. Tags match case-insensitively; an
// unclosed think block runs to the end of the text.
func SplitRaw(raw string) SplitResult {
	var s Splitter
	c1, r1 := s.Push(raw)
	c2, r2 := s.Flush()
	return SplitResult{Content: c1 + c2, Reasoning: r1 + r2}
}

// Splitter splits streamed output incrementally. A fragment that ends in
// the middle of a tag is held back until the next Push or Flush.
type Splitter struct {
	thinking bool
	pending  string
}

func (s *Splitter) Push(delta string) (contentDelta, reasoningDelta string) {
	var content, reasoning strings.Builder
	out := func(text string) {
		if s.thinking {
			reasoning.WriteString(text)
		} else {
			content.WriteString(text)
		}
	}

	buf := s.pending + delta
	s.pending = ""
	for buf != "" {
		tag := openTag
		if s.thinking {
			tag = closeTag
		}
		if i := indexFold(buf, tag); i >= 0 {
			out(buf[:i])
			buf = buf[i+len(tag):]
			s.thinking = !s.thinking
			continue
		}
		keep := partialSuffix(buf, tag)
		out(buf[:len(buf)-keep])
		s.pending = buf[len(buf)-keep:]
		break
	}
	return content.String(), reasoning.String()
}

// Flush releases any held-back text.
func (s *Splitter) Flush() (contentDelta, reasoningDelta string) {
	rest := s.pending
	s.pending = ""
	if s.thinking {
		return "", rest
	}
	return rest, ""
}

// indexFold finds tag in s ignoring ASCII case.
func indexFold(s, tag string) int {
	for i := 0; i+len(tag) <= len(s); i++ {
		if s[i] == '<' && strings.EqualFold(s[i:i+len(tag)], tag) {
			return i
		}
	}
	return -1
}

// partialSuffix returns the length of the longest suffix of s that is a
// proper prefix of tag.
func partialSuffix(s, tag string) int {
	for n := min(len(tag)-1, len(s)); n > 0; n-- {
		if strings.EqualFold(s[len(s)-n:], tag[:n]) {
			return n
		}
	}
	return 0
}

var sentinels = []string{
	"<|im_end|>",
	"<|im_start|>",
	"<|endoftext|>",
	"<|end_of_text|>",
	"<|eot_id|>",
	"</s>",
}

// Clean drops think blocks, unclosed ones included, and end-of-turn
// sentinels from text, then trims surrounding space.
func Clean(text string) string {
	var s Splitter
	content, _ := s.Push(text)
	if !s.thinking {
		rest, _ := s.Flush()
		content += rest
	}
	for _, tok := range sentinels {
		content = strings.ReplaceAll(content, tok, "")
	}
	return strings.TrimSpace(content)
}
