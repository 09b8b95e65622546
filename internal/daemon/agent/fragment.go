package agent

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// Fragment is human-readable text extracted from a chunk. Delta fragments
// extend the previous text instead of replacing it.
type Fragment struct {
	Text  string
	Delta bool
}

// ExtractFragment pulls progress text out of a chunk. Understood shapes:
// UI message stream parts (text-delta, text), Claude stream-json
// (assistant message content, result) and SSE "data:" framing of either.
// Anything else reports ok=false.
func ExtractFragment(c Chunk) (Fragment, bool) {
	line := bytes.TrimSpace(c)
	if rest, ok := bytes.CutPrefix(line, []byte("data:")); ok {
		line = bytes.TrimSpace(rest)
	}
	if len(line) == 0 || line[0] != '{' {
		return Fragment{}, false
	}

	var m map[string]any
	if err := json.Unmarshal(line, &m); err != nil {
		return Fragment{}, false
	}

	switch m["type"] {
	case "text-delta":
		for _, key := range []string{"delta", "textDelta"} {
			if s, ok := m[key].(string); ok && s != "" {
				return Fragment{Text: s, Delta: true}, true
			}
		}
	case "assistant":
		if text := messageText(m["message"]); text != "" {
			return Fragment{Text: text}, true
		}
	case "result":
		if s, ok := m["result"].(string); ok && strings.TrimSpace(s) != "" {
			return Fragment{Text: s}, true
		}
	}
	if s, ok := m["text"].(string); ok && strings.TrimSpace(s) != "" {
		return Fragment{Text: s}, true
	}
	return Fragment{}, false
}

// messageText returns the last text block of a stream-json message.
func messageText(v any) string {
	msg, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	blocks, ok := msg["content"].([]any)
	if !ok {
		return ""
	}
	for i := len(blocks) - 1; i >= 0; i-- {
		block, ok := blocks[i].(map[string]any)
		if !ok || block["type"] != "text" {
			continue
		}
		if s, ok := block["text"].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// MaxProgressText bounds the message Progress keeps while deltas stream in.
// Only the tail is kept.
const MaxProgressText = 8 * 1024

// Progress tracks the latest agent message across chunks. It never regresses
// to empty: chunks without text leave the last message in place.
type Progress struct {
	text string
}

// Feed applies a chunk and reports whether the message changed.
func (p *Progress) Feed(c Chunk) bool {
	f, ok := ExtractFragment(c)
	if !ok {
		return false
	}
	if f.Delta {
		p.text = tail(p.text+f.Text, MaxProgressText)
		return true
	}
	if f.Text == p.text {
		return false
	}
	p.text = f.Text
	return true
}

// tail returns the last n bytes of s, starting on a rune boundary.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}

// Text returns the latest message.
func (p *Progress) Text() string {
	return p.text
}
