package agent

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFragment(t *testing.T) {
	tests := []struct {
		name  string
		chunk string
		want  Fragment
		ok    bool
	}{
		{"text delta", `{"type":"text-delta","id":"1","delta":"Hel"}`, Fragment{Text: "Hel", Delta: true}, true},
		{"sse framed delta", `data: {"type":"text-delta","delta":"lo"}`, Fragment{Text: "lo", Delta: true}, true},
		{"assistant message", `{"type":"assistant","message":{"content":[{"type":"tool_use"},{"type":"text","text":"Step 1 done"}]}}`, Fragment{Text: "Step 1 done"}, true},
		{"result", `{"type":"result","subtype":"success","result":"All steps complete"}`, Fragment{Text: "All steps complete"}, true},
		{"plain text", `{"type":"text","text":"compiling"}`, Fragment{Text: "compiling"}, true},
		{"tool chunk", `{"type":"tool-input-start","toolName":"bash"}`, Fragment{}, false},
		{"assistant without text", `{"type":"assistant","message":{"content":[{"type":"tool_use"}]}}`, Fragment{}, false},
		{"malformed", `{"type":"text","text":`, Fragment{}, false},
		{"done marker", `data: [DONE]`, Fragment{}, false},
		{"empty", ``, Fragment{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractFragment(Chunk(tt.chunk))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProgressNeverRegresses(t *testing.T) {
	var p Progress

	assert.True(t, p.Feed(Chunk(`{"type":"text","text":"planning"}`)))
	assert.False(t, p.Feed(Chunk(`{"type":"tool-call"}`)))
	assert.False(t, p.Feed(Chunk(`not json`)))
	assert.Equal(t, "planning", p.Text())

	assert.True(t, p.Feed(Chunk(`{"type":"text-delta","delta":" step"}`)))
	assert.Equal(t, "planning step", p.Text())

	assert.False(t, p.Feed(Chunk(`{"type":"text","text":"planning step"}`)))
	assert.True(t, p.Feed(Chunk(`{"type":"result","result":"done"}`)))
	assert.Equal(t, "done", p.Text())
}

func TestProgressKeepsDeltaTail(t *testing.T) {
	var p Progress
	require.True(t, p.Feed(Chunk(`{"type":"text-delta","delta":"é`+strings.Repeat("a", MaxProgressText)+`"}`)))
	assert.Len(t, p.Text(), MaxProgressText)
	assert.True(t, utf8.ValidString(p.Text()))

	for i := 0; i < 4; i++ {
		p.Feed(Chunk(`{"type":"text-delta","delta":"` + strings.Repeat("b", 1024) + `"}`))
	}
	assert.Len(t, p.Text(), MaxProgressText)
	assert.True(t, strings.HasSuffix(p.Text(), strings.Repeat("b", 4096)))
}
