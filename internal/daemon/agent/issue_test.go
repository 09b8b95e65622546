package agent

import (
	"testing"
	"time"
)

func TestDetectIssue(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected IssueType
	}{
		{
			name:     "API 401 error",
			line:     "API Error: 401 {\"type\":\"error\",\"error\":{\"type\":\"authentication_error\",\"message\":\"OAuth token has expired\"}}",
			expected: IssueAuth,
		},
		{
			name:     "Please run login",
			line:     "Authentication required. Please run /login",
			expected: IssueAuth,
		},
		{
			name:     "Invalid API key",
			line:     "Error: Invalid API key provided",
			expected: IssueAuth,
		},
		{
			name:     "Hit limit",
			line:     "You've hit your limit · resets 4pm (Europe/Lisbon)",
			expected: IssueRateLimit,
		},
		{
			name:     "429",
			line:     "API Error: 429 Too Many Requests",
			expected: IssueRateLimit,
		},
		{
			name:     "Normal output mentioning limits",
			line:     "Added a rate limit middleware to the router",
			expected: "",
		},
		{
			name:     "Empty line",
			line:     "   ",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issue := DetectIssue(tt.line)
			if tt.expected == "" {
				if issue != nil {
					t.Errorf("DetectIssue(%q) = %v, want nil", tt.line, issue.Type)
				}
				return
			}
			if issue == nil {
				t.Fatalf("DetectIssue(%q) = nil, want %v", tt.line, tt.expected)
			}
			if issue.Type != tt.expected {
				t.Errorf("DetectIssue(%q).Type = %v, want %v", tt.line, issue.Type, tt.expected)
			}
			if issue.Error() == "" {
				t.Error("issue error message is empty")
			}
		})
	}
}

func TestParseResetTime(t *testing.T) {
	now := time.Date(2026, 6, 1, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"4pm", time.Date(2026, 6, 1, 16, 0, 0, 0, time.UTC)},
		{"4:15 PM", time.Date(2026, 6, 1, 16, 15, 0, 0, time.UTC)},
		{"9am", time.Date(2026, 6, 2, 9, 0, 0, 0, time.UTC)},
		{"16:00", time.Date(2026, 6, 1, 16, 0, 0, 0, time.UTC)},
		{"3", time.Date(2026, 6, 2, 3, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got := parseResetTime(tt.in, now)
		if got == nil {
			t.Errorf("parseResetTime(%q) = nil", tt.in)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseResetTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if got := parseResetTime("soon", now); got != nil {
		t.Errorf("parseResetTime(soon) = %v, want nil", got)
	}
}

func TestStripANSI(t *testing.T) {
	if got := stripANSI("\x1b[1;31mError\x1b[0m: rate limit"); got != "Error: rate limit" {
		t.Errorf("stripANSI = %q", got)
	}
}
