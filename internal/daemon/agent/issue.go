package agent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// IssueType identifies a known agent failure.
type IssueType string

const (
	IssueAuth      IssueType = "auth_required"
	IssueRateLimit IssueType = "rate_limited"
)

// Issue is a failure recognised in agent output. It ends the phase as an error.
type Issue struct {
	Type    IssueType
	Message string     // original output line
	ResetAt *time.Time // rate limits only, when the message names a reset time
}

func (i *Issue) Error() string {
	switch i.Type {
	case IssueAuth:
		return "agent requires authentication: " + i.Message
	case IssueRateLimit:
		if i.ResetAt != nil {
			return fmt.Sprintf("agent rate limited until %s: %s", i.ResetAt.Format(time.Kitchen), i.Message)
		}
		return "agent rate limited: " + i.Message
	}
	return i.Message
}

var authPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)API Error:\s*401.*authentication_error`),
	regexp.MustCompile(`(?i)OAuth token has expired`),
	regexp.MustCompile(`(?i)Please run /login`),
	regexp.MustCompile(`(?i)invalid (api key|token)`),
}

var rateLimitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)You've hit your limit`),
	regexp.MustCompile(`(?i)rate limit(ed)? (exceeded|reached)`),
	regexp.MustCompile(`(?i)too many requests`),
	regexp.MustCompile(`(?i)API Error:\s*429`),
}

// resetPattern extracts "resets 4pm" / "resets 16:00" from rate limit messages.
var resetPattern = regexp.MustCompile(`(?i)resets?\s+(?:at\s+)?(\d{1,2}(?::\d{2})?\s*(?:am|pm)?)`)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07]*\x07`)

// DetectIssue checks one output line for known agent failures.
func DetectIssue(line string) *Issue {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	for _, p := range authPatterns {
		if p.MatchString(line) {
			return &Issue{Type: IssueAuth, Message: line}
		}
	}
	for _, p := range rateLimitPatterns {
		if p.MatchString(line) {
			issue := &Issue{Type: IssueRateLimit, Message: line}
			if m := resetPattern.FindStringSubmatch(line); len(m) == 2 {
				issue.ResetAt = parseResetTime(m[1], time.Now())
			}
			return issue
		}
	}
	return nil
}

// parseResetTime resolves a clock time to its next occurrence after now.
func parseResetTime(s string, now time.Time) *time.Time {
	s = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	for _, layout := range []string{"3pm", "3:04pm", "15:04"} {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return nextClock(now, t.Hour(), t.Minute())
		}
	}
	if h, err := strconv.Atoi(s); err == nil && h >= 0 && h <= 23 {
		return nextClock(now, h, 0)
	}
	return nil
}

func nextClock(now time.Time, hour, minute int) *time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !t.After(now) {
		t = t.Add(24 * time.Hour)
	}
	return &t
}

// stripANSI removes terminal escape sequences from a line.
func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}
