package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts the classic 5-field form (min hour dom month dow),
// with *, */N, ranges, comma lists and @hourly style descriptors.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a 5-field cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty cron expression")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// matchesMinute reports whether sched fires in the minute containing t.
func matchesMinute(sched cron.Schedule, t time.Time) bool {
	minute := t.Truncate(time.Minute)
	return sched.Next(minute.Add(-time.Second)).Equal(minute)
}

// Matches reports whether expr matches t at minute granularity, in t's location.
func Matches(expr string, t time.Time) (bool, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return false, err
	}
	if spec, ok := sched.(*cron.SpecSchedule); ok {
		// Evaluate in the caller's zone rather than the process-wide default.
		local := *spec
		local.Location = t.Location()
		return matchesMinute(&local, t), nil
	}
	return matchesMinute(sched, t), nil
}

// untilNextMinute returns the wait until the next wall-clock minute boundary.
func untilNextMinute(now time.Time) time.Duration {
	return now.Truncate(time.Minute).Add(time.Minute).Sub(now)
}
