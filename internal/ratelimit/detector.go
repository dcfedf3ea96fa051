// Package ratelimit classifies agent subprocess output as rate-limited
// and coordinates fallback across a chain of agents (spec §4.4, §4.5).
// The substring-and-Retry-After classification style is grounded on the
// teacher's internal/errors.HandleJiraAPIError (status-code plus
// Retry-After-aware retry decisions).
package ratelimit

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Detection is the result of classifying one agent invocation's output.
type Detection struct {
	IsRateLimit bool
	Message     string
	RetryAfter  time.Duration
}

// knownPatterns are case-insensitive substrings supported agent CLIs are
// known to emit on rate limiting. The exit code alone never triggers a
// positive detection.
var knownPatterns = []string{
	"rate limit exceeded",
	"rate_limit_exceeded",
	"too many requests",
	"quota exceeded",
	"429",
	"usage limit reached",
}

var retryAfterRe = regexp.MustCompile(`(?i)retry-after[:\s]+(\d+)\s*(s|sec|seconds|ms)?`)

// Detect inspects stdout/stderr/exitCode for a rate-limit signal. exitCode
// is informational only: text evidence is required either way.
func Detect(stdout, stderr string, exitCode int, agentID string) Detection {
	combined := strings.ToLower(stdout + "\n" + stderr)

	matched := false
	for _, pattern := range knownPatterns {
		if strings.Contains(combined, pattern) {
			matched = true
			break
		}
	}
	if !matched {
		return Detection{}
	}

	d := Detection{IsRateLimit: true, Message: firstMatchingLine(stdout, stderr, knownPatterns)}
	if m := retryAfterRe.FindStringSubmatch(combined); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			unit := strings.ToLower(m[2])
			if unit == "ms" {
				d.RetryAfter = time.Duration(n) * time.Millisecond
			} else {
				d.RetryAfter = time.Duration(n) * time.Second
			}
		}
	}
	return d
}

func firstMatchingLine(stdout, stderr string, patterns []string) string {
	for _, text := range []string{stdout, stderr} {
		for _, line := range strings.Split(text, "\n") {
			lower := strings.ToLower(line)
			for _, pattern := range patterns {
				if strings.Contains(lower, pattern) {
					return strings.TrimSpace(line)
				}
			}
		}
	}
	return ""
}
