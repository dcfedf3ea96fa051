package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDetectPlainSubstring(t *testing.T) {
	d := Detect("", "rate limit exceeded, retry-after 30s", 1, "claude")
	assert.True(t, d.IsRateLimit)
	assert.Equal(t, 30*time.Second, d.RetryAfter)
}

func TestDetectRetryAfterMilliseconds(t *testing.T) {
	d := Detect("", "too many requests retry-after: 500ms", 1, "opencode")
	assert.True(t, d.IsRateLimit)
	assert.Equal(t, 500*time.Millisecond, d.RetryAfter)
}

func TestDetectNoRetryAfterHint(t *testing.T) {
	d := Detect("quota exceeded for this billing period", "", 1, "codex")
	assert.True(t, d.IsRateLimit)
	assert.Equal(t, time.Duration(0), d.RetryAfter)
}

func TestDetectExitCodeAloneInsufficient(t *testing.T) {
	d := Detect("normal output", "", 1, "claude")
	assert.False(t, d.IsRateLimit)
}

func TestDetectCleanOutput(t *testing.T) {
	d := Detect("task completed successfully", "", 0, "claude")
	assert.False(t, d.IsRateLimit)
}
