package core

import (
	"math"
	"regexp"
	"strings"
	"time"
)

const (
	MinInitialBackoffMs = 100
	MaxInitialBackoffMs = 60000

	maxBackoffExponent = 30
)

type RetryClass string

const (
	RetryClassRateLimit    RetryClass = "rate_limit"
	RetryClassServerError  RetryClass = "server_error"
	RetryClassTimeout      RetryClass = "timeout"
	RetryClassNonRetryable RetryClass = "non_retryable"
)

func (c RetryClass) Retryable() bool {
	return c == RetryClassRateLimit || c == RetryClassServerError || c == RetryClassTimeout
}

func ClampInitialBackoffMs(value int) int {
	if value < MinInitialBackoffMs {
		return MinInitialBackoffMs
	}
	if value > MaxInitialBackoffMs {
		return MaxInitialBackoffMs
	}
	return value
}

// ComputeRetryBackoffMs returns clamp(initial) * 2^(attempt-1). The exponent
// is capped so the result never overflows and stays non-decreasing.
func ComputeRetryBackoffMs(initialBackoffMs int, attemptNumber int) int64 {
	base := ClampInitialBackoffMs(initialBackoffMs)
	if attemptNumber < 1 {
		attemptNumber = 1
	}
	exponent := attemptNumber - 1
	if exponent > maxBackoffExponent {
		exponent = maxBackoffExponent
	}
	return int64(float64(base) * math.Pow(2, float64(exponent)))
}

func RetryBackoff(initialBackoffMs int, attemptNumber int) time.Duration {
	return time.Duration(ComputeRetryBackoffMs(initialBackoffMs, attemptNumber)) * time.Millisecond
}

var (
	httpServerErrorPattern = regexp.MustCompile(`\bhttp\s+5\d\d\b`)
	httpRateLimitPattern   = regexp.MustCompile(`\bhttp\s+429\b`)
)

// ClassifyRetry maps an attempt's error text to a retry class. Rate limiting,
// 5xx responses and timeouts are retryable; everything else is not.
func ClassifyRetry(errText string) RetryClass {
	text := strings.ToLower(strings.TrimSpace(errText))
	if text == "" {
		return RetryClassNonRetryable
	}
	switch {
	case httpRateLimitPattern.MatchString(text),
		strings.Contains(text, "rate limit"),
		strings.Contains(text, "rate_limit"),
		strings.Contains(text, "too many requests"),
		strings.Contains(text, "throttl"):
		return RetryClassRateLimit
	case httpServerErrorPattern.MatchString(text),
		strings.Contains(text, "internal server error"),
		strings.Contains(text, "bad gateway"),
		strings.Contains(text, "service unavailable"):
		return RetryClassServerError
	case strings.Contains(text, "timeout"),
		strings.Contains(text, "timed out"),
		strings.Contains(text, "deadline exceeded"):
		return RetryClassTimeout
	default:
		return RetryClassNonRetryable
	}
}
