package core

import (
	"math"
	"sort"
	"strings"
	"time"
)

const (
	maxLookbackHours = 24 * 90
	topErrorLimit    = 5
)

type ErrorCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

type Insights struct {
	LookbackHours          int          `json:"lookback_hours"`
	WindowStart            time.Time    `json:"window_start"`
	WindowEnd              time.Time    `json:"window_end"`
	DeliveryCount          int          `json:"delivery_count"`
	StatusCounts           StatusCounts `json:"status_counts"`
	DeliverySuccessRate    float64      `json:"delivery_success_rate"`
	AttemptCount           int          `json:"attempt_count"`
	AttemptSuccessRate     *float64     `json:"attempt_success_rate"`
	AvgAttemptsPerDelivery float64      `json:"avg_attempts_per_delivery"`
	MaxAttemptsObserved    int          `json:"max_attempts_observed"`
	TopErrors              []ErrorCount `json:"top_errors"`
}

func NormalizeLookbackHours(hours int) int {
	if hours <= 0 {
		return defaultInsightsLookbackHr
	}
	if hours > maxLookbackHours {
		return maxLookbackHours
	}
	return hours
}

// ComputeInsights aggregates delivery and attempt history inside
// [now - lookbackHours, now]. Deliveries are windowed by UpdatedAt and
// attempts by CreatedAt. A delivery's LastError only counts towards the top
// errors when none of its attempts fall inside the window, so one failure is
// never counted twice.
func ComputeInsights(deliveries []Delivery, attemptsByDeliveryID map[string][]DeliveryAttempt, lookbackHours int, now time.Time) Insights {
	lookbackHours = NormalizeLookbackHours(lookbackHours)
	windowStart := now.Add(-time.Duration(lookbackHours) * time.Hour)
	out := Insights{
		LookbackHours: lookbackHours,
		WindowStart:   windowStart,
		WindowEnd:     now,
		TopErrors:     []ErrorCount{},
	}
	inWindow := func(ts time.Time) bool {
		return !ts.Before(windowStart) && !ts.After(now)
	}

	errorCounts := map[string]int{}
	totalAttemptCount := 0
	successfulAttempts := 0
	windowAttempts := 0

	for _, delivery := range deliveries {
		if !inWindow(delivery.UpdatedAt) {
			continue
		}
		out.DeliveryCount++
		switch delivery.Status {
		case DeliveryStatusQueued:
			out.StatusCounts.Queued++
		case DeliveryStatusRetrying:
			out.StatusCounts.Retrying++
		case DeliveryStatusDelivered:
			out.StatusCounts.Delivered++
		case DeliveryStatusDeadLettered:
			out.StatusCounts.DeadLettered++
		}
		totalAttemptCount += delivery.AttemptCount
		if delivery.AttemptCount > out.MaxAttemptsObserved {
			out.MaxAttemptsObserved = delivery.AttemptCount
		}

		attemptsInWindow := 0
		for _, attempt := range attemptsByDeliveryID[delivery.ID] {
			if !inWindow(attempt.CreatedAt) {
				continue
			}
			attemptsInWindow++
			windowAttempts++
			if attempt.Success {
				successfulAttempts++
				continue
			}
			if message := strings.TrimSpace(attempt.Error); message != "" {
				errorCounts[message]++
			}
		}

		if attemptsInWindow == 0 &&
			(delivery.Status == DeliveryStatusDeadLettered || delivery.Status == DeliveryStatusRetrying) {
			if message := strings.TrimSpace(delivery.LastError); message != "" {
				errorCounts[message]++
			}
		}
	}

	out.AttemptCount = windowAttempts
	if out.DeliveryCount > 0 {
		out.DeliverySuccessRate = round4(float64(out.StatusCounts.Delivered) / float64(out.DeliveryCount))
		out.AvgAttemptsPerDelivery = round4(float64(totalAttemptCount) / float64(out.DeliveryCount))
	}
	if windowAttempts > 0 {
		rate := round4(float64(successfulAttempts) / float64(windowAttempts))
		out.AttemptSuccessRate = &rate
	}
	out.TopErrors = topErrors(errorCounts, topErrorLimit)
	return out
}

func topErrors(counts map[string]int, limit int) []ErrorCount {
	items := make([]ErrorCount, 0, len(counts))
	for message, count := range counts {
		items = append(items, ErrorCount{Message: message, Count: count})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Count != items[j].Count {
			return items[i].Count > items[j].Count
		}
		return items[i].Message < items[j].Message
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

func round4(value float64) float64 {
	return math.Round(value*10000) / 10000
}
