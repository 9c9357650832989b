package core

import (
	"math"
	"sort"
)

const (
	RecommendationHealthy            = "healthy"
	RecommendationProcessQueue       = "process_queue"
	RecommendationRedriveDeadLetters = "redrive_dead_letters"
)

const (
	deadLetterWeight      = 10
	dueNowWeight          = 6
	retryWeight           = 4
	queuedWeight          = 2
	maxAttemptWeight      = 1.5
	deliveryFailureWeight = 40
	attemptFailureWeight  = 20
	errorWeight           = 0.5
	errorPressureCap      = 50
)

type RiskBreakdown struct {
	DeadLetterPressure      float64 `json:"dead_letter_pressure"`
	DueNowPressure          float64 `json:"due_now_pressure"`
	RetryPressure           float64 `json:"retry_pressure"`
	QueuedPressure          float64 `json:"queued_pressure"`
	MaxAttemptPressure      float64 `json:"max_attempt_pressure"`
	DeliveryFailurePressure float64 `json:"delivery_failure_pressure"`
	AttemptFailurePressure  float64 `json:"attempt_failure_pressure"`
	ErrorPressure           float64 `json:"error_pressure"`
	Total                   float64 `json:"total"`
}

type RankInput struct {
	ConnectorType ConnectorType
	Summary       StatusCounts
	Insights      Insights
}

type RankedItem struct {
	ConnectorType  ConnectorType `json:"connector_type"`
	Summary        StatusCounts  `json:"summary"`
	Insights       Insights      `json:"insights"`
	RiskScore      float64       `json:"risk_score"`
	RiskBreakdown  RiskBreakdown `json:"risk_breakdown"`
	Recommendation string        `json:"recommendation"`
}

// ComputeRiskBreakdown weighs live queue counts and windowed failure signals.
// Every component is non-negative and Total is their sum rounded to 4 places.
func ComputeRiskBreakdown(summary StatusCounts, insights Insights) RiskBreakdown {
	attemptSuccess := 1.0
	if insights.AttemptSuccessRate != nil {
		attemptSuccess = *insights.AttemptSuccessRate
	}
	errorTotal := 0
	for _, item := range insights.TopErrors {
		errorTotal += item.Count
	}

	breakdown := RiskBreakdown{
		DeadLetterPressure:      float64(nonNegative(summary.DeadLettered)) * deadLetterWeight,
		DueNowPressure:          float64(nonNegative(summary.DueNow)) * dueNowWeight,
		RetryPressure:           float64(nonNegative(summary.Retrying)) * retryWeight,
		QueuedPressure:          float64(nonNegative(summary.Queued)) * queuedWeight,
		MaxAttemptPressure:      round4(float64(nonNegative(insights.MaxAttemptsObserved)) * maxAttemptWeight),
		DeliveryFailurePressure: round4(math.Max(0, 1-insights.DeliverySuccessRate) * deliveryFailureWeight),
		AttemptFailurePressure:  round4(math.Max(0, 1-attemptSuccess) * attemptFailureWeight),
		ErrorPressure:           round4(float64(min(nonNegative(errorTotal), errorPressureCap)) * errorWeight),
	}
	breakdown.Total = round4(breakdown.DeadLetterPressure +
		breakdown.DueNowPressure +
		breakdown.RetryPressure +
		breakdown.QueuedPressure +
		breakdown.MaxAttemptPressure +
		breakdown.DeliveryFailurePressure +
		breakdown.AttemptFailurePressure +
		breakdown.ErrorPressure)
	return breakdown
}

func Recommend(summary StatusCounts) string {
	switch {
	case summary.DeadLettered > 0:
		return RecommendationRedriveDeadLetters
	case summary.Retrying > 0, summary.Queued > 0, summary.DueNow > 0:
		return RecommendationProcessQueue
	default:
		return RecommendationHealthy
	}
}

// Rank scores every input and orders the result by risk descending, then by
// connector type.
func Rank(items []RankInput) []RankedItem {
	ranked := make([]RankedItem, 0, len(items))
	for _, item := range items {
		breakdown := ComputeRiskBreakdown(item.Summary, item.Insights)
		ranked = append(ranked, RankedItem{
			ConnectorType:  item.ConnectorType,
			Summary:        item.Summary,
			Insights:       item.Insights,
			RiskScore:      breakdown.Total,
			RiskBreakdown:  breakdown,
			Recommendation: Recommend(item.Summary),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].RiskScore != ranked[j].RiskScore {
			return ranked[i].RiskScore > ranked[j].RiskScore
		}
		return ranked[i].ConnectorType < ranked[j].ConnectorType
	})
	return ranked
}

func nonNegative(value int) int {
	if value < 0 {
		return 0
	}
	return value
}
