package content

import (
	"math"
	"time"
)

const (
	MinScore = 0
	MaxScore = 100
)

// minVelocityAge keeps velocity finite for items discovered moments ago.
const minVelocityAge = time.Minute

func ClampScore(score int) int {
	return max(MinScore, min(MaxScore, score))
}

// LogScore maps an engagement count onto [0,100] with a monotonic log
// scale; counts at or above ceiling score 100.
func LogScore(count, ceiling int64) int {
	if count <= 0 {
		return MinScore
	}
	if ceiling <= 1 {
		return MaxScore
	}
	scaled := 100 * math.Log1p(float64(count)) / math.Log1p(float64(ceiling))
	return ClampScore(int(math.Round(scaled)))
}

// PositionScore scores items from providers that only expose a trending
// rank: position 0 of total scores highest.
func PositionScore(position, total int) int {
	if total <= 0 || position < 0 || position >= total {
		return MinScore
	}
	return ClampScore(int(math.Round(float64(MaxScore) * float64(total-position) / float64(total))))
}

// Velocity is engagement per hour since discoveredAt.
func Velocity(engagement float64, discoveredAt, now time.Time) float64 {
	if engagement <= 0 || math.IsNaN(engagement) || math.IsInf(engagement, 0) {
		return 0
	}
	age := max(now.Sub(discoveredAt), minVelocityAge)
	return engagement / age.Hours()
}
