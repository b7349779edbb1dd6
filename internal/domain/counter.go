package domain

import "math"

// CounterState is a consistent snapshot of the shared counters.
type CounterState struct {
	TotalMessages       int     `json:"totalMessages"`
	ActiveUsers         int     `json:"activeUsers"`
	ThroughputPerMinute float64 `json:"throughputPerMinute"`
}

// MinActiveUsers is the floor enforced on ActiveUsers.
const MinActiveUsers = 1

// Throughput derives the throughput metric from the total message count.
// It is a placeholder, not a windowed rate: the total divided by one minute,
// rounded to two decimals.
func Throughput(totalMessages int) float64 {
	return math.Round(float64(totalMessages)/1.0*100) / 100
}

// CounterReader exposes read-only snapshots of the counters.
type CounterReader interface {
	Read() CounterState
}

// CounterStore is the mutable counter state driven by the generator.
type CounterStore interface {
	CounterReader
	ApplyTick(messageDelta, userDelta int) (CounterState, error)
}
