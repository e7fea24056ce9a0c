package quiz

import "time"

const (
	basePoints     = 100
	speedBonusMax  = 100
	streakBonus    = 10
	streakBonusCap = 10
)

// Points computes the award for a correct answer. Faster answers earn a larger
// speed bonus and longer streaks earn a flat per-streak bonus, capped so a hot
// streak cannot dominate the scoreboard. The curve is monotonic in elapsed
// time: answering sooner never awards fewer points, all else equal.
func Points(elapsed, window time.Duration, streak int) int {
	points := basePoints

	if window > 0 {
		remaining := window - elapsed
		if remaining < 0 {
			remaining = 0
		}
		if remaining > window {
			remaining = window
		}
		points += int(int64(speedBonusMax) * int64(remaining) / int64(window))
	}

	bonus := streak
	if bonus > streakBonusCap {
		bonus = streakBonusCap
	}
	if bonus > 0 {
		points += bonus * streakBonus
	}
	return points
}
