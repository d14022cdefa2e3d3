// Package rewards holds the pure reward rules of the token economy. Functions
// here take scalars and return integers; persistence and validation of the
// resulting amounts belong to the caller.
package rewards

import (
	"math"
	"time"
)

// DateLayout is the date-only format used for claim and streak bookkeeping.
// Streak comparisons are string comparisons on this format, not elapsed-hours
// arithmetic, so a claim at 23:59 followed by one at 00:01 still counts as
// consecutive days.
const DateLayout = "2006-01-02"

// TokensForQuiz maps a quiz percentage to a token award. Boundaries are
// inclusive: exactly 60 pays the 60 tier, exactly 80 the 80 tier.
func TokensForQuiz(percentage int) int {
	switch {
	case percentage >= 100:
		return 25
	case percentage >= 80:
		return 15
	case percentage >= 60:
		return 10
	default:
		return 5
	}
}

// XPForQuiz returns round(percentage * 0.5).
func XPForQuiz(percentage int) int {
	return int(math.Round(float64(percentage) * 0.5))
}

// LevelForXP derives a level from total XP: one level per 100 XP, starting at 1.
func LevelForXP(xp int) int {
	if xp < 0 {
		return 1
	}
	return xp/100 + 1
}

// NextStreak computes the streak achieved by a claim on today given the
// date of the previous claim. It increments only when the previous claim was
// exactly yesterday; any gap, or no previous claim, resets to 1. Both inputs
// use DateLayout; lastClaimDate may be empty.
func NextStreak(lastClaimDate, today string, previousStreak int) int {
	if lastClaimDate == "" {
		return 1
	}
	t, err := time.Parse(DateLayout, today)
	if err != nil {
		return 1
	}
	if lastClaimDate == t.AddDate(0, 0, -1).Format(DateLayout) {
		return previousStreak + 1
	}
	return 1
}
