// Package types provides value types shared by entities.
package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Score is a relevance score with full precision.
// Uses decimal.Decimal to avoid floating-point drift when scores are summed
// or compared across rows.
type Score = decimal.Decimal

// ScorePlaces is the number of fractional digits kept, matching NUMERIC(5,4).
const ScorePlaces int32 = 4

var (
	MinScore = decimal.Zero
	MaxScore = decimal.NewFromInt(1)
)

// NewScore creates a Score from a float.
// WARNING: Use ParseScore for values that arrive as text.
func NewScore(f float64) Score {
	return decimal.NewFromFloat(f).Round(ScorePlaces)
}

// ParseScore parses a decimal string and rounds it to ScorePlaces.
func ParseScore(s string) (Score, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Score{}, fmt.Errorf("parse score: %w", err)
	}
	return d.Round(ScorePlaces), nil
}

// MustScore parses a Score, panics on error.
// Use only for constants.
func MustScore(s string) Score {
	d, err := ParseScore(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ScoreInRange reports whether s lies in [MinScore, MaxScore].
func ScoreInRange(s Score) bool {
	return s.GreaterThanOrEqual(MinScore) && s.LessThanOrEqual(MaxScore)
}
