package wager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestWinner(t *testing.T) {
	tests := []struct {
		name       string
		totals     map[int64]int
		wantWinner int64
		wantTie    bool
	}{
		{"two players distinct", map[int64]int{1: 12, 2: 9}, 1, false},
		{"two players equal", map[int64]int{1: 10, 2: 10}, 0, true},
		{"three players single max", map[int64]int{1: 5, 2: 17, 3: 16}, 2, false},
		{"three players shared max", map[int64]int{1: 15, 2: 15, 3: 3}, 0, true},
		{"shared low total does not tie", map[int64]int{1: 4, 2: 4, 3: 18}, 3, false},
		{"empty", map[int64]int{}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			winner, tie := Winner(tt.totals)
			assert.Equal(t, tt.wantWinner, winner)
			assert.Equal(t, tt.wantTie, tie)
		})
	}
}

func TestValidRoll(t *testing.T) {
	for v := -1; v <= 8; v++ {
		assert.Equal(t, v >= 1 && v <= 6, ValidRoll(v), "value %d", v)
	}
}

// **Feature: dice-wager-bot, Property 2: Dice Totals**
// Three dice in [1,6] always total within [3,18].
func TestTotalRangeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rolls := rapid.SliceOfN(rapid.IntRange(MinDiceValue, MaxDiceValue), RollsPerParticipant, RollsPerParticipant).Draw(t, "rolls")
		total := Total(rolls)
		if total < 3 || total > 18 {
			t.Fatalf("total %d out of range for %v", total, rolls)
		}
	})
}

// **Feature: dice-wager-bot, Property 3: Winner Strictly Highest**
// A winner's total is strictly greater than every other total; otherwise the
// result is a tie and the highest total is shared.
func TestWinnerProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 5).Draw(t, "participants")
		totals := make(map[int64]int, n)
		for i := 1; i <= n; i++ {
			totals[int64(i)] = rapid.IntRange(3, 18).Draw(t, "total")
		}

		winner, tie := Winner(totals)
		best, count := 0, 0
		for _, v := range totals {
			if v > best {
				best, count = v, 1
			} else if v == best {
				count++
			}
		}

		if tie {
			if count < 2 {
				t.Fatalf("tie reported with unique max %d in %v", best, totals)
			}
			return
		}
		for id, v := range totals {
			if id != winner && v >= totals[winner] {
				t.Fatalf("winner %d (%d) not strictly above %d (%d)", winner, totals[winner], id, v)
			}
		}
	})
}
