package wager

// RollsPerParticipant is the number of dice each participant throws.
const RollsPerParticipant = 3

// Dice face bounds.
const (
	MinDiceValue = 1
	MaxDiceValue = 6
)

// ValidRoll reports whether v is a legal die face.
func ValidRoll(v int) bool {
	return v >= MinDiceValue && v <= MaxDiceValue
}

// Total sums a participant's rolls.
func Total(rolls []int) int {
	total := 0
	for _, r := range rolls {
		total += r
	}
	return total
}

// Winner returns the participant with the strictly highest total.
// When the highest total is shared by two or more participants the result is a tie.
func Winner(totals map[int64]int) (winner int64, tie bool) {
	best := -1
	count := 0
	for id, total := range totals {
		switch {
		case total > best:
			best = total
			winner = id
			count = 1
		case total == best:
			count++
		}
	}
	if count != 1 {
		return 0, true
	}
	return winner, false
}
