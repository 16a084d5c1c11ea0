// Package shuffle produces deterministic per-participant permutations of
// question and option order. The permutation is a pure function of the
// participant identifier, so a reconnecting client always sees the same
// order, while different participants almost always see different ones.
package shuffle

// Linear congruential generator constants. Kept small on purpose: the
// generator only has to be deterministic and well-spread over tiny ranges
// (question counts, 4 options), not cryptographically strong.
const (
	lcgMultiplier = 9301
	lcgIncrement  = 49297
	lcgModulus    = 233280
)

// lcg is a seeded linear congruential generator.
type lcg struct {
	state int64
}

func newLCG(seed int64) *lcg {
	return &lcg{state: seed % lcgModulus}
}

// next returns a pseudo-random float in [0, 1).
func (g *lcg) next() float64 {
	g.state = (g.state*lcgMultiplier + lcgIncrement) % lcgModulus
	return float64(g.state) / lcgModulus
}

// Seed derives a deterministic seed from a participant identifier by summing
// its character codes.
func Seed(participantID string) int64 {
	var sum int64
	for _, r := range participantID {
		sum += int64(r)
	}
	return sum
}

// Permutation returns a Fisher-Yates shuffle of [0, n) driven by the given
// seed. The result is a bijection: every index in [0, n) appears exactly once.
func Permutation(seed int64, n int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}

	g := newLCG(seed)
	for i := n - 1; i > 0; i-- {
		j := int(g.next() * float64(i+1))
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}

// QuestionOrder returns the shuffled question order for a participant.
func QuestionOrder(participantID string, questionCount int) []int {
	return Permutation(Seed(participantID), questionCount)
}

// OptionOrder returns the shuffled option order for one question. The seed
// mixes the participant's leading character with the question index so each
// question gets an independent permutation.
func OptionOrder(participantID string, questionIndex, optionCount int) []int {
	var lead int64
	if participantID != "" {
		lead = int64(participantID[0])
	}
	return Permutation(lead+int64(questionIndex), optionCount)
}

// Invert returns the inverse permutation: if perm maps shuffled position i to
// original index perm[i], the inverse maps original index back to shuffled
// position. Used by settlement to reverse a participant's coordinate space.
func Invert(perm []int) []int {
	inv := make([]int, len(perm))
	for shuffled, original := range perm {
		inv[original] = shuffled
	}
	return inv
}

// IsBijection reports whether perm contains every index in [0, len(perm))
// exactly once.
func IsBijection(perm []int) bool {
	seen := make([]bool, len(perm))
	for _, v := range perm {
		if v < 0 || v >= len(perm) || seen[v] {
			return false
		}
		seen[v] = true
	}
	return true
}
