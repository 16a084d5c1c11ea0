package shuffle

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermutationIsBijection(t *testing.T) {
	for seed := int64(0); seed < 500; seed++ {
		for _, n := range []int{1, 2, 4, 10, 50} {
			perm := Permutation(seed, n)
			require.Len(t, perm, n)
			assert.True(t, IsBijection(perm), "seed=%d n=%d perm=%v", seed, n, perm)
		}
	}
}

func TestQuestionOrderIsStablePerParticipant(t *testing.T) {
	id := uuid.New().String()
	first := QuestionOrder(id, 50)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, QuestionOrder(id, 50))
	}
}

func TestDifferentParticipantsGetDifferentOrders(t *testing.T) {
	distinct := map[string]bool{}
	for i := 0; i < 100; i++ {
		perm := QuestionOrder(uuid.New().String(), 50)
		distinct[fmt.Sprint(perm)] = true
	}
	// Collisions are possible but should be vanishingly rare for n=50.
	assert.Greater(t, len(distinct), 90)
}

func TestOptionOrderVariesByQuestion(t *testing.T) {
	id := "participant-a"
	orders := map[string]bool{}
	for q := 0; q < 10; q++ {
		perm := OptionOrder(id, q, 4)
		require.True(t, IsBijection(perm))
		orders[fmt.Sprint(perm)] = true
	}
	// 10 questions over 24 possible 4-option permutations: expect variety.
	assert.Greater(t, len(orders), 1)
}

func TestInvertRoundTrip(t *testing.T) {
	for seed := int64(0); seed < 100; seed++ {
		perm := Permutation(seed, 12)
		inv := Invert(perm)
		for original := 0; original < len(perm); original++ {
			assert.Equal(t, original, perm[inv[original]])
		}
		for shuffled := 0; shuffled < len(perm); shuffled++ {
			assert.Equal(t, shuffled, inv[perm[shuffled]])
		}
	}
}

func TestSeedSumsCharacterCodes(t *testing.T) {
	assert.Equal(t, int64('a')+int64('b'), Seed("ab"))
	assert.Equal(t, int64(0), Seed(""))
}

func TestIsBijectionRejectsDuplicates(t *testing.T) {
	assert.False(t, IsBijection([]int{0, 0, 2}))
	assert.False(t, IsBijection([]int{0, 1, 3}))
	assert.True(t, IsBijection([]int{2, 0, 1}))
}
