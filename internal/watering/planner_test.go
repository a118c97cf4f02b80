package watering

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bruteForceMin enumerates every order that starts at anchor.
func bruteForceMin(positions []Position, anchor int) int {
	best := math.MaxInt
	used := make([]bool, len(positions))
	used[anchor] = true

	var walk func(last, depth, cost int)
	walk = func(last, depth, cost int) {
		if depth == len(positions) {
			best = min(best, cost)
			return
		}
		for i := range positions {
			if used[i] {
				continue
			}
			used[i] = true
			walk(i, depth+1, cost+positions[last].Distance(positions[i]))
			used[i] = false
		}
	}
	walk(anchor, 1, 0)
	return best
}

func assertPermutation(t *testing.T, n int, order []int) {
	t.Helper()
	require.Len(t, order, n)
	seen := make(map[int]bool, n)
	for _, i := range order {
		assert.False(t, seen[i], "index %d repeated", i)
		assert.True(t, i >= 0 && i < n)
		seen[i] = true
	}
}

func TestFindMinimalDistancePath_Example(t *testing.T) {
	positions := []Position{pos(0, 90), pos(50, 90), pos(10, 90)}

	order, err := FindMinimalDistancePath(positions, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 1}, order)
	assert.Equal(t, 50, PathCost(positions, order))
	assert.Equal(t, bruteForceMin(positions, 0), PathCost(positions, order))
}

func TestFindMinimalDistancePath_Errors(t *testing.T) {
	_, err := FindMinimalDistancePath(nil, 0)
	assert.True(t, errors.Is(err, ErrEmpty))

	_, err = FindMinimalDistancePath([]Position{pos(10, 90)}, 0)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFindMinimalDistancePath_Single(t *testing.T) {
	order, err := FindMinimalDistancePath([]Position{pos(7, 90)}, 7)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, order)
}

func TestFindMinimalDistancePath_MatchesOracle(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for n := 1; n <= 6; n++ {
		for trial := 0; trial < 20; trial++ {
			positions := make([]Position, n)
			for i := range positions {
				positions[i] = pos(rng.Intn(400)-200, 1+rng.Intn(179))
			}
			anchor := rng.Intn(n)
			start := positions[anchor].StepperCoord

			order, err := FindMinimalDistancePath(positions, start)
			require.NoError(t, err)
			assertPermutation(t, n, order)
			assert.Equal(t, start, positions[order[0]].StepperCoord)

			first := 0
			for i, p := range positions {
				if p.StepperCoord == start {
					first = i
					break
				}
			}
			assert.Equal(t, bruteForceMin(positions, first), PathCost(positions, order))
		}
	}
}
