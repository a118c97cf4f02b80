package watering

import (
	"fmt"
	"math"
)

// PathCost is the total stepper travel when visiting positions in order.
func PathCost(positions []Position, order []int) int {
	total := 0
	for i := 1; i < len(order); i++ {
		total += positions[order[i-1]].Distance(positions[order[i]])
	}
	return total
}

// FindMinimalDistancePath returns the visiting order, as indices into
// positions, with the least stepper travel. The order starts at the first
// position whose coordinate equals start. The search tries every permutation
// and is meant for a handful of positions.
func FindMinimalDistancePath(positions []Position, start int) ([]int, error) {
	if len(positions) == 0 {
		return nil, ErrEmpty
	}

	anchor := -1
	for i, p := range positions {
		if p.StepperCoord == start {
			anchor = i
			break
		}
	}
	if anchor < 0 {
		return nil, fmt.Errorf("%w: coordinate %d", ErrNotFound, start)
	}

	rest := make([]int, 0, len(positions)-1)
	for i := range positions {
		if i != anchor {
			rest = append(rest, i)
		}
	}

	best := math.MaxInt
	var bestOrder []int

	path := make([]int, len(positions))
	path[0] = anchor
	permute(rest, 0, func(perm []int) {
		copy(path[1:], perm)
		if cost := PathCost(positions, path); cost < best {
			best = cost
			bestOrder = append(bestOrder[:0], path...)
		}
	})

	return bestOrder, nil
}

// permute calls visit with every ordering of items[k:]. It swaps items in
// place, so visit must not keep the slice.
func permute(items []int, k int, visit func([]int)) {
	if k >= len(items)-1 {
		visit(items)
		return
	}
	for i := k; i < len(items); i++ {
		items[k], items[i] = items[i], items[k]
		permute(items, k+1, visit)
		items[k], items[i] = items[i], items[k]
	}
}
