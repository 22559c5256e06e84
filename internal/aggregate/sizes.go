package aggregate

import "slices"

// SizeOrder is the canonical display order of jersey sizes.
var SizeOrder = []string{"XS", "S", "M", "L", "XL", "XXL", "XXXL"}

// sizeRank returns the position of label in SizeOrder, or len(SizeOrder)
// for labels outside it.
func sizeRank(label string) int {
	if i := slices.Index(SizeOrder, label); i >= 0 {
		return i
	}
	return len(SizeOrder)
}

// SortSizes orders tallies by canonical size. Unrecognized labels sort after
// every recognized one and keep their relative order.
func SortSizes(tallies []Tally) {
	slices.SortStableFunc(tallies, func(a, b Tally) int {
		return sizeRank(a.Label) - sizeRank(b.Label)
	})
}
