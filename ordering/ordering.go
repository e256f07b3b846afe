// Package ordering derives the total, stable order the replay engine
// folds interactions in: a lexicographic composite of block height,
// block id and transaction id.
package ordering

import (
	"sort"
	"strconv"
	"strings"
)

// heightWidth is the zero-padding width applied to block heights before
// they're compared as fixed-width byte strings. 20 digits is the length
// of the largest uint64, so every height fits.
const heightWidth = 20

// delimiter separates the three fields of a sort key. 0x1f (unit
// separator) cannot appear in a block id, tx id, or a decimal height, so
// it never produces a false tie or a false ordering.
const delimiter = "\x1f"

// SortKey is the total-order key derived from an interaction's
// (height, block id, tx id) triple.
type SortKey string

// NewSortKey builds the SortKey for one interaction.
func NewSortKey(height uint64, blockID, txID string) SortKey {
	var b strings.Builder
	b.WriteString(paddedHeight(height))
	b.WriteString(delimiter)
	b.WriteString(blockID)
	b.WriteString(delimiter)
	b.WriteString(txID)
	return SortKey(b.String())
}

func paddedHeight(h uint64) string {
	s := strconv.FormatUint(h, 10)
	if len(s) >= heightWidth {
		return s
	}
	return strings.Repeat("0", heightWidth-len(s)) + s
}

// Less reports whether a sorts before b, comparing byte-wise.
func (a SortKey) Less(b SortKey) bool { return a < b }

// Keyed pairs a value with the SortKey it should be ordered by.
type Keyed[T any] struct {
	Key   SortKey
	Value T
}

// Sort stably sorts items by their SortKey, ascending. Stability matters:
// the invariant is a total order, but a stable sort keeps the routine
// side-effect-free across repeated calls on an already-sorted slice.
func Sort[T any](items []Keyed[T]) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Key.Less(items[j].Key)
	})
}
