package commandclass

import (
	"fmt"
	"slices"
	"strings"
)

// Set is a set of command class ids. It can be created with make(Set).
type Set map[ID]struct{}

func NewSet(ids ...ID) Set {
	set := make(Set)
	set.Insert(ids...)
	return set
}

func (set Set) Insert(ids ...ID) {
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

// Contain returns true if every id is in the set
func (set Set) Contain(ids ...ID) bool {
	for _, id := range ids {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

func (set Set) Len() int {
	return len(set)
}

// Sorted returns the members in ascending order
func (set Set) Sorted() []ID {
	out := make([]ID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (set Set) Clone() Set {
	return NewSet(set.Sorted()...)
}

// String renders the set as the same comma separated list ParseList reads
func (set Set) String() string {
	ids := set.Sorted()
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("0x%02x", uint8(id))
	}
	return strings.Join(parts, ",")
}
