// Package tags maps items to the category tags they belong to.
package tags

import "sort"

// Lookup resolves an item name to its numeric id.
type Lookup func(name string) (int, bool)

// Palette returns a Lookup where an item's id is its index in names.
func Palette(names []string) Lookup {
	idx := make(map[string]int, len(names))
	for i, n := range names {
		idx[n] = i
	}
	return func(name string) (int, bool) {
		id, ok := idx[name]
		return id, ok
	}
}

// Index is immutable once built. A nil Index knows no tags.
type Index struct {
	lookup Lookup
	byID   map[int][]string
}

// Build indexes every (tag, id) pair of defs. Each item's tags are kept in
// ascending name order; when several tags of an item have targets, the first
// one in that order wins.
func Build(defs map[string][]int, lookup Lookup) *Index {
	sets := map[int]map[string]struct{}{}
	for tag, ids := range defs {
		for _, id := range ids {
			set := sets[id]
			if set == nil {
				set = map[string]struct{}{}
				sets[id] = set
			}
			set[tag] = struct{}{}
		}
	}

	byID := make(map[int][]string, len(sets))
	for id, set := range sets {
		list := make([]string, 0, len(set))
		for tag := range set {
			list = append(list, tag)
		}
		sort.Strings(list)
		byID[id] = list
	}
	return &Index{lookup: lookup, byID: byID}
}

// TagsOf returns a copy of the item's tags, or nil for unknown items.
func (x *Index) TagsOf(name string) []string {
	if x == nil || x.lookup == nil {
		return nil
	}
	id, ok := x.lookup(name)
	if !ok {
		return nil
	}
	return append([]string(nil), x.byID[id]...)
}

// Len is the number of items carrying at least one tag.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.byID)
}
