package capacity

import "sort"

// Options lists, per dimension, the ids still selectable as secondary
// filters.
type Options map[Dimension][]string

// ContextualOptions computes the selectable ids of every dimension from the
// rules of the current cycle. A dimension's own selection never narrows its
// options; every other active filter does. The primary dimension is left
// out.
func ContextualOptions(rules []Rule, primary Dimension, secondary Filters) Options {
	sets := make(map[Dimension]map[string]struct{}, len(Dimensions))
	for _, d := range Dimensions {
		if d != primary {
			sets[d] = make(map[string]struct{})
		}
	}
	for _, r := range rules {
		for d, set := range sets {
			if !secondary.Matches(r, d) {
				continue
			}
			for _, id := range r.Values(d) {
				set[id] = struct{}{}
			}
		}
	}
	out := make(Options, len(sets))
	for d, set := range sets {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out[d] = ids
	}
	return out
}
