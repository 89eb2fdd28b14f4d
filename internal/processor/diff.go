package processor

// Match pairs a scraped record with the stored record that has the same key.
type Match[C, P any] struct {
	Current  C
	Previous P
}

// Diff is the classification of a current snapshot against a previous one.
type Diff[C, P any] struct {
	New       []C
	Unchanged []Match[C, P]
	Changed   []Match[C, P]
	Removed   []P
}

// Empty reports whether nothing was added, changed or removed.
func (d Diff[C, P]) Empty() bool {
	return len(d.New) == 0 && len(d.Changed) == 0 && len(d.Removed) == 0
}

// Classify compares current against previous by key. Records whose key
// appears more than once on either side count only at their first
// occurrence. A nil changed func treats every match as unchanged. Results keep
// the order of the input slices.
func Classify[K comparable, C, P any](
	current []C,
	previous []P,
	currentKey func(C) K,
	previousKey func(P) K,
	changed func(cur C, prev P) bool,
) Diff[C, P] {
	prevByKey := make(map[K]P, len(previous))
	prevOrder := make([]K, 0, len(previous))
	for _, p := range previous {
		k := previousKey(p)
		if _, ok := prevByKey[k]; ok {
			continue
		}
		prevByKey[k] = p
		prevOrder = append(prevOrder, k)
	}

	var d Diff[C, P]
	seen := make(map[K]struct{}, len(current))
	for _, c := range current {
		k := currentKey(c)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}

		p, ok := prevByKey[k]
		switch {
		case !ok:
			d.New = append(d.New, c)
		case changed != nil && changed(c, p):
			d.Changed = append(d.Changed, Match[C, P]{Current: c, Previous: p})
		default:
			d.Unchanged = append(d.Unchanged, Match[C, P]{Current: c, Previous: p})
		}
	}

	for _, k := range prevOrder {
		if _, ok := seen[k]; !ok {
			d.Removed = append(d.Removed, prevByKey[k])
		}
	}
	return d
}

func identity[T any](v T) T { return v }
