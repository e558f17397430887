package distmat

import "slices"

// GroupingPolicy partitions n objects by their pairwise values. It returns
// one slice of object indexes per group, covering every object, or nil when
// no useful partition exists.
type GroupingPolicy interface {
	Group(n int, values []uint64, inaccurate bool) [][]int
}

// MinDistance groups objects whose distance to each other is the smallest
// off-diagonal value of the matrix, transitively. Inaccurate grouping retries
// with growing relative tolerances up to 5%.
type MinDistance struct{}

var accuracies = []float64{0, 0.01, 0.02, 0.05}

// Group implements GroupingPolicy.
func (MinDistance) Group(n int, values []uint64, inaccurate bool) [][]int {
	tries := accuracies[:1]
	if inaccurate {
		tries = accuracies
	}
	for _, acc := range tries {
		groups := minDistanceGroups(n, values, acc)
		if len(groups) > 1 && len(groups) < n {
			return groups
		}
	}
	return nil
}

func minDistanceGroups(n int, values []uint64, accuracy float64) [][]int {
	var lowest uint64
	found := false
	for i := range n {
		for j := range n {
			if i == j {
				continue
			}
			if v := values[i*n+j]; !found || v < lowest {
				lowest, found = v, true
			}
		}
	}
	if !found {
		return nil
	}
	near := func(v uint64) bool {
		return float64(v) <= float64(lowest)*(1+accuracy)
	}

	group := make([]int, n)
	for i := range group {
		group[i] = -1
	}
	var groups [][]int
	for start := range n {
		if group[start] >= 0 {
			continue
		}
		g := len(groups)
		members := []int{start}
		group[start] = g
		for k := 0; k < len(members); k++ {
			i := members[k]
			for j := range n {
				if group[j] < 0 && near(values[i*n+j]) && near(values[j*n+i]) {
					group[j] = g
					members = append(members, j)
				}
			}
		}
		slices.Sort(members)
		groups = append(groups, members)
	}
	return groups
}

// Hierarchy applies policy repeatedly: after each pass the groups become the
// units of the next pass, with the average value between their members. It
// returns one level per pass, bottom first; each level lists the groups with
// more than one unit, as sorted indexes into the original objects.
func Hierarchy(policy GroupingPolicy, n int, values []uint64, inaccurate bool) [][][]int {
	units := make([][]int, n)
	for i := range units {
		units[i] = []int{i}
	}
	vals := values
	var levels [][][]int
	for len(units) > 2 {
		parts := policy.Group(len(units), vals, inaccurate)
		if len(parts) <= 1 || len(parts) >= len(units) {
			break
		}
		next := make([][]int, len(parts))
		var level [][]int
		for g, part := range parts {
			for _, u := range part {
				next[g] = append(next[g], units[u]...)
			}
			slices.Sort(next[g])
			if len(part) > 1 {
				level = append(level, next[g])
			}
		}
		levels = append(levels, level)
		vals = average(vals, len(units), parts)
		units = next
	}
	return levels
}

// average returns the matrix between groups, each value being the mean of
// the values between their members.
func average(values []uint64, n int, parts [][]int) []uint64 {
	m := len(parts)
	out := make([]uint64, m*m)
	for a, pa := range parts {
		for b, pb := range parts {
			var sum uint64
			for _, i := range pa {
				for _, j := range pb {
					sum += values[i*n+j]
				}
			}
			out[a*m+b] = sum / uint64(len(pa)*len(pb))
		}
	}
	return out
}
