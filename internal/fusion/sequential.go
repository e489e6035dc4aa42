package fusion

import (
	"slices"

	"github.com/born-ml/trainkit/internal/nn"
	"github.com/born-ml/trainkit/internal/tensor"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// patternAt returns the pattern of modules, or false when one of them is
// not fusable.
func patternAt[B tensor.Backend](modules []nn.Module[B]) (Pattern, bool) {
	kinds := make([]Kind, len(modules))
	for i, m := range modules {
		k, ok := KindOf(m)
		if !ok {
			return "", false
		}
		kinds[i] = k
	}
	return PatternOf(kinds...), true
}

// FuseModules fuses each group of child indices of seq. The fused module
// takes the slot of the group's first index; the other slots get
// nn.Identity so that indices and state-dict prefixes stay stable.
//
// All groups are fused before seq is modified: on error seq is unchanged.
func FuseModules[B tensor.Backend](seq *nn.Sequential[B], groups [][]int, extra map[Pattern]FuserMethod[B]) error {
	seen := make(map[int]bool)
	fused := make([]nn.Module[B], len(groups))
	for g, group := range groups {
		if len(group) < 2 {
			return errors.Wrapf(ErrInvalidGroup, "group %d has %d modules", g, len(group))
		}
		modules := make([]nn.Module[B], len(group))
		for i, idx := range group {
			if idx < 0 || idx >= seq.Len() {
				return errors.Wrapf(ErrInvalidGroup, "group %d: index %d out of range [0, %d)", g, idx, seq.Len())
			}
			if seen[idx] {
				return errors.Wrapf(ErrInvalidGroup, "group %d: index %d used twice", g, idx)
			}
			seen[idx] = true
			modules[i] = seq.Module(idx)
		}

		pattern, ok := patternAt(modules)
		if !ok {
			return errors.Wrapf(ErrNoFuserMethod, "group %d %v", g, group)
		}
		method, err := GetFuserMethod(pattern, extra)
		if err != nil {
			return errors.WithMessagef(err, "group %d", g)
		}
		m, err := method(modules)
		if err != nil {
			return errors.WithMessagef(err, "group %d (%s)", g, pattern)
		}
		fused[g] = m
	}

	replace(seq, groups, fused)
	return nil
}

func replace[B tensor.Backend](seq *nn.Sequential[B], groups [][]int, fused []nn.Module[B]) {
	for g, group := range groups {
		seq.SetModule(group[0], fused[g])
		for _, idx := range group[1:] {
			id := nn.NewIdentity[B]()
			id.Train(fused[g].Training())
			seq.SetModule(idx, id)
		}
		klog.V(1).Infof("fusion: fused modules %v into %v", group, fused[g])
	}
}

// FuseKnown scans seq left to right and fuses every run of adjacent
// children matching a pattern of the lookup table, preferring the longest
// pattern at each position. Runs whose fusion is rejected with
// ErrUnsupportedTraining are left alone. It returns the fused groups.
func FuseKnown[B tensor.Backend](seq *nn.Sequential[B], extra map[Pattern]FuserMethod[B]) ([][]int, error) {
	table := patterns(extra)
	lengths := make([]int, 0, len(table))
	for p := range table {
		lengths = append(lengths, p.Len())
	}
	slices.Sort(lengths)
	slices.Reverse(lengths)
	lengths = slices.Compact(lengths)

	modules := seq.Modules()
	var groups [][]int
	var fused []nn.Module[B]
	for i := 0; i < len(modules); {
		group, pattern := matchAt(modules, i, lengths, table)
		if group == nil {
			i++
			continue
		}
		m, err := table[pattern](modules[i : i+len(group)])
		if err != nil {
			if errors.Is(err, ErrUnsupportedTraining) {
				klog.V(1).Infof("fusion: skipping modules %v: %v", group, err)
				i++
				continue
			}
			return nil, errors.WithMessagef(err, "modules %v", group)
		}
		groups = append(groups, group)
		fused = append(fused, m)
		i += len(group)
	}

	replace(seq, groups, fused)
	return groups, nil
}

// matchAt returns the indices and pattern of the longest run starting at i
// whose pattern is in table.
func matchAt[B tensor.Backend](modules []nn.Module[B], i int, lengths []int, table map[Pattern]FuserMethod[B]) ([]int, Pattern) {
	for _, n := range lengths {
		if i+n > len(modules) {
			continue
		}
		p, ok := patternAt(modules[i : i+n])
		if !ok {
			continue
		}
		if _, ok := table[p]; ok {
			group := make([]int, n)
			for j := range group {
				group[j] = i + j
			}
			return group, p
		}
	}
	return nil, ""
}
