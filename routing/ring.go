package routing

import "sort"

// WeightExtent is the upper bound of the seeds and the last boundary of a
// ring.
const WeightExtent uint64 = 1 << 32

// Point is a boundary of a ring owned by a version.
type Point struct {
	Boundary uint64
	Version  string
}

// Ring is the continuum of a routing group, sorted by the boundaries.
type Ring []Point

// NewRing builds a ring from version weights. Versions with zero weight are
// left out. The versions are placed in lexicographic order, so equal
// weights produce equal rings.
func NewRing(weights map[string]uint64) Ring {
	var (
		versions []string
		total    uint64
	)

	for v, w := range weights {
		if w == 0 {
			continue
		}

		versions = append(versions, v)
		total += w
	}

	if total == 0 {
		return nil
	}

	sort.Strings(versions)
	r := make(Ring, 0, len(versions))
	var sum uint64
	for _, v := range versions {
		sum += weights[v]
		r = append(r, Point{Boundary: sum * WeightExtent / total, Version: v})
	}

	return r
}

// Select returns the version owning the seed: the first point with a
// boundary greater than the seed, or the first point when the seed is past
// every boundary. It returns false for an empty ring.
func (r Ring) Select(seed uint64) (string, bool) {
	if len(r) == 0 {
		return "", false
	}

	i := sort.Search(len(r), func(i int) bool { return r[i].Boundary > seed })
	if i == len(r) {
		i = 0
	}

	return r[i].Version, true
}

// Equal compares two rings point by point.
func (r Ring) Equal(o Ring) bool {
	if len(r) != len(o) {
		return false
	}

	for i := range r {
		if r[i] != o[i] {
			return false
		}
	}

	return true
}

func (r Ring) sorted() Ring {
	sort.SliceStable(r, func(i, j int) bool { return r[i].Boundary < r[j].Boundary })
	return r
}
