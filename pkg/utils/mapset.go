package utils

import (
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type MapSet[K comparable] struct {
	m map[K]struct{}
}

func NewMapSet[K comparable]() MapSet[K] {
	return MapSet[K]{
		m: make(map[K]struct{}),
	}
}

func (s MapSet[K]) Add(val K) {
	s.m[val] = struct{}{}
}

func (s MapSet[K]) Contains(val K) bool {
	_, ok := s.m[val]
	return ok
}

func (s MapSet[K]) Len() int {
	return len(s.m)
}

// SortedItems is for callers that need a deterministic iteration order.
func SortedItems[K constraints.Ordered](s MapSet[K]) []K {
	items := maps.Keys(s.m)
	slices.Sort(items)
	return items
}
