package dispatch

import (
	"slices"

	"github.com/kilianp07/freight/core/geo"
	"github.com/kilianp07/freight/core/model"
)

// Shortlist bounds candidate generation at scale. K1 limits single loads and
// chain first legs to the K1 pickups nearest the driver; K2 limits chain
// second legs to the K2 pickups nearest the first dropoff. Zero disables a
// limit.
type Shortlist struct {
	K1 int `json:"knn_k1"`
	K2 int `json:"knn_k2"`
}

func (s Shortlist) firstLegs(from model.Point, loads []model.Load) []int {
	return nearest(from, loads, s.K1, -1)
}

func (s Shortlist) secondLegs(first model.Load, firstIdx int, loads []model.Load) []int {
	return nearest(first.Dropoff, loads, s.K2, firstIdx)
}

// nearest returns load indices ordered by pickup distance from origin, keeping
// at most k of them. With k <= 0 every index except skip is returned in input
// order.
func nearest(origin model.Point, loads []model.Load, k, skip int) []int {
	idx := make([]int, 0, len(loads))
	for i := range loads {
		if i != skip {
			idx = append(idx, i)
		}
	}
	if k <= 0 || k >= len(idx) {
		return idx
	}
	dist := make(map[int]float64, len(idx))
	for _, i := range idx {
		dist[i] = geo.MustDistance(origin, loads[i].Pickup)
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		switch {
		case dist[a] < dist[b]:
			return -1
		case dist[a] > dist[b]:
			return 1
		}
		return 0
	})
	return idx[:k]
}
