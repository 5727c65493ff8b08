package dispatch

import (
	"github.com/kilianp07/freight/core/geo"
	"github.com/kilianp07/freight/core/model"
)

// Sequence is an ordered list of zero, one or two loads a driver could take
// next, together with the deadhead miles needed to run it.
type Sequence struct {
	DriverID string   `json:"driver_id"`
	LoadIDs  []string `json:"load_ids"`
	Cost     float64  `json:"cost"`
}

// Idle reports whether the sequence assigns no load.
func (s Sequence) Idle() bool { return len(s.LoadIDs) == 0 }

// Chained reports whether the sequence holds two loads.
func (s Sequence) Chained() bool { return len(s.LoadIDs) == 2 }

// First returns the load the driver would run first, or "".
func (s Sequence) First() string {
	if len(s.LoadIDs) == 0 {
		return ""
	}
	return s.LoadIDs[0]
}

// Second returns the chained load, or "".
func (s Sequence) Second() string {
	if len(s.LoadIDs) < 2 {
		return ""
	}
	return s.LoadIDs[1]
}

// Contains reports whether loadID is part of the sequence.
func (s Sequence) Contains(loadID string) bool {
	for _, id := range s.LoadIDs {
		if id == loadID {
			return true
		}
	}
	return false
}

// GenerateCandidates enumerates, for every driver, the idle option, every
// single load and every ordered pair of distinct loads. The cost of a single
// load is the distance from the driver to its pickup; a chain adds the
// distance from the first dropoff to the second pickup. Drivers without a
// known location are skipped.
//
// With an empty Shortlist the result holds exactly N*(1+M+M*(M-1)) sequences.
func GenerateCandidates(drivers []model.Driver, loads []model.Load, sl Shortlist) []Sequence {
	out := make([]Sequence, 0, expectedCandidates(len(drivers), len(loads)))
	for _, d := range drivers {
		if d.Location == nil {
			continue
		}
		out = append(out, Sequence{DriverID: d.ID})
		firsts := sl.firstLegs(*d.Location, loads)
		for _, i := range firsts {
			out = append(out, Sequence{
				DriverID: d.ID,
				LoadIDs:  []string{loads[i].ID},
				Cost:     geo.MustDistance(*d.Location, loads[i].Pickup),
			})
		}
		for _, i := range firsts {
			first := loads[i]
			toFirst := geo.MustDistance(*d.Location, first.Pickup)
			for _, j := range sl.secondLegs(first, i, loads) {
				second := loads[j]
				out = append(out, Sequence{
					DriverID: d.ID,
					LoadIDs:  []string{first.ID, second.ID},
					Cost:     toFirst + geo.MustDistance(first.Dropoff, second.Pickup),
				})
			}
		}
	}
	return out
}

func expectedCandidates(n, m int) int {
	return n * (1 + m + m*(m-1))
}
