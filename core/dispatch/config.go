package dispatch

import (
	"fmt"
	"time"
)

// DefaultReservationSeconds is how long a reservation holds a load for a
// driver before it expires.
const DefaultReservationSeconds = 120

// Config defines dispatch-related settings.
type Config struct {
	// TimeBudgetMS bounds each solve. Defaults to 500.
	TimeBudgetMS       int `json:"time_budget_ms"`
	ReservationSeconds int `json:"reservation_seconds"`
	KnnK1              int `json:"knn_k1"`
	KnnK2              int `json:"knn_k2"`
	// UnservedPenalty, when positive, lets the solver leave a load uncovered
	// at this cost in miles instead of declaring the pass infeasible.
	UnservedPenalty float64 `json:"unserved_penalty"`
}

// SetDefaults fills unset values.
func (c *Config) SetDefaults() {
	if c.TimeBudgetMS <= 0 {
		c.TimeBudgetMS = int(DefaultTimeBudget / time.Millisecond)
	}
	if c.ReservationSeconds <= 0 {
		c.ReservationSeconds = DefaultReservationSeconds
	}
}

// Validate checks the configuration for inconsistent values.
func (c Config) Validate() error {
	if c.KnnK1 < 0 || c.KnnK2 < 0 {
		return fmt.Errorf("dispatch: knn sizes must not be negative")
	}
	if c.UnservedPenalty < 0 {
		return fmt.Errorf("dispatch: unserved_penalty must not be negative")
	}
	return nil
}

func (c Config) TimeBudget() time.Duration {
	return time.Duration(c.TimeBudgetMS) * time.Millisecond
}

func (c Config) ReservationHold() time.Duration {
	return time.Duration(c.ReservationSeconds) * time.Second
}

func (c Config) Shortlist() Shortlist { return Shortlist{K1: c.KnnK1, K2: c.KnnK2} }
