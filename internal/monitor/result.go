package monitor

import (
	"time"

	"github.com/t77yq/market-watch/internal/model"
)

// AlertResult is the outcome of evaluating one alert in a tick
type AlertResult struct {
	AlertID string
	Fired   bool
	Trigger *model.AlertTrigger
	Err     error
}

// TickResult aggregates one owner's tick
type TickResult struct {
	OwnerID    string
	StartedAt  time.Time
	FinishedAt time.Time
	Evaluated  int
	Results    []AlertResult

	// Err is set when the tick was abandoned before any alert was evaluated
	Err error
}

// Fired returns the number of alerts that fired
func (r *TickResult) Fired() int {
	n := 0
	for _, res := range r.Results {
		if res.Fired {
			n++
		}
	}
	return n
}

// Failed returns the number of alerts whose evaluation or write failed
func (r *TickResult) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Triggers returns the triggers persisted during the tick
func (r *TickResult) Triggers() []*model.AlertTrigger {
	var out []*model.AlertTrigger
	for _, res := range r.Results {
		if res.Trigger != nil {
			out = append(out, res.Trigger)
		}
	}
	return out
}
