// Package progress drives the operator-facing progress indicator.
package progress

import (
	"github.com/rs/zerolog"

	"github.com/dvloznov/order-intake/internal/events"
)

// Publisher is the subset of the event bus the indicator needs.
type Publisher interface {
	Publish(name string, payload any)
}

// Indicator reports progress to UI clients. It is best-effort: a failing
// publisher never propagates to the caller.
type Indicator struct {
	pub Publisher
	log zerolog.Logger
}

// NewIndicator creates an indicator publishing on pub.
func NewIndicator(pub Publisher, log zerolog.Logger) *Indicator {
	return &Indicator{pub: pub, log: log}
}

// Percent returns min(100, current*100/total), or 0 when total is 0.
func Percent(current, total int) int {
	if total <= 0 || current <= 0 {
		return 0
	}
	p := current * 100 / total
	if p > 100 {
		return 100
	}
	return p
}

// SetProgress publishes (current, total). A total of 0 resets the indicator.
func (i *Indicator) SetProgress(current, total int) {
	defer func() {
		if r := recover(); r != nil {
			i.log.Warn().Interface("panic", r).Msg("Progress indicator failed")
		}
	}()

	if total <= 0 {
		current, total = 0, 0
	}
	i.pub.Publish(events.ProgressChanged, events.Progress{
		Current: current,
		Total:   total,
		Percent: Percent(current, total),
	})
	i.log.Debug().Int("current", current).Int("total", total).Msg("Progress")
}
