// Package notify delivers device health transitions to operators.
package notify

import (
	"context"
	"errors"
	"time"
)

// Event types.
const (
	EventHealthChanged = "health_changed"
)

// Event is a notable change on a device.
type Event struct {
	Type     string    `json:"event"`
	Device   string    `json:"device"`
	Status   string    `json:"status,omitempty"`
	Previous string    `json:"previous,omitempty"`
	Rule     string    `json:"rule,omitempty"`
	Message  string    `json:"message,omitempty"`
	Time     time.Time `json:"timestamp"`
}

// Notifier sends events somewhere.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
	Name() string
}

// Multi fans an event out to every notifier. All are attempted; failures
// are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Name() string { return "multi" }
