package health

import (
	"context"
	"errors"
	"fmt"
)

// Pinger is a dependency that can report its reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker checks a required dependency by pinging it.
func PingChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// errAllOpen is reported when every circuit breaker of a provider group has
// tripped.
var errAllOpen = errors.New("all providers unavailable")

// AvailabilityChecker checks a provider group guarded by circuit breakers.
// available reports whether at least one provider of the group accepts calls.
func AvailabilityChecker(name string, available func() bool) Checker {
	return Checker{Name: name, Check: func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !available() {
			return fmt.Errorf("%s: %w", name, errAllOpen)
		}
		return nil
	}}
}

// Optional marks c as a dependency the pipeline can run without.
func Optional(c Checker) Checker {
	c.Optional = true
	return c
}
