// Package portalloc hands out inner-app ports from a closed range.
package portalloc

import (
	"errors"
	"fmt"

	"github.com/hangarhq/hangar/internal/registry"
)

// ErrPortExhausted is returned when every port in the range is claimed.
var ErrPortExhausted = errors.New("port range exhausted")

// Allocator walks [Low, High] looking for a port not claimed by any
// registry record.
type Allocator struct {
	Low, High int
	reg       *registry.Registry
}

// New constructs an Allocator over [low, high] backed by reg. The walk in
// Next is performed under reg's lock so concurrent allocations never
// collide.
func New(reg *registry.Registry, low, high int) *Allocator {
	return &Allocator{Low: low, High: high, reg: reg}
}

// Next returns the first free port in ascending order, or
// ErrPortExhausted.
func (a *Allocator) Next() (int, error) {
	var port int
	err := a.reg.WithLock(func(apps map[string]*registry.AppRecord) error {
		used := make(map[int]struct{}, len(apps)*2)
		for _, rec := range apps {
			used[rec.Port] = struct{}{}
			if rec.WSPort != 0 {
				used[rec.WSPort] = struct{}{}
			}
		}
		for p := a.Low; p <= a.High; p++ {
			if _, taken := used[p]; !taken {
				port = p
				return nil
			}
		}
		return ErrPortExhausted
	})
	if err != nil {
		return 0, fmt.Errorf("allocate port: %w", err)
	}
	return port, nil
}
