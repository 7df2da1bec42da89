package policy

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// ErrShortfall is returned by Check when a policy reports missing capacity.
var ErrShortfall = errors.New("capacity policy violated")

// Policy decides whether a backup may proceed given the size involved.
type Policy interface {
	// Name identifies the policy in logs and errors.
	Name() string
	// Shortfall returns how many bytes the policy is missing for size.
	// Returns 0 if the policy is satisfied.
	Shortfall(size int64) (int64, error)
}

// Check evaluates every policy against size and fails on the first shortfall.
func Check(size int64, policies ...Policy) error {
	for _, p := range policies {
		missing, err := p.Shortfall(size)
		if err != nil {
			return fmt.Errorf("failed to evaluate %s policy: %w", p.Name(), err)
		}
		if missing > 0 {
			return fmt.Errorf("%w: %s short by %s", ErrShortfall, p.Name(), humanize.Bytes(uint64(missing)))
		}
	}
	return nil
}
