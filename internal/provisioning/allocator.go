package provisioning

import (
	"context"
	"fmt"
	"strconv"

	"eleve/internal/credentials"
	"eleve/internal/errs"
)

// DefaultMaxAttempts bounds the numeric suffix search
const DefaultMaxAttempts = 1000

// UsernameAllocator derives a free username from a display name.
// Candidates are base, base1, base2, ... and the first one no directory
// knows about wins. Nothing is reserved, so two allocations running at the
// same time can pick the same name; the identity store's unique key decides.
type UsernameAllocator struct {
	directories []HandleDirectory
	maxAttempts int
}

// NewUsernameAllocator creates an allocator that checks every directory
func NewUsernameAllocator(maxAttempts int, directories ...HandleDirectory) *UsernameAllocator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &UsernameAllocator{directories: directories, maxAttempts: maxAttempts}
}

// Allocate returns the first unused candidate for displayName
func (a *UsernameAllocator) Allocate(ctx context.Context, displayName string) (string, error) {
	base := credentials.Slug(displayName)
	for i := 0; i < a.maxAttempts; i++ {
		candidate := base
		if i > 0 {
			candidate = base + strconv.Itoa(i)
		}
		taken, err := a.taken(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check username %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no free username for %q after %d attempts", errs.ErrAllocationExhausted, base, a.maxAttempts)
}

func (a *UsernameAllocator) taken(ctx context.Context, handle string) (bool, error) {
	for _, dir := range a.directories {
		exists, err := dir.HandleExists(ctx, handle)
		if err != nil {
			return false, err
		}
		if exists {
			return true, nil
		}
	}
	return false, nil
}
