package retry

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/sandboxhq/scenario-deployer/internal/errors"
)

// PollConfig bounds a polling loop: one check per Interval, hard stop at
// Ceiling of wall-clock time.
type PollConfig struct {
	Interval time.Duration
	Ceiling  time.Duration
}

// Poll repeatedly invokes check until it reports done, fails, or the ceiling
// is reached. Reaching the ceiling surfaces ErrPollCeiling so callers can map
// it to their own distinct timeout kind.
func Poll[T any](ctx context.Context, cfg PollConfig, check func(ctx context.Context) (T, bool, error)) (T, error) {
	var zero T
	deadline := time.Now().Add(cfg.Ceiling)

	for {
		result, done, err := check(ctx)
		if err != nil {
			return zero, err
		}
		if done {
			return result, nil
		}

		if time.Now().Add(cfg.Interval).After(deadline) {
			return zero, fmt.Errorf("%w after %s", apperrors.ErrPollCeiling, cfg.Ceiling)
		}
		if err := sleep(ctx, cfg.Interval); err != nil {
			return zero, err
		}
	}
}
