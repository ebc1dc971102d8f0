package detection

import (
	"context"
	"time"
)

// awaitReady checks ready immediately and then every interval until it holds
// or ctx is done. waiting runs after every failed check.
func awaitReady(ctx context.Context, interval time.Duration, ready func() bool, waiting func()) error {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ready() {
			return nil
		}
		if waiting != nil {
			waiting()
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}
