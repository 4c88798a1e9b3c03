package assembler

import (
	"fmt"
	"os"
)

// errExchangeUnsupported reports that the platform or filesystem cannot
// swap two directories in one step.
var errExchangeUnsupported = fmt.Errorf("atomic exchange unsupported")

// swapIn replaces dist with stage and returns where the previous tree now
// lives, empty when there was none. Once swapIn returns nil the new tree is
// live; removing the previous one is the caller's job.
//
// Where the kernel supports it the two directories are exchanged in a single
// rename, so dist never disappears and the previous tree ends up at stage.
// Elsewhere dist is moved aside to dist.prev first and there is a brief
// window in which it does not exist.
func swapIn(stage, dist string) (string, error) {
	prev := dist + prevSuffix
	if err := os.RemoveAll(prev); err != nil {
		return "", fmt.Errorf("remove stale backup: %w", err)
	}

	if _, err := os.Lstat(dist); os.IsNotExist(err) {
		return "", os.Rename(stage, dist)
	}

	err := exchange(stage, dist)
	if err == nil {
		return stage, nil
	}
	if err != errExchangeUnsupported {
		return "", fmt.Errorf("exchange output: %w", err)
	}

	if err := os.Rename(dist, prev); err != nil {
		return "", fmt.Errorf("backup existing output: %w", err)
	}
	if err := os.Rename(stage, dist); err != nil {
		_ = os.Rename(prev, dist)
		return "", fmt.Errorf("promote staging: %w", err)
	}
	return prev, nil
}
