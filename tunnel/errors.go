package tunnel

import (
	"errors"
	"fmt"

	"github.com/poiesic/kbsync/core"
)

var (
	// ErrPortInUse indicates another run holds the tunnel's local port.
	// It is returned immediately, without waiting for the port to free up.
	ErrPortInUse = errors.New("tunnel port already in use")

	// ErrNotReady indicates the forwarder never passed its health check.
	// The remote target counts as unreachable.
	ErrNotReady = fmt.Errorf("tunnel not ready: %w", core.ErrTargetUnreachable)
)
