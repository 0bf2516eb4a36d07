package voice

import (
	"time"

	"github.com/dkeye/voiceclient/internal/core"
)

// actorScheduler fires callbacks on the controller goroutine. Stale fires
// are filtered by the owners' sequence checks, so Stop racing a fire is fine.
type actorScheduler struct {
	c *Controller
}

func (s actorScheduler) AfterFunc(d time.Duration, fn func()) core.Timer {
	return time.AfterFunc(d, func() { s.c.post(fn) })
}
