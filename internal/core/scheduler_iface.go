package core

import "time"

type Timer interface {
	Stop() bool
}

// Scheduler runs fn after d. Implementations used by the voice controller
// deliver fn on the controller goroutine.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}
