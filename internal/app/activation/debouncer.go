package activation

import (
	"time"

	"github.com/dkeye/voiceclient/internal/core"
)

// Debouncer applies on-immediately / off-after-quiet-period hysteresis to a
// boolean signal. A pending off transition is cancelled by any true update.
// Not safe for concurrent use: updates and scheduled callbacks must run on the
// same goroutine, which is what the voice controller's scheduler guarantees.
type Debouncer struct {
	sched    core.Scheduler
	delay    time.Duration
	onChange func(bool)

	value   bool
	pending core.Timer
	seq     uint64
}

func NewDebouncer(sched core.Scheduler, offDelay time.Duration, onChange func(bool)) *Debouncer {
	return &Debouncer{sched: sched, delay: offDelay, onChange: onChange}
}

// Update feeds the instantaneous value.
func (d *Debouncer) Update(v bool) {
	if v {
		d.cancel()
		if !d.value {
			d.value = true
			d.notify(true)
		}
		return
	}
	if !d.value || d.pending != nil {
		return
	}
	d.seq++
	seq := d.seq
	d.pending = d.sched.AfterFunc(d.delay, func() { d.fire(seq) })
}

func (d *Debouncer) fire(seq uint64) {
	// A timer stopped too late may still deliver; the sequence check drops it.
	if d.pending == nil || seq != d.seq {
		return
	}
	d.pending = nil
	d.value = false
	d.notify(false)
}

// Value is the debounced value.
func (d *Debouncer) Value() bool { return d.value }

// Pending reports whether an off transition is scheduled.
func (d *Debouncer) Pending() bool { return d.pending != nil }

// Reset cancels any pending transition and forces the value to false without notifying.
func (d *Debouncer) Reset() {
	d.cancel()
	d.value = false
}

func (d *Debouncer) cancel() {
	if d.pending == nil {
		return
	}
	d.pending.Stop()
	d.pending = nil
	d.seq++
}

func (d *Debouncer) notify(v bool) {
	if d.onChange != nil {
		d.onChange(v)
	}
}
