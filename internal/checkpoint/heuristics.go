package checkpoint

import (
	"sync"
	"time"
)

// Decider tracks the bookkeeping needed to choose a checkpoint Reason in
// the priority order spec.md §4.C defines, and arms/cancels the deferred
// idle-time checkpoint.
type Decider struct {
	heuristics Heuristics

	mu                         sync.Mutex
	rawMessagesSinceCheckpoint uint64
	lastCheckpointTime         time.Time
	idleTimer                  *time.Timer
	now                        func() time.Time
}

// NewDecider constructs a Decider. now defaults to time.Now; tests may
// override it.
func NewDecider(h Heuristics) *Decider {
	return &Decider{
		heuristics:         h,
		lastCheckpointTime: time.Now(),
		now:                time.Now,
	}
}

// ObserveBatch records that a batch of `count` raw messages was
// processed, for the MaxMessages heuristic.
func (d *Decider) ObserveBatch(count uint64) {
	d.mu.Lock()
	d.rawMessagesSinceCheckpoint += count
	d.mu.Unlock()
}

// Decide returns the highest-priority Reason that currently applies,
// given the forced conditions observed this batch. forceCorrupt and
// noClients short-circuit the usual message/time/idle heuristics, per
// spec.md §4.C's priority list.
func (d *Decider) Decide(forceCorrupt, noClients bool) Reason {
	if forceCorrupt {
		return ReasonMarkAsCorrupt
	}
	if noClients {
		return ReasonNoClients
	}
	if !d.heuristics.Enable {
		return ReasonEveryMessage
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.heuristics.MaxMessages > 0 && d.rawMessagesSinceCheckpoint >= d.heuristics.MaxMessages {
		return ReasonMaxMessages
	}
	if d.heuristics.MaxTime > 0 && d.now().Sub(d.lastCheckpointTime) >= d.heuristics.MaxTime {
		return ReasonMaxTime
	}
	return ReasonIdleTime
}

// RecordCheckpoint resets the message/time counters after a checkpoint
// write succeeds, whatever its Reason (including one fired by the idle
// timer).
func (d *Decider) RecordCheckpoint() {
	d.mu.Lock()
	d.rawMessagesSinceCheckpoint = 0
	d.lastCheckpointTime = d.now()
	d.mu.Unlock()
}

// ArmIdleTimer schedules fire to run after the configured IdleTime has
// elapsed with no intervening batch. A new batch's arrival must call
// CancelIdleTimer before re-arming, so that idle-time checkpoints are
// cancelled by arrival of a new batch before they fire (spec.md §5).
func (d *Decider) ArmIdleTimer(fire func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	if d.heuristics.IdleTime <= 0 {
		d.idleTimer = nil
		return
	}
	d.idleTimer = time.AfterFunc(d.heuristics.IdleTime, fire)
}

// CancelIdleTimer cancels any armed idle-time checkpoint.
func (d *Decider) CancelIdleTimer() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}
}
