package gc

import (
	"fmt"

	"violet_go/pkg/heap"
)

// finalizeStep runs up to FinalizersPerStep queued finalizers, then
// returns the collector to PAUSE once the queue is empty. Emergency
// collections skip straight past: finalizers run arbitrary code and
// may allocate, which is exactly what an allocation-failure path
// cannot afford. The queue survives for the next ordinary cycle.
func (c *Collector) finalizeStep() int {
	if c.emergency {
		c.finishCycle()
		return 0
	}
	work := 0
	for i := 0; i < c.cfg.FinalizersPerStep && c.tobefnz != nil; i++ {
		work += c.finalizeOne()
	}
	if c.tobefnz == nil {
		c.finishCycle()
	}
	return work
}

// finalizeOne pops the queue head, runs its finalizer exactly once,
// and disposes of the object according to the resurrection policy.
func (c *Collector) finalizeOne() int {
	o := c.tobefnz
	h := o.GCHeader()
	c.tobefnz = h.Next()
	if c.tobefnz == nil {
		c.tobefnzTail = nil
	}
	h.SetNext(nil)
	h.SetFinalized()
	fn := c.finalizers[o]
	delete(c.finalizers, o)
	if fn != nil {
		c.runFinalizer(o, fn)
	}
	if c.cfg.ResurrectFinalized {
		// Back to the ordinary list; if nothing reachable holds
		// the object now, the next cycle reclaims it without
		// finalizing again.
		h.SetWhite(c.currentWhite)
		h.SetNext(c.allgc)
		c.allgc = o
	} else {
		c.reclaim(o)
	}
	return finalizeCost
}

// runFinalizer invokes fn, converting a panic into an ErrorSink
// report. A panicking finalizer never takes the collector down.
func (c *Collector) runFinalizer(o heap.Object, fn FinalizerFn) {
	defer func() {
		if r := recover(); r != nil {
			c.stats.FinalizerPanics++
			c.sinkError(fmt.Errorf("finalizer for %s@%p panicked: %v",
				o.GCHeader().Kind(), o, r))
		}
	}()
	c.stats.FinalizersRun++
	fn(o)
}

// finishCycle closes the books on a completed cycle.
func (c *Collector) finishCycle() {
	c.stats.CyclesCompleted++
	c.setPause()
	c.checkpoint()
}
