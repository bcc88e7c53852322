package gc

import "violet_go/pkg/heap"

// Sweeping walks the three object lists in place: the ordinary list
// first, where objects carrying the old white are unlinked and
// reclaimed, then the finalizable list and the finalization queue,
// which by construction hold no dead objects and only need their
// survivors recolored to the new white. The cursor is the address of
// a link, so unlinking never needs a second pass and allocation
// during the sweep, which pushes at the list head, lands either
// before the cursor, already wearing the fresh white, or on the
// cursor itself, where recoloring is a no-op.

func (c *Collector) enterSweep() {
	c.phase = Sweep
	c.sweepList = 0
	c.sweepCur = &c.allgc
}

// sweepStep examines up to SweepChunkSize objects.
func (c *Collector) sweepStep() int {
	work := 0
	n := 0
	for n < c.cfg.SweepChunkSize {
		o := *c.sweepCur
		if o == nil {
			c.sweepList++
			switch c.sweepList {
			case 1:
				c.sweepCur = &c.finobj
			case 2:
				c.sweepCur = &c.tobefnz
			default:
				c.finishSweep()
				return work
			}
			continue
		}
		h := o.GCHeader()
		if c.sweepList == 0 && c.isDead(h) {
			*c.sweepCur = h.Next()
			c.reclaim(o)
		} else {
			h.SetWhite(c.currentWhite)
			c.sweepCur = h.NextLink()
		}
		n++
		work += sweepCost
		c.stats.ObjectsSwept++
	}
	return work
}

// finishSweep records the live estimate the pacer works from and
// moves on to finalization.
func (c *Collector) finishSweep() {
	c.sweepCur = nil
	c.estimate = c.usage
	c.phase = CallFinalizers
}

// reclaim releases a dead object's storage and accounting.
func (c *Collector) reclaim(o heap.Object) {
	h := o.GCHeader()
	size := uint64(h.Size())
	c.usage -= size
	c.stats.Freed++
	c.stats.FreedBytes += size
	heap.Release(o)
}
