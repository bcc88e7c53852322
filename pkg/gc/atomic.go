package gc

import "violet_go/pkg/heap"

// The atomic pass
//
// Everything that cannot tolerate mutator interleaving happens here,
// once per cycle, between the last propagate step and the first sweep
// step. The order matters:
//
//  1. Roots are marked again; anything the mutator reached for during
//     propagation is caught now.
//  2. The gray worklist is drained, then the grayAgain list: barrier
//     demotions, threads and weak tables that were parked for their
//     single rescan.
//  3. Ephemerons converge: values are marked for live keys until a
//     round marks nothing.
//  4. Weak values are cleared while dead finalizable objects are
//     still white, so a weak reference never observes an object that
//     is merely awaiting finalization.
//  5. Dead finalizable objects move to the finalization queue and are
//     resurrected: marked, with their subgraphs, so the finalizer
//     finds them intact.
//  6. Ephemerons converge again, now that resurrection may have
//     revived keys, and dead keys and any remaining dead values are
//     cleared.
//  7. The white flip: objects still carrying the old white are
//     garbage for the sweeper, and every allocation from here on
//     wears a white the sweeper will skip.
func (c *Collector) atomic() int {
	c.phase = Atomic
	work := c.markRoots()
	work += c.drainGray()
	work += c.drainGrayAgain()
	work += c.convergeEphemerons()

	c.clearWeakValues()

	work += c.separateFinalizable()
	work += c.convergeEphemerons()
	c.clearWeakKeys()
	c.clearWeakValues()

	c.currentWhite = c.otherWhite()
	c.stats.AtomicPasses++
	c.checkpoint()
	c.enterSweep()
	return work
}

// drainGrayAgain rescans the parked objects. Threads and weak tables
// traversed now take their atomic treatment: threads blacken, weak
// tables join the clearing registries. Anything they mark is drained
// before returning.
func (c *Collector) drainGrayAgain() int {
	work := 0
	parked := c.grayAgain
	c.grayAgain = c.grayAgain[:0]
	for _, o := range parked {
		if o.GCHeader().IsGray() {
			work += c.traverse(o)
		}
	}
	return work + c.drainGray()
}

// convergeEphemerons marks ephemeron values for live keys until a
// full round marks nothing. Marking a value can make further keys
// live, so each round that marked something drains the worklist and
// goes around again.
func (c *Collector) convergeEphemerons() int {
	work := 0
	for {
		changed := false
		for _, t := range c.ephemerons {
			if c.scanEphemeron(t) {
				changed = true
			}
		}
		if !changed {
			return work
		}
		c.stats.EphemeronPasses++
		work += c.drainGray()
	}
}

// clearWeakValues removes entries whose value is about to die from
// every weak-value table. Both parts are cleared: dead array slots
// become nil, dead hash entries disappear. A table whose mode was
// changed mid-cycle is left alone; its new mode governs from the next
// cycle.
func (c *Collector) clearWeakValues() {
	for _, t := range c.weakValues {
		if t.WeakMode() != heap.WeakValues {
			continue
		}
		arr := t.Array()
		for i, v := range arr {
			if deadValue(v) {
				arr[i] = heap.Nil
				c.stats.WeakCleared++
			}
		}
		t.ForEachEntry(func(k, v heap.Value) {
			if deadValue(v) {
				t.DeleteEntry(k)
				c.stats.WeakCleared++
			}
		})
	}
}

// clearWeakKeys removes entries whose key is about to die from
// weak-key and ephemeron tables. Entries keyed by resurrected
// finalizable objects are live this cycle and survive.
func (c *Collector) clearWeakKeys() {
	for _, t := range c.weakKeys {
		if t.WeakMode() == heap.WeakKeys {
			c.clearDeadKeys(t)
		}
	}
	for _, t := range c.ephemerons {
		if t.WeakMode() == heap.WeakEphemeron {
			c.clearDeadKeys(t)
		}
	}
}

func (c *Collector) clearDeadKeys(t *heap.Table) {
	t.ForEachEntry(func(k, v heap.Value) {
		if deadValue(k) {
			t.DeleteEntry(k)
			c.stats.WeakCleared++
		}
	})
}

// deadValue reports whether v references an object unreached in this
// cycle. Called before the flip, so unreached means white.
func deadValue(v heap.Value) bool {
	return v.IsObject() && v.Obj.GCHeader().IsWhite()
}

// separateFinalizable moves every finalizable object that this cycle
// proved unreachable onto the finalization queue, then resurrects the
// queue: queued objects and everything they reference must stay
// intact until their finalizers have run. The finalizable list is
// linked most-recent-first, so finalizers run in reverse registration
// order.
func (c *Collector) separateFinalizable() int {
	link := &c.finobj
	for *link != nil {
		o := *link
		h := o.GCHeader()
		if !h.IsWhite() {
			link = h.NextLink()
			continue
		}
		*link = h.Next()
		c.queueFinalize(o)
	}
	for o := c.tobefnz; o != nil; o = o.GCHeader().Next() {
		c.markObject(o)
	}
	return c.drainGray()
}

// queueFinalize appends o to the finalization queue, preserving the
// order in which separation found the dead objects.
func (c *Collector) queueFinalize(o heap.Object) {
	o.GCHeader().SetNext(nil)
	if c.tobefnzTail == nil {
		c.tobefnz = o
	} else {
		c.tobefnzTail.GCHeader().SetNext(o)
	}
	c.tobefnzTail = o
}
