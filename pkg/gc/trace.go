package gc

import "violet_go/pkg/heap"

// markValue marks the object inside v, if any.
func (c *Collector) markValue(v heap.Value) {
	if v.IsObject() {
		c.markObject(v.Obj)
	}
}

// markObject moves a white object out of the white set: leaves go
// straight to black, containers turn gray and join the worklist. An
// object is pushed at most once per cycle because only the
// white-to-gray transition enqueues.
func (c *Collector) markObject(o heap.Object) {
	h := o.GCHeader()
	if !h.IsWhite() {
		return
	}
	c.stats.ObjectsMarked++
	if h.Kind().Leaf() {
		h.SetBlack()
		return
	}
	h.SetGray()
	c.gray = append(c.gray, o)
}

// propagateStep traverses one gray object.
func (c *Collector) propagateStep() int {
	n := len(c.gray) - 1
	o := c.gray[n]
	c.gray = c.gray[:n]
	return c.traverse(o)
}

// drainGray traverses gray objects until the worklist is empty.
func (c *Collector) drainGray() int {
	work := 0
	for len(c.gray) > 0 {
		work += c.propagateStep()
	}
	return work
}

// traverse scans one object's children and recolors it. Most kinds
// blacken here; threads and weak tables stay gray until the atomic
// pass because their contents can change under the mutator in ways
// the barrier does not cover.
func (c *Collector) traverse(o heap.Object) int {
	h := o.GCHeader()
	work := int(h.Size())
	switch obj := o.(type) {
	case *heap.Cell:
		c.markValue(obj.Car)
		c.markValue(obj.Cdr)
		h.SetBlack()
	case *heap.Tuple:
		for _, f := range obj.Fields {
			c.markValue(f)
		}
		h.SetBlack()
	case *heap.Closure:
		c.markValue(obj.Code)
		for _, v := range obj.Captures {
			c.markValue(v)
		}
		h.SetBlack()
	case *heap.Thread:
		c.traverseThread(obj)
	case *heap.Table:
		c.traverseTable(obj)
	default:
		// Kinds this package does not know are traversed through
		// their generic child visitor.
		o.ForEachChild(func(ch heap.Object) {
			if ch != nil {
				c.markObject(ch)
			}
		})
		h.SetBlack()
	}
	return work
}

// traverseThread scans the live stack window. Stack slots are written
// without barriers, so during incremental marking the thread is
// parked for one rescan in the atomic pass and blackens only there.
func (c *Collector) traverseThread(t *heap.Thread) {
	for i := 0; i < t.Top(); i++ {
		c.markValue(t.Slot(i))
	}
	if c.phase == Propagate {
		c.grayAgain = append(c.grayAgain, t)
		return
	}
	t.GCHeader().SetBlack()
}

func (c *Collector) traverseTable(t *heap.Table) {
	switch t.WeakMode() {
	case heap.WeakValues:
		c.traverseWeakValueTable(t)
	case heap.WeakKeys:
		c.traverseWeakKeyTable(t)
	case heap.WeakEphemeron:
		c.traverseEphemeronTable(t)
	default:
		c.traverseStrongTable(t)
	}
}

func (c *Collector) traverseStrongTable(t *heap.Table) {
	for _, v := range t.Array() {
		c.markValue(v)
	}
	t.ForEachEntry(func(k, v heap.Value) {
		c.markValue(k)
		c.markValue(v)
	})
	t.GCHeader().SetBlack()
}

// traverseWeakValueTable marks keys strongly and leaves values to the
// clearing pass. The table never blackens this cycle: during
// propagation it is parked for the atomic rescan, during the atomic
// pass it is registered for value clearing.
func (c *Collector) traverseWeakValueTable(t *heap.Table) {
	t.ForEachEntry(func(k, v heap.Value) {
		c.markValue(k)
	})
	if c.phase == Propagate {
		c.grayAgain = append(c.grayAgain, t)
		return
	}
	c.weakValues = append(c.weakValues, t)
}

// traverseWeakKeyTable marks values strongly; entries whose keys die
// are cleared at the end of the atomic pass.
func (c *Collector) traverseWeakKeyTable(t *heap.Table) {
	for _, v := range t.Array() {
		c.markValue(v)
	}
	t.ForEachEntry(func(k, v heap.Value) {
		c.markValue(v)
	})
	if c.phase == Propagate {
		c.grayAgain = append(c.grayAgain, t)
		return
	}
	c.weakKeys = append(c.weakKeys, t)
}

// traverseEphemeronTable marks what is cheap to decide now: array
// values, whose integer keys are always live, and hash values whose
// keys are already marked. Values behind still-white keys wait for
// the convergence loop in the atomic pass.
func (c *Collector) traverseEphemeronTable(t *heap.Table) {
	c.scanEphemeron(t)
	if c.phase == Propagate {
		c.grayAgain = append(c.grayAgain, t)
		return
	}
	c.ephemerons = append(c.ephemerons, t)
}

// scanEphemeron marks values whose keys are live and reports whether
// anything new was marked, which sends the convergence loop around
// again.
func (c *Collector) scanEphemeron(t *heap.Table) bool {
	marked := false
	for _, v := range t.Array() {
		if v.IsObject() && v.Obj.GCHeader().IsWhite() {
			c.markObject(v.Obj)
			marked = true
		}
	}
	t.ForEachEntry(func(k, v heap.Value) {
		if !v.IsObject() || !v.Obj.GCHeader().IsWhite() {
			return
		}
		if k.IsObject() && k.Obj.GCHeader().IsWhite() {
			// Key not reachable so far; the value stays unmarked.
			return
		}
		c.markObject(v.Obj)
		marked = true
	})
	return marked
}
