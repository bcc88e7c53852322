package gc

import (
	"fmt"

	"violet_go/pkg/heap"
)

// CheckInvariants validates the collector's internal consistency:
// list integrity, byte accounting, and, while marking is in progress,
// the tri-color invariant itself. It is meant for tests and debug
// builds; the walk touches every tracked object.
func (c *Collector) CheckInvariants() error {
	seen := make(map[heap.Object]struct{})
	var total uint64
	for _, l := range []struct {
		name string
		head heap.Object
	}{
		{"allgc", c.allgc},
		{"finobj", c.finobj},
		{"tobefnz", c.tobefnz},
	} {
		for o := l.head; o != nil; o = o.GCHeader().Next() {
			h := o.GCHeader()
			if _, dup := seen[o]; dup {
				return fmt.Errorf("%s: %s@%p linked twice", l.name, h.Kind(), o)
			}
			seen[o] = struct{}{}
			if h.Released() {
				return fmt.Errorf("%s: released %s@%p still linked", l.name, h.Kind(), o)
			}
			total += uint64(h.Size())
		}
	}
	if total != c.usage {
		return fmt.Errorf("accounting: %s linked but %s in use",
			fmtBytes(total), fmtBytes(c.usage))
	}
	for o := c.finobj; o != nil; o = o.GCHeader().Next() {
		if _, ok := c.finalizers[o]; !ok {
			return fmt.Errorf("finobj: %s@%p has no finalizer", o.GCHeader().Kind(), o)
		}
	}
	for o := c.tobefnz; o != nil; o = o.GCHeader().Next() {
		if o.GCHeader().Finalized() {
			return fmt.Errorf("tobefnz: %s@%p already finalized", o.GCHeader().Kind(), o)
		}
	}
	switch c.phase {
	case Propagate, Atomic:
		return c.checkMarkInvariant(seen)
	case Pause:
		if len(c.gray) != 0 || len(c.grayAgain) != 0 {
			return fmt.Errorf("pause: %d gray and %d parked objects left over",
				len(c.gray), len(c.grayAgain))
		}
		for o := range seen {
			h := o.GCHeader()
			if h.White()&c.currentWhite == 0 {
				return fmt.Errorf("pause: %s@%p is not current white", h.Kind(), o)
			}
		}
	}
	return nil
}

// checkMarkInvariant verifies that no black object references a white
// one through a strong edge. Tables in a weak mode are skipped; their
// edges are not all strong and they stay gray in any case. Threads
// must not be black at all while the mutator can still run, since
// their stacks are written without barriers.
func (c *Collector) checkMarkInvariant(all map[heap.Object]struct{}) error {
	var err error
	for o := range all {
		h := o.GCHeader()
		if !h.IsBlack() {
			continue
		}
		if _, isThread := o.(*heap.Thread); isThread && c.phase == Propagate {
			return fmt.Errorf("propagate: thread@%p is black", o)
		}
		if t, isTable := o.(*heap.Table); isTable && t.WeakMode() != heap.WeakNone {
			continue
		}
		parent := o
		parent.ForEachChild(func(ch heap.Object) {
			if err == nil && ch != nil && ch.GCHeader().IsWhite() {
				err = fmt.Errorf("black %s@%p references white %s@%p",
					parent.GCHeader().Kind(), parent, ch.GCHeader().Kind(), ch)
			}
		})
		if err != nil {
			return err
		}
	}
	for _, o := range c.gray {
		if !o.GCHeader().IsGray() {
			return fmt.Errorf("gray worklist holds non-gray %s@%p", o.GCHeader().Kind(), o)
		}
	}
	for _, o := range c.grayAgain {
		if !o.GCHeader().IsGray() {
			return fmt.Errorf("rescan list holds non-gray %s@%p", o.GCHeader().Kind(), o)
		}
	}
	return nil
}

// checkpoint runs the validation pass when debug checks are on. A
// violation means the tracer or barrier logic is unsound, so without
// an error sink to report to it panics.
func (c *Collector) checkpoint() {
	if !c.cfg.DebugChecks {
		return
	}
	if err := c.CheckInvariants(); err != nil {
		if c.cfg.ErrorSink == nil {
			panic("gc: " + err.Error())
		}
		c.cfg.ErrorSink(err)
	}
}
