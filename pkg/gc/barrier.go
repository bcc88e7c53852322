package gc

import "violet_go/pkg/heap"

// WriteBarrier upholds the marking invariant for a store of value
// into container. It must be called at the safe point of any store
// that may create a reference from a scanned object, and it is only
// live while marking is in progress; outside of propagation it
// returns immediately.
//
// Two strategies exist. The forward barrier marks the stored value,
// pushing the wavefront ahead; it suits fixed-shape objects that are
// written rarely. The backward barrier instead demotes the container
// to gray and queues it for one rescan in the atomic pass; it suits
// tables, which take bursts of writes that would otherwise trigger
// one mark per store. Thread stack writes never need this call, but
// a thread passed here takes the backward path as well.
func (c *Collector) WriteBarrier(container heap.Object, value heap.Value) {
	if c.phase != Propagate || container == nil || !value.IsObject() {
		return
	}
	h := container.GCHeader()
	if !h.IsBlack() {
		// Gray and white containers will be, or have a chance to
		// be, scanned anyway.
		return
	}
	if !value.Obj.GCHeader().IsWhite() {
		return
	}
	switch container.(type) {
	case *heap.Table, *heap.Thread:
		h.SetGray()
		c.grayAgain = append(c.grayAgain, container)
		c.stats.BackwardBarriers++
	default:
		c.markObject(value.Obj)
		c.stats.ForwardBarriers++
	}
}
