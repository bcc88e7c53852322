package gc

import (
	"fmt"
	"strings"

	"github.com/inhies/go-bytesize"
)

func fmtBytes(n uint64) string { return bytesize.ByteSize(n).String() }

// Stats counts collector activity since construction. All counters
// are cumulative; callers wanting per-interval numbers snapshot and
// subtract.
type Stats struct {
	Allocated      uint64
	AllocatedBytes uint64
	Freed          uint64
	FreedBytes     uint64

	CyclesCompleted      uint64
	FullCollections      uint64
	EmergencyCollections uint64
	AtomicPasses         uint64
	StepsTaken           uint64
	WorkDone             uint64

	ObjectsMarked    uint64
	ObjectsSwept     uint64
	ForwardBarriers  uint64
	BackwardBarriers uint64
	EphemeronPasses  uint64
	WeakCleared      uint64

	FinalizersRun   uint64
	FinalizerPanics uint64
}

// Merge folds another snapshot into this one for aggregate reporting.
func (s *Stats) Merge(o Stats) {
	s.Allocated += o.Allocated
	s.AllocatedBytes += o.AllocatedBytes
	s.Freed += o.Freed
	s.FreedBytes += o.FreedBytes
	s.CyclesCompleted += o.CyclesCompleted
	s.FullCollections += o.FullCollections
	s.EmergencyCollections += o.EmergencyCollections
	s.AtomicPasses += o.AtomicPasses
	s.StepsTaken += o.StepsTaken
	s.WorkDone += o.WorkDone
	s.ObjectsMarked += o.ObjectsMarked
	s.ObjectsSwept += o.ObjectsSwept
	s.ForwardBarriers += o.ForwardBarriers
	s.BackwardBarriers += o.BackwardBarriers
	s.EphemeronPasses += o.EphemeronPasses
	s.WeakCleared += o.WeakCleared
	s.FinalizersRun += o.FinalizersRun
	s.FinalizerPanics += o.FinalizerPanics
}

// Sub returns the difference between this snapshot and an earlier
// one.
func (s Stats) Sub(earlier Stats) Stats {
	return Stats{
		Allocated:            s.Allocated - earlier.Allocated,
		AllocatedBytes:       s.AllocatedBytes - earlier.AllocatedBytes,
		Freed:                s.Freed - earlier.Freed,
		FreedBytes:           s.FreedBytes - earlier.FreedBytes,
		CyclesCompleted:      s.CyclesCompleted - earlier.CyclesCompleted,
		FullCollections:      s.FullCollections - earlier.FullCollections,
		EmergencyCollections: s.EmergencyCollections - earlier.EmergencyCollections,
		AtomicPasses:         s.AtomicPasses - earlier.AtomicPasses,
		StepsTaken:           s.StepsTaken - earlier.StepsTaken,
		WorkDone:             s.WorkDone - earlier.WorkDone,
		ObjectsMarked:        s.ObjectsMarked - earlier.ObjectsMarked,
		ObjectsSwept:         s.ObjectsSwept - earlier.ObjectsSwept,
		ForwardBarriers:      s.ForwardBarriers - earlier.ForwardBarriers,
		BackwardBarriers:     s.BackwardBarriers - earlier.BackwardBarriers,
		EphemeronPasses:      s.EphemeronPasses - earlier.EphemeronPasses,
		WeakCleared:          s.WeakCleared - earlier.WeakCleared,
		FinalizersRun:        s.FinalizersRun - earlier.FinalizersRun,
		FinalizerPanics:      s.FinalizerPanics - earlier.FinalizerPanics,
	}
}

func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "allocated:       %d objects, %s\n",
		s.Allocated, bytesize.ByteSize(s.AllocatedBytes))
	fmt.Fprintf(&b, "freed:           %d objects, %s\n",
		s.Freed, bytesize.ByteSize(s.FreedBytes))
	fmt.Fprintf(&b, "cycles:          %d (%d full, %d emergency)\n",
		s.CyclesCompleted, s.FullCollections, s.EmergencyCollections)
	fmt.Fprintf(&b, "steps:           %d, %s of work\n",
		s.StepsTaken, bytesize.ByteSize(s.WorkDone))
	fmt.Fprintf(&b, "marked:          %d objects\n", s.ObjectsMarked)
	fmt.Fprintf(&b, "swept:           %d objects\n", s.ObjectsSwept)
	fmt.Fprintf(&b, "barriers:        %d forward, %d backward\n",
		s.ForwardBarriers, s.BackwardBarriers)
	fmt.Fprintf(&b, "ephemeron turns: %d\n", s.EphemeronPasses)
	fmt.Fprintf(&b, "weak cleared:    %d entries\n", s.WeakCleared)
	fmt.Fprintf(&b, "finalizers:      %d run, %d panicked",
		s.FinalizersRun, s.FinalizerPanics)
	return b.String()
}
