// Package gc implements an incremental tri-color mark and sweep
// collector for heap objects.
//
// A collection cycle moves through five phases. PAUSE is the resting
// state between cycles. PROPAGATE marks reachable objects a bounded
// amount at a time, interleaved with mutator execution; the write
// barrier keeps the marking consistent across mutator stores. ATOMIC
// runs once per cycle without mutator interleaving: it re-marks the
// roots, drains the remaining work, resolves weak references and
// ephemerons, separates dead finalizable objects, and flips the
// current white. SWEEP walks the object lists a chunk at a time,
// reclaiming dead objects and recoloring survivors for the next
// cycle. CALLFINALIZERS drains the finalization queue a few objects
// per step, then the collector returns to PAUSE.
//
// Work is measured in bytes and paid for by allocation debt: every
// allocated byte adds a byte of debt, and once debt crosses the step
// threshold the collector runs StepMultiplier bytes of work per byte
// owed. Between cycles the collector stays in PAUSE until the heap
// grows past PauseMultiplier times the live estimate of the previous
// cycle.
package gc

import (
	"errors"
	"fmt"

	"github.com/inhies/go-bytesize"

	"violet_go/pkg/heap"
)

// Phase is the collector's position in the cycle.
type Phase uint8

const (
	Pause Phase = iota
	Propagate
	Atomic
	Sweep
	CallFinalizers
)

func (p Phase) String() string {
	switch p {
	case Pause:
		return "pause"
	case Propagate:
		return "propagate"
	case Atomic:
		return "atomic"
	case Sweep:
		return "sweep"
	case CallFinalizers:
		return "callfinalizers"
	default:
		return "unknown"
	}
}

// CycleStatus is the result of a collection step.
type CycleStatus uint8

const (
	// InProgress means the cycle has more work to do.
	InProgress CycleStatus = iota
	// CycleComplete means the step finished a cycle and the
	// collector is back in PAUSE.
	CycleComplete
)

func (s CycleStatus) String() string {
	if s == CycleComplete {
		return "complete"
	}
	return "in-progress"
}

// ErrOutOfMemory is returned by Alloc when the heap limit is exceeded
// even after an emergency full collection.
var ErrOutOfMemory = errors.New("out of memory")

// RootProvider enumerates the mutator's root references. The
// collector calls it once when a cycle starts and once more in the
// atomic pass.
type RootProvider interface {
	ForEachRoot(visit func(heap.Object))
}

// FinalizerFn runs when a dead object's finalization turn comes. It
// may allocate and may store the object somewhere reachable; whether
// that store resurrects the object is governed by ResurrectFinalized.
type FinalizerFn func(obj heap.Object)

// Config tunes the collector. The zero value of any field selects its
// default.
type Config struct {
	// PauseMultiplier controls how much the heap may grow over the
	// live estimate before a new cycle starts. Default 2.0.
	PauseMultiplier float64
	// StepMultiplier is the bytes of collection work done per byte
	// of allocation debt. Larger is more eager. Default 2.0.
	StepMultiplier float64
	// StepSize is the debt in bytes that triggers an automatic
	// step. Default 8 KiB.
	StepSize int64
	// SweepChunkSize bounds the objects examined per sweep step.
	// Default 64.
	SweepChunkSize int
	// FinalizersPerStep bounds finalizer calls per step. Default 4.
	FinalizersPerStep int
	// HeapLimit caps accounted bytes; zero means unlimited.
	HeapLimit bytesize.ByteSize
	// ResurrectFinalized returns finalized objects to the ordinary
	// object list instead of reclaiming them, so a finalizer that
	// stored its object somewhere reachable keeps it alive. When
	// false the object is reclaimed as soon as its finalizer
	// returns.
	ResurrectFinalized bool
	// DebugChecks enables internal consistency checking on the
	// allocation and step paths.
	DebugChecks bool
	// ErrorSink receives finalizer panics and debug check
	// failures. With no sink, finalizer panics are dropped and a
	// debug check failure panics.
	ErrorSink func(error)
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		PauseMultiplier:   2.0,
		StepMultiplier:    2.0,
		StepSize:          8 << 10,
		SweepChunkSize:    64,
		FinalizersPerStep: 4,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PauseMultiplier <= 0 {
		c.PauseMultiplier = d.PauseMultiplier
	}
	if c.StepMultiplier <= 0 {
		c.StepMultiplier = d.StepMultiplier
	}
	if c.StepSize <= 0 {
		c.StepSize = d.StepSize
	}
	if c.SweepChunkSize <= 0 {
		c.SweepChunkSize = d.SweepChunkSize
	}
	if c.FinalizersPerStep <= 0 {
		c.FinalizersPerStep = d.FinalizersPerStep
	}
	return c
}

// Collector owns the object lists, the marking state and the pacing
// counters. It is not safe for concurrent use; the mutator and the
// collector share one thread and interleave at safe points.
type Collector struct {
	cfg      Config
	provider RootProvider

	phase        Phase
	currentWhite uint8

	// Object lists. allgc holds ordinary objects, finobj holds
	// live objects with a registered finalizer, tobefnz holds
	// objects queued for finalization in FIFO order.
	allgc       heap.Object
	finobj      heap.Object
	tobefnz     heap.Object
	tobefnzTail heap.Object

	finalizers map[heap.Object]FinalizerFn

	// Marking work. gray is the main worklist; grayAgain holds
	// objects demoted by the backward barrier and objects parked
	// for a single rescan in the atomic pass.
	gray      []heap.Object
	grayAgain []heap.Object

	// Weak table registries, rebuilt during each atomic pass.
	weakValues []*heap.Table
	weakKeys   []*heap.Table
	ephemerons []*heap.Table

	// Sweep cursor: the address of the link whose target is the
	// next object to examine. sweepList indexes allgc, finobj and
	// tobefnz in that order.
	sweepCur  *heap.Object
	sweepList int

	// Pacing state, all in bytes.
	usage     uint64
	debt      int64
	estimate  uint64
	threshold uint64

	// stepping guards against reentrant collection from finalizers
	// and from allocations they make.
	stepping  bool
	emergency bool

	stats Stats
}

// New builds a collector with the given configuration.
func New(cfg Config) *Collector {
	c := &Collector{
		cfg:          cfg.withDefaults(),
		currentWhite: heap.WhiteA,
		finalizers:   make(map[heap.Object]FinalizerFn),
	}
	// The first cycle triggers once the heap has grown one step's
	// worth from empty.
	c.threshold = uint64(c.cfg.StepSize)
	return c
}

// SetRootProvider installs the root enumerator. Changing providers
// mid-cycle is allowed; the atomic re-mark reads the current one.
func (c *Collector) SetRootProvider(p RootProvider) { c.provider = p }

// Phase returns the collector's current phase.
func (c *Collector) Phase() Phase { return c.phase }

// Usage returns the accounted heap size in bytes.
func (c *Collector) Usage() uint64 { return c.usage }

// LiveEstimate returns the accounted live bytes measured at the end
// of the last completed sweep.
func (c *Collector) LiveEstimate() uint64 { return c.estimate }

// Debt returns the outstanding allocation debt in bytes.
func (c *Collector) Debt() int64 { return c.debt }

// Stats returns a snapshot of the collector's counters.
func (c *Collector) Stats() Stats { return c.stats }

func (c *Collector) otherWhite() uint8 {
	return c.currentWhite ^ heap.WhiteBits
}

// isDead reports whether an object carries the non-current white.
// Only meaningful after a flip, during sweeping.
func (c *Collector) isDead(h *heap.Header) bool {
	return h.White()&c.otherWhite() != 0
}

// Alloc begins tracking an object the mutator constructed. The header
// is stamped with the current white, the object joins the ordinary
// list, and its accounted size is added to usage and debt. When a
// heap limit is set and would be exceeded, an emergency full
// collection runs first; if the limit still cannot accommodate the
// object, Alloc returns ErrOutOfMemory and the object stays
// untracked.
//
// Allocation debt can run collection work, up to a whole cycle, before
// Alloc returns. An object with no path from a root must be pinned
// first or that cycle may reclaim it.
func (c *Collector) Alloc(obj heap.Object) error {
	if obj == nil {
		return fmt.Errorf("alloc: nil object")
	}
	h := obj.GCHeader()
	if c.cfg.DebugChecks && (h.White() != 0 || h.IsBlack()) {
		err := fmt.Errorf("alloc: %s@%p already tracked", h.Kind(), obj)
		c.sinkError(err)
		return err
	}
	size := uint64(obj.AccountedSize())
	if limit := uint64(c.cfg.HeapLimit); limit > 0 && c.usage+size > limit {
		c.emergencyCollect()
		if c.usage+size > limit {
			return fmt.Errorf("alloc %s of %s with %s in use: %w",
				h.Kind(), bytesize.ByteSize(size), bytesize.ByteSize(c.usage), ErrOutOfMemory)
		}
	}
	h.SetWhite(c.currentWhite)
	h.SetSize(uintptr(size))
	h.SetNext(c.allgc)
	c.allgc = obj
	c.usage += size
	c.debt += int64(size)
	c.stats.Allocated++
	c.stats.AllocatedBytes += size
	c.autoStep()
	return nil
}

// Reaccount re-reads an object's accounted size after the mutator
// grew or shrank its payload, and adjusts usage and debt by the
// difference. Growth counts as allocation for pacing purposes.
func (c *Collector) Reaccount(obj heap.Object) {
	h := obj.GCHeader()
	old := uint64(h.Size())
	now := uint64(obj.AccountedSize())
	if now == old {
		return
	}
	h.SetSize(uintptr(now))
	if now > old {
		delta := now - old
		c.usage += delta
		c.debt += int64(delta)
		c.stats.AllocatedBytes += delta
		c.autoStep()
		return
	}
	c.usage -= old - now
}

// RegisterFinalizer arranges for fn to run once when obj becomes
// unreachable. The object moves from the ordinary list to the
// finalizable list; registering again before the finalizer runs just
// replaces fn. An object whose finalizer has already run is never
// queued again, so late registration is ignored.
func (c *Collector) RegisterFinalizer(obj heap.Object, fn FinalizerFn) error {
	if obj == nil {
		return fmt.Errorf("register finalizer: nil object")
	}
	if fn == nil {
		return fmt.Errorf("register finalizer: nil finalizer")
	}
	h := obj.GCHeader()
	if h.Finalized() {
		return nil
	}
	if _, ok := c.finalizers[obj]; ok {
		c.finalizers[obj] = fn
		return nil
	}
	// Unlink from allgc. If the sweep cursor sits inside the object
	// being moved, retarget it at the link that pointed to the
	// object, which after the unlink points to the object's
	// successor.
	link := &c.allgc
	for *link != nil && *link != obj {
		link = (*link).GCHeader().NextLink()
	}
	if *link == nil {
		return fmt.Errorf("register finalizer: %s@%p not tracked", h.Kind(), obj)
	}
	if c.phase == Sweep && c.sweepList == 0 && c.sweepCur == h.NextLink() {
		c.sweepCur = link
	}
	*link = h.Next()
	if c.isDead(h) {
		h.SetWhite(c.currentWhite)
	}
	h.SetNext(c.finobj)
	c.finobj = obj
	c.finalizers[obj] = fn
	return nil
}

// Step runs collection work worth at most budget bytes. A budget of
// zero or less uses the configured step size. Calling Step while the
// collector is paused starts a new cycle immediately.
func (c *Collector) Step(budget int) CycleStatus {
	if c.stepping {
		return InProgress
	}
	c.stepping = true
	defer func() { c.stepping = false }()
	if budget <= 0 {
		budget = int(c.cfg.StepSize)
	}
	remaining := int64(budget)
	for {
		w := c.singleStep()
		remaining -= int64(w)
		if c.phase == Pause {
			return CycleComplete
		}
		if remaining <= 0 {
			return InProgress
		}
	}
}

// FullCollect runs one complete collection cycle without mutator
// interleaving. A cycle caught mid-propagation is abandoned first:
// the partial mark is dropped and a reclaim-free sweep resets every
// color, which is sound because the white flip has not happened yet.
// A cycle caught sweeping or finalizing is finished first. Finalizers
// for objects that died in the cycle run before FullCollect returns.
func (c *Collector) FullCollect() {
	if c.stepping {
		return
	}
	c.stepping = true
	defer func() { c.stepping = false }()
	c.fullCycle()
	c.stats.FullCollections++
}

// Close tears the heap down the way a runtime shutdown does: every
// object with a registered finalizer is finalized regardless of
// reachability, then every tracked object is released. The collector
// ends empty and paused and may be reused; references the embedder
// still holds point at released husks.
func (c *Collector) Close() {
	c.stepping = true
	defer func() { c.stepping = false }()
	c.gray = c.gray[:0]
	c.grayAgain = c.grayAgain[:0]
	c.resetWeakLists()
	c.sweepCur = nil
	c.sweepList = 0
	// Finalizers may allocate and may register more finalizers, so
	// this loops until the finalizable list stays empty. Anything
	// they allocate lands on allgc and is released with the rest
	// below.
	for c.finobj != nil || c.tobefnz != nil {
		for c.finobj != nil {
			o := c.finobj
			c.finobj = o.GCHeader().Next()
			c.queueFinalize(o)
		}
		for c.tobefnz != nil {
			c.finalizeOne()
		}
	}
	for c.allgc != nil {
		o := c.allgc
		c.allgc = o.GCHeader().Next()
		c.reclaim(o)
	}
	c.phase = Pause
	c.debt = 0
	c.estimate = 0
	c.threshold = uint64(c.cfg.StepSize)
	c.checkpoint()
}

// emergencyCollect is the allocation-failure path: a full cycle that
// skips finalizer execution, since finalizers may allocate. The
// finalization queue survives for the next ordinary cycle.
func (c *Collector) emergencyCollect() {
	if c.stepping {
		return
	}
	c.stepping = true
	c.emergency = true
	defer func() {
		c.stepping = false
		c.emergency = false
	}()
	c.fullCycle()
	c.stats.EmergencyCollections++
}

func (c *Collector) fullCycle() {
	switch c.phase {
	case Propagate:
		c.abandonCycle()
	case Sweep, CallFinalizers:
		for c.phase != Pause {
			c.singleStep()
		}
	}
	c.startCycle()
	for c.phase != Pause {
		c.singleStep()
	}
}

// abandonCycle drops a partial mark. No object carries the non-current
// white before the flip, so the sweep reclaims nothing and only resets
// colors. Queued finalizations are kept for the cycle that follows.
func (c *Collector) abandonCycle() {
	c.gray = c.gray[:0]
	c.grayAgain = c.grayAgain[:0]
	c.resetWeakLists()
	c.enterSweep()
	for c.phase == Sweep {
		c.sweepStep()
	}
	c.phase = Pause
}

// singleStep advances the phase machine by one unit and returns the
// work done in bytes.
func (c *Collector) singleStep() int {
	c.stats.StepsTaken++
	var w int
	switch c.phase {
	case Pause:
		w = c.startCycle()
	case Propagate:
		if len(c.gray) > 0 {
			w = c.propagateStep()
		} else {
			w = c.atomic()
		}
	case Sweep:
		w = c.sweepStep()
	case CallFinalizers:
		w = c.finalizeStep()
	}
	c.stats.WorkDone += uint64(w)
	return w
}

// startCycle moves PAUSE to PROPAGATE: worklists are cleared, debt
// restarts, and every root is marked gray.
func (c *Collector) startCycle() int {
	c.gray = c.gray[:0]
	c.grayAgain = c.grayAgain[:0]
	c.resetWeakLists()
	c.phase = Propagate
	c.debt = 0
	return c.markRoots()
}

func (c *Collector) markRoots() int {
	n := 0
	if c.provider != nil {
		c.provider.ForEachRoot(func(o heap.Object) {
			if o != nil {
				c.markObject(o)
				n++
			}
		})
	}
	return n * slotCost
}

// setPause computes the heap size that triggers the next cycle and
// rests. The threshold never sits closer than one step above the
// estimate, so tiny heaps do not collect continuously.
func (c *Collector) setPause() {
	c.phase = Pause
	c.debt = 0
	t := uint64(float64(c.estimate) * c.cfg.PauseMultiplier)
	if min := c.estimate + uint64(c.cfg.StepSize); t < min {
		t = min
	}
	c.threshold = t
}

// autoStep runs collection work owed by allocation debt. In PAUSE a
// new cycle starts only once usage crosses the pause threshold.
func (c *Collector) autoStep() {
	if c.stepping {
		return
	}
	if c.phase == Pause {
		if c.usage < c.threshold {
			return
		}
		c.stepping = true
		defer func() { c.stepping = false }()
		c.startCycle()
		c.runDebt()
		return
	}
	if c.debt < c.cfg.StepSize {
		return
	}
	c.stepping = true
	defer func() { c.stepping = false }()
	c.runDebt()
}

// runDebt converts outstanding debt into work at the configured
// multiplier and pays the debt down by the work actually done.
func (c *Collector) runDebt() {
	budget := int64(float64(c.debt) * c.cfg.StepMultiplier)
	if budget < c.cfg.StepSize {
		budget = c.cfg.StepSize
	}
	done := int64(0)
	for budget > 0 && c.phase != Pause {
		w := int64(c.singleStep())
		budget -= w
		done += w
	}
	paid := int64(float64(done) / c.cfg.StepMultiplier)
	if paid >= c.debt {
		c.debt = 0
	} else {
		c.debt -= paid
	}
}

func (c *Collector) resetWeakLists() {
	c.weakValues = c.weakValues[:0]
	c.weakKeys = c.weakKeys[:0]
	c.ephemerons = c.ephemerons[:0]
}

func (c *Collector) sinkError(err error) {
	if c.cfg.ErrorSink != nil {
		c.cfg.ErrorSink(err)
	}
}

// Work cost constants, in bytes of deemed effort.
const (
	slotCost     = 16
	sweepCost    = 32
	finalizeCost = 256
)
