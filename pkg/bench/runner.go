package bench

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/inhies/go-bytesize"

	"violet_go/pkg/gc"
	"violet_go/pkg/heap"
)

// The runner plays a workload against a collector: a cooperative
// run queue of mutator tasks, each performing one quantum of heap
// mutation per turn and rescheduling itself. No OS threads; the
// mutator and the collector interleave exactly at the safe points the
// task code chooses, which is the deployment model the collector is
// built for.

// Runner drives one workload execution.
type Runner struct {
	spec  Workload
	col   *gc.Collector
	roots *heap.RootSet
	rng   *rand.Rand

	queue     []func()
	stepsLeft int

	ooms      int
	tableErrs int
	finalized int
	sinkErrs  []error
}

// Report summarizes a finished run.
type Report struct {
	Name      string
	Steps     int
	Duration  time.Duration
	Usage     uint64
	Live      uint64
	OOMs      int
	Finalized int
	SinkErrs  int
	Stats     gc.Stats
}

func (rep Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "workload %q: %d steps in %v\n", rep.Name, rep.Steps, rep.Duration)
	fmt.Fprintf(&b, "heap: %s in use, %s live after final collection\n",
		bytesize.ByteSize(rep.Usage), bytesize.ByteSize(rep.Live))
	fmt.Fprintf(&b, "oom: %d, finalized: %d, sink errors: %d\n",
		rep.OOMs, rep.Finalized, rep.SinkErrs)
	b.WriteString(rep.Stats.String())
	return b.String()
}

// Run executes the workload and returns its report.
func Run(w Workload) (Report, error) {
	if err := w.Validate(); err != nil {
		return Report{}, err
	}
	r := &Runner{
		spec:      w,
		roots:     heap.NewRootSet(),
		rng:       rand.New(rand.NewSource(w.Seed)),
		stepsLeft: w.Steps,
	}
	cfg := w.GC.Config()
	cfg.ErrorSink = func(err error) { r.sinkErrs = append(r.sinkErrs, err) }
	r.col = gc.New(cfg)
	r.col.SetRootProvider(r.roots)

	id := 0
	for _, spec := range w.Tasks {
		weight := spec.Weight
		if weight <= 0 {
			weight = 1
		}
		for i := 0; i < weight; i++ {
			r.queue = append(r.queue, r.makeTask(id, spec))
			id++
		}
	}

	start := time.Now()
	for r.stepsLeft > 0 && len(r.queue) > 0 {
		task := r.queue[0]
		r.queue = r.queue[1:]
		r.stepsLeft--
		task()
	}
	// Drop all roots and collect twice: the first cycle queues and
	// runs finalizers, the second reclaims anything they touched.
	r.roots.Clear()
	r.col.FullCollect()
	r.col.FullCollect()
	elapsed := time.Since(start)

	rep := Report{
		Name:      w.Name,
		Steps:     w.Steps - r.stepsLeft,
		Duration:  elapsed,
		Usage:     r.col.Usage(),
		Live:      r.col.LiveEstimate(),
		OOMs:      r.ooms,
		Finalized: r.finalized,
		SinkErrs:  len(r.sinkErrs),
		Stats:     r.col.Stats(),
	}
	r.col.Close()
	return rep, nil
}

// again reschedules a task for another quantum.
func (r *Runner) again(task func()) {
	if r.stepsLeft > 0 {
		r.queue = append(r.queue, task)
	}
}

func (r *Runner) makeTask(id int, spec TaskSpec) func() {
	switch spec.Kind {
	case "churn":
		return r.churnTask(id, spec)
	case "tree":
		return r.treeTask(id, spec)
	case "cache":
		return r.cacheTask(id, spec)
	case "registry":
		return r.registryTask(id, spec)
	case "stack":
		return r.stackTask(id, spec)
	case "finalize":
		return r.finalizeTask(id, spec)
	default:
		return func() {}
	}
}

// Mutator glue. Every store of an object reference into a tracked
// container goes through here so the write barrier and the size
// reaccounting happen at the right safe points.

func (r *Runner) alloc(o heap.Object) bool {
	if err := r.col.Alloc(o); err != nil {
		r.ooms++
		return false
	}
	return true
}

func (r *Runner) tableSet(t *heap.Table, k, v heap.Value) {
	if k.IsObject() {
		r.col.WriteBarrier(t, k)
	}
	if v.IsObject() {
		r.col.WriteBarrier(t, v)
	}
	if err := t.Set(k, v); err != nil {
		r.tableErrs++
		return
	}
	r.col.Reaccount(t)
}

func (r *Runner) tupleSet(t *heap.Tuple, i int, v heap.Value) {
	if v.IsObject() {
		r.col.WriteBarrier(t, v)
	}
	t.Set(i, v)
}

func (r *Runner) word() string {
	return fmt.Sprintf("w%05x", r.rng.Intn(1<<20))
}

func (r *Runner) newString() heap.Value {
	s := heap.NewString(r.word())
	if !r.alloc(s) {
		return heap.Nil
	}
	return heap.NewObject(s)
}

// churnTask allocates a short-lived cell chain each quantum. The
// previous chain becomes garbage the moment the root is overwritten.
func (r *Runner) churnTask(id int, spec TaskSpec) func() {
	name := fmt.Sprintf("churn-%d", id)
	depth := spec.Depth
	if depth <= 0 {
		depth = 8
	}
	var quantum func()
	quantum = func() {
		head := heap.Nil
		for i := 0; i < depth; i++ {
			c := heap.NewCell(r.newString(), head)
			if !r.alloc(c) {
				break
			}
			head = heap.NewObject(c)
		}
		r.roots.Set(name, head)
		r.again(quantum)
	}
	return quantum
}

// treeTask keeps a long-lived tuple tree and rewrites one random
// subtree per quantum, exercising the forward barrier on fixed-shape
// containers.
func (r *Runner) treeTask(id int, spec TaskSpec) func() {
	name := fmt.Sprintf("tree-%d", id)
	fanout, depth := spec.Fanout, spec.Depth
	if fanout <= 0 {
		fanout = 4
	}
	if depth <= 0 {
		depth = 3
	}
	var quantum func()
	quantum = func() {
		root := r.roots.Get(name)
		if root.IsNil() {
			r.roots.Set(name, r.buildTree(fanout, depth))
			r.again(quantum)
			return
		}
		node, ok := root.Obj.(*heap.Tuple)
		if !ok {
			r.again(quantum)
			return
		}
		// Walk down a random path and graft a fresh subtree.
		for d := depth; d > 1; d-- {
			child := node.Get(r.rng.Intn(fanout))
			next, isTuple := child.Obj.(*heap.Tuple)
			if !child.IsObject() || !isTuple {
				break
			}
			node = next
		}
		r.tupleSet(node, r.rng.Intn(fanout), r.buildTree(fanout, 1))
		r.again(quantum)
	}
	return quantum
}

func (r *Runner) buildTree(fanout, depth int) heap.Value {
	if depth <= 0 {
		return r.newString()
	}
	t := heap.NewTuple(fanout)
	if !r.alloc(t) {
		return heap.Nil
	}
	for i := 0; i < fanout; i++ {
		r.tupleSet(t, i, r.buildTree(fanout, depth-1))
	}
	return heap.NewObject(t)
}

// cacheTask maintains a weak-value table keyed by numbers. Values
// also enter a bounded hot ring that keeps the most recent ones
// strongly reachable; everything older is cleared by the collector.
func (r *Runner) cacheTask(id int, spec TaskSpec) func() {
	name := fmt.Sprintf("cache-%d", id)
	entries := spec.Entries
	if entries <= 0 {
		entries = 256
	}
	hotSize := entries / 8
	if hotSize < 4 {
		hotSize = 4
	}
	var quantum func()
	quantum = func() {
		cached := r.roots.Get(name)
		if cached.IsNil() {
			t := heap.NewTable(0, entries)
			t.SetWeakMode(heap.WeakValues)
			if !r.alloc(t) {
				r.again(quantum)
				return
			}
			hot := heap.NewTuple(hotSize)
			if !r.alloc(hot) {
				r.again(quantum)
				return
			}
			r.roots.Set(name, heap.NewObject(t))
			r.roots.Set(name+"-hot", heap.NewObject(hot))
			r.again(quantum)
			return
		}
		t := cached.Obj.(*heap.Table)
		hot := r.roots.Get(name + "-hot").Obj.(*heap.Tuple)
		key := heap.NewNumber(float64(r.rng.Intn(entries)))
		if v := t.Get(key); !v.IsNil() {
			// Hit: refresh the hot ring.
			r.tupleSet(hot, r.rng.Intn(hotSize), v)
		} else {
			val := heap.NewTuple(2)
			if !r.alloc(val) {
				r.again(quantum)
				return
			}
			r.tupleSet(val, 0, key)
			r.tupleSet(val, 1, r.newString())
			r.tableSet(t, key, heap.NewObject(val))
			r.tupleSet(hot, r.rng.Intn(hotSize), heap.NewObject(val))
		}
		r.again(quantum)
	}
	return quantum
}

// registryTask associates per-key data through an ephemeron table.
// Keys live in a rotating tuple ring; overwriting a ring slot kills
// the key and its entry together. Each value references its own key,
// the cycle that defeats plain weak-key tables.
func (r *Runner) registryTask(id int, spec TaskSpec) func() {
	name := fmt.Sprintf("registry-%d", id)
	entries := spec.Entries
	if entries <= 0 {
		entries = 128
	}
	ringSize := entries / 4
	if ringSize < 4 {
		ringSize = 4
	}
	slot := 0
	var quantum func()
	quantum = func() {
		reg := r.roots.Get(name)
		if reg.IsNil() {
			t := heap.NewTable(0, entries)
			t.SetWeakMode(heap.WeakEphemeron)
			if !r.alloc(t) {
				r.again(quantum)
				return
			}
			ring := heap.NewTuple(ringSize)
			if !r.alloc(ring) {
				r.again(quantum)
				return
			}
			r.roots.Set(name, heap.NewObject(t))
			r.roots.Set(name+"-ring", heap.NewObject(ring))
			r.again(quantum)
			return
		}
		t := reg.Obj.(*heap.Table)
		ring := r.roots.Get(name + "-ring").Obj.(*heap.Tuple)
		key := heap.NewCell(r.newString(), heap.Nil)
		if !r.alloc(key) {
			r.again(quantum)
			return
		}
		val := heap.NewTuple(2)
		if !r.alloc(val) {
			r.again(quantum)
			return
		}
		kv := heap.NewObject(key)
		r.tupleSet(val, 0, kv)
		r.tupleSet(val, 1, r.newString())
		r.tableSet(t, kv, heap.NewObject(val))
		r.tupleSet(ring, slot%ringSize, kv)
		slot++
		r.again(quantum)
	}
	return quantum
}

// stackTask churns a thread stack: barrier-free pushes and pops, with
// reaccounting when the stack grows.
func (r *Runner) stackTask(id int, spec TaskSpec) func() {
	name := fmt.Sprintf("stack-%d", id)
	slots := spec.Slots
	if slots <= 0 {
		slots = 64
	}
	var quantum func()
	quantum = func() {
		tv := r.roots.Get(name)
		if tv.IsNil() {
			th := heap.NewThread(8)
			if !r.alloc(th) {
				r.again(quantum)
				return
			}
			th.Status = heap.ThreadRunning
			r.roots.Set(name, heap.NewObject(th))
			r.again(quantum)
			return
		}
		th := tv.Obj.(*heap.Thread)
		if th.Top() >= slots || (th.Top() > 0 && r.rng.Intn(4) == 0) {
			for i := r.rng.Intn(th.Top()) + 1; i > 0 && th.Top() > 0; i-- {
				th.Pop()
			}
		} else {
			th.Push(r.newString())
			if r.rng.Intn(2) == 0 {
				c := heap.NewCell(r.newString(), heap.Nil)
				if r.alloc(c) {
					th.Push(heap.NewObject(c))
				}
			}
			r.col.Reaccount(th)
		}
		r.again(quantum)
	}
	return quantum
}

// finalizeTask allocates doomed objects with finalizers and counts
// how many of them the collector eventually runs.
func (r *Runner) finalizeTask(id int, spec TaskSpec) func() {
	var quantum func()
	quantum = func() {
		c := heap.NewCell(r.newString(), heap.Nil)
		if r.alloc(c) {
			_ = r.col.RegisterFinalizer(c, func(heap.Object) {
				r.finalized++
			})
		}
		r.again(quantum)
	}
	return quantum
}
