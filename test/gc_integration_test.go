// End-to-end scenarios that drive the collector the way an embedding
// runtime would: through Alloc, write barriers, root sets, and the
// public stepping API only.
package test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/inhies/go-bytesize"

	"violet_go/pkg/bench"
	"violet_go/pkg/gc"
	"violet_go/pkg/heap"
)

// session wires a collector to a root set plus a scratch thread that
// stands in for an evaluation stack. Freshly made objects are pushed
// on the scratch stack before they are handed to Alloc, so a cycle
// triggered by the allocation itself cannot sweep them while the
// caller is still wiring them into the graph.
type session struct {
	t       *testing.T
	col     *gc.Collector
	roots   *heap.RootSet
	scratch *heap.Thread
}

func newSession(t *testing.T, cfg gc.Config) *session {
	t.Helper()
	cfg.DebugChecks = true
	if cfg.ErrorSink == nil {
		cfg.ErrorSink = func(err error) { t.Errorf("collector: %v", err) }
	}
	s := &session{t: t, col: gc.New(cfg), roots: heap.NewRootSet()}
	s.col.SetRootProvider(s.roots)
	s.scratch = heap.NewThread(96)
	s.roots.Pin(s.scratch)
	if err := s.col.Alloc(s.scratch); err != nil {
		t.Fatalf("alloc scratch thread: %v", err)
	}
	return s
}

func (s *session) track(obj heap.Object) heap.Object {
	s.t.Helper()
	s.scratch.Push(heap.NewObject(obj))
	if err := s.col.Alloc(obj); err != nil {
		s.t.Fatalf("alloc %s: %v", obj.GCHeader().Kind(), err)
	}
	return obj
}

func (s *session) drop(n int) {
	for i := 0; i < n; i++ {
		s.scratch.Pop()
	}
}

func (s *session) setField(tup *heap.Tuple, i int, v heap.Value) {
	s.col.WriteBarrier(tup, v)
	tup.Set(i, v)
}

func (s *session) setEntry(tab *heap.Table, k, v heap.Value) {
	s.t.Helper()
	s.col.WriteBarrier(tab, k)
	s.col.WriteBarrier(tab, v)
	if err := tab.Set(k, v); err != nil {
		s.t.Fatalf("table set: %v", err)
	}
	s.col.Reaccount(tab)
}

func (s *session) check() {
	s.t.Helper()
	if err := s.col.CheckInvariants(); err != nil {
		s.t.Fatalf("invariant check: %v", err)
	}
}

func (s *session) stepUntil(cond func() bool) {
	s.t.Helper()
	for i := 0; i < 100000; i++ {
		if cond() {
			return
		}
		s.col.Step(1)
	}
	s.t.Fatalf("collector made no progress after 100000 steps (phase %s)", s.col.Phase())
}

func (s *session) finishCycle() {
	s.t.Helper()
	for i := 0; i < 100000; i++ {
		if s.col.Step(512) == gc.CycleComplete {
			return
		}
	}
	s.t.Fatalf("cycle did not complete")
}

// TestRegistryAndCacheLifecycle plays out a small object system: a
// strong registry of users, a weak-valued cache keyed by name, and
// finalizers on a handful of them. Collection during the build is
// automatic; the pacer decides when to run.
func TestRegistryAndCacheLifecycle(t *testing.T) {
	s := newSession(t, gc.Config{StepSize: 2048})

	registry := s.track(heap.NewTable(0, 0)).(*heap.Table)
	s.roots.Set("registry", heap.NewObject(registry))
	s.drop(1)

	cache := heap.NewTable(0, 0)
	cache.SetWeakMode(heap.WeakValues)
	s.track(cache)
	s.roots.Set("cache", heap.NewObject(cache))
	s.drop(1)

	var ran []string
	record := func(obj heap.Object) {
		u := obj.(*heap.Tuple)
		ran = append(ran, u.Get(0).Obj.(*heap.String).Val)
	}

	for i := 0; i < 500; i++ {
		name := s.track(heap.NewString(fmt.Sprintf("user-%04d", i))).(*heap.String)
		user := s.track(heap.NewTuple(2)).(*heap.Tuple)
		s.setField(user, 0, heap.NewObject(name))
		s.setField(user, 1, heap.NewNumber(float64(i)))
		s.setEntry(registry, heap.NewNumber(float64(i)), heap.NewObject(user))
		s.setEntry(cache, heap.NewObject(name), heap.NewObject(user))
		if i < 10 {
			if err := s.col.RegisterFinalizer(user, record); err != nil {
				t.Fatalf("register finalizer: %v", err)
			}
		}
		s.drop(2)
		if i%100 == 99 {
			s.col.Step(256)
		}
	}
	s.check()

	for i := 0; i < 500; i += 2 {
		s.setEntry(registry, heap.NewNumber(float64(i)), heap.Nil)
	}
	s.col.FullCollect()
	s.check()

	if got := registry.Count(); got != 250 {
		t.Errorf("registry entries after deleting evens: expected 250, got %d", got)
	}
	if got := cache.Count(); got != 250 {
		t.Errorf("cache entries after collection: expected 250, got %d", got)
	}
	wantFirst := []string{"user-0008", "user-0006", "user-0004", "user-0002", "user-0000"}
	if len(ran) != len(wantFirst) {
		t.Fatalf("finalizers run: expected %d, got %d (%v)", len(wantFirst), len(ran), ran)
	}
	for i, name := range wantFirst {
		if ran[i] != name {
			t.Errorf("finalizer order at %d: expected %s, got %s", i, name, ran[i])
		}
	}
	if got := s.col.Stats().FinalizersRun; got != 5 {
		t.Errorf("FinalizersRun: expected 5, got %d", got)
	}
	if got := s.col.Stats().WeakCleared; got != 250 {
		t.Errorf("WeakCleared: expected 250, got %d", got)
	}

	v := registry.Get(heap.NewNumber(251))
	if !v.IsObject() {
		t.Fatalf("survivor 251 missing from registry")
	}
	u := v.Obj.(*heap.Tuple)
	if got := u.Get(0).Obj.(*heap.String).Val; got != "user-0251" {
		t.Errorf("survivor name: expected user-0251, got %s", got)
	}
	if got := cache.Get(u.Get(0)); got.Obj != heap.Object(u) {
		t.Errorf("cache lookup by surviving name returned %v", got)
	}

	s.roots.Clear()
	s.col.FullCollect()
	s.col.FullCollect()
	if got := s.col.Usage(); got != 0 {
		t.Errorf("usage after dropping all roots: expected 0, got %d", got)
	}
	wantAll := append(wantFirst,
		"user-0009", "user-0007", "user-0005", "user-0003", "user-0001")
	if len(ran) != len(wantAll) {
		t.Fatalf("finalizers after teardown: expected %d, got %d (%v)", len(wantAll), len(ran), ran)
	}
	for i, name := range wantAll {
		if ran[i] != name {
			t.Errorf("teardown finalizer order at %d: expected %s, got %s", i, name, ran[i])
		}
	}
	s.check()
}

// TestIncrementalCycleWithConcurrentMutation edits the graph in the
// middle of a marking cycle: a store under a black tuple, a store
// under a black table, and a ring rewired so that a stretch of it
// goes unreachable. The first cycle may keep the orphaned stretch as
// floating garbage; the next full collection must not.
func TestIncrementalCycleWithConcurrentMutation(t *testing.T) {
	s := newSession(t, gc.Config{StepSize: 1 << 20})

	nodes := make([]*heap.Tuple, 64)
	for i := range nodes {
		nodes[i] = s.track(heap.NewTuple(2)).(*heap.Tuple)
	}
	for i, n := range nodes {
		s.setField(n, 0, heap.NewObject(nodes[(i+1)%len(nodes)]))
	}
	s.roots.Set("ring", heap.NewObject(nodes[0]))

	index := s.track(heap.NewTable(0, 0)).(*heap.Table)
	for _, i := range []int{0, 15, 30, 45} {
		s.setEntry(index, heap.NewNumber(float64(i)), heap.NewObject(nodes[i]))
	}
	s.roots.Set("index", heap.NewObject(index))
	s.drop(len(nodes) + 1)

	s.stepUntil(func() bool { return s.col.Phase() == gc.Propagate })
	s.stepUntil(func() bool {
		return nodes[0].GCHeader().IsBlack() && index.GCHeader().IsBlack()
	})
	if s.col.Phase() != gc.Propagate {
		t.Fatalf("expected to still be marking, phase is %s", s.col.Phase())
	}

	before := s.col.Stats()

	payload := s.track(heap.NewString("stored under a black tuple")).(*heap.String)
	s.setField(nodes[0], 1, heap.NewObject(payload))
	s.drop(1)

	entry := s.track(heap.NewCell(heap.NewNumber(99), heap.Nil)).(*heap.Cell)
	s.setEntry(index, heap.NewNumber(99), heap.NewObject(entry))
	s.drop(1)

	// Bridge 30 directly to 45, orphaning 31..44.
	s.setField(nodes[30], 0, heap.NewObject(nodes[45]))

	after := s.col.Stats()
	if got := after.ForwardBarriers - before.ForwardBarriers; got < 1 {
		t.Errorf("forward barriers during mutation: expected at least 1, got %d", got)
	}
	if got := after.BackwardBarriers - before.BackwardBarriers; got != 1 {
		t.Errorf("backward barriers during mutation: expected 1, got %d", got)
	}

	s.finishCycle()
	s.check()
	if payload.Released() {
		t.Errorf("store under a black tuple was lost by the in-flight cycle")
	}
	if entry.Released() {
		t.Errorf("store under a black table was lost by the in-flight cycle")
	}

	s.col.FullCollect()
	s.check()
	for i, n := range nodes {
		wantDead := i >= 31 && i <= 44
		if got := n.GCHeader().Released(); got != wantDead {
			t.Errorf("node %d: released=%v, expected %v", i, got, wantDead)
		}
	}
	if payload.Released() || entry.Released() {
		t.Errorf("mid-cycle stores did not survive the follow-up collection")
	}

	s.roots.Clear()
	s.col.FullCollect()
	if got := s.col.Usage(); got != 0 {
		t.Errorf("usage after dropping all roots: expected 0, got %d", got)
	}
}

// TestHeapLimitedSession fills a bounded heap until allocation fails,
// then frees room and allocates again.
func TestHeapLimitedSession(t *testing.T) {
	s := newSession(t, gc.Config{
		StepSize:  4096,
		HeapLimit: bytesize.ByteSize(64 << 10),
	})

	box := s.track(heap.NewTable(0, 0)).(*heap.Table)
	s.roots.Set("box", heap.NewObject(box))
	s.drop(1)

	payload := strings.Repeat("x", 8000)
	stored := 0
	failed := false
	for i := 0; i < 20; i++ {
		str := heap.NewString(payload)
		s.roots.Pin(str)
		if err := s.col.Alloc(str); err != nil {
			s.roots.Unpin(str)
			if !errors.Is(err, gc.ErrOutOfMemory) {
				t.Fatalf("expected ErrOutOfMemory, got %v", err)
			}
			failed = true
			break
		}
		s.setEntry(box, heap.NewNumber(float64(i)), heap.NewObject(str))
		s.roots.Unpin(str)
		stored++
	}
	if !failed {
		t.Fatalf("20 x 8000 byte strings fit under a 64KB limit")
	}
	if stored < 4 {
		t.Errorf("expected at least 4 strings to fit, got %d", stored)
	}
	if got := s.col.Stats().EmergencyCollections; got < 1 {
		t.Errorf("EmergencyCollections: expected at least 1, got %d", got)
	}
	s.check()

	for i := 0; i < stored; i += 2 {
		s.setEntry(box, heap.NewNumber(float64(i)), heap.Nil)
	}
	s.col.FullCollect()

	str := heap.NewString(payload)
	s.roots.Pin(str)
	if err := s.col.Alloc(str); err != nil {
		t.Fatalf("alloc after freeing room: %v", err)
	}
	s.roots.Unpin(str)

	s.roots.Clear()
	s.col.FullCollect()
	if got := s.col.Usage(); got != 0 {
		t.Errorf("usage after dropping all roots: expected 0, got %d", got)
	}
}

// TestWorkloadScenarios runs declarative workloads end to end and
// checks the reports they settle to.
func TestWorkloadScenarios(t *testing.T) {
	base := func(name string) bench.Workload {
		return bench.Workload{
			Name:  name,
			Seed:  11,
			Steps: 1500,
			GC:    bench.GCSpec{DebugChecks: true},
		}
	}
	cases := []struct {
		name  string
		build func() bench.Workload
		check func(t *testing.T, rep bench.Report)
	}{
		{
			name: "churn mix settles to an empty heap",
			build: func() bench.Workload {
				w := base("churn-mix")
				w.Tasks = []bench.TaskSpec{
					{Kind: "churn", Weight: 3, Depth: 8},
					{Kind: "tree", Weight: 2, Depth: 4, Fanout: 3},
					{Kind: "stack", Weight: 1, Slots: 32, Depth: 8},
				}
				return w
			},
			check: func(t *testing.T, rep bench.Report) {
				if rep.Stats.Freed == 0 {
					t.Errorf("expected churn to free objects, freed none")
				}
				if rep.Stats.CyclesCompleted < 1 {
					t.Errorf("expected at least one completed cycle")
				}
			},
		},
		{
			name: "weak caches clear dead entries",
			build: func() bench.Workload {
				w := base("weak-cache")
				w.Tasks = []bench.TaskSpec{
					{Kind: "cache", Weight: 3, Entries: 64},
					{Kind: "churn", Weight: 1, Depth: 4},
				}
				return w
			},
			check: func(t *testing.T, rep bench.Report) {
				if rep.Stats.WeakCleared == 0 {
					t.Errorf("expected weak entries to be cleared, none were")
				}
			},
		},
		{
			name: "finalizers all run by settle",
			build: func() bench.Workload {
				w := base("finalize-mix")
				w.Tasks = []bench.TaskSpec{
					{Kind: "finalize", Weight: 2, Entries: 16},
					{Kind: "churn", Weight: 1, Depth: 4},
				}
				return w
			},
			check: func(t *testing.T, rep bench.Report) {
				if rep.Finalized == 0 {
					t.Errorf("expected finalizers to run, none did")
				}
				if rep.Finalized != int(rep.Stats.FinalizersRun) {
					t.Errorf("finalized count %d disagrees with stats %d",
						rep.Finalized, rep.Stats.FinalizersRun)
				}
			},
		},
		{
			name: "resurrection policy still settles",
			build: func() bench.Workload {
				w := base("resurrect")
				w.Tasks = []bench.TaskSpec{
					{Kind: "finalize", Weight: 2, Entries: 16},
				}
				w.GC.Resurrect = true
				return w
			},
			check: func(t *testing.T, rep bench.Report) {
				if rep.Finalized == 0 {
					t.Errorf("expected finalizers to run, none did")
				}
			},
		},
		{
			name: "tight stepping completes many cycles",
			build: func() bench.Workload {
				w := base("tight-steps")
				w.Tasks = []bench.TaskSpec{
					{Kind: "churn", Weight: 2, Depth: 8},
				}
				w.GC.StepSize = bench.ByteAmount(2 << 10)
				w.GC.StepMultiplier = 4
				return w
			},
			check: func(t *testing.T, rep bench.Report) {
				if rep.Stats.CyclesCompleted < 5 {
					t.Errorf("expected an eager pacer to complete many cycles, got %d",
						rep.Stats.CyclesCompleted)
				}
			},
		},
		{
			name: "registry mix stays under a generous limit",
			build: func() bench.Workload {
				w := base("limited")
				w.Tasks = []bench.TaskSpec{
					{Kind: "registry", Weight: 2, Entries: 64, Depth: 2},
					{Kind: "churn", Weight: 1, Depth: 4},
				}
				w.GC.HeapLimit = bench.ByteAmount(32 << 20)
				return w
			},
			check: func(t *testing.T, rep bench.Report) {
				if rep.OOMs != 0 {
					t.Errorf("expected no allocation failures, got %d", rep.OOMs)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := tc.build()
			rep, err := bench.Run(w)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if rep.Steps != w.Steps {
				t.Errorf("steps: expected %d, got %d", w.Steps, rep.Steps)
			}
			if rep.SinkErrs != 0 {
				t.Errorf("collector reported %d internal errors", rep.SinkErrs)
			}
			if rep.Usage != 0 {
				t.Errorf("usage after settle: expected 0, got %d", rep.Usage)
			}
			tc.check(t, rep)
		})
	}
}

// TestDumpHeapSnapshot checks the diagnostic dump lists every kind
// and honors the colorize switch.
func TestDumpHeapSnapshot(t *testing.T) {
	s := newSession(t, gc.Config{})

	all := s.track(heap.NewTable(0, 0)).(*heap.Table)
	s.roots.Set("all", heap.NewObject(all))
	s.drop(1)

	code := s.track(heap.NewString("body")).(*heap.String)
	objs := []heap.Object{
		s.track(heap.NewString("leaf")),
		s.track(heap.NewCell(heap.Nil, heap.Nil)),
		s.track(heap.NewTuple(3)),
		s.track(heap.NewClosure("greet", heap.NewObject(code), 1)),
	}
	for i, o := range objs {
		s.setEntry(all, heap.NewNumber(float64(i)), heap.NewObject(o))
	}
	if err := s.col.RegisterFinalizer(objs[2], func(heap.Object) {}); err != nil {
		t.Fatalf("register finalizer: %v", err)
	}
	s.drop(len(objs) + 1)

	var plain strings.Builder
	s.col.DumpHeap(&plain, false)
	out := plain.String()
	for _, want := range []string{
		"allgc", "finobj", "tobefnz", "by kind", "pacer",
		"string", "cell", "tuple", "table", "closure", "thread",
		"phase=",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("plain dump missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("plain dump contains ANSI escapes")
	}

	var colored strings.Builder
	s.col.DumpHeap(&colored, true)
	if !strings.Contains(colored.String(), "\x1b[") {
		t.Errorf("colorized dump contains no ANSI escapes")
	}
}
