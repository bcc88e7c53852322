package heap

// Thread is an execution stack. Stacks are the hottest write target in
// a running mutator, so stack slots are written without any barrier.
// The collector compensates: a thread scanned during incremental
// marking is kept gray and rescanned in the atomic pass, when the
// mutator cannot run.
type Thread struct {
	Header
	Status ThreadStatus
	stack  []Value
	top    int
}

// ThreadStatus mirrors the usual coroutine lifecycle; the collector
// ignores it, workloads use it for bookkeeping.
type ThreadStatus uint8

const (
	ThreadSuspended ThreadStatus = iota
	ThreadRunning
	ThreadDead
)

// NewThread builds an untracked thread with the given initial stack
// capacity.
func NewThread(capacity int) *Thread {
	t := &Thread{stack: make([]Value, capacity)}
	t.setKind(KindThread)
	return t
}

// Push grows the live window by one slot, extending the stack when
// full. No barrier is required.
func (t *Thread) Push(v Value) {
	if t.top == len(t.stack) {
		t.stack = append(t.stack, Nil)
	}
	t.stack[t.top] = v
	t.top++
}

// Pop shrinks the live window by one slot and returns the removed
// value, Nil when empty. The vacated slot is cleared so the collector
// never sees stale references below the top.
func (t *Thread) Pop() Value {
	if t.top == 0 {
		return Nil
	}
	t.top--
	v := t.stack[t.top]
	t.stack[t.top] = Nil
	return v
}

// SetSlot overwrites a live slot in place. No barrier is required.
func (t *Thread) SetSlot(i int, v Value) {
	if i < 0 || i >= t.top {
		return
	}
	t.stack[i] = v
}

// Slot returns a live slot, Nil when out of range.
func (t *Thread) Slot(i int) Value {
	if i < 0 || i >= t.top {
		return Nil
	}
	return t.stack[i]
}

// Top returns the number of live slots.
func (t *Thread) Top() int { return t.top }

func (t *Thread) AccountedSize() uintptr {
	return headerBytes + uintptr(cap(t.stack))*slotBytes
}

// ForEachChild visits only the live window; slots above top are dead.
func (t *Thread) ForEachChild(visit func(Object)) {
	for i := 0; i < t.top; i++ {
		if v := t.stack[i]; v.IsObject() {
			visit(v.Obj)
		}
	}
}
