package heap

import "errors"

// Hybrid tables
//
// Table stores values under arbitrary scalar or object keys. Keys that
// form a dense run of positive integers 1..n live in an array part;
// everything else lives in a hash part. The split is invisible to
// lookups, but the collector traverses the two parts differently: the
// array part is a window of values with implicitly live integer keys,
// while hash entries expose both a key edge and a value edge.
//
// A table may declare weak references on either side. Weakness does
// not change how entries are stored or read; it changes how the
// collector treats the edges during marking and which entries it
// clears at the end of a cycle. A table whose weak mode is not
// WeakNone is rescanned in the atomic pass, so mutator writes to it
// never need a write barrier dance beyond the usual one.

// WeakMode selects which sides of a table's entries are weak.
type WeakMode uint8

const (
	// WeakNone makes all edges strong.
	WeakNone WeakMode = iota
	// WeakKeys keeps values alive but lets keys die; entries with
	// dead keys are cleared.
	WeakKeys
	// WeakValues keeps keys alive but lets values die; entries with
	// dead values are cleared.
	WeakValues
	// WeakEphemeron keeps a value alive only while its key is alive.
	WeakEphemeron
)

func (m WeakMode) String() string {
	switch m {
	case WeakNone:
		return "strong"
	case WeakKeys:
		return "weak-keys"
	case WeakValues:
		return "weak-values"
	case WeakEphemeron:
		return "ephemeron"
	default:
		return "unknown"
	}
}

var (
	ErrNilKey = errors.New("table key is nil")
	ErrNaNKey = errors.New("table key is NaN")
)

// Table is a mutable mapping with a dense array part and a hash part.
type Table struct {
	Header
	weak WeakMode
	arr  []Value
	hash map[Value]Value
}

// NewTable builds an untracked strong table with room hints for the
// two parts.
func NewTable(narr, nhash int) *Table {
	t := &Table{
		arr:  make([]Value, 0, narr),
		hash: make(map[Value]Value, nhash),
	}
	t.setKind(KindTable)
	return t
}

// WeakMode returns the table's weak reference mode.
func (t *Table) WeakMode() WeakMode { return t.weak }

// SetWeakMode changes the weak reference mode. The new mode takes
// effect at the next collection cycle.
func (t *Table) SetWeakMode(m WeakMode) { t.weak = m }

// arrayIndex reports whether k addresses the array part, returning the
// zero-based slot. A key one past the current length addresses the
// growth slot.
func (t *Table) arrayIndex(k Value) (int, bool) {
	if k.Tag != TNumber {
		return 0, false
	}
	i := int(k.N)
	if float64(i) != k.N || i < 1 || i > len(t.arr)+1 {
		return 0, false
	}
	return i - 1, true
}

// Get returns the value stored under k, Nil when absent.
func (t *Table) Get(k Value) Value {
	if i, ok := t.arrayIndex(k); ok && i < len(t.arr) {
		return t.arr[i]
	}
	if k.IsNil() || k.IsNaN() {
		return Nil
	}
	return t.hash[k]
}

// Set stores v under k. Storing Nil removes the entry. Nil and NaN
// keys are rejected. Stores of object keys or values must be paired
// with a collector write barrier at the same safe point.
func (t *Table) Set(k, v Value) error {
	if k.IsNil() {
		return ErrNilKey
	}
	if k.IsNaN() {
		return ErrNaNKey
	}
	if i, ok := t.arrayIndex(k); ok {
		if i < len(t.arr) {
			t.arr[i] = v
			return nil
		}
		// Growth slot. A nil store to a missing slot is a no-op.
		if v.IsNil() {
			return nil
		}
		t.arr = append(t.arr, v)
		t.migrateFromHash()
		return nil
	}
	if v.IsNil() {
		delete(t.hash, k)
		return nil
	}
	t.hash[k] = v
	return nil
}

// migrateFromHash moves integer keys that extend the dense run out of
// the hash part after an append.
func (t *Table) migrateFromHash() {
	for {
		k := NewNumber(float64(len(t.arr) + 1))
		v, ok := t.hash[k]
		if !ok {
			return
		}
		delete(t.hash, k)
		t.arr = append(t.arr, v)
	}
}

// Append stores v at the end of the dense run.
func (t *Table) Append(v Value) {
	t.arr = append(t.arr, v)
	t.migrateFromHash()
}

// ArrayLen returns the length of the dense part, trailing nils
// included.
func (t *Table) ArrayLen() int { return len(t.arr) }

// Count returns the number of non-nil entries across both parts.
func (t *Table) Count() int {
	n := len(t.hash)
	for _, v := range t.arr {
		if !v.IsNil() {
			n++
		}
	}
	return n
}

// Array exposes the dense part. The collector reads it during marking
// and nils dead slots when clearing weak values; other callers must
// treat it as read-only.
func (t *Table) Array() []Value { return t.arr }

// ForEachEntry visits every hash-part entry. Deleting the visited
// entry from inside the callback is allowed.
func (t *Table) ForEachEntry(visit func(k, v Value)) {
	for k, v := range t.hash {
		visit(k, v)
	}
}

// DeleteEntry removes a hash-part entry. Used by the collector when
// clearing dead weak entries.
func (t *Table) DeleteEntry(k Value) { delete(t.hash, k) }

func (t *Table) AccountedSize() uintptr {
	return headerBytes +
		uintptr(len(t.arr))*slotBytes +
		uintptr(len(t.hash))*3*slotBytes
}

// ForEachChild reports every edge, weak sides included. Weak policy is
// applied by the collector, which traverses tables by kind rather than
// through this method.
func (t *Table) ForEachChild(visit func(Object)) {
	for _, v := range t.arr {
		if v.IsObject() {
			visit(v.Obj)
		}
	}
	for k, v := range t.hash {
		if k.IsObject() {
			visit(k.Obj)
		}
		if v.IsObject() {
			visit(v.Obj)
		}
	}
}
