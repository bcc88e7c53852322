package heap

// Tuple is a fixed-arity record. The field count is set at creation
// and never changes, so traversal is a plain window over the slots.
type Tuple struct {
	Header
	Fields []Value
}

// NewTuple builds an untracked tuple with n nil fields.
func NewTuple(n int) *Tuple {
	t := &Tuple{Fields: make([]Value, n)}
	t.setKind(KindTuple)
	return t
}

func (t *Tuple) Arity() int { return len(t.Fields) }

// Get returns the i-th field, Nil when out of range.
func (t *Tuple) Get(i int) Value {
	if i < 0 || i >= len(t.Fields) {
		return Nil
	}
	return t.Fields[i]
}

// Set stores v into the i-th field. Out-of-range stores are ignored.
// Stores of object values must be paired with a collector write
// barrier at the same safe point.
func (t *Tuple) Set(i int, v Value) {
	if i < 0 || i >= len(t.Fields) {
		return
	}
	t.Fields[i] = v
}

func (t *Tuple) AccountedSize() uintptr {
	return headerBytes + uintptr(len(t.Fields))*slotBytes
}

func (t *Tuple) ForEachChild(visit func(Object)) {
	for _, f := range t.Fields {
		if f.IsObject() {
			visit(f.Obj)
		}
	}
}
