package heap

// Closure couples a code reference with a fixed set of captured
// values. Captures are written rarely after construction, so closures
// use the forward barrier like any fixed-shape object.
type Closure struct {
	Header
	Name     string
	Code     Value
	Captures []Value
}

// NewClosure builds an untracked closure with n empty capture slots.
func NewClosure(name string, code Value, n int) *Closure {
	c := &Closure{Name: name, Code: code, Captures: make([]Value, n)}
	c.setKind(KindClosure)
	return c
}

// Capture returns the i-th captured value, Nil when out of range.
func (c *Closure) Capture(i int) Value {
	if i < 0 || i >= len(c.Captures) {
		return Nil
	}
	return c.Captures[i]
}

// SetCapture stores v into the i-th capture slot. Stores of object
// values must be paired with a collector write barrier.
func (c *Closure) SetCapture(i int, v Value) {
	if i < 0 || i >= len(c.Captures) {
		return
	}
	c.Captures[i] = v
}

func (c *Closure) AccountedSize() uintptr {
	return headerBytes + uintptr(len(c.Captures)+1)*slotBytes
}

func (c *Closure) ForEachChild(visit func(Object)) {
	if c.Code.IsObject() {
		visit(c.Code.Obj)
	}
	for _, v := range c.Captures {
		if v.IsObject() {
			visit(v.Obj)
		}
	}
}
