package heap

// Cell is the smallest reference-holding object: exactly two fields.
// It is the building block for linked structures in tests and
// workloads, and the simplest case of fixed-window traversal.
type Cell struct {
	Header
	Car Value
	Cdr Value
}

// NewCell builds an untracked cell.
func NewCell(car, cdr Value) *Cell {
	c := &Cell{Car: car, Cdr: cdr}
	c.setKind(KindCell)
	return c
}

func (c *Cell) AccountedSize() uintptr {
	return headerBytes + 2*slotBytes
}

func (c *Cell) ForEachChild(visit func(Object)) {
	if c.Car.IsObject() {
		visit(c.Car.Obj)
	}
	if c.Cdr.IsObject() {
		visit(c.Cdr.Obj)
	}
}
