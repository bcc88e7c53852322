package heap

// Release reclaims an object's storage. The payload references are
// dropped so the husk pins nothing, the list link is severed, and the
// header is stamped with the released mark. Accessing a released
// container afterwards fails loudly instead of resurrecting garbage.
func Release(o Object) {
	h := o.GCHeader()
	h.SetNext(nil)
	h.marked |= WhiteBits | black
	switch obj := o.(type) {
	case *String:
		obj.Val = ""
	case *Cell:
		obj.Car, obj.Cdr = Nil, Nil
	case *Tuple:
		obj.Fields = nil
	case *Table:
		obj.arr = nil
		obj.hash = nil
	case *Closure:
		obj.Code = Nil
		obj.Captures = nil
	case *Thread:
		obj.stack = nil
		obj.top = 0
	}
}
