package heap

// Tri-color object headers
//
// Every heap object embeds a Header carrying its GC color, kind tag and
// a non-owning link into the collector's object lists. Colors use two
// white bits plus one black bit in a single mark byte:
//
//   white (A or B)  - not yet reached this cycle; candidate garbage
//   gray            - reached, children not yet scanned
//   black           - reached, all children scanned
//
// Two whites exist so that objects allocated while a collection is in
// flight can be told apart from last cycle's garbage: the collector
// designates one white as "current", allocates new objects in it, and
// at the end of marking flips the designation. Sweeping then reclaims
// only objects still carrying the previous white.
//
// The mark byte and the intrusive link belong to the collector. Mutator
// code must never touch them directly; it interacts with the collector
// through allocation and the write barrier only.

// Color bit layout of the header mark byte.
const (
	WhiteA uint8 = 1 << 0
	WhiteB uint8 = 1 << 1
	black  uint8 = 1 << 2

	// finalized records that the object's finalizer already ran,
	// so it can never be queued for finalization again.
	finalized uint8 = 1 << 3

	// WhiteBits masks both white colors.
	WhiteBits uint8 = WhiteA | WhiteB
)

// Kind identifies the traversal shape of a heap object.
type Kind uint8

const (
	KindString Kind = iota
	KindCell
	KindTuple
	KindTable
	KindClosure
	KindThread
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindCell:
		return "cell"
	case KindTuple:
		return "tuple"
	case KindTable:
		return "table"
	case KindClosure:
		return "closure"
	case KindThread:
		return "thread"
	default:
		return "unknown"
	}
}

// Leaf reports whether objects of this kind can hold references to
// other objects. Leaf objects are never queued for child traversal.
func (k Kind) Leaf() bool {
	return k == KindString
}

// Header is the per-object metadata shared by every heap object.
// Concrete object types embed it; embedding also provides the
// GCHeader method required by the Object interface.
type Header struct {
	marked uint8
	kind   Kind
	size   uintptr
	next   Object
}

// GCHeader returns the embedded header. It exists so that every type
// embedding a Header satisfies Object's header accessor for free.
func (h *Header) GCHeader() *Header { return h }

// Kind returns the object's traversal kind.
func (h *Header) Kind() Kind { return h.kind }

// Size returns the accounted size in bytes recorded at allocation.
func (h *Header) Size() uintptr { return h.size }

// SetSize records the accounted size. Collector use only.
func (h *Header) SetSize(n uintptr) { h.size = n }

// Next returns the intrusive list link. The link is non-owning: list
// membership says nothing about lifetime.
func (h *Header) Next() Object { return h.next }

// SetNext updates the intrusive list link. Collector use only.
func (h *Header) SetNext(o Object) { h.next = o }

// NextLink returns the address of the intrusive link, for in-place
// list surgery such as the sweep cursor. Collector use only.
func (h *Header) NextLink() *Object { return &h.next }

// IsWhite reports whether the object carries either white color.
func (h *Header) IsWhite() bool { return h.marked&WhiteBits != 0 }

// IsBlack reports whether the object has been fully scanned this cycle.
func (h *Header) IsBlack() bool { return h.marked&black != 0 }

// IsGray reports whether the object is reached but not fully scanned.
func (h *Header) IsGray() bool { return h.marked&(WhiteBits|black) == 0 }

// White returns the white bits the object carries, zero if none.
func (h *Header) White() uint8 { return h.marked & WhiteBits }

// SetWhite recolors the object to the given white. Collector use only.
func (h *Header) SetWhite(w uint8) {
	h.marked = h.marked&^(WhiteBits|black) | w&WhiteBits
}

// SetGray clears all color bits. Collector use only.
func (h *Header) SetGray() { h.marked &^= WhiteBits | black }

// SetBlack recolors the object black. Collector use only.
func (h *Header) SetBlack() { h.marked = h.marked&^WhiteBits | black }

// Released reports whether the object's storage was reclaimed. A
// released object carries every color bit at once, a combination no
// live object can have; invariant checks use it to catch dangling
// references.
func (h *Header) Released() bool {
	return h.marked&(WhiteBits|black) == WhiteBits|black
}

// Finalized reports whether the object's finalizer has already run.
func (h *Header) Finalized() bool { return h.marked&finalized != 0 }

// SetFinalized marks the finalizer as having run. It is never cleared.
func (h *Header) SetFinalized() { h.marked |= finalized }

func (h *Header) setKind(k Kind) { h.kind = k }

// Object is the capability every heap object grants the collector:
// access to its header, its accounted size, and a visit of every
// object it references. Weak references are reported too; weak policy
// is the collector's business, applied through kind dispatch.
type Object interface {
	GCHeader() *Header
	AccountedSize() uintptr
	ForEachChild(visit func(Object))
}

// Rough per-object accounting constants. These stand in for the byte
// cost of the underlying allocations; they only need to be consistent,
// not exact, because the pacer works on proportions.
const (
	headerBytes = 32
	slotBytes   = 16
)
