package heap

import "hash/fnv"

// String is an immutable leaf object. It holds no references, so the
// collector marks it black on first contact and never traverses it.
// The hash is computed once at construction; table lookups and any
// future interning layer reuse it instead of rehashing the bytes.
type String struct {
	Header
	Val  string
	hash uint64
}

// NewString builds an untracked string object. The caller hands it to
// the collector for tracking.
func NewString(s string) *String {
	h := fnv.New64a()
	h.Write([]byte(s))
	str := &String{Val: s, hash: h.Sum64()}
	str.setKind(KindString)
	return str
}

// Hash returns the precomputed content hash.
func (s *String) Hash() uint64 { return s.hash }

func (s *String) Len() int { return len(s.Val) }

func (s *String) AccountedSize() uintptr {
	return headerBytes + uintptr(len(s.Val))
}

// ForEachChild is a no-op: strings are leaves.
func (s *String) ForEachChild(visit func(Object)) {}
