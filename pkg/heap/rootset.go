package heap

// RootSet is a simple root provider: a set of named global slots plus
// explicitly pinned objects. Interpreter embeddings would walk their
// own globals and call stacks instead; tests and workloads use this.
type RootSet struct {
	globals map[string]Value
	pinned  []Object
}

// NewRootSet builds an empty root set.
func NewRootSet() *RootSet {
	return &RootSet{globals: make(map[string]Value)}
}

// Set binds a global name. Binding Nil removes the name.
func (r *RootSet) Set(name string, v Value) {
	if v.IsNil() {
		delete(r.globals, name)
		return
	}
	r.globals[name] = v
}

// Get returns the value bound to name, Nil when absent.
func (r *RootSet) Get(name string) Value { return r.globals[name] }

// Names returns the number of bound globals.
func (r *RootSet) Names() int { return len(r.globals) }

// Pin keeps obj alive independently of any named binding.
func (r *RootSet) Pin(obj Object) {
	if obj == nil {
		return
	}
	r.pinned = append(r.pinned, obj)
}

// Clear drops every binding and pin.
func (r *RootSet) Clear() {
	r.globals = make(map[string]Value)
	r.pinned = r.pinned[:0]
}

// Unpin removes the first pin of obj.
func (r *RootSet) Unpin(obj Object) {
	for i, o := range r.pinned {
		if o == obj {
			r.pinned = append(r.pinned[:i], r.pinned[i+1:]...)
			return
		}
	}
}

// ForEachRoot visits every object reachable in one hop from the root
// set. The collector calls it at the start of a cycle and again in the
// atomic pass.
func (r *RootSet) ForEachRoot(visit func(Object)) {
	for _, v := range r.globals {
		if v.IsObject() {
			visit(v.Obj)
		}
	}
	for _, o := range r.pinned {
		visit(o)
	}
}
