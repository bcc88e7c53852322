package heap

import (
	"math"
	"testing"
)

func TestTableArrayAndHashSplit(t *testing.T) {
	tbl := NewTable(4, 4)

	// Dense integer keys from 1 land in the array part.
	for i := 1; i <= 3; i++ {
		if err := tbl.Set(NewNumber(float64(i)), NewNumber(float64(i*10))); err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
	}
	if tbl.ArrayLen() != 3 {
		t.Errorf("expected array length 3, got %d", tbl.ArrayLen())
	}

	// Non-dense keys land in the hash part.
	tbl.Set(NewNumber(10), NewBool(true))
	tbl.Set(NewObject(NewString("name")), NewNumber(1))
	if tbl.ArrayLen() != 3 {
		t.Errorf("sparse keys must not extend the array, got length %d", tbl.ArrayLen())
	}
	if tbl.Count() != 5 {
		t.Errorf("expected 5 entries, got %d", tbl.Count())
	}

	if v := tbl.Get(NewNumber(2)); v.N != 20 {
		t.Errorf("expected 20 at key 2, got %v", v)
	}
	if v := tbl.Get(NewNumber(10)); !v.Truthy() {
		t.Errorf("expected true at key 10, got %v", v)
	}
}

func TestTableGrowthSlotMigration(t *testing.T) {
	tbl := NewTable(0, 0)

	// 2 and 3 are sparse for now and sit in the hash part.
	tbl.Set(NewNumber(2), NewNumber(20))
	tbl.Set(NewNumber(3), NewNumber(30))
	if tbl.ArrayLen() != 0 {
		t.Fatalf("expected empty array before the run is dense, got %d", tbl.ArrayLen())
	}

	// Storing 1 completes the run; 2 and 3 migrate over.
	tbl.Set(NewNumber(1), NewNumber(10))
	if tbl.ArrayLen() != 3 {
		t.Errorf("expected array length 3 after migration, got %d", tbl.ArrayLen())
	}
	for i := 1; i <= 3; i++ {
		if v := tbl.Get(NewNumber(float64(i))); v.N != float64(i*10) {
			t.Errorf("key %d: expected %d, got %v", i, i*10, v)
		}
	}
}

func TestTableAppend(t *testing.T) {
	tbl := NewTable(0, 0)
	tbl.Append(NewNumber(1))
	tbl.Append(NewNumber(2))
	if tbl.ArrayLen() != 2 {
		t.Errorf("expected array length 2, got %d", tbl.ArrayLen())
	}
	if v := tbl.Get(NewNumber(2)); v.N != 2 {
		t.Errorf("expected 2, got %v", v)
	}
}

func TestTableRejectsBadKeys(t *testing.T) {
	tbl := NewTable(0, 0)
	if err := tbl.Set(Nil, NewNumber(1)); err != ErrNilKey {
		t.Errorf("expected ErrNilKey, got %v", err)
	}
	if err := tbl.Set(NewNumber(math.NaN()), NewNumber(1)); err != ErrNaNKey {
		t.Errorf("expected ErrNaNKey, got %v", err)
	}
	if tbl.Get(Nil) != Nil || tbl.Get(NewNumber(math.NaN())) != Nil {
		t.Error("bad keys should read Nil, not panic")
	}
}

func TestTableNilStoreDeletes(t *testing.T) {
	tbl := NewTable(0, 0)
	k := NewObject(NewString("gone"))
	tbl.Set(k, NewNumber(1))
	if tbl.Count() != 1 {
		t.Fatalf("expected 1 entry, got %d", tbl.Count())
	}
	tbl.Set(k, Nil)
	if tbl.Count() != 0 {
		t.Errorf("nil store should delete, got %d entries", tbl.Count())
	}
	if tbl.Get(k) != Nil {
		t.Error("deleted key should read Nil")
	}
}

func TestTableNonIntegerNumberKeys(t *testing.T) {
	tbl := NewTable(0, 0)
	tbl.Set(NewNumber(1.5), NewNumber(15))
	if tbl.ArrayLen() != 0 {
		t.Error("fractional keys must not reach the array part")
	}
	if v := tbl.Get(NewNumber(1.5)); v.N != 15 {
		t.Errorf("expected 15, got %v", v)
	}
}

func TestTableObjectKeysByIdentity(t *testing.T) {
	tbl := NewTable(0, 0)
	a := NewString("same")
	b := NewString("same")
	tbl.Set(NewObject(a), NewNumber(1))
	tbl.Set(NewObject(b), NewNumber(2))
	// Equal content, distinct identity: two entries.
	if tbl.Count() != 2 {
		t.Errorf("expected 2 entries keyed by identity, got %d", tbl.Count())
	}
	if v := tbl.Get(NewObject(a)); v.N != 1 {
		t.Errorf("expected 1 under a, got %v", v)
	}
}

func TestTableDeleteDuringRange(t *testing.T) {
	tbl := NewTable(0, 8)
	for i := 0; i < 8; i++ {
		tbl.Set(NewObject(NewString(string(rune('a'+i)))), NewNumber(float64(i)))
	}
	tbl.ForEachEntry(func(k, v Value) {
		if int(v.N)%2 == 0 {
			tbl.DeleteEntry(k)
		}
	})
	if tbl.Count() != 4 {
		t.Errorf("expected 4 entries after clearing evens, got %d", tbl.Count())
	}
}

func TestTableForEachChildReportsAllEdges(t *testing.T) {
	tbl := NewTable(2, 2)
	arrObj := NewString("arr")
	keyObj := NewString("key")
	valObj := NewString("val")
	tbl.Append(NewObject(arrObj))
	tbl.Append(NewNumber(5))
	tbl.Set(NewObject(keyObj), NewObject(valObj))

	seen := map[Object]bool{}
	tbl.ForEachChild(func(o Object) { seen[o] = true })
	if len(seen) != 3 || !seen[arrObj] || !seen[keyObj] || !seen[valObj] {
		t.Errorf("expected arr+key+val edges, got %d edges", len(seen))
	}

	// Weak mode changes collector policy, not reported edges.
	tbl.SetWeakMode(WeakValues)
	n := 0
	tbl.ForEachChild(func(Object) { n++ })
	if n != 3 {
		t.Errorf("weak mode must not hide edges, got %d", n)
	}
}

func TestTableWeakModeRoundTrip(t *testing.T) {
	tbl := NewTable(0, 0)
	if tbl.WeakMode() != WeakNone {
		t.Errorf("expected strong by default, got %v", tbl.WeakMode())
	}
	for _, m := range []WeakMode{WeakKeys, WeakValues, WeakEphemeron, WeakNone} {
		tbl.SetWeakMode(m)
		if tbl.WeakMode() != m {
			t.Errorf("expected mode %v, got %v", m, tbl.WeakMode())
		}
	}
}
