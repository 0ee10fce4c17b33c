package builtins

import "testing"

func TestCallIndexRoundTrip(t *testing.T) {
	for _, f := range All {
		idx := f.CallIndex()
		got, ok := FromCallIndex(idx)
		if !ok {
			t.Fatalf("FromCallIndex(%d) for %s: not found", idx, f.Name())
		}
		if got != f {
			t.Fatalf("FromCallIndex(%d) = %v, want %v", idx, got, f)
		}
	}
}

func TestSpecialFormsBelowBase(t *testing.T) {
	if ToString.CallIndex() != CallBase-3 {
		t.Fatalf("ToString.CallIndex() = %#x, want %#x", ToString.CallIndex(), CallBase-3)
	}
	if TypeOf.CallIndex() != CallBase-2 {
		t.Fatalf("TypeOf.CallIndex() = %#x, want %#x", TypeOf.CallIndex(), CallBase-2)
	}
	if Assert.CallIndex() != CallBase-1 {
		t.Fatalf("Assert.CallIndex() = %#x, want %#x", Assert.CallIndex(), CallBase-1)
	}
}

func TestMainRangeDenseAndContiguous(t *testing.T) {
	for i, f := range byOffset {
		want := CallBase + uint16(i)
		if f.CallIndex() != want {
			t.Fatalf("byOffset[%d]=%s CallIndex()=%#x, want %#x", i, f.Name(), f.CallIndex(), want)
		}
	}
	if uint16(len(byOffset)) != CallCount {
		t.Fatalf("len(byOffset) = %d, want CallCount = %d", len(byOffset), CallCount)
	}
}

func TestFromCallIndexUnknown(t *testing.T) {
	if _, ok := FromCallIndex(CallBase + CallCount); ok {
		t.Fatalf("FromCallIndex(CallBase+CallCount) should be unknown")
	}
	if _, ok := FromCallIndex(CallBase - 4); ok {
		t.Fatalf("FromCallIndex(CallBase-4) should be unknown")
	}
}

func TestLookupByName(t *testing.T) {
	f, ok := Lookup("re_captures")
	if !ok || f != ReCaptures {
		t.Fatalf("Lookup(re_captures) = %v, %v", f, ok)
	}
	if _, ok := Lookup("does_not_exist"); ok {
		t.Fatalf("Lookup should fail for unknown name")
	}
}

func TestArities(t *testing.T) {
	cases := map[Function]uint8{
		Len: 1, Slice: 3, Concat: 2, ArrayNew: 0, ArrayPush: 2, MapNew: 0,
		Get: 2, Set: 3, Keys: 1, IoOpen: 2, IoPopen: 2, IoReadAll: 1,
		IoReadLine: 1, IoWrite: 2, IoFlush: 1, IoClose: 1, IoExists: 1,
		Count: 1, ReIsMatch: 2, ReFind: 2, ReReplace: 3, ReSplit: 2,
		ReCaptures: 2, ToString: 1, TypeOf: 1, Assert: 1,
	}
	for f, want := range cases {
		if got := f.Arity(); got != want {
			t.Errorf("%s.Arity() = %d, want %d", f.Name(), got, want)
		}
	}
}
