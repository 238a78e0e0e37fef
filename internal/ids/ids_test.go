package ids

import "testing"

func TestEntityStable(t *testing.T) {
	if Entity("Alex") != Entity("Alex") {
		t.Error("Entity() should be deterministic")
	}
	if Entity("Alex") == Entity("Taylor") {
		t.Error("different names should hash differently")
	}
}

func TestAssociationOrderIndependent(t *testing.T) {
	a := Association([]string{"Alex", "Taylor", "Tokyo"})
	b := Association([]string{"Tokyo", "Alex", "Taylor"})
	if a != b {
		t.Errorf("Association() should be order-independent: %q vs %q", a, b)
	}
}

func TestMultiHopOrderDependent(t *testing.T) {
	a := MultiHop([]string{"Alex", "Taylor", "Tokyo"})
	b := MultiHop([]string{"Tokyo", "Taylor", "Alex"})
	if a == b {
		t.Error("MultiHop() should be order-dependent (it's a path, not a set)")
	}
}

func TestChunkDeterministic(t *testing.T) {
	if Chunk("hello world") != Chunk("hello world") {
		t.Error("Chunk() should be deterministic")
	}
}
