package encoder

import "testing"

func rowsFor(v float64) [][]float64 {
	return [][]float64{{v}}
}

func TestWindowRing_EvictsOldestAtCapacity(t *testing.T) {
	t.Parallel()
	r := newWindowRing(3)
	for i := range 5 {
		if err := r.push(i, rowsFor(float64(i))); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if r.count > 3 {
		t.Fatalf("ring grew past capacity: %d", r.count)
	}
	if _, ok := r.get(1); ok {
		t.Error("chunk 1 should have been evicted")
	}
	if got, ok := r.get(4); !ok || got[0][0] != 4 {
		t.Errorf("chunk 4: got %v ok=%v", got, ok)
	}
	if r.latest() != 4 {
		t.Errorf("latest %d, want 4", r.latest())
	}
}

func TestWindowRing_RejectsOutOfOrderPush(t *testing.T) {
	t.Parallel()
	r := newWindowRing(4)
	if err := r.push(0, rowsFor(0)); err != nil {
		t.Fatalf("push 0: %v", err)
	}
	if err := r.push(2, rowsFor(2)); err == nil {
		t.Fatal("expected error for skipped chunk index")
	}
	if err := r.push(0, rowsFor(0)); err == nil {
		t.Fatal("expected error for re-submitted chunk index")
	}
}

func TestWindowRing_ContextRowsClampsToHeld(t *testing.T) {
	t.Parallel()
	r := newWindowRing(3)
	for i := range 3 {
		if err := r.push(i, rowsFor(float64(i))); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	// Request beyond both ends; should clamp to [0, 2].
	got := r.contextRows(-2, 10)
	if len(got) != 3 {
		t.Fatalf("context rows %d, want 3", len(got))
	}
	for i, row := range got {
		if row[0] != float64(i) {
			t.Errorf("row %d: got %v", i, row[0])
		}
	}
}

func TestPhase_TransitionTable(t *testing.T) {
	t.Parallel()
	p := PhaseEmpty
	if err := transition(&p, PhaseWarming); err != nil {
		t.Fatalf("empty->warming: %v", err)
	}
	if err := transition(&p, PhaseSteady); err != nil {
		t.Fatalf("warming->steady: %v", err)
	}
	if err := transition(&p, PhaseFlushing); err != nil {
		t.Fatalf("steady->flushing: %v", err)
	}
	if err := transition(&p, PhaseWarming); err == nil {
		t.Fatal("flushing is terminal; transition out must fail")
	}
}

func TestPhase_EmptyCanFlushDirectly(t *testing.T) {
	t.Parallel()
	p := PhaseEmpty
	if err := transition(&p, PhaseFlushing); err != nil {
		t.Fatalf("empty->flushing: %v", err)
	}
}

func TestPhase_SkippingWarmingIsIllegal(t *testing.T) {
	t.Parallel()
	p := PhaseEmpty
	if err := transition(&p, PhaseSteady); err == nil {
		t.Fatal("empty->steady must be rejected")
	}
}
