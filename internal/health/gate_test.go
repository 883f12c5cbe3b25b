package health

import (
	"errors"
	"sync"
	"testing"
)

func TestGate_StartsNotReady(t *testing.T) {
	g := NewGate()

	for _, s := range Subsystems {
		if g.IsReady(s) {
			t.Errorf("Expected %s to start not ready", s)
		}
		if st := g.Describe(s); st.State != StatePending {
			t.Errorf("Expected %s to start pending, got %s", s, st.State)
		}
	}
}

func TestGate_MarkReady(t *testing.T) {
	g := NewGate()
	g.MarkReady(Recognition, Metadata{"engines": []string{"deepgram"}})

	if !g.IsReady(Recognition) {
		t.Error("Expected recognition to be ready")
	}
	if g.IsReady(Generation) || g.IsReady(Synthesis) {
		t.Error("Expected other subsystems to stay not ready")
	}

	st := g.Describe(Recognition)
	if st.Metadata["engines"] == nil {
		t.Error("Expected metadata to be recorded")
	}
}

func TestGate_MarkFailedRecordsError(t *testing.T) {
	g := NewGate()
	g.MarkFailed(Synthesis, errors.New("no api key"))

	if g.IsReady(Synthesis) {
		t.Error("Expected synthesis to be not ready")
	}
	st := g.Describe(Synthesis)
	if st.State != StateFailed {
		t.Errorf("Expected state %s, got %s", StateFailed, st.State)
	}
	if st.LastError != "no api key" {
		t.Errorf("Expected last error 'no api key', got '%s'", st.LastError)
	}
}

func TestGate_TransitionsAreOneDirectional(t *testing.T) {
	g := NewGate()

	g.MarkReady(Generation, nil)
	g.MarkFailed(Generation, errors.New("late failure"))
	if !g.IsReady(Generation) {
		t.Error("Expected ready subsystem not to be demoted")
	}

	g.MarkFailed(Synthesis, errors.New("init failed"))
	g.MarkReady(Synthesis, nil)
	if g.IsReady(Synthesis) {
		t.Error("Expected failed subsystem not to be revived")
	}
}

func TestGate_OnTransition(t *testing.T) {
	g := NewGate()
	var seen []Status
	g.OnTransition(func(st Status) { seen = append(seen, st) })

	g.MarkReady(Recognition, nil)
	g.MarkReady(Recognition, nil) // no-op

	if len(seen) != 1 {
		t.Fatalf("Expected 1 transition, got %d", len(seen))
	}
	if seen[0].Subsystem != Recognition || !seen[0].Ready() {
		t.Errorf("Unexpected transition %+v", seen[0])
	}
}

func TestGate_UnknownSubsystem(t *testing.T) {
	g := NewGate()
	if g.IsReady("telepathy") {
		t.Error("Expected unknown subsystem to be not ready")
	}
	if st := g.Describe("telepathy"); st.State != StateFailed {
		t.Errorf("Expected unknown subsystem to describe as failed, got %s", st.State)
	}
}

func TestGate_ConcurrentReads(t *testing.T) {
	g := NewGate()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				g.IsReady(Recognition)
				g.Snapshot()
			}
		}()
	}
	g.MarkReady(Recognition, nil)
	wg.Wait()

	if !g.IsReady(Recognition) {
		t.Error("Expected recognition to be ready after concurrent reads")
	}
}

func TestGate_SnapshotOrder(t *testing.T) {
	g := NewGate()
	snap := g.Snapshot()

	if len(snap) != 3 {
		t.Fatalf("Expected 3 subsystems, got %d", len(snap))
	}
	for i, s := range Subsystems {
		if snap[i].Subsystem != s {
			t.Errorf("Expected %s at position %d, got %s", s, i, snap[i].Subsystem)
		}
	}
}
