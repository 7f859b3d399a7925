package observability

import (
	"testing"
	"time"
)

func TestLatencyWindowSnapshotPercentiles(t *testing.T) {
	w := NewLatencyWindow(8)
	for _, ms := range []int{100, 200, 300, 400} {
		w.Observe("transcript_commit", time.Duration(ms)*time.Millisecond)
	}

	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("stages = %d, want 1", len(snap.Stages))
	}
	st := snap.Stages[0]
	if st.Stage != "transcript_commit" {
		t.Fatalf("Stage = %q, want transcript_commit", st.Stage)
	}
	if st.Samples != 4 {
		t.Fatalf("Samples = %d, want 4", st.Samples)
	}
	if st.LastMS != 400 {
		t.Fatalf("LastMS = %v, want 400", st.LastMS)
	}
	if st.P50MS != 200 {
		t.Fatalf("P50MS = %v, want 200", st.P50MS)
	}
	if st.P95MS != 400 {
		t.Fatalf("P95MS = %v, want 400", st.P95MS)
	}
}

func TestLatencyWindowWrapsOldSamples(t *testing.T) {
	w := NewLatencyWindow(2)
	w.Observe("connect", 100*time.Millisecond)
	w.Observe("connect", 200*time.Millisecond)
	w.Observe("connect", 300*time.Millisecond)

	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("stages = %d, want 1", len(snap.Stages))
	}
	if snap.Stages[0].Samples != 2 {
		t.Fatalf("Samples = %d, want 2 after wrap", snap.Stages[0].Samples)
	}
	if snap.Stages[0].LastMS != 300 {
		t.Fatalf("LastMS = %v, want 300", snap.Stages[0].LastMS)
	}
}

func TestLatencyWindowIgnoresEmptyStage(t *testing.T) {
	w := NewLatencyWindow(4)
	w.Observe("", time.Second)
	if got := len(w.Snapshot().Stages); got != 0 {
		t.Fatalf("stages = %d, want 0", got)
	}
}
