package dpool

import "testing"

func TestCounter_IncValReset(t *testing.T) {
	var c counter
	if got := c.val(); got != 0 {
		t.Fatalf("val() = %d, want 0", got)
	}
	c.inc()
	c.inc()
	if got := c.val(); got != 2 {
		t.Fatalf("val() = %d, want 2", got)
	}
	if got := c.reset(); got != 2 {
		t.Fatalf("reset() = %d, want 2", got)
	}
	if got := c.val(); got != 0 {
		t.Fatalf("val() after reset = %d, want 0", got)
	}
}

func TestShardStats_SnapshotResetsCounters(t *testing.T) {
	var s shardStats
	s.numGet.inc()
	s.numDial.inc()

	addr := ServerAddress{Host: "h", Port: 1}
	st := s.snapshot(addr, true, 3)
	if st.NumGet != 1 || st.NumDial != 1 || st.NumActive != 3 || !st.Available {
		t.Fatalf("unexpected first snapshot: %+v", st)
	}

	st2 := s.snapshot(addr, true, 3)
	if st2.NumGet != 0 || st2.NumDial != 0 {
		t.Fatalf("counters did not reset across snapshots: %+v", st2)
	}
}
