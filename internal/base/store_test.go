package base

import (
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir() + "/station.db")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEnqueueAndFetchPending(t *testing.T) {
	db := newTestDB(t)
	now := time.Unix(1000, 0)

	id, err := db.Enqueue(&CommandEntry{
		Handle: "h1", TargetNodeID: 5, CommandType: 0x02, SequenceNumber: 1,
		AttemptsRemaining: 3, NextAttemptAt: now, CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	next, err := db.NextPendingForNode(5)
	if err != nil {
		t.Fatalf("NextPendingForNode: %v", err)
	}
	if next == nil || next.ID != id {
		t.Fatalf("NextPendingForNode = %+v, want id %d", next, id)
	}

	other, err := db.NextPendingForNode(6)
	if err != nil {
		t.Fatalf("NextPendingForNode(6): %v", err)
	}
	if other != nil {
		t.Errorf("expected no pending command for node 6, got %+v", other)
	}
}

func TestMarkInFlightAndExpire(t *testing.T) {
	db := newTestDB(t)
	now := time.Unix(1000, 0)

	id, _ := db.Enqueue(&CommandEntry{
		Handle: "h1", TargetNodeID: 5, CommandType: 0x02, SequenceNumber: 1,
		AttemptsRemaining: 3, NextAttemptAt: now, CreatedAt: now,
	})
	if err := db.MarkInFlight(id, 1, 2, now.Add(12*time.Second)); err != nil {
		t.Fatalf("MarkInFlight: %v", err)
	}

	inFlight, err := db.InFlightForNode(5)
	if err != nil || inFlight == nil || inFlight.ID != id {
		t.Fatalf("InFlightForNode = %+v, %v", inFlight, err)
	}

	expired, err := db.ExpiredInFlight(now.Add(5 * time.Second))
	if err != nil {
		t.Fatalf("ExpiredInFlight: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("expected no expired entries before deadline, got %v", expired)
	}

	expired, err = db.ExpiredInFlight(now.Add(13 * time.Second))
	if err != nil {
		t.Fatalf("ExpiredInFlight: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != id {
		t.Fatalf("ExpiredInFlight = %v, want one entry with id %d", expired, id)
	}
}

func TestRetryExhaustionMarksFailed(t *testing.T) {
	db := newTestDB(t)
	now := time.Unix(1000, 0)
	id, _ := db.Enqueue(&CommandEntry{
		Handle: "h1", TargetNodeID: 5, CommandType: 0x02, SequenceNumber: 1,
		AttemptsRemaining: 1, NextAttemptAt: now, CreatedAt: now,
	})
	db.MarkInFlight(id, 1, 0, now)

	if err := db.Retry(id, 0, now); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	state, disposition, err := db.CommandStatus("h1")
	if err != nil {
		t.Fatalf("CommandStatus: %v", err)
	}
	if state != StateFailed || disposition != DispositionTimeout {
		t.Errorf("state=%s disposition=%s, want failed/timeout", state, disposition)
	}
}

func TestUpsertNodeTracksFirstAndLastSeen(t *testing.T) {
	db := newTestDB(t)
	t0 := time.Unix(1000, 0)
	t1 := time.Unix(1100, 0)

	isNew, err := db.UpsertNode(7, t0)
	if err != nil || !isNew {
		t.Fatalf("first UpsertNode: isNew=%v err=%v", isNew, err)
	}
	isNew, err = db.UpsertNode(7, t1)
	if err != nil || isNew {
		t.Fatalf("second UpsertNode: isNew=%v err=%v", isNew, err)
	}

	nodes, err := db.AllNodes()
	if err != nil {
		t.Fatalf("AllNodes: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("AllNodes = %v, want one node", nodes)
	}
	if !nodes[0].LastSeen.Equal(t1) {
		t.Errorf("LastSeen = %v, want %v", nodes[0].LastSeen, t1)
	}
	if !nodes[0].FirstSeen.Equal(t0) {
		t.Errorf("FirstSeen = %v, want %v", nodes[0].FirstSeen, t0)
	}
}
