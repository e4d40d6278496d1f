package base

import (
	"testing"
	"time"

	"github.com/lss-net/lss-coordinator/internal/protocol"
)

func TestKickSendsNextPendingAndMarksInFlight(t *testing.T) {
	db := newTestDB(t)
	link := newFakeLink()
	link.Start()
	now := time.Unix(1000, 0)
	d := NewDispatcher(db, link, func() time.Time { return now })

	_, err := db.Enqueue(&CommandEntry{
		Handle: "h1", TargetNodeID: 5, CommandType: protocol.CmdPing, SequenceNumber: 0,
		AttemptsRemaining: DispatchRetries, NextAttemptAt: now, CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := d.Kick(5); err != nil {
		t.Fatalf("Kick: %v", err)
	}

	sent := link.drain()
	if len(sent) != 1 {
		t.Fatalf("sent = %d frames, want 1", len(sent))
	}
	cmd, err := protocol.DeserializeCommand(sent[0])
	if err != nil {
		t.Fatalf("DeserializeCommand: %v", err)
	}
	if cmd.CommandType != protocol.CmdPing || cmd.TargetSensorID != 5 {
		t.Errorf("sent command = %+v, want ping to node 5", cmd)
	}

	state, _, err := db.CommandStatus("h1")
	if err != nil {
		t.Fatalf("CommandStatus: %v", err)
	}
	if state != StateInFlight {
		t.Errorf("state = %s, want in_flight", state)
	}

	// A second Kick must not start a second command while one is in flight.
	if err := d.Kick(5); err != nil {
		t.Fatalf("second Kick: %v", err)
	}
	if sent := link.drain(); len(sent) != 0 {
		t.Fatalf("second Kick sent %d frames, want 0 (one already in flight)", len(sent))
	}
}

func TestRetryExpiredResendsAndDecrementsBudget(t *testing.T) {
	db := newTestDB(t)
	link := newFakeLink()
	link.Start()
	now := time.Unix(1000, 0)
	d := NewDispatcher(db, link, func() time.Time { return now })

	id, _ := db.Enqueue(&CommandEntry{
		Handle: "h1", TargetNodeID: 5, CommandType: protocol.CmdPing, SequenceNumber: 0,
		AttemptsRemaining: DispatchRetries, NextAttemptAt: now, CreatedAt: now,
	})
	d.Kick(5) // counts as the first of DispatchRetries transmissions
	link.drain()

	now = now.Add(DispatchTimeout + time.Second)
	d.retryExpired()

	sent := link.drain()
	if len(sent) != 1 {
		t.Fatalf("resend count = %d, want 1", len(sent))
	}
	entry, err := db.InFlightForNode(5)
	if err != nil || entry == nil {
		t.Fatalf("InFlightForNode = %+v, %v", entry, err)
	}
	if entry.ID != id || entry.AttemptsRemaining != DispatchRetries-2 {
		t.Errorf("entry = %+v, want attempts %d", entry, DispatchRetries-2)
	}
}

// TestKickAndRetryExhaustionSendsExactlyBudgetTimes drives Submit/Kick with
// the real DispatchRetries default end to end: Kick's own transmission
// counts against the budget, so a command is transmitted exactly
// DispatchRetries times in total before landing on failed/timeout, never
// DispatchRetries+1.
func TestKickAndRetryExhaustionSendsExactlyBudgetTimes(t *testing.T) {
	db := newTestDB(t)
	link := newFakeLink()
	link.Start()
	now := time.Unix(1000, 0)
	s := NewStation(StationOptions{DB: db, Link: link, Now: func() time.Time { return now }})

	handle, err := s.Submit(5, protocol.CmdPing, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	totalSent := len(link.drain())
	for i := 0; i < DispatchRetries; i++ {
		now = now.Add(DispatchTimeout + time.Second)
		s.dispatcher.retryExpired()
		totalSent += len(link.drain())
	}

	if totalSent != DispatchRetries {
		t.Errorf("total transmissions = %d, want %d", totalSent, DispatchRetries)
	}

	state, disposition, err := db.CommandStatus(handle)
	if err != nil {
		t.Fatalf("CommandStatus: %v", err)
	}
	if state != StateFailed || disposition != DispositionTimeout {
		t.Errorf("state=%s disposition=%s, want failed/timeout", state, disposition)
	}
}

func TestRetryBudgetExhaustionMarksFailedAndStopsResending(t *testing.T) {
	db := newTestDB(t)
	link := newFakeLink()
	link.Start()
	now := time.Unix(1000, 0)
	d := NewDispatcher(db, link, func() time.Time { return now })

	db.Enqueue(&CommandEntry{
		Handle: "h1", TargetNodeID: 5, CommandType: protocol.CmdPing, SequenceNumber: 0,
		AttemptsRemaining: 1, NextAttemptAt: now, CreatedAt: now,
	})
	d.Kick(5) // the single allowed transmission
	link.drain()

	now = now.Add(DispatchTimeout + time.Second)
	d.retryExpired() // budget already exhausted by Kick: marks failed without resending

	if sent := link.drain(); len(sent) != 0 {
		t.Errorf("resent a command with an exhausted budget: %v", sent)
	}

	state, disposition, err := db.CommandStatus("h1")
	if err != nil {
		t.Fatalf("CommandStatus: %v", err)
	}
	if state != StateFailed || disposition != DispositionTimeout {
		t.Errorf("state=%s disposition=%s, want failed/timeout", state, disposition)
	}

	now = now.Add(DispatchTimeout + time.Second)
	d.retryExpired()
	if sent := link.drain(); len(sent) != 0 {
		t.Errorf("resent a failed command: %v", sent)
	}
}

func TestResolveExplicitAckCompletesInFlightCommand(t *testing.T) {
	db := newTestDB(t)
	link := newFakeLink()
	link.Start()
	now := time.Unix(1000, 0)
	d := NewDispatcher(db, link, func() time.Time { return now })

	db.Enqueue(&CommandEntry{
		Handle: "h1", TargetNodeID: 5, CommandType: protocol.CmdPing, SequenceNumber: 3,
		AttemptsRemaining: DispatchRetries, NextAttemptAt: now, CreatedAt: now,
	})
	d.Kick(5)

	ack := &protocol.AckPacket{CommandType: protocol.CmdAck, SensorID: 5, SequenceNumber: 3, StatusCode: protocol.StatusSuccess}
	ok, err := d.ResolveExplicitAck(5, ack)
	if err != nil || !ok {
		t.Fatalf("ResolveExplicitAck = %v, %v, want true, nil", ok, err)
	}

	state, disposition, err := db.CommandStatus("h1")
	if err != nil {
		t.Fatalf("CommandStatus: %v", err)
	}
	if state != StateDone || disposition != DispositionAcked {
		t.Errorf("state=%s disposition=%s, want done/acked", state, disposition)
	}
}

func TestResolveExplicitAckIgnoresMismatchedSequence(t *testing.T) {
	db := newTestDB(t)
	link := newFakeLink()
	link.Start()
	now := time.Unix(1000, 0)
	d := NewDispatcher(db, link, func() time.Time { return now })

	db.Enqueue(&CommandEntry{
		Handle: "h1", TargetNodeID: 5, CommandType: protocol.CmdPing, SequenceNumber: 3,
		AttemptsRemaining: DispatchRetries, NextAttemptAt: now, CreatedAt: now,
	})
	d.Kick(5)

	ack := &protocol.AckPacket{CommandType: protocol.CmdAck, SensorID: 5, SequenceNumber: 99, StatusCode: protocol.StatusSuccess}
	ok, err := d.ResolveExplicitAck(5, ack)
	if err != nil || ok {
		t.Fatalf("ResolveExplicitAck = %v, %v, want false, nil for mismatched sequence", ok, err)
	}
}

func TestResolvePiggybackedAckCompletesCommand(t *testing.T) {
	db := newTestDB(t)
	link := newFakeLink()
	link.Start()
	now := time.Unix(1000, 0)
	d := NewDispatcher(db, link, func() time.Time { return now })

	db.Enqueue(&CommandEntry{
		Handle: "h1", TargetNodeID: 5, CommandType: protocol.CmdSetInterval, SequenceNumber: 7,
		AttemptsRemaining: DispatchRetries, NextAttemptAt: now, CreatedAt: now,
	})
	d.Kick(5)

	ok, err := d.ResolvePiggybackedAck(5, 7, protocol.StatusSuccess)
	if err != nil || !ok {
		t.Fatalf("ResolvePiggybackedAck = %v, %v, want true, nil", ok, err)
	}
	state, disposition, err := db.CommandStatus("h1")
	if err != nil {
		t.Fatalf("CommandStatus: %v", err)
	}
	if state != StateDone || disposition != DispositionAcked {
		t.Errorf("state=%s disposition=%s, want done/acked", state, disposition)
	}
}
