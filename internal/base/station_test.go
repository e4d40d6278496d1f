package base

import (
	"testing"
	"time"

	"github.com/lss-net/lss-coordinator/internal/protocol"
)

func newTestStation(t *testing.T, now func() time.Time) (*Station, *fakeLink) {
	t.Helper()
	db := newTestDB(t)
	link := newFakeLink()
	s := NewStation(StationOptions{DB: db, Link: link, TZOffsetMin: -300, Now: now})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s, link
}

func TestAnnounceEnrollsNodeAndRepliesWithWelcome(t *testing.T) {
	now := time.Unix(2_000_000, 0)
	s, link := newTestStation(t, func() time.Time { return now })

	announce := &protocol.CommandPacket{CommandType: protocol.CmdSensorAnnounce, TargetSensorID: 9, SequenceNumber: 0}
	frame, _ := announce.Serialize()
	link.deliver(frame)

	sent := link.drain()
	if len(sent) != 1 {
		t.Fatalf("sent = %d frames, want 1 welcome", len(sent))
	}
	welcome, err := protocol.DeserializeCommand(sent[0])
	if err != nil {
		t.Fatalf("DeserializeCommand: %v", err)
	}
	if welcome.CommandType != protocol.CmdBaseWelcome || welcome.TargetSensorID != 9 {
		t.Errorf("welcome = %+v, want CMD_BASE_WELCOME to node 9", welcome)
	}

	nodes, err := s.db.AllNodes()
	if err != nil || len(nodes) != 1 || nodes[0].NodeID != 9 {
		t.Fatalf("AllNodes = %v, %v, want node 9 registered", nodes, err)
	}
}

func TestSubmitDispatchesAndExplicitAckCompletesIt(t *testing.T) {
	now := time.Unix(1000, 0)
	s, link := newTestStation(t, func() time.Time { return now })

	id, err := s.Submit(4, protocol.CmdPing, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	sent := link.drain()
	if len(sent) != 1 {
		t.Fatalf("sent = %d frames, want 1", len(sent))
	}
	cmd, err := protocol.DeserializeCommand(sent[0])
	if err != nil {
		t.Fatalf("DeserializeCommand: %v", err)
	}

	ack, _ := protocol.BuildAck(protocol.CmdAck, 4, cmd.SequenceNumber, protocol.StatusSuccess)
	link.deliver(ack)

	state, disposition, err := s.Status(id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if state != StateDone || disposition != DispositionAcked {
		t.Errorf("state=%s disposition=%s, want done/acked", state, disposition)
	}
}

func TestSubmitDispatchesAndPiggybackedAckCompletesIt(t *testing.T) {
	now := time.Unix(1000, 0)
	s, link := newTestStation(t, func() time.Time { return now })

	id, err := s.Submit(4, protocol.CmdSetInterval, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	sent := link.drain()
	cmd, _ := protocol.DeserializeCommand(sent[0])

	telemetry := &protocol.MultiSensorPacket{
		NetworkID: 1, SensorID: 4, BatteryPercent: 90, PowerState: protocol.PowerDischarging,
		LastCmdSeq: cmd.SequenceNumber, AckStatus: protocol.StatusSuccess,
		Location: "roof", Zone: "a",
	}
	buf := make([]byte, protocol.MultiSensorHeaderSize+2)
	n, err := telemetry.Serialize(buf)
	if err != nil {
		t.Fatalf("Serialize telemetry: %v", err)
	}
	link.deliver(buf[:n])

	state, disposition, err := s.Status(id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if state != StateDone || disposition != DispositionAcked {
		t.Errorf("state=%s disposition=%s, want done/acked", state, disposition)
	}
}

func TestCheckLivenessResyncsOverdueNode(t *testing.T) {
	now := time.Unix(1000, 0)
	s, link := newTestStation(t, func() time.Time { return now })

	s.db.UpsertNode(3, now)
	s.db.MarkTimeSynced(3, now)
	now = now.Add(ResyncInterval + time.Minute)

	s.checkLiveness()

	sent := link.drain()
	if len(sent) != 1 {
		t.Fatalf("sent = %d frames, want 1 resync", len(sent))
	}
	cmd, err := protocol.DeserializeCommand(sent[0])
	if err != nil {
		t.Fatalf("DeserializeCommand: %v", err)
	}
	if cmd.CommandType != protocol.CmdTimeSync || cmd.TargetSensorID != 3 {
		t.Errorf("resync command = %+v, want CMD_TIME_SYNC to node 3", cmd)
	}
}

func TestCheckLivenessSkipsNodeWithinResyncInterval(t *testing.T) {
	now := time.Unix(1000, 0)
	s, link := newTestStation(t, func() time.Time { return now })

	s.db.UpsertNode(3, now)
	s.db.MarkTimeSynced(3, now)
	now = now.Add(time.Minute)
	s.checkLiveness()

	if sent := link.drain(); len(sent) != 0 {
		t.Errorf("sent %v, want no resync before the interval elapses", sent)
	}
}
