package base

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lss-net/lss-coordinator/internal/mesh"
	"github.com/lss-net/lss-coordinator/internal/protocol"
	"github.com/lss-net/lss-coordinator/internal/radio"
)

// OfflineThreshold and ResyncInterval are the liveness parameters: a
// node that has not been heard from in OfflineThreshold is considered
// offline, and every enrolled node is re-sent a time sync every
// ResyncInterval regardless of liveness: the periodic liveness ticker
// sends each overdue node its own CMD_TIME_SYNC.
const (
	OfflineThreshold = 300 * time.Second
	ResyncInterval   = 3 * time.Hour
	livenessTick     = 30 * time.Second
)

// Station wires together the command queue, dispatcher, mesh router
// (for frames arriving already mesh-wrapped), and liveness tracking
// into the base-station half of the protocol.
type Station struct {
	db         *DB
	link       radio.Link
	dispatcher *Dispatcher
	router     *mesh.Router

	tzOffsetMin int16
	now         func() time.Time

	mu        sync.Mutex
	seqByNode map[uint8]uint8

	stop chan struct{}
	done chan struct{}
}

// StationOptions bundles Station's collaborators.
type StationOptions struct {
	DB          *DB
	Link        radio.Link
	TZOffsetMin int16
	Now         func() time.Time
}

// NewStation constructs a Station. Call Start to begin receiving and
// the liveness/dispatch loops.
func NewStation(opts StationOptions) *Station {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Station{
		db:          opts.DB,
		link:        opts.Link,
		dispatcher:  NewDispatcher(opts.DB, opts.Link, now),
		router:      mesh.NewRouter(protocol.NodeIDCoordinator, now),
		tzOffsetMin: opts.TZOffsetMin,
		now:         now,
		seqByNode:   make(map[uint8]uint8),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start registers the receive callback and brings the radio link up.
// It does not start the dispatcher or liveness loops; call Run for that.
func (s *Station) Start() error {
	s.link.SetReceiveCallback(s.onFrame)
	return s.link.Start()
}

// Run blocks, driving the dispatcher's retry ticker and the liveness
// ticker, until Stop is called.
func (s *Station) Run() {
	defer close(s.done)
	go s.dispatcher.Run()
	defer s.dispatcher.Stop()

	ticker := time.NewTicker(livenessTick)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.checkLiveness()
		}
	}
}

// Stop signals Run to return and waits for it to do so.
func (s *Station) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Station) logf(format string, args ...any) {
	log.Printf(format, args...)
}

// onFrame is the radio receive callback: it classifies the incoming
// frame and routes it to enrollment, ACK correlation, or telemetry
// handling. A node with mesh routing disabled transmits bare protocol
// frames directly; one with mesh enabled wraps them in a mesh header
// that may have been relayed through intermediate nodes. onFrame tries
// the bare frame first and only falls back to mesh unwrapping when the
// leading sync word is not recognised, mirroring the sender-side choice
// in noderuntime of wrapping only when mesh is enabled.
func (s *Station) onFrame(raw []byte) {
	if protocol.DetectPacket(raw) != protocol.FamilyUnknown {
		s.dispatchPayload(raw)
		return
	}
	if len(raw) < mesh.HeaderSize {
		return
	}
	result := s.router.Receive(raw)
	switch result.Outcome {
	case mesh.Forwarded:
		s.forward(result.Header, raw[mesh.HeaderSize:])
	case mesh.Delivered:
		s.dispatchPayload(result.Payload)
	case mesh.Dropped:
	}
}

func (s *Station) dispatchPayload(payload []byte) {
	switch protocol.DetectPacket(payload) {
	case protocol.FamilyCommand:
		s.handleCommandFrame(payload)
	case protocol.FamilyAck:
		s.handleAckFrame(payload)
	case protocol.FamilyMultiSensor:
		s.handleTelemetryFrame(payload)
	case protocol.FamilyLegacyTelemetry:
		s.handleLegacyTelemetryFrame(payload)
	}
}

// forward re-transmits a frame the router classified as Forwarded, with
// hop count incremented, prevHop set to self, TTL decremented, and the
// next hop resolved against the station's own route table.
func (s *Station) forward(h *mesh.Header, payload []byte) {
	if h.TTL == 0 {
		return
	}
	next := &mesh.Header{
		PacketType:     h.PacketType,
		SourceID:       h.SourceID,
		DestID:         h.DestID,
		NextHop:        s.router.NextHopFor(h.DestID),
		PrevHop:        protocol.NodeIDCoordinator,
		HopCount:       h.HopCount + 1,
		TTL:            h.TTL - 1,
		SequenceNumber: h.SequenceNumber,
	}
	frame := mesh.WrapFrame(next, payload)
	if err := s.link.Send(frame); err != nil {
		s.logf("base: forward frame toward node %d: %v", h.DestID, err)
	}
}

func (s *Station) handleCommandFrame(payload []byte) {
	cmd, err := protocol.DeserializeCommand(payload)
	if err != nil {
		return
	}
	if cmd.CommandType != protocol.CmdSensorAnnounce {
		return
	}
	welcome, err := s.HandleAnnounce(cmd.TargetSensorID, cmd.SequenceNumber)
	if err != nil {
		s.logf("base: build welcome for node %d: %v", cmd.TargetSensorID, err)
		return
	}
	if err := s.link.Send(welcome); err != nil {
		s.logf("base: send welcome to node %d: %v", cmd.TargetSensorID, err)
	}
}

func (s *Station) handleAckFrame(payload []byte) {
	ack, err := protocol.DeserializeAck(payload)
	if err != nil {
		return
	}
	if _, err := s.dispatcher.ResolveExplicitAck(ack.SensorID, ack); err != nil {
		s.logf("base: resolve ack from node %d: %v", ack.SensorID, err)
	}
	s.dispatcher.Kick(ack.SensorID)
}

func (s *Station) handleTelemetryFrame(payload []byte) {
	pkt, err := protocol.DeserializeMultiSensor(payload)
	if err != nil {
		return
	}
	s.recordSeen(pkt.SensorID)
	if _, err := s.dispatcher.ResolvePiggybackedAck(pkt.SensorID, pkt.LastCmdSeq, pkt.AckStatus); err != nil {
		s.logf("base: resolve piggybacked ack from node %d: %v", pkt.SensorID, err)
	}
	s.dispatcher.Kick(pkt.SensorID)
}

func (s *Station) handleLegacyTelemetryFrame(payload []byte) {
	pkt, err := protocol.DeserializeLegacyTelemetry(payload)
	if err != nil {
		return
	}
	s.recordSeen(pkt.SensorID)
}

func (s *Station) recordSeen(nodeID uint8) {
	if _, err := s.db.UpsertNode(nodeID, s.now()); err != nil {
		s.logf("base: record node %d seen: %v", nodeID, err)
	}
}

// checkLiveness logs nodes that have crossed OfflineThreshold without a
// frame, and re-issues CMD_TIME_SYNC to any node overdue for
// ResyncInterval.
func (s *Station) checkLiveness() {
	nodes, err := s.db.AllNodes()
	if err != nil {
		s.logf("base: list nodes for liveness check: %v", err)
		return
	}
	now := s.now()
	for _, n := range nodes {
		if now.Sub(n.LastSeen) > OfflineThreshold {
			s.logf("base: node %d offline (last seen %s ago)", n.NodeID, now.Sub(n.LastSeen))
		}
		if now.Sub(n.LastTimeSync) > ResyncInterval {
			seq := s.nextSeq(n.NodeID)
			frame, err := BuildTimeSync(now.UTC(), s.tzOffsetMin, n.NodeID, seq)
			if err != nil {
				s.logf("base: build resync for node %d: %v", n.NodeID, err)
				continue
			}
			if err := s.link.Send(frame); err != nil {
				s.logf("base: send resync to node %d: %v", n.NodeID, err)
				continue
			}
			if err := s.db.MarkTimeSynced(n.NodeID, now); err != nil {
				s.logf("base: mark resync for node %d: %v", n.NodeID, err)
			}
		}
	}
}

// Submit enqueues a command for nodeID and kicks the dispatcher so it
// starts immediately if the node has no command already in flight. It
// returns the command's handle (a UUID), which Status can later be
// polled with.
func (s *Station) Submit(nodeID, commandType uint8, data []byte) (string, error) {
	handle := uuid.NewString()
	seq := s.nextSeq(nodeID)
	_, err := s.db.Enqueue(&CommandEntry{
		Handle:            handle,
		TargetNodeID:      nodeID,
		CommandType:       commandType,
		Payload:           data,
		SequenceNumber:    seq,
		AttemptsRemaining: DispatchRetries,
		NextAttemptAt:     s.now(),
		CreatedAt:         s.now(),
	})
	if err != nil {
		return "", err
	}
	if err := s.dispatcher.Kick(nodeID); err != nil {
		return handle, fmt.Errorf("base: kick dispatcher for node %d: %w", nodeID, err)
	}
	return handle, nil
}

// Status reports a submitted command's current lifecycle state, looked
// up by the handle Submit returned.
func (s *Station) Status(handle string) (CommandState, Disposition, error) {
	return s.db.CommandStatus(handle)
}

func (s *Station) nextSeq(nodeID uint8) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.seqByNode[nodeID]
	s.seqByNode[nodeID] = seq + 1
	return seq
}
