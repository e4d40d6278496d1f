package base

import "github.com/lss-net/lss-coordinator/internal/protocol"

// ResolveExplicitAck correlates a received ACK/NACK frame from nodeID to
// the node's current in-flight command by sequence number, completing
// it with the matching disposition. It is a no-op (ok=false) if nothing
// in flight matches, which happens for stray acks and for acks of
// commands this station never sent (e.g. after a restart).
func (d *Dispatcher) ResolveExplicitAck(nodeID uint8, ack *protocol.AckPacket) (ok bool, err error) {
	inFlight, err := d.db.InFlightForNode(nodeID)
	if err != nil || inFlight == nil {
		return false, err
	}
	if inFlight.SequenceNumber != ack.SequenceNumber {
		return false, nil
	}
	disposition := DispositionAcked
	if ack.CommandType == protocol.CmdNack {
		disposition = DispositionNacked
	}
	if err := d.db.Complete(inFlight.ID, StateDone, disposition); err != nil {
		return false, err
	}
	return true, nil
}

// ResolvePiggybackedAck correlates the lastCmdSeq/ackStatus fields
// carried on a multi-sensor telemetry frame's piggybacked
// acknowledgement to the node's in-flight command, for the case where
// the node's explicit ACK was lost but its next telemetry frame still
// reports having processed the command.
func (d *Dispatcher) ResolvePiggybackedAck(nodeID uint8, lastCmdSeq, ackStatus uint8) (ok bool, err error) {
	inFlight, err := d.db.InFlightForNode(nodeID)
	if err != nil || inFlight == nil {
		return false, err
	}
	if inFlight.SequenceNumber != lastCmdSeq {
		return false, nil
	}
	disposition := DispositionAcked
	if ackStatus == protocol.StatusError {
		disposition = DispositionNacked
	}
	if err := d.db.Complete(inFlight.ID, StateDone, disposition); err != nil {
		return false, err
	}
	return true, nil
}
