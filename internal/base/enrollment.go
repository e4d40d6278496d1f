package base

import (
	"encoding/binary"
	"time"

	"github.com/lss-net/lss-coordinator/internal/protocol"
)

// WelcomeReplyInterval is a short reply interval for repeated
// SENSOR_ANNOUNCE frames. HandleAnnounce does not consult it: every
// announce, from a new or an already-enrolled node, gets a fresh
// CMD_BASE_WELCOME.
const WelcomeReplyInterval = 5 * time.Second

// BuildWelcome constructs the CMD_BASE_WELCOME reply to a
// CMD_SENSOR_ANNOUNCE: current UTC epoch seconds and the station's time
// zone offset in minutes, identical in layout to CMD_TIME_SYNC (the
// applier treats the two commands the same way).
func BuildWelcome(nowUTC time.Time, tzOffsetMin int16, sensorID, seq uint8) ([]byte, error) {
	data := make([]byte, 6)
	binary.LittleEndian.PutUint32(data[0:4], uint32(nowUTC.Unix()))
	binary.LittleEndian.PutUint16(data[4:6], uint16(tzOffsetMin))

	pkt := &protocol.CommandPacket{
		CommandType:    protocol.CmdBaseWelcome,
		TargetSensorID: sensorID,
		SequenceNumber: seq,
		Data:           data,
	}
	return pkt.Serialize()
}

// BuildTimeSync constructs a CMD_TIME_SYNC frame with the same payload
// layout as BuildWelcome, used for the periodic resync broadcast rather
// than the one-time enrollment handshake.
func BuildTimeSync(nowUTC time.Time, tzOffsetMin int16, sensorID, seq uint8) ([]byte, error) {
	data := make([]byte, 6)
	binary.LittleEndian.PutUint32(data[0:4], uint32(nowUTC.Unix()))
	binary.LittleEndian.PutUint16(data[4:6], uint16(tzOffsetMin))

	pkt := &protocol.CommandPacket{
		CommandType:    protocol.CmdTimeSync,
		TargetSensorID: sensorID,
		SequenceNumber: seq,
		Data:           data,
	}
	return pkt.Serialize()
}

// HandleAnnounce processes a received CMD_SENSOR_ANNOUNCE: registers the
// node if new, and replies with CMD_BASE_WELCOME carrying the current
// time. Returns the welcome frame to transmit.
func (s *Station) HandleAnnounce(nodeID uint8, seq uint8) ([]byte, error) {
	now := s.now()
	isNew, err := s.db.UpsertNode(nodeID, now)
	if err != nil {
		return nil, err
	}
	if isNew {
		s.logf("base: node %d enrolled", nodeID)
	}
	if err := s.db.MarkTimeSynced(nodeID, now); err != nil {
		return nil, err
	}
	return BuildWelcome(now.UTC(), s.tzOffsetMin, nodeID, seq)
}
