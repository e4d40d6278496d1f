package protocol

import (
	"encoding/binary"
	"fmt"
)

// AckHeaderSize is the number of bytes preceding the data area in an
// acknowledgement frame: sync, command type (CmdAck/CmdNack), sensor id,
// sequence number, status code, data length, and one pad byte.
const AckHeaderSize = 2 + 1 + 1 + 1 + 1 + 1 + 1 // 8

// AckSize is the fixed total wire size of an acknowledgement frame.
const AckSize = AckHeaderSize + CommandDataSize + 2 // 202

// AckPacket is a CMD_ACK/CMD_NACK frame acknowledging a command.
type AckPacket struct {
	CommandType    uint8 // CmdAck or CmdNack
	SensorID       uint8
	SequenceNumber uint8
	StatusCode     uint8
	Data           []byte // length <= CommandDataSize
}

// Serialize encodes p into its fixed-size wire form.
func (p *AckPacket) Serialize() ([]byte, error) {
	if p.CommandType != CmdAck && p.CommandType != CmdNack {
		return nil, fmt.Errorf("ack: command type 0x%02X is not CMD_ACK/CMD_NACK", p.CommandType)
	}
	if len(p.Data) > CommandDataSize {
		return nil, fmt.Errorf("ack: data length %d exceeds capacity %d", len(p.Data), CommandDataSize)
	}
	buf := make([]byte, AckSize)
	binary.LittleEndian.PutUint16(buf[0:2], SyncCommand)
	buf[2] = p.CommandType
	buf[3] = p.SensorID
	buf[4] = p.SequenceNumber
	buf[5] = p.StatusCode
	buf[6] = uint8(len(p.Data))
	buf[7] = 0 // pad
	copy(buf[AckHeaderSize:AckHeaderSize+CommandDataSize], p.Data)

	crc := CRC16(buf[:AckHeaderSize+CommandDataSize])
	binary.LittleEndian.PutUint16(buf[AckHeaderSize+CommandDataSize:], crc)
	return buf, nil
}

// DeserializeAck parses an acknowledgement frame, verifying the sync
// word, command type, fixed size, and trailing CRC.
func DeserializeAck(buf []byte) (*AckPacket, error) {
	if len(buf) < AckSize {
		return nil, fmt.Errorf("ack: short buffer: %d bytes", len(buf))
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != SyncCommand {
		return nil, fmt.Errorf("ack: bad sync word")
	}
	cmdType := buf[2]
	if cmdType != CmdAck && cmdType != CmdNack {
		return nil, fmt.Errorf("ack: command type 0x%02X is not CMD_ACK/CMD_NACK", cmdType)
	}
	want := binary.LittleEndian.Uint16(buf[AckHeaderSize+CommandDataSize:])
	got := CRC16(buf[:AckHeaderSize+CommandDataSize])
	if want != got {
		return nil, fmt.Errorf("ack: CRC mismatch: got %04X want %04X", got, want)
	}

	dataLen := int(buf[6])
	if dataLen > CommandDataSize {
		return nil, fmt.Errorf("ack: dataLength %d exceeds capacity %d", dataLen, CommandDataSize)
	}
	data := make([]byte, dataLen)
	copy(data, buf[AckHeaderSize:AckHeaderSize+dataLen])

	return &AckPacket{
		CommandType:    cmdType,
		SensorID:       buf[3],
		SequenceNumber: buf[4],
		StatusCode:     buf[5],
		Data:           data,
	}, nil
}

// BuildAck constructs a serialized ACK or NACK frame with a zero-length
// data area.
func BuildAck(kind uint8, sensorID, seq, statusCode uint8) ([]byte, error) {
	p := &AckPacket{
		CommandType:    kind,
		SensorID:       sensorID,
		SequenceNumber: seq,
		StatusCode:     statusCode,
	}
	return p.Serialize()
}
