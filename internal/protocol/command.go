package protocol

import (
	"encoding/binary"
	"fmt"
)

// CommandDataSize is the capacity of a command's opaque data area; only
// the first DataLength bytes are meaningful.
const CommandDataSize = 192

// CommandHeaderSize is the number of bytes preceding the data area in a
// command frame: sync, command type, target sensor id, sequence number,
// data length, and one pad byte.
const CommandHeaderSize = 2 + 1 + 1 + 1 + 1 + 1 // 7

// CommandSize is the fixed total wire size of a command frame.
const CommandSize = CommandHeaderSize + CommandDataSize + 2 // 201

// CommandPacket is a coordinator<->node command frame.
type CommandPacket struct {
	CommandType    uint8
	TargetSensorID uint8 // 255 = broadcast
	SequenceNumber uint8
	Data           []byte // length <= CommandDataSize; only this much is meaningful
}

// Serialize encodes p into its fixed-size wire form. The data area is
// zero-padded past len(p.Data).
func (p *CommandPacket) Serialize() ([]byte, error) {
	if len(p.Data) > CommandDataSize {
		return nil, fmt.Errorf("command: data length %d exceeds capacity %d", len(p.Data), CommandDataSize)
	}
	buf := make([]byte, CommandSize)
	binary.LittleEndian.PutUint16(buf[0:2], SyncCommand)
	buf[2] = p.CommandType
	buf[3] = p.TargetSensorID
	buf[4] = p.SequenceNumber
	buf[5] = uint8(len(p.Data))
	buf[6] = 0 // pad
	copy(buf[CommandHeaderSize:CommandHeaderSize+CommandDataSize], p.Data)

	crc := CRC16(buf[:CommandHeaderSize+CommandDataSize])
	binary.LittleEndian.PutUint16(buf[CommandHeaderSize+CommandDataSize:], crc)
	return buf, nil
}

// DeserializeCommand parses a command frame, verifying the sync word,
// fixed size, and trailing CRC.
func DeserializeCommand(buf []byte) (*CommandPacket, error) {
	if len(buf) < CommandSize {
		return nil, fmt.Errorf("command: short buffer: %d bytes", len(buf))
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != SyncCommand {
		return nil, fmt.Errorf("command: bad sync word")
	}
	want := binary.LittleEndian.Uint16(buf[CommandHeaderSize+CommandDataSize:])
	got := CRC16(buf[:CommandHeaderSize+CommandDataSize])
	if want != got {
		return nil, fmt.Errorf("command: CRC mismatch: got %04X want %04X", got, want)
	}

	dataLen := int(buf[5])
	if dataLen > CommandDataSize {
		return nil, fmt.Errorf("command: dataLength %d exceeds capacity %d", dataLen, CommandDataSize)
	}
	data := make([]byte, dataLen)
	copy(data, buf[CommandHeaderSize:CommandHeaderSize+dataLen])

	return &CommandPacket{
		CommandType:    buf[2],
		TargetSensorID: buf[3],
		SequenceNumber: buf[4],
		Data:           data,
	}, nil
}
