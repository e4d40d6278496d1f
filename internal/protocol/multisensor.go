package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// LocationSize and ZoneSize are the fixed, NUL-terminated string capacities
// in the multi-sensor telemetry header.
const (
	LocationSize = 32
	ZoneSize     = 16
)

// MultiSensorHeaderSize is the size of the fixed header preceding the
// value entries in a multi-sensor telemetry frame.
const MultiSensorHeaderSize = 2 + 2 + 1 + 1 + 1 + 1 + 1 + 1 + 1 + 1 + LocationSize + ZoneSize // 60

// ValueEntrySize is the wire size of one telemetry value: a type tag
// followed by an IEEE-754 float32.
const ValueEntrySize = 1 + 4

// ValueEntry is a single typed telemetry measurement.
type ValueEntry struct {
	TypeTag uint8
	Value   float32
}

// MultiSensorPacket is the header-plus-values telemetry frame. LastCmdSeq
// and AckStatus carry a piggybacked acknowledgement of the most recently
// applied command.
type MultiSensorPacket struct {
	NetworkID      uint16
	SensorID       uint8
	BatteryPercent uint8
	PowerState     uint8
	LastCmdSeq     uint8
	AckStatus      uint8
	Location       string
	Zone           string
	Values         []ValueEntry
}

// Serialize encodes p, computing the trailing CRC over the header and
// value entries. It fails if valueCount exceeds MaxValueCount or if buf
// is too small to hold the frame.
func (p *MultiSensorPacket) Serialize(buf []byte) (int, error) {
	if len(p.Values) > MaxValueCount {
		return 0, fmt.Errorf("multi-sensor: valueCount %d exceeds max %d", len(p.Values), MaxValueCount)
	}
	size := MultiSensorHeaderSize + len(p.Values)*ValueEntrySize + 2
	if len(buf) < size {
		return 0, fmt.Errorf("multi-sensor: buffer too small: have %d need %d", len(buf), size)
	}

	binary.LittleEndian.PutUint16(buf[0:2], SyncMultiSensor)
	binary.LittleEndian.PutUint16(buf[2:4], p.NetworkID)
	buf[4] = PacketTypeMultiSensor
	buf[5] = p.SensorID
	buf[6] = uint8(len(p.Values))
	buf[7] = p.BatteryPercent
	buf[8] = p.PowerState
	buf[9] = p.LastCmdSeq
	buf[10] = p.AckStatus
	buf[11] = 0 // pad
	putString(buf[12:12+LocationSize], p.Location)
	putString(buf[12+LocationSize:12+LocationSize+ZoneSize], p.Zone)

	off := MultiSensorHeaderSize
	for _, v := range p.Values {
		buf[off] = v.TypeTag
		binary.LittleEndian.PutUint32(buf[off+1:off+5], math.Float32bits(v.Value))
		off += ValueEntrySize
	}

	crc := CRC16(buf[:off])
	binary.LittleEndian.PutUint16(buf[off:off+2], crc)
	return off + 2, nil
}

// DeserializeMultiSensor parses a multi-sensor telemetry frame, verifying
// the sync word, value count bound, and trailing CRC.
func DeserializeMultiSensor(buf []byte) (*MultiSensorPacket, error) {
	if len(buf) < MultiSensorHeaderSize+2 {
		return nil, fmt.Errorf("multi-sensor: short buffer: %d bytes", len(buf))
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != SyncMultiSensor {
		return nil, fmt.Errorf("multi-sensor: bad sync word")
	}
	valueCount := int(buf[6])
	if valueCount > MaxValueCount {
		return nil, fmt.Errorf("multi-sensor: valueCount %d exceeds max %d", valueCount, MaxValueCount)
	}
	size := MultiSensorHeaderSize + valueCount*ValueEntrySize + 2
	if len(buf) < size {
		return nil, fmt.Errorf("multi-sensor: short buffer for valueCount %d: have %d need %d", valueCount, len(buf), size)
	}

	span := MultiSensorHeaderSize + valueCount*ValueEntrySize
	want := binary.LittleEndian.Uint16(buf[span : span+2])
	got := CRC16(buf[:span])
	if want != got {
		return nil, fmt.Errorf("multi-sensor: CRC mismatch: got %04X want %04X", got, want)
	}

	p := &MultiSensorPacket{
		NetworkID:      binary.LittleEndian.Uint16(buf[2:4]),
		SensorID:       buf[5],
		BatteryPercent: buf[7],
		PowerState:     buf[8],
		LastCmdSeq:     buf[9],
		AckStatus:      buf[10],
		Location:       getString(buf[12 : 12+LocationSize]),
		Zone:           getString(buf[12+LocationSize : 12+LocationSize+ZoneSize]),
	}

	p.Values = make([]ValueEntry, valueCount)
	off := MultiSensorHeaderSize
	for i := 0; i < valueCount; i++ {
		p.Values[i] = ValueEntry{
			TypeTag: buf[off],
			Value:   math.Float32frombits(binary.LittleEndian.Uint32(buf[off+1 : off+5])),
		}
		off += ValueEntrySize
	}

	return p, nil
}
