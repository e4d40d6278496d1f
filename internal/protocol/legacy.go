package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// LegacyTelemetryPacket is the single-value telemetry frame predating the
// multi-sensor format. It is decoded for backward compatibility with
// older firmware but no longer produced by this implementation's client
// runtime.
type LegacyTelemetryPacket struct {
	NetworkID      uint16
	SensorID       uint8
	Value          float32
	BatteryPercent uint8
}

// LegacyTelemetrySize is the fixed wire size of a legacy telemetry frame.
const LegacyTelemetrySize = 2 + 2 + 1 + 4 + 1 + 2

// Serialize encodes p into its fixed-size wire form.
func (p *LegacyTelemetryPacket) Serialize() []byte {
	buf := make([]byte, LegacyTelemetrySize)
	binary.LittleEndian.PutUint16(buf[0:2], SyncLegacyTelemetry)
	binary.LittleEndian.PutUint16(buf[2:4], p.NetworkID)
	buf[4] = p.SensorID
	binary.LittleEndian.PutUint32(buf[5:9], math.Float32bits(p.Value))
	buf[9] = p.BatteryPercent
	crc := CRC16(buf[:10])
	binary.LittleEndian.PutUint16(buf[10:12], crc)
	return buf
}

// DeserializeLegacyTelemetry parses a legacy telemetry frame, verifying
// the sync word and trailing CRC.
func DeserializeLegacyTelemetry(buf []byte) (*LegacyTelemetryPacket, error) {
	if len(buf) < LegacyTelemetrySize {
		return nil, fmt.Errorf("legacy telemetry: short buffer: %d bytes", len(buf))
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != SyncLegacyTelemetry {
		return nil, fmt.Errorf("legacy telemetry: bad sync word")
	}
	want := binary.LittleEndian.Uint16(buf[10:12])
	got := CRC16(buf[:10])
	if want != got {
		return nil, fmt.Errorf("legacy telemetry: CRC mismatch: got %04X want %04X", got, want)
	}
	return &LegacyTelemetryPacket{
		NetworkID:      binary.LittleEndian.Uint16(buf[2:4]),
		SensorID:       buf[4],
		Value:          math.Float32frombits(binary.LittleEndian.Uint32(buf[5:9])),
		BatteryPercent: buf[9],
	}, nil
}
