// Package applier implements the command applier: a pure function from a
// parsed command and the node's configuration store to an updated
// configuration and a serialised acknowledgement frame.
package applier

import (
	"encoding/binary"
	"math"

	"github.com/lss-net/lss-coordinator/internal/nodeconfig"
	"github.com/lss-net/lss-coordinator/internal/protocol"
)

// MeshHandle is the minimal surface the applier needs from the mesh
// layer. SET_MESH_CONFIG toggles mesh participation on the handle in
// step with the persisted configuration; the handle itself decides
// whether to honour it on subsequent Wrap calls.
type MeshHandle interface {
	SetEnabled(enabled bool)
}

// Outcome is the result of Apply: the (possibly unchanged) configuration,
// the serialised ACK/NACK frame, and two flags for the two-phase
// destructive commands the caller must act on only after the ACK has
// been transmitted.
type Outcome struct {
	Config       nodeconfig.NodeConfig
	Ack          []byte
	ShouldSave   bool
	Restart      bool
	FactoryReset bool
}

// Apply maps (command, config, mesh handle) to (config updates,
// ACK-or-NACK bytes). It never mutates cfg in place; the caller is
// responsible for persisting cfg via the node configuration store's Save
// when ShouldSave is set, and for honouring Restart/FactoryReset only
// after transmitting Ack.
func Apply(cmd *protocol.CommandPacket, cfg nodeconfig.NodeConfig, mesh MeshHandle) Outcome {
	switch cmd.CommandType {
	case protocol.CmdPing:
		return ack(cfg, cmd.SequenceNumber)

	case protocol.CmdGetConfig:
		return ack(cfg, cmd.SequenceNumber)

	case protocol.CmdSetInterval:
		if len(cmd.Data) < 4 {
			return nack(cfg, cmd.SequenceNumber)
		}
		ms := binary.LittleEndian.Uint32(cmd.Data[0:4])
		if ms < nodeconfig.MinTxInterval || ms > nodeconfig.MaxTxInterval {
			return nack(cfg, cmd.SequenceNumber)
		}
		cfg.TxInterval = ms
		return ackSave(cfg, cmd.SequenceNumber)

	case protocol.CmdSetLocation:
		loc, zone := splitTwoNulTerminated(cmd.Data)
		cfg.Location = truncate(loc, 31)
		cfg.Zone = truncate(zone, 15)
		return ackSave(cfg, cmd.SequenceNumber)

	case protocol.CmdSetTempThresh:
		if len(cmd.Data) < 8 {
			return nack(cfg, cmd.SequenceNumber)
		}
		cfg.TempLo = readF32(cmd.Data[0:4])
		cfg.TempHi = readF32(cmd.Data[4:8])
		return ackSave(cfg, cmd.SequenceNumber)

	case protocol.CmdSetBatteryThresh:
		if len(cmd.Data) < 8 {
			return nack(cfg, cmd.SequenceNumber)
		}
		cfg.BattLo = readF32(cmd.Data[0:4])
		cfg.BattCrit = readF32(cmd.Data[4:8])
		return ackSave(cfg, cmd.SequenceNumber)

	case protocol.CmdSetMeshConfig:
		if len(cmd.Data) < 1 {
			return nack(cfg, cmd.SequenceNumber)
		}
		cfg.MeshEnabled = cmd.Data[0] != 0
		if mesh != nil {
			mesh.SetEnabled(cfg.MeshEnabled)
		}
		return ackSave(cfg, cmd.SequenceNumber)

	case protocol.CmdRestart:
		out := ack(cfg, cmd.SequenceNumber)
		out.Restart = true
		return out

	case protocol.CmdFactoryReset:
		out := ack(cfg, cmd.SequenceNumber)
		out.FactoryReset = true
		return out

	case protocol.CmdSetLoRaParams:
		if len(cmd.Data) < 8 {
			return nack(cfg, cmd.SequenceNumber)
		}
		// layout: f32 freq, pad byte, u8 SF, pad byte, u8 TX power
		cfg.LoRaFreqMHz = readF32(cmd.Data[0:4])
		cfg.LoRaSF = cmd.Data[5]
		cfg.LoRaTxPower = cmd.Data[7]
		return ackSave(cfg, cmd.SequenceNumber)

	case protocol.CmdTimeSync, protocol.CmdBaseWelcome:
		if len(cmd.Data) < 6 {
			return nack(cfg, cmd.SequenceNumber)
		}
		cfg.LastTimeSync = binary.LittleEndian.Uint32(cmd.Data[0:4])
		cfg.TZOffsetMin = int32(int16(binary.LittleEndian.Uint16(cmd.Data[4:6])))
		return ackSave(cfg, cmd.SequenceNumber)

	default:
		return nack(cfg, cmd.SequenceNumber)
	}
}

func ack(cfg nodeconfig.NodeConfig, seq uint8) Outcome {
	frame, _ := protocol.BuildAck(protocol.CmdAck, cfg.NodeID, seq, protocol.StatusSuccess)
	return Outcome{Config: cfg, Ack: frame}
}

func ackSave(cfg nodeconfig.NodeConfig, seq uint8) Outcome {
	out := ack(cfg, seq)
	out.ShouldSave = true
	return out
}

func nack(cfg nodeconfig.NodeConfig, seq uint8) Outcome {
	frame, _ := protocol.BuildAck(protocol.CmdNack, cfg.NodeID, seq, protocol.StatusError)
	return Outcome{Config: cfg, Ack: frame}
}

func readF32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func splitTwoNulTerminated(data []byte) (first, second string) {
	i := 0
	for i < len(data) && data[i] != 0 {
		i++
	}
	first = string(data[:i])
	if i >= len(data) {
		return first, ""
	}
	i++ // skip NUL
	j := i
	for j < len(data) && data[j] != 0 {
		j++
	}
	return first, string(data[i:j])
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
