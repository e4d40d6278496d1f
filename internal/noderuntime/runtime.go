// Package noderuntime implements the client-node scheduling loop:
// startup/announce, receive-dispatch, telemetry transmit, and beacon
// tick. It encapsulates what the original firmware kept as module-level
// globals (radio, mesh router, sensor array, last-tx timestamp) as a
// single runtime value the outermost loop drives.
package noderuntime

import (
	"errors"
	"log"
	"time"

	"github.com/lss-net/lss-coordinator/internal/applier"
	"github.com/lss-net/lss-coordinator/internal/mesh"
	"github.com/lss-net/lss-coordinator/internal/nodeconfig"
	"github.com/lss-net/lss-coordinator/internal/protocol"
	"github.com/lss-net/lss-coordinator/internal/radio"
	"github.com/lss-net/lss-coordinator/internal/sensor"
)

// AckInterframeDelay and RebootDelay are suspension points: a short
// pause around the ACK transmit, and a longer one before a
// RESTART/FACTORY_RESET actually reboots.
const (
	AckInterframeDelay = 50 * time.Millisecond
	RebootDelay        = 200 * time.Millisecond
)

// meshEnabledHandle adapts a bool cell to applier.MeshHandle so
// SET_MESH_CONFIG can flip mesh participation without the applier
// depending on the mesh package.
type meshEnabledHandle struct{ enabled *bool }

func (h meshEnabledHandle) SetEnabled(v bool) { *h.enabled = v }

// Runtime owns everything the original firmware kept as module-level
// globals: the radio link, the mesh router, the sensor array, and the
// last-transmit timestamp. The outermost loop (cmd/lss-node) drives it
// by calling RunOnce repeatedly; RunOnce is not safe for concurrent use,
// mirroring the original's single-threaded cooperative model.
type Runtime struct {
	link    radio.Link
	sensors sensor.Sensor
	store   *nodeconfig.Store
	router  *mesh.Router

	cfg         nodeconfig.NodeConfig
	meshEnabled bool

	lastTelemetryTx time.Time
	lastCmdSeq      uint8
	lastAckStatus   uint8

	rxFlag chan []byte // capacity 1, set by the radio callback, drained by the loop

	now   func() time.Time
	sleep func(time.Duration)

	onRestart      func()
	onFactoryReset func()
}

// Options bundles the collaborators a Runtime is built from.
type Options struct {
	Link    radio.Link
	Sensors sensor.Sensor
	Store   *nodeconfig.Store

	// Now and Sleep default to time.Now and time.Sleep; tests override
	// them for determinism.
	Now   func() time.Time
	Sleep func(time.Duration)

	// OnRestart and OnFactoryReset are invoked, after the ACK has been
	// transmitted and RebootDelay has elapsed, to perform the actual
	// reboot/wipe. Left nil in tests that only assert protocol behaviour.
	OnRestart      func()
	OnFactoryReset func()
}

// New constructs a Runtime. It does not touch the radio or sensors; call
// Start to bring the node up.
func New(opts Options) *Runtime {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	return &Runtime{
		link:           opts.Link,
		sensors:        opts.Sensors,
		store:          opts.Store,
		now:            now,
		sleep:          sleep,
		rxFlag:         make(chan []byte, 1),
		onRestart:      opts.OnRestart,
		onFactoryReset: opts.OnFactoryReset,
	}
}

// Start loads configuration, initialises sensors, registers the receive
// callback, and transmits CMD_SENSOR_ANNOUNCE with the node's own id in
// the target-sensor field, which the base station enrols. Radio parameters
// (frequency, SF, bandwidth 125 kHz, coding rate 4/5, sync word
// 0x12+(networkId mod 244), TX power, preamble length 8) are a property
// of the link the caller constructed; Start only logs the node's view of
// them, since radio.Link does not expose a configuration surface beyond
// Start/Stop/Send.
func (r *Runtime) Start() error {
	cfg, err := r.store.Load()
	if err != nil {
		return err
	}
	r.cfg = cfg
	r.meshEnabled = cfg.MeshEnabled
	r.router = mesh.NewRouter(cfg.NodeID, r.now)

	syncWord := 0x12 + (cfg.NetworkID % 244)
	log.Printf("noderuntime: node %d starting: freq=%.1fMHz sf=%d txpower=%ddBm sync=0x%02X",
		cfg.NodeID, cfg.LoRaFreqMHz, cfg.LoRaSF, cfg.LoRaTxPower, syncWord)

	if err := r.sensors.Begin(); err != nil {
		return err
	}

	r.link.SetReceiveCallback(r.onFrame)
	if err := r.link.Start(); err != nil {
		return err
	}

	announceCmd := &protocol.CommandPacket{
		CommandType:    protocol.CmdSensorAnnounce,
		TargetSensorID: cfg.NodeID,
		SequenceNumber: 0,
	}
	frame, err := announceCmd.Serialize()
	if err != nil {
		return err
	}
	return r.transmit(frame)
}

// onFrame is the radio receive callback. It sets the capacity-1 rxFlag,
// dropping the frame if the loop has not yet drained the previous one —
// the Go translation of an interrupt-context boolean flag, the only
// state shared between the interrupt and the main loop, which must be
// set atomically.
func (r *Runtime) onFrame(payload []byte) {
	select {
	case r.rxFlag <- payload:
	default:
	}
}

// RunOnce executes one iteration of the three-phase main loop: receive
// dispatch, telemetry transmit, beacon tick.
func (r *Runtime) RunOnce() {
	r.dispatchReceived()
	r.maybeTransmitTelemetry()
	r.maybeTransmitBeacon()
}

func (r *Runtime) dispatchReceived() {
	var frame []byte
	select {
	case frame = <-r.rxFlag:
	default:
		return
	}

	cmd, err := decodeCommandWithRetry(frame)
	if err != nil {
		return // CRC fault or sync mismatch: silently discard
	}
	if cmd.TargetSensorID != r.cfg.NodeID && cmd.TargetSensorID != protocol.NodeIDBroadcast {
		return
	}

	out := applier.Apply(cmd, r.cfg, meshEnabledHandle{&r.meshEnabled})
	r.cfg = out.Config
	if out.ShouldSave {
		if err := r.store.Save(r.cfg); err != nil {
			log.Printf("noderuntime: save config: %v", err)
		}
	}
	r.lastCmdSeq = cmd.SequenceNumber
	if ack, aerr := protocol.DeserializeAck(out.Ack); aerr == nil {
		r.lastAckStatus = ack.StatusCode
	}

	r.sleep(AckInterframeDelay)
	if err := r.transmit(out.Ack); err != nil {
		log.Printf("noderuntime: transmit ack: %v", err)
	}

	if out.Restart {
		r.sleep(RebootDelay)
		if r.onRestart != nil {
			r.onRestart()
		}
	}
	if out.FactoryReset {
		if _, err := r.store.FactoryReset(); err != nil {
			log.Printf("noderuntime: factory reset: %v", err)
		}
		r.sleep(RebootDelay)
		if r.onFactoryReset != nil {
			r.onFactoryReset()
		}
	}
}

// decodeCommandWithRetry tries to classify and decode buf as a command
// frame at offset 0, falling back to offset 4 to tolerate a four-byte
// RadioHead header.
func decodeCommandWithRetry(buf []byte) (*protocol.CommandPacket, error) {
	if fam := protocol.DetectPacket(buf); fam == protocol.FamilyCommand {
		if cmd, err := protocol.DeserializeCommand(buf); err == nil {
			return cmd, nil
		}
	}
	if len(buf) > radio.RadioHeadHeaderSize {
		offset := buf[radio.RadioHeadHeaderSize:]
		if fam := protocol.DetectPacket(offset); fam == protocol.FamilyCommand {
			return protocol.DeserializeCommand(offset)
		}
	}
	return nil, errNoCommand
}

var errNoCommand = errors.New("noderuntime: no command frame detected")

func (r *Runtime) maybeTransmitTelemetry() {
	now := r.now()
	if !r.lastTelemetryTx.IsZero() && now.Sub(r.lastTelemetryTx) < time.Duration(r.cfg.TxInterval)*time.Millisecond {
		return
	}

	if err := r.sensors.Read(); err != nil {
		log.Printf("noderuntime: sensor read: %v", err)
	}
	values := r.sensors.Values(make([]sensor.Value, 0, protocol.MaxValueCount))
	if len(values) > protocol.MaxValueCount {
		values = values[:protocol.MaxValueCount]
	}

	entries := make([]protocol.ValueEntry, len(values))
	for i, v := range values {
		entries[i] = protocol.ValueEntry{TypeTag: v.TypeTag, Value: v.Value}
	}

	pkt := &protocol.MultiSensorPacket{
		NetworkID:      r.cfg.NetworkID,
		SensorID:       r.cfg.NodeID,
		BatteryPercent: 100,
		PowerState:     protocol.PowerDischarging,
		LastCmdSeq:     r.lastCmdSeq,
		AckStatus:      r.lastAckStatus,
		Location:       r.cfg.Location,
		Zone:           r.cfg.Zone,
		Values:         entries,
	}

	buf := make([]byte, protocol.MultiSensorHeaderSize+protocol.MaxValueCount*protocol.ValueEntrySize+2)
	n, err := pkt.Serialize(buf)
	if err != nil {
		log.Printf("noderuntime: serialize telemetry: %v", err)
		return
	}
	payload := buf[:n]

	if r.meshEnabled {
		payload = r.router.Wrap(protocol.NodeIDCoordinator, payload)
	}
	if err := r.transmit(payload); err != nil {
		log.Printf("noderuntime: transmit telemetry: %v", err)
		return
	}
	r.lastTelemetryTx = now
}

func (r *Runtime) maybeTransmitBeacon() {
	if r.router == nil {
		return
	}
	beacon, ok := r.router.Tick()
	if !ok {
		return
	}
	if err := r.transmit(beacon); err != nil {
		log.Printf("noderuntime: transmit beacon: %v", err)
	}
}

func (r *Runtime) transmit(payload []byte) error {
	return r.link.Send(payload)
}
