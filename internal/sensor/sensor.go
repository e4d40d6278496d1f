// Package sensor defines the sensor collaborator interface the client
// runtime polls each telemetry interval, plus a Fake implementation for
// the host simulator.
package sensor

import "github.com/lss-net/lss-coordinator/internal/protocol"

// Value is a single typed measurement ready to be packed into a
// multi-sensor telemetry frame.
type Value struct {
	TypeTag uint8
	Value   float32
}

// Sensor is the external collaborator the client runtime drives each
// loop iteration. Read refreshes cached values; a failed Read must leave
// previously cached values untouched so the node keeps transmitting its
// last-known-good reading rather than zeros.
type Sensor interface {
	Begin() error
	Read() error
	// Values appends cached measurements to out and returns the extended
	// slice. The number appended is not limited to cap(out)-len(out).
	Values(out []Value) []Value
}

// Fake is a deterministic Sensor used by the host simulator and by
// tests. It never fails.
type Fake struct {
	cached []Value
	seq    func() []Value
}

// NewFake builds a Fake sensor whose Read calls nextReading to refresh
// its cached values.
func NewFake(nextReading func() []Value) *Fake {
	return &Fake{seq: nextReading}
}

func (f *Fake) Begin() error { return nil }

func (f *Fake) Read() error {
	if f.seq == nil {
		return nil
	}
	f.cached = f.seq()
	return nil
}

func (f *Fake) Values(out []Value) []Value {
	return append(out, f.cached...)
}

// StaticReading returns a nextReading func for NewFake that always
// reports the same two values, useful as the default simulator profile.
func StaticReading(tempC, humidityPct float32) func() []Value {
	return func() []Value {
		return []Value{
			{TypeTag: protocol.ValueTemperatureC, Value: tempC},
			{TypeTag: protocol.ValueHumidityPct, Value: humidityPct},
		}
	}
}
