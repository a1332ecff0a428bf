// Package logger implements the "logger" baseline driver (§4.1): a
// sinkless actuator used by end-to-end scenarios and tests in place of
// real hardware. It exposes no sensors and records every actuation it
// receives.
package logger

import (
	"encoding/json"
	"sync"

	"github.com/meshd/meshd/internal/device"
	"github.com/meshd/meshd/internal/model"
)

// DeviceType is the device_type string this package registers under.
const DeviceType = "logger"

// ActuatorName is the single actuator a logger device exposes.
const ActuatorName = "ticker"

// Entry is one recorded actuation.
type Entry struct {
	ActuatorName string
	Value        model.ActuatorValue
}

// Driver is the logger driver implementation. It is safe for
// concurrent Entries reads while Actuate is called by the supervisor.
type Driver struct {
	name string

	mu      sync.Mutex
	entries []Entry
}

func init() {
	device.Register(DeviceType, New)
}

// New is the device.Factory for logger devices. Logger takes no
// configuration.
func New(deviceName string, _ json.RawMessage) (device.Driver, error) {
	return &Driver{name: deviceName}, nil
}

// Descriptor implements device.Driver.
func (d *Driver) Descriptor() model.DeviceDescriptor {
	return model.DeviceDescriptor{
		DeviceName: d.name,
		DeviceType: DeviceType,
		Sensors:    map[string]struct{}{},
		Actuators:  map[string]struct{}{ActuatorName: {}},
	}
}

// Sense implements device.Driver. A logger has no sensors.
func (d *Driver) Sense(c device.Collector) {}

// Actuate implements device.Driver: it records the actuation and
// always succeeds.
func (d *Driver) Actuate(actuatorName string, v model.ActuatorValue) model.ActuationResponse {
	if actuatorName != ActuatorName {
		return model.BadRequest("logger: unknown actuator " + actuatorName)
	}
	d.mu.Lock()
	d.entries = append(d.entries, Entry{ActuatorName: actuatorName, Value: v})
	d.mu.Unlock()
	return model.Success()
}

// Entries returns a copy of every actuation recorded so far, oldest
// first. Used by tests and the end-to-end scenarios to assert on
// logger state without hardware.
func (d *Driver) Entries() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}
