// Package timer implements the "timer" baseline driver (§4.1): it
// exposes a single "tick" sensor and emits Signal on it once per Sense
// call. tick_every_ms is validated (it must be positive) but is not
// kept by the driver and does not set the tick rate: ticks follow the
// supervisor's sensing cadence for the device (supervisor.Spec.CadenceMs,
// else supervisor.DefaultCadence). The driver itself holds no clock,
// matching the stateless-sense contract other drivers follow.
package timer

import (
	"encoding/json"
	"fmt"

	"github.com/meshd/meshd/internal/device"
	"github.com/meshd/meshd/internal/model"
)

// DeviceType is the device_type string this package registers under.
const DeviceType = "timer"

// SensorName is the single sensor a timer device exposes.
const SensorName = "tick"

// Config is the driver-specific blob for a timer device.
type Config struct {
	TickEveryMs int `json:"tick_every_ms"`
}

// Driver is the timer driver implementation.
type Driver struct {
	name string
}

func init() {
	device.Register(DeviceType, New)
}

// New is the device.Factory for timer devices.
func New(deviceName string, configBlob json.RawMessage) (device.Driver, error) {
	var cfg Config
	if len(configBlob) > 0 {
		if err := json.Unmarshal(configBlob, &cfg); err != nil {
			return nil, fmt.Errorf("timer: invalid config: %w", err)
		}
	}
	if cfg.TickEveryMs <= 0 {
		return nil, fmt.Errorf("timer: tick_every_ms must be positive, got %d", cfg.TickEveryMs)
	}
	return &Driver{name: deviceName}, nil
}

// Descriptor implements device.Driver.
func (d *Driver) Descriptor() model.DeviceDescriptor {
	return model.DeviceDescriptor{
		DeviceName: d.name,
		DeviceType: DeviceType,
		Sensors:    map[string]struct{}{SensorName: {}},
		Actuators:  map[string]struct{}{},
	}
}

// Sense implements device.Driver: every invocation emits one Signal
// tick, regardless of how long has elapsed since the last call — the
// supervisor's cadence is what determines tick frequency.
func (d *Driver) Sense(c device.Collector) {
	c.Emit(SensorName, model.Signal())
}

// Actuate implements device.Driver. A timer has no actuators.
func (d *Driver) Actuate(actuatorName string, v model.ActuatorValue) model.ActuationResponse {
	return model.BadRequest(fmt.Sprintf("timer: unknown actuator %q", actuatorName))
}
