// Package device defines the driver contract every hardware or
// simulated peripheral implements (§4.1), and a process-wide registry
// mapping device_type to a factory that instantiates drivers from
// configuration.
package device

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/meshd/meshd/internal/model"
)

// InitError is returned by a Factory when a device fails to
// initialize. It is per-device fatal: the device is omitted from the
// peer's identity and logged, but does not abort the daemon (§7).
type InitError struct {
	DeviceName string
	Reason     string
}

func (e *InitError) Error() string {
	return fmt.Sprintf("device %q: init failed: %s", e.DeviceName, e.Reason)
}

// Collector receives the sensor readings a Driver produces during one
// Sense call. Emit may be called zero or more times; sensorName must
// be one the driver declared in its Descriptor.
type Collector interface {
	Emit(sensorName string, v model.ActuatorValue)
}

// Driver is the capability interface every device implementation
// exposes (§4.1). A Driver is exclusively owned by the supervisor that
// created it. Sense calls for one Driver are serialized, and so are its
// Actuate calls, but sensing and actuation run on separate goroutines,
// so Sense and Actuate may run concurrently for the same Driver.
// Distinct drivers run in parallel.
type Driver interface {
	// Descriptor returns the fixed set of sensors and actuators this
	// driver exposes. Stable for the driver's lifetime.
	Descriptor() model.DeviceDescriptor

	// Sense is invoked by the supervisor on a schedule and writes zero
	// or more readings into collector. Must be non-blocking beyond the
	// underlying hardware I/O and complete in bounded time.
	Sense(collector Collector)

	// Actuate performs actuatorName with v and reports the outcome.
	// Unknown actuator or wrong value tag yields BadRequest.
	Actuate(actuatorName string, v model.ActuatorValue) model.ActuationResponse
}

// Factory constructs a Driver for one configured device. configBlob is
// the driver-specific portion of peer.devices[name].config, passed
// through unparsed.
type Factory func(deviceName string, configBlob json.RawMessage) (Driver, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a factory for deviceType to the process-wide registry.
// Registration is immutable after startup: Register is intended to be
// called from init() or early in main, never once the supervisor has
// started instantiating devices. Panics on a duplicate deviceType,
// since that is always a programming error.
func Register(deviceType string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[deviceType]; exists {
		panic(fmt.Sprintf("device: factory already registered for type %q", deviceType))
	}
	registry[deviceType] = f
}

// New instantiates deviceName of deviceType using its registered
// factory. Returns an *InitError if deviceType has no registered
// factory or the factory itself fails.
func New(deviceType, deviceName string, configBlob json.RawMessage) (Driver, error) {
	registryMu.RLock()
	f, ok := registry[deviceType]
	registryMu.RUnlock()
	if !ok {
		return nil, &InitError{DeviceName: deviceName, Reason: fmt.Sprintf("unknown device_type %q", deviceType)}
	}
	drv, err := f(deviceName, configBlob)
	if err != nil {
		return nil, &InitError{DeviceName: deviceName, Reason: err.Error()}
	}
	return drv, nil
}

// Collected is a simple in-memory Collector implementation used by the
// supervisor to gather one Sense call's output before fanning it out.
type Collected struct {
	Readings []CollectedReading
}

// CollectedReading pairs a sensor name with the value a driver emitted
// for it during one Sense call.
type CollectedReading struct {
	SensorName string
	Value      model.ActuatorValue
}

// Emit appends (sensorName, v) to the collected readings.
func (c *Collected) Emit(sensorName string, v model.ActuatorValue) {
	c.Readings = append(c.Readings, CollectedReading{SensorName: sensorName, Value: v})
}
