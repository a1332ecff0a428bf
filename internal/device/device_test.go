package device_test

import (
	"encoding/json"
	"testing"

	"github.com/meshd/meshd/internal/device"
	"github.com/meshd/meshd/internal/device/logger"
	"github.com/meshd/meshd/internal/device/timer"
	"github.com/meshd/meshd/internal/model"
)

func TestNewUnknownDeviceType(t *testing.T) {
	_, err := device.New("no-such-type", "d1", nil)
	if err == nil {
		t.Fatal("expected error for unknown device_type")
	}
	if _, ok := err.(*device.InitError); !ok {
		t.Errorf("got %T, want *device.InitError", err)
	}
}

func TestTimerFactory(t *testing.T) {
	blob, _ := json.Marshal(timer.Config{TickEveryMs: 50})
	drv, err := device.New(timer.DeviceType, "t1", blob)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	desc := drv.Descriptor()
	if !desc.HasSensor(timer.SensorName) {
		t.Errorf("expected timer to declare sensor %q", timer.SensorName)
	}
	if len(desc.Actuators) != 0 {
		t.Errorf("timer should declare no actuators, got %v", desc.Actuators)
	}

	var c device.Collected
	drv.Sense(&c)
	if len(c.Readings) != 1 || c.Readings[0].SensorName != timer.SensorName {
		t.Fatalf("got readings %+v, want one tick", c.Readings)
	}
	if !c.Readings[0].Value.Equal(model.Signal()) {
		t.Errorf("got value %+v, want Signal", c.Readings[0].Value)
	}
}

func TestTimerRejectsBadConfig(t *testing.T) {
	blob, _ := json.Marshal(timer.Config{TickEveryMs: 0})
	if _, err := device.New(timer.DeviceType, "t1", blob); err == nil {
		t.Fatal("expected error for tick_every_ms=0")
	}
}

func TestTimerActuateBadRequest(t *testing.T) {
	blob, _ := json.Marshal(timer.Config{TickEveryMs: 10})
	drv, _ := device.New(timer.DeviceType, "t1", blob)
	resp := drv.Actuate("nope", model.Signal())
	if resp.Kind != model.ResponseBadRequest {
		t.Errorf("got %+v, want BadRequest", resp)
	}
}

func TestLoggerFactory(t *testing.T) {
	drv, err := device.New(logger.DeviceType, "l1", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	desc := drv.Descriptor()
	if !desc.HasActuator(logger.ActuatorName) {
		t.Errorf("expected logger to declare actuator %q", logger.ActuatorName)
	}

	resp := drv.Actuate(logger.ActuatorName, model.Signal())
	if resp.Kind != model.ResponseSuccess {
		t.Errorf("got %+v, want Success", resp)
	}

	lg := drv.(*logger.Driver)
	entries := lg.Entries()
	if len(entries) != 1 || !entries[0].Value.Equal(model.Signal()) {
		t.Fatalf("got entries %+v, want one Signal entry", entries)
	}
}

func TestLoggerActuateBadRequest(t *testing.T) {
	drv, _ := device.New(logger.DeviceType, "l1", nil)
	resp := drv.Actuate("unknown", model.Signal())
	if resp.Kind != model.ResponseBadRequest {
		t.Errorf("got %+v, want BadRequest", resp)
	}
}
