package rules

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/meshd/meshd/internal/events"
	"github.com/meshd/meshd/internal/model"
)

type recordingActuator struct {
	mu    sync.Mutex
	calls []model.ActuationRequest
}

func (r *recordingActuator) Actuate(ctx context.Context, deviceName, actuatorName string, v model.ActuatorValue, origin model.ActuationOrigin) model.ActuationResponse {
	r.mu.Lock()
	r.calls = append(r.calls, model.ActuationRequest{DeviceName: deviceName, ActuatorName: actuatorName, Value: v})
	r.mu.Unlock()
	return model.Success()
}

func (r *recordingActuator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestAnyRuleFiresOnSignal(t *testing.T) {
	bus := events.New()
	local := &recordingActuator{}
	rule := model.Rule{
		ID:      "r1",
		Trigger: model.FullyQualifiedSensor{Local: true, DeviceName: "t1", SensorName: "tick"},
		When:    model.Condition{Op: model.OpAny},
		Action:  model.FullyQualifiedActuator{Local: true, DeviceName: "l1", ActuatorName: "ticker"},
		Value:   model.Signal(),
	}
	e := New([]model.Rule{rule}, local, nil, bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)
	time.Sleep(10 * time.Millisecond) // let Run subscribe

	bus.Publish(events.LocalSensor(model.SensorReading{DeviceName: "t1", SensorName: "tick", Value: model.Signal()}))

	deadline := time.After(time.Second)
	for local.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for rule to fire")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTypeMismatchDoesNotMatch(t *testing.T) {
	bus := events.New()
	local := &recordingActuator{}
	rule := model.Rule{
		ID:      "r1",
		Trigger: model.FullyQualifiedSensor{Local: true, DeviceName: "t1", SensorName: "tick"},
		When:    model.Condition{Op: model.OpEqual, Value: model.Signed(12)},
		Action:  model.FullyQualifiedActuator{Local: true, DeviceName: "l1", ActuatorName: "ticker"},
		Value:   model.Signal(),
	}
	e := New([]model.Rule{rule}, local, nil, bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	bus.Publish(events.LocalSensor(model.SensorReading{DeviceName: "t1", SensorName: "tick", Value: model.Signal()}))
	time.Sleep(50 * time.Millisecond)

	if got := local.count(); got != 0 {
		t.Errorf("got %d actuations, want 0 for mismatched tag", got)
	}
}

func TestUnrelatedEventDoesNotMatch(t *testing.T) {
	bus := events.New()
	local := &recordingActuator{}
	rule := model.Rule{
		ID:      "r1",
		Trigger: model.FullyQualifiedSensor{Local: true, DeviceName: "t1", SensorName: "tick"},
		When:    model.Condition{Op: model.OpAny},
		Action:  model.FullyQualifiedActuator{Local: true, DeviceName: "l1", ActuatorName: "ticker"},
		Value:   model.Signal(),
	}
	e := New([]model.Rule{rule}, local, nil, bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	bus.Publish(events.LocalSensor(model.SensorReading{DeviceName: "other", SensorName: "tick", Value: model.Signal()}))
	time.Sleep(50 * time.Millisecond)

	if got := local.count(); got != 0 {
		t.Errorf("got %d actuations, want 0 for unrelated trigger", got)
	}
}
