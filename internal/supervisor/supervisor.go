// Package supervisor owns every local driver instance and coordinates
// sensing cadence and actuation dispatch (§4.3). It is the only
// component that ever calls into a device.Driver.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/meshd/meshd/internal/device"
	"github.com/meshd/meshd/internal/events"
	"github.com/meshd/meshd/internal/model"
	"github.com/meshd/meshd/internal/store"
)

// DefaultCadence is used for a device whose configuration does not
// override the sensing interval.
const DefaultCadence = time.Second

// OutboundPublisher is the swarm manager's outbound pub/sub queue, as
// seen by the supervisor. Kept as a narrow interface so supervisor
// never imports the swarm package (no cyclic ownership, §3).
type OutboundPublisher interface {
	PublishLocalReading(reading model.SensorReading)
}

// Spec describes one device to be supervised: its driver instance and
// optional cadence override.
type Spec struct {
	Name      string
	Driver    device.Driver
	CadenceMs int // 0 means DefaultCadence
}

type deviceState struct {
	name    string
	driver  device.Driver
	cadence time.Duration

	faulted     atomic.Bool
	actuationCh chan actuationJob
	cancel      context.CancelFunc
	senseDone   chan struct{}
}

type actuationJob struct {
	ctx          context.Context
	actuatorName string
	value        model.ActuatorValue
	origin       model.ActuationOrigin
	respCh       chan model.ActuationResponse
}

// Supervisor owns a fixed set of devices for the lifetime of the
// daemon (§4.3). Devices cannot be added or removed after Start.
type Supervisor struct {
	bus       *events.Bus
	store     *store.Store
	publisher OutboundPublisher
	localPeer model.PeerID
	logger    *slog.Logger

	seq atomic.Uint64

	devices map[string]*deviceState
}

// New creates a Supervisor over specs. publisher may be nil (e.g. in
// tests exercising only local rule actuation), in which case readings
// are recorded locally and published on the bus but never handed to
// the swarm.
func New(bus *events.Bus, st *store.Store, publisher OutboundPublisher, localPeer model.PeerID, specs []Spec, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		bus:       bus,
		store:     st,
		publisher: publisher,
		localPeer: localPeer,
		logger:    logger,
		devices:   make(map[string]*deviceState, len(specs)),
	}
	for _, spec := range specs {
		cadence := DefaultCadence
		if spec.CadenceMs > 0 {
			cadence = time.Duration(spec.CadenceMs) * time.Millisecond
		}
		s.devices[spec.Name] = &deviceState{
			name:        spec.Name,
			driver:      spec.Driver,
			cadence:     cadence,
			actuationCh: make(chan actuationJob),
			senseDone:   make(chan struct{}),
		}
	}
	return s
}

// SetPublisher wires the swarm manager in after construction. The
// system core builds the Supervisor before the swarm Manager exists
// (the Manager needs the Supervisor as its LocalActuationHandler and
// DescriptorSource), so the publisher is attached in a second step
// rather than threaded through New. Must be called before Start if the
// node has any outbound readings to publish to peers.
func (s *Supervisor) SetPublisher(p OutboundPublisher) {
	s.publisher = p
}

// Start launches an independent sensing task and actuation worker for
// every device. Start must be called once, after New.
func (s *Supervisor) Start(ctx context.Context) {
	for _, ds := range s.devices {
		dctx, cancel := context.WithCancel(ctx)
		ds.cancel = cancel
		go s.runSensing(dctx, ds)
		go s.runActuationWorker(ds)
	}
}

// Shutdown cancels every sensing task and waits (up to ctx's deadline)
// for each device's sensing loop to exit. Actuation workers are left
// running so any in-flight Actuate call still observes its real
// response rather than being cut off; they exit with the process.
func (s *Supervisor) Shutdown(ctx context.Context) {
	for _, ds := range s.devices {
		ds.cancel()
	}
	for _, ds := range s.devices {
		select {
		case <-ds.senseDone:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) runSensing(ctx context.Context, ds *deviceState) {
	defer close(ds.senseDone)
	ticker := time.NewTicker(ds.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.senseOnce(ds) {
				return
			}
		}
	}
}

// senseOnce invokes one Sense call under panic recovery. Returns false
// if the driver faulted and its sensing task should terminate (§4.3).
func (s *Supervisor) senseOnce(ds *deviceState) (ok bool) {
	if ds.faulted.Load() {
		// Faulted by an Actuate panic since the last tick.
		return false
	}
	var collected device.Collected
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.fault(ds, fmt.Errorf("panic in Sense: %v", r))
				ok = false
			}
		}()
		ds.driver.Sense(&collected)
		ok = true
	}()
	if !ok {
		return false
	}

	for _, c := range collected.Readings {
		reading := model.SensorReading{
			DeviceName:   ds.name,
			SensorName:   c.SensorName,
			Value:        c.Value,
			MonotonicSeq: s.seq.Add(1),
		}
		s.store.Record(s.localPeer, reading)
		s.bus.Publish(events.LocalSensor(reading))
		if s.publisher != nil {
			s.publisher.PublishLocalReading(reading)
		}
	}
	return true
}

func (s *Supervisor) fault(ds *deviceState, err error) {
	ds.faulted.Store(true)
	s.logger.Error("driver faulted", "device", ds.name, "error", err)
}

func (s *Supervisor) runActuationWorker(ds *deviceState) {
	for job := range ds.actuationCh {
		select {
		case <-job.ctx.Done():
			job.respCh <- model.Ignored()
			continue
		default:
		}
		resp := s.safeActuate(ds, job.actuatorName, job.value)
		job.respCh <- resp
		s.bus.Publish(events.LocalActuation(ds.name, job.actuatorName, job.value, job.origin))
	}
}

// safeActuate invokes Actuate under panic recovery, faulting the
// driver on panic (§4.3).
func (s *Supervisor) safeActuate(ds *deviceState, actuatorName string, v model.ActuatorValue) (resp model.ActuationResponse) {
	defer func() {
		if r := recover(); r != nil {
			s.fault(ds, fmt.Errorf("panic in Actuate: %v", r))
			resp = model.ActuatorError(model.FaultedDriverCode, "driver faulted")
		}
	}()
	return ds.driver.Actuate(actuatorName, v)
}

// Actuate dispatches an actuation to deviceName, serialized FIFO with
// any other actuation targeting the same device (§4.3, §5). Distinct
// devices proceed in parallel. If ctx is cancelled before the job
// starts, it observes Ignored; if cancelled while in flight, it
// observes NoResponse instead of blocking forever.
func (s *Supervisor) Actuate(ctx context.Context, deviceName, actuatorName string, v model.ActuatorValue, origin model.ActuationOrigin) model.ActuationResponse {
	ds, ok := s.devices[deviceName]
	if !ok {
		return model.BadRequest(fmt.Sprintf("unknown device %q", deviceName))
	}
	if ds.faulted.Load() {
		return model.ActuatorError(model.FaultedDriverCode, "driver faulted")
	}

	respCh := make(chan model.ActuationResponse, 1)
	job := actuationJob{ctx: ctx, actuatorName: actuatorName, value: v, origin: origin, respCh: respCh}

	select {
	case ds.actuationCh <- job:
	case <-ctx.Done():
		return model.Ignored()
	}

	select {
	case resp := <-respCh:
		return resp
	case <-ctx.Done():
		return model.NoResponse()
	}
}

// Descriptors returns every supervised device's descriptor, used to
// build the local PeerIdentity (§4.8).
func (s *Supervisor) Descriptors() map[string]model.DeviceDescriptor {
	out := make(map[string]model.DeviceDescriptor, len(s.devices))
	for name, ds := range s.devices {
		out[name] = ds.driver.Descriptor()
	}
	return out
}

// FaultedDevices returns the names of every device currently marked
// Faulted.
func (s *Supervisor) FaultedDevices() []string {
	var faulted []string
	for name, ds := range s.devices {
		if ds.faulted.Load() {
			faulted = append(faulted, name)
		}
	}
	return faulted
}
