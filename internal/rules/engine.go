// Package rules implements the rule engine (§4.6): it indexes
// configured rules by trigger and, on matching sensor events, emits
// actuation requests either to the local supervisor or to the swarm's
// remote actuation client.
package rules

import (
	"context"
	"log/slog"

	"github.com/meshd/meshd/internal/events"
	"github.com/meshd/meshd/internal/model"
)

// LocalActuator dispatches an actuation to a device owned by this
// node. Implemented by *supervisor.Supervisor.
type LocalActuator interface {
	Actuate(ctx context.Context, deviceName, actuatorName string, v model.ActuatorValue, origin model.ActuationOrigin) model.ActuationResponse
}

// RemoteActuator dispatches an actuation to a device owned by a remote
// peer via the swarm's request/response protocol. Implemented by the
// swarm manager.
type RemoteActuator interface {
	RequestActuation(ctx context.Context, peer model.PeerID, req model.ActuationRequest) model.ActuationResponse
}

// triggerKey indexes rules by their trigger's fully-qualified sensor.
// Peer is the zero value for a local trigger.
type triggerKey struct {
	Peer   model.PeerID
	Local  bool
	Device string
	Sensor string
}

func keyFor(s model.FullyQualifiedSensor) triggerKey {
	return triggerKey{Peer: s.Peer, Local: s.Local, Device: s.DeviceName, Sensor: s.SensorName}
}

// Engine evaluates incoming sensor events against configured rules and
// fires matching actuations (§4.6). Rules are stateless: no rate
// limiting, no hysteresis.
type Engine struct {
	local  LocalActuator
	remote RemoteActuator
	bus    *events.Bus
	logger *slog.Logger

	// index preserves configuration order within each trigger bucket,
	// since candidate rules are evaluated in that order (§4.6).
	index map[triggerKey][]model.Rule
}

// New builds an Engine indexing rules by their trigger (§4.6). local
// dispatches actuations targeting this node; remote dispatches
// actuations targeting a peer (nil is acceptable if no rule ever
// targets a remote peer).
func New(rules []model.Rule, local LocalActuator, remote RemoteActuator, bus *events.Bus, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		local:  local,
		remote: remote,
		bus:    bus,
		logger: logger,
		index:  make(map[triggerKey][]model.Rule),
	}
	for _, r := range rules {
		k := keyFor(r.Trigger)
		e.index[k] = append(e.index[k], r)
	}
	return e
}

// Rules returns every configured rule, in an unspecified order, for
// read-only introspection (e.g. the web gateway's GET /api/rules).
func (e *Engine) Rules() []model.Rule {
	var all []model.Rule
	for _, bucket := range e.index {
		all = append(all, bucket...)
	}
	return all
}

// Run subscribes to the event bus and evaluates every LocalSensor and
// RemoteSensor event against the rule index until ctx is cancelled.
// Intended to be launched in its own goroutine by the system core.
func (e *Engine) Run(ctx context.Context) {
	sub := e.bus.Subscribe(64)
	defer e.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			e.handle(ctx, evt)
		}
	}
}

func (e *Engine) handle(ctx context.Context, evt events.CoreEvent) {
	var key triggerKey
	switch evt.Kind {
	case events.KindLocalSensor:
		key = triggerKey{Local: true, Device: evt.Reading.DeviceName, Sensor: evt.Reading.SensorName}
	case events.KindRemoteSensor:
		key = triggerKey{Peer: evt.Peer, Device: evt.Reading.DeviceName, Sensor: evt.Reading.SensorName}
	default:
		return
	}

	rules, ok := e.index[key]
	if !ok {
		return
	}
	for _, r := range rules {
		if !r.When.Matches(evt.Reading.Value) {
			continue
		}
		// Fire-and-forget (§4.6): the triggering event's processing
		// does not wait on the actuation's outcome.
		go e.fire(ctx, r)
	}
}

func (e *Engine) fire(ctx context.Context, r model.Rule) {
	origin := model.RuleOrigin(r.ID)
	var resp model.ActuationResponse
	if r.Action.Local || r.Action.Peer == "" {
		resp = e.local.Actuate(ctx, r.Action.DeviceName, r.Action.ActuatorName, r.Value, origin)
	} else if e.remote != nil {
		req := model.ActuationRequest{DeviceName: r.Action.DeviceName, ActuatorName: r.Action.ActuatorName, Value: r.Value}
		resp = e.remote.RequestActuation(ctx, r.Action.Peer, req)
	} else {
		resp = model.NoResponse()
	}
	e.logger.Debug("rule fired", "rule_id", r.ID, "response", resp.Kind.String())
}
