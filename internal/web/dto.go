package web

import (
	"sort"

	"github.com/mr-tron/base58"

	"github.com/meshd/meshd/internal/model"
	"github.com/meshd/meshd/internal/store"
)

// peerIDString renders a PeerID as base58, the wire form spec.md §4.7
// requires for every peer_id field the gateway emits.
func peerIDString(p model.PeerID) string {
	return base58.Encode([]byte(p))
}

// decodePeerID reverses peerIDString, used when a client (e.g.
// POST /api/actuate) echoes back a node field it first saw rendered
// by this package.
func decodePeerID(s string) (model.PeerID, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return "", err
	}
	return model.PeerID(raw), nil
}

// deviceDescriptorDTO is the wire shape of a DeviceDescriptor: the
// sensor/actuator sets are rendered as sorted name lists rather than
// Go's map[string]struct{}.
type deviceDescriptorDTO struct {
	DeviceType string   `json:"device_type"`
	Sensors    []string `json:"sensors"`
	Actuators  []string `json:"actuators"`
}

func descriptorToDTO(d model.DeviceDescriptor) deviceDescriptorDTO {
	dto := deviceDescriptorDTO{
		DeviceType: d.DeviceType,
		Sensors:    make([]string, 0, len(d.Sensors)),
		Actuators:  make([]string, 0, len(d.Actuators)),
	}
	for name := range d.Sensors {
		dto.Sensors = append(dto.Sensors, name)
	}
	for name := range d.Actuators {
		dto.Actuators = append(dto.Actuators, name)
	}
	sort.Strings(dto.Sensors)
	sort.Strings(dto.Actuators)
	return dto
}

// peerIdentityDTO is the wire shape of a PeerIdentity (§4.7's
// peer_identity event payload and the snapshot frame's peers map).
type peerIdentityDTO struct {
	PeerID      string                         `json:"peer_id"`
	DisplayName string                         `json:"display_name"`
	Devices     map[string]deviceDescriptorDTO `json:"devices"`
}

func identityToDTO(id model.PeerIdentity) peerIdentityDTO {
	devices := make(map[string]deviceDescriptorDTO, len(id.Devices))
	for name, d := range id.Devices {
		devices[name] = descriptorToDTO(d)
	}
	return peerIdentityDTO{
		PeerID:      peerIDString(id.PeerID),
		DisplayName: id.DisplayName,
		Devices:     devices,
	}
}

// measurementDTO is the wire shape of one stored measurement.
type measurementDTO struct {
	Value        model.ActuatorValue `json:"value"`
	MonotonicSeq uint64              `json:"monotonic_seq"`
}

// snapshotDTO is the wire shape of the initial {"peers": ...} frame
// sent to every new /updates connection (§4.7).
type snapshotDTO struct {
	Peers        map[string]peerIdentityDTO                  `json:"peers"`
	Measurements map[string]map[string]map[string]measurementDTO `json:"measurements"`
}

func snapshotToDTO(snap store.Snapshot) snapshotDTO {
	peers := make(map[string]peerIdentityDTO, len(snap.Peers))
	for id, identity := range snap.Peers {
		peers[peerIDString(id)] = identityToDTO(identity)
	}

	measurements := make(map[string]map[string]map[string]measurementDTO, len(snap.Measurements))
	for peerID, byDevice := range snap.Measurements {
		outDevice := make(map[string]map[string]measurementDTO, len(byDevice))
		for device, bySensor := range byDevice {
			outSensor := make(map[string]measurementDTO, len(bySensor))
			for sensor, m := range bySensor {
				outSensor[sensor] = measurementDTO{Value: m.Value, MonotonicSeq: m.MonotonicSeq}
			}
			outDevice[device] = outSensor
		}
		measurements[peerIDString(peerID)] = outDevice
	}

	return snapshotDTO{Peers: peers, Measurements: measurements}
}

// sensorDataDTO is the wire shape of a sensor_data event's data field
// (§4.7): {"node":peer_id,"device":d,"sensor_name":s,"value":v}.
type sensorDataDTO struct {
	Node       string              `json:"node"`
	Device     string              `json:"device"`
	SensorName string              `json:"sensor_name"`
	Value      model.ActuatorValue `json:"value"`
}

// peerLostDTO is the wire shape of a peer_lost event's data field.
type peerLostDTO struct {
	PeerID string `json:"peer_id"`
}

// frame is the top-level envelope for every streamed event after the
// initial snapshot: {"event": "...", "data": ...}.
type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// snapshotFrame is the top-level envelope for the initial frame a new
// connection receives: {"peers": <snapshot>} (§4.7). It intentionally
// carries the whole snapshot (peers and last-known measurements) under
// the "peers" key, matching the wire format the spec fixes.
type snapshotFrame struct {
	Peers snapshotDTO `json:"peers"`
}

// ruleDTO is the read-only wire shape of a configured Rule for GET
// /api/rules.
type ruleDTO struct {
	ID     string `json:"id"`
	Sensor struct {
		Node       string `json:"node,omitempty"`
		Device     string `json:"device"`
		SensorName string `json:"sensor_name"`
	} `json:"sensor"`
	Operation string              `json:"operation"`
	Value     model.ActuatorValue `json:"value"`
	Then      struct {
		Node         string `json:"node,omitempty"`
		Device       string `json:"device"`
		ActuatorName string `json:"actuator_name"`
	} `json:"then"`
	ActionValue model.ActuatorValue `json:"action_value"`
}

func ruleToDTO(r model.Rule) ruleDTO {
	var dto ruleDTO
	dto.ID = r.ID
	if !r.Trigger.Local {
		dto.Sensor.Node = peerIDString(r.Trigger.Peer)
	}
	dto.Sensor.Device = r.Trigger.DeviceName
	dto.Sensor.SensorName = r.Trigger.SensorName
	dto.Operation = conditionOpName(r.When.Op)
	dto.Value = r.When.Value
	if !r.Action.Local {
		dto.Then.Node = peerIDString(r.Action.Peer)
	}
	dto.Then.Device = r.Action.DeviceName
	dto.Then.ActuatorName = r.Action.ActuatorName
	dto.ActionValue = r.Value
	return dto
}

func rulesToDTO(rs []model.Rule) []ruleDTO {
	out := make([]ruleDTO, 0, len(rs))
	for _, r := range rs {
		out = append(out, ruleToDTO(r))
	}
	return out
}

func conditionOpName(op model.ConditionOp) string {
	switch op {
	case model.OpAny:
		return "any"
	case model.OpEqual:
		return "equal"
	case model.OpGreaterThan:
		return "greater_than"
	case model.OpLessThan:
		return "less_than"
	case model.OpGreaterOrEqual:
		return "greater_or_equal_than"
	case model.OpLessOrEqual:
		return "less_or_equal_than"
	default:
		return "unknown"
	}
}

// actuateRequestDTO decodes POST /api/actuate's body ([ADDED] REST
// surface). An empty Node means "this node".
type actuateRequestDTO struct {
	Node         string              `json:"node,omitempty"`
	Device       string              `json:"device"`
	ActuatorName string              `json:"actuator_name"`
	Value        model.ActuatorValue `json:"value"`
}

// actuationResponseDTO is the wire shape of an ActuationResponse.
type actuationResponseDTO struct {
	Kind        string `json:"kind"`
	Reason      string `json:"reason,omitempty"`
	Code        int64  `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
}

func actuationResponseToDTO(r model.ActuationResponse) actuationResponseDTO {
	return actuationResponseDTO{
		Kind:        r.Kind.String(),
		Reason:      r.Reason,
		Code:        r.Code,
		Description: r.Description,
	}
}
