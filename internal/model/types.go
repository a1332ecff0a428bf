package model

// SensorReading is a single measurement published by a device's sensor.
// MonotonicSeq is a per-peer counter incremented on every publish by that
// peer; it is used for replay suppression and last-writer-wins ordering
// at subscribers.
type SensorReading struct {
	DeviceName   string
	SensorName   string
	Value        ActuatorValue
	MonotonicSeq uint64
}

// ActuationRequest asks a device to perform an action. The target peer
// is implicit in how the request is routed (a local supervisor call or
// a swarm request/response dispatch), not carried in the struct itself.
type ActuationRequest struct {
	DeviceName   string
	ActuatorName string
	Value        ActuatorValue
}

// ResponseKind tags an ActuationResponse variant.
type ResponseKind uint8

const (
	ResponseSuccess ResponseKind = iota
	ResponseIgnored
	ResponseNoResponse
	ResponseBadRequest
	ResponseActuatorError
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseSuccess:
		return "success"
	case ResponseIgnored:
		return "ignored"
	case ResponseNoResponse:
		return "no_response"
	case ResponseBadRequest:
		return "bad_request"
	case ResponseActuatorError:
		return "actuator_error"
	default:
		return "unknown"
	}
}

// ActuationResponse is the outcome of dispatching an ActuationRequest.
type ActuationResponse struct {
	Kind        ResponseKind
	Reason      string // set for ResponseBadRequest
	Code        int64  // set for ResponseActuatorError
	Description string // set for ResponseActuatorError
}

// Success builds a ResponseSuccess.
func Success() ActuationResponse { return ActuationResponse{Kind: ResponseSuccess} }

// Ignored builds a ResponseIgnored.
func Ignored() ActuationResponse { return ActuationResponse{Kind: ResponseIgnored} }

// NoResponse builds a ResponseNoResponse.
func NoResponse() ActuationResponse { return ActuationResponse{Kind: ResponseNoResponse} }

// BadRequest builds a ResponseBadRequest carrying reason.
func BadRequest(reason string) ActuationResponse {
	return ActuationResponse{Kind: ResponseBadRequest, Reason: reason}
}

// ActuatorError builds a ResponseActuatorError carrying code/description.
func ActuatorError(code int64, description string) ActuationResponse {
	return ActuationResponse{Kind: ResponseActuatorError, Code: code, Description: description}
}

// FaultedDriverCode is the code used for ActuatorError responses raised
// against a driver that has been marked Faulted (§4.3).
const FaultedDriverCode int64 = -1

// DeviceDescriptor names the sensors and actuators a device exposes.
// The sets are immutable once the device is initialized.
type DeviceDescriptor struct {
	DeviceName string
	DeviceType string
	Sensors    map[string]struct{}
	Actuators  map[string]struct{}
}

// HasSensor reports whether name is a declared sensor of this device.
func (d DeviceDescriptor) HasSensor(name string) bool {
	_, ok := d.Sensors[name]
	return ok
}

// HasActuator reports whether name is a declared actuator of this device.
func (d DeviceDescriptor) HasActuator(name string) bool {
	_, ok := d.Actuators[name]
	return ok
}

// PeerIdentity is a peer's self-description: its display name and the
// devices it currently exposes. Subscribers treat updates as
// last-writer-wins (the most recently received PeerIdentity replaces
// the prior one in full).
type PeerIdentity struct {
	PeerID      PeerID
	DisplayName string
	Devices     map[string]DeviceDescriptor
}

// FullyQualifiedSensor addresses a specific sensor anywhere in the
// swarm. Local marks a sensor on this node (Peer is then empty); the
// rule engine matches local readings by Local, not by an empty Peer.
type FullyQualifiedSensor struct {
	Peer       PeerID
	Local      bool
	DeviceName string
	SensorName string
}

// FullyQualifiedActuator addresses a specific actuator anywhere in the
// swarm. A nil/zero Peer means "local".
type FullyQualifiedActuator struct {
	Peer         PeerID
	Local        bool
	DeviceName   string
	ActuatorName string
}

// ConditionOp names a Condition variant.
type ConditionOp uint8

const (
	OpAny ConditionOp = iota
	OpEqual
	OpGreaterThan
	OpLessThan
	OpGreaterOrEqual
	OpLessOrEqual
)

// Condition gates whether a Rule's action fires for an observed reading.
type Condition struct {
	Op    ConditionOp
	Value ActuatorValue // unused when Op is OpAny
}

// Matches reports whether the observed value satisfies the condition.
// Any always matches. The comparison ops require observed and c.Value
// to share an ActuatorValue tag; a tag mismatch is a non-match, never
// an error (§4.6). Equal additionally allows Signal==Signal. The
// ordering ops require Comparable (numeric tags only).
func (c Condition) Matches(observed ActuatorValue) bool {
	switch c.Op {
	case OpAny:
		return true
	case OpEqual:
		return observed.Equal(c.Value)
	case OpGreaterThan:
		n, ok := observed.Compare(c.Value)
		return ok && n > 0
	case OpLessThan:
		n, ok := observed.Compare(c.Value)
		return ok && n < 0
	case OpGreaterOrEqual:
		n, ok := observed.Compare(c.Value)
		return ok && n >= 0
	case OpLessOrEqual:
		n, ok := observed.Compare(c.Value)
		return ok && n <= 0
	default:
		return false
	}
}

// Rule ties a trigger sensor and condition to an actuation action.
type Rule struct {
	ID      string
	Trigger FullyQualifiedSensor
	When    Condition
	Action  FullyQualifiedActuator
	Value   ActuatorValue
}

// ActuationOrigin records why an actuation happened, for CoreEvent
// diagnostics (§4.2).
type ActuationOrigin struct {
	Kind   OriginKind
	Peer   PeerID // set when Kind is OriginRemote
	RuleID string // set when Kind is OriginRule
}

// OriginKind tags an ActuationOrigin variant.
type OriginKind uint8

const (
	OriginLocal OriginKind = iota
	OriginRemote
	OriginRule
)

// LocalOrigin is a convenience origin for directly operator-initiated
// actuations.
func LocalOrigin() ActuationOrigin { return ActuationOrigin{Kind: OriginLocal} }

// RemoteOrigin builds an origin attributing an actuation to a remote peer.
func RemoteOrigin(p PeerID) ActuationOrigin { return ActuationOrigin{Kind: OriginRemote, Peer: p} }

// RuleOrigin builds an origin attributing an actuation to a fired rule.
func RuleOrigin(ruleID string) ActuationOrigin { return ActuationOrigin{Kind: OriginRule, RuleID: ruleID} }
