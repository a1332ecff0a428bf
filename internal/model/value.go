// Package model defines the swarm-wide data types shared by every
// component: actuator values, sensor readings, actuation requests and
// responses, device descriptors, peer identities, and rules.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ValueKind tags the variant held by an ActuatorValue.
type ValueKind uint8

const (
	KindSignal ValueKind = iota
	KindUnsigned
	KindSigned
	KindDouble
	KindString
)

func (k ValueKind) String() string {
	switch k {
	case KindSignal:
		return "signal"
	case KindUnsigned:
		return "unsigned"
	case KindSigned:
		return "signed"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// ActuatorValue is a tagged union of exactly one payload: Signal (no
// payload), Unsigned, Signed, Double, or String. The zero value is
// Signal. Equality is structural (Equal); ordering (Compare) is only
// defined between values sharing the same Kind.
type ActuatorValue struct {
	Kind     ValueKind
	Unsigned uint64
	Signed   int64
	Double   float64
	String   string
}

// Signal returns the Signal value.
func Signal() ActuatorValue { return ActuatorValue{Kind: KindSignal} }

// Unsigned returns an Unsigned value.
func Unsigned(v uint64) ActuatorValue { return ActuatorValue{Kind: KindUnsigned, Unsigned: v} }

// Signed returns a Signed value.
func Signed(v int64) ActuatorValue { return ActuatorValue{Kind: KindSigned, Signed: v} }

// Double returns a Double value.
func Double(v float64) ActuatorValue { return ActuatorValue{Kind: KindDouble, Double: v} }

// Str returns a String value.
func Str(v string) ActuatorValue { return ActuatorValue{Kind: KindString, String: v} }

// Equal reports structural equality. Signal equals only Signal; values
// of differing Kind are never equal.
func (v ActuatorValue) Equal(o ActuatorValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindSignal:
		return true
	case KindUnsigned:
		return v.Unsigned == o.Unsigned
	case KindSigned:
		return v.Signed == o.Signed
	case KindDouble:
		return v.Double == o.Double
	case KindString:
		return v.String == o.String
	default:
		return false
	}
}

// Comparable reports whether v and o share a Kind that supports
// ordering. Signal and String are never comparable under Compare
// (String only supports Equal, per spec).
func (v ActuatorValue) Comparable(o ActuatorValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindUnsigned, KindSigned, KindDouble:
		return true
	default:
		return false
	}
}

// Compare returns -1, 0, or 1 for the natural numeric order of same-Kind
// values. The second return is false if the values are not Comparable.
func (v ActuatorValue) Compare(o ActuatorValue) (int, bool) {
	if !v.Comparable(o) {
		return 0, false
	}
	switch v.Kind {
	case KindUnsigned:
		return cmp(v.Unsigned, o.Unsigned), true
	case KindSigned:
		return cmp(v.Signed, o.Signed), true
	case KindDouble:
		return cmp(v.Double, o.Double), true
	default:
		return 0, false
	}
}

func cmp[T int64 | uint64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// jsonValue mirrors the single-key-object wire shape used both by the
// config file (§6) and the web gateway (§4.7): {"unsigned":…},
// {"signed":…}, {"integer":…} (alias for signed, accepted on decode
// only), {"double":…}, {"string":…}. Signal is the bare string
// "signal" rather than an object.
type jsonValue struct {
	Unsigned *uint64  `json:"unsigned,omitempty"`
	Signed   *int64   `json:"signed,omitempty"`
	Integer  *int64   `json:"integer,omitempty"`
	Double   *float64 `json:"double,omitempty"`
	String   *string  `json:"string,omitempty"`
}

// MarshalJSON encodes the value as the bare string "signal" or a
// single-key object, per §4.7 and §6.
func (v ActuatorValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindSignal:
		return json.Marshal("signal")
	case KindUnsigned:
		return json.Marshal(jsonValue{Unsigned: &v.Unsigned})
	case KindSigned:
		return json.Marshal(jsonValue{Signed: &v.Signed})
	case KindDouble:
		return json.Marshal(jsonValue{Double: &v.Double})
	case KindString:
		return json.Marshal(jsonValue{String: &v.String})
	default:
		return nil, fmt.Errorf("model: unknown ActuatorValue kind %d", v.Kind)
	}
}

// UnmarshalJSON accepts the bare string "signal" or a single-key
// object. Both "unsigned" and "integer" are accepted as aliases
// decoding to their respective Kind ("integer" maps to Signed, per §6).
func (v *ActuatorValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		if s != "signal" {
			return fmt.Errorf("model: unexpected bare string value %q (only \"signal\" is valid)", s)
		}
		*v = Signal()
		return nil
	}

	var jv jsonValue
	if err := json.Unmarshal(trimmed, &jv); err != nil {
		return err
	}

	switch {
	case jv.Unsigned != nil:
		*v = Unsigned(*jv.Unsigned)
	case jv.Signed != nil:
		*v = Signed(*jv.Signed)
	case jv.Integer != nil:
		*v = Signed(*jv.Integer)
	case jv.Double != nil:
		*v = Double(*jv.Double)
	case jv.String != nil:
		*v = Str(*jv.String)
	default:
		return fmt.Errorf("model: ActuatorValue object has no recognized key")
	}
	return nil
}

// Describe renders a short human-readable form for logging.
func (v ActuatorValue) Describe() string {
	switch v.Kind {
	case KindSignal:
		return "signal"
	case KindUnsigned:
		return fmt.Sprintf("%d", v.Unsigned)
	case KindSigned:
		return fmt.Sprintf("%d", v.Signed)
	case KindDouble:
		return fmt.Sprintf("%g", v.Double)
	case KindString:
		return v.String
	default:
		return "?"
	}
}
