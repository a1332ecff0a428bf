// Package wire implements the compact little-endian binary encoding
// used for swarm pub/sub payloads (§6) and the request/response
// actuation protocol. Every encode/decode pair round-trips exactly,
// per the round-trip testable property in §8.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/meshd/meshd/internal/model"
)

// MaxFrameLen bounds a single decoded frame to guard against a
// malformed length prefix trying to allocate unbounded memory.
const MaxFrameLen = 4 << 20 // 4 MiB

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	if int(n) > r.Len() {
		return "", fmt.Errorf("wire: string length %d exceeds remaining buffer", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if int(n) > r.Len() {
		return nil, fmt.Errorf("wire: byte slice length %d exceeds remaining buffer", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeActuatorValue(buf *bytes.Buffer, v model.ActuatorValue) {
	buf.WriteByte(byte(v.Kind))
	switch v.Kind {
	case model.KindSignal:
	case model.KindUnsigned:
		writeUint64(buf, v.Unsigned)
	case model.KindSigned:
		writeUint64(buf, uint64(v.Signed))
	case model.KindDouble:
		writeUint64(buf, math.Float64bits(v.Double))
	case model.KindString:
		writeString(buf, v.String)
	}
}

func readActuatorValue(r *bytes.Reader) (model.ActuatorValue, error) {
	kb, err := r.ReadByte()
	if err != nil {
		return model.ActuatorValue{}, err
	}
	kind := model.ValueKind(kb)
	switch kind {
	case model.KindSignal:
		return model.Signal(), nil
	case model.KindUnsigned:
		u, err := readUint64(r)
		if err != nil {
			return model.ActuatorValue{}, err
		}
		return model.Unsigned(u), nil
	case model.KindSigned:
		u, err := readUint64(r)
		if err != nil {
			return model.ActuatorValue{}, err
		}
		return model.Signed(int64(u)), nil
	case model.KindDouble:
		u, err := readUint64(r)
		if err != nil {
			return model.ActuatorValue{}, err
		}
		return model.Double(math.Float64frombits(u)), nil
	case model.KindString:
		s, err := readString(r)
		if err != nil {
			return model.ActuatorValue{}, err
		}
		return model.Str(s), nil
	default:
		return model.ActuatorValue{}, fmt.Errorf("wire: unknown ActuatorValue kind %d", kind)
	}
}

// EncodeMeasurement encodes a (peer, SensorReading) pair for the
// "measurements" pub/sub topic: peer_id_bytes, device_name,
// sensor_name, ActuatorValue, monotonic_seq_u64_le.
func EncodeMeasurement(peerID []byte, r model.SensorReading) []byte {
	var buf bytes.Buffer
	writeBytes(&buf, peerID)
	writeString(&buf, r.DeviceName)
	writeString(&buf, r.SensorName)
	writeActuatorValue(&buf, r.Value)
	writeUint64(&buf, r.MonotonicSeq)
	return buf.Bytes()
}

// DecodeMeasurement is the inverse of EncodeMeasurement.
func DecodeMeasurement(data []byte) (peerID []byte, reading model.SensorReading, err error) {
	r := bytes.NewReader(data)
	if peerID, err = readBytes(r); err != nil {
		return nil, model.SensorReading{}, err
	}
	if reading.DeviceName, err = readString(r); err != nil {
		return nil, model.SensorReading{}, err
	}
	if reading.SensorName, err = readString(r); err != nil {
		return nil, model.SensorReading{}, err
	}
	if reading.Value, err = readActuatorValue(r); err != nil {
		return nil, model.SensorReading{}, err
	}
	if reading.MonotonicSeq, err = readUint64(r); err != nil {
		return nil, model.SensorReading{}, err
	}
	return peerID, reading, nil
}

// EncodeIdentity encodes a PeerIdentity for the "identity" pub/sub topic.
func EncodeIdentity(id model.PeerIdentity) []byte {
	var buf bytes.Buffer
	writeBytes(&buf, []byte(id.PeerID))
	writeString(&buf, id.DisplayName)
	writeUint32(&buf, uint32(len(id.Devices)))
	for name, desc := range id.Devices {
		writeString(&buf, name)
		writeString(&buf, desc.DeviceType)
		writeStringSet(&buf, desc.Sensors)
		writeStringSet(&buf, desc.Actuators)
	}
	return buf.Bytes()
}

func writeStringSet(buf *bytes.Buffer, set map[string]struct{}) {
	writeUint32(buf, uint32(len(set)))
	for s := range set {
		writeString(buf, s)
	}
}

func readStringSet(r *bytes.Reader) (map[string]struct{}, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, n)
	for i := uint32(0); i < n; i++ {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		set[s] = struct{}{}
	}
	return set, nil
}

// DecodeIdentity is the inverse of EncodeIdentity.
func DecodeIdentity(data []byte) (model.PeerIdentity, error) {
	r := bytes.NewReader(data)
	var id model.PeerIdentity

	peerBytes, err := readBytes(r)
	if err != nil {
		return id, err
	}
	id.PeerID = model.PeerID(peerBytes)

	if id.DisplayName, err = readString(r); err != nil {
		return id, err
	}

	n, err := readUint32(r)
	if err != nil {
		return id, err
	}
	id.Devices = make(map[string]model.DeviceDescriptor, n)
	for i := uint32(0); i < n; i++ {
		var desc model.DeviceDescriptor
		name, err := readString(r)
		if err != nil {
			return id, err
		}
		if desc.DeviceType, err = readString(r); err != nil {
			return id, err
		}
		if desc.Sensors, err = readStringSet(r); err != nil {
			return id, err
		}
		if desc.Actuators, err = readStringSet(r); err != nil {
			return id, err
		}
		desc.DeviceName = name
		id.Devices[name] = desc
	}
	return id, nil
}

// EncodeActuatorData encodes a FullActuatorData request: device,
// actuator_name, data (§6).
func EncodeActuatorData(req model.ActuationRequest) []byte {
	var buf bytes.Buffer
	writeString(&buf, req.DeviceName)
	writeString(&buf, req.ActuatorName)
	writeActuatorValue(&buf, req.Value)
	return buf.Bytes()
}

// DecodeActuatorData is the inverse of EncodeActuatorData.
func DecodeActuatorData(data []byte) (model.ActuationRequest, error) {
	r := bytes.NewReader(data)
	var req model.ActuationRequest
	var err error
	if req.DeviceName, err = readString(r); err != nil {
		return req, err
	}
	if req.ActuatorName, err = readString(r); err != nil {
		return req, err
	}
	if req.Value, err = readActuatorValue(r); err != nil {
		return req, err
	}
	return req, nil
}

// EncodeActuationResponse encodes a RemoteActuationResponse (§6).
func EncodeActuationResponse(resp model.ActuationResponse) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(resp.Kind))
	switch resp.Kind {
	case model.ResponseBadRequest:
		writeString(&buf, resp.Reason)
	case model.ResponseActuatorError:
		writeUint64(&buf, uint64(resp.Code))
		writeString(&buf, resp.Description)
	}
	return buf.Bytes()
}

// DecodeActuationResponse is the inverse of EncodeActuationResponse.
func DecodeActuationResponse(data []byte) (model.ActuationResponse, error) {
	r := bytes.NewReader(data)
	kb, err := r.ReadByte()
	if err != nil {
		return model.ActuationResponse{}, err
	}
	kind := model.ResponseKind(kb)
	switch kind {
	case model.ResponseSuccess:
		return model.Success(), nil
	case model.ResponseIgnored:
		return model.Ignored(), nil
	case model.ResponseNoResponse:
		return model.NoResponse(), nil
	case model.ResponseBadRequest:
		reason, err := readString(r)
		if err != nil {
			return model.ActuationResponse{}, err
		}
		return model.BadRequest(reason), nil
	case model.ResponseActuatorError:
		code, err := readUint64(r)
		if err != nil {
			return model.ActuationResponse{}, err
		}
		desc, err := readString(r)
		if err != nil {
			return model.ActuationResponse{}, err
		}
		return model.ActuatorError(int64(code), desc), nil
	default:
		return model.ActuationResponse{}, fmt.Errorf("wire: unknown ActuationResponse kind %d", kind)
	}
}
