package web

import (
	"encoding/json"
	"testing"

	"github.com/mr-tron/base58"

	"github.com/meshd/meshd/internal/model"
	"github.com/meshd/meshd/internal/store"
)

func TestPeerIDString_RendersBase58(t *testing.T) {
	id := model.PeerID("some-raw-peer-bytes")
	got := peerIDString(id)
	want := base58.Encode([]byte(id))
	if got != want {
		t.Errorf("peerIDString(%v) = %q, want %q", id, got, want)
	}
}

func TestSnapshotToDTO_RendersPeerIDsAsBase58Keys(t *testing.T) {
	peer := model.PeerID("peer-one")
	snap := store.Snapshot{
		Peers: map[model.PeerID]model.PeerIdentity{
			peer: {PeerID: peer, DisplayName: "node-1", Devices: map[string]model.DeviceDescriptor{}},
		},
		Measurements: map[model.PeerID]map[string]map[string]store.Measurement{
			peer: {"t1": {"tick": {Value: model.Signal(), MonotonicSeq: 1}}},
		},
	}

	dto := snapshotToDTO(snap)
	want := peerIDString(peer)
	if _, ok := dto.Peers[want]; !ok {
		t.Fatalf("expected peers map to key by base58 peer id %q, got keys %v", want, keysOf(dto.Peers))
	}
	if _, ok := dto.Measurements[want]; !ok {
		t.Fatalf("expected measurements map to key by base58 peer id %q", want)
	}
}

func keysOf(m map[string]peerIdentityDTO) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestActuatorValue_MarshalsBareSignalInSensorDataFrame(t *testing.T) {
	dto := sensorDataDTO{Node: "n", Device: "d", SensorName: "s", Value: model.Signal()}
	data, err := json.Marshal(dto)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["value"] != "signal" {
		t.Errorf("value = %v, want bare string \"signal\"", decoded["value"])
	}
}

func TestRuleToDTO_OmitsNodeForLocalTriggerAndAction(t *testing.T) {
	r := model.Rule{
		ID:      "rule-0",
		Trigger: model.FullyQualifiedSensor{Local: true, DeviceName: "t1", SensorName: "tick"},
		When:    model.Condition{Op: model.OpAny},
		Action:  model.FullyQualifiedActuator{Local: true, DeviceName: "l1", ActuatorName: "ticker"},
		Value:   model.Signal(),
	}
	dto := ruleToDTO(r)
	if dto.Sensor.Node != "" || dto.Then.Node != "" {
		t.Errorf("expected empty node for local trigger/action, got sensor.node=%q then.node=%q", dto.Sensor.Node, dto.Then.Node)
	}
	if dto.Operation != "any" {
		t.Errorf("operation = %q, want any", dto.Operation)
	}
}
