package web

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/meshd/meshd/internal/events"
	"github.com/meshd/meshd/internal/model"
	"github.com/meshd/meshd/internal/rules"
	"github.com/meshd/meshd/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	bus := events.New()
	st := store.New(bus)
	peer := model.PeerID("local-peer")

	st.UpsertPeer(model.PeerIdentity{
		PeerID:      peer,
		DisplayName: "node-1",
		Devices: map[string]model.DeviceDescriptor{
			"t1": {DeviceName: "t1", DeviceType: "timer", Sensors: map[string]struct{}{"tick": {}}},
		},
	})
	st.Record(peer, model.SensorReading{DeviceName: "t1", SensorName: "tick", Value: model.Signal(), MonotonicSeq: 1})

	eng := rules.New(nil, nil, nil, bus, nil)

	return NewServer(Config{Port: 0, SendBuffer: 4}, bus, st, peer, eng, nil, nil, nil)
}

func TestHandlePeers_ReturnsSnapshot(t *testing.T) {
	s := newTestServer(t)
	r := httptest.NewRequest("GET", "/api/peers", nil)
	w := httptest.NewRecorder()

	s.handlePeers(w, r)

	var got snapshotDTO
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got.Peers) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(got.Peers))
	}
}

func TestHandleRules_EmptyWhenNoRules(t *testing.T) {
	s := newTestServer(t)
	r := httptest.NewRequest("GET", "/api/rules", nil)
	w := httptest.NewRecorder()

	s.handleRules(w, r)

	var got []ruleDTO
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected 0 rules, got %d", len(got))
	}
}

func TestHandleActuate_NoLocalActuatorReturnsServiceUnavailable(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(actuateRequestDTO{Device: "l1", ActuatorName: "ticker", Value: model.Signal()})
	r := httptest.NewRequest("POST", "/api/actuate", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleActuate(w, r)

	if w.Code != 503 {
		t.Errorf("status = %d, want 503", w.Code)
	}
}
