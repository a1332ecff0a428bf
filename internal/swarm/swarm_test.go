package swarm

import (
	"context"
	"testing"
	"time"

	"github.com/meshd/meshd/internal/events"
	"github.com/meshd/meshd/internal/identity"
	"github.com/meshd/meshd/internal/model"
	"github.com/meshd/meshd/internal/store"
)

type fakeLocalActuator struct{}

func (fakeLocalActuator) Actuate(ctx context.Context, deviceName, actuatorName string, v model.ActuatorValue, origin model.ActuationOrigin) model.ActuationResponse {
	return model.Success()
}

type fakeDescriptorSource struct{}

func (fakeDescriptorSource) Descriptors() map[string]model.DeviceDescriptor {
	return map[string]model.DeviceDescriptor{}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	secrets, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	bus := events.New()
	st := store.New(bus)

	m, err := New(secrets, Config{DisplayName: "test-node"}, bus, st, fakeLocalActuator{}, fakeDescriptorSource{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestNew_DerivesHostIDFromSecrets(t *testing.T) {
	secrets, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	want, err := secrets.LocalPeerID()
	if err != nil {
		t.Fatalf("LocalPeerID: %v", err)
	}

	bus := events.New()
	st := store.New(bus)
	m, err := New(secrets, Config{}, bus, st, fakeLocalActuator{}, fakeDescriptorSource{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Stop()

	if m.HostID() != want {
		t.Errorf("HostID() = %v, want %v", m.HostID(), want)
	}
	if len(m.Addrs()) == 0 {
		t.Error("expected at least one listen address")
	}
}

func TestNew_RejectsWrongLengthPSK(t *testing.T) {
	secrets, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	secrets.PSKB64 = "YWJj" // 3 raw bytes, not PSKSize

	bus := events.New()
	st := store.New(bus)
	if _, err := New(secrets, Config{}, bus, st, fakeLocalActuator{}, fakeDescriptorSource{}, nil); err == nil {
		t.Fatal("expected error for wrong-length PSK")
	}
}

func TestAcceptSeq_DedupesReplaysPerPeer(t *testing.T) {
	m := newTestManager(t)
	defer m.Stop()

	peerA := model.PeerID("peer-a")
	peerB := model.PeerID("peer-b")

	if !m.acceptSeq(peerA, 1) {
		t.Error("first reading from peerA should be accepted")
	}
	if !m.acceptSeq(peerA, 2) {
		t.Error("strictly increasing seq should be accepted")
	}
	if m.acceptSeq(peerA, 2) {
		t.Error("replay of the same seq should be rejected")
	}
	if m.acceptSeq(peerA, 1) {
		t.Error("replay of an older seq should be rejected")
	}

	// A different peer's sequence space is independent.
	if !m.acceptSeq(peerB, 1) {
		t.Error("peerB's first reading should be accepted despite peerA's state")
	}
}

func TestRequestActuation_NoResponseForUnknownPeer(t *testing.T) {
	m := newTestManager(t)
	defer m.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	other, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	otherPeer, err := other.LocalPeerID()
	if err != nil {
		t.Fatalf("LocalPeerID: %v", err)
	}

	resp := m.RequestActuation(ctx, otherPeer, model.ActuationRequest{DeviceName: "d", ActuatorName: "a", Value: model.Signal()})
	if resp.Kind != model.ResponseNoResponse {
		t.Errorf("response kind = %v, want ResponseNoResponse", resp.Kind)
	}
}

func TestHandlePeerLost_RemovesWatchedPeerAndStoreEntry(t *testing.T) {
	m := newTestManager(t)
	defer m.Stop()

	peerID := model.PeerID("peer-gone")
	m.store.UpsertPeer(model.PeerIdentity{PeerID: peerID, DisplayName: "gone"})
	m.mu.Lock()
	m.watchedPeers[peerID] = struct{}{}
	m.mu.Unlock()

	sub := m.bus.Subscribe(4)
	defer m.bus.Unsubscribe(sub)

	m.handlePeerLost(peerID)

	m.mu.Lock()
	_, stillWatched := m.watchedPeers[peerID]
	m.mu.Unlock()
	if stillWatched {
		t.Error("handlePeerLost should remove the peer from watchedPeers")
	}

	snap := m.store.Snapshot()
	if _, ok := snap.Peers[peerID]; ok {
		t.Error("handlePeerLost should forget the peer in the store")
	}

	select {
	case evt := <-sub:
		if evt.Kind != events.KindPeerLost || evt.Peer != peerID {
			t.Errorf("got event %+v, want KindPeerLost for %v", evt, peerID)
		}
	default:
		t.Error("expected a PeerLost event on the bus")
	}
}
