// Package store implements the threadsafe peer directory and
// last-known-measurement map described in §4.5: a shared, reference-
// held table of every peer's identity and the most recent reading for
// each of its (device, sensor) pairs.
package store

import (
	"sync"

	"github.com/meshd/meshd/internal/events"
	"github.com/meshd/meshd/internal/model"
)

// PendingBufferSize bounds how many readings are buffered per peer
// while that peer's identity has not yet arrived (§4.5).
const PendingBufferSize = 64

// measurementKey identifies one (peer, device, sensor) cell.
type measurementKey struct {
	Peer   model.PeerID
	Device string
	Sensor string
}

// Measurement is the last-known value recorded for one (device,
// sensor) pair on some peer, together with the sequence number it
// arrived with.
type Measurement struct {
	Value        model.ActuatorValue
	MonotonicSeq uint64
}

// bufferedReading is a reading held for a peer whose identity has not
// yet arrived.
type bufferedReading struct {
	reading model.SensorReading
}

// Snapshot is a point-in-time copy of the store's state, safe to read
// without holding the store's lock.
type Snapshot struct {
	Peers        map[model.PeerID]model.PeerIdentity
	Measurements map[model.PeerID]map[string]map[string]Measurement // peer -> device -> sensor -> measurement
}

// Store is the threadsafe peer directory and measurement table.
type Store struct {
	bus *events.Bus

	mu           sync.RWMutex
	peers        map[model.PeerID]model.PeerIdentity
	measurements map[measurementKey]Measurement
	pending      map[model.PeerID][]bufferedReading
}

// New creates an empty Store. bus is used only so SubscribeChanges can
// hand back a live stream of CoreEvents; the store never publishes to
// it itself — callers (supervisor, swarm manager) publish after a
// successful Record/UpsertPeer so the bus and the store never
// disagree about what happened.
func New(bus *events.Bus) *Store {
	return &Store{
		bus:          bus,
		peers:        make(map[model.PeerID]model.PeerIdentity),
		measurements: make(map[measurementKey]Measurement),
		pending:      make(map[model.PeerID][]bufferedReading),
	}
}

// UpsertPeer replaces peer's identity (last-writer-wins, §4.3 GLOSSARY)
// and reconciles any readings buffered for it while its identity was
// unknown: readings whose (device, sensor) the new identity declares
// are committed in original arrival order; the rest are discarded.
// It also drops any existing measurement whose (device, sensor) the
// new identity no longer declares, preserving the store invariant
// (§3, §8 Store invariant).
func (s *Store) UpsertPeer(id model.PeerIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.peers[id.PeerID] = id

	for key := range s.measurements {
		if key.Peer != id.PeerID {
			continue
		}
		if !declares(id, key.Device, key.Sensor) {
			delete(s.measurements, key)
		}
	}

	for _, buffered := range s.pending[id.PeerID] {
		r := buffered.reading
		if declares(id, r.DeviceName, r.SensorName) {
			s.commitLocked(id.PeerID, r)
		}
	}
	delete(s.pending, id.PeerID)
}

func declares(id model.PeerIdentity, device, sensor string) bool {
	desc, ok := id.Devices[device]
	return ok && desc.HasSensor(sensor)
}

// ForgetPeer removes peer entirely: its identity, its measurements,
// and any readings still buffered for it.
func (s *Store) ForgetPeer(peer model.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, peer)
	delete(s.pending, peer)
	for key := range s.measurements {
		if key.Peer == peer {
			delete(s.measurements, key)
		}
	}
}

// Record commits reading for peer. If peer's identity is not yet
// known, the reading is buffered (oldest evicted past
// PendingBufferSize) until UpsertPeer arrives for it. If the identity
// is known but does not declare (device, sensor), the reading is
// dropped (§4.5, §7 StoreConsistency) and ok reports false.
func (s *Store) Record(peer model.PeerID, r model.SensorReading) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, known := s.peers[peer]
	if !known {
		buf := s.pending[peer]
		buf = append(buf, bufferedReading{reading: r})
		if len(buf) > PendingBufferSize {
			buf = buf[len(buf)-PendingBufferSize:]
		}
		s.pending[peer] = buf
		return false
	}

	if !declares(id, r.DeviceName, r.SensorName) {
		return false
	}
	s.commitLocked(peer, r)
	return true
}

// commitLocked writes r into the measurement table, applying
// monotonic replay suppression (§8): a reading whose MonotonicSeq is
// not strictly greater than the currently stored one is ignored.
func (s *Store) commitLocked(peer model.PeerID, r model.SensorReading) {
	key := measurementKey{Peer: peer, Device: r.DeviceName, Sensor: r.SensorName}
	if existing, ok := s.measurements[key]; ok && r.MonotonicSeq <= existing.MonotonicSeq {
		return
	}
	s.measurements[key] = Measurement{Value: r.Value, MonotonicSeq: r.MonotonicSeq}
}

// Snapshot returns a deep copy of the current peers and measurements,
// safe for the caller to read and serialize without holding any lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make(map[model.PeerID]model.PeerIdentity, len(s.peers))
	for k, v := range s.peers {
		peers[k] = v
	}

	measurements := make(map[model.PeerID]map[string]map[string]Measurement)
	for key, m := range s.measurements {
		byDevice, ok := measurements[key.Peer]
		if !ok {
			byDevice = make(map[string]map[string]Measurement)
			measurements[key.Peer] = byDevice
		}
		bySensor, ok := byDevice[key.Device]
		if !ok {
			bySensor = make(map[string]Measurement)
			byDevice[key.Device] = bySensor
		}
		bySensor[key.Sensor] = m
	}

	return Snapshot{Peers: peers, Measurements: measurements}
}

// SubscribeChanges returns a stream of CoreEvents reflecting store
// activity (§4.5). It is a thin pass-through to the shared event bus:
// every component that mutates the store is expected to publish the
// corresponding CoreEvent after a successful mutation.
func (s *Store) SubscribeChanges(bufSize int) <-chan events.CoreEvent {
	return s.bus.Subscribe(bufSize)
}

// UnsubscribeChanges releases a subscription returned by
// SubscribeChanges.
func (s *Store) UnsubscribeChanges(ch <-chan events.CoreEvent) {
	s.bus.Unsubscribe(ch)
}
