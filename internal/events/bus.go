// Package events provides a publish/subscribe broadcast bus for
// CoreEvent variants (§4.2): local and remote sensor readings, peer
// identity and loss notifications, and local actuations. Subscribers
// include the web gateway and the rule engine. The bus is nil-safe:
// calling Publish on a nil *Bus is a no-op, so components do not need
// guard checks.
package events

import (
	"time"

	"sync"

	"github.com/meshd/meshd/internal/model"
)

// EventKind tags a CoreEvent variant.
type EventKind uint8

const (
	// KindLocalSensor carries a reading produced by a local driver.
	KindLocalSensor EventKind = iota
	// KindRemoteSensor carries a reading received from a remote peer.
	KindRemoteSensor
	// KindPeerIdentity carries a peer's (re)published identity.
	KindPeerIdentity
	// KindPeerLost signals that a peer's connection was dropped.
	KindPeerLost
	// KindLocalActuation signals a local actuation was performed.
	KindLocalActuation
	// KindLagged is synthesized by the bus itself (never published by a
	// component) to tell a subscriber it missed n events.
	KindLagged
)

func (k EventKind) String() string {
	switch k {
	case KindLocalSensor:
		return "local_sensor"
	case KindRemoteSensor:
		return "remote_sensor"
	case KindPeerIdentity:
		return "peer_identity"
	case KindPeerLost:
		return "peer_lost"
	case KindLocalActuation:
		return "local_actuation"
	case KindLagged:
		return "lagged"
	default:
		return "unknown"
	}
}

// CoreEvent is the single broadcast envelope for the swarm's event
// bus (§4.2). Only the fields relevant to Kind are populated.
type CoreEvent struct {
	Kind      EventKind
	Timestamp time.Time

	// KindLocalSensor, KindRemoteSensor
	Reading model.SensorReading
	// KindRemoteSensor, KindPeerLost
	Peer model.PeerID
	// KindPeerIdentity
	Identity model.PeerIdentity
	// KindLocalActuation
	DeviceName   string
	ActuatorName string
	Value        model.ActuatorValue
	Origin       model.ActuationOrigin
	// KindLagged
	Dropped int
}

// LocalSensor builds a KindLocalSensor event.
func LocalSensor(r model.SensorReading) CoreEvent {
	return CoreEvent{Kind: KindLocalSensor, Timestamp: time.Now(), Reading: r}
}

// RemoteSensor builds a KindRemoteSensor event.
func RemoteSensor(peer model.PeerID, r model.SensorReading) CoreEvent {
	return CoreEvent{Kind: KindRemoteSensor, Timestamp: time.Now(), Peer: peer, Reading: r}
}

// PeerIdentity builds a KindPeerIdentity event.
func PeerIdentity(id model.PeerIdentity) CoreEvent {
	return CoreEvent{Kind: KindPeerIdentity, Timestamp: time.Now(), Identity: id}
}

// PeerLost builds a KindPeerLost event.
func PeerLost(peer model.PeerID) CoreEvent {
	return CoreEvent{Kind: KindPeerLost, Timestamp: time.Now(), Peer: peer}
}

// LocalActuation builds a KindLocalActuation event.
func LocalActuation(device, actuator string, v model.ActuatorValue, origin model.ActuationOrigin) CoreEvent {
	return CoreEvent{
		Kind:         KindLocalActuation,
		Timestamp:    time.Now(),
		DeviceName:   device,
		ActuatorName: actuator,
		Value:        v,
		Origin:       origin,
	}
}

// lagged builds a KindLagged marker for n dropped events.
func lagged(n int) CoreEvent {
	return CoreEvent{Kind: KindLagged, Timestamp: time.Now(), Dropped: n}
}

// Bus is a non-blocking broadcast event bus. Subscribers receive
// events on buffered channels; a subscriber that falls behind has its
// oldest buffered event evicted to make room rather than blocking the
// publisher, and is told how many events it lost via a Lagged marker
// at its next receive (§4.2).
type Bus struct {
	mu   sync.Mutex
	subs map[*subscription]struct{}
}

// subscription tracks one subscriber's channel and its drop count
// since the last delivered event.
type subscription struct {
	ch      chan CoreEvent
	dropped int
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{subs: make(map[*subscription]struct{})}
}

// Publish sends an event to all subscribers. Never blocks: a
// subscriber whose buffer is full has its oldest event evicted to
// make room for e, and its drop counter incremented so the next
// delivered event is preceded by a Lagged marker. Safe to call on a
// nil receiver (no-op).
func (b *Bus) Publish(e CoreEvent) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		b.deliverLocked(s, e)
	}
}

func (b *Bus) deliverLocked(s *subscription, e CoreEvent) {
	if s.dropped > 0 {
		if !trySend(s.ch, lagged(s.dropped)) {
			b.evictOldestLocked(s)
			trySend(s.ch, lagged(s.dropped))
		}
		s.dropped = 0
	}
	if trySend(s.ch, e) {
		return
	}
	b.evictOldestLocked(s)
	if !trySend(s.ch, e) {
		s.dropped++
	}
}

func trySend(ch chan CoreEvent, e CoreEvent) bool {
	select {
	case ch <- e:
		return true
	default:
		return false
	}
}

// evictOldestLocked drops the single oldest buffered event for s to
// make room for a new one. Evicting a Lagged marker carries its count
// forward into s.dropped, so the next marker still reports it.
func (b *Bus) evictOldestLocked(s *subscription) {
	select {
	case old := <-s.ch:
		if old.Kind == KindLagged {
			s.dropped += old.Dropped
		} else {
			s.dropped++
		}
	default:
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer.
func (b *Bus) Subscribe(bufSize int) <-chan CoreEvent {
	s := &subscription{ch: make(chan CoreEvent, bufSize)}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[s] = struct{}{}
	return s.ch
}

// Unsubscribe removes a subscription and closes its channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan CoreEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		if s.ch == ch {
			delete(b.subs, s)
			close(s.ch)
			return
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
