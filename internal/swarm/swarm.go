// Package swarm implements the swarm network manager (§4.4): a libp2p
// host joined to a pre-shared-key private network, discovering peers
// over mDNS, keeping them alive with ping-based three-strikes
// monitoring, exchanging measurements and identity over gossipsub, and
// serving remote actuation requests over a length-prefixed stream
// protocol.
package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/core/pnet"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/protocol/ping"

	"github.com/meshd/meshd/internal/connwatch"
	"github.com/meshd/meshd/internal/events"
	"github.com/meshd/meshd/internal/identity"
	"github.com/meshd/meshd/internal/model"
	"github.com/meshd/meshd/internal/store"
	"github.com/meshd/meshd/internal/wire"
)

// ActuateProtocol is the libp2p stream protocol ID for request/response
// remote actuation (§4.4, §6).
const ActuateProtocol protocol.ID = "/meshd/actuate/1.0.0"

// discoveryTag is the mDNS service tag peers advertise themselves under.
const discoveryTag = "meshd-swarm"

// topicMeasurements and topicIdentity name the two gossipsub topics
// used by the swarm (§4.4, §6).
const (
	topicMeasurements = "measurements"
	topicIdentity     = "identity"
)

// identityRepublishInterval is how often this node's identity is
// rebroadcast in the background, in addition to once at startup and
// once immediately after any driver-set or display-name change (§4.4).
const identityRepublishInterval = 30 * time.Second

// dialTimeout bounds a discovery-triggered dial attempt.
const dialTimeout = 10 * time.Second

// LocalActuationHandler dispatches an actuation request addressed to a
// device this node owns. Implemented by *supervisor.Supervisor.
type LocalActuationHandler interface {
	Actuate(ctx context.Context, deviceName, actuatorName string, v model.ActuatorValue, origin model.ActuationOrigin) model.ActuationResponse
}

// DescriptorSource returns this node's current device descriptors, used
// to build the PeerIdentity published to the swarm. Implemented by
// *supervisor.Supervisor.
type DescriptorSource interface {
	Descriptors() map[string]model.DeviceDescriptor
}

// Config controls the swarm manager's timing, sourced from
// config.json's keepalive/actuation sections (§6). Discovery's own
// interval_ms is accepted by config parsing for schema completeness but
// is not threaded here: the underlying mDNS resolver's query cadence is
// not independently tunable through its public API.
type Config struct {
	DisplayName             string
	KeepaliveInterval       time.Duration
	KeepaliveFailuresToDrop int
	ActuationTimeout        time.Duration
}

// Manager owns the libp2p host and every swarm-facing protocol: mDNS
// discovery, ping keep-alive, gossipsub measurements/identity, and the
// request/response actuation stream (§4.4). It implements
// supervisor.OutboundPublisher and rules.RemoteActuator.
type Manager struct {
	cfg    Config
	host   host.Host
	pubsub *pubsub.PubSub

	measurementsTopic *pubsub.Topic
	measurementsSub   *pubsub.Subscription
	identityTopic     *pubsub.Topic
	identitySub       *pubsub.Subscription

	mdnsService mdns.Service
	pingService *ping.PingService
	conns       *connwatch.Manager

	bus    *events.Bus
	store  *store.Store
	local  LocalActuationHandler
	descs  DescriptorSource
	logger *slog.Logger

	localPeer model.PeerID

	mu           sync.Mutex
	lastSeq      map[model.PeerID]uint64 // highest measurement seq seen per peer
	watchedPeers map[model.PeerID]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a libp2p host over a PSK-protected private network
// using secrets, but does not yet start discovery or protocol loops —
// call Start for that.
func New(secrets identity.Secrets, cfg Config, bus *events.Bus, st *store.Store, local LocalActuationHandler, descs DescriptorSource, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	priv, err := secrets.PrivateKey()
	if err != nil {
		return nil, fmt.Errorf("swarm: %w", err)
	}
	pskBytes, err := secrets.PSK()
	if err != nil {
		return nil, fmt.Errorf("swarm: %w", err)
	}

	localPeer, err := secrets.LocalPeerID()
	if err != nil {
		return nil, fmt.Errorf("swarm: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings("/ip4/0.0.0.0/tcp/0"),
		libp2p.PrivateNetwork(pnet.PSK(pskBytes)),
	)
	if err != nil {
		return nil, fmt.Errorf("swarm: create host: %w", err)
	}

	m := &Manager{
		cfg:          cfg,
		host:         h,
		pingService:  ping.NewPingService(h),
		conns:        connwatch.NewManager(logger),
		bus:          bus,
		store:        st,
		local:        local,
		descs:        descs,
		logger:       logger,
		localPeer:    localPeer,
		lastSeq:      make(map[model.PeerID]uint64),
		watchedPeers: make(map[model.PeerID]struct{}),
	}
	return m, nil
}

// HostID returns this node's libp2p peer ID.
func (m *Manager) HostID() model.PeerID { return m.localPeer }

// Addrs returns the multiaddrs this node's host is listening on.
func (m *Manager) Addrs() []string {
	var out []string
	for _, a := range m.host.Addrs() {
		out = append(out, a.String())
	}
	return out
}

// Start joins the gossipsub topics, registers the actuation stream
// handler, begins mDNS discovery, and launches the receive loops and
// periodic identity republication. Must be called once.
func (m *Manager) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	ps, err := pubsub.NewGossipSub(ctx, m.host)
	if err != nil {
		return fmt.Errorf("swarm: gossipsub: %w", err)
	}
	m.pubsub = ps

	m.measurementsTopic, err = ps.Join(topicMeasurements)
	if err != nil {
		return fmt.Errorf("swarm: join %s: %w", topicMeasurements, err)
	}
	m.measurementsSub, err = m.measurementsTopic.Subscribe()
	if err != nil {
		return fmt.Errorf("swarm: subscribe %s: %w", topicMeasurements, err)
	}

	m.identityTopic, err = ps.Join(topicIdentity)
	if err != nil {
		return fmt.Errorf("swarm: join %s: %w", topicIdentity, err)
	}
	m.identitySub, err = m.identityTopic.Subscribe()
	if err != nil {
		return fmt.Errorf("swarm: subscribe %s: %w", topicIdentity, err)
	}

	m.host.SetStreamHandler(ActuateProtocol, m.handleActuateStream)
	m.registerConnNotifee()

	md := mdns.NewMdnsService(m.host, discoveryTag, &discoveryNotifee{m: m})
	m.mdnsService = md
	if err := md.Start(); err != nil {
		return fmt.Errorf("swarm: mdns start: %w", err)
	}

	m.wg.Add(1)
	go func() { defer m.wg.Done(); m.runMeasurementsLoop(ctx) }()
	m.wg.Add(1)
	go func() { defer m.wg.Done(); m.runIdentityLoop(ctx) }()
	m.wg.Add(1)
	go func() { defer m.wg.Done(); m.runIdentityRepublishLoop(ctx) }()

	m.RepublishIdentity(ctx)

	return nil
}

// Stop closes every discovery/pub-sub resource and the host itself,
// waiting for the manager's background loops to exit.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.mdnsService != nil {
		m.mdnsService.Close()
	}
	m.conns.Stop()
	m.wg.Wait()
	m.host.Close()
}

// RepublishIdentity builds and publishes this node's current
// PeerIdentity on the identity topic (§4.4: startup, every 30s, and
// immediately on driver-set/display-name change).
func (m *Manager) RepublishIdentity(ctx context.Context) {
	id := model.PeerIdentity{
		PeerID:      m.localPeer,
		DisplayName: m.cfg.DisplayName,
		Devices:     m.descs.Descriptors(),
	}
	data := wire.EncodeIdentity(id)
	if err := m.identityTopic.Publish(ctx, data); err != nil {
		m.logger.Warn("publish identity failed", "error", err)
		return
	}
	// Our own identity never round-trips back through gossipsub's
	// self-delivery in a way callers should wait on; record it locally
	// so the store/bus agree immediately.
	m.store.UpsertPeer(id)
	m.bus.Publish(events.PeerIdentity(id))
}

func (m *Manager) runIdentityRepublishLoop(ctx context.Context) {
	interval := identityRepublishInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RepublishIdentity(ctx)
		}
	}
}

// PublishLocalReading implements supervisor.OutboundPublisher: it
// encodes reading under this node's PeerID and publishes it on the
// measurements topic (§4.4).
func (m *Manager) PublishLocalReading(reading model.SensorReading) {
	data := wire.EncodeMeasurement([]byte(m.localPeer), reading)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.measurementsTopic.Publish(ctx, data); err != nil {
		m.logger.Warn("publish measurement failed", "error", err)
	}
}

func (m *Manager) runMeasurementsLoop(ctx context.Context) {
	for {
		msg, err := m.measurementsSub.Next(ctx)
		if err != nil {
			return
		}
		peerBytes, reading, err := wire.DecodeMeasurement(msg.Data)
		if err != nil {
			m.logger.Debug("discard malformed measurement", "error", err)
			continue
		}
		peerID := model.PeerID(peerBytes)
		if peerID == m.localPeer {
			continue
		}
		if !m.acceptSeq(peerID, reading.MonotonicSeq) {
			continue
		}
		if m.store.Record(peerID, reading) {
			m.bus.Publish(events.RemoteSensor(peerID, reading))
		}
	}
}

// acceptSeq applies (peer_id, monotonic_seq) replay suppression on top
// of gossipsub's own message-ID deduplication (§4.4, §8): a reading
// whose sequence number does not exceed the highest seen for that peer
// is discarded.
func (m *Manager) acceptSeq(peerID model.PeerID, seq uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.lastSeq[peerID]; ok && seq <= last {
		return false
	}
	m.lastSeq[peerID] = seq
	return true
}

func (m *Manager) runIdentityLoop(ctx context.Context) {
	for {
		msg, err := m.identitySub.Next(ctx)
		if err != nil {
			return
		}
		id, err := wire.DecodeIdentity(msg.Data)
		if err != nil {
			m.logger.Debug("discard malformed identity", "error", err)
			continue
		}
		if id.PeerID == m.localPeer {
			continue
		}
		m.store.UpsertPeer(id)
		m.bus.Publish(events.PeerIdentity(id))
	}
}

// RequestActuation implements rules.RemoteActuator: it opens a stream
// to peerID, writes a framed ActuationRequest, and waits for a framed
// ActuationResponse, bounded by cfg.ActuationTimeout (default 10s, §4.4).
func (m *Manager) RequestActuation(ctx context.Context, peerID model.PeerID, req model.ActuationRequest) model.ActuationResponse {
	timeout := m.cfg.ActuationTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s, err := m.host.NewStream(ctx, peerID, ActuateProtocol)
	if err != nil {
		m.logger.Debug("actuation stream open failed", "peer", peerID, "error", err)
		return model.NoResponse()
	}
	defer s.Close()

	if dl, ok := ctx.Deadline(); ok {
		s.SetDeadline(dl)
	}

	if err := wire.WriteFrame(s, wire.EncodeActuatorData(req)); err != nil {
		m.logger.Debug("actuation request write failed", "peer", peerID, "error", err)
		return model.NoResponse()
	}

	payload, err := wire.ReadFrame(s)
	if err != nil {
		m.logger.Debug("actuation response read failed", "peer", peerID, "error", err)
		return model.NoResponse()
	}

	resp, err := wire.DecodeActuationResponse(payload)
	if err != nil {
		m.logger.Debug("actuation response decode failed", "peer", peerID, "error", err)
		return model.NoResponse()
	}
	return resp
}

// handleActuateStream serves an inbound actuation request: decode,
// dispatch to the local supervisor, encode and frame the response.
func (m *Manager) handleActuateStream(s network.Stream) {
	defer s.Close()

	s.SetDeadline(time.Now().Add(10 * time.Second))

	payload, err := wire.ReadFrame(s)
	if err != nil {
		m.logger.Debug("actuation request read failed", "peer", s.Conn().RemotePeer(), "error", err)
		return
	}
	req, err := wire.DecodeActuatorData(payload)
	if err != nil {
		m.logger.Debug("actuation request decode failed", "peer", s.Conn().RemotePeer(), "error", err)
		return
	}

	origin := model.RemoteOrigin(s.Conn().RemotePeer())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp := m.local.Actuate(ctx, req.DeviceName, req.ActuatorName, req.Value, origin)

	if err := wire.WriteFrame(s, wire.EncodeActuationResponse(resp)); err != nil {
		m.logger.Debug("actuation response write failed", "peer", s.Conn().RemotePeer(), "error", err)
	}
}

// discoveryNotifee implements mdns.Notifee, dialing newly discovered
// peers subject to the numerically-smaller-PeerId tie-break (§4.4):
// only the side with the smaller PeerID ever initiates a dial, so two
// peers that discover each other simultaneously never race to open
// duplicate connections.
type discoveryNotifee struct {
	m *Manager
}

func (n *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	m := n.m
	if pi.ID == m.host.ID() {
		return
	}
	if m.host.Network().Connectedness(pi.ID) == network.Connected {
		return
	}
	if model.ComparePeers(m.host.ID(), pi.ID) >= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := m.host.Connect(ctx, pi); err != nil {
		m.logger.Debug("discovery dial failed", "peer", pi.ID, "error", err)
	}
}

// registerConnNotifee starts a per-peer keep-alive watcher the first
// time any connection (inbound or outbound) to that peer is observed,
// regardless of which side initiated it (§4.4).
func (m *Manager) registerConnNotifee() {
	m.host.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			m.startKeepalive(c.RemotePeer())
		},
	})
}

func (m *Manager) startKeepalive(peerID model.PeerID) {
	m.mu.Lock()
	if _, already := m.watchedPeers[peerID]; already {
		m.mu.Unlock()
		return
	}
	m.watchedPeers[peerID] = struct{}{}
	m.mu.Unlock()

	interval := m.cfg.KeepaliveInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	failuresToDrop := m.cfg.KeepaliveFailuresToDrop
	if failuresToDrop <= 0 {
		failuresToDrop = 3
	}

	probeTimeout := interval / 2
	if probeTimeout > 5*time.Second {
		probeTimeout = 5 * time.Second
	}

	m.conns.Watch(context.Background(), connwatch.WatcherConfig{
		Name:  peerID.String(),
		Probe: m.pingProbe(peerID),
		Backoff: connwatch.BackoffConfig{
			InitialDelay: interval,
			MaxDelay:     interval,
			Multiplier:   1,
			MaxRetries:   1,
			PollInterval: interval,
			ProbeTimeout: probeTimeout,
		},
		FailuresToDown: failuresToDrop,
		OnDown: func(err error) {
			m.handlePeerLost(peerID)
		},
		Logger: m.logger,
	})
}

// pingProbe returns a connwatch.ProbeFunc backed by libp2p's ping
// protocol (§4.4).
func (m *Manager) pingProbe(peerID model.PeerID) connwatch.ProbeFunc {
	return func(ctx context.Context) error {
		results := m.pingService.Ping(ctx, peerID)
		select {
		case r := <-results:
			return r.Error
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handlePeerLost closes any remaining connection to peerID, forgets it
// in the store, and emits PeerLost (§4.4), so a future reconnect starts
// a fresh keep-alive watcher.
func (m *Manager) handlePeerLost(peerID model.PeerID) {
	m.mu.Lock()
	delete(m.watchedPeers, peerID)
	m.mu.Unlock()

	m.host.Network().ClosePeer(peerID)
	m.store.ForgetPeer(peerID)
	m.bus.Publish(events.PeerLost(peerID))
}
