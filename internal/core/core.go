// Package core wires meshd's components together into one running
// daemon (§4.8): from an already loaded configuration it instantiates
// every local device, and starts the store, supervisor, swarm manager, rule
// engine, and web gateway as one unit with a single graceful shutdown
// path. Grounded on the teacher's cmd/thane runServe wiring sequence
// (config load, component construction, signal-driven cancellation,
// ordered shutdown), generalized from one conversational-agent process
// to this daemon's five long-running components.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meshd/meshd/internal/config"
	"github.com/meshd/meshd/internal/device"
	"github.com/meshd/meshd/internal/events"
	"github.com/meshd/meshd/internal/model"
	"github.com/meshd/meshd/internal/rules"
	"github.com/meshd/meshd/internal/store"
	"github.com/meshd/meshd/internal/supervisor"
	"github.com/meshd/meshd/internal/swarm"
	"github.com/meshd/meshd/internal/web"
)

// ShutdownGrace bounds how long Run waits for in-flight sensing,
// actuation, and swarm teardown once shutdown begins (§4.8).
const ShutdownGrace = 10 * time.Second

// Core holds every long-running component of one meshd process.
type Core struct {
	cfg    *config.Config
	logger *slog.Logger

	bus        *events.Bus
	store      *store.Store
	supervisor *supervisor.Supervisor
	swarm      *swarm.Manager
	rules      *rules.Engine
	web        *web.Server

	localPeer model.PeerID
}

// New builds every component from cfg but starts nothing. cfg.Secrets
// must already be populated (first-run secrets bootstrap, §6, happens
// in cmd/meshd before New is called).
func New(cfg *config.Config, logger *slog.Logger) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Secrets.Empty() {
		return nil, fmt.Errorf("core: config has no secrets; run first-run setup before starting the daemon")
	}

	secrets := cfg.Secrets.ToIdentity()
	localPeer, err := secrets.LocalPeerID()
	if err != nil {
		return nil, fmt.Errorf("core: derive local peer id: %w", err)
	}

	bus := events.New()
	st := store.New(bus)

	specs := buildDeviceSpecs(cfg, logger)

	sup := supervisor.New(bus, st, nil, localPeer, specs, logger)

	swarmCfg := swarm.Config{
		DisplayName:             cfg.Peer.Name,
		KeepaliveInterval:       time.Duration(cfg.Keepalive.IntervalMs) * time.Millisecond,
		KeepaliveFailuresToDrop: cfg.Keepalive.FailuresToDrop,
		ActuationTimeout:        time.Duration(cfg.Actuation.RequestTimeoutMs) * time.Millisecond,
	}
	swarmMgr, err := swarm.New(secrets, swarmCfg, bus, st, sup, sup, logger)
	if err != nil {
		return nil, fmt.Errorf("core: start swarm manager: %w", err)
	}
	sup.SetPublisher(swarmMgr)

	ruleList, err := cfg.BuildRules()
	if err != nil {
		return nil, fmt.Errorf("core: build rules: %w", err)
	}
	engine := rules.New(ruleList, sup, swarmMgr, bus, logger)

	st.UpsertPeer(model.PeerIdentity{
		PeerID:      localPeer,
		DisplayName: cfg.Peer.Name,
		Devices:     sup.Descriptors(),
	})

	webCfg := web.Config{Port: cfg.Web.Port, SendBuffer: cfg.Web.SendBuffer}
	webServer := web.NewServer(webCfg, bus, st, localPeer, engine, sup, swarmMgr, logger)

	return &Core{
		cfg:        cfg,
		logger:     logger,
		bus:        bus,
		store:      st,
		supervisor: sup,
		swarm:      swarmMgr,
		rules:      engine,
		web:        webServer,
		localPeer:  localPeer,
	}, nil
}

// buildDeviceSpecs instantiates every configured local device. A
// device that fails to initialize is logged and omitted rather than
// aborting the daemon (§7: device init failure is per-device fatal,
// not process fatal).
func buildDeviceSpecs(cfg *config.Config, logger *slog.Logger) []supervisor.Spec {
	specs := make([]supervisor.Spec, 0, len(cfg.Peer.Devices))
	for name, dc := range cfg.Peer.Devices {
		drv, err := device.New(dc.DeviceType, name, dc.Config)
		if err != nil {
			logger.Error("device init failed, omitting from this node's identity", "device", name, "device_type", dc.DeviceType, "error", err)
			continue
		}
		specs = append(specs, supervisor.Spec{Name: name, Driver: drv, CadenceMs: cfg.Supervisor.DefaultCadenceMs})
	}
	return specs
}

// LocalPeerID returns this node's swarm identity.
func (c *Core) LocalPeerID() model.PeerID { return c.localPeer }

// Addrs returns the swarm host's listen multiaddrs, useful for
// startup logging.
func (c *Core) Addrs() []string { return c.swarm.Addrs() }

// Run starts every component and blocks until ctx is cancelled (or a
// component fails outright), then runs the shutdown sequence and
// returns. A non-nil error distinguishes an unrecoverable swarm
// failure (§6 exit code 2) from a web gateway bind failure (§6 exit
// code 3); a nil error after ctx cancellation is a graceful shutdown
// (§6 exit code 0).
func (c *Core) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := c.swarm.Start(ctx); err != nil {
		return fmt.Errorf("swarm: %w", err)
	}
	c.supervisor.Start(ctx)
	go c.rules.Run(ctx)

	webErrCh := make(chan error, 1)
	go func() { webErrCh <- c.web.Start(ctx) }()

	select {
	case err := <-webErrCh:
		// The gateway exited on its own before shutdown was requested —
		// almost certainly a bind failure (§6 exit code 3).
		return fmt.Errorf("web: %w", err)
	case <-ctx.Done():
	}

	c.logger.Info("shutdown requested, stopping components", "grace", ShutdownGrace)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownGrace)
	defer shutdownCancel()

	c.supervisor.Shutdown(shutdownCtx)
	if err := c.web.Shutdown(shutdownCtx); err != nil {
		c.logger.Warn("web gateway shutdown error", "error", err)
	}
	<-webErrCh
	c.swarm.Stop()

	c.logger.Info("meshd stopped")
	return nil
}
