package core

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/meshd/meshd/internal/config"
	"github.com/meshd/meshd/internal/identity"

	_ "github.com/meshd/meshd/internal/device/logger"
	_ "github.com/meshd/meshd/internal/device/timer"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	secrets, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}

	cfg := &config.Config{
		Peer: config.PeerConfig{
			Name: "node-1",
			Devices: map[string]config.DeviceConfig{
				"t1": {DeviceType: "timer", Config: json.RawMessage(`{"tick_every_ms":50}`)},
				"l1": {DeviceType: "logger"},
			},
		},
		Web:     config.WebConfig{Port: 8080, SendBuffer: 256},
		Secrets: config.SecretsConfig{Keypair: secrets.KeypairB64, PSK: secrets.PSKB64},
	}
	cfg2 := *cfg
	if err := cfg2.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return &cfg2
}

func TestNew_DerivesLocalPeerIDFromSecrets(t *testing.T) {
	cfg := testConfig(t)
	secrets := cfg.Secrets.ToIdentity()
	want, err := secrets.LocalPeerID()
	if err != nil {
		t.Fatalf("LocalPeerID: %v", err)
	}

	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.swarm.Stop()

	if c.LocalPeerID() != want {
		t.Errorf("LocalPeerID() = %v, want %v", c.LocalPeerID(), want)
	}
}

func TestNew_SeedsStoreWithLocalIdentityAndDevices(t *testing.T) {
	cfg := testConfig(t)
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.swarm.Stop()

	snap := c.store.Snapshot()
	id, ok := snap.Peers[c.LocalPeerID()]
	if !ok {
		t.Fatal("expected the local peer's identity to be seeded into the store")
	}
	if id.DisplayName != "node-1" {
		t.Errorf("display name = %q, want node-1", id.DisplayName)
	}
	if _, ok := id.Devices["t1"]; !ok {
		t.Error("expected device t1 in seeded identity")
	}
	if _, ok := id.Devices["l1"]; !ok {
		t.Error("expected device l1 in seeded identity")
	}
}

func TestNew_RejectsEmptySecrets(t *testing.T) {
	cfg := testConfig(t)
	cfg.Secrets = config.SecretsConfig{}

	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected an error when secrets are empty")
	}
}

func TestBuildDeviceSpecs_OmitsDeviceWithUnknownType(t *testing.T) {
	cfg := testConfig(t)
	cfg.Peer.Devices["bad"] = config.DeviceConfig{DeviceType: "does-not-exist"}

	specs := buildDeviceSpecs(cfg, slog.Default())
	for _, s := range specs {
		if s.Name == "bad" {
			t.Fatal("expected the unknown device_type to be omitted, not included")
		}
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 valid specs (t1, l1), got %d", len(specs))
	}
}
