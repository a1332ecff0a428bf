// Package config handles meshd configuration loading from config.json
// (§6). The wire format is JSON, not the teacher's YAML: the spec fixes
// this as an external interface, not a style choice.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/meshd/meshd/internal/identity"
	"github.com/meshd/meshd/internal/model"
)

// DefaultSearchPaths returns the config file search order. An explicit
// path (from -config flag) is checked first. Then ./config.json,
// ~/.config/meshd/config.json, /config/config.json,
// /etc/meshd/config.json.
func DefaultSearchPaths() []string {
	paths := []string{"config.json"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home+"/.config/meshd/config.json")
	}

	paths = append(paths, "/config/config.json") // Container convention
	paths = append(paths, "/etc/meshd/config.json")
	return paths
}

var searchPathsFunc = DefaultSearchPaths

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise searches the default paths and returns the first
// that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range searchPathsFunc() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPathsFunc())
}

// PeerConfig carries this node's display name and its local devices
// (§6: "peer.name", "peer.devices").
type PeerConfig struct {
	Name    string                  `json:"name"`
	Devices map[string]DeviceConfig `json:"devices"`
}

// DeviceConfig is one entry of peer.devices: a driver type name plus
// its driver-specific configuration blob, passed through to
// device.New unparsed.
type DeviceConfig struct {
	DeviceType string          `json:"device_type"`
	Config     json.RawMessage `json:"config"`
}

// UnmarshalJSON decodes peer.devices field-by-field instead of going
// straight through encoding/json's map decoder, which would silently
// let a later duplicate key win. Open Question (a) requires a
// duplicate device name to fail startup with a Config error, so
// duplicates are rejected here instead.
func (p *PeerConfig) UnmarshalJSON(data []byte) error {
	var shallow map[string]json.RawMessage
	if err := json.Unmarshal(data, &shallow); err != nil {
		return err
	}
	if nameRaw, ok := shallow["name"]; ok {
		if err := json.Unmarshal(nameRaw, &p.Name); err != nil {
			return fmt.Errorf("peer.name: %w", err)
		}
	}

	devicesRaw, ok := shallow["devices"]
	if !ok {
		p.Devices = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(devicesRaw))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("peer.devices: %w", err)
	}
	if tok == nil {
		// "devices": null, as Save writes for a config with no devices.
		p.Devices = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("peer.devices: expected a JSON object")
	}

	devices := make(map[string]DeviceConfig)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("peer.devices: %w", err)
		}
		name, _ := keyTok.(string)
		if _, dup := devices[name]; dup {
			return fmt.Errorf("peer.devices: duplicate device name %q", name)
		}

		var dc DeviceConfig
		if err := dec.Decode(&dc); err != nil {
			return fmt.Errorf("peer.devices[%q]: %w", name, err)
		}
		devices[name] = dc
	}
	p.Devices = devices
	return nil
}

// WebConfig controls the web gateway (§4.7).
type WebConfig struct {
	Port       int `json:"port"`
	SendBuffer int `json:"send_buffer"` // [ADDED] §6: default 256
}

// DiscoveryConfig is accepted for mDNS peer discovery (§4.4) but is not
// passed to the swarm manager: the mDNS query cadence is not tunable.
type DiscoveryConfig struct {
	IntervalMs int `json:"interval_ms"` // [ADDED] §6: default 10000
}

// KeepaliveConfig controls ping-based peer liveness (§4.4).
type KeepaliveConfig struct {
	IntervalMs     int `json:"interval_ms"`      // [ADDED] §6: default 15000
	FailuresToDrop int `json:"failures_to_drop"` // [ADDED] §6: default 3
}

// ActuationConfig controls remote actuation dispatch (§4.4).
type ActuationConfig struct {
	RequestTimeoutMs int `json:"request_timeout_ms"` // [ADDED] §6: default 10000
}

// SupervisorConfig controls the device supervisor (§4.3).
type SupervisorConfig struct {
	DefaultCadenceMs int `json:"default_cadence_ms"` // [ADDED] §6: default 1000
}

// StoreConfig is accepted for the local store (§4.5) but is not read by
// it: the store's pending-reading buffer is fixed at
// store.PendingBufferSize (64) entries per peer.
type StoreConfig struct {
	BufferCapacity int `json:"buffer_capacity"` // [ADDED] §6: default 64
}

// SecretsConfig carries the base64-encoded long-term keypair and
// pre-shared network key (§6). Absent on first run; generated and
// written back by the caller, then the process exits.
type SecretsConfig struct {
	Keypair string `json:"keypair"`
	PSK     string `json:"psk"`
}

// Empty reports whether neither secret is set, the first-run signal.
func (s SecretsConfig) Empty() bool {
	return s.Keypair == "" && s.PSK == ""
}

// ToIdentity converts the config's base64 fields to an identity.Secrets.
func (s SecretsConfig) ToIdentity() identity.Secrets {
	return identity.Secrets{KeypairB64: s.Keypair, PSKB64: s.PSK}
}

// RuleSensorRef names a sensor anywhere in the swarm, as decoded from
// a rule's "sensor" JSON object (§6). Node is empty for local.
type RuleSensorRef struct {
	Node       string `json:"node,omitempty"`
	Device     string `json:"device"`
	SensorName string `json:"sensor_name"`
}

// RuleActuatorRef names an actuator anywhere in the swarm, as decoded
// from a rule's "then" JSON object (§6).
type RuleActuatorRef struct {
	Node         string              `json:"node,omitempty"`
	Device       string              `json:"device"`
	ActuatorName string              `json:"actuator_name"`
	Data         model.ActuatorValue `json:"data"`
}

// RuleCondition decodes a rule's "on" object (§6).
type RuleCondition struct {
	Operation string               `json:"operation"`
	Value     *model.ActuatorValue `json:"value,omitempty"`
}

// RuleConfig is one entry of the top-level "rules" array (§6).
type RuleConfig struct {
	Sensor RuleSensorRef   `json:"sensor"`
	On     RuleCondition   `json:"on"`
	Then   RuleActuatorRef `json:"then"`
}

// Config holds all meshd configuration, decoded from config.json (§6).
type Config struct {
	Peer       PeerConfig       `json:"peer"`
	Web        WebConfig        `json:"web"`
	Rules      []RuleConfig     `json:"rules"`
	Secrets    SecretsConfig    `json:"secrets"`
	Discovery  DiscoveryConfig  `json:"discovery"`
	Keepalive  KeepaliveConfig  `json:"keepalive"`
	Actuation  ActuationConfig  `json:"actuation"`
	Supervisor SupervisorConfig `json:"supervisor"`
	Store      StoreConfig      `json:"store"`
	LogLevel   string           `json:"log_level"`
}

// Load reads configuration from a JSON file, applies defaults for any
// unset fields, and validates the result. After Load returns
// successfully, every field is usable without further nil/zero checks,
// except Secrets, which may be empty on first run (see SecretsConfig).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Save writes cfg back to path as JSON, used after first-run secrets
// generation (§6) so the next Load sees the persisted secrets.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for zero values (Secrets excepted).
func (c *Config) applyDefaults() {
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.SendBuffer == 0 {
		c.Web.SendBuffer = 256
	}
	if c.Discovery.IntervalMs == 0 {
		c.Discovery.IntervalMs = 10000
	}
	if c.Keepalive.IntervalMs == 0 {
		c.Keepalive.IntervalMs = 15000
	}
	if c.Keepalive.FailuresToDrop == 0 {
		c.Keepalive.FailuresToDrop = 3
	}
	if c.Actuation.RequestTimeoutMs == 0 {
		c.Actuation.RequestTimeoutMs = 10000
	}
	if c.Supervisor.DefaultCadenceMs == 0 {
		c.Supervisor.DefaultCadenceMs = 1000
	}
	if c.Store.BufferCapacity == 0 {
		c.Store.BufferCapacity = 64
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port %d out of range (1-65535)", c.Web.Port)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}

	// Duplicate device names are rejected earlier, by
	// PeerConfig.UnmarshalJSON (Open Question (a)); here only guard
	// against a blank name slipping through.
	for name := range c.Peer.Devices {
		if name == "" {
			return fmt.Errorf("peer.devices: device name must not be empty")
		}
	}

	for _, r := range c.Rules {
		if _, err := conditionOp(r.On.Operation); err != nil {
			return err
		}
	}

	return nil
}

// conditionOp maps a rule's "operation" string to a model.ConditionOp
// (§6: any, equal, greater_than, less_than, greater_or_equal_than,
// less_or_equal_than).
func conditionOp(s string) (model.ConditionOp, error) {
	switch s {
	case "any":
		return model.OpAny, nil
	case "equal":
		return model.OpEqual, nil
	case "greater_than":
		return model.OpGreaterThan, nil
	case "less_than":
		return model.OpLessThan, nil
	case "greater_or_equal_than":
		return model.OpGreaterOrEqual, nil
	case "less_or_equal_than":
		return model.OpLessOrEqual, nil
	default:
		return 0, fmt.Errorf("rules: unknown operation %q", s)
	}
}

// BuildRules converts the config's rule entries into model.Rule values,
// assigning each a stable ID derived from its position.
func (c *Config) BuildRules() ([]model.Rule, error) {
	rules := make([]model.Rule, 0, len(c.Rules))
	for i, r := range c.Rules {
		op, err := conditionOp(r.On.Operation)
		if err != nil {
			return nil, err
		}
		var condValue model.ActuatorValue
		if r.On.Value != nil {
			condValue = *r.On.Value
		}
		rules = append(rules, model.Rule{
			ID: fmt.Sprintf("rule-%d", i),
			Trigger: model.FullyQualifiedSensor{
				Local:      r.Sensor.Node == "",
				Peer:       model.PeerID(r.Sensor.Node),
				DeviceName: r.Sensor.Device,
				SensorName: r.Sensor.SensorName,
			},
			When: model.Condition{Op: op, Value: condValue},
			Action: model.FullyQualifiedActuator{
				Local:        r.Then.Node == "",
				Peer:         model.PeerID(r.Then.Node),
				DeviceName:   r.Then.Device,
				ActuatorName: r.Then.ActuatorName,
			},
			Value: r.Then.Data,
		})
	}
	return rules, nil
}
