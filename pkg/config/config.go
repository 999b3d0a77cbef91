package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults mirror spec §6 exactly.
const (
	DefaultHeartbeatInterval = 2 * time.Second
	DefaultExpiryThreshold   = 20 * time.Second
	DefaultSweepInterval     = 10 * time.Second
	DefaultParallelismCap    = 2
	DefaultPlacementRetries  = 3
	DefaultArchivalRetries   = 3

	DefaultAgentPort      = 5002
	DefaultDispatchPort   = 5005
	DefaultGatewayPort    = 5007
	DefaultPlacementPort  = 5008
	DefaultArchivalPort   = 5009

	DefaultGroupCount      = 10
	DefaultSubTaskCount    = 10
	DefaultEdgeProbability = 0.3
)

// Config is the closed key set from spec §6. applyDefaults fills the
// ports, timing, retry, cpu_memory, containerd and host-range fields
// when they are left unset, before Validate runs; machine_ip has no
// default and is required.
type Config struct {
	MachineIP string `yaml:"machine_ip"`
	UIIP      string `yaml:"ui_ip"`
	AlgIP     string `yaml:"alg_ip"`
	UIPort    int    `yaml:"ui_port"`
	SinkIP    string `yaml:"sink_ip"`
	SinkPort  int    `yaml:"sink_port"`

	CPUMemory int64 `yaml:"cpu_memory"`
	Bandwidth int64 `yaml:"bandwidth"`
	Memory    int64 `yaml:"memory"`
	Port      int   `yaml:"port"`

	HeartbeatIntervalSeconds int `yaml:"heartbeat_interval_seconds"`
	ExpiryThresholdSeconds   int `yaml:"expiry_threshold_seconds"`
	AdmissionParallelism     int `yaml:"admission_parallelism"`
	PlacementRetries         int `yaml:"placement_retries"`
	ArchivalRetries          int `yaml:"archival_retries"`

	ContainerdSocket string `yaml:"containerd_socket"`
	InferenceImage   string `yaml:"inference_image"`

	SubnetBase     string `yaml:"subnet_base"`
	HostRangeStart int    `yaml:"host_range_start"`
	HostRangeEnd   int    `yaml:"host_range_end"`
}

// document is the top-level YAML shape: everything lives under "fabric:".
type document struct {
	Fabric Config `yaml:"fabric"`
}

// Load reads and strictly decodes path, rejecting unknown keys, then
// applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg := doc.Fabric
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultAgentPort
	}
	if c.UIPort == 0 {
		c.UIPort = DefaultGatewayPort
	}
	if c.SinkPort == 0 {
		c.SinkPort = DefaultArchivalPort
	}
	if c.HeartbeatIntervalSeconds == 0 {
		c.HeartbeatIntervalSeconds = int(DefaultHeartbeatInterval.Seconds())
	}
	if c.ExpiryThresholdSeconds == 0 {
		c.ExpiryThresholdSeconds = int(DefaultExpiryThreshold.Seconds())
	}
	if c.AdmissionParallelism == 0 {
		c.AdmissionParallelism = DefaultParallelismCap
	}
	if c.PlacementRetries == 0 {
		c.PlacementRetries = DefaultPlacementRetries
	}
	if c.ArchivalRetries == 0 {
		c.ArchivalRetries = DefaultArchivalRetries
	}
	if c.CPUMemory == 0 {
		c.CPUMemory = 1 << 30 // 1 GiB
	}
	if c.ContainerdSocket == "" {
		c.ContainerdSocket = "/run/containerd/containerd.sock"
	}
	if c.InferenceImage == "" {
		c.InferenceImage = "docker.io/cuemby/fabric-inference:latest"
	}
	if c.HostRangeStart == 0 && c.HostRangeEnd == 0 {
		c.HostRangeStart, c.HostRangeEnd = 1, 254
	}
}

// Validate rejects configurations that would violate a spec invariant.
func (c *Config) Validate() error {
	if c.MachineIP == "" {
		return fmt.Errorf("machine_ip is required")
	}
	if c.Port <= 0 {
		return fmt.Errorf("port must be positive, got %d", c.Port)
	}
	if c.CPUMemory <= 0 {
		return fmt.Errorf("cpu_memory must be positive, got %d", c.CPUMemory)
	}
	if c.AdmissionParallelism <= 0 {
		return fmt.Errorf("admission_parallelism must be positive, got %d", c.AdmissionParallelism)
	}
	return nil
}

// HeartbeatInterval returns the configured heartbeat interval as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// ExpiryThreshold returns the configured expiry threshold as a duration.
func (c *Config) ExpiryThreshold() time.Duration {
	return time.Duration(c.ExpiryThresholdSeconds) * time.Second
}
