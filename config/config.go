package config

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
	"gvisor.dev/gvisor/pkg/tcpip"
)

var (
	ConfigFile    string
	Verbose       bool
	DefaultConfig = &Config{
		Budget:   64,
		Interval: 10 * time.Millisecond,
		Devices: []Device{{
			Name:   "lo",
			Driver: "loop",
		}},
	}
)

type Config struct {
	// Whether to enable verbose logging.
	Verbose bool `yaml:"verbose,omitempty"`
	// Whether to log in JSON.
	JSONLogs bool `yaml:"json_logs,omitempty"`
	// Transaction budget per direction per tick.
	Budget int `yaml:"budget"`
	// Overrides the budget threshold below which a tick stops visiting devices.
	LoopMin *int `yaml:"loop_min,omitempty"`
	// Time between ticks.
	Interval time.Duration `yaml:"interval,omitempty"`
	// Number of ticks to run, zero runs until interrupted.
	Ticks int `yaml:"ticks,omitempty"`
	// Maximum frames per device queue, zero is unbounded.
	QueueLen int `yaml:"queue_len,omitempty"`
	// Addresses owned by this stack.
	LocalAddresses []string `yaml:"local_addresses,omitempty"`
	// Static neighbor entries for Ethernet devices.
	Neighbors []Neighbor `yaml:"neighbors,omitempty"`
	// Devices to register at startup.
	Devices []Device `yaml:"devices"`
}

type Neighbor struct {
	Addr string `yaml:"addr"`
	MAC  string `yaml:"mac"`
}

type Device struct {
	// Interface name.
	Name string `yaml:"name"`
	// MAC address, makes the device an Ethernet device when set.
	MAC string `yaml:"mac,omitempty"`
	// Driver kind: loop, null or tun.
	Driver string `yaml:"driver"`
	// Kernel interface name for tun drivers, defaults to Name.
	Tun string `yaml:"tun,omitempty"`
	// MTU for tun drivers.
	MTU int `yaml:"mtu,omitempty"`
	// Optional packet capture path.
	Pcap string `yaml:"pcap,omitempty"`
}

// LinkAddress parses the device MAC, returning "" for raw devices.
func (d Device) LinkAddress() (tcpip.LinkAddress, error) {
	if d.MAC == "" {
		return "", nil
	}
	mac, err := tcpip.ParseMACAddress(d.MAC)
	if err != nil {
		return "", fmt.Errorf("device %q: invalid MAC %q: %w", d.Name, d.MAC, err)
	}
	return mac, nil
}

// Addresses parses the local addresses.
func (c *Config) Addresses() ([]tcpip.Address, error) {
	addrs := make([]tcpip.Address, 0, len(c.LocalAddresses))
	for _, s := range c.LocalAddresses {
		addr, err := parseAddr(s)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// Address parses the neighbor's network and link addresses.
func (n Neighbor) Address() (tcpip.Address, tcpip.LinkAddress, error) {
	addr, err := parseAddr(n.Addr)
	if err != nil {
		return tcpip.Address{}, "", err
	}
	mac, err := tcpip.ParseMACAddress(n.MAC)
	if err != nil {
		return tcpip.Address{}, "", fmt.Errorf("neighbor %s: invalid MAC %q: %w", n.Addr, n.MAC, err)
	}
	return addr, mac, nil
}

func parseAddr(s string) (tcpip.Address, error) {
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return tcpip.Address{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return tcpip.AddrFromSlice(ip.AsSlice()), nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Budget <= 0 {
		return fmt.Errorf("budget must be positive, got %d", c.Budget)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if c.Ticks < 0 {
		return fmt.Errorf("ticks must not be negative, got %d", c.Ticks)
	}
	seen := make(map[string]bool, len(c.Devices))
	for _, d := range c.Devices {
		if d.Name == "" {
			return fmt.Errorf("device name must not be empty")
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate device %q", d.Name)
		}
		seen[d.Name] = true
		if _, err := d.LinkAddress(); err != nil {
			return err
		}
	}
	if _, err := c.Addresses(); err != nil {
		return err
	}
	for _, n := range c.Neighbors {
		if _, _, err := n.Address(); err != nil {
			return err
		}
	}
	return nil
}

// NetdevDir returns the path to the netdev configuration directory.
func NetdevDir() string {
	return filepath.Join(os.Getenv("HOME"), ".netdev")
}

func getDefaultConfigPath() string {
	return filepath.Join(NetdevDir(), "config.yaml")
}

func Load() (*Config, error) {
	if ConfigFile == "" {
		ConfigFile = getDefaultConfigPath()
	}
	if _, err := os.Stat(ConfigFile); os.IsNotExist(err) {
		cfg := *DefaultConfig
		return &cfg, nil
	}
	yamlFile, err := os.ReadFile(ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %v", err)
	}
	cfg := new(Config)
	if err := yaml.Unmarshal(yamlFile, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %v", err)
	}
	if cfg.Budget == 0 {
		cfg.Budget = DefaultConfig.Budget
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultConfig.Interval
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", ConfigFile, err)
	}

	return cfg, nil
}

func ensureDirExists(filePath string) error {
	dir := filepath.Dir(filePath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		// Create the directory if it doesn't exist
		err := os.MkdirAll(dir, 0755)
		if err != nil {
			return fmt.Errorf("failed to create directory: %v", err)
		}
	}
	return nil
}

func Store(cfg *Config) error {
	yamlFile, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %v", err)
	}
	if ConfigFile == "" {
		ConfigFile = getDefaultConfigPath()
	}
	if err := ensureDirExists(ConfigFile); err != nil {
		return fmt.Errorf("failed to ensure directory exists: %v", err)
	}
	if err := os.WriteFile(ConfigFile, yamlFile, 0644); err != nil {
		return fmt.Errorf("failed to write YAML file: %v", err)
	}
	return nil
}
