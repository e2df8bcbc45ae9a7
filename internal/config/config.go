package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fxnlabs/compute-node/internal/gpu"
)

type Config struct {
	Logger struct {
		Verbosity string `yaml:"verbosity"`
	} `yaml:"logger"`
	Compute ComputeConfig `yaml:"compute"`
	Metrics struct {
		// ListenAddress serves /metrics when non-empty.
		ListenAddress string `yaml:"listenAddress"`
	} `yaml:"metrics"`
}

type ComputeConfig struct {
	Backend          string `yaml:"backend"`
	DeviceType       string `yaml:"deviceType"`
	DefaultDevice    int    `yaml:"defaultDevice"`
	KernelDir        string `yaml:"kernelDir"`
	MinVersion       string `yaml:"minVersion"`
	EssentialOptions string `yaml:"essentialOptions"`
	OtherOptions     string `yaml:"otherOptions"`
}

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	var c Config
	c.Logger.Verbosity = "info"
	c.Compute = ComputeConfig{
		Backend:          gpu.KindAuto,
		DeviceType:       string(gpu.DeviceTypeAll),
		KernelDir:        ".",
		MinVersion:       "2.0",
		EssentialOptions: "-cl-fast-relaxed-math",
		OtherOptions:     "-cl-std=CL2.0",
	}
	return &c
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := Default()
	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return config, nil
}

// Validate checks the compute section.
func (c *Config) Validate() error {
	switch c.Compute.Backend {
	case gpu.KindHost, gpu.KindOpenCL, gpu.KindAuto:
	default:
		return fmt.Errorf("compute.backend: unknown backend %q", c.Compute.Backend)
	}
	if _, err := gpu.ParseDeviceType(c.Compute.DeviceType); err != nil {
		return fmt.Errorf("compute.deviceType: %w", err)
	}
	if _, _, err := gpu.ParseVersion(c.Compute.MinVersion); err != nil {
		return fmt.Errorf("compute.minVersion: %w", err)
	}
	if c.Compute.DefaultDevice < 0 {
		return fmt.Errorf("compute.defaultDevice: must not be negative")
	}
	return nil
}
