package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration of the sink tool. Every field can be
// overridden from the command line.
type Config struct {
	// Bus is the I2C bus name or number as understood by periph (e.g. "1"
	// or "/dev/i2c-1").
	Bus string `yaml:"bus"`

	// IntPin is the GPIO connected to the FUSB302B INT_N line.
	IntPin string `yaml:"int_pin"`

	// Store is the path of the file backing the persistent settings.
	Store string `yaml:"store"`

	// Mode selects the voltage to negotiate: 0 requests the first
	// advertised capability, 9/12/15/20 the given voltage in volts, and 100
	// the source's maximum up to 20V.
	Mode int `yaml:"mode"`
}

func defaultConfig() Config {
	return Config{
		Bus:    "1",
		IntPin: "GPIO4",
		Store:  "pdsink.nvs",
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return normalize(cfg), nil
}

func normalize(cfg Config) Config {
	def := defaultConfig()
	if cfg.Bus == "" {
		cfg.Bus = def.Bus
	}
	if cfg.IntPin == "" {
		cfg.IntPin = def.IntPin
	}
	if cfg.Store == "" {
		cfg.Store = def.Store
	}
	return cfg
}

func validateMode(mode int) error {
	switch mode {
	case 0, 9, 12, 15, 20, 100:
		return nil
	}
	return fmt.Errorf("invalid mode %d (want 0, 9, 12, 15, 20 or 100)", mode)
}
