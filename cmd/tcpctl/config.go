package main

import (
	"fmt"
	"net/netip"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is tcpctl's on-disk configuration: which interface address to
// bind the stack to, and whether to back it with a real Linux Tap device
// or the in-process loopback.
type Config struct {
	Interface struct {
		Name string `yaml:"name"`
		Addr string `yaml:"addr"` // e.g. "10.0.0.1"
		MTU  int    `yaml:"mtu"`
	} `yaml:"interface"`
	Tap struct {
		Enabled bool   `yaml:"enabled"`
		Prefix  string `yaml:"prefix"` // e.g. "10.0.0.1/24", assigned to the tap device
	} `yaml:"tap"`
	Metrics struct {
		Addr string `yaml:"addr"` // e.g. ":9273", empty disables the exporter
	} `yaml:"metrics"`
	RetransmitSweep struct {
		IntervalSeconds int `yaml:"interval_seconds"`
	} `yaml:"retransmit_sweep"`
}

func defaultConfig() Config {
	var c Config
	c.Interface.Name = "tcpctl0"
	c.Interface.Addr = "10.0.0.1"
	c.Interface.MTU = 1500
	c.RetransmitSweep.IntervalSeconds = 3
	return c
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("tcpctl: open config: %w", err)
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("tcpctl: parse config: %w", err)
	}
	return cfg, nil
}

func (c Config) addr() (netip.Addr, error) {
	return netip.ParseAddr(c.Interface.Addr)
}
