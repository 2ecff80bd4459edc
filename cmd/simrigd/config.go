package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/simrig/simrig/internal/stream"
)

var errConfig = errors.New("simrigd: invalid config")

const defaultCycle = 100 * time.Millisecond

// simrigd config.toml key mapping.
type fileConfig struct {
	Cycle      string               `toml:"cycle"`
	StatusAddr string               `toml:"status_addr"`
	Endpoints  []fileEndpointConfig `toml:"endpoint"`
}

type fileEndpointConfig struct {
	Protocol         string `toml:"protocol"`
	BindAddress      string `toml:"bind_address"`
	Port             int    `toml:"port"`
	InTerminator     string `toml:"in_terminator"`
	OutTerminator    string `toml:"out_terminator"`
	AllowPrefixMatch bool   `toml:"allow_prefix_match"`
}

type endpointConfig struct {
	Protocol string
	Stream   stream.Config
}

type daemonConfig struct {
	Cycle      time.Duration
	StatusAddr string
	Endpoints  []endpointConfig
}

// loadConfig reads a TOML config, overlays it on defaults and rejects
// unknown keys.
func loadConfig(path string) (daemonConfig, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return daemonConfig{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return daemonConfig{}, fmt.Errorf("%w: unknown key(s): %s", errConfig, strings.Join(keys, ", "))
	}

	cfg := daemonConfig{
		Cycle:      defaultCycle,
		StatusAddr: strings.TrimSpace(raw.StatusAddr),
	}
	if strings.TrimSpace(raw.Cycle) != "" {
		cycle, err := time.ParseDuration(raw.Cycle)
		if err != nil {
			return daemonConfig{}, fmt.Errorf("%w: cycle %q: %v", errConfig, raw.Cycle, err)
		}
		if cycle <= 0 {
			return daemonConfig{}, fmt.Errorf("%w: cycle must be positive", errConfig)
		}
		cfg.Cycle = cycle
	}

	if len(raw.Endpoints) == 0 {
		return daemonConfig{}, fmt.Errorf("%w: at least one [[endpoint]] is required", errConfig)
	}

	seen := make(map[string]struct{})
	for _, ep := range raw.Endpoints {
		protocol := strings.TrimSpace(ep.Protocol)
		if protocol == "" {
			return daemonConfig{}, fmt.Errorf("%w: endpoint without a protocol name", errConfig)
		}
		if _, dup := seen[protocol]; dup {
			return daemonConfig{}, fmt.Errorf("%w: duplicate endpoint protocol %q", errConfig, protocol)
		}
		seen[protocol] = struct{}{}

		sc := stream.DefaultConfig()
		if ep.BindAddress != "" {
			sc.BindAddress = ep.BindAddress
		}
		if ep.Port != 0 {
			sc.Port = ep.Port
		}
		if ep.InTerminator != "" {
			sc.InTerminator = ep.InTerminator
		}
		if ep.OutTerminator != "" {
			sc.OutTerminator = ep.OutTerminator
		}
		sc.AllowPrefixMatch = ep.AllowPrefixMatch

		cfg.Endpoints = append(cfg.Endpoints, endpointConfig{
			Protocol: protocol,
			Stream:   sc,
		})
	}

	return cfg, nil
}
