package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/localforwarder/local-forwarder/internal/wire"
)

// ClientConfig is the client process's startup configuration: where to
// connect, the shared code, and the PortMap to publish.
type ClientConfig struct {
	// Connector is "host:port" for the server's control port.
	Connector string `json:"connector"`
	// Code is the shared authentication secret, hex-encoded in JSON.
	CodeHex string `json:"code"`
	// Ports is the set of mappings to publish.
	Ports []jsonPortMapping `json:"ports"`
	// LogLevel is a logrus level name.
	LogLevel string `json:"log_level,omitempty"`
}

type jsonPortMapping struct {
	PortRemote int    `json:"port_remote"`
	PortLocal  int    `json:"port_local"`
	LocalIP    string `json:"local_ip,omitempty"`
	PortType   string `json:"port_type"`
	TunnelType string `json:"tunnel_type"`
}

// Code decodes CodeHex into a wire.Code.
func (c ClientConfig) Code() (wire.Code, error) {
	return wire.ParseCode(c.CodeHex)
}

// PortMap converts the JSON-friendly Ports into a wire.PortMap.
func (c ClientConfig) PortMap() (wire.PortMap, error) {
	pm := make(wire.PortMap, 0, len(c.Ports))
	for _, p := range c.Ports {
		portType, err := parsePortType(p.PortType)
		if err != nil {
			return nil, fmt.Errorf("config: port_remote %d: %w", p.PortRemote, err)
		}
		tunnelType, err := parsePortType(p.TunnelType)
		if err != nil {
			return nil, fmt.Errorf("config: port_remote %d: %w", p.PortRemote, err)
		}
		pm = append(pm, wire.PortMapping{
			PortRemote: uint16(p.PortRemote),
			PortLocal:  uint16(p.PortLocal),
			LocalIP:    p.LocalIP,
			PortType:   portType,
			TunnelType: tunnelType,
		})
	}
	if err := pm.Validate(); err != nil {
		return nil, err
	}
	return pm, nil
}

func parsePortType(s string) (wire.PortType, error) {
	switch strings.ToLower(s) {
	case "tcp", "":
		return wire.TCP, nil
	case "udp":
		return wire.UDP, nil
	default:
		return 0, fmt.Errorf("unknown transport %q (want tcp or udp)", s)
	}
}

// LoadClient reads configPath (if non-empty and present) as JSON, then
// applies LF_CONNECTOR/LF_CODE overrides and LF_PORT_* additions. Each
// LF_PORT_<NAME> entry has the form
// "port_remote:port_local:local_ip:port_type:tunnel_type" (local_ip may be
// empty, e.g. "80:9000::tcp:tcp").
func LoadClient(configPath string) (ClientConfig, error) {
	var cfg ClientConfig

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, &cfg); err != nil {
				return ClientConfig{}, fmt.Errorf("config: parsing %s: %w", configPath, err)
			}
		} else if !os.IsNotExist(err) {
			return ClientConfig{}, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	v := viper.New()
	v.SetDefault("connector", cfg.Connector)
	v.SetDefault("code", cfg.CodeHex)
	v.SetDefault("log_level", cfg.LogLevel)
	_ = v.BindEnv("connector", "LF_CONNECTOR")
	_ = v.BindEnv("code", "LF_CODE")
	_ = v.BindEnv("log_level", "LF_LOG_LEVEL")

	if s := v.GetString("connector"); s != "" {
		cfg.Connector = s
	}
	if s := v.GetString("code"); s != "" {
		cfg.CodeHex = s
	}
	if s := v.GetString("log_level"); s != "" {
		cfg.LogLevel = s
	}

	envPorts, err := parsePortEnv(os.Environ())
	if err != nil {
		return ClientConfig{}, err
	}
	cfg.Ports = append(cfg.Ports, envPorts...)

	return cfg, nil
}

const portEnvPrefix = "LF_PORT_"

// parsePortEnv scans env for LF_PORT_* entries and decodes each into a
// jsonPortMapping. Viper has no mechanism to discover arbitrarily-named
// environment keys it wasn't told about in advance, so this part of client
// config loading works directly against os.Environ() rather than through
// Viper, same as the rest of the load goes through it.
func parsePortEnv(env []string) ([]jsonPortMapping, error) {
	var out []jsonPortMapping
	for _, kv := range env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, portEnvPrefix) {
			continue
		}
		m, err := parsePortEnvValue(value)
		if err != nil {
			return nil, fmt.Errorf("config: %s=%q: %w", key, value, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func parsePortEnvValue(value string) (jsonPortMapping, error) {
	fields := strings.Split(value, ":")
	if len(fields) != 5 {
		return jsonPortMapping{}, fmt.Errorf("want 5 colon-separated fields (port_remote:port_local:local_ip:port_type:tunnel_type), got %d", len(fields))
	}
	portRemote, err := strconv.Atoi(fields[0])
	if err != nil {
		return jsonPortMapping{}, fmt.Errorf("port_remote: %w", err)
	}
	portLocal, err := strconv.Atoi(fields[1])
	if err != nil {
		return jsonPortMapping{}, fmt.Errorf("port_local: %w", err)
	}
	return jsonPortMapping{
		PortRemote: portRemote,
		PortLocal:  portLocal,
		LocalIP:    fields[2],
		PortType:   fields[3],
		TunnelType: fields[4],
	}, nil
}
