// Package config loads the external, out-of-core configuration the spec
// treats as an outside collaborator: the server's control port / code path,
// and the client's connector address, shared code, and published PortMap.
// Both load a JSON file (if present) layered under LF_* environment
// variable overrides, using github.com/spf13/viper for the structured
// fields and a direct environment scan for the client's dynamically-named
// LF_PORT_* entries, which Viper has no way to discover on its own.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/localforwarder/local-forwarder/internal/wire"
)

// DefaultControlPort is the fixed control/tunnel port (§6): 1337/tcp and
// 1337/udp.
const DefaultControlPort = 1337

// DefaultCodePath is where the server persists its generated shared code.
const DefaultCodePath = "/etc/local-forwarder/code"

// DefaultServerConfigPath is the optional JSON config the server reads.
const DefaultServerConfigPath = "/etc/local-forwarder/config.json"

// ServerConfig is the server process's startup configuration.
type ServerConfig struct {
	// ControlPort is the fixed TCP+UDP port for control and dial-back
	// connections.
	ControlPort int `json:"port"`
	// CodePath is where the 128-bit shared code is persisted (16 raw
	// bytes, mode 0600).
	CodePath string `json:"-"`
	// CodeHex optionally embeds the code directly in the JSON config
	// instead of (or in addition to) the CodePath file.
	CodeHex string `json:"code,omitempty"`
	// LogLevel is a logrus level name.
	LogLevel string `json:"log_level,omitempty"`
}

// LoadServer reads configPath (if it exists) as JSON, then applies LF_*
// environment overrides, then fills in defaults for anything still unset.
func LoadServer(configPath string) (ServerConfig, error) {
	v := viper.New()
	v.SetDefault("port", DefaultControlPort)
	v.SetDefault("log_level", "info")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("json")
			if err := v.ReadInConfig(); err != nil {
				return ServerConfig{}, fmt.Errorf("config: reading %s: %w", configPath, err)
			}
		} else if !os.IsNotExist(err) {
			return ServerConfig{}, fmt.Errorf("config: stat %s: %w", configPath, err)
		}
	}

	_ = v.BindEnv("port", "LF_PORT")
	_ = v.BindEnv("code", "LF_CODE")
	_ = v.BindEnv("log_level", "LF_LOG_LEVEL")

	cfg := ServerConfig{
		ControlPort: v.GetInt("port"),
		CodePath:    DefaultCodePath,
		CodeHex:     v.GetString("code"),
		LogLevel:    v.GetString("log_level"),
	}
	return cfg, nil
}

// Code decodes CodeHex (from config.json's "code" field or LF_CODE) when it
// is set. It does not read the persisted code file at CodePath itself: ok
// reports whether CodeHex was used, and when it is false the caller falls
// back to codestore.LoadOrGenerate(CodePath).
func (c ServerConfig) Code() (code wire.Code, ok bool, err error) {
	if c.CodeHex == "" {
		return wire.Code{}, false, nil
	}
	code, err = wire.ParseCode(c.CodeHex)
	return code, err == nil, err
}

// WriteSideConfig is the {code, port} shape of the optional JSON config
// file, letting an operator see the active port and code together without
// decoding the raw code file at CodePath. The server itself never writes
// this file; it only reads it through LoadServer.
type WriteSideConfig struct {
	Code string `json:"code"`
	Port int    `json:"port"`
}

// Marshal renders w as indented JSON for writing to DefaultServerConfigPath.
func (w WriteSideConfig) Marshal() ([]byte, error) {
	return json.MarshalIndent(w, "", "  ")
}
