package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadServer_Defaults(t *testing.T) {
	cfg, err := LoadServer("")
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if cfg.ControlPort != DefaultControlPort {
		t.Errorf("ControlPort = %d, want %d", cfg.ControlPort, DefaultControlPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoadServer_FromJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"port": 2222, "log_level": "debug"}`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadServer(path)
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if cfg.ControlPort != 2222 {
		t.Errorf("ControlPort = %d, want 2222", cfg.ControlPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadServer_EnvOverride(t *testing.T) {
	t.Setenv("LF_PORT", "3333")
	cfg, err := LoadServer("")
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if cfg.ControlPort != 3333 {
		t.Errorf("ControlPort = %d, want 3333", cfg.ControlPort)
	}
}

func TestServerConfig_Code_UnsetReturnsNotOK(t *testing.T) {
	cfg := ServerConfig{}
	_, ok, err := cfg.Code()
	if err != nil {
		t.Fatalf("Code() error = %v", err)
	}
	if ok {
		t.Fatal("Code() ok = true, want false for an unset CodeHex")
	}
}

func TestServerConfig_Code_DecodesHex(t *testing.T) {
	cfg := ServerConfig{CodeHex: "00112233445566778899aabbccddeeff"}
	code, ok, err := cfg.Code()
	if err != nil {
		t.Fatalf("Code() error = %v", err)
	}
	if !ok {
		t.Fatal("Code() ok = false, want true for a set CodeHex")
	}
	if code.String() != cfg.CodeHex {
		t.Errorf("Code() = %s, want %s", code.String(), cfg.CodeHex)
	}
}

func TestServerConfig_Code_InvalidHexErrors(t *testing.T) {
	cfg := ServerConfig{CodeHex: "not-hex"}
	if _, _, err := cfg.Code(); err == nil {
		t.Fatal("Code() error = nil, want an error for invalid hex")
	}
}

func TestWriteSideConfig_Marshal(t *testing.T) {
	w := WriteSideConfig{Code: "deadbeef", Port: 1337}
	data, err := w.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Marshal() returned empty output")
	}
}
