// Package codestore implements §4.8's "interface only" server-side code
// management: loading the 128-bit shared secret from a fixed path, or
// generating and persisting one with owner-only permissions on first run.
// The core (package server) only ever consumes the resulting wire.Code; it
// never generates or persists one itself.
package codestore

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/localforwarder/local-forwarder/internal/wire"
)

// LoadOrGenerate reads a wire.Code from path (16 raw bytes). If path does
// not exist, a fresh 128-bit code is generated with crypto/rand and written
// to path with mode 0600, creating parent directories as needed.
func LoadOrGenerate(path string) (wire.Code, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(data) != wire.CodeSize {
			return wire.Code{}, fmt.Errorf("codestore: %s holds %d bytes, want %d", path, len(data), wire.CodeSize)
		}
		var code wire.Code
		copy(code[:], data)
		return code, nil
	case os.IsNotExist(err):
		return generate(path)
	default:
		return wire.Code{}, fmt.Errorf("codestore: reading %s: %w", path, err)
	}
}

func generate(path string) (wire.Code, error) {
	var code wire.Code
	if _, err := rand.Read(code[:]); err != nil {
		return wire.Code{}, fmt.Errorf("codestore: generating code: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return wire.Code{}, fmt.Errorf("codestore: creating %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, code[:], 0o600); err != nil {
		return wire.Code{}, fmt.Errorf("codestore: writing %s: %w", path, err)
	}
	return code, nil
}
