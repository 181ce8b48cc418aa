// Package config holds the proxy's hot-reloadable configuration: the YAML
// shape, the lock-free store that publishes it, and the file watcher that
// feeds reloads into the store.
package config

import "fmt"

// Config is an immutable snapshot of the proxy's listen and target
// addresses. Two Configs are equal if all four fields match; any
// difference triggers a reload of the bound listener.
type Config struct {
	ListenHost string `yaml:"listen_host"`
	ListenPort uint16 `yaml:"listen_port"`
	TargetHost string `yaml:"target_host"`
	TargetPort uint16 `yaml:"target_port"`
}

// DefaultConfig returns the configuration used when a field is absent from
// the YAML file.
func DefaultConfig() Config {
	return Config{
		ListenHost: "127.0.0.1",
		ListenPort: 8080,
		TargetHost: "127.0.0.1",
		TargetPort: 3000,
	}
}

// ListenAddress returns the host:port this config should bind.
func (c Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.ListenPort)
}

// TargetAuthority returns the host:port of the upstream this config forwards to.
func (c Config) TargetAuthority() string {
	return fmt.Sprintf("%s:%d", c.TargetHost, c.TargetPort)
}
