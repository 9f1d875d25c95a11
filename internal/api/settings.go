package api

import (
	"net"
	"strings"
	"time"

	"github.com/kingrea/taskgate/internal/config"
)

const (
	// DefaultAddr is the loopback address used when no override is provided.
	DefaultAddr = "127.0.0.1:7420"
	// DefaultMaxBodyBytes limits request payloads to 1 MB.
	DefaultMaxBodyBytes int64 = 1 << 20
	// DefaultReadTimeout guards hung clients.
	DefaultReadTimeout = 15 * time.Second
	// DefaultWriteTimeout bounds handler writes.
	DefaultWriteTimeout = 30 * time.Second
	// DefaultIdleTimeout bounds keep-alive connections.
	DefaultIdleTimeout = 60 * time.Second
)

// Settings captures runtime configuration for the HTTP API.
type Settings struct {
	Addr         string
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// SettingsFromConfig builds Settings from the project's .taskgate config.
// An explicit addr (for example from a flag) wins over the config file.
func SettingsFromConfig(cfg *config.Config, addr string) Settings {
	settings := Settings{}
	if cfg != nil {
		settings.Addr = cfg.ServerAddr()
	}
	if addr = strings.TrimSpace(addr); addr != "" {
		settings.Addr = addr
	}
	settings.normalize()
	return settings
}

func (s *Settings) normalize() {
	s.Addr = strings.TrimSpace(s.Addr)
	if _, _, err := net.SplitHostPort(s.Addr); err != nil {
		s.Addr = DefaultAddr
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
}

// URL returns the HTTP base URL for the configured address.
func (s Settings) URL() string {
	return "http://" + s.Addr
}
