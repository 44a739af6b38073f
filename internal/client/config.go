package client

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/qnetctl/qnetctl/internal/command"
)

var ErrInvalidConfig = errors.New("client: invalid config")

// BackoffConfig defines the reconnect delay curve. The delay doubles per
// failed attempt up to MaxDelay and resets to InitialDelay on a
// successful login.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// Config carries connection identity and the session timing tunables.
// The zero value plus Host/Username/Password is usable via WithDefaults.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	ConnectTimeout time.Duration
	// ReadTimeout bounds each read while the session is running.
	ReadTimeout time.Duration
	// LoginReadTimeout bounds each read during the login exchange, where
	// prompts arrive quickly or not at all.
	LoginReadTimeout time.Duration
	// LoginTimeout bounds the whole login exchange.
	LoginTimeout   time.Duration
	WriteTimeout   time.Duration
	CommandTimeout time.Duration
	// KeepaliveInterval paces the idle heartbeat, an empty command line.
	KeepaliveInterval time.Duration
	// TeardownJoin bounds how long a disconnect waits for the session
	// loops to exit before abandoning them.
	TeardownJoin time.Duration

	Backoff BackoffConfig
	Exec    command.ExecConfig
}

func (c Config) WithDefaults() Config {
	if c.Port == 0 {
		c.Port = 23
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 2 * time.Second
	}
	if c.LoginReadTimeout <= 0 {
		c.LoginReadTimeout = 500 * time.Millisecond
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 2 * time.Second
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 5 * time.Second
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 60 * time.Second
	}
	if c.TeardownJoin <= 0 {
		c.TeardownJoin = 250 * time.Millisecond
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff.InitialDelay = 250 * time.Millisecond
	}
	if c.Backoff.Multiplier < 1.0 {
		c.Backoff.Multiplier = 2.0
	}
	if c.Backoff.MaxDelay <= 0 {
		c.Backoff.MaxDelay = 60 * time.Second
	}
	c.Exec = c.Exec.WithDefaults()
	return c
}

func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidConfig)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.Username == "" {
		return fmt.Errorf("%w: missing username", ErrInvalidConfig)
	}
	return nil
}

// Addr is the dial target in host:port form.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
