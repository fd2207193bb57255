// Package config loads and validates the process-wide dbgpd configuration.
// All state is supplied at process start; nothing is persisted across runs.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dbgp-dev/dbgpd/pkg/wire"
)

// Default listen endpoints, matching the conventional DBGP port assignment:
// engines connect on 9000, IDEs register on 9001.
const (
	DefaultEngineAddress = "127.0.0.1:9000"
	DefaultIDEAddress    = "127.0.0.1:9001"
)

// Config is the full dbgpd configuration.
type Config struct {
	// Debug enables debug-level logging.
	Debug bool `mapstructure:"debug"`

	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Server   ServerConfig   `mapstructure:"server"`
	Wire     WireConfig     `mapstructure:"wire"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts"`
	Status   StatusConfig   `mapstructure:"status"`
}

// ProxyConfig configures the multi-session proxy.
type ProxyConfig struct {
	// EngineAddress is where debuggee engines connect.
	EngineAddress string `mapstructure:"engine_address"`
	// IDEAddress is where IDEs register (the administrative channel).
	IDEAddress string `mapstructure:"ide_address"`
	// AllowReplace lets a proxyinit for a taken IDE key atomically replace
	// the prior registration instead of failing with AlreadyRegistered.
	AllowReplace bool `mapstructure:"allow_replace"`
	// SessionLimit caps concurrent sessions; 0 means unlimited.
	SessionLimit int `mapstructure:"session_limit"`
}

// ServerConfig configures the embedded direct server.
type ServerConfig struct {
	// ListenAddress is where the single engine connects.
	ListenAddress string `mapstructure:"listen_address"`
	// IDEAddress is the static IDE endpoint the server relays to.
	IDEAddress string `mapstructure:"ide_address"`
	// ListenAgain re-arms the acceptor after a session ends instead of
	// terminating the run.
	ListenAgain bool `mapstructure:"listen_again"`
}

// WireConfig configures framing.
type WireConfig struct {
	// MaxFrameSize caps a single frame payload in bytes.
	MaxFrameSize int `mapstructure:"max_frame_size"`
}

// TimeoutsConfig bounds the proxy's blocking operations.
type TimeoutsConfig struct {
	// Handshake is how long an engine may take to send its init frame.
	Handshake time.Duration `mapstructure:"handshake"`
	// Dial bounds the outbound connection to a registered IDE.
	Dial time.Duration `mapstructure:"dial"`
	// Shutdown bounds graceful teardown.
	Shutdown time.Duration `mapstructure:"shutdown"`
}

// StatusConfig configures the optional HTTP status API.
type StatusConfig struct {
	// Address enables the status/metrics listener when non-empty.
	Address string `mapstructure:"address"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("proxy.engine_address", DefaultEngineAddress)
	v.SetDefault("proxy.ide_address", DefaultIDEAddress)
	v.SetDefault("proxy.allow_replace", true)
	v.SetDefault("proxy.session_limit", 0)
	v.SetDefault("server.listen_address", DefaultEngineAddress)
	v.SetDefault("server.ide_address", "")
	v.SetDefault("server.listen_again", false)
	v.SetDefault("wire.max_frame_size", wire.DefaultMaxFrameSize)
	v.SetDefault("timeouts.handshake", 30*time.Second)
	v.SetDefault("timeouts.dial", 10*time.Second)
	v.SetDefault("timeouts.shutdown", 10*time.Second)
	v.SetDefault("status.address", "")
}

// Load reads configuration from defaults, an optional YAML file, and
// DBGPD_-prefixed environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DBGPD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Defaults cannot fail to unmarshal.
		panic(err)
	}
	return cfg
}

// Validate checks the configuration and reports every invalid field.
func (c *Config) Validate() error {
	var errs []error

	if err := validateHostPort("proxy.engine_address", c.Proxy.EngineAddress); err != nil {
		errs = append(errs, err)
	}
	if err := validateHostPort("proxy.ide_address", c.Proxy.IDEAddress); err != nil {
		errs = append(errs, err)
	}
	if c.Proxy.SessionLimit < 0 {
		errs = append(errs, fmt.Errorf("proxy.session_limit must not be negative"))
	}
	if c.Wire.MaxFrameSize <= 0 {
		errs = append(errs, fmt.Errorf("wire.max_frame_size must be positive"))
	}
	if c.Timeouts.Handshake <= 0 {
		errs = append(errs, fmt.Errorf("timeouts.handshake must be positive"))
	}
	if c.Timeouts.Dial <= 0 {
		errs = append(errs, fmt.Errorf("timeouts.dial must be positive"))
	}
	if c.Status.Address != "" {
		if err := validateHostPort("status.address", c.Status.Address); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ValidateServer additionally checks the fields the direct server requires.
func (c *Config) ValidateServer() error {
	var errs []error

	if err := validateHostPort("server.listen_address", c.Server.ListenAddress); err != nil {
		errs = append(errs, err)
	}
	if c.Server.IDEAddress == "" {
		errs = append(errs, fmt.Errorf("server.ide_address is required"))
	} else if err := validateHostPort("server.ide_address", c.Server.IDEAddress); err != nil {
		errs = append(errs, err)
	}
	if c.Wire.MaxFrameSize <= 0 {
		errs = append(errs, fmt.Errorf("wire.max_frame_size must be positive"))
	}
	return errors.Join(errs...)
}

func validateHostPort(field, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s is required", field)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s: invalid host:port %q", field, addr)
	}
	return nil
}
