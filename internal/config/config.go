// Package config loads the server and client configuration from the
// environment with an optional YAML file filling what the environment
// leaves unset.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	"phenix-chat/go-backend/internal/anyone"
	"phenix-chat/go-backend/internal/privacy"
)

type Config struct {
	Environment     string        `yaml:"environment" env:"ENVIRONMENT"`
	LogLevel        string        `yaml:"logLevel" env:"LOG_LEVEL"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`

	Server  Server  `yaml:"server"`
	Anyone  Anyone  `yaml:"anyone"`
	Privacy Privacy `yaml:"privacy"`
	Client  Client  `yaml:"client"`
}

type Server struct {
	Addr             string  `yaml:"addr" env:"PHENIX_HTTP_ADDR"`
	DatabasePath     string  `yaml:"databasePath" env:"PHENIX_DATABASE_PATH"`
	BlobDir          string  `yaml:"blobDir" env:"PHENIX_BLOB_DIR"`
	BlobPassphrase   string  `yaml:"blobPassphrase" env:"PHENIX_BLOB_PASSPHRASE"`
	URLSigningSecret string  `yaml:"urlSigningSecret" env:"PHENIX_URL_SIGNING_SECRET"`
	PublicBaseURL    string  `yaml:"publicBaseUrl" env:"PHENIX_PUBLIC_BASE_URL"`
	RateLimitRPS     float64 `yaml:"rateLimitRps" env:"PHENIX_RATE_LIMIT_RPS"`
	RateLimitBurst   int     `yaml:"rateLimitBurst" env:"PHENIX_RATE_LIMIT_BURST"`
	MaxUploadBytes   int     `yaml:"maxUploadBytes" env:"PHENIX_MAX_UPLOAD_BYTES"`
}

type Anyone struct {
	ControlHost     string `yaml:"controlHost" env:"ANYONE_CONTROL_HOST"`
	ControlPort     int    `yaml:"controlPort" env:"ANYONE_CONTROL_PORT"`
	ControlPassword string `yaml:"controlPassword" env:"ANYONE_CONTROL_PASSWORD"`
	SOCKSPort       int    `yaml:"socksPort" env:"ANYONE_SOCKS_PORT"`
	SkipSpawn       bool   `yaml:"skipSpawn" env:"ANYONE_SKIP_SPAWN"`
	BinaryPath      string `yaml:"binaryPath" env:"ANYONE_BINARY_PATH"`

	// ControlMultiaddr such as /ip4/127.0.0.1/tcp/9051 overrides host and port.
	ControlMultiaddr string        `yaml:"controlMultiaddr" env:"ANYONE_CONTROL_MULTIADDR"`
	WorkDir          string        `yaml:"workDir" env:"ANYONE_WORK_DIR"`
	StartTimeout     time.Duration `yaml:"startTimeout" env:"ANYONE_START_TIMEOUT"`
	CircuitTimeout   time.Duration `yaml:"circuitTimeout" env:"ANYONE_CIRCUIT_TIMEOUT"`
}

type Privacy struct {
	Weights    privacy.Weights    `yaml:"weights"`
	Thresholds privacy.Thresholds `yaml:"thresholds"`

	StaleAfter            time.Duration `yaml:"staleAfter" env:"PRIVACY_STALE_AFTER"`
	PurgeAfter            time.Duration `yaml:"purgeAfter" env:"PRIVACY_PURGE_AFTER"`
	TickInterval          time.Duration `yaml:"tickInterval" env:"PRIVACY_TICK_INTERVAL"`
	MessagingHealthyBelow time.Duration `yaml:"messagingHealthyBelow"`
	AnyoneHealthyBelow    time.Duration `yaml:"anyoneHealthyBelow"`
}

type Client struct {
	ServerURL    string        `yaml:"serverUrl" env:"PHENIX_SERVER_URL"`
	MessagingEnv string        `yaml:"messagingEnv" env:"PHENIX_MESSAGING_ENV"`
	StatePath    string        `yaml:"statePath" env:"PHENIX_CLIENT_STATE_PATH"`
	StatePass    string        `yaml:"statePassphrase" env:"PHENIX_CLIENT_STATE_PASSPHRASE"`
	PollInterval time.Duration `yaml:"pollInterval" env:"PHENIX_ANYONE_POLL_INTERVAL"`
}

func Default() Config {
	p := privacy.DefaultConfig()
	return Config{
		Environment:     "production",
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
		Server: Server{
			Addr:           "127.0.0.1:8787",
			DatabasePath:   "phenix.db",
			PublicBaseURL:  "http://127.0.0.1:8787",
			RateLimitRPS:   5,
			RateLimitBurst: 20,
			MaxUploadBytes: 5 << 20,
		},
		Anyone: Anyone{
			ControlHost:     "127.0.0.1",
			ControlPort:     9051,
			ControlPassword: "password",
			SOCKSPort:       9050,
			SkipSpawn:       true,
			StartTimeout:    30 * time.Second,
			CircuitTimeout:  2 * time.Minute,
		},
		Privacy: Privacy{
			Weights:               p.Weights,
			Thresholds:            p.Thresholds,
			StaleAfter:            p.StaleAfter,
			PurgeAfter:            p.PurgeAfter,
			TickInterval:          p.TickInterval,
			MessagingHealthyBelow: p.MessagingHealthyBelow,
			AnyoneHealthyBelow:    p.AnyoneHealthyBelow,
		},
		Client: Client{
			ServerURL:    "http://127.0.0.1:8787",
			MessagingEnv: "production",
			PollInterval: 30 * time.Second,
		},
	}
}

// Load applies, in order, defaults, the first readable YAML file
// (configPath, else configs/config.yaml) and the environment.
func Load(configPath string) (Config, error) {
	cfg := Default()

	candidates := []string{configPath}
	if configPath == "" {
		candidates = []string{"go-backend/configs/config.yaml", "configs/config.yaml"}
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if configPath != "" {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
			continue
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		break
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	c.Server.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Server.PublicBaseURL), "/")
	c.Client.ServerURL = strings.TrimRight(strings.TrimSpace(c.Client.ServerURL), "/")
	c.Anyone.ControlMultiaddr = strings.TrimSpace(c.Anyone.ControlMultiaddr)
	if c.Anyone.ControlPort <= 0 || c.Anyone.ControlPort > 65535 {
		return fmt.Errorf("ANYONE_CONTROL_PORT out of range: %d", c.Anyone.ControlPort)
	}
	if c.Anyone.SOCKSPort <= 0 || c.Anyone.SOCKSPort > 65535 {
		return fmt.Errorf("ANYONE_SOCKS_PORT out of range: %d", c.Anyone.SOCKSPort)
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		return errors.New("rate limit values must not be negative")
	}
	if c.Anyone.ControlMultiaddr != "" {
		if _, err := anyone.ControlAddrFromMultiaddr(c.Anyone.ControlMultiaddr); err != nil {
			return err
		}
	}
	return nil
}

// AnyoneConfig maps the loaded values onto the session manager's config.
func (c Config) AnyoneConfig() anyone.Config {
	a := c.Anyone
	out := anyone.Config{
		ControlHost:     a.ControlHost,
		ControlPort:     a.ControlPort,
		ControlPassword: a.ControlPassword,
		SOCKSPort:       a.SOCKSPort,
		SkipSpawn:       a.SkipSpawn,
		BinaryPath:      a.BinaryPath,
		WorkDir:         a.WorkDir,
		StartTimeout:    a.StartTimeout,
		CircuitTimeout:  a.CircuitTimeout,
	}
	if a.ControlMultiaddr != "" {
		// validated in normalize
		out.ControlAddr, _ = anyone.ControlAddrFromMultiaddr(a.ControlMultiaddr)
	}
	return out
}

func (c Config) PrivacyConfig() privacy.Config {
	p := c.Privacy
	return privacy.Config{
		Weights:               p.Weights,
		Thresholds:            p.Thresholds,
		StaleAfter:            p.StaleAfter,
		PurgeAfter:            p.PurgeAfter,
		TickInterval:          p.TickInterval,
		MessagingHealthyBelow: p.MessagingHealthyBelow,
		AnyoneHealthyBelow:    p.AnyoneHealthyBelow,
	}
}

func (c Config) IsDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}
