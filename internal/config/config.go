package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rohanbalixz/clad-pv/internal/auth"
	"github.com/rohanbalixz/clad-pv/internal/logging"
	"github.com/rohanbalixz/clad-pv/internal/monitor"
)

// Environment overrides for the two secrets.
const (
	EnvControlSecret = "CLADPV_CONTROL_SECRET"
	EnvAuditSecret   = "CLADPV_AUDIT_SECRET"
)

// Config is the on-disk configuration shape (YAML).
type Config struct {
	API       APIConfig       `yaml:"api"`
	Modbus    ModbusConfig    `yaml:"modbus"`
	Publisher PublisherConfig `yaml:"publisher"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Control   ControlConfig   `yaml:"control"`
	Audit     AuditConfig     `yaml:"audit"`
	Influx    InfluxConfig    `yaml:"influx"`
	Log       logging.Config  `yaml:"log"`
}

type APIConfig struct {
	Addr         string        `yaml:"addr" validate:"required,hostname_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gt=0"`
	// CORSOrigins lists browser origins allowed to call the API. Empty
	// means no cross-origin access.
	CORSOrigins []string `yaml:"cors_origins"`
	// RateLimit is sustained control requests per second per client;
	// zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	RateBurst int     `yaml:"rate_burst" validate:"gte=0"`
}

type ModbusConfig struct {
	Addr       string        `yaml:"addr" validate:"required,hostname_port"`
	Timeout    time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxClients uint          `yaml:"max_clients" validate:"gt=0"`
	// Writable is lab mode: protocol writes land in the image until the
	// next publish. Never enable on a real deployment.
	Writable bool `yaml:"writable"`
}

type PublisherConfig struct {
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
	LogEvery int           `yaml:"log_every" validate:"gte=0"`
	// TelemetryCSV is the feature file to replay. Empty uses the
	// synthetic baseline day.
	TelemetryCSV string `yaml:"telemetry_csv"`
}

type MonitorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
	// Target is the Modbus endpoint to poll. Defaults to the local server.
	Target  string         `yaml:"target" validate:"required,hostname_port"`
	Timeout time.Duration  `yaml:"timeout" validate:"gt=0"`
	TapFile string         `yaml:"tap_file"`
	Limits  monitor.Limits `yaml:"limits"`
}

type ControlConfig struct {
	StateFile  string        `yaml:"state_file" validate:"required"`
	SecretFile string        `yaml:"secret_file"`
	Freshness  time.Duration `yaml:"freshness" validate:"gt=0"`
	// WatchSecret reloads secret_file on change, keeping the previous
	// secret valid until the next change.
	WatchSecret bool `yaml:"watch_secret"`

	Secret []byte `yaml:"-"`
}

type AuditConfig struct {
	File       string `yaml:"file" validate:"required"`
	SecretFile string `yaml:"secret_file"`

	Secret []byte `yaml:"-"`
}

type InfluxConfig struct {
	URL     string        `yaml:"url" validate:"omitempty,url"`
	Token   string        `yaml:"token"`
	Org     string        `yaml:"org" validate:"required_with=URL"`
	Bucket  string        `yaml:"bucket" validate:"required_with=URL"`
	Timeout time.Duration `yaml:"timeout"`
	// Readings also writes every monitor reading, not just alerts.
	Readings bool `yaml:"readings"`
}

func (i InfluxConfig) Enabled() bool { return i.URL != "" }

var validate = validator.New()

// Load reads, defaults, resolves secrets and validates.
func Load(path string) (*Config, error) {
	c, err := LoadUnchecked(path)
	if err != nil {
		return nil, err
	}
	if err := c.ResolveSecrets(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadUnchecked loads the file and applies defaults, but does not resolve
// secrets or validate. Useful for printing partial configs.
func LoadUnchecked(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	c.ApplyDefaults()
	c.resolvePaths(filepath.Dir(path))
	return &c, nil
}

// Default is the configuration used when no file is given.
func Default() *Config {
	var c Config
	c.ApplyDefaults()
	return &c
}

func (c *Config) ApplyDefaults() {
	if c.API.Addr == "" {
		c.API.Addr = "127.0.0.1:8000"
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 5 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 10 * time.Second
	}
	if c.API.RateLimit > 0 && c.API.RateBurst == 0 {
		c.API.RateBurst = 5
	}
	if c.Modbus.Addr == "" {
		c.Modbus.Addr = "0.0.0.0:5020"
	}
	if c.Modbus.Timeout == 0 {
		c.Modbus.Timeout = 30 * time.Second
	}
	if c.Modbus.MaxClients == 0 {
		c.Modbus.MaxClients = 8
	}
	if c.Publisher.Interval == 0 {
		c.Publisher.Interval = time.Second
	}
	if c.Publisher.LogEvery == 0 {
		c.Publisher.LogEvery = 10
	}
	if c.Monitor.Interval == 0 {
		c.Monitor.Interval = time.Second
	}
	if c.Monitor.Target == "" {
		_, port, err := net.SplitHostPort(c.Modbus.Addr)
		if err != nil {
			port = "5020"
		}
		c.Monitor.Target = "127.0.0.1:" + port
	}
	if c.Monitor.Timeout == 0 {
		c.Monitor.Timeout = 2 * time.Second
	}
	c.Monitor.Limits = c.Monitor.Limits.WithDefaults()
	if c.Control.StateFile == "" {
		c.Control.StateFile = "data/control.json"
	}
	if c.Control.Freshness == 0 {
		c.Control.Freshness = auth.DefaultFreshness
	}
	if c.Audit.File == "" {
		c.Audit.File = "logs/audit.log"
	}
	if c.Influx.Timeout == 0 {
		c.Influx.Timeout = 5 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// resolvePaths interprets relative file paths against the config file's
// directory when the file exists there, falling back to the path as given
// (relative to the working directory).
func (c *Config) resolvePaths(dir string) {
	for _, p := range []*string{&c.Control.SecretFile, &c.Audit.SecretFile, &c.Publisher.TelemetryCSV} {
		if *p == "" || filepath.IsAbs(*p) {
			continue
		}
		cand := filepath.Join(dir, *p)
		if _, err := os.Stat(cand); err == nil {
			*p = cand
		}
	}
}

// ResolveSecrets fills Control.Secret and Audit.Secret from the
// environment, falling back to the configured files.
func (c *Config) ResolveSecrets() error {
	var err error
	if c.Control.Secret, err = resolveSecret(EnvControlSecret, c.Control.SecretFile); err != nil {
		return fmt.Errorf("control secret: %w", err)
	}
	if c.Audit.Secret, err = resolveSecret(EnvAuditSecret, c.Audit.SecretFile); err != nil {
		return fmt.Errorf("audit secret: %w", err)
	}
	return nil
}

func resolveSecret(env, file string) ([]byte, error) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		return []byte(v), nil
	}
	if file == "" {
		return nil, nil
	}
	return auth.ReadSecretFile(file)
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	if len(c.Control.Secret) == 0 {
		return fmt.Errorf("control secret is required (set %s or control.secret_file)", EnvControlSecret)
	}
	if len(c.Audit.Secret) == 0 {
		return fmt.Errorf("audit secret is required (set %s or audit.secret_file)", EnvAuditSecret)
	}
	if c.Control.WatchSecret && c.Control.SecretFile == "" {
		return errors.New("control.watch_secret needs control.secret_file")
	}
	l := c.Monitor.Limits
	if l.VpuMin >= l.VpuMax || l.FMin >= l.FMax {
		return errors.New("monitor.limits: min must be below max")
	}
	if l.PVRampKW <= 0 || l.SourceRampKW <= 0 {
		return errors.New("monitor.limits: ramp limits must be positive")
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	out := *c
	out.Control.Secret = nil
	out.Audit.Secret = nil
	if out.Influx.Token != "" {
		out.Influx.Token = "REDACTED"
	}
	return out
}
