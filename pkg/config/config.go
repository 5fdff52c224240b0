package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/movinglive/autoagent/core/storage"
	"github.com/movinglive/autoagent/services/notify"
	"github.com/spf13/cast"
)

const envPrefix = "AUTOAGENT_"

// Config is the daemon's runtime configuration, read from the environment.
type Config struct {
	StateDir    string
	Storage     storage.Backend
	RedisAddr   string
	RedisPrefix string

	Site            string
	TabLoadAttempts int
	TabLoadBackoff  time.Duration
	TabOpenTimeout  time.Duration

	SweepInterval     time.Duration
	SweepWindow       time.Duration
	ExecuteAllSpacing time.Duration

	Listen       string
	APIKeys      []string
	SlackWebhook string

	SMTPServer   string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPTo       []string
	SMTPInsecure bool
}

func Default() Config {
	return Config{
		StateDir:          "state",
		Storage:           storage.BackendJSON,
		RedisAddr:         "localhost:6379",
		RedisPrefix:       "autoagent:",
		Site:              "www.perplexity.ai",
		TabLoadAttempts:   20,
		TabLoadBackoff:    500 * time.Millisecond,
		TabOpenTimeout:    10 * time.Second,
		SweepInterval:     5 * time.Minute,
		SweepWindow:       5 * time.Minute,
		ExecuteAllSpacing: time.Second,
		Listen:            ":3000",
	}
}

// Load reads an optional .env file and then the AUTOAGENT_* variables on
// top of the defaults.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv builds the configuration from lookup, which behaves like
// os.LookupEnv.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	p := parser{lookup: lookup}

	p.str("STATE_DIR", &cfg.StateDir)
	var backend string
	if p.str("STORAGE", &backend) {
		cfg.Storage = storage.Backend(strings.ToLower(backend))
	}
	p.str("REDIS_ADDR", &cfg.RedisAddr)
	p.str("REDIS_PREFIX", &cfg.RedisPrefix)
	p.str("SITE", &cfg.Site)
	p.integer("TAB_LOAD_ATTEMPTS", &cfg.TabLoadAttempts)
	p.duration("TAB_LOAD_BACKOFF", &cfg.TabLoadBackoff)
	p.duration("TAB_OPEN_TIMEOUT", &cfg.TabOpenTimeout)
	p.duration("SWEEP_INTERVAL", &cfg.SweepInterval)
	p.duration("SWEEP_WINDOW", &cfg.SweepWindow)
	p.duration("EXECUTE_ALL_SPACING", &cfg.ExecuteAllSpacing)
	p.str("LISTEN", &cfg.Listen)
	p.list("API_KEYS", &cfg.APIKeys)
	p.str("SLACK_WEBHOOK", &cfg.SlackWebhook)
	p.str("SMTP_SERVER", &cfg.SMTPServer)
	p.str("SMTP_USERNAME", &cfg.SMTPUsername)
	p.str("SMTP_PASSWORD", &cfg.SMTPPassword)
	p.str("SMTP_FROM", &cfg.SMTPFrom)
	p.list("SMTP_TO", &cfg.SMTPTo)
	p.boolean("SMTP_INSECURE", &cfg.SMTPInsecure)

	if p.err != nil {
		return Config{}, p.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if !filepath.IsAbs(cfg.StateDir) {
		abs, err := filepath.Abs(cfg.StateDir)
		if err != nil {
			return Config{}, fmt.Errorf("state dir: %w", err)
		}
		cfg.StateDir = abs
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Storage {
	case storage.BackendJSON, storage.BackendSQLite, storage.BackendRedis, storage.BackendMemory:
	default:
		return fmt.Errorf("%sSTORAGE: unknown backend %q", envPrefix, c.Storage)
	}
	if c.TabLoadAttempts < 1 {
		return fmt.Errorf("%sTAB_LOAD_ATTEMPTS must be at least 1", envPrefix)
	}
	if c.SweepInterval < time.Second {
		return fmt.Errorf("%sSWEEP_INTERVAL must be at least 1s", envPrefix)
	}
	if c.SweepWindow <= 0 {
		return fmt.Errorf("%sSWEEP_WINDOW must be positive", envPrefix)
	}
	if c.Site == "" {
		return fmt.Errorf("%sSITE must not be empty", envPrefix)
	}
	if c.SMTPServer != "" && (c.SMTPFrom == "" || len(c.SMTPTo) == 0) {
		return fmt.Errorf("%sSMTP_SERVER needs %sSMTP_FROM and %sSMTP_TO", envPrefix, envPrefix, envPrefix)
	}
	return nil
}

// EmailConfig maps the SMTP settings onto the email notifier. It is only
// meaningful when SMTPServer is set.
func (c Config) EmailConfig() notify.EmailConfig {
	return notify.EmailConfig{
		Server:   c.SMTPServer,
		Username: c.SMTPUsername,
		Password: c.SMTPPassword,
		From:     c.SMTPFrom,
		To:       c.SMTPTo,
		Insecure: c.SMTPInsecure,
	}
}

// StorageOptions maps the configuration onto the storage factory.
func (c Config) StorageOptions() storage.Options {
	return storage.Options{
		Backend:     c.Storage,
		StateDir:    c.StateDir,
		RedisAddr:   c.RedisAddr,
		RedisPrefix: c.RedisPrefix,
	}
}

// parser keeps the first error so every field can be read unconditionally.
type parser struct {
	lookup func(string) (string, bool)
	err    error
}

func (p *parser) get(name string) (string, bool) {
	v, ok := p.lookup(envPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (p *parser) str(name string, dst *string) bool {
	v, ok := p.get(name)
	if ok {
		*dst = v
	}
	return ok
}

func (p *parser) integer(name string, dst *int) {
	v, ok := p.get(name)
	if !ok || p.err != nil {
		return
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		p.err = fmt.Errorf("%s%s: %w", envPrefix, name, err)
		return
	}
	*dst = n
}

func (p *parser) duration(name string, dst *time.Duration) {
	v, ok := p.get(name)
	if !ok || p.err != nil {
		return
	}
	// a bare number would be read as nanoseconds
	if f, err := cast.ToFloat64E(v); err == nil && f != 0 {
		p.err = fmt.Errorf("%s%s: duration %q has no unit", envPrefix, name, v)
		return
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		p.err = fmt.Errorf("%s%s: %w", envPrefix, name, err)
		return
	}
	*dst = d
}

func (p *parser) boolean(name string, dst *bool) {
	v, ok := p.get(name)
	if !ok || p.err != nil {
		return
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		p.err = fmt.Errorf("%s%s: %w", envPrefix, name, err)
		return
	}
	*dst = b
}

func (p *parser) list(name string, dst *[]string) {
	v, ok := p.get(name)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}
