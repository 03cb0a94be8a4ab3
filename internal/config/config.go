package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"fxstream/internal/security"
)

type Server struct {
	Port         int      `yaml:"port"`
	Env          string   `yaml:"env"`
	RequireHTTPS bool     `yaml:"require_https"`
	Origin       string   `yaml:"origin"`
	EmbedOrigins []string `yaml:"embed_origins"`
	// TrustProxy is "true", "false" or a comma-separated list of proxy IPs/CIDRs.
	TrustProxy string `yaml:"trust_proxy"`
	PublicDir  string `yaml:"public_dir"`
}

type Stream struct {
	FetchEveryMs     int    `yaml:"fetch_every_ms"`
	BroadcastEveryMs int    `yaml:"broadcast_every_ms"`
	HeartbeatMs      int    `yaml:"heartbeat_ms"`
	MaxGlobal        int    `yaml:"max_global"`
	MaxPerIP         int    `yaml:"max_per_ip"`
	DefaultBase      string `yaml:"default_base"`
	DefaultSymbols   string `yaml:"default_symbols"`
	MaxSymbols       int    `yaml:"max_symbols"`
}

type Frankfurter struct {
	URL                  string `yaml:"url"`
	TimeoutMs            int    `yaml:"timeout_ms"`
	MaxRequestsPerMinute int    `yaml:"max_requests_per_minute"`
	Burst                int    `yaml:"burst"`
	MinRequestIntervalMs int    `yaml:"min_request_interval_ms"`
}

type Redis struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTLSec   int    `yaml:"ttl_sec"`
}

type Config struct {
	Server      Server      `yaml:"server"`
	Stream      Stream      `yaml:"stream"`
	Frankfurter Frankfurter `yaml:"frankfurter"`
	Redis       Redis       `yaml:"redis"`
	LogLevel    string      `yaml:"log_level"`

	// Derived by Validate.
	StrictHTTPS    bool     `yaml:"-"`
	TrustedProxies []string `yaml:"-"`
}

// privateProxies is the production default for TRUST_PROXY: loopback and
// private ranges, where a reverse proxy normally sits.
var privateProxies = []string{
	"127.0.0.0/8", "::1/128",
	"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "fc00::/7",
}

func Default() Config {
	return Config{
		Server: Server{Port: 3000, Env: "development", PublicDir: "public"},
		Stream: Stream{
			FetchEveryMs:     60_000,
			BroadcastEveryMs: 2_000,
			HeartbeatMs:      15_000,
			MaxGlobal:        50,
			MaxPerIP:         3,
			DefaultBase:      "PLN",
			DefaultSymbols:   "EUR,USD,CHF,GBP,DKK",
			MaxSymbols:       10,
		},
		Frankfurter: Frankfurter{
			URL:       "https://api.frankfurter.dev",
			TimeoutMs: 10_000,
		},
		Redis:    Redis{Addr: "localhost:6379", TTLSec: 900},
		LogLevel: "info",
	}
}

// Production reports whether APP_ENV is production.
func (c Config) Production() bool {
	return strings.EqualFold(strings.TrimSpace(c.Server.Env), "production")
}

// Load reads YAML config from path. If path is empty, config.yaml in the
// working directory is used when present. Variables from .env and the
// environment override the file, then the result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// env holds the environment overrides; nil means unset.
type env struct {
	Port         *int    `envconfig:"PORT"`
	AppEnv       *string `envconfig:"APP_ENV"`
	RequireHTTPS *string `envconfig:"REQUIRE_HTTPS"`
	ServerOrigin *string `envconfig:"SERVER_ORIGIN"`
	EmbedOrigins *string `envconfig:"EMBED_ORIGINS"`
	TrustProxy   *string `envconfig:"TRUST_PROXY"`
	PublicDir    *string `envconfig:"PUBLIC_DIR"`

	FetchEveryMs     *int    `envconfig:"FETCH_EVERY_MS"`
	BroadcastEveryMs *int    `envconfig:"BROADCAST_EVERY_MS"`
	HeartbeatMs      *int    `envconfig:"HEARTBEAT_MS"`
	MaxSSEGlobal     *int    `envconfig:"MAX_SSE_GLOBAL"`
	MaxSSEPerIP      *int    `envconfig:"MAX_SSE_PER_IP"`
	DefaultBase      *string `envconfig:"DEFAULT_BASE"`
	DefaultSymbols   *string `envconfig:"DEFAULT_SYMBOLS"`
	MaxSymbols       *int    `envconfig:"MAX_SYMBOLS"`

	FrankfurterURL        *string `envconfig:"FRANKFURTER_URL"`
	UpstreamTimeoutMs     *int    `envconfig:"UPSTREAM_TIMEOUT_MS"`
	UpstreamMaxRPM        *int    `envconfig:"UPSTREAM_MAX_RPM"`
	UpstreamBurst         *int    `envconfig:"UPSTREAM_BURST"`
	UpstreamMinIntervalMs *int    `envconfig:"UPSTREAM_MIN_INTERVAL_MS"`

	RedisEnabled  *string `envconfig:"REDIS_ENABLED"`
	RedisAddr     *string `envconfig:"REDIS_ADDR"`
	RedisPassword *string `envconfig:"REDIS_PASSWORD"`
	RedisDB       *int    `envconfig:"REDIS_DB"`
	RedisTTLSec   *int    `envconfig:"REDIS_TTL_SEC"`

	LogLevel *string `envconfig:"LOG_LEVEL"`
}

func applyEnv(cfg *Config) error {
	var e env
	if err := envconfig.Process("", &e); err != nil {
		return fmt.Errorf("env config: %w", err)
	}

	setPositive(&cfg.Server.Port, e.Port)
	setString(&cfg.Server.Env, e.AppEnv)
	if e.RequireHTTPS != nil {
		cfg.Server.RequireHTTPS = isTrue(*e.RequireHTTPS)
	}
	setString(&cfg.Server.Origin, e.ServerOrigin)
	if e.EmbedOrigins != nil && strings.TrimSpace(*e.EmbedOrigins) != "" {
		cfg.Server.EmbedOrigins = splitCSV(*e.EmbedOrigins)
	}
	if e.TrustProxy != nil {
		cfg.Server.TrustProxy = strings.TrimSpace(*e.TrustProxy)
	}
	setString(&cfg.Server.PublicDir, e.PublicDir)

	setPositive(&cfg.Stream.FetchEveryMs, e.FetchEveryMs)
	setPositive(&cfg.Stream.BroadcastEveryMs, e.BroadcastEveryMs)
	setPositive(&cfg.Stream.HeartbeatMs, e.HeartbeatMs)
	setPositive(&cfg.Stream.MaxGlobal, e.MaxSSEGlobal)
	setPositive(&cfg.Stream.MaxPerIP, e.MaxSSEPerIP)
	setString(&cfg.Stream.DefaultBase, e.DefaultBase)
	setString(&cfg.Stream.DefaultSymbols, e.DefaultSymbols)
	setPositive(&cfg.Stream.MaxSymbols, e.MaxSymbols)

	setString(&cfg.Frankfurter.URL, e.FrankfurterURL)
	setPositive(&cfg.Frankfurter.TimeoutMs, e.UpstreamTimeoutMs)
	setNonNegative(&cfg.Frankfurter.MaxRequestsPerMinute, e.UpstreamMaxRPM)
	setPositive(&cfg.Frankfurter.Burst, e.UpstreamBurst)
	setNonNegative(&cfg.Frankfurter.MinRequestIntervalMs, e.UpstreamMinIntervalMs)

	if e.RedisEnabled != nil {
		cfg.Redis.Enabled = isTrue(*e.RedisEnabled)
	}
	setString(&cfg.Redis.Addr, e.RedisAddr)
	if e.RedisPassword != nil {
		cfg.Redis.Password = *e.RedisPassword
	}
	setNonNegative(&cfg.Redis.DB, e.RedisDB)
	setPositive(&cfg.Redis.TTLSec, e.RedisTTLSec)

	setString(&cfg.LogLevel, e.LogLevel)
	return nil
}

// Validate fills derived values and defaults for non-positive numbers, then
// checks the origins. Every configured origin must be exact; strict HTTPS
// (REQUIRE_HTTPS or production) requires https everywhere.
func (c *Config) Validate() error {
	d := Default()
	fallback(&c.Server.Port, d.Server.Port)
	fallback(&c.Stream.FetchEveryMs, d.Stream.FetchEveryMs)
	fallback(&c.Stream.BroadcastEveryMs, d.Stream.BroadcastEveryMs)
	fallback(&c.Stream.HeartbeatMs, d.Stream.HeartbeatMs)
	fallback(&c.Stream.MaxGlobal, d.Stream.MaxGlobal)
	fallback(&c.Stream.MaxPerIP, d.Stream.MaxPerIP)
	fallback(&c.Stream.MaxSymbols, d.Stream.MaxSymbols)
	fallback(&c.Frankfurter.TimeoutMs, d.Frankfurter.TimeoutMs)
	fallback(&c.Redis.TTLSec, d.Redis.TTLSec)

	c.Stream.DefaultBase = strings.ToUpper(strings.TrimSpace(c.Stream.DefaultBase))
	if c.Stream.DefaultBase == "" {
		c.Stream.DefaultBase = d.Stream.DefaultBase
	}
	if strings.TrimSpace(c.Stream.DefaultSymbols) == "" {
		c.Stream.DefaultSymbols = d.Stream.DefaultSymbols
	}

	if strings.TrimSpace(c.Server.Origin) == "" {
		c.Server.Origin = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	origin, err := security.ParseExactOrigin(c.Server.Origin, "SERVER_ORIGIN")
	if err != nil {
		return err
	}
	c.Server.Origin = origin

	embeds := c.Server.EmbedOrigins
	if len(embeds) == 0 {
		embeds = []string{origin}
	}
	c.Server.EmbedOrigins = make([]string, 0, len(embeds))
	for i, raw := range embeds {
		o, err := security.ParseExactOrigin(raw, fmt.Sprintf("EMBED_ORIGINS[%d]", i))
		if err != nil {
			return err
		}
		c.Server.EmbedOrigins = append(c.Server.EmbedOrigins, o)
	}

	c.StrictHTTPS = c.Server.RequireHTTPS || c.Production()
	if c.StrictHTTPS {
		for _, o := range append([]string{c.Server.Origin}, c.Server.EmbedOrigins...) {
			if !strings.HasPrefix(o, "https://") {
				return fmt.Errorf("HTTPS required, got non-https origin: %s", o)
			}
		}
	}

	c.TrustedProxies = parseTrustProxy(c.Server.TrustProxy, c.Production())
	return nil
}

// parseTrustProxy returns the proxies gin should trust. nil trusts none.
func parseTrustProxy(raw string, production bool) []string {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		if production {
			return append([]string(nil), privateProxies...)
		}
		return nil
	case isTrue(raw):
		return []string{"0.0.0.0/0", "::/0"}
	case isFalse(raw):
		return nil
	}
	return splitCSV(raw)
}

func isTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func isFalse(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "no":
		return true
	}
	return false
}

func setString(dst *string, v *string) {
	if v != nil && strings.TrimSpace(*v) != "" {
		*dst = strings.TrimSpace(*v)
	}
}

func setPositive(dst *int, v *int) {
	if v != nil && *v > 0 {
		*dst = *v
	}
}

func setNonNegative(dst *int, v *int) {
	if v != nil && *v >= 0 {
		*dst = *v
	}
}

func fallback(dst *int, def int) {
	if *dst <= 0 {
		*dst = def
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}
