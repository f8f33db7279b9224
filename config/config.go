// Package config loads ClusterControllerSettings with the same three-layer
// precedence the teacher framework uses for its own Config: struct-tag
// defaults, then environment variables, then functional options (highest
// priority, applied last).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ClusterControllerSettings carries every configuration key named in the
// capabilities directory's external-interfaces table, plus the ambient
// fields every cluster controller process needs (id, namespace, logging).
type ClusterControllerSettings struct {
	ClusterControllerID string `yaml:"cluster_controller_id" env:"JOYNR_CC_ID"`

	// KnownGbids is the ordered list of backend identifiers; the first
	// element is the default GBID substituted when a caller passes none.
	KnownGbids []string `yaml:"known_gbids" env:"JOYNR_KNOWN_GBIDS"`

	// RedisURLs maps each known gbid to the Redis instance that backs the
	// GCD for that backend. A gbid absent from this map falls back to
	// DefaultRedisURL.
	RedisURLs      map[string]string `yaml:"redis_urls"`
	DefaultRedisURL string           `yaml:"redis_url" env:"JOYNR_REDIS_URL,REDIS_URL"`
	Namespace      string            `yaml:"namespace" env:"JOYNR_NAMESPACE" default:"joynr"`

	TouchTTL                 time.Duration `yaml:"touch_ttl_ms" env:"JOYNR_TOUCH_TTL_MS" default:"60s"`
	RemoveStaleTTL           time.Duration `yaml:"remove_stale_ttl_ms" env:"JOYNR_REMOVE_STALE_TTL_MS" default:"60s"`
	DiscoveryRegistrationTTL time.Duration `yaml:"discovery_registration_ttl_ms" env:"JOYNR_DISCOVERY_REGISTRATION_TTL_MS" default:"40s"`
	ReAddInterval            time.Duration `yaml:"re_add_interval_ms" env:"JOYNR_READD_INTERVAL_MS" default:"168h"`
	FreshnessUpdateInterval  time.Duration `yaml:"freshness_update_interval_ms" env:"JOYNR_FRESHNESS_INTERVAL_MS" default:"1h"`
	CleanupIntervalMs        time.Duration `yaml:"cleanup_interval_ms" env:"JOYNR_CLEANUP_INTERVAL_MS" default:"1m"`

	Logging LoggingSettings `yaml:"logging"`
}

// LoggingSettings mirrors the teacher's LoggingConfig shape.
type LoggingSettings struct {
	Level  string `yaml:"level" env:"JOYNR_LOG_LEVEL" default:"info"`
	Format string `yaml:"format" env:"JOYNR_LOG_FORMAT" default:"text"`
}

// Option is a functional option applied after defaults and environment
// variables, so it always wins.
type Option func(*ClusterControllerSettings) error

// DefaultSettings returns the struct-tag defaults for every field, the
// lowest-priority layer of the configuration stack.
func DefaultSettings() *ClusterControllerSettings {
	return &ClusterControllerSettings{
		ClusterControllerID:     "cc-" + randomSuffix(),
		KnownGbids:               []string{"joynrdefaultgbid"},
		RedisURLs:                map[string]string{},
		DefaultRedisURL:          "redis://localhost:6379/0",
		Namespace:                "joynr",
		TouchTTL:                 60 * time.Second,
		RemoveStaleTTL:           60 * time.Second,
		DiscoveryRegistrationTTL: 40 * time.Second,
		ReAddInterval:            7 * 24 * time.Hour,
		FreshnessUpdateInterval:  1 * time.Hour,
		CleanupIntervalMs:        1 * time.Minute,
		Logging: LoggingSettings{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromEnv overlays environment variables onto the receiver, following
// the env tag convention (comma-separated alternate names, first match
// wins) used by core.Config.LoadFromEnv.
func (c *ClusterControllerSettings) LoadFromEnv() error {
	if v := firstEnv("JOYNR_CC_ID"); v != "" {
		c.ClusterControllerID = v
	}
	if v := firstEnv("JOYNR_KNOWN_GBIDS"); v != "" {
		c.KnownGbids = splitCSV(v)
	}
	if v := firstEnv("JOYNR_REDIS_URL", "REDIS_URL"); v != "" {
		c.DefaultRedisURL = v
	}
	if v := firstEnv("JOYNR_NAMESPACE"); v != "" {
		c.Namespace = v
	}
	if v := firstEnv("JOYNR_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := firstEnv("JOYNR_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"JOYNR_TOUCH_TTL_MS", &c.TouchTTL},
		{"JOYNR_REMOVE_STALE_TTL_MS", &c.RemoveStaleTTL},
		{"JOYNR_DISCOVERY_REGISTRATION_TTL_MS", &c.DiscoveryRegistrationTTL},
		{"JOYNR_READD_INTERVAL_MS", &c.ReAddInterval},
		{"JOYNR_FRESHNESS_INTERVAL_MS", &c.FreshnessUpdateInterval},
		{"JOYNR_CLEANUP_INTERVAL_MS", &c.CleanupIntervalMs},
	}
	for _, d := range durations {
		if v := firstEnv(d.env); v != "" {
			parsed, err := parseMillisOrDuration(v)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", d.env, err)
			}
			*d.dst = parsed
		}
	}

	return nil
}

// LoadFile reads a ClusterControllerSettings YAML document and overlays it
// onto the receiver; unset fields in the file keep the receiver's value.
func LoadFile(path string, into *ClusterControllerSettings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading settings file: %w", err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("parsing settings file: %w", err)
	}
	return nil
}

// New builds settings from defaults, then environment, then opts, the same
// precedence order as core.NewConfig.
func New(opts ...Option) (*ClusterControllerSettings, error) {
	cfg := DefaultSettings()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("loading env settings: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	return cfg, nil
}

// Validate enforces the invariants the rest of the module assumes hold:
// at least one known gbid, no duplicates, no empty strings.
func (c *ClusterControllerSettings) Validate() error {
	if len(c.KnownGbids) == 0 {
		return fmt.Errorf("known_gbids must not be empty")
	}
	seen := make(map[string]struct{}, len(c.KnownGbids))
	for _, g := range c.KnownGbids {
		if g == "" {
			return fmt.Errorf("known_gbids must not contain an empty string")
		}
		if _, dup := seen[g]; dup {
			return fmt.Errorf("known_gbids contains duplicate %q", g)
		}
		seen[g] = struct{}{}
	}
	return nil
}

// RedisURLFor returns the Redis URL backing the given gbid, falling back to
// DefaultRedisURL when no per-gbid override is configured.
func (c *ClusterControllerSettings) RedisURLFor(gbid string) string {
	if url, ok := c.RedisURLs[gbid]; ok && url != "" {
		return url
	}
	return c.DefaultRedisURL
}

func WithKnownGbids(gbids ...string) Option {
	return func(c *ClusterControllerSettings) error {
		if len(gbids) == 0 {
			return fmt.Errorf("WithKnownGbids requires at least one gbid")
		}
		c.KnownGbids = gbids
		return nil
	}
}

func WithClusterControllerID(id string) Option {
	return func(c *ClusterControllerSettings) error {
		c.ClusterControllerID = id
		return nil
	}
}

func WithRedisURL(gbid, url string) Option {
	return func(c *ClusterControllerSettings) error {
		if c.RedisURLs == nil {
			c.RedisURLs = map[string]string{}
		}
		c.RedisURLs[gbid] = url
		return nil
	}
}

func WithTouchTTL(d time.Duration) Option {
	return func(c *ClusterControllerSettings) error {
		c.TouchTTL = d
		return nil
	}
}

func WithReAddInterval(d time.Duration) Option {
	return func(c *ClusterControllerSettings) error {
		c.ReAddInterval = d
		return nil
	}
}

func WithCleanupInterval(d time.Duration) Option {
	return func(c *ClusterControllerSettings) error {
		c.CleanupIntervalMs = d
		return nil
	}
}

func WithFreshnessUpdateInterval(d time.Duration) Option {
	return func(c *ClusterControllerSettings) error {
		c.FreshnessUpdateInterval = d
		return nil
	}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseMillisOrDuration(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("not a duration or integer millisecond count: %q", v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func randomSuffix() string {
	return uuid.New().String()[:8]
}
