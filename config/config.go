// Package config reads the service configuration from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"ops-console/session"
	"ops-console/storage"
)

type Config struct {
	StorageConnectionString string
	LayoutsTable            string
	LayoutEventsQueue       string
	RedisConnectionString   string
	LayoutCacheTTL          time.Duration
	LocalStorePath          string
	PersistenceMode         storage.Mode

	AutosaveDefault    bool
	SaveRetryEnabled   bool
	SaveRetry          session.RetryConfig
	SessionIdleTTL     time.Duration
	SessionLoadTimeout time.Duration

	UpstreamBaseURL string
	UpstreamToken   string
	UpstreamTimeout time.Duration
	PollInterval    time.Duration
	PollMaxErrors   int
	JobHistorySize  int
	ImportTokenTTL  time.Duration

	Auth Auth

	OTLPEndpoint string
	Debug        bool
	LogFormat    string
	ListenAddr   string
}

// Auth selects between Auth0 JWKS verification and a shared test secret.
type Auth struct {
	Domain            string
	Audience          string
	TestMode          bool
	TestSecret        string
	RolesClaim        string
	RoleTemplateClaim string
	JWKSCacheTTL      time.Duration
}

// Issuer is the expected iss claim for Domain.
func (a Auth) Issuer() string {
	if a.Domain == "" {
		return ""
	}
	return "https://" + a.Domain + "/"
}

// JWKSURL is where the signing keys of Domain are published.
func (a Auth) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", a.Domain)
}

// Load reads the process environment.
func Load() (Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom reads configuration through lookup. Every problem found is
// reported, not only the first.
func LoadFrom(lookup func(string) (string, bool)) (Config, error) {
	r := reader{lookup: lookup}
	cfg := Config{
		StorageConnectionString: r.str("STORAGE_CONNECTION_STRING", ""),
		LayoutsTable:            r.str("LAYOUTS_TABLE", ""),
		LayoutEventsQueue:       r.str("LAYOUT_EVENTS_QUEUE", ""),
		RedisConnectionString:   r.str("REDIS_CONNECTION_STRING", ""),
		LayoutCacheTTL:          r.dur("LAYOUT_CACHE_TTL", 5*time.Minute),
		LocalStorePath:          r.str("LOCAL_STORE_PATH", "ops-console.db"),

		AutosaveDefault:    r.boolean("AUTOSAVE_DEFAULT", true),
		SaveRetryEnabled:   r.boolean("SAVE_RETRY_ENABLED", false),
		SessionIdleTTL:     r.dur("SESSION_IDLE_TTL", session.DefaultIdleTTL),
		SessionLoadTimeout: r.dur("SESSION_LOAD_TIMEOUT", session.DefaultLoadTimeout),
		SaveRetry: session.RetryConfig{
			Initial:     r.dur("SAVE_RETRY_INITIAL", 500*time.Millisecond),
			Max:         r.dur("SAVE_RETRY_MAX", 30*time.Second),
			MaxAttempts: r.integer("SAVE_RETRY_MAX_ATTEMPTS", 10),
			Timeout:     r.dur("SAVE_RETRY_TIMEOUT", 10*time.Second),
		},

		UpstreamBaseURL: r.str("UPSTREAM_BASE_URL", ""),
		UpstreamToken:   r.str("UPSTREAM_TOKEN", ""),
		UpstreamTimeout: r.dur("UPSTREAM_TIMEOUT", 10*time.Second),
		PollInterval:    r.dur("POLL_INTERVAL", 2*time.Second),
		PollMaxErrors:   r.integer("POLL_MAX_ERRORS", 0),
		JobHistorySize:  r.integer("JOB_HISTORY_SIZE", 100),
		ImportTokenTTL:  r.dur("IMPORT_TOKEN_TTL", 10*time.Minute),

		Auth: Auth{
			Domain:            r.str("AUTH0_DOMAIN", ""),
			Audience:          r.str("AUTH0_AUDIENCE", ""),
			TestMode:          r.str("AUTH0_TEST_MODE", "") == "1",
			TestSecret:        r.str("TEST_JWT_SECRET", ""),
			RolesClaim:        r.str("ROLES_CLAIM", "roles"),
			RoleTemplateClaim: r.str("ROLE_TEMPLATE_CLAIM", "role_template"),
			JWKSCacheTTL:      r.dur("JWKS_CACHE_TTL", 15*time.Minute),
		},

		OTLPEndpoint: r.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Debug:        r.boolean("DEBUG", false),
		LogFormat:    strings.ToLower(r.str("LOG_FORMAT", "text")),
		ListenAddr:   ":" + r.str("FUNCTIONS_CUSTOMHANDLER_PORT", "8080"),
	}

	mode, err := storage.ParseMode(r.str("PERSISTENCE_MODE", ""))
	if err != nil {
		r.errs = append(r.errs, err)
	}
	cfg.PersistenceMode = mode

	if mode == storage.ModeRemote || mode == storage.ModeRemoteLocal {
		if cfg.StorageConnectionString == "" || cfg.LayoutsTable == "" {
			r.errs = append(r.errs, errors.New("missing storage config: STORAGE_CONNECTION_STRING and LAYOUTS_TABLE are required"))
		}
	}
	if cfg.RedisConnectionString == "" {
		r.errs = append(r.errs, errors.New("missing redis config"))
	}
	if cfg.UpstreamBaseURL == "" {
		r.errs = append(r.errs, errors.New("missing UPSTREAM_BASE_URL"))
	}
	if cfg.Auth.TestMode {
		if cfg.Auth.TestSecret == "" {
			r.errs = append(r.errs, errors.New("AUTH0_TEST_MODE requires TEST_JWT_SECRET"))
		}
	} else if cfg.Auth.Domain == "" || cfg.Auth.Audience == "" {
		r.errs = append(r.errs, errors.New("missing Auth0 config"))
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		r.errs = append(r.errs, fmt.Errorf("invalid LOG_FORMAT %q", cfg.LogFormat))
	}

	return cfg, errors.Join(r.errs...)
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %q", key, v))
		return def
	}
	return n
}

func (r *reader) dur(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %q", key, v))
		return def
	}
	return d
}

func (r *reader) boolean(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %q", key, v))
		return def
	}
	return b
}

// RedisOptions accepts a redis:// URL or an Azure style
// "host:port,password=...,ssl=True" connection string.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
