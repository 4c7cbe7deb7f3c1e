package cfg

import (
	"errors"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type RedisConfig struct {
	Host     string
	Port     string
	Password string
}

func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type DatabaseConfig struct {
	Path string
}

type SessionConfig struct {
	TTL          time.Duration
	CookieSecure bool
}

type OAuthConfig struct {
	HTTPTimeout   time.Duration
	PublicBaseURL string
	LoginPath     string
	DashboardPath string
	// TrustedProxies are the peers whose X-Forwarded-Proto is honoured.
	TrustedProxies []netip.Prefix
}

type ObservabilityConfig struct {
	ServiceName  string
	Environment  string
	OTLPEndpoint string
}

type Config struct {
	AppEnv          string
	AppPort         string
	SnowflakeNodeID int64
	AdminAPIToken   string
	Redis           RedisConfig
	Database        DatabaseConfig
	Session         SessionConfig
	OAuth           OAuthConfig
	Observability   ObservabilityConfig
}

func Load() (*Config, error) {
	var errs []error

	// A missing .env is fine; the environment may already be populated.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.New("failed load cfg: " + err.Error())
	}

	appEnv := mustEnv("APP_ENV", &errs)
	redisHost := mustEnv("REDIS_HOST", &errs)
	redisPort := mustEnv("REDIS_PORT", &errs)
	redisPassword := os.Getenv("REDIS_PASSWORD")
	dbPath := mustEnv("DATABASE_PATH", &errs)

	nodeID := intEnv("SNOWFLAKE_NODE_ID", 1, &errs)
	sessionTTL := positiveIntEnv("SESSION_TTL_MINUTES", 1440, &errs)
	httpTimeout := positiveIntEnv("OAUTH_HTTP_TIMEOUT_SECONDS", 10, &errs)
	trustedProxies := prefixesEnv("TRUSTED_PROXIES", &errs)
	cookieSecure := boolEnv("COOKIE_SECURE", appEnv == "production", &errs)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return &Config{
		AppEnv:          appEnv,
		AppPort:         envOr("APP_PORT", "8080"),
		SnowflakeNodeID: int64(nodeID),
		AdminAPIToken:   os.Getenv("ADMIN_API_TOKEN"),
		Redis: RedisConfig{
			Host:     redisHost,
			Port:     redisPort,
			Password: redisPassword,
		},
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Session: SessionConfig{
			TTL:          time.Duration(sessionTTL) * time.Minute,
			CookieSecure: cookieSecure,
		},
		OAuth: OAuthConfig{
			HTTPTimeout:    time.Duration(httpTimeout) * time.Second,
			PublicBaseURL:  os.Getenv("PUBLIC_BASE_URL"),
			LoginPath:      envOr("LOGIN_REDIRECT_PATH", "/login"),
			DashboardPath:  envOr("DASHBOARD_REDIRECT_PATH", "/dashboard"),
			TrustedProxies: trustedProxies,
		},
		Observability: ObservabilityConfig{
			ServiceName:  envOr("OTEL_SERVICE_NAME", "oauthfed"),
			Environment:  appEnv,
			OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
		},
	}, nil
}

func mustEnv(key string, errs *[]error) string {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		*errs = append(*errs, errors.New("missing env: "+key))
	}
	return value
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		*errs = append(*errs, errors.New("conversion failed env: "+key))
		return fallback
	}
	return n
}

// positiveIntEnv rejects 0, which would disable a timeout or expiry.
func positiveIntEnv(key string, fallback int, errs *[]error) int {
	n := intEnv(key, fallback, errs)
	if n == 0 {
		*errs = append(*errs, errors.New("must be greater than zero env: "+key))
		return fallback
	}
	return n
}

// prefixesEnv parses a comma-separated list of CIDRs or single addresses.
func prefixesEnv(key string, errs *[]error) []netip.Prefix {
	var out []netip.Prefix
	for _, part := range strings.Split(os.Getenv(key), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if p, err := netip.ParsePrefix(part); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			*errs = append(*errs, errors.New("conversion failed env: "+key))
			return nil
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out
}

func boolEnv(key string, fallback bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, errors.New("conversion failed env: "+key))
		return fallback
	}
	return b
}
