package cliparse

import (
	"context"
	"errors"
	"flag"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const (
	DatabasePostgres = "postgres"
	DatabaseSQLite   = "sqlite"
)

type Config struct {
	Port         int    `env:"PORT, default=3318"`
	DatabaseURL  string `env:"DATABASE_URL"`
	DatabaseType string `env:"DATABASE_TYPE"`
	HostKeySalt  string `env:"HOST_KEY_SALT"`
	CodeSalt     string `env:"SESSION_CODE_SALT"`
	PublicURL    string `env:"PUBLIC_BASE_URL, default=https://choosing.sucks"`
	LogLevel     string `env:"LOG_LEVEL, default=info"`
	AdminToken   string `env:"ADMIN_TOKEN"`

	// Client IPs come from forwarding headers only behind a trusted proxy
	TrustProxy  bool     `env:"TRUST_PROXY, default=false"`
	CORSOrigins []string `env:"CORS_ORIGINS"`

	SessionTTL      time.Duration `env:"SESSION_TTL, default=24h"`
	JanitorSchedule string        `env:"JANITOR_SCHEDULE, default=@every 5m"`

	RateLimitRPS   int           `env:"RATE_LIMIT_RPS, default=5"`
	RateLimitBurst int           `env:"RATE_LIMIT_BURST, default=10"`
	CacheTTL       time.Duration `env:"CACHE_TTL, default=10m"`

	Providers Providers
}

// Providers holds credentials for outbound APIs. Empty keys disable the provider.
type Providers struct {
	GooglePlacesKey  string `env:"GOOGLE_PLACES_API_KEY"`
	WatchmodeKey     string `env:"WATCHMODE_API_KEY"`
	OpenAIKey        string `env:"OPENAI_API_KEY"`
	OpenAIModel      string `env:"OPENAI_MODEL, default=gpt-4o-mini"`
	OpenAIBaseURL    string `env:"OPENAI_BASE_URL, default=https://api.openai.com/v1"`
	OpenAIDailyLimit int    `env:"OPENAI_DAILY_LIMIT, default=200"`
}

// ParseFlags reads the environment and then lets CLI flags override it
func ParseFlags(args []string) (Config, error) {
	return parse(context.Background(), args, envconfig.OsLookuper())
}

func parse(ctx context.Context, args []string, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("choosing-sucks", flag.ContinueOnError)

	// Network config
	fs.IntVar(&cfg.Port, "p", cfg.Port, "Server port")
	fs.StringVar(&cfg.DatabaseURL, "d", cfg.DatabaseURL, "Database URL")
	fs.StringVar(&cfg.DatabaseType, "t", cfg.DatabaseType, "Database type (sqlite or postgres)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	fs.BoolVar(&cfg.TrustProxy, "trust-proxy", cfg.TrustProxy, "Read client IPs from X-Forwarded-For / X-Real-IP")

	// Secrets (prefer env variables, but allow CLI for dev)
	fs.StringVar(&cfg.HostKeySalt, "host-salt", cfg.HostKeySalt, "Host key salt (prefer env)")
	fs.StringVar(&cfg.CodeSalt, "code-salt", cfg.CodeSalt, "Join code salt (prefer env)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("database URL required (use -d or DATABASE_URL env)")
	}
	if cfg.DatabaseType == "" {
		cfg.DatabaseType = inferDatabaseType(cfg.DatabaseURL)
	}
	if cfg.DatabaseType != DatabasePostgres && cfg.DatabaseType != DatabaseSQLite {
		return Config{}, errors.New("database type must be sqlite or postgres")
	}

	if cfg.HostKeySalt == "" {
		return Config{}, errors.New("HOST_KEY_SALT required")
	}
	if cfg.CodeSalt == "" {
		return Config{}, errors.New("SESSION_CODE_SALT required")
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, errors.New("invalid port")
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	return cfg, nil
}

func inferDatabaseType(url string) string {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return DatabasePostgres
	}
	return DatabaseSQLite
}
