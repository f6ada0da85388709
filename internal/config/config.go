package config

import (
    "context"
    "crypto/rand"
    "encoding/hex"
    "fmt"
    "os"
    "time"

    "github.com/joho/godotenv"
    "github.com/sethvargo/go-envconfig"
)

type Config struct {
    Port        int    `env:"PORT,default=8000"`
    Environment string `env:"ENVIRONMENT,default=development"`

    DBDriver string `env:"DB_DRIVER,default=sqlite"`
    DBDsn    string `env:"DB_DSN,default=./data/app.db"`

    JWTSecret string `env:"JWT_SECRET"`
    JWTTTL    int64  `env:"JWT_TTL,default=86400"`

    RateLimitRPS   int `env:"RATE_LIMIT_RPS,default=20"`
    RateLimitBurst int `env:"RATE_LIMIT_BURST,default=40"`

    RedisEnabled      bool          `env:"REDIS_ENABLED,default=false"`
    RedisAddr         string        `env:"REDIS_ADDR"`
    RedisPassword     string        `env:"REDIS_PASSWORD"`
    RedisDB           int           `env:"REDIS_DB,default=0"`
    RedisUseTLS       bool          `env:"REDIS_USE_TLS,default=false"`
    RedisDialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT,default=2s"`
    RedisReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT,default=1s"`
    RedisWriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT,default=1s"`

    CacheMaxEntries        int           `env:"CACHE_MAX_ENTRIES,default=1024"`
    CachePerfWarnThreshold time.Duration `env:"CACHE_PERF_WARN_THRESHOLD,default=50ms"`
    CampaignCacheTTL       time.Duration `env:"CACHE_CAMPAIGN_TTL,default=60s"`

    CookieDomain          string `env:"COOKIE_DOMAIN"`
    CookieExpirationHours int    `env:"COOKIE_EXPIRATION_HOURS,default=24"`
    PublicBaseURL         string `env:"PUBLIC_BASE_URL,default=http://localhost:8000/redeem"`

    ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT,default=30s"`
    WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT,default=30s"`
    ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=15s"`
}

func generateJWTSecret() string {
    bytes := make([]byte, 32)
    if _, err := rand.Read(bytes); err != nil {
        panic("failed to generate JWT secret: " + err.Error())
    }
    return hex.EncodeToString(bytes)
}

// Load reads .env (when present) and the process environment.
func Load(ctx context.Context) (*Config, error) {
    _ = godotenv.Load()

    var cfg Config
    if err := envconfig.Process(ctx, &cfg); err != nil {
        return nil, fmt.Errorf("failed to process environment config: %w", err)
    }
    if cfg.JWTSecret == "" || cfg.JWTSecret == "please_change_me" {
        cfg.JWTSecret = generateJWTSecret()
    }
    if cfg.CookieExpirationHours <= 0 || cfg.CookieExpirationHours > 48 {
        return nil, fmt.Errorf("COOKIE_EXPIRATION_HOURS must be in (0, 48], got %d", cfg.CookieExpirationHours)
    }
    return &cfg, nil
}

func (c *Config) Addr() string {
    return fmt.Sprintf("0.0.0.0:%d", c.Port)
}

func (c *Config) IsProduction() bool {
    return c.Environment == "production"
}

// Hostname is reported by the health endpoint.
func Hostname() string {
    h, _ := os.Hostname()
    return h
}
