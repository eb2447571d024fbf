package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrMissingSecret is returned when no token signing secret is configured.
var ErrMissingSecret = errors.New("config: security.jwtsecret (JWT_SECRET) is required")

type HTTPConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxBodyBytes   int64
	TrustedProxies []string
}

type DatabaseConfig struct {
	DSN             string
	PoolMin         int
	PoolMax         int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
	MockFallback    bool
}

type SecurityConfig struct {
	JWTSecret         string
	Issuer            string
	PasswordMinLength int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Burst     int
	PerSecond float64
}

type CORSConfig struct {
	Origins []string
}

type AppConfig struct {
	Environment string
	HTTP        HTTPConfig
	Database    DatabaseConfig
	Security    SecurityConfig
	Redis       RedisConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
}

// IsDevelopment reports whether error details may be exposed to clients.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// Addr is the listen address.
func (c *AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// Flags returns the command line flags understood by Load.
func Flags(name string) *pflag.FlagSet {
	set := pflag.NewFlagSet(name, pflag.ContinueOnError)
	set.String("config", "", "path to a config.yaml file")
	set.String("environment", "", "runtime environment (development, production)")
	set.Int("port", 0, "HTTP listen port")
	set.Bool("mock-fallback", false, "serve tagged mock rows while the database is unreachable")
	return set
}

// Load reads .env, config.yaml, NGO_* environment variables and parsed flags,
// in increasing order of precedence.
func Load(flags *pflag.FlagSet) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("NGO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	setDefaults(v)

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
		if f := flags.Lookup("config"); f != nil && f.Changed {
			v.SetConfigFile(f.Value.String())
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) validate() error {
	if strings.TrimSpace(c.Security.JWTSecret) == "" {
		return ErrMissingSecret
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("config: invalid http.port %d", c.HTTP.Port)
	}
	if c.Database.PoolMax > 0 && c.Database.PoolMin > c.Database.PoolMax {
		return fmt.Errorf("config: database.poolmin %d exceeds database.poolmax %d", c.Database.PoolMin, c.Database.PoolMax)
	}
	return nil
}

func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("security.jwtsecret", "NGO_SECURITY_JWTSECRET", "JWT_SECRET")
	_ = v.BindEnv("database.dsn", "NGO_DATABASE_DSN", "DB_DSN", "DATABASE_URL")
	_ = v.BindEnv("http.port", "NGO_HTTP_PORT", "PORT")
	_ = v.BindEnv("environment", "NGO_ENVIRONMENT", "NODE_ENV")
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	bindings := map[string]string{
		"environment":   "environment",
		"port":          "http.port",
		"mock-fallback": "database.mockfallback",
	}
	for flag, key := range bindings {
		f := flags.Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 5000)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")
	v.SetDefault("http.maxbodybytes", 1<<20)
	v.SetDefault("http.trustedproxies", []string{})

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.poolmin", 2)
	v.SetDefault("database.poolmax", 10)
	v.SetDefault("database.connmaxlifetime", "30m")
	v.SetDefault("database.connecttimeout", "10s")
	v.SetDefault("database.mockfallback", false)

	v.SetDefault("security.jwtsecret", "")
	v.SetDefault("security.issuer", "ngo-portal")
	v.SetDefault("security.passwordminlength", 0)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("ratelimit.burst", 10)
	v.SetDefault("ratelimit.persecond", 1.0)

	v.SetDefault("cors.origins", []string{"*"})
}
