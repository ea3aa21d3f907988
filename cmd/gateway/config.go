package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	algorithmFixedWindow = "fixed_window"
	algorithmTokenBucket = "token_bucket"
)

type config struct {
	ListenAddr  string
	UpstreamURL string

	LogLevel  string
	LogFormat string

	RateEnabled    bool
	RateAlgorithm  string
	RateLimit      int
	RatePeriod     time.Duration
	RateRPS        float64
	RateBurst      int
	RateKeyHeader  string
	TrustXFF       bool
	RetryAfter     time.Duration
	AddHeaders     bool
	RateIdleTTL    time.Duration
	RateCleanEvery time.Duration

	ConcurrencyMax     int
	ConcurrencyTimeout time.Duration

	RateStatsEnabled       bool
	RateStatsRedisAddr     string
	RateStatsRedisPassword string
	RateStatsRedisDB       int
	RateStatsPrefix        string
	RateStatsTTL           time.Duration
	RateStatsBucket        string
	RateStatsTrackKeys     bool

	BreakerMaxFailures      int
	BreakerExecutionTimeout time.Duration
	BreakerResetTimeout     time.Duration

	VerifyURL           string
	VerifyPublicPath    string
	VerifyProtectedPath string

	TokenServiceSubject string
	TokenServiceTTL     time.Duration
	TokenUserTTL        time.Duration
	TokenRefreshBuffer  time.Duration
	RSAPrivateKey       string
	RSAPublicKey        string

	AuthUsers string
}

// newViper lê env (nomes em maiúsculas, ex.: RATE_RPS) e, se informado, o arquivo YAML.
func newViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("rate_enabled", true)
	v.SetDefault("rate_algorithm", algorithmFixedWindow)
	v.SetDefault("rate_limit", 100)
	v.SetDefault("rate_period", time.Minute)
	v.SetDefault("rate_rps", 10.0)
	// rate_burst não tem default aqui: depende de rate_rps (ver loadConfig).
	v.SetDefault("retry_after", time.Second)
	v.SetDefault("add_ratelimit_headers", false)
	v.SetDefault("trust_xff", false)
	v.SetDefault("rate_idle_ttl", 10*time.Minute)
	v.SetDefault("rate_cleanup_every", time.Minute)

	v.SetDefault("concurrency_max", 100)
	v.SetDefault("concurrency_timeout", time.Duration(0))

	v.SetDefault("rate_stats_enabled", false)
	v.SetDefault("rate_stats_redis_db", 0)
	v.SetDefault("rate_stats_prefix", "gateway:stats")
	v.SetDefault("rate_stats_ttl", 24*time.Hour)
	v.SetDefault("rate_stats_bucket", "minute")
	v.SetDefault("rate_stats_track_keys", false)

	v.SetDefault("breaker_max_failures", 5)
	v.SetDefault("breaker_execution_timeout", 2*time.Second)
	v.SetDefault("breaker_reset_timeout", 10*time.Second)

	v.SetDefault("verify_url", "http://localhost:8081")
	v.SetDefault("verify_public_path", "/v1/ip")
	v.SetDefault("verify_protected_path", "/v3/ip")

	v.SetDefault("token_service_subject", "payroll-gateway")
	v.SetDefault("token_service_ttl", time.Hour)
	v.SetDefault("token_user_ttl", 15*time.Minute)
	v.SetDefault("token_refresh_buffer", 5*time.Minute)
}

func loadConfig(v *viper.Viper) (config, error) {
	cfg := config{
		ListenAddr:  v.GetString("listen_addr"),
		UpstreamURL: strings.TrimSpace(v.GetString("upstream_url")),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),

		RateEnabled:    v.GetBool("rate_enabled"),
		RateAlgorithm:  strings.ToLower(strings.TrimSpace(v.GetString("rate_algorithm"))),
		RateLimit:      v.GetInt("rate_limit"),
		RatePeriod:     v.GetDuration("rate_period"),
		RateRPS:        v.GetFloat64("rate_rps"),
		RateKeyHeader:  v.GetString("rate_key_header"),
		TrustXFF:       v.GetBool("trust_xff"),
		RetryAfter:     v.GetDuration("retry_after"),
		AddHeaders:     v.GetBool("add_ratelimit_headers"),
		RateIdleTTL:    v.GetDuration("rate_idle_ttl"),
		RateCleanEvery: v.GetDuration("rate_cleanup_every"),

		ConcurrencyMax:     v.GetInt("concurrency_max"),
		ConcurrencyTimeout: v.GetDuration("concurrency_timeout"),

		RateStatsEnabled:       v.GetBool("rate_stats_enabled"),
		RateStatsRedisAddr:     v.GetString("rate_stats_redis_addr"),
		RateStatsRedisPassword: v.GetString("rate_stats_redis_password"),
		RateStatsRedisDB:       v.GetInt("rate_stats_redis_db"),
		RateStatsPrefix:        v.GetString("rate_stats_prefix"),
		RateStatsTTL:           v.GetDuration("rate_stats_ttl"),
		RateStatsBucket:        v.GetString("rate_stats_bucket"),
		RateStatsTrackKeys:     v.GetBool("rate_stats_track_keys"),

		BreakerMaxFailures:      v.GetInt("breaker_max_failures"),
		BreakerExecutionTimeout: v.GetDuration("breaker_execution_timeout"),
		BreakerResetTimeout:     v.GetDuration("breaker_reset_timeout"),

		VerifyURL:           strings.TrimSpace(v.GetString("verify_url")),
		VerifyPublicPath:    v.GetString("verify_public_path"),
		VerifyProtectedPath: v.GetString("verify_protected_path"),

		TokenServiceSubject: v.GetString("token_service_subject"),
		TokenServiceTTL:     v.GetDuration("token_service_ttl"),
		TokenUserTTL:        v.GetDuration("token_user_ttl"),
		TokenRefreshBuffer:  v.GetDuration("token_refresh_buffer"),
		RSAPrivateKey:       v.GetString("rsa_private_key"),
		RSAPublicKey:        v.GetString("rsa_public_key"),

		AuthUsers: v.GetString("auth_users"),
	}

	// IMPORTANTE: o "burst" permite uma rajada inicial de requisições.
	// Com RPS muito baixo (ex: 0.02), o padrão 20 pode dar a impressão de que
	// o limiter não está funcionando, porque as primeiras ~20 passam.
	if v.IsSet("rate_burst") && v.GetString("rate_burst") != "" {
		cfg.RateBurst = v.GetInt("rate_burst")
	} else {
		cfg.RateBurst = 20
		if cfg.RateRPS > 0 && cfg.RateRPS < 1 {
			cfg.RateBurst = 1
		}
	}

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	if c.UpstreamURL == "" {
		return errors.New("UPSTREAM_URL is required")
	}
	if err := validateBaseURL(c.UpstreamURL); err != nil {
		return fmt.Errorf("UPSTREAM_URL: %w", err)
	}
	if err := validateBaseURL(c.VerifyURL); err != nil {
		return fmt.Errorf("VERIFY_URL: %w", err)
	}

	switch c.RateAlgorithm {
	case algorithmFixedWindow:
		if c.RateLimit <= 0 {
			return errors.New("RATE_LIMIT must be > 0")
		}
		if c.RatePeriod <= 0 {
			return errors.New("RATE_PERIOD must be > 0")
		}
	case algorithmTokenBucket:
		if c.RateRPS <= 0 {
			return errors.New("RATE_RPS must be > 0")
		}
		if c.RateBurst <= 0 {
			return errors.New("RATE_BURST must be > 0")
		}
	default:
		return fmt.Errorf("RATE_ALGORITHM must be %q or %q, got %q", algorithmFixedWindow, algorithmTokenBucket, c.RateAlgorithm)
	}

	if c.ConcurrencyMax < 0 {
		return errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if c.RateStatsEnabled && strings.TrimSpace(c.RateStatsRedisAddr) == "" {
		return errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	}

	if c.BreakerMaxFailures <= 0 {
		return errors.New("BREAKER_MAX_FAILURES must be > 0")
	}
	if c.BreakerExecutionTimeout <= 0 {
		return errors.New("BREAKER_EXECUTION_TIMEOUT must be > 0")
	}
	if c.BreakerResetTimeout <= 0 {
		return errors.New("BREAKER_RESET_TIMEOUT must be > 0")
	}

	if c.TokenServiceTTL <= 0 || c.TokenUserTTL <= 0 {
		return errors.New("TOKEN_SERVICE_TTL and TOKEN_USER_TTL must be > 0")
	}
	if c.TokenRefreshBuffer < 0 || c.TokenRefreshBuffer >= c.TokenServiceTTL {
		return errors.New("TOKEN_REFRESH_BUFFER must be >= 0 and shorter than TOKEN_SERVICE_TTL")
	}
	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q must be an absolute URL", raw)
	}
	return nil
}
