package utils

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

const (
	DefaultCoinPaprikaURL = "https://api.coinpaprika.com/v1/tickers"
	DefaultCoinGeckoURL   = "https://api.coingecko.com/api/v3/coins/markets?vs_currency=usd&order=market_cap_desc&per_page=100&page=1&sparkline=false"
	DefaultCSVPath        = "data/source.csv"
)

// LoadDotEnv loads .env (or the given files) into the process environment.
// Variables already set win. A missing file is skipped; one that exists
// but cannot be parsed is an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return eris.Wrapf(err, "config: load %s", f)
		}
	}
	return nil
}

type RetryConfig struct {
	Attempts       int           `yaml:"attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	Multiplier     float64       `yaml:"multiplier"`
	Jitter         float64       `yaml:"jitter"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

type SourceConfig struct {
	URL    string  `yaml:"url"`
	APIKey string  `yaml:"api_key"`
	RPS    float64 `yaml:"rps"`
}

type PipelineConfig struct {
	CoinPaprika   SourceConfig  `yaml:"coinpaprika"`
	CoinGecko     SourceConfig  `yaml:"coingecko"`
	CSVPath       string        `yaml:"csv_path"`
	Retry         RetryConfig   `yaml:"retry"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	Precedence    []string      `yaml:"precedence"`
	InjectFailure bool          `yaml:"inject_failure"`
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		CoinPaprika: SourceConfig{URL: DefaultCoinPaprikaURL, RPS: 2},
		CoinGecko:   SourceConfig{URL: DefaultCoinGeckoURL, RPS: 0.5},
		CSVPath:     DefaultCSVPath,
		Retry: RetryConfig{
			Attempts:   3,
			BaseDelay:  time.Second,
			Multiplier: 2,
			Jitter:     0.1,
		},
		FetchTimeout: 15 * time.Second,
		Precedence:   []string{"coingecko", "coinpaprika", "csv"},
	}
}

// LoadPipelineConfig layers defaults, the optional YAML file named by
// ETL_CONFIG_FILE, then environment overrides.
func LoadPipelineConfig() (PipelineConfig, error) {
	cfg := DefaultPipelineConfig()

	if path := os.Getenv("ETL_CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, eris.Wrapf(err, "config: read %s", path)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, eris.Wrapf(err, "config: parse %s", path)
		}
	}

	cfg.CoinPaprika.URL = envString("COINPAPRIKA_URL", cfg.CoinPaprika.URL)
	cfg.CoinPaprika.APIKey = envString("COINPAPRIKA_API_KEY", cfg.CoinPaprika.APIKey)
	cfg.CoinGecko.URL = envString("COINGECKO_URL", cfg.CoinGecko.URL)
	cfg.CoinGecko.APIKey = envString("COINGECKO_API_KEY", cfg.CoinGecko.APIKey)
	cfg.CSVPath = envString("ETL_CSV_PATH", cfg.CSVPath)

	var err error
	if cfg.Retry.Attempts, err = envInt("ETL_RETRY_ATTEMPTS", cfg.Retry.Attempts); err != nil {
		return cfg, err
	}
	if cfg.Retry.BaseDelay, err = envDuration("ETL_RETRY_BASE_DELAY", cfg.Retry.BaseDelay); err != nil {
		return cfg, err
	}
	if cfg.Retry.Multiplier, err = envFloat("ETL_RETRY_MULTIPLIER", cfg.Retry.Multiplier); err != nil {
		return cfg, err
	}
	if cfg.FetchTimeout, err = envDuration("ETL_FETCH_TIMEOUT", cfg.FetchTimeout); err != nil {
		return cfg, err
	}
	if rps, ok := os.LookupEnv("ETL_RATE_LIMIT_RPS"); ok && rps != "" {
		v, err := strconv.ParseFloat(rps, 64)
		if err != nil {
			return cfg, eris.Wrap(err, "config: ETL_RATE_LIMIT_RPS")
		}
		cfg.CoinPaprika.RPS, cfg.CoinGecko.RPS = v, v
	}
	if p := os.Getenv("ETL_SOURCE_PRECEDENCE"); p != "" {
		cfg.Precedence = splitList(p)
	}
	cfg.InjectFailure = envBool("INJECT_FAILURE", cfg.InjectFailure)

	if cfg.Retry.Attempts < 1 {
		return cfg, eris.Errorf("config: retry attempts must be >= 1, got %d", cfg.Retry.Attempts)
	}
	return cfg, nil
}

type AuthConfig struct {
	APIKey       string
	APIKeyBcrypt string
	JWTSecret    string
	JWTIssuer    string
	JWTDuration  time.Duration
}

// ErrNoAPIKey is returned when neither APP_API_KEY nor APP_API_KEY_BCRYPT is set.
var ErrNoAPIKey = eris.New("APP_API_KEY environment variable is not set")

// ErrNoJWTSecret is returned when only APP_API_KEY_BCRYPT is set and no
// ETL_JWT_SECRET is given to sign operator tokens with.
var ErrNoJWTSecret = eris.New("ETL_JWT_SECRET must be set when only APP_API_KEY_BCRYPT is configured")

func LoadAuthConfig() (AuthConfig, error) {
	cfg := AuthConfig{
		APIKey:       os.Getenv("APP_API_KEY"),
		APIKeyBcrypt: os.Getenv("APP_API_KEY_BCRYPT"),
		JWTSecret:    os.Getenv("ETL_JWT_SECRET"),
		JWTIssuer:    envString("ETL_JWT_ISSUER", "cryptoetl"),
		JWTDuration:  12 * time.Hour,
	}
	if cfg.APIKey == "" && cfg.APIKeyBcrypt == "" {
		return cfg, ErrNoAPIKey
	}

	if cfg.JWTSecret == "" {
		// a bcrypt hash is not secret, so only the plain key may sign
		if cfg.APIKey == "" {
			return cfg, ErrNoJWTSecret
		}
		cfg.JWTSecret = cfg.APIKey
	}

	var err error
	if cfg.JWTDuration, err = envDuration("ETL_JWT_TTL", cfg.JWTDuration); err != nil {
		return cfg, err
	}
	return cfg, nil
}

type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	RedisURL        string
	PyroscopeServer string
	DisableAutoETL  bool
	Env             string
}

func LoadServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        envString("HTTP_ADDR", ":8000"),
		GRPCAddr:        envString("GRPC_ADDR", ":7070"),
		RedisURL:        os.Getenv("REDIS_URL"),
		PyroscopeServer: os.Getenv("PYROSCOPE_SERVER"),
		DisableAutoETL:  envBool("DISABLE_AUTO_ETL", false),
		Env:             envString("ETL_ENV", "prod"),
	}
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, eris.Wrapf(err, "config: %s", key)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, eris.Wrapf(err, "config: %s", key)
	}
	return f, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, eris.Wrapf(err, "config: %s", key)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
