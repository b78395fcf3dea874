package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file, overridable with PORTFOLIO_CONFIG.
const ConfigPath = "config.yaml"

const (
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultSessionTTL       = "1h"
	defaultMinioBucket      = "book-images"
	defaultMaxUploadBytes   = 10 << 20
	defaultMaxImagePixels   = 40_000_000
	defaultLoginRateLimit   = 10
	defaultUploadRateLimit  = 30
	defaultDevPublicBaseURL = "http://localhost:8080/files"
)

var defaultAllowedImageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`
	// DevMode swaps every external dependency for an in-process one.
	DevMode bool `yaml:"devMode"`

	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	JWTPrivateKeyPath   string            `yaml:"jwtPrivateKeyPath"`
	JWTKeyID            string            `yaml:"jwtKeyID"`
	JWTVerifyPublicKeys map[string]string `yaml:"jwtVerifyPublicKeys"`
	JWTIssuer           string            `yaml:"jwtIssuer"`
	JWTAudience         string            `yaml:"jwtAudience"`
	JWTLeeway           string            `yaml:"jwtLeeway"`
	SessionTTL          string            `yaml:"sessionTTL"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	PublicBaseURL  string `yaml:"publicBaseURL"`

	MaxUploadBytes    int64    `yaml:"maxUploadBytes"`
	AllowedImageTypes []string `yaml:"allowedImageTypes"`
	MaxImagePixels    int64    `yaml:"maxImagePixels"`

	LoginRateLimitPerMinute  int      `yaml:"loginRateLimitPerMinute"`
	UploadRateLimitPerMinute int      `yaml:"uploadRateLimitPerMinute"`
	TrustedProxyCIDRs        []string `yaml:"trustedProxyCidrs"`
	CORSAllowedOrigins       []string `yaml:"corsAllowedOrigins"`
}

// Load reads .env (when present), the YAML file at path and environment
// overrides, then applies defaults and validates.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = os.Getenv("PORTFOLIO_CONFIG")
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString("PORT", &cfg.Port)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("DATABASE_URL", &cfg.DatabaseURL)
	setString("REDIS_ADDR", &cfg.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.RedisPassword)
	setString("JWT_PRIVATE_KEY_PATH", &cfg.JWTPrivateKeyPath)
	setString("JWT_KEY_ID", &cfg.JWTKeyID)
	setString("JWT_ISSUER", &cfg.JWTIssuer)
	setString("JWT_AUDIENCE", &cfg.JWTAudience)
	setString("JWT_LEEWAY", &cfg.JWTLeeway)
	setString("SESSION_TTL", &cfg.SessionTTL)
	setString("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	setString("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	setString("MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	setString("MINIO_BUCKET", &cfg.MinioBucket)
	setString("PUBLIC_BASE_URL", &cfg.PublicBaseURL)

	if v := os.Getenv("PORTFOLIO_DEV_MODE"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.DevMode = b
		}
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("PORTFOLIO_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("PORTFOLIO_MAX_IMAGE_PIXELS"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxImagePixels = n
		}
	}
	if v := os.Getenv("PORTFOLIO_ALLOWED_IMAGE_TYPES"); v != "" {
		cfg.AllowedImageTypes = splitCSV(v)
	}
	if v := os.Getenv("PORTFOLIO_LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("PORTFOLIO_UPLOAD_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.UploadRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("PORTFOLIO_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("PORTFOLIO_CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.SessionTTL == "" {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.MinioBucket == "" {
		cfg.MinioBucket = defaultMinioBucket
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.MaxImagePixels == 0 {
		cfg.MaxImagePixels = defaultMaxImagePixels
	}
	if len(cfg.AllowedImageTypes) == 0 {
		cfg.AllowedImageTypes = append([]string(nil), defaultAllowedImageTypes...)
	}
	if cfg.LoginRateLimitPerMinute == 0 {
		cfg.LoginRateLimitPerMinute = defaultLoginRateLimit
	}
	if cfg.UploadRateLimitPerMinute == 0 {
		cfg.UploadRateLimitPerMinute = defaultUploadRateLimit
	}
	if cfg.DevMode && cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = defaultDevPublicBaseURL
	}
}

func validateConfig(cfg FileConfig) error {
	if _, err := ParseSessionTTL(cfg.SessionTTL); err != nil {
		return err
	}
	if _, err := ParseJWTLeeway(cfg.JWTLeeway); err != nil {
		return err
	}
	if cfg.MaxUploadBytes < 0 || cfg.MaxImagePixels < 0 {
		return errors.New("config: upload limits must be >= 0")
	}
	if cfg.LoginRateLimitPerMinute < 0 || cfg.UploadRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.DevMode {
		return nil
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for token revocation and rate limiting")
	}
	if strings.TrimSpace(cfg.JWTPrivateKeyPath) == "" {
		return errors.New("config: jwtPrivateKeyPath is required (set in config.yaml or JWT_PRIVATE_KEY_PATH)")
	}
	if strings.TrimSpace(cfg.MinioEndpoint) == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml or MINIO_ENDPOINT)")
	}
	if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
		return errors.New("config: minioAccessKey and minioSecretKey are required")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ParseSessionTTL parses the access token lifetime.
func ParseSessionTTL(ttl string) (time.Duration, error) {
	dur, err := time.ParseDuration(strings.TrimSpace(ttl))
	if err != nil {
		return 0, fmt.Errorf("invalid sessionTTL duration: %w", err)
	}
	if dur <= 0 {
		return 0, errors.New("config: sessionTTL must be positive")
	}
	return dur, nil
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	if leewayStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(leewayStr)
	if err != nil {
		return 0, fmt.Errorf("invalid jwtLeeway duration: %w", err)
	}
	return dur, nil
}
