package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location relative to the working directory.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	// Storage backend: "file" stores uploads under dataDir, "minio" uses the
	// object store settings below.
	StorageBackend string `yaml:"storageBackend"`
	DataDir        string `yaml:"dataDir"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	SessionSecret     string `yaml:"sessionSecret"`
	SessionTTL        string `yaml:"sessionTTL"`
	AdminPasswordHash string `yaml:"adminPasswordHash"`

	MaxUploadBytes int64    `yaml:"maxUploadBytes"`
	TrustedProxies []string `yaml:"trustedProxies"`

	OTPTTL              string `yaml:"otpTTL"`
	OTPResendAfter      string `yaml:"otpResendAfter"`
	OTPSendLimitPerHour int    `yaml:"otpSendLimitPerHour"`
	DevEchoOTP          bool   `yaml:"devEchoOTP"`

	// SMS provider credentials. The current build logs codes instead of
	// sending them; these fields are read so deployments can stage the
	// credentials ahead of the provider integration.
	SMSAPIKey    string `yaml:"smsApiKey"`
	SMSSenderID  string `yaml:"smsSenderId"`
	SMSTemplate  string `yaml:"smsTemplate"`
	SMSSandboxed bool   `yaml:"smsSandboxed"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
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
	// Override with environment variables
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.StorageBackend = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		cfg.SessionSecret = v
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		cfg.SessionTTL = v
	}
	if v := os.Getenv("ADMIN_PASSWORD_HASH"); v != "" {
		cfg.AdminPasswordHash = v
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		parts := strings.Split(v, ",")
		cfg.TrustedProxies = cfg.TrustedProxies[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cfg.TrustedProxies = append(cfg.TrustedProxies, p)
			}
		}
	}
	if v := os.Getenv("OTP_TTL"); v != "" {
		cfg.OTPTTL = v
	}
	if v := os.Getenv("OTP_RESEND_AFTER"); v != "" {
		cfg.OTPResendAfter = v
	}
	if v := os.Getenv("OTP_SEND_LIMIT_PER_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.OTPSendLimitPerHour = n
		}
	}
	if v := os.Getenv("DEV_ECHO_OTP"); v != "" {
		cfg.DevEchoOTP = v == "true" || v == "1"
	}
	if v := os.Getenv("SMS_API_KEY"); v != "" {
		cfg.SMSAPIKey = v
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml)")
	}
	if cfg.SessionSecret == "" {
		return errors.New("config: sessionSecret is required (set SESSION_SECRET)")
	}
	if cfg.AdminPasswordHash == "" {
		return errors.New("config: adminPasswordHash is required (set ADMIN_PASSWORD_HASH)")
	}
	switch cfg.StorageBackend {
	case "", "file":
		if cfg.DataDir == "" {
			return errors.New("config: dataDir is required for the file storage backend")
		}
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint and minioBucket are required for the minio storage backend")
		}
	default:
		return fmt.Errorf("config: unknown storageBackend %q", cfg.StorageBackend)
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	if cfg.OTPSendLimitPerHour < 0 {
		return errors.New("config: otpSendLimitPerHour must be >= 0")
	}
	return nil
}

// ParseSessionTTL parses the optional session TTL duration string.
func ParseSessionTTL(ttlStr string) (time.Duration, error) {
	if ttlStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(ttlStr)
	if err != nil {
		return 0, fmt.Errorf("invalid sessionTTL duration: %w", err)
	}
	return dur, nil
}

// ParseOTPTTL parses the optional OTP expiry duration string.
func ParseOTPTTL(ttlStr string) (time.Duration, error) {
	if ttlStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(ttlStr)
	if err != nil {
		return 0, fmt.Errorf("invalid otpTTL duration: %w", err)
	}
	return dur, nil
}

// ParseOTPResendAfter parses the optional resend cooldown duration string.
func ParseOTPResendAfter(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid otpResendAfter duration: %w", err)
	}
	return dur, nil
}
