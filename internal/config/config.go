package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigFileEnv names the optional YAML file whose keys are the lower-cased
// environment variable names (http_addr, auth_token_secret, ...).
const ConfigFileEnv = "VOICECHECK_CONFIG_FILE"

const minTokenSecretLength = 32

type Config struct {
	HTTP         HTTPConfig
	LogLevel     string
	DatabaseURL  string
	Auth         AuthConfig
	Inference    InferenceConfig
	AuditLogFile string
}

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type AuthConfig struct {
	TokenSecret       string
	TokenIssuer       string
	TokenTTL          time.Duration
	UserStateFile     string
	LoginRedirect     string
	CookieSecure      bool
	BootstrapUsername string
	BootstrapPassword string
}

type InferenceConfig struct {
	Workers        int
	QueueDepth     int
	Timeout        time.Duration
	MaxUploadBytes int64
	ScratchDir     string
	Classifier     string
	ClassifierCmd  string
	ClassifierURL  string
}

func Load() (Config, error) {
	cfg, err := read()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadAuth reads the full configuration but only validates the identity
// store and token settings, for tools that never start the inference side.
func LoadAuth() (Config, error) {
	cfg, err := read()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.validateAuth(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func read() (Config, error) {
	k, err := newKoanf()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		HTTP: HTTPConfig{
			Addr:            getString(k, "HTTP_ADDR", ":8000"),
			ReadTimeout:     time.Duration(getInt(k, "HTTP_READ_TIMEOUT_SEC", 10)) * time.Second,
			WriteTimeout:    time.Duration(getInt(k, "HTTP_WRITE_TIMEOUT_SEC", 45)) * time.Second,
			ShutdownTimeout: time.Duration(getInt(k, "HTTP_SHUTDOWN_TIMEOUT_SEC", 40)) * time.Second,
		},
		LogLevel:    getString(k, "LOG_LEVEL", "info"),
		DatabaseURL: getString(k, "DATABASE_URL", ""),
		Auth: AuthConfig{
			TokenSecret:       getString(k, "AUTH_TOKEN_SECRET", ""),
			TokenIssuer:       getString(k, "AUTH_TOKEN_ISSUER", "voicecheck"),
			TokenTTL:          time.Duration(getInt(k, "AUTH_TOKEN_TTL_SEC", 1800)) * time.Second,
			UserStateFile:     getString(k, "AUTH_USER_STATE_FILE", "./data/users.json"),
			LoginRedirect:     getString(k, "AUTH_LOGIN_REDIRECT", "/login"),
			CookieSecure:      getBool(k, "AUTH_COOKIE_SECURE", false),
			BootstrapUsername: getString(k, "AUTH_BOOTSTRAP_USERNAME", ""),
			BootstrapPassword: getString(k, "AUTH_BOOTSTRAP_PASSWORD", ""),
		},
		Inference: InferenceConfig{
			Workers:        getInt(k, "INFERENCE_WORKERS", 20),
			QueueDepth:     getInt(k, "INFERENCE_QUEUE_DEPTH", 0),
			Timeout:        time.Duration(getInt(k, "INFERENCE_TIMEOUT_SEC", 30)) * time.Second,
			MaxUploadBytes: int64(getInt(k, "INFERENCE_MAX_UPLOAD_BYTES", 10*1024*1024)),
			ScratchDir:     getString(k, "INFERENCE_SCRATCH_DIR", os.TempDir()),
			Classifier:     getString(k, "INFERENCE_CLASSIFIER", "exec"),
			ClassifierCmd:  getString(k, "INFERENCE_CLASSIFIER_CMD", ""),
			ClassifierURL:  getString(k, "INFERENCE_CLASSIFIER_URL", ""),
		},
		AuditLogFile: getString(k, "AUDIT_LOG_FILE", "./data/audit.log"),
	}
	if cfg.Auth.LoginRedirect == "-" {
		cfg.Auth.LoginRedirect = ""
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if cfg.HTTP.Addr == "" {
		return fmt.Errorf("HTTP_ADDR must not be empty")
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}
	if err := cfg.validateAuth(); err != nil {
		return err
	}
	if cfg.Inference.Workers <= 0 {
		return fmt.Errorf("INFERENCE_WORKERS must be > 0")
	}
	if cfg.Inference.QueueDepth < 0 {
		return fmt.Errorf("INFERENCE_QUEUE_DEPTH must be >= 0")
	}
	if cfg.Inference.Timeout <= 0 {
		return fmt.Errorf("INFERENCE_TIMEOUT_SEC must be > 0")
	}
	if cfg.Inference.MaxUploadBytes <= 0 {
		return fmt.Errorf("INFERENCE_MAX_UPLOAD_BYTES must be > 0")
	}
	if cfg.HTTP.WriteTimeout <= cfg.Inference.Timeout {
		return fmt.Errorf("HTTP_WRITE_TIMEOUT_SEC must exceed INFERENCE_TIMEOUT_SEC")
	}
	switch cfg.Inference.Classifier {
	case "exec":
		if strings.TrimSpace(cfg.Inference.ClassifierCmd) == "" {
			return fmt.Errorf("INFERENCE_CLASSIFIER_CMD must not be empty for the exec classifier")
		}
	case "http":
		if strings.TrimSpace(cfg.Inference.ClassifierURL) == "" {
			return fmt.Errorf("INFERENCE_CLASSIFIER_URL must not be empty for the http classifier")
		}
	default:
		return fmt.Errorf("INFERENCE_CLASSIFIER must be exec or http")
	}
	if cfg.AuditLogFile == "" {
		return fmt.Errorf("AUDIT_LOG_FILE must not be empty")
	}
	return nil
}

func (cfg Config) validateAuth() error {
	if len(cfg.Auth.TokenSecret) < minTokenSecretLength {
		return fmt.Errorf("AUTH_TOKEN_SECRET must be at least %d bytes", minTokenSecretLength)
	}
	if cfg.Auth.TokenTTL <= 0 {
		return fmt.Errorf("AUTH_TOKEN_TTL_SEC must be > 0")
	}
	if cfg.DatabaseURL == "" && cfg.Auth.UserStateFile == "" {
		return fmt.Errorf("AUTH_USER_STATE_FILE must not be empty when DATABASE_URL is unset")
	}
	if (cfg.Auth.BootstrapUsername == "") != (cfg.Auth.BootstrapPassword == "") {
		return fmt.Errorf("AUTH_BOOTSTRAP_USERNAME and AUTH_BOOTSTRAP_PASSWORD must be set together")
	}
	return nil
}

// newKoanf layers the process environment over the optional config file.
func newKoanf() (*koanf.Koanf, error) {
	k := koanf.New(".")
	if path := strings.TrimSpace(os.Getenv(ConfigFileEnv)); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.ProviderWithValue("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	return k, nil
}

// envKey maps HTTP_ADDR to http_addr. Empty values are dropped so an exported
// but blank variable leaves the file value in place.
func envKey(key, value string) (string, interface{}) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	return strings.ToLower(key), value
}

func getString(k *koanf.Koanf, key, fallback string) string {
	val := strings.TrimSpace(k.String(strings.ToLower(key)))
	if val == "" {
		return fallback
	}
	return val
}

func getInt(k *koanf.Koanf, key string, fallback int) int {
	val := getString(k, key, "")
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(k *koanf.Koanf, key string, fallback bool) bool {
	val := getString(k, key, "")
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}
