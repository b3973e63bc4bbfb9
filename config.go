package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go-liveness-relay/capture"
	"go-liveness-relay/images"
	redis "go-liveness-relay/redis"
	"go-liveness-relay/verification"

	"github.com/joho/godotenv"
)

const (
	EnvVerificationURL = "LIVENESS_VERIFICATION_URL"
	EnvSessionSecret   = "LIVENESS_SESSION_SECRET"
	EnvLogLevel        = "LIVENESS_LOG_LEVEL"
	EnvStorageType     = "LIVENESS_STORAGE_TYPE"

	DATE_FORMAT_CYMD = "2006-01-02"
)

type Config struct {
	ServerConfig ServerConfig `json:"server_config"`
	LogLevel     string       `json:"log_level"`
	LogFormat    string       `json:"log_format"`

	VerificationConfig VerificationConfig `json:"verification_config"`
	CaptureConfig      CaptureConfig      `json:"capture_config"`

	IssuerId          string `json:"issuer_id"`
	SessionSecret     string `json:"session_secret"`
	SessionTTLSeconds int    `json:"session_ttl_seconds"`

	StorageType         string                    `json:"storage_type"`
	RedisConfig         redis.RedisConfig         `json:"redis_config,omitempty"`
	RedisSentinelConfig redis.RedisSentinelConfig `json:"redis_sentinel_config,omitempty"`
}

type VerificationConfig struct {
	BaseURL               string   `json:"base_url"`
	ConnectTimeoutSeconds int      `json:"connect_timeout_seconds,omitempty"`
	ReadTimeoutSeconds    int      `json:"read_timeout_seconds,omitempty"`
	WriteTimeoutSeconds   int      `json:"write_timeout_seconds,omitempty"`
	CallTimeoutSeconds    int      `json:"call_timeout_seconds,omitempty"`
	LogBodies             bool     `json:"log_bodies,omitempty"`
	ProbabilityThreshold  *float64 `json:"probability_threshold,omitempty"`
}

type CaptureConfig struct {
	PreviewEnabled   *bool  `json:"preview_enabled,omitempty"`
	PayloadSize      string `json:"payload_size,omitempty"`
	LicenseExpiresAt string `json:"license_expires_at,omitempty"`
}

func defaultConfig() Config {
	return Config{
		ServerConfig: ServerConfig{Host: "0.0.0.0", Port: 8080},
		LogLevel:     "info",
		LogFormat:    "text",
		VerificationConfig: VerificationConfig{
			BaseURL: verification.DefaultBaseURL,
		},
		IssuerId:          "liveness_relay",
		SessionTTLSeconds: int(DefaultSessionTTL / time.Second),
		StorageType:       "memory",
	}
}

func readConfigFile(path string) (Config, error) {
	configBytes, err := os.ReadFile(path)

	if err != nil {
		return Config{}, err
	}

	config := defaultConfig()
	err = json.Unmarshal(configBytes, &config)

	if err != nil {
		return Config{}, err
	}

	return config, nil
}

// loadDotEnv loads a .env file when present; a missing file is not an error
func loadDotEnv(paths ...string) {
	if err := godotenv.Load(paths...); err != nil {
		slog.Debug("no .env file loaded, using process environment", "error", err)
	}
}

// applyEnvOverrides lets deployments inject secrets without touching the config file
func applyEnvOverrides(config *Config) {
	if v := os.Getenv(EnvVerificationURL); v != "" {
		config.VerificationConfig.BaseURL = v
	}
	if v := os.Getenv(EnvSessionSecret); v != "" {
		config.SessionSecret = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv(EnvStorageType); v != "" {
		config.StorageType = v
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (c *Config) sessionTTL() time.Duration {
	if c.SessionTTLSeconds <= 0 {
		return DefaultSessionTTL
	}
	return seconds(c.SessionTTLSeconds)
}

// verificationClientConfig builds the client settings; zero timeouts keep the client defaults
func (c *Config) verificationClientConfig() (verification.ClientConfig, error) {
	vc := c.VerificationConfig
	clientConfig := verification.ClientConfig{
		BaseURL:        vc.BaseURL,
		ConnectTimeout: seconds(vc.ConnectTimeoutSeconds),
		ReadTimeout:    seconds(vc.ReadTimeoutSeconds),
		WriteTimeout:   seconds(vc.WriteTimeoutSeconds),
		CallTimeout:    seconds(vc.CallTimeoutSeconds),
		LogBodies:      vc.LogBodies,
		Policy:         verification.AcceptParsed{},
	}

	if vc.ProbabilityThreshold != nil {
		threshold, err := verification.NewThreshold(*vc.ProbabilityThreshold)
		if err != nil {
			return verification.ClientConfig{}, err
		}
		clientConfig.Policy = threshold
	}
	return clientConfig, nil
}

// captureOptions replaces the process wide capture settings with a value owned by the server
func (c *Config) captureOptions() (capture.Options, error) {
	payloadSize, err := images.ParsePayloadSize(c.CaptureConfig.PayloadSize)
	if err != nil {
		return capture.Options{}, err
	}

	options := capture.Options{
		PreviewEnabled: true,
		PayloadSize:    payloadSize,
	}
	if c.CaptureConfig.PreviewEnabled != nil {
		options.PreviewEnabled = *c.CaptureConfig.PreviewEnabled
	}

	if c.CaptureConfig.LicenseExpiresAt != "" {
		expiresAt, err := time.Parse(DATE_FORMAT_CYMD, c.CaptureConfig.LicenseExpiresAt)
		if err != nil {
			return capture.Options{}, fmt.Errorf("invalid license_expires_at: %w", err)
		}
		options.LicenseExpiresAt = expiresAt
	}
	return options, nil
}
