package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	log "go-liveness-relay/logging"
	redis "go-liveness-relay/redis"
	"go-liveness-relay/verification"
)

func main() {
	configPath := flag.String("config", "", "Path for the config.json to use")
	envPath := flag.String("env", ".env", "Path for an optional .env file")
	flag.Parse()

	if *configPath == "" {
		fatal("please provide a config path using the --config flag", nil)
	}

	loadDotEnv(*envPath)

	config, err := readConfigFile(*configPath)
	if err != nil {
		fatal("failed to read config file", err)
	}
	applyEnvOverrides(&config)

	log.InitLoggerWithFormat(config.LogLevel, config.LogFormat, os.Stderr)
	slog.Info("Using config", "path", *configPath, "host", config.ServerConfig.Host, "port", config.ServerConfig.Port)

	serverState, err := createServerState(&config)
	if err != nil {
		fatal("failed to set up server", err)
	}

	server, err := NewServer(serverState, config.ServerConfig)
	if err != nil {
		fatal("failed to create server", err)
	}

	err = server.ListenAndServe()
	if err != nil {
		fatal("failed to listen and serve", err)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func createServerState(config *Config) (*ServerState, error) {
	tokenIssuer, err := NewHmacSessionTokenIssuer(config.SessionSecret, config.IssuerId, config.sessionTTL())
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate session token issuer: %w", err)
	}

	sessionStorage, err := createSessionStorage(config)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate session storage: %w", err)
	}

	clientConfig, err := config.verificationClientConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid verification config: %w", err)
	}
	verifier := verification.NewHttpVerificationClient(clientConfig)
	slog.Info("Verification backend configured", "base_url", clientConfig.BaseURL, "policy", verifier.Policy().Name())

	captureOptions, err := config.captureOptions()
	if err != nil {
		return nil, fmt.Errorf("invalid capture config: %w", err)
	}
	if !captureOptions.LicenseExpiresAt.IsZero() {
		slog.Info("Liveness license expiry configured", "expires_at", captureOptions.LicenseExpiresAt.Format(DATE_FORMAT_CYMD))
	}

	return &ServerState{
		tokenIssuer:    tokenIssuer,
		sessionStorage: sessionStorage,
		verifier:       verifier,
		captureOptions: captureOptions,
	}, nil
}

func createSessionStorage(config *Config) (SessionStorage, error) {
	ttl := config.sessionTTL()
	if config.StorageType == "redis" {
		slog.Info("Using redis session storage")
		client, err := redis.NewRedisClient(&config.RedisConfig)
		if err != nil {
			return nil, err
		}
		return NewRedisSessionStorage(client, config.RedisConfig.Namespace, ttl), nil
	}
	if config.StorageType == "redis_sentinel" {
		slog.Info("Using redis sentinel session storage")
		client, err := redis.NewRedisSentinelClient(&config.RedisSentinelConfig)
		if err != nil {
			return nil, err
		}
		return NewRedisSessionStorage(client, config.RedisSentinelConfig.Namespace, ttl), nil
	}
	if config.StorageType == "memory" {
		slog.Info("Using in memory session storage")
		return NewInMemorySessionStorage(ttl), nil
	}
	return nil, fmt.Errorf("%v is not a valid storage type", config.StorageType)
}
