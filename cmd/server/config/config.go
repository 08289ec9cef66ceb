// Package config reads server configuration from the environment. Optional
// settings fall back to development defaults so a bare `go run ./cmd/server`
// starts a broker-less, in-memory instance.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// HTTPConfig holds the HTTP listener settings.
type HTTPConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
	// RateLimitPerMinute caps requests per client. Zero disables the limiter.
	RateLimitPerMinute int64
}

// BusConfig holds the event bus settings. An empty URL selects the
// in-process bus.
type BusConfig struct {
	URL             string
	Exchange        string
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

// StoreConfig holds the relational store settings. An empty URL selects the
// in-memory stores.
type StoreConfig struct {
	DatabaseURL string
}

// PaymentConfig holds payment processing settings.
type PaymentConfig struct {
	Ceiling float64
}

// CacheConfig holds Redis status cache settings. An empty URL disables the
// cache.
type CacheConfig struct {
	URL                string
	Stream             string
	StatusTTL          time.Duration
	StreamMaxLen       int64
	HealthcheckTimeout time.Duration
	EnableOTel         bool
	TLSConfig          *tls.Config
}

// LoadHTTP reads HTTP settings from env.
func LoadHTTP() (HTTPConfig, error) {
	cfg := HTTPConfig{
		Addr: stringWithDefault("HTTP_ADDR", ":3000"),
	}

	var err error
	if cfg.ShutdownTimeout, err = durationWithDefault("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.RateLimitPerMinute, err = int64WithDefault("HTTP_RATE_LIMIT_PER_MINUTE", 0); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadBus reads event bus settings from env.
func LoadBus() (BusConfig, error) {
	cfg := BusConfig{
		URL:      strings.TrimSpace(os.Getenv("AMQP_URL")),
		Exchange: stringWithDefault("AMQP_EXCHANGE", "ecommerce.events"),
	}

	var err error
	if cfg.ConnectAttempts, err = intWithDefault("AMQP_CONNECT_ATTEMPTS", 5); err != nil {
		return cfg, err
	}
	if cfg.ConnectBackoff, err = durationWithDefault("AMQP_CONNECT_BACKOFF", 2*time.Second); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadStore reads relational store settings from env.
func LoadStore() StoreConfig {
	return StoreConfig{DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL"))}
}

// LoadPayment reads payment settings from env.
func LoadPayment() (PaymentConfig, error) {
	ceiling, err := float64WithDefault("PAYMENT_CEILING", 10000)
	if err != nil {
		return PaymentConfig{}, err
	}
	return PaymentConfig{Ceiling: ceiling}, nil
}

// LoadCache reads Redis status cache settings from env.
func LoadCache() (CacheConfig, error) {
	cfg := CacheConfig{
		URL:    strings.TrimSpace(os.Getenv("REDIS_URL")),
		Stream: stringWithDefault("REDIS_STREAM", "order_status_events"),
	}

	var err error
	if cfg.StatusTTL, err = durationWithDefault("REDIS_STATUS_TTL", 24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.StreamMaxLen, err = int64WithDefault("REDIS_STREAM_MAXLEN", 1000); err != nil {
		return cfg, err
	}
	if cfg.HealthcheckTimeout, err = durationWithDefault("REDIS_HEALTHCHECK_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.EnableOTel, err = optionalBool("REDIS_OTEL"); err != nil {
		return cfg, err
	}
	if cfg.TLSConfig, err = loadRedisTLSFromEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadRedisTLSFromEnv() (*tls.Config, error) {
	caFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CA_FILE"))
	certFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CERT_FILE"))
	keyFile := strings.TrimSpace(os.Getenv("REDIS_TLS_KEY_FILE"))
	serverName := strings.TrimSpace(os.Getenv("REDIS_TLS_SERVER_NAME"))
	insecureStr := strings.TrimSpace(os.Getenv("REDIS_TLS_INSECURE_SKIP_VERIFY"))

	if caFile == "" && certFile == "" && keyFile == "" && serverName == "" && insecureStr == "" {
		return nil, nil
	}
	if (certFile == "") != (keyFile == "") {
		return nil, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}

	if insecureStr != "" {
		insecure, err := strconv.ParseBool(insecureStr)
		if err != nil {
			return nil, fmt.Errorf("REDIS_TLS_INSECURE_SKIP_VERIFY: %w", err)
		}
		tlsConfig.InsecureSkipVerify = insecure
	}

	if caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("REDIS_TLS_CA_FILE contains no valid certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis TLS keypair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func stringWithDefault(name, fallback string) string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	return raw
}

func durationWithDefault(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func intWithDefault(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func int64WithDefault(name string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func float64WithDefault(name string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func optionalBool(name string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return val, nil
}
