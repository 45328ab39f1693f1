/*
config.go - Configuration for the ledger host and the operator CLI

PURPOSE:
  One Config shared by cmd/server and cmd/foodctl. Values come from, in
  increasing precedence: built-in defaults, an optional YAML file, then
  FOODLEDGER_* environment variables. Command-line flags are applied by the
  binaries on top of the loaded Config.

ENVIRONMENT:
  FOODLEDGER_PORT           server.port
  FOODLEDGER_DB             server.database (":memory:" for a volatile ledger)
  FOODLEDGER_TOKENS         server.tokens, comma separated
  FOODLEDGER_KAFKA_BROKERS  server.kafka.brokers, comma separated
  FOODLEDGER_KAFKA_TOPIC    server.kafka.topic
  FOODLEDGER_SERVER         client.server
  FOODLEDGER_TOKEN          client.token
  FOODLEDGER_LOG_LEVEL      log_level (debug, info, warn, error)

EXAMPLE:
  log_level: info
  server:
    port: 8080
    database: ./ledger.db
    tokens: [ops-token]
    kafka:
      brokers: [localhost:9092]
      topic: ledger.transactions
  client:
    server: http://localhost:8080
    poll_interval: 30s
*/
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MemoryDatabase selects the in-memory store.
const MemoryDatabase = ":memory:"

type Config struct {
	LogLevel string       `yaml:"log_level"`
	Server   ServerConfig `yaml:"server"`
	Client   ClientConfig `yaml:"client"`
}

type ServerConfig struct {
	Port           int         `yaml:"port"`
	Database       string      `yaml:"database"`
	Tokens         []string    `yaml:"tokens"`
	AllowedOrigins []string    `yaml:"allowed_origins"`
	Kafka          KafkaConfig `yaml:"kafka"`
}

// KafkaConfig enables the Kafka event publisher when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type ClientConfig struct {
	Server       string        `yaml:"server"`
	Token        string        `yaml:"token"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Port:     8080,
			Database: "./ledger.db",
			Kafka:    KafkaConfig{Topic: "ledger.transactions"},
		},
		Client: ClientConfig{
			Server:       "http://localhost:8080",
			PollInterval: 30 * time.Second,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("FOODLEDGER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FOODLEDGER_PORT: %w", err)
		}
		c.Server.Port = port
	}
	c.Server.Database = getEnv("FOODLEDGER_DB", c.Server.Database)
	if v := SplitAndTrim(os.Getenv("FOODLEDGER_TOKENS"), ","); v != nil {
		c.Server.Tokens = v
	}
	if v := SplitAndTrim(os.Getenv("FOODLEDGER_KAFKA_BROKERS"), ","); v != nil {
		c.Server.Kafka.Brokers = v
	}
	c.Server.Kafka.Topic = getEnv("FOODLEDGER_KAFKA_TOPIC", c.Server.Kafka.Topic)
	c.Client.Server = getEnv("FOODLEDGER_SERVER", c.Client.Server)
	c.Client.Token = getEnv("FOODLEDGER_TOKEN", c.Client.Token)
	c.LogLevel = getEnv("FOODLEDGER_LOG_LEVEL", c.LogLevel)
	return nil
}

// Validate checks ranges and cross-field rules.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535 (got %d)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Database) == "" {
		return errors.New("server.database must not be empty")
	}
	if len(c.Server.Kafka.Brokers) > 0 && strings.TrimSpace(c.Server.Kafka.Topic) == "" {
		return errors.New("server.kafka.topic is required when brokers are set")
	}
	if c.Client.PollInterval < 0 {
		return fmt.Errorf("client.poll_interval must not be negative (got %s)", c.Client.PollInterval)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// Logger builds a text logger at the configured level writing to w.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Addr returns the listen address for the server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// SplitAndTrim splits a list value on sep, trimming spaces and dropping
// empty items. Flags and environment variables share it.
func SplitAndTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
