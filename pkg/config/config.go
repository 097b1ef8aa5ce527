// Package config loads service settings: built-in defaults, then an optional
// YAML file, then a .env file, then process environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every setting the binaries read.
type Config struct {
	Port        string `yaml:"port"`
	MetricsPort string `yaml:"metrics_port"`
	CORSOrigin  string `yaml:"cors_origin"`

	OllamaURL  string `yaml:"ollama_url"`
	EmbedModel string `yaml:"embed_model"`
	ChatModel  string `yaml:"chat_model"`

	QdrantURL  string `yaml:"qdrant_url"`
	Collection string `yaml:"qdrant_collection"`

	NATSURL string `yaml:"nats_url"`

	Neo4jURL  string `yaml:"neo4j_url"`
	Neo4jUser string `yaml:"neo4j_user"`
	Neo4jPass string `yaml:"neo4j_pass"`

	NVDAPIKey string `yaml:"nvd_api_key"`

	EnrichWorkers   int           `yaml:"enrich_workers"`
	MaxTokens       int           `yaml:"max_tokens"`
	GenerateTimeout time.Duration `yaml:"generate_timeout"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Port:            "8080",
		MetricsPort:     "9090",
		CORSOrigin:      "*",
		OllamaURL:       "http://localhost:11434",
		EmbedModel:      "nomic-embed-text",
		ChatModel:       "mistral",
		QdrantURL:       "localhost:6334",
		Collection:      "cve_vectors",
		NATSURL:         "nats://localhost:4222",
		Neo4jURL:        "neo4j://localhost:7687",
		Neo4jUser:       "neo4j",
		Neo4jPass:       "password",
		EnrichWorkers:   4,
		MaxTokens:       128,
		GenerateTimeout: 60 * time.Second,
	}
}

// Load builds a Config. path names an optional YAML file; a missing file is
// not an error. envFile names an optional dotenv file whose values never
// override variables already set in the environment.
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	c.Port = envOr("PORT", c.Port)
	c.MetricsPort = envOr("METRICS_PORT", c.MetricsPort)
	c.CORSOrigin = envOr("CORS_ORIGIN", c.CORSOrigin)
	c.OllamaURL = envOr("OLLAMA_URL", c.OllamaURL)
	c.EmbedModel = envOr("EMBED_MODEL", c.EmbedModel)
	c.ChatModel = envOr("CHAT_MODEL", c.ChatModel)
	c.QdrantURL = envOr("QDRANT_URL", c.QdrantURL)
	c.Collection = envOr("QDRANT_COLLECTION", c.Collection)
	c.NATSURL = envOr("NATS_URL", c.NATSURL)
	c.Neo4jURL = envOr("NEO4J_URL", c.Neo4jURL)
	c.Neo4jUser = envOr("NEO4J_USER", c.Neo4jUser)
	c.Neo4jPass = envOr("NEO4J_PASS", c.Neo4jPass)
	c.NVDAPIKey = envOr("NVD_API_KEY", c.NVDAPIKey)

	var err error
	if c.EnrichWorkers, err = intEnv("ENRICH_WORKERS", c.EnrichWorkers); err != nil {
		return err
	}
	if c.MaxTokens, err = intEnv("MAX_TOKENS", c.MaxTokens); err != nil {
		return err
	}
	if v := os.Getenv("GENERATE_TIMEOUT"); v != "" {
		d, perr := time.ParseDuration(v)
		if perr != nil {
			return fmt.Errorf("config: GENERATE_TIMEOUT: %w", perr)
		}
		c.GenerateTimeout = d
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	switch {
	case c.EnrichWorkers < 1:
		return fmt.Errorf("config: enrich_workers must be >= 1, got %d", c.EnrichWorkers)
	case c.MaxTokens < 1:
		return fmt.Errorf("config: max_tokens must be >= 1, got %d", c.MaxTokens)
	case c.GenerateTimeout <= 0:
		return fmt.Errorf("config: generate_timeout must be positive, got %s", c.GenerateTimeout)
	case c.Port == "":
		return errors.New("config: port is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}
