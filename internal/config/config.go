package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the civicdedup server.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Clustering ClusteringConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// ClusteringConfig carries the dedup/clustering policy. The defaults follow
// the upstream batch clusterer's operational settings; every value is a
// deployment knob, not a constant.
type ClusteringConfig struct {
	EmbeddingDim     int
	AttachThreshold  float64
	SeedThreshold    float64
	GeoRadiusMeters  float64
	IncidentHorizon  time.Duration
	CandidateLimit   int
	MajorMemberCount int
	MaxRetries       int
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("CIVICDEDUP_PORT", 8080),
			Env:  envString("CIVICDEDUP_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Clustering: ClusteringConfig{
			EmbeddingDim:     envInt("CLUSTER_EMBEDDING_DIM", 768),
			AttachThreshold:  envFloat("CLUSTER_ATTACH_THRESHOLD", 0.80),
			SeedThreshold:    envFloat("CLUSTER_SEED_THRESHOLD", 0.60),
			GeoRadiusMeters:  envFloat("CLUSTER_GEO_RADIUS_METERS", 200),
			IncidentHorizon:  envDuration("CLUSTER_INCIDENT_HORIZON", 7*24*time.Hour),
			CandidateLimit:   envInt("CLUSTER_CANDIDATE_LIMIT", 50),
			MajorMemberCount: envInt("CLUSTER_MAJOR_MEMBER_COUNT", 5),
			MaxRetries:       envInt("CLUSTER_MAX_RETRIES", 3),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	cl := c.Clustering
	if cl.EmbeddingDim <= 0 {
		return fmt.Errorf("CLUSTER_EMBEDDING_DIM must be positive, got %d", cl.EmbeddingDim)
	}
	if cl.AttachThreshold < 0 || cl.AttachThreshold > 1 {
		return fmt.Errorf("CLUSTER_ATTACH_THRESHOLD must be in [0,1], got %v", cl.AttachThreshold)
	}
	if cl.SeedThreshold < 0 || cl.SeedThreshold > 1 {
		return fmt.Errorf("CLUSTER_SEED_THRESHOLD must be in [0,1], got %v", cl.SeedThreshold)
	}
	if cl.SeedThreshold > cl.AttachThreshold {
		return fmt.Errorf("CLUSTER_SEED_THRESHOLD (%v) must not exceed CLUSTER_ATTACH_THRESHOLD (%v)",
			cl.SeedThreshold, cl.AttachThreshold)
	}
	if cl.MajorMemberCount < 1 {
		return fmt.Errorf("CLUSTER_MAJOR_MEMBER_COUNT must be at least 1, got %d", cl.MajorMemberCount)
	}
	if cl.MaxRetries < 1 {
		return fmt.Errorf("CLUSTER_MAX_RETRIES must be at least 1, got %d", cl.MaxRetries)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
