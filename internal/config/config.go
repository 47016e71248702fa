package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Vision     VisionConfig     `yaml:"vision"`
	Matching   MatchingConfig   `yaml:"matching"`
	Enrollment EnrollmentConfig `yaml:"enrollment"`
	Session    SessionConfig    `yaml:"session"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	APIKey      string `yaml:"api_key"`
	MetricsPort int    `yaml:"metrics_port"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type VisionConfig struct {
	// ONNXLibrary is the onnxruntime shared library. Empty picks the platform default name.
	ONNXLibrary        string        `yaml:"onnx_library"`
	ModelsDir          string        `yaml:"models_dir"`
	DetectorModel      string        `yaml:"detector_model"`
	EmbedderModel      string        `yaml:"embedder_model"`
	DetectionThreshold float64       `yaml:"detection_threshold"`
	ExtractTimeout     time.Duration `yaml:"extract_timeout"`
	Lazy               bool          `yaml:"lazy"`
}

// MatchingConfig controls the probe-vs-enrollment comparison.
type MatchingConfig struct {
	// Threshold is an exclusive Euclidean distance bound. Lower is stricter.
	Threshold      float64 `yaml:"threshold"`
	Dimensionality int     `yaml:"dimensionality"`
	TieBreak       string  `yaml:"tie_break"`
	Workers        int     `yaml:"workers"`
	// ParallelMinRecords is the snapshot size at which the scan is partitioned.
	ParallelMinRecords int    `yaml:"parallel_min_records"`
	Index              string `yaml:"index"`
	IndexCandidates    int    `yaml:"index_candidates"`
}

type EnrollmentConfig struct {
	Policy string `yaml:"policy"`
}

type SessionConfig struct {
	Secret   string        `yaml:"secret"`
	TTL      time.Duration `yaml:"ttl"`
	Issuer   string        `yaml:"issuer"`
	// ResetTTL bounds password reset tokens.
	ResetTTL time.Duration `yaml:"reset_ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	IndexLinear   = "linear"
	IndexHNSW     = "hnsw"
	IndexPGVector = "pgvector"
)

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// Validate rejects settings the matcher cannot honour.
func (c *Config) Validate() error {
	if c.Matching.Threshold <= 0 {
		return fmt.Errorf("matching.threshold must be positive, got %v", c.Matching.Threshold)
	}
	if c.Matching.Dimensionality <= 0 {
		return fmt.Errorf("matching.dimensionality must be positive, got %d", c.Matching.Dimensionality)
	}
	if c.Matching.TieBreak != "ascending_id" {
		return fmt.Errorf("matching.tie_break: unsupported value %q", c.Matching.TieBreak)
	}
	switch c.Matching.Index {
	case IndexLinear, IndexHNSW, IndexPGVector:
	default:
		return fmt.Errorf("matching.index: unsupported value %q", c.Matching.Index)
	}
	switch c.Enrollment.Policy {
	case "reject", "replace":
	default:
		return fmt.Errorf("enrollment.policy: unsupported value %q", c.Enrollment.Policy)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 8082
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "faceid"
	}
	if cfg.Vision.DetectorModel == "" {
		cfg.Vision.DetectorModel = "det_10g.onnx"
	}
	if cfg.Vision.EmbedderModel == "" {
		cfg.Vision.EmbedderModel = "face_recognition_128.onnx"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.ExtractTimeout == 0 {
		cfg.Vision.ExtractTimeout = 5 * time.Second
	}
	if cfg.Matching.Threshold == 0 {
		cfg.Matching.Threshold = 0.6
	}
	if cfg.Matching.Dimensionality == 0 {
		cfg.Matching.Dimensionality = 128
	}
	if cfg.Matching.TieBreak == "" {
		cfg.Matching.TieBreak = "ascending_id"
	}
	if cfg.Matching.Workers == 0 {
		cfg.Matching.Workers = 4
	}
	if cfg.Matching.ParallelMinRecords == 0 {
		cfg.Matching.ParallelMinRecords = 5000
	}
	if cfg.Matching.Index == "" {
		cfg.Matching.Index = IndexLinear
	}
	if cfg.Matching.IndexCandidates == 0 {
		cfg.Matching.IndexCandidates = 32
	}
	if cfg.Enrollment.Policy == "" {
		cfg.Enrollment.Policy = "reject"
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = 12 * time.Hour
	}
	if cfg.Session.ResetTTL == 0 {
		cfg.Session.ResetTTL = time.Hour
	}
	if cfg.Session.Issuer == "" {
		cfg.Session.Issuer = "faceid"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FACEID_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FACEID_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FACEID_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FACEID_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FACEID_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FACEID_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FACEID_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FACEID_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FACEID_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FACEID_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FACEID_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FACEID_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FACEID_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("FACEID_ONNX_LIBRARY"); v != "" {
		cfg.Vision.ONNXLibrary = v
	}
	if v := os.Getenv("FACEID_MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Matching.Threshold = f
		}
	}
	if v := os.Getenv("FACEID_MATCH_DIMENSIONALITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Matching.Dimensionality = n
		}
	}
	if v := os.Getenv("FACEID_ENROLLMENT_POLICY"); v != "" {
		cfg.Enrollment.Policy = v
	}
	if v := os.Getenv("FACEID_SESSION_SECRET"); v != "" {
		cfg.Session.Secret = v
	}
}
