package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	// empty databaseURL selects the in-memory store (dev mode)
	DatabaseURL  string `yaml:"databaseURL"`
	EmbeddingDim int    `yaml:"embeddingDim"`

	// object storage; storageDir selects local files, minioEndpoint selects MinIO
	StorageDir     string `yaml:"storageDir"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	RedisAddr              string `yaml:"redisAddr"`
	RedisPassword          string `yaml:"redisPassword"`
	QueueName              string `yaml:"queueName"`
	QueueGroup             string `yaml:"queueGroup"`
	QueueConcurrency       int    `yaml:"queueConcurrency"`
	QueueMaxRetries        int    `yaml:"queueMaxRetries"`
	QueueRetryDelaySeconds int    `yaml:"queueRetryDelaySeconds"`

	ConsumeDir           string `yaml:"consumeDir"`
	WatchIntervalSeconds int    `yaml:"watchIntervalSeconds"`

	MailEnabled             bool   `yaml:"mailEnabled"`
	MailAddr                string `yaml:"mailAddr"`
	MailUsername            string `yaml:"mailUsername"`
	MailPassword            string `yaml:"mailPassword"`
	MailFolder              string `yaml:"mailFolder"`
	MailPollIntervalSeconds int    `yaml:"mailPollIntervalSeconds"`

	AIProvider   string `yaml:"aiProvider"`
	AIBaseURL    string `yaml:"aiBaseURL"`
	AIAPIKey     string `yaml:"aiApiKey"`
	AIModel      string `yaml:"aiModel"`
	AIEmbedModel string `yaml:"aiEmbedModel"`

	RasterCommand        string `yaml:"rasterCommand"`
	RasterDPI            int    `yaml:"rasterDPI"`
	RasterTimeoutSeconds int    `yaml:"rasterTimeoutSeconds"`
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
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("INTAKE_STORAGE_DIR"); v != "" {
		cfg.StorageDir = v
	}
	if v := os.Getenv("INTAKE_MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("INTAKE_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("INTAKE_MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("INTAKE_MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("INTAKE_QUEUE_NAME"); v != "" {
		cfg.QueueName = v
	}
	if v := os.Getenv("INTAKE_QUEUE_GROUP"); v != "" {
		cfg.QueueGroup = v
	}
	if v := os.Getenv("INTAKE_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueConcurrency = n
		}
	}
	if v := os.Getenv("INTAKE_QUEUE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueMaxRetries = n
		}
	}
	if v := os.Getenv("INTAKE_QUEUE_RETRY_DELAY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueRetryDelaySeconds = n
		}
	}
	if v := os.Getenv("INTAKE_CONSUME_DIR"); v != "" {
		cfg.ConsumeDir = v
	}
	if v := os.Getenv("INTAKE_WATCH_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WatchIntervalSeconds = n
		}
	}
	if v := os.Getenv("INTAKE_MAIL_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.MailEnabled = enabled
		}
	}
	if v := os.Getenv("INTAKE_MAIL_ADDR"); v != "" {
		cfg.MailAddr = v
	}
	if v := os.Getenv("INTAKE_MAIL_USERNAME"); v != "" {
		cfg.MailUsername = v
	}
	if v := os.Getenv("INTAKE_MAIL_PASSWORD"); v != "" {
		cfg.MailPassword = v
	}
	if v := os.Getenv("INTAKE_MAIL_FOLDER"); v != "" {
		cfg.MailFolder = v
	}
	if v := os.Getenv("INTAKE_AI_PROVIDER"); v != "" {
		cfg.AIProvider = v
	}
	if v := os.Getenv("INTAKE_AI_BASE_URL"); v != "" {
		cfg.AIBaseURL = v
	}
	if v := os.Getenv("INTAKE_AI_API_KEY"); v != "" {
		cfg.AIAPIKey = v
	}
	if v := os.Getenv("INTAKE_AI_MODEL"); v != "" {
		cfg.AIModel = v
	}
	if v := os.Getenv("INTAKE_AI_EMBED_MODEL"); v != "" {
		cfg.AIEmbedModel = v
	}
	if v := os.Getenv("INTAKE_EMBEDDING_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EmbeddingDim = n
		}
	}
	if v := os.Getenv("INTAKE_RASTER_COMMAND"); v != "" {
		cfg.RasterCommand = v
	}
	if v := os.Getenv("INTAKE_RASTER_DPI"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RasterDPI = n
		}
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "intake:documents"
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "intake-workers"
	}
	if cfg.QueueConcurrency == 0 {
		cfg.QueueConcurrency = 4
	}
	if cfg.QueueMaxRetries == 0 {
		cfg.QueueMaxRetries = 3
	}
	if cfg.QueueRetryDelaySeconds == 0 {
		cfg.QueueRetryDelaySeconds = 5
	}
	if cfg.WatchIntervalSeconds == 0 {
		cfg.WatchIntervalSeconds = 10
	}
	if cfg.MailPollIntervalSeconds == 0 {
		cfg.MailPollIntervalSeconds = 60
	}
	if cfg.MailFolder == "" {
		cfg.MailFolder = "INBOX"
	}
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 768
	}
	if cfg.RasterCommand == "" {
		cfg.RasterCommand = "pdftoppm"
	}
	if cfg.RasterDPI == 0 {
		cfg.RasterDPI = 150
	}
	if cfg.RasterTimeoutSeconds == 0 {
		cfg.RasterTimeoutSeconds = 60
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.StorageDir == "" && cfg.MinioEndpoint == "" {
		return errors.New("config: either storageDir or minioEndpoint is required")
	}
	if cfg.MinioEndpoint != "" && (cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "") {
		return errors.New("config: minioEndpoint requires minioAccessKey, minioSecretKey and minioBucket")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	switch cfg.AIProvider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("config: aiProvider must be ollama or openai, got %q", cfg.AIProvider)
	}
	if cfg.AIBaseURL == "" {
		return errors.New("config: aiBaseURL is required")
	}
	if cfg.AIModel == "" || cfg.AIEmbedModel == "" {
		return errors.New("config: aiModel and aiEmbedModel are required")
	}
	if cfg.AIProvider == "openai" && cfg.AIAPIKey == "" {
		return errors.New("config: aiApiKey is required when aiProvider=openai")
	}
	if cfg.EmbeddingDim <= 0 {
		return errors.New("config: embeddingDim must be > 0")
	}
	if cfg.QueueConcurrency <= 0 {
		return errors.New("config: queueConcurrency must be > 0")
	}
	if cfg.WatchIntervalSeconds < 0 {
		return errors.New("config: watchIntervalSeconds must be >= 0")
	}
	if cfg.MailEnabled && (cfg.MailAddr == "" || cfg.MailUsername == "") {
		return errors.New("config: mailEnabled requires mailAddr and mailUsername")
	}
	if cfg.RasterDPI < 0 {
		return errors.New("config: rasterDPI must be >= 0")
	}
	if cfg.RasterTimeoutSeconds < 0 {
		return errors.New("config: rasterTimeoutSeconds must be >= 0")
	}
	if strings.TrimSpace(cfg.RasterCommand) == "" {
		return errors.New("config: rasterCommand must not be blank")
	}
	return nil
}
