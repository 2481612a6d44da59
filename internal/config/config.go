// Package config provides the configuration structure for the podcast-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Environment variables that override secrets kept out of the project file.
const (
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvDatabaseURL  = "DATABASE_URL"
)

// Storage and records backends.
const (
	StorageBackendNATS = "nats"
	StorageBackendS3   = "s3"

	RecordsBackendPostgres = "postgres"
	RecordsBackendDynamoDB = "dynamodb"
)

// Defaults applied when the project file leaves a value unset.
const (
	defaultListenAddr             = ":8080"
	defaultReadTimeoutSeconds     = 10
	defaultWriteTimeoutSeconds    = 180
	defaultShutdownTimeoutSeconds = 10
	defaultSessionIdleMinutes     = 1440
	defaultOpenAIBaseURL          = "https://api.openai.com"
	defaultOpenAIModel            = "tts-1"
	defaultOpenAITimeoutSeconds   = 90
	defaultGenerationTimeout      = 120
	defaultUploadURLTTLSeconds    = 300
	defaultWorkerPoolSize         = 8
	defaultGenerateSubject        = "podcast.generate"
	defaultGeneratedSubject       = "podcast.generated"
	defaultAudioBucket            = "PODCAST_AUDIO"
	defaultSignedURLTTLSeconds    = 3600
	defaultDynamoAuthorIndex      = "author_id-index"
)

var (
	// ErrListenAddrEmpty indicates that the HTTP listen address is empty.
	ErrListenAddrEmpty = errors.New("server listen_addr cannot be empty")
	// ErrPublicBaseURLEmpty indicates that the public base URL is empty.
	ErrPublicBaseURLEmpty = errors.New("server public_base_url cannot be empty")
	// ErrJWKSURLEmpty indicates that auth is enabled without a JWKS endpoint.
	ErrJWKSURLEmpty = errors.New("auth jwks_url is required when auth is enabled")
	// ErrAPIKeyEmpty indicates that no OpenAI API key was configured.
	ErrAPIKeyEmpty = errors.New("openai api key is required")
	// ErrNATSURLEmpty indicates that the NATS URL is empty.
	ErrNATSURLEmpty = errors.New("nats url cannot be empty")
	// ErrUnknownStorageBackend indicates an unsupported storage backend.
	ErrUnknownStorageBackend = errors.New("unknown storage backend")
	// ErrS3BucketEmpty indicates that the s3 backend has no bucket.
	ErrS3BucketEmpty = errors.New("storage s3_bucket is required for the s3 backend")
	// ErrUnknownRecordsBackend indicates an unsupported records backend.
	ErrUnknownRecordsBackend = errors.New("unknown records backend")
	// ErrDatabaseDSNEmpty indicates that the postgres backend has no DSN.
	ErrDatabaseDSNEmpty = errors.New("records dsn is required for the postgres backend")
	// ErrDynamoTableEmpty indicates that the dynamodb backend has no table.
	ErrDynamoTableEmpty = errors.New("records dynamo_table is required for the dynamodb backend")
)

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	ListenAddr             string   `toml:"listen_addr"`
	PublicBaseURL          string   `toml:"public_base_url"`
	AllowedOrigins         []string `toml:"allowed_origins"`
	ReadTimeoutSeconds     int      `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int      `toml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int      `toml:"shutdown_timeout_seconds"`
	SessionIdleMinutes     int      `toml:"session_idle_minutes"`
	SecureCookies          bool     `toml:"secure_cookies"`
}

// AuthConfig holds the session authentication configuration.
type AuthConfig struct {
	Enabled bool   `toml:"enabled"`
	JWKSURL string `toml:"jwks_url"`
	Issuer  string `toml:"issuer"`
}

// OpenAIConfig holds the speech generation endpoint configuration.
type OpenAIConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// GenerationConfig holds the orchestration configuration.
type GenerationConfig struct {
	TimeoutSeconds      int  `toml:"timeout_seconds"`
	UploadURLTTLSeconds int  `toml:"upload_url_ttl_seconds"`
	WorkerPoolSize      int  `toml:"worker_pool_size"`
	RawPrompt           bool `toml:"raw_prompt"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	GenerateSubject        string `toml:"generate_subject"`
	GeneratedSubject       string `toml:"generated_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// StorageConfig selects and configures the object store backend.
type StorageConfig struct {
	Backend             string `toml:"backend"`
	S3Bucket            string `toml:"s3_bucket"`
	S3Region            string `toml:"s3_region"`
	S3Endpoint          string `toml:"s3_endpoint"`
	SignedURLTTLSeconds int    `toml:"signed_url_ttl_seconds"`
}

// RecordsConfig selects and configures the podcast records backend.
type RecordsConfig struct {
	Backend         string `toml:"backend"`
	DSN             string `toml:"dsn"`
	DynamoTable     string `toml:"dynamo_table"`
	DynamoAuthorIdx string `toml:"dynamo_author_index"`
	DynamoRegion    string `toml:"dynamo_region"`
	AutoMigrate     bool   `toml:"auto_migrate"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Auth       AuthConfig       `toml:"auth"`
	OpenAI     OpenAIConfig     `toml:"openai"`
	Generation GenerationConfig `toml:"generation"`
	NATS       NATSConfig       `toml:"nats"`
	Storage    StorageConfig    `toml:"storage"`
	Records    RecordsConfig    `toml:"records"`
	Paths      PathsConfig      `toml:"paths"`
}

// Load loads the configuration for the podcast-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyEnvironment(os.Getenv)
	cfg.ApplyDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyEnvironment fills secrets from the environment when the project file
// leaves them empty.
func (c *Config) ApplyEnvironment(getenv func(string) string) {
	if c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = getenv(EnvOpenAIAPIKey)
	}

	if c.Records.DSN == "" {
		c.Records.DSN = getenv(EnvDatabaseURL)
	}
}

// ApplyDefaults sets every unset optional value to its default.
func (c *Config) ApplyDefaults() {
	setString(&c.Server.ListenAddr, defaultListenAddr)
	setInt(&c.Server.ReadTimeoutSeconds, defaultReadTimeoutSeconds)
	setInt(&c.Server.WriteTimeoutSeconds, defaultWriteTimeoutSeconds)
	setInt(&c.Server.ShutdownTimeoutSeconds, defaultShutdownTimeoutSeconds)
	setInt(&c.Server.SessionIdleMinutes, defaultSessionIdleMinutes)

	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}

	if c.Server.PublicBaseURL == "" && strings.HasPrefix(c.Server.ListenAddr, ":") {
		c.Server.PublicBaseURL = "http://localhost" + c.Server.ListenAddr
	}

	c.Server.PublicBaseURL = strings.TrimRight(c.Server.PublicBaseURL, "/")

	setString(&c.OpenAI.BaseURL, defaultOpenAIBaseURL)
	setString(&c.OpenAI.Model, defaultOpenAIModel)
	setInt(&c.OpenAI.TimeoutSeconds, defaultOpenAITimeoutSeconds)

	setInt(&c.Generation.TimeoutSeconds, defaultGenerationTimeout)
	setInt(&c.Generation.UploadURLTTLSeconds, defaultUploadURLTTLSeconds)
	setInt(&c.Generation.WorkerPoolSize, defaultWorkerPoolSize)

	setString(&c.NATS.GenerateSubject, defaultGenerateSubject)
	setString(&c.NATS.GeneratedSubject, defaultGeneratedSubject)
	setString(&c.NATS.AudioObjectStoreBucket, defaultAudioBucket)

	setString(&c.Storage.Backend, StorageBackendNATS)
	setInt(&c.Storage.SignedURLTTLSeconds, defaultSignedURLTTLSeconds)

	setString(&c.Records.Backend, RecordsBackendPostgres)
	setString(&c.Records.DynamoAuthorIdx, defaultDynamoAuthorIndex)
}

// Validate ensures that the configuration is complete and consistent.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return ErrListenAddrEmpty
	}

	if c.Server.PublicBaseURL == "" {
		return ErrPublicBaseURLEmpty
	}

	if c.Auth.Enabled && c.Auth.JWKSURL == "" {
		return ErrJWKSURLEmpty
	}

	if c.OpenAI.APIKey == "" {
		return ErrAPIKeyEmpty
	}

	if c.NATS.URL == "" {
		return ErrNATSURLEmpty
	}

	switch c.Storage.Backend {
	case StorageBackendNATS:
	case StorageBackendS3:
		if c.Storage.S3Bucket == "" {
			return ErrS3BucketEmpty
		}
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownStorageBackend, c.Storage.Backend)
	}

	switch c.Records.Backend {
	case RecordsBackendPostgres:
		if c.Records.DSN == "" {
			return ErrDatabaseDSNEmpty
		}
	case RecordsBackendDynamoDB:
		if c.Records.DynamoTable == "" {
			return ErrDynamoTableEmpty
		}
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownRecordsBackend, c.Records.Backend)
	}

	return nil
}

// GenerationTimeout bounds one generation cycle.
func (c *Config) GenerationTimeout() time.Duration {
	return seconds(c.Generation.TimeoutSeconds)
}

// UploadURLTTL is the lifetime of a one-time upload URL.
func (c *Config) UploadURLTTL() time.Duration {
	return seconds(c.Generation.UploadURLTTLSeconds)
}

// SessionIdleTimeout is how long an untouched session keeps its playback state.
func (c *Config) SessionIdleTimeout() time.Duration {
	return time.Duration(c.Server.SessionIdleMinutes) * time.Minute
}

// SignedURLTTL is the lifetime of presigned playback URLs.
func (c *Config) SignedURLTTL() time.Duration {
	return seconds(c.Storage.SignedURLTTLSeconds)
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

func setString(target *string, fallback string) {
	if *target == "" {
		*target = fallback
	}
}

func setInt(target *int, fallback int) {
	if *target <= 0 {
		*target = fallback
	}
}
