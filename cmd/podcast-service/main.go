// main package for the podcast-service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/auth"
	"github.com/book-expert/podcast-service/internal/config"
	"github.com/book-expert/podcast-service/internal/core"
	"github.com/book-expert/podcast-service/internal/notify"
	"github.com/book-expert/podcast-service/internal/objectstore"
	"github.com/book-expert/podcast-service/internal/player"
	"github.com/book-expert/podcast-service/internal/podcast"
	"github.com/book-expert/podcast-service/internal/records"
	"github.com/book-expert/podcast-service/internal/storage"
	"github.com/book-expert/podcast-service/internal/tts"
	"github.com/book-expert/podcast-service/internal/tts/text"
	"github.com/book-expert/podcast-service/internal/web"
	"github.com/book-expert/podcast-service/internal/worker"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"
)

const (
	bootstrapLogFile = "podcast-service-bootstrap.log"
	serviceLogFile   = "podcast-service.log"
	s3KeyPrefix      = "podcasts"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	// 2. Secrets may come from a local .env file during development
	envErr := godotenv.Load()
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		bootstrapLog.Warn("Failed to load .env file: %v", envErr)
	}

	// 3. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 4. Initialize the final logger based on the loaded configuration
	log, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, log)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	store, err := newObjectStore(cfg, natsConnection)
	if err != nil {
		return err
	}

	storageService := storage.NewService(store, storage.ServiceConfig{
		PublicBaseURL: cfg.Server.PublicBaseURL,
		UploadURLTTL:  cfg.UploadURLTTL(),
		SignedURLTTL:  cfg.SignedURLTTL(),
	}, log)

	speech := tts.NewHTTPClient(tts.ClientConfig{
		BaseURL: cfg.OpenAI.BaseURL,
		APIKey:  cfg.OpenAI.APIKey,
		Model:   cfg.OpenAI.Model,
		Timeout: seconds(cfg.OpenAI.TimeoutSeconds),
	})

	var preprocessor *text.Preprocessor
	if !cfg.Generation.RawPrompt {
		preprocessor = text.NewPreprocessor(tts.MaxInputLength)
	}

	pipeline := podcast.NewPipeline(podcast.PipelineConfig{
		Generator:       speech,
		Uploader:        storageService,
		Resolver:        storageService,
		Preprocessor:    preprocessor,
		MaxPromptLength: tts.MaxInputLength,
		NewFileName:     nil,
	}, log)

	repo, err := newRecordsRepository(cfg)
	if err != nil {
		return err
	}

	authenticator, err := newAuthenticator(cfg, log)
	if err != nil {
		return err
	}

	if jwtAuthenticator, ok := authenticator.(*auth.JWTAuthenticator); ok {
		defer jwtAuthenticator.Close()
	}

	hub := notify.NewHub(web.OriginChecker(cfg.Server.AllowedOrigins), log)
	sessions := web.NewSessions(pipeline, web.SessionsConfig{
		Notifier:    hub,
		Timeout:     cfg.GenerationTimeout(),
		IdleTimeout: cfg.SessionIdleTimeout(),
		Now:         nil,
	}, log)

	server, err := web.NewServer(web.Config{
		ListenAddr:      cfg.Server.ListenAddr,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		ReadTimeout:     seconds(cfg.Server.ReadTimeoutSeconds),
		WriteTimeout:    seconds(cfg.Server.WriteTimeoutSeconds),
		ShutdownTimeout: seconds(cfg.Server.ShutdownTimeoutSeconds),
	}, web.Dependencies{
		Sessions:      sessions,
		Storage:       storageService,
		Records:       records.NewService(repo, storageService, storageService, log),
		Players:       player.NewRegistry(),
		Hub:           hub,
		Authenticator: authenticator,
		Generator:     speech,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	pool, err := ants.NewPool(cfg.Generation.WorkerPoolSize, ants.WithPanicHandler(func(p any) {
		log.Error("Panic in generation worker: %v", p)
	}))
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	natsWorker, err := worker.NewNatsWorker(natsConnection, worker.Config{
		Subject:          cfg.NATS.GenerateSubject,
		GeneratedSubject: cfg.NATS.GeneratedSubject,
		Timeout:          cfg.GenerationTimeout(),
	}, pipeline, pool, log)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerErr := make(chan error, 1)

	go func() {
		workerErr <- natsWorker.Run(ctx)
	}()

	log.System("Podcast service started. HTTP on %s, NATS requests on %s",
		cfg.Server.ListenAddr, cfg.NATS.GenerateSubject)

	serverErr := server.Run(ctx)
	cancel()

	err = errors.Join(serverErr, <-workerErr)
	if err != nil {
		return err
	}

	log.System("Podcast service stopped.")

	return nil
}

func newObjectStore(cfg *config.Config, natsConnection *nats.Conn) (core.ObjectStore, error) {
	if cfg.Storage.Backend == config.StorageBackendS3 {
		sess, err := session.NewSession(&aws.Config{
			Region:           aws.String(cfg.Storage.S3Region),
			Endpoint:         optionalString(cfg.Storage.S3Endpoint),
			S3ForcePathStyle: aws.Bool(cfg.Storage.S3Endpoint != ""),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create aws session: %w", err)
		}

		return objectstore.NewS3Store(s3.New(sess), cfg.Storage.S3Bucket, s3KeyPrefix), nil
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	store, err := objectstore.NewNatsObjectStore(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio object store: %w", err)
	}

	return store, nil
}

func newRecordsRepository(cfg *config.Config) (records.Repository, error) {
	if cfg.Records.Backend == config.RecordsBackendDynamoDB {
		sess, err := session.NewSession(&aws.Config{
			Region: aws.String(cfg.Records.DynamoRegion),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create aws session: %w", err)
		}

		return records.NewDynamoRepository(dynamodb.New(sess), cfg.Records.DynamoTable, cfg.Records.DynamoAuthorIdx), nil
	}

	db, err := records.OpenPostgres(cfg.Records.DSN)
	if err != nil {
		return nil, err
	}

	repo := records.NewGormRepository(db)

	if cfg.Records.AutoMigrate {
		err = repo.AutoMigrate()
		if err != nil {
			return nil, err
		}
	}

	return repo, nil
}

func newAuthenticator(cfg *config.Config, log *logger.Logger) (auth.Authenticator, error) {
	if !cfg.Auth.Enabled {
		return auth.NewCookieAuthenticator(cfg.Server.SecureCookies), nil
	}

	authenticator, err := auth.NewJWTAuthenticator(cfg.Auth.JWKSURL, cfg.Auth.Issuer, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create jwt authenticator: %w", err)
	}

	return authenticator, nil
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}

	return aws.String(value)
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
