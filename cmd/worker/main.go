package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/ehr/internal/audit"
	"github.com/ehr/ehr/internal/batch/ack"
	"github.com/ehr/ehr/internal/batch/filename"
	"github.com/ehr/ehr/internal/batch/forwarder"
	"github.com/ehr/ehr/internal/batch/orchestrator"
	"github.com/ehr/ehr/internal/config"
	"github.com/ehr/ehr/internal/delta"
	"github.com/ehr/ehr/internal/domain/immunization"
	"github.com/ehr/ehr/internal/platform/db"
	"github.com/ehr/ehr/internal/platform/objectstore"
	"github.com/ehr/ehr/internal/platform/refcache"
	"github.com/ehr/ehr/internal/platform/retry"
	"github.com/ehr/ehr/internal/platform/shardstream"
)

func main() {
	rootCmd := &cobra.Command{Use: "ehr-worker", Short: "Batch immunisation pipeline worker (C1, C3, C5-C10)"}
	rootCmd.AddCommand(runCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{Use: "run", Short: "Poll the file queue and drive the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error { return runWorker() }}
}

// fileArrival is the shape of the file-queue message describing a newly
// landed source object (an S3 event notification, trimmed to what C3 needs).
type fileArrival struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

func runWorker() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load AWS config")
	}
	s3Client := s3.NewFromConfig(awsCfg)
	sqsClient := sqs.NewFromConfig(awsCfg)

	objects := objectstore.NewS3Store(s3Client)
	stream := shardstream.NewSQSStream(sqsClient, cfg.ShardQueueURLFmt)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer redisClient.Close()
	cache := refcache.NewRedisCache(redisClient)

	auditStore := audit.NewStorePG(pool)
	deltaStore := delta.NewStorePG(pool)

	retryPolicy := retry.Policy{MaxAttempts: cfg.RetryMaxAttempts, InitialWait: cfg.RetryInitialWait, MaxWait: cfg.RetryMaxWait}
	projector := delta.NewProjector(deltaStore, retryPolicy)

	immStore := immunization.NewStorePG(pool)
	immSvc := immunization.NewService(immStore, cache)

	fwd := forwarder.New(cache, stream, forwarder.Config{WorkerCount: 8, Retry: retryPolicy})

	// orch is constructed below; the assembler's completion callback needs to
	// call back into it to release the next queued file for the partition, so
	// it closes over this variable rather than taking a direct reference.
	var orch *orchestrator.Orchestrator
	assembler := ack.NewAssembler(objects, auditStore, cfg.AckBucketName, func(ctx context.Context, queueName string) {
		if err := orch.Dispatch(ctx, queueName); err != nil {
			logger.Error().Err(err).Str("queue", queueName).Msg("dispatch after completion failed")
		}
	})

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.WatchdogTimeout = cfg.WatchdogTimeout
	orch = orchestrator.New(objects, auditStore, cache, fwd, stream, immSvc, projector, assembler, cfg.SourceBucketName, orchCfg)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info().Msg("shutting down")
		cancel()
	}()

	arrivals := arrivalPoller{sqs: sqsClient, queueURL: cfg.FileQueueURL, cache: cache, audit: auditStore, orch: orch, auditTTL: time.Duration(cfg.AuditTTLDays) * 24 * time.Hour, logger: logger}
	watchdog := watchdogLoop{audit: auditStore, orch: orch, logger: logger}

	logger.Info().Msg("worker started")

	done := make(chan struct{}, 2)
	go func() { arrivals.run(ctx); done <- struct{}{} }()
	go func() { watchdog.run(ctx); done <- struct{}{} }()
	<-done
	<-done
	return nil
}

// arrivalPoller implements C1/C3's entry point: it long-polls the file
// queue for newly landed objects, validates and authorises each one
// (spec.md §4.1), and either records it Queued for C10 to pick up or writes
// a terminal NotProcessed row itself (§7) — a file that never parses never
// gets an audit row any other component could act on.
type arrivalPoller struct {
	sqs      shardstream.SQSAPI
	queueURL string
	cache    refcache.Cache
	audit    audit.Store
	orch     *orchestrator.Orchestrator
	auditTTL time.Duration
	logger   zerolog.Logger
}

func (p *arrivalPoller) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		out, err := p.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(p.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error().Err(err).Msg("receive file arrival")
			continue
		}
		for _, msg := range out.Messages {
			var arrival fileArrival
			if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &arrival); err != nil {
				p.logger.Error().Err(err).Msg("malformed file arrival message")
				continue
			}
			if err := p.handle(ctx, arrival.Key); err != nil {
				p.logger.Error().Err(err).Str("key", arrival.Key).Msg("handle file arrival")
				continue
			}
			_, _ = p.sqs.DeleteMessage(ctx, &sqs.DeleteMessageInput{QueueUrl: aws.String(p.queueURL), ReceiptHandle: msg.ReceiptHandle})
		}
	}
}

// handle runs C3 against key and records the outcome as an audit entry.
// PermittedOperations isn't known until the row processor has read the
// file's ACTION_FLAG column, so this pass authorises against nil (only the
// filename shape and the ODS-code-to-supplier lookup are checked; no
// permission check runs); C10's processFile reruns
// ParseAndAuthorise with the file's actual required operations once it
// picks the entry up.
func (p *arrivalPoller) handle(ctx context.Context, key string) error {
	messageID := uuid.NewString()
	now := time.Now().UTC()

	if key == "" {
		reason := audit.ReasonEmpty
		return p.audit.Create(ctx, &audit.Entry{
			MessageID: messageID, Filename: key, Status: audit.StatusNotProcessed,
			Timestamp: now, ExpiresAt: now.Add(p.auditTTL), ErrorDetails: &reason,
		})
	}

	meta, err := filename.ParseAndAuthorise(ctx, p.cache, key, nil)
	if err != nil {
		reason := audit.ReasonUnauthorised
		if createErr := p.audit.Create(ctx, &audit.Entry{
			MessageID: messageID, Filename: key, Status: audit.StatusNotProcessed,
			Timestamp: now, ExpiresAt: now.Add(p.auditTTL), ErrorDetails: &reason,
		}); createErr != nil {
			return createErr
		}
		p.logger.Warn().Err(err).Str("key", key).Msg("file rejected by C3")
		return nil
	}

	queueName := filename.PartitionKey(meta.Supplier, meta.VaccineType)
	if err := p.audit.Create(ctx, &audit.Entry{
		MessageID: messageID, Filename: key, QueueName: queueName,
		Status: audit.StatusQueued, Timestamp: now, ExpiresAt: now.Add(p.auditTTL),
	}); err != nil {
		return err
	}
	return p.orch.Dispatch(ctx, queueName)
}

// watchdogLoop periodically sweeps every partition with a file currently
// Processing, failing any that has exceeded the configured timeout and
// releasing the next queued file for that partition (spec.md §4.7).
type watchdogLoop struct {
	audit  audit.Store
	orch   *orchestrator.Orchestrator
	logger zerolog.Logger
}

func (w *watchdogLoop) run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *watchdogLoop) sweep(ctx context.Context) {
	partitions, err := w.audit.ActivePartitions(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("list active partitions")
		return
	}
	for _, queueName := range partitions {
		if err := w.orch.Watchdog(ctx, queueName); err != nil {
			w.logger.Error().Err(err).Str("queue", queueName).Msg("watchdog sweep")
		}
	}
}
