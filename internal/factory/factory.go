package factory

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"identity-service/internal/bucketing"
	"identity-service/internal/client"
	"identity-service/internal/config"
	"identity-service/internal/encryption"
	"identity-service/internal/events"
	"identity-service/internal/metrics"
	"identity-service/internal/repository/redis"
	"identity-service/internal/repository/scylla"
	"identity-service/internal/service"
	"identity-service/internal/tls"
	"identity-service/internal/token"
	"identity-service/internal/util"
)

const sealPurpose = "employer-session"

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager
	metrics    *metrics.Metrics

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager
	tokenIssuer       *token.Issuer

	// Repositories
	employerRepository scylla.EmployerRepository
	cacheStore         redis.CacheStore
	pinAttempts        *redis.PinAttemptCache
	publisher          *events.FanOut
	serviceFactory     *service.ServiceFactory

	closeOnce sync.Once
}

// NewFactory loads configuration and connects every dependency. Redis and
// ScyllaDB are required; the event sinks are optional.
func NewFactory() (*Factory, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config:  cfg,
		metrics: metrics.New(),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(cfg.Server)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := factory.initializeClients(ctx); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	if err := factory.initializeManagers(ctx); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}
	factory.initializeRepositories()
	factory.initializePublisher(ctx)

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Bool("seal_payloads", cfg.Session.SealPayloads),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients(ctx context.Context) error {
	var initErrors []error

	// Redis
	if c, err := client.NewRedisClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = c
		if err := c.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		}
	}

	// ScyllaDB
	if c, err := scylla.NewScyllaClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = c
		if err := c.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		}
	}

	if len(initErrors) > 0 {
		return errors.Join(initErrors...)
	}

	// Kafka
	if f.config.Kafka.Enabled {
		if p, err := client.NewKafkaProducer(f.config); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else if err := p.HealthCheck(ctx); err != nil {
			util.Warn("Kafka unreachable - proceeding without Kafka", util.ErrorField(err))
			_ = p.Close()
		} else {
			f.kafkaProducer = p
		}
	}

	// Elasticsearch
	if f.config.Elasticsearch.Enabled {
		if c, err := client.NewElasticsearchClient(f.config); err != nil {
			util.Warn("Elasticsearch initialization failed - proceeding without it", util.ErrorField(err))
		} else if err := c.HealthCheck(ctx); err != nil {
			util.Warn("Elasticsearch unreachable - proceeding without it", util.ErrorField(err))
		} else {
			f.esClient = c
		}
	}

	// ClickHouse
	if f.config.Clickhouse.Enabled {
		if c, err := client.NewClickHouseClient(f.config); err != nil {
			util.Warn("ClickHouse initialization failed - proceeding without it", util.ErrorField(err))
		} else {
			f.clickhouseClient = c
		}
	}

	return nil
}

// initializeManagers initializes encryption, bucketing and token managers
func (f *Factory) initializeManagers(ctx context.Context) error {
	f.bucketingManager = bucketing.NewBucketingManager(f.config.Bucketing.EmployerBuckets)

	jwtCfg := f.config.JWT
	f.tokenIssuer = token.NewIssuer(jwtCfg.Secret, jwtCfg.Issuer, jwtCfg.Audience, jwtCfg.AccessTTL, jwtCfg.RefreshTTL)

	if !f.config.Session.SealPayloads {
		return nil
	}

	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			return fmt.Errorf("failed to load AWS config: %w", err)
		}
		f.encryptionManager = encryption.NewKMSManager(kms.NewFromConfig(awsCfg), f.config.KMS.KeyID, sealPurpose)
		util.Info("Session payloads sealed with AWS KMS", util.String("key_id", f.config.KMS.KeyID))
		return nil
	}

	var masterKey []byte
	if f.config.KMS.LocalMasterKey != "" {
		key, err := base64.StdEncoding.DecodeString(f.config.KMS.LocalMasterKey)
		if err != nil {
			return fmt.Errorf("LOCAL_SEAL_KEY is not valid base64: %w", err)
		}
		masterKey = key
	}
	em, err := encryption.NewLocalManager(masterKey, sealPurpose)
	if err != nil {
		return err
	}
	f.encryptionManager = em
	util.Info("Session payloads sealed with a local key")
	return nil
}

func (f *Factory) initializeRepositories() {
	f.employerRepository = scylla.NewEmployerRepository(f.scyllaClient, f.bucketingManager)

	var store redis.CacheStore = redis.NewRedisStore(f.redisClient, f.config.Session.OperationTimeout)
	if f.encryptionManager != nil {
		store = redis.NewSealedStore(store, f.encryptionManager)
	}
	f.cacheStore = store

	sc := f.config.Session
	f.pinAttempts = redis.NewPinAttemptCache(f.redisClient, sc.PinMaxAttempts, sc.PinAttemptTTL, sc.PinLockout)
}

func (f *Factory) initializePublisher(ctx context.Context) {
	var sinks []events.Sink

	if f.kafkaProducer != nil {
		sinks = append(sinks, events.NewKafkaSink(f.kafkaProducer))
	}
	if f.esClient != nil {
		sinks = append(sinks, events.NewElasticsearchSink(f.esClient, f.config.Elasticsearch.SessionEventsIndex))
	}
	if f.clickhouseClient != nil {
		chSink := events.NewClickHouseSink(f.clickhouseClient)
		if err := chSink.EnsureTable(ctx); err != nil {
			util.Warn("ClickHouse events table unavailable - skipping sink", util.ErrorField(err))
		} else {
			sinks = append(sinks, chSink)
		}
	}

	f.publisher = events.NewFanOut(util.Get(), f.metrics, 2*time.Second, sinks...)
	util.Info("Session event publisher ready", util.Int("sinks", len(sinks)))
}

// ==============================
// Service Factory
// ==============================

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.cacheStore,
			f.employerRepository,
			f.tokenIssuer,
			f.pinAttempts,
			f.publisher,
			f.metrics,
			util.Get(),
			f.config.Session.TTL,
		)
	}
	return f.serviceFactory
}

// ==============================
// Health Checks
// ==============================

// HealthCheck reports every connected dependency. Optional sinks that were
// never connected are left out.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	health := map[string]error{
		"redis":  f.redisClient.HealthCheck(ctx),
		"scylla": f.employerRepository.HealthCheck(ctx),
	}
	if f.kafkaProducer != nil {
		health["kafka"] = f.kafkaProducer.HealthCheck(ctx)
	}
	if f.esClient != nil {
		health["elasticsearch"] = f.esClient.HealthCheck(ctx)
	}
	if f.clickhouseClient != nil {
		health["clickhouse"] = f.clickhouseClient.HealthCheck(ctx)
	}
	return health
}

func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		// flush queued session events before the sink clients go away
		if f.publisher != nil {
			f.publisher.Close()
		}

		if f.clickhouseClient != nil {
			_ = f.clickhouseClient.Close()
		}
		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}
		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})
}

// ==============================
// Getters
// ==============================

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) Metrics() *metrics.Metrics {
	return f.metrics
}

func (f *Factory) EmployerRepository() scylla.EmployerRepository {
	return f.employerRepository
}
