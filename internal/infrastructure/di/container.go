// Package di wires the relayer together: repositories over one shared
// database handle, chain monitors per enabled source chain, destination
// dispatchers per enabled ledger, and the aggregator and submitter that sit
// between them. Construction is fail-fast; a misconfigured chain or an
// unreachable destination endpoint aborts startup instead of surfacing later
// as a half-wired pipeline.
package di

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/adapters/bitcoin"
	"github.com/etrid/flarebridge/internal/adapters/chain"
	"github.com/etrid/flarebridge/internal/adapters/destination"
	destevm "github.com/etrid/flarebridge/internal/adapters/destination/evm"
	"github.com/etrid/flarebridge/internal/adapters/destination/substrate"
	"github.com/etrid/flarebridge/internal/adapters/evm"
	"github.com/etrid/flarebridge/internal/adapters/solana"
	"github.com/etrid/flarebridge/internal/adapters/tron"
	"github.com/etrid/flarebridge/internal/adapters/xrp"
	"github.com/etrid/flarebridge/internal/domain/entities"
	"github.com/etrid/flarebridge/internal/domain/services/attestation"
	"github.com/etrid/flarebridge/internal/domain/services/audit"
	"github.com/etrid/flarebridge/internal/domain/services/events"
	"github.com/etrid/flarebridge/internal/domain/services/monitor"
	"github.com/etrid/flarebridge/internal/domain/services/relay"
	"github.com/etrid/flarebridge/internal/infrastructure/adapters"
	"github.com/etrid/flarebridge/internal/infrastructure/alerting"
	"github.com/etrid/flarebridge/internal/infrastructure/cache"
	"github.com/etrid/flarebridge/internal/infrastructure/config"
	"github.com/etrid/flarebridge/internal/infrastructure/repositories"
	"github.com/etrid/flarebridge/internal/workers/attestation_expiry"
	"github.com/etrid/flarebridge/internal/workers/deposit_pruner"
	"github.com/etrid/flarebridge/internal/workers/relay_sweeper"
	"github.com/etrid/flarebridge/pkg/health"
	"github.com/etrid/flarebridge/pkg/logger"
	"github.com/etrid/flarebridge/pkg/ratelimit"
	"github.com/etrid/flarebridge/pkg/secrets"
)

// Container holds all application dependencies
type Container struct {
	Config  *config.Config
	DB      *sql.DB
	Logger  *logger.Logger
	ZapLog  *zap.Logger
	Version string

	// Repositories
	DepositRepo     *repositories.DepositRepository
	AttestationRepo *repositories.AttestationRepository
	RelayRepo       *repositories.RelayRepository
	NonceRepo       *repositories.NonceRepository
	AuditRepo       *repositories.AuditRepository

	// Infrastructure
	Redis          cache.RedisClient
	Secrets        *secrets.Manager
	Events         *events.Publisher
	Notifier       *alerting.Notifier
	SubjectLimiter *ratelimit.Limiter

	// Domain services
	AttestationService *attestation.Service
	AuditService       *audit.Service
	Monitors           *monitor.Registry
	Submitter          *relay.Service

	// Background workers
	ExpiryWorker  *attestation_expiry.Worker
	SweeperWorker *relay_sweeper.Worker
	PrunerWorker  *deposit_pruner.Worker

	// Probes
	LivenessChecker  *health.HealthChecker
	ReadinessChecker *health.HealthChecker
}

// NewContainer builds the full dependency graph over an open database handle
func NewContainer(cfg *config.Config, db *sql.DB, log *logger.Logger) (*Container, error) {
	zapLog := log.Zap()

	startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Wrap sql.DB with sqlx for the repositories
	sqlxDB := sqlx.NewDb(db, "postgres")

	// Resolve externally managed secrets before anything that consumes them
	secretsManager, err := buildSecretsManager(startupCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("secrets provider: %w", err)
	}
	if err := resolveSecrets(startupCtx, cfg, secretsManager, zapLog); err != nil {
		return nil, err
	}

	// Repositories
	depositRepo := repositories.NewDepositRepository(sqlxDB)
	attestationRepo := repositories.NewAttestationRepository(sqlxDB)
	relayRepo := repositories.NewRelayRepository(sqlxDB)
	nonceRepo := repositories.NewNonceRepository(sqlxDB)
	auditRepo := repositories.NewAuditRepository(sqlxDB)

	// Redis backs the relay lease store and the per-subject rate limiter
	redisClient, err := cache.NewRedisClient(&cfg.Redis, zapLog)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	subjectLimiter := ratelimit.NewLimiter(redisClient.Client(), ratelimit.Config{
		SubjectLimit:  int64(cfg.Server.RateLimitPerMin),
		SubjectWindow: time.Minute,
	}, zapLog)

	// Kafka event stream; disabled it degenerates to a no-op
	publisher := events.NewPublisher(events.Config{
		Enabled: cfg.Events.Enabled,
		Brokers: cfg.Events.Brokers,
		Topic:   cfg.Events.Topic,
	}, zapLog)

	// Alert channels. The interface variables stay nil when a channel is
	// disabled; assigning a nil concrete pointer would make the interface
	// non-nil and panic inside the notifier.
	var emailSender alerting.EmailSender
	if cfg.Alerting.Email.Enabled {
		emailService, err := adapters.NewEmailService(zapLog, adapters.EmailServiceConfig{
			APIKey:    cfg.Alerting.Email.APIKey,
			FromEmail: cfg.Alerting.Email.FromEmail,
			FromName:  cfg.Alerting.Email.FromName,
			To:        cfg.Alerting.Email.To,
		})
		if err != nil {
			return nil, fmt.Errorf("alert email: %w", err)
		}
		emailSender = emailService
	}

	var topicPublisher alerting.TopicPublisher
	if cfg.Alerting.SNS.Enabled {
		snsService, err := adapters.NewSNSAlertService(startupCtx, adapters.SNSConfig{
			Region:   cfg.Alerting.SNS.Region,
			TopicARN: cfg.Alerting.SNS.TopicARN,
		}, zapLog)
		if err != nil {
			return nil, fmt.Errorf("alert sns: %w", err)
		}
		topicPublisher = snsService
	}

	notifier := alerting.NewNotifier(emailSender, topicPublisher, zapLog)

	// Attestation aggregator with its initial signer set
	attesters := make([]attestation.Attester, 0, len(cfg.Attestation.Attesters))
	for _, a := range cfg.Attestation.Attesters {
		attesters = append(attesters, attestation.Attester{ID: a.ID, PublicKey: a.PublicKey})
	}
	attestationService, err := attestation.NewService(
		attestationRepo,
		relayRepo,
		attesters,
		cfg.Attestation.Threshold,
		cfg.Attestation.ExpiryTTL,
		zapLog,
	)
	if err != nil {
		return nil, fmt.Errorf("attestation service: %w", err)
	}

	auditService := audit.NewService(auditRepo, zapLog)

	// One monitor per enabled source chain
	registry := monitor.NewRegistry(zapLog)
	var enabledChains []string
	for name, chainCfg := range cfg.Chains {
		if !chainCfg.Enabled {
			continue
		}

		chainAdapter, err := buildChainAdapter(name, chainCfg, zapLog)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", name, err)
		}

		monitorCfg, err := buildMonitorConfig(name, chainCfg)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", name, err)
		}

		m, err := monitor.New(
			monitorCfg,
			chainAdapter,
			depositRepo,
			nonceRepo,
			attestationService,
			publisher,
			registry.FatalChannel(),
			zapLog,
		)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", name, err)
		}
		if err := registry.Add(m); err != nil {
			return nil, fmt.Errorf("chain %s: %w", name, err)
		}
		enabledChains = append(enabledChains, name)
	}

	// Destination dispatchers
	dispatchers, err := buildDispatchers(cfg, zapLog)
	if err != nil {
		return nil, err
	}

	// Relay submitter over the dispatcher set
	submitter, err := relay.NewService(
		relay.Config{
			PollInterval: cfg.Relay.PollInterval,
			BatchSize:    cfg.Relay.BatchSize,
			MaxAttempts:  cfg.Relay.MaxAttempts,
			LeaseTTL:     cfg.Relay.LeaseTTL,
		},
		relayRepo,
		attestationService,
		dispatchers,
		redisClient,
		publisher,
		notifier,
		zapLog,
	)
	if err != nil {
		return nil, fmt.Errorf("relay submitter: %w", err)
	}

	// Background workers
	expiryWorker := attestation_expiry.NewWorker(attestationService, &attestation_expiry.Config{
		CheckInterval: cfg.Workers.ExpiryInterval,
		BatchSize:     cfg.Workers.ExpiryBatchSize,
	}, log)
	sweeperWorker := relay_sweeper.NewWorker(submitter, attestationService, relayRepo, &relay_sweeper.Config{
		CheckInterval: cfg.Workers.SweeperInterval,
		StaleAfter:    cfg.Workers.StaleAfter,
	}, log)
	prunerWorker := deposit_pruner.NewWorker(depositRepo, &deposit_pruner.Config{
		Schedule:      cfg.Workers.PrunerSchedule,
		RetentionDays: cfg.Workers.RetentionDays,
	}, log)

	// Probes. Liveness only proves the process responds; readiness gates on
	// the stores and degrades, without failing, when a single chain is down.
	liveness := health.NewHealthChecker(2 * time.Second)
	liveness.Register("process", func(ctx context.Context) health.Check {
		return health.Healthy("ok")
	})

	readiness := health.NewHealthChecker(5 * time.Second)
	readiness.Register("database", func(ctx context.Context) health.Check {
		if err := db.PingContext(ctx); err != nil {
			return health.Unhealthy(err.Error())
		}
		return health.Healthy("connected")
	})
	readiness.Register("redis", func(ctx context.Context) health.Check {
		if err := redisClient.Ping(ctx); err != nil {
			return health.Unhealthy(err.Error())
		}
		return health.Healthy("connected")
	})
	for _, name := range enabledChains {
		readiness.RegisterNonCritical("monitor:"+name, monitorCheck(registry, name))
	}

	return &Container{
		Config:  cfg,
		DB:      db,
		Logger:  log,
		ZapLog:  zapLog,
		Version: "dev",

		DepositRepo:     depositRepo,
		AttestationRepo: attestationRepo,
		RelayRepo:       relayRepo,
		NonceRepo:       nonceRepo,
		AuditRepo:       auditRepo,

		Redis:          redisClient,
		Secrets:        secretsManager,
		Events:         publisher,
		Notifier:       notifier,
		SubjectLimiter: subjectLimiter,

		AttestationService: attestationService,
		AuditService:       auditService,
		Monitors:           registry,
		Submitter:          submitter,

		ExpiryWorker:  expiryWorker,
		SweeperWorker: sweeperWorker,
		PrunerWorker:  prunerWorker,

		LivenessChecker:  liveness,
		ReadinessChecker: readiness,
	}, nil
}

// Close releases the connections the container owns. The database handle is
// closed by the caller that opened it.
func (c *Container) Close() {
	if c.Events != nil {
		if err := c.Events.Close(); err != nil {
			c.Logger.Warn("event publisher close failed", "error", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("redis close failed", "error", err)
		}
	}
}

// buildSecretsManager selects the secrets backend named in the config
func buildSecretsManager(ctx context.Context, cfg *config.Config) (*secrets.Manager, error) {
	switch cfg.Security.SecretsProvider {
	case "", "env":
		return secrets.NewManager(secrets.NewEnvProvider()), nil
	case "aws_secrets_manager":
		provider, err := secrets.NewAWSProvider(
			ctx,
			cfg.Security.AWSSecretsRegion,
			cfg.Security.AWSSecretsPrefix,
			5*time.Minute,
		)
		if err != nil {
			return nil, err
		}
		return secrets.NewManager(provider), nil
	default:
		return nil, fmt.Errorf("unknown secrets provider %q", cfg.Security.SecretsProvider)
	}
}

// resolveSecrets overlays externally managed secrets onto the config. Only
// the AWS provider is consulted here; with the env provider viper has
// already read the same variables during config load.
func resolveSecrets(ctx context.Context, cfg *config.Config, manager *secrets.Manager, zapLog *zap.Logger) error {
	if cfg.Security.SecretsProvider != "aws_secrets_manager" {
		return nil
	}

	if v, err := manager.GetJWTSecret(ctx); err == nil && v != "" {
		cfg.JWT.Secret = v
	} else if err != nil {
		zapLog.Warn("jwt secret lookup failed", zap.Error(err))
	}

	if v, err := manager.GetAdminTOTPSecret(ctx); err == nil && v != "" {
		cfg.Security.AdminTOTPSecret = v
	}

	flareSeed, err := manager.GetFlareChainSignerSeed(ctx)
	if err != nil {
		zapLog.Warn("flarechain signer seed lookup failed", zap.Error(err))
	}
	evmKey, err := manager.GetEVMSignerKey(ctx)
	if err != nil {
		zapLog.Warn("evm signer key lookup failed", zap.Error(err))
	}

	for name, dest := range cfg.Destinations {
		if !dest.Enabled {
			continue
		}
		switch dest.Kind {
		case "substrate":
			if dest.SignerSeed == "" && flareSeed != "" {
				dest.SignerSeed = flareSeed
				cfg.Destinations[name] = dest
			}
		case "evm":
			if dest.SignerKey == "" && evmKey != "" {
				dest.SignerKey = evmKey
				cfg.Destinations[name] = dest
			}
		}
	}

	if cfg.JWT.Secret == "" {
		return fmt.Errorf("jwt secret unresolved after secrets provider lookup")
	}
	return nil
}

// buildChainAdapter selects the adapter implementation for a chain family
func buildChainAdapter(name string, cfg config.ChainConfig, zapLog *zap.Logger) (chain.Adapter, error) {
	format := entities.RecipientFormat(cfg.RecipientFormat)

	switch entities.ChainFamily(cfg.Family) {
	case entities.ChainFamilyUTXO:
		host, disableTLS := bitcoinHost(cfg.RPCURL)
		return bitcoin.NewAdapter(bitcoin.Config{
			ChainName:     name,
			Host:          host,
			User:          cfg.RPCUser,
			Pass:          cfg.RPCPassword,
			DisableTLS:    disableTLS,
			BridgeAddress: cfg.BridgeAddress,
			PollInterval:  cfg.PollInterval,
			MaxBlockBatch: cfg.MaxBlockBatch,
		}, format, zapLog)

	case entities.ChainFamilyEVM:
		return evm.NewAdapter(evm.Config{
			ChainName:     name,
			RPCURL:        cfg.RPCURL,
			BridgeAddress: cfg.BridgeAddress,
			TokenAddress:  cfg.TokenAddress,
			PollInterval:  cfg.PollInterval,
			MaxBlockBatch: cfg.MaxBlockBatch,
		}, format, zapLog)

	case entities.ChainFamilyTron:
		return tron.NewAdapter(tron.Config{
			ChainName:     name,
			BaseURL:       cfg.RPCURL,
			APIKey:        cfg.APIKey,
			BridgeAddress: cfg.BridgeAddress,
			PollInterval:  cfg.PollInterval,
			MaxBlockBatch: cfg.MaxBlockBatch,
		}, format, zapLog)

	case entities.ChainFamilyXRP:
		return xrp.NewAdapter(xrp.Config{
			ChainName:     name,
			WSURL:         cfg.WSURL,
			BridgeAddress: cfg.BridgeAddress,
		}, format, zapLog)

	case entities.ChainFamilySolana:
		return solana.NewAdapter(solana.Config{
			ChainName:     name,
			RPCURL:        cfg.RPCURL,
			BridgeAddress: cfg.BridgeAddress,
			MemoPrefix:    cfg.MemoPrefix,
			PollInterval:  cfg.PollInterval,
			BatchLimit:    int(cfg.MaxBlockBatch),
		}, format, zapLog)

	default:
		return nil, fmt.Errorf("unknown chain family %q", cfg.Family)
	}
}

// bitcoinHost strips the URL scheme; the btcd rpcclient wants a bare
// host:port plus a separate TLS flag.
func bitcoinHost(rpcURL string) (host string, disableTLS bool) {
	switch {
	case strings.HasPrefix(rpcURL, "https://"):
		return strings.TrimPrefix(rpcURL, "https://"), false
	case strings.HasPrefix(rpcURL, "http://"):
		return strings.TrimPrefix(rpcURL, "http://"), true
	default:
		return rpcURL, true
	}
}

func buildMonitorConfig(name string, cfg config.ChainConfig) (monitor.Config, error) {
	mc := monitor.Config{
		Chain:                 name,
		Domain:                cfg.Domain,
		DestinationDomain:     cfg.DestinationDomain,
		RequiredConfirmations: cfg.Confirmations,
		Decimals:              cfg.Decimals,
	}

	if cfg.MinDeposit != "" {
		min, err := decimal.NewFromString(cfg.MinDeposit)
		if err != nil {
			return monitor.Config{}, fmt.Errorf("invalid min deposit %q: %w", cfg.MinDeposit, err)
		}
		mc.MinDeposit = &min
	}
	if cfg.MaxDeposit != "" {
		max, err := decimal.NewFromString(cfg.MaxDeposit)
		if err != nil {
			return monitor.Config{}, fmt.Errorf("invalid max deposit %q: %w", cfg.MaxDeposit, err)
		}
		mc.MaxDeposit = &max
	}

	return mc, nil
}

// buildDispatchers constructs one destination dispatcher per enabled ledger.
// Dispatchers dial their endpoints here, so a dead destination fails startup.
func buildDispatchers(cfg *config.Config, zapLog *zap.Logger) ([]destination.Dispatcher, error) {
	var dispatchers []destination.Dispatcher

	for name, dest := range cfg.Destinations {
		if !dest.Enabled {
			continue
		}

		switch dest.Kind {
		case "substrate":
			d, err := substrate.NewDispatcher(substrate.Config{
				Domain:          dest.Domain,
				WSURL:           dest.WSURL,
				SignerSeed:      dest.SignerSeed,
				SS58Prefix:      dest.SS58Prefix,
				Pallet:          dest.Pallet,
				Call:            dest.CallName,
				FinalityTimeout: dest.FinalityTimeout,
			}, zapLog)
			if err != nil {
				return nil, fmt.Errorf("destination %s: %w", name, err)
			}
			dispatchers = append(dispatchers, d)

		case "evm":
			d, err := destevm.NewDispatcher(destevm.Config{
				Domain:            dest.Domain,
				RPCURL:            dest.RPCURL,
				ContractAddress:   dest.ReceiverAddress,
				PrivateKey:        dest.SignerKey,
				GasLimit:          dest.GasLimit,
				ConfirmationDepth: dest.ConfirmationDepth,
				FinalityTimeout:   dest.FinalityTimeout,
			}, zapLog)
			if err != nil {
				return nil, fmt.Errorf("destination %s: %w", name, err)
			}
			dispatchers = append(dispatchers, d)

		default:
			return nil, fmt.Errorf("destination %s: unknown kind %q", name, dest.Kind)
		}
	}

	return dispatchers, nil
}

func monitorCheck(registry *monitor.Registry, chainName string) health.CheckFunc {
	return func(ctx context.Context) health.Check {
		m, err := registry.Get(chainName)
		if err != nil {
			return health.Unhealthy("not registered")
		}
		status := m.GetStatus()
		switch {
		case status.Paused:
			return health.Degraded("paused")
		case !status.Running:
			return health.Unhealthy("stopped")
		case !status.Connected:
			return health.Degraded("disconnected")
		}
		return health.Healthy("streaming").WithMetadata("last_height", status.LastHeight)
	}
}
