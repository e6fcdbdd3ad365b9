// Package app assembles the board's stores, services and HTTP surface from
// configuration. Both the server and boardctl build on it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"examboard/internal/allocation"
	"examboard/internal/cohort"
	credentialhandler "examboard/internal/credential/handler"
	credentialservice "examboard/internal/credential/service"
	credentialstore "examboard/internal/credential/store"
	"examboard/internal/directory"
	invoicehandler "examboard/internal/invoice/handler"
	invoicemetrics "examboard/internal/invoice/metrics"
	invoiceservice "examboard/internal/invoice/service"
	invoicestore "examboard/internal/invoice/store"
	jwttoken "examboard/internal/jwt_token"
	"examboard/internal/notification"
	"examboard/internal/platform/config"
	"examboard/internal/platform/kafka"
	platformmetrics "examboard/internal/platform/metrics"
	"examboard/internal/platform/postgres"
	platformredis "examboard/internal/platform/redis"
	"examboard/internal/ratelimit"
	ratelimitmw "examboard/internal/ratelimit/middleware"
	"examboard/internal/registry"
	registrystore "examboard/internal/registry/store"
	"examboard/internal/rendering"
	"examboard/internal/results"
	studenthandler "examboard/internal/student/handler"
	studentservice "examboard/internal/student/service"
	studentstore "examboard/internal/student/store"
	httptransport "examboard/internal/transport/http"
	"examboard/internal/verification"
	verificationhandler "examboard/internal/verification/handler"
	"examboard/pkg/platform/audit"
	"examboard/pkg/platform/audit/publishers/compliance"
	"examboard/pkg/platform/audit/publishers/ops"
	"examboard/pkg/platform/audit/publishers/security"
	auditmemory "examboard/pkg/platform/audit/store/memory"
	auditpostgres "examboard/pkg/platform/audit/store/postgres"
	"examboard/pkg/platform/audit/worker"
	"examboard/pkg/platform/circuit"
	"examboard/pkg/platform/middleware/metadata"
	txcontext "examboard/pkg/platform/tx"
)

// opsSampleRate keeps one in ten routine verification events.
const opsSampleRate = 0.1

// Stores are the persistence ports the services run on.
type Stores struct {
	Students    studentstore.Store
	Invoices    invoicestore.Store
	Credentials credentialstore.Store
	Results     results.Store
	Registry    registry.Store
	Directory   directory.Store
	Audit       audit.Store
}

// Services are the assembled domain services.
type Services struct {
	Invoices     *invoiceservice.Service
	Students     *studentservice.Service
	Allocator    *allocation.Allocator
	Cohorts      *cohort.Service
	Results      *results.Service
	Registry     *registry.Registry
	Directory    *directory.Directory
	Credentials  *credentialservice.Service
	Verification *verification.Service
	Tokens       *jwttoken.JWTService
}

// App is a fully wired board. Close releases what New opened.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Metrics  *prometheus.Registry
	Stores   Stores
	Services Services
	Handler  http.Handler
	Relay    *worker.Relay

	db       *sql.DB
	redis    *platformredis.Client
	kafka    *kafka.Client
	security *security.Publisher
}

// New connects the configured backends and wires every service. Without a
// database URL the board runs on in-memory stores; without Redis the cache
// and rate limiter stay in process; without brokers notifications are logged
// and the outbox relay is not built.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: prometheus.NewRegistry(),
	}
	a.Metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tx, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}
	if a.redis, err = platformredis.New(ctx, cfg.Redis); err != nil {
		a.Close()
		return nil, err
	}
	notifier, err := a.openNotifier(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.wire(tx, notifier)
	return a, nil
}

func (a *App) openStores(ctx context.Context) (txcontext.Runner, error) {
	if a.Config.Database.URL == "" {
		a.Logger.Warn("no database configured, using in-memory stores")
		a.Stores = Stores{
			Students:    studentstore.NewInMemory(),
			Invoices:    invoicestore.NewInMemory(),
			Credentials: credentialstore.NewInMemory(),
			Results:     results.NewInMemory(),
			Registry:    registrystore.NewInMemory(),
			Directory:   directory.NewInMemory(),
			Audit:       auditmemory.NewInMemoryStore(),
		}
		return txcontext.NewMemoryRunner(), nil
	}

	db, err := postgres.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	a.db = db
	if a.Config.Database.AutoMigrate {
		if err := postgres.Migrate(db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	a.Stores = Stores{
		Students:    studentstore.NewPostgres(db),
		Invoices:    invoicestore.NewPostgres(db),
		Credentials: credentialstore.NewPostgres(db),
		Results:     results.NewPostgres(db),
		Registry:    registrystore.NewPostgres(db),
		Directory:   directory.NewPostgres(db),
		Audit:       auditpostgres.New(db),
	}
	return postgres.NewTxRunner(db, a.Config.Database.TxTimeout), nil
}

func (a *App) openNotifier(ctx context.Context) (notification.Notifier, error) {
	if len(a.Config.Kafka.Brokers) == 0 {
		return notification.NewLoggingNotifier(a.Logger), nil
	}
	client, err := kafka.NewClient(ctx, a.Config.Kafka, a.Logger)
	if err != nil {
		return nil, err
	}
	a.kafka = client
	topics := kafka.BoardTopics(a.Config.Kafka,
		string(audit.CategoryCompliance),
		string(audit.CategorySecurity),
		string(audit.CategoryOperations),
	)
	if err := client.EnsureTopics(ctx, a.Config.Kafka.Partitions, a.Config.Kafka.ReplicationFactor, topics...); err != nil {
		a.Logger.Warn("kafka topic bootstrap failed", "error", err)
	}
	return notification.NewKafkaNotifier(client, a.Config.Kafka.NotificationTopic, a.Logger), nil
}

func (a *App) wire(tx txcontext.Runner, notifier notification.Notifier) {
	cfg := a.Config
	logger := a.Logger
	reg := a.Metrics

	auditor := compliance.New(a.Stores.Audit,
		compliance.WithLogger(logger),
		compliance.WithMetrics(compliance.NewMetrics(reg)),
	)
	a.security = security.New(a.Stores.Audit, security.WithLogger(logger))
	tracker := ops.New(a.Stores.Audit,
		ops.WithSampler(ops.NewSampler(opsSampleRate, ops.Always(audit.EventCohortBulkApproved))),
		ops.WithMetrics(ops.NewMetrics(reg)),
		ops.WithLogger(logger),
		ops.WithBreaker(circuit.New("audit-ops")),
	)

	dir := directory.New(a.Stores.Directory)
	reservations := registry.New(a.Stores.Registry,
		registry.WithMaxAttempts(cfg.Issuance.MaxAllocationAttempts),
		registry.WithMetrics(registry.NewMetrics(reg)),
		registry.WithLogger(logger),
	)

	invoices := invoiceservice.New(a.Stores.Invoices, studentservice.NewBillableCounter(a.Stores.Students), tx,
		invoiceservice.WithLogger(logger),
		invoiceservice.WithAuditPublisher(auditor),
		invoiceservice.WithMetrics(invoicemetrics.New(reg)),
		invoiceservice.WithFee(cfg.Issuance.FeePerStudentMinor, cfg.Issuance.Currency),
		invoiceservice.WithNotifier(notifier, dir),
	)
	students := studentservice.New(a.Stores.Students, invoices, tx,
		studentservice.WithLogger(logger),
		studentservice.WithAuditPublisher(auditor),
	)
	allocator := allocation.New(a.Stores.Students, invoices, reservations, tx,
		allocation.WithLogger(logger),
		allocation.WithAuditPublisher(auditor),
		allocation.WithMetrics(allocation.NewMetrics(reg)),
	)
	cohorts := cohort.New(invoices, a.Stores.Students, students, allocator, tx,
		cohort.WithLogger(logger),
		cohort.WithNotifier(notifier),
		cohort.WithSchools(dir),
		cohort.WithOpsTracker(tracker),
	)
	published := results.NewService(a.Stores.Results, logger)

	var cache verification.Cache = verification.NewMemoryCache(cfg.Verification.CacheTTL)
	var limitStore ratelimit.Store
	if a.redis != nil {
		cache = verification.NewRedisCache(a.redis.Client, cfg.Verification.CacheTTL)
		limitStore = ratelimit.NewRedisStore(a.redis.Client)
	}

	credentials := credentialservice.New(a.Stores.Credentials, a.Stores.Students, published, dir, reservations,
		a.renderer(), tx,
		credentialservice.WithLogger(logger),
		credentialservice.WithAuditPublisher(auditor),
		credentialservice.WithCacheInvalidator(cache),
		credentialservice.WithNotifier(notifier),
		credentialservice.WithMetrics(credentialservice.NewMetrics(reg)),
		credentialservice.WithValidity(cfg.Issuance.CredentialValidity),
		credentialservice.WithVerifyBaseURL(cfg.Verification.PublicBaseURL),
	)
	verifier := verification.New(a.Stores.Credentials, a.Stores.Students,
		verification.WithCache(cache),
		verification.WithSecurityPublisher(a.security),
		verification.WithOpsTracker(tracker),
		verification.WithMetrics(verification.NewMetrics(reg)),
		verification.WithLogger(logger),
	)
	tokens := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)

	a.Services = Services{
		Invoices:     invoices,
		Students:     students,
		Allocator:    allocator,
		Cohorts:      cohorts,
		Results:      published,
		Registry:     reservations,
		Directory:    dir,
		Credentials:  credentials,
		Verification: verifier,
		Tokens:       tokens,
	}

	limiter := ratelimit.New(limitStore, cfg.Verification.RateLimit, cfg.Verification.RateLimitWindow,
		ratelimit.WithMetrics(ratelimit.NewMetrics(reg)),
		ratelimit.WithLogger(logger),
	)
	perIP := ratelimitmw.New(limiter, logger,
		ratelimitmw.WithDisabled(!cfg.Verification.RateLimitEnabled),
		ratelimitmw.WithSecurityPublisher(a.security),
	)
	proxies, err := metadata.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Warn("ignoring trusted proxies", "error", err)
	}
	a.Handler = httptransport.NewRouter(httptransport.Handlers{
		Invoices:     invoicehandler.New(invoices, cohorts, logger),
		Students:     studenthandler.New(students, logger),
		Credentials:  credentialhandler.New(credentials, logger, cfg.Verification.PublicBaseURL),
		Verification: verificationhandler.New(verifier, logger),
	}, httptransport.Options{
		Logger:    logger,
		Metrics:   platformmetrics.New(reg),
		Gatherer:  reg,
		Tokens:    jwttoken.NewJWTServiceAdapter(tokens),
		RateLimit: perIP,
		Health:    a.Health,

		TrustedProxies: proxies,
	})

	if a.db != nil && a.kafka != nil {
		a.Relay = worker.NewRelay(a.db, a.kafka, cfg.Kafka.AuditTopicPrefix,
			worker.WithInterval(cfg.Kafka.RelayInterval),
			worker.WithLogger(logger),
		)
	}
}

func (a *App) renderer() rendering.Renderer {
	cfg := a.Config.Rendering
	if cfg.URL == "" {
		a.Logger.Warn("no renderer configured, documents are recorded but not rendered")
		return rendering.LocalRenderer{}
	}
	breaker := circuit.New("renderer",
		circuit.WithFailureThreshold(cfg.FailureThreshold),
		circuit.WithCooldown(cfg.Cooldown),
	)
	return rendering.NewHTTPRenderer(cfg.URL, cfg.Timeout,
		rendering.WithBreaker(breaker),
		rendering.WithMetrics(rendering.NewMetrics(a.Metrics)),
		rendering.WithLogger(a.Logger),
	)
}

// DB returns the database handle, or nil on in-memory stores.
func (a *App) DB() *sql.DB { return a.db }

// Health reports whether the configured backends answer.
func (a *App) Health(ctx context.Context) error {
	var errs []error
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Health(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close flushes buffered audit events and releases connections.
func (a *App) Close() error {
	var errs []error
	if a.security != nil {
		errs = append(errs, a.security.Close())
	}
	if a.kafka != nil {
		errs = append(errs, a.kafka.Flush(context.Background()))
		a.kafka.Close()
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
