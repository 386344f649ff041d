package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	authhandler "hrportal/internal/auth/handler"
	"hrportal/internal/auth/revocation"
	authservice "hrportal/internal/auth/service"
	"hrportal/internal/auth/session"
	censushandler "hrportal/internal/census/handler"
	censusservice "hrportal/internal/census/service"
	censusstore "hrportal/internal/census/store"
	"hrportal/internal/notify"
	"hrportal/internal/platform/config"
	"hrportal/internal/platform/httpserver"
	"hrportal/internal/platform/logger"
	"hrportal/internal/platform/metrics"
	"hrportal/internal/platform/postgres"
	"hrportal/internal/platform/redis"
	rlmetrics "hrportal/internal/ratelimit/metrics"
	ratelimit "hrportal/internal/ratelimit/middleware"
	rlmodels "hrportal/internal/ratelimit/models"
	"hrportal/internal/ratelimit/store/bucket"
	verificationhandler "hrportal/internal/verification/handler"
	verificationmetrics "hrportal/internal/verification/metrics"
	"hrportal/internal/verification/reminder"
	verificationservice "hrportal/internal/verification/service"
	tokenstore "hrportal/internal/verification/store"
	"hrportal/pkg/domain"
	"hrportal/pkg/platform/audit"
	"hrportal/pkg/platform/audit/outbox"
	auditmemory "hrportal/pkg/platform/audit/store/memory"
	auditpg "hrportal/pkg/platform/audit/store/postgres"
	"hrportal/pkg/platform/middleware/metadata"
	"hrportal/pkg/platform/middleware/request"
	"hrportal/pkg/platform/middleware/requesttime"
	txcontext "hrportal/pkg/platform/tx"
)

const (
	shutdownTimeout = 10 * time.Second
	reminderLockKey = "hrportal:lock:reminder-sweep"
	reminderLockTTL = 5 * time.Minute
)

type txRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type censusStore interface {
	censusservice.Store
	verificationservice.CensusStore
}

// stores groups the persistence ports so main can pick Postgres or memory
// once and wire services the same way either way.
type stores struct {
	db      *sql.DB
	census  censusStore
	tokens  verificationservice.TokenStore
	auditor audit.Store
	outbox  *auditpg.Store
	tx      txRunner
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("configuration rejected", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
		log.InfoContext(ctx, "redis connected")
	}

	var notifier verificationservice.Notifier = notify.NewLogNotifier(log)
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout, log)
	}

	verification := verificationservice.New(st.tokens, st.census, st.tx, st.auditor, notifier,
		verificationservice.WithLogger(log),
		verificationservice.WithMetrics(verificationmetrics.New(prometheus.DefaultRegisterer)),
		verificationservice.WithValidityDays(cfg.Verification.TokenValidityDays),
		verificationservice.WithMaxReminders(cfg.Verification.MaxReminders),
	)
	census := censusservice.New(st.census, st.tx, st.auditor, censusservice.WithLogger(log))

	var revoked interface {
		session.RevocationList
		authservice.RevocationList
	}
	switch {
	case rdb != nil:
		revoked = revocation.NewRedisList(rdb.Client)
	case st.db != nil:
		revoked = revocation.NewPostgresList(st.db)
	default:
		revoked = revocation.NewInMemoryList()
	}
	log.InfoContext(ctx, "session revocation configured", "backend", revocationBackend(rdb, st.db))
	sessions := session.New(cfg.Session.SigningKey, cfg.Session.Issuer, cfg.Session.TTL, session.WithRevocationList(revoked))
	auth := authservice.New(st.census, sessions, revoked, st.auditor, log)

	limiter := newRateLimiter(cfg, rdb, st.auditor, log)

	r := chi.NewRouter()
	httpMetrics := metrics.New()
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(log))
	r.Use(httpMetrics.Middleware)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

	r.Get("/healthz", healthHandler(st.db, rdb))
	r.Handle("/metrics", metrics.Handler())

	verificationhandler.New(verification, sessions, log,
		verificationhandler.WithPublicBaseURL(cfg.Verification.PublicBaseURL),
		verificationhandler.WithPublicMiddleware(limiter.RateLimit(rlmodels.ClassVerificationToken)),
	).Register(r)
	censushandler.New(census, sessions, log).Register(r)
	authhandler.New(auth, sessions, cfg.Session.AdminAPIToken, log,
		authhandler.WithLoginMiddleware(limiter.RateLimit(rlmodels.ClassLogin)),
	).Register(r)

	relay, closeRelay, err := newRelay(ctx, cfg, st, log)
	if err != nil {
		return err
	}
	defer closeRelay()

	srv := httpserver.New(cfg.Addr, r)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "starting hrportal", "addr", cfg.Addr, "regulated_mode", cfg.RegulatedMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		log.InfoContext(shutdownCtx, "shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	var schedOpts []reminder.Option
	schedOpts = append(schedOpts, reminder.WithBatch(cfg.Verification.ReminderBatch))
	if rdb != nil {
		schedOpts = append(schedOpts, reminder.WithLocker(reminder.NewRedisLock(rdb.Client, reminderLockKey, reminderLockTTL)))
	}
	scheduler := reminder.New(verification, cfg.Verification.ReminderInterval, cfg.Verification.PublicBaseURL, log, schedOpts...)
	g.Go(func() error { return scheduler.Run(gctx) })
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}

	return g.Wait()
}

func openStores(ctx context.Context, cfg config.Server, log *slog.Logger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		if cfg.RegulatedMode {
			return nil, errors.New("DATABASE_URL is required in regulated mode")
		}
		log.WarnContext(ctx, "DATABASE_URL not set, using in-memory stores")
		census := censusstore.NewInMemory()
		tokens := tokenstore.NewInMemory(func(recordID domain.CensusRecordID) (string, string, string, bool) {
			rec, err := census.FindByID(context.Background(), recordID)
			if err != nil {
				return "", "", "", false
			}
			return rec.FullName, rec.StaffID, rec.Entity, true
		})
		census.OnDelete(tokens.DeleteByRecord)
		return &stores{
			census:  census,
			tokens:  tokens,
			auditor: auditmemory.NewInMemoryStore(),
			tx:      txcontext.NewLockRunner(),
		}, nil
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db, log); err != nil {
		_ = db.Close()
		return nil, err
	}
	auditor := auditpg.New(db)
	return &stores{
		db:      db,
		census:  censusstore.NewPostgres(db),
		tokens:  tokenstore.NewPostgres(db),
		auditor: auditor,
		outbox:  auditor,
		tx:      txcontext.NewPostgresRunner(db),
	}, nil
}

// newRelay connects the audit outbox to Kafka. It returns a nil relay when
// there is no database outbox or no brokers are configured.
func newRelay(ctx context.Context, cfg config.Server, st *stores, log *slog.Logger) (*outbox.Relay, func(), error) {
	if st.outbox == nil || len(cfg.Audit.KafkaBrokers) == 0 {
		log.InfoContext(ctx, "audit relay disabled")
		return nil, func() {}, nil
	}
	kafka, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Audit.KafkaBrokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, nil, err
	}
	if err := outbox.EnsureTopic(ctx, kafka, cfg.Audit.Topic); err != nil {
		kafka.Close()
		return nil, nil, err
	}
	relay := outbox.NewRelay(st.outbox, st.tx, kafka, cfg.Audit.Topic, cfg.Audit.PollInterval, log)
	return relay, kafka.Close, nil
}

// newRateLimiter prefers a shared Redis budget and keeps a per-process
// limiter as the fallback while Redis is unavailable.
func newRateLimiter(cfg config.Server, rdb *redis.Client, auditor audit.Store, log *slog.Logger) *ratelimit.Middleware {
	var primary ratelimit.Limiter
	if rdb != nil {
		primary = bucket.NewRedisBucketStore(rdb.Client)
	}
	return ratelimit.New(primary, bucket.NewInMemoryBucketStore(), log,
		ratelimit.WithLimit(rlmodels.ClassVerificationToken, rlmodels.Limit{
			RequestsPerWindow: cfg.RateLimit.Limit,
			Window:            cfg.RateLimit.Window,
		}),
		ratelimit.WithAuditor(auditor),
		ratelimit.WithMetrics(rlmetrics.New(prometheus.DefaultRegisterer)),
	)
}

func revocationBackend(rdb *redis.Client, db *sql.DB) string {
	switch {
	case rdb != nil:
		return "redis"
	case db != nil:
		return "postgres"
	default:
		return "memory"
	}
}

func healthHandler(db *sql.DB, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		body := `{"status":"ok"}`
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				status, body = http.StatusServiceUnavailable, `{"status":"degraded","database":"unreachable"}`
			}
		}
		if rdb != nil && status == http.StatusOK {
			if err := rdb.Health(ctx); err != nil {
				status, body = http.StatusServiceUnavailable, `{"status":"degraded","redis":"unreachable"}`
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}
