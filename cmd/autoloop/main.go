package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/autoloop-io/autoloop/internal/analytics"
	"github.com/autoloop-io/autoloop/internal/api"
	"github.com/autoloop-io/autoloop/internal/circuitbreaker"
	"github.com/autoloop-io/autoloop/internal/config"
	"github.com/autoloop-io/autoloop/internal/cron"
	"github.com/autoloop-io/autoloop/internal/domain"
	"github.com/autoloop-io/autoloop/internal/engine"
	"github.com/autoloop-io/autoloop/internal/leaderelection"
	"github.com/autoloop-io/autoloop/internal/ledger"
	"github.com/autoloop-io/autoloop/internal/metrics"
	"github.com/autoloop-io/autoloop/internal/notify"
	"github.com/autoloop-io/autoloop/internal/reconciler"
	"github.com/autoloop-io/autoloop/internal/runner"
	"github.com/autoloop-io/autoloop/internal/scheduler"
	"github.com/autoloop-io/autoloop/internal/store/postgres"
	syncpkg "github.com/autoloop-io/autoloop/internal/sync"
	"github.com/autoloop-io/autoloop/internal/transport/channel"
	"github.com/autoloop-io/autoloop/internal/vcs"
	versionstore "github.com/autoloop-io/autoloop/internal/version"

	_ "github.com/lib/pq"
)

// schedulerCronAdapter adapts internal/cron.Parser to scheduler.CronParser.
type schedulerCronAdapter struct {
	parser *cron.Parser
}

func (a *schedulerCronAdapter) Parse(expression string, timezone string) (scheduler.CronSchedule, error) {
	sched, err := a.parser.Parse(expression, timezone)
	if err != nil {
		return nil, err
	}
	return sched, nil
}

// apiCronAdapter adapts internal/cron.Parser to api.CronParser.
type apiCronAdapter struct {
	parser *cron.Parser
}

func (a *apiCronAdapter) Parse(expression string, timezone string) (api.CronSchedule, error) {
	sched, err := a.parser.Parse(expression, timezone)
	if err != nil {
		return nil, err
	}
	return sched, nil
}

// logSender stands in when no webhook is configured: outcomes that would
// have been notified are logged instead of sent.
type logSender struct{}

func (logSender) Send(_ context.Context, n notify.Notification) error {
	log.Printf("notify: no webhook configured, dropping notification execution=%s status=%s", n.ExecutionID, n.Status)
	return nil
}

// Build-time variables set via -ldflags
var (
	buildVersion = "dev"
	buildCommit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`autoloop - automation lifecycle engine

Usage:
  autoloop <command>

Commands:
  serve      Start the engine, scheduler and HTTP API
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL               PostgreSQL connection string (required)
  REDIS_ADDR                 Redis address for run analytics (optional)
  HTTP_ADDR                  HTTP server address (default: ":8080")
  TICK_INTERVAL              Scheduler tick interval (default: "30s")

  DB_MAX_OPEN_CONNS          Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS          Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME       Max connection lifetime (default: "30m")

  HTTP_SHUTDOWN_TIMEOUT      Graceful HTTP shutdown timeout (default: "10s")
  STOP_GRACE_PERIOD          Wait before a stop is forced (default: "10s")
  RUNNER_COMMAND             Payload interpreter (default: "python3")

  NOTIFY_WEBHOOK_URL         Outcome notification endpoint (optional)
  NOTIFY_WEBHOOK_SECRET      HMAC secret, required with the URL
  NOTIFY_TIMEOUT             Notification send timeout (default: "30s")

  VCS_BRIDGE_URL             Repository bridge address (optional)
  CIRCUIT_BREAKER_THRESHOLD  Push failures before the circuit opens (default: "5", 0 disables)
  CIRCUIT_BREAKER_COOLDOWN   Open-circuit cooldown (default: "2m")

  METRICS_ENABLED            Enable Prometheus metrics (default: "false")
  METRICS_PATH               Metrics endpoint path (default: "/metrics")

  RECONCILE_ENABLED          Enable orphan record reconciler (default: "true")
  RECONCILE_INTERVAL         How often to scan for orphans (default: "5m")
  RECONCILE_THRESHOLD        Age before an open record is orphaned (default: "6h")

  EVENTBUS_BUFFER_SIZE       In-process event buffer size (default: "100")
  ANALYTICS_RETENTION        Redis counter retention (default: "720h")

  LEADER_LOCK_KEY            Advisory lock key shared by all instances (default: "917204")
  LEADER_RETRY_INTERVAL      Follower lock retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL  Leader connection ping interval (default: "2s")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	log.Printf("autoloop: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db)

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	err = store.Migrate(migrateCtx)
	cancelMigrate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		return exitRuntimeError
	}

	// Metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("autoloop: metrics enabled (path=%s)", cfg.MetricsPath)
	} else {
		log.Println("autoloop: METRICS_ENABLED not set; metrics disabled")
	}

	// In-process event buses: RunClosed fans out to notifications and
	// analytics, VersionCreated to the repository sync coordinator.
	runClosedBus := channel.NewBus[domain.RunClosed](cfg.EventBusBufferSize)
	versionBus := channel.NewBus[domain.VersionCreated](cfg.EventBusBufferSize)

	versions := versionstore.New(store)
	if metricsSink != nil {
		versions = versions.WithMetrics(metricsSink)
	}

	led := ledger.New(store)
	if metricsSink != nil {
		led = led.WithMetrics(metricsSink)
	}

	proc := runner.NewProcess(runner.Config{Command: cfg.RunnerCommand})

	eng := engine.New(store, versions, led, proc, store, engine.Config{
		StopGracePeriod: cfg.StopGracePeriod,
	}).WithEmitter(runClosedBus)
	if metricsSink != nil {
		eng = eng.WithMetrics(metricsSink)
	}

	// Notifier: consumes every RunClosed event. Without a webhook URL it
	// still feeds analytics and logs would-be notifications.
	var sender notify.Sender = logSender{}
	if cfg.NotifyWebhookURL != "" {
		sender = notify.NewWebhookSender(cfg.NotifyWebhookURL, cfg.NotifyWebhookSecret, cfg.NotifyTimeout)
		log.Printf("autoloop: notifications enabled (url=%s)", cfg.NotifyWebhookURL)
	} else {
		log.Println("autoloop: NOTIFY_WEBHOOK_URL not set; notifications disabled")
	}
	notifier := notify.New(store, sender)
	if metricsSink != nil {
		notifier = notifier.WithMetrics(metricsSink)
	}

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		notifier = notifier.WithAnalytics(analytics.NewRedisSink(redisClient, cfg.AnalyticsRetention))
		log.Printf("autoloop: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("autoloop: REDIS_ADDR not set; analytics disabled")
	}

	// Repository sync (optional). The version bus only gets an emitter
	// when a consumer exists, so saves never block on an idle bus.
	var coordinator *syncpkg.Coordinator
	var vcsClient vcs.Client
	if cfg.VCSBridgeURL != "" {
		vcsClient = vcs.NewHTTPClient(cfg.VCSBridgeURL, 30*time.Second)
		coordinator = syncpkg.New(store, vcsClient)
		if cfg.CircuitBreakerThreshold > 0 {
			coordinator = coordinator.WithBreaker(
				circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		}
		if metricsSink != nil {
			coordinator = coordinator.WithMetrics(metricsSink)
		}
		versions = versions.WithEmitter(versionBus)
		log.Printf("autoloop: repository sync enabled (bridge=%s)", cfg.VCSBridgeURL)
	} else {
		log.Println("autoloop: VCS_BRIDGE_URL not set; repository sync disabled")
	}

	parser := cron.NewParser()

	sched := scheduler.New(
		scheduler.Config{TickInterval: cfg.TickInterval},
		store,
		&schedulerCronAdapter{parser: parser},
		eng,
	)
	if metricsSink != nil {
		sched = sched.WithMetrics(metricsSink)
	}

	// Scheduler and reconciler are leader-only duties: with several
	// instances sharing the database, exactly one fires schedules and
	// reaps orphans.
	var leaderWg sync.WaitGroup
	onElected := func(leaderCtx context.Context) {
		leaderWg.Add(1)
		go func() {
			defer leaderWg.Done()
			sched.Run(leaderCtx)
		}()

		if cfg.ReconcileEnabled {
			recon := reconciler.New(
				reconciler.Config{
					Interval:  cfg.ReconcileInterval,
					Threshold: cfg.ReconcileThreshold,
				},
				led,
				eng,
			)
			if metricsSink != nil {
				recon = recon.WithMetrics(metricsSink)
			}
			leaderWg.Add(1)
			go func() {
				defer leaderWg.Done()
				recon.Run(leaderCtx)
			}()
		}
	}
	onDemoted := func() {
		leaderWg.Wait()
	}

	elector := leaderelection.New(db, cfg.LeaderLockKey,
		cfg.LeaderRetryInterval, cfg.LeaderHeartbeatInterval,
		onElected, onDemoted)
	if metricsSink != nil {
		elector = elector.WithMetrics(metricsSink)
	}
	if !cfg.ReconcileEnabled {
		log.Println("autoloop: RECONCILE_ENABLED=false; reconciler disabled")
	}

	apiHandler := api.NewHandler(store, eng, versions, led, &apiCronAdapter{parser: parser}).
		WithHealthChecker(db)
	if coordinator != nil {
		apiHandler = apiHandler.WithSyncer(coordinator)
	}
	if vcsClient != nil {
		apiHandler = apiHandler.WithVCS(vcsClient)
	}

	var httpHandler http.Handler = apiHandler.Router()
	if cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
		mux.Handle("/", httpHandler)
		httpHandler = mux
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpHandler,
	}

	go func() {
		log.Printf("autoloop: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("autoloop: http server error: %v", err)
		}
	}()

	// Separate contexts per component enable ordered shutdown: producers
	// stop before consumers so buffered events drain, not drop.
	electorCtx, cancelElector := context.WithCancel(context.Background())
	notifierCtx, cancelNotifier := context.WithCancel(context.Background())
	syncCtx, cancelSync := context.WithCancel(context.Background())

	var electorWg, notifierWg, syncWg sync.WaitGroup

	electorWg.Add(1)
	go func() {
		defer electorWg.Done()
		elector.Run(electorCtx)
	}()

	notifierWg.Add(1)
	go func() {
		defer notifierWg.Done()
		notifier.Run(notifierCtx, runClosedBus.Channel())
	}()

	if coordinator != nil {
		syncWg.Add(1)
		go func() {
			defer syncWg.Done()
			coordinator.Run(syncCtx, versionBus.Channel())
		}()
	}

	log.Printf("autoloop: started (tick=%s, http=%s)", cfg.TickInterval, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("autoloop: received signal %v, shutting down", received)

	// Phase 1: Surrender leadership; scheduler and reconciler stop before
	// the elector returns.
	log.Println("autoloop: stopping leader duties...")
	cancelElector()
	electorWg.Wait()
	log.Println("autoloop: leader duties stopped")

	// Phase 2: Stop the HTTP server so no new runs or saves arrive.
	log.Println("autoloop: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("autoloop: http server shutdown error: %v", err)
	}
	log.Println("autoloop: http server stopped")

	// Phase 3: Stop the notifier (drains buffered RunClosed events).
	log.Println("autoloop: stopping notifier (draining events)...")
	cancelNotifier()
	notifierWg.Wait()
	log.Println("autoloop: notifier stopped")

	// Phase 4: Stop the sync coordinator (drains buffered versions).
	if coordinator != nil {
		log.Println("autoloop: stopping sync coordinator (draining events)...")
	}
	cancelSync()
	syncWg.Wait()
	if coordinator != nil {
		log.Println("autoloop: sync coordinator stopped")
	}

	log.Println("autoloop: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("autoloop version %s (commit: %s)\n", buildVersion, buildCommit)
	return exitSuccess
}
