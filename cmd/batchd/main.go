package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/jobmatch-batch/internal/api"
	"github.com/ignite/jobmatch-batch/internal/cache"
	"github.com/ignite/jobmatch-batch/internal/config"
	"github.com/ignite/jobmatch-batch/internal/domain"
	"github.com/ignite/jobmatch-batch/internal/emailqueue"
	"github.com/ignite/jobmatch-batch/internal/matching"
	"github.com/ignite/jobmatch-batch/internal/metrics"
	"github.com/ignite/jobmatch-batch/internal/pipeline"
	"github.com/ignite/jobmatch-batch/internal/pkg/distlock"
	"github.com/ignite/jobmatch-batch/internal/repository/postgres"
	"github.com/ignite/jobmatch-batch/internal/scheduler"
	"github.com/ignite/jobmatch-batch/internal/scoring"
)

const version = "1.0.0"

// nightlyLockKey guards against two hosts running the same nightly
// batch; TTL covers the whole runtime budget.
const nightlyLockKey = "batch:nightly"

func main() {
	log.Printf("[batchd] jobmatch batch daemon v%s starting", version)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("[batchd] config load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[batchd] invalid config: %v", err)
	}

	db, err := postgres.Open(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Fatalf("[batchd] database connect failed: %v", err)
	}
	defer db.Close()
	store := postgres.NewStore(db, cfg.Database.BatchInsertSize)

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Printf("[batchd] redis unreachable (%v), run lock falls back to PG advisory", err)
			redisClient = nil
		}
	}

	caches, err := cache.NewCaches()
	if err != nil {
		log.Fatalf("[batchd] cache init failed: %v", err)
	}
	mc := metrics.NewCollector()
	mc.AttachCaches(caches)

	engine := scoring.NewEngine(cfg.Scoring, caches)
	orch := matching.NewOrchestrator(cfg.Matching, cfg.Sections, cfg.Scoring.DedupWindowDays, engine, mc)
	pool := matching.NewPool(cfg.Matching, orch)

	renderer := emailqueue.NewRenderer(cfg.Email.TemplateDir)
	subjects := emailqueue.NewSubjectGenerator(context.Background(), cfg.Bedrock)
	builder := emailqueue.NewBuilder(cfg.Email, renderer, subjects)

	source := &pipeline.CSVSource{Path: cfg.Import.File}
	runner := pipeline.NewRunner(cfg, store, caches, mc, source, builder, pool)

	sched := scheduler.New(cfg.Scheduler, mc)
	nightly, err := scheduler.NewCronTrigger(cfg.Scheduler.NightlyCron, cfg.Scheduler.Timezone)
	if err != nil {
		log.Fatalf("[batchd] nightly trigger: %v", err)
	}
	err = sched.Register(&scheduler.JobSpec{
		ID:           api.NightlyJobID,
		Name:         "nightly job matching batch",
		Trigger:      nightly,
		Enabled:      true,
		Priority:     scheduler.PriorityCritical,
		MaxInstances: 1,
		Retry: scheduler.RetryPolicy{
			MaxAttempts: cfg.Scheduler.MaxRetries,
			Factor:      cfg.Scheduler.RetryBackoffFactor,
			BaseDelay:   time.Minute,
			MaxDelay:    cfg.Scheduler.RetryMaxDelay(),
		},
		Limits: scheduler.ResourceLimits{
			Timeout: 2 * cfg.Performance.TotalRuntime(),
		},
		Run: func(ctx context.Context) error {
			lock := distlock.NewLock(redisClient, store.DB(), nightlyLockKey, cfg.Performance.TotalRuntime())
			ok, err := lock.Acquire(ctx)
			if err != nil {
				return fmt.Errorf("acquire run lock: %w", err)
			}
			if !ok {
				log.Printf("[batchd] another host holds the nightly lock, skipping")
				return nil
			}
			defer func() {
				if err := lock.Release(context.Background()); err != nil {
					log.Printf("[batchd] lock release failed: %v", err)
				}
			}()
			// A run that blows past its budget keeps its fence alive.
			keepCtx, stopKeepAlive := context.WithCancel(ctx)
			defer stopKeepAlive()
			go distlock.KeepAlive(keepCtx, lock, cfg.Performance.TotalRuntime(), cfg.Performance.TotalRuntime()/4)

			batchID := domain.NewBatchID(time.Now())
			resume := false
			if target, err := runner.ResumeTarget(ctx); err != nil {
				log.Printf("[batchd] resume lookup failed: %v", err)
			} else if target != "" {
				log.Printf("[batchd] batch %s was left RUNNING by a dead process, resuming it", target)
				batchID, resume = target, true
			}
			_, runErr := runner.Execute(ctx, batchID, resume)
			return runErr
		},
	})
	if err != nil {
		log.Fatalf("[batchd] register nightly job: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	sched.Start(ctx)

	handlers := api.NewHandlers(store, mc, sched, runner, version)
	router := api.SetupRoutes(handlers)
	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	server := &http.Server{Addr: addr, Handler: router}
	go func() {
		log.Printf("[batchd] admin API listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[batchd] admin API: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[batchd] shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[batchd] admin API shutdown: %v", err)
	}
	sched.Stop()
	log.Printf("[batchd] bye")
}
