// Oculus mirror scheduler - ingests an upstream community platform into a
// pgvector-backed mirror and keeps it converging via recurring jobs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/oculus/pkg/config"
	"github.com/codeready-toolchain/oculus/pkg/database"
	"github.com/codeready-toolchain/oculus/pkg/embedding"
	"github.com/codeready-toolchain/oculus/pkg/jobcore"
	"github.com/codeready-toolchain/oculus/pkg/jobs"
	"github.com/codeready-toolchain/oculus/pkg/slack"
	"github.com/codeready-toolchain/oculus/pkg/store"
	"github.com/codeready-toolchain/oculus/pkg/upstream"
	"github.com/codeready-toolchain/oculus/pkg/version"
)

const upstreamBaseURL = "https://journey.hackclub.com"

// Default recurring schedule.
const (
	forgeInterval      = 120 * time.Second
	zenithInterval     = 240 * time.Second
	pruneInterval      = 3600 * time.Second
	traceCheckInterval = 120 * time.Second
)

var jobCatalog = []struct {
	name, description string
}{
	{"init", "one-time full backfill of projects, devlogs, comments, users and shell history"},
	{"forge", "incremental forward page sweep with inline embedding"},
	{"prune", "reconcile mirror against upstream, sweep orphans"},
	{"zenith", "leaderboard sync and full shell-history reconstruction"},
	{"trace", "enrich users with Slack profile and trust metadata"},
	{"reform", "re-embed existing rows for REEMBED_TARGET"},
}

func main() {
	jobsFlag := flag.String("jobs", "", "comma-separated jobs to run once sequentially")
	disableFlag := flag.String("disable", "", "comma-separated jobs to skip in recurring mode")
	listFlag := flag.Bool("list", false, "print the job catalog and exit")
	flag.Parse()

	if *listFlag {
		for _, j := range jobCatalog {
			fmt.Printf("%-8s %s\n", j.name, j.description)
		}
		return
	}

	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: no .env file loaded: %v", err)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	setupLogging(cfg.LogLevel)

	slog.Info("starting oculus", "version", version.Full())

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}
	slog.Info("migrations applied")
	if cfg.MigrateOnly {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPool(ctx, database.Config{
		DSN:      cfg.DatabaseURL,
		MaxConns: int32(cfg.MaxDBConnections),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()
	slog.Info("connected to database", "max_conns", cfg.MaxDBConnections)

	cacheTTL := embedding.DefaultCacheTTL
	if cfg.ForceEmbeddingRegen {
		cacheTTL = 0
	}
	embedder, err := embedding.NewService(embedding.Config{
		MaxConcurrency: cfg.EmbedConcurrency,
		CacheTTL:       cacheTTL,
	})
	if err != nil {
		log.Fatalf("Failed to initialize embedding service: %v", err)
	}

	client := upstream.NewClient(upstreamBaseURL, cfg.JourneySessionCookie)
	slackClient := slack.NewClient(cfg.SlackToken)
	if slackClient == nil {
		slog.Warn("SLACK_TOKEN not set, profile enrichment disabled")
	}

	opts := jobs.DefaultOptions()
	opts.FetchConcurrency = cfg.FetchConcurrency
	opts.EmbedBatchSize = cfg.EmbedBatchSize
	opts.DBEmbedConcurrency = cfg.DBEmbedConcurrency
	opts.DevMode = cfg.DevMode
	opts.Wipe = cfg.Wipe
	opts.ReembedTarget = cfg.ReembedTarget

	initJob := jobs.NewInitJob(client, embedder, opts)
	forgeJob := jobs.NewForgeJob(client, embedder, opts)
	pruneJob := jobs.NewPruneJob(client, embedder, opts)
	zenithJob := jobs.NewZenithJob(client)
	traceJob := jobs.NewTraceJob(client, slackClient, opts)
	reformJob := jobs.NewReformJob(embedder, opts)
	catalog := map[string]jobcore.Job{
		"init":   initJob,
		"forge":  forgeJob,
		"prune":  pruneJob,
		"zenith": zenithJob,
		"trace":  traceJob,
		"reform": reformJob,
	}

	// One-shot modes.
	switch {
	case cfg.RunReform:
		runOnce(ctx, pool, reformJob)
		return
	case cfg.Wipe:
		runOnce(ctx, pool, initJob)
		return
	case *jobsFlag != "":
		scheduler := jobcore.NewScheduler(pool)
		for _, name := range splitCSV(*jobsFlag) {
			job, ok := catalog[name]
			if !ok {
				log.Fatalf("Unknown job %q (use --list)", name)
			}
			scheduler.AddJob(job)
		}
		if err := scheduler.RunAllSequential(ctx); err != nil {
			slog.Error("sequential run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	// Recurring mode. A fresh mirror (no projects cursor yet) gets the full
	// backfill synchronously before any sweeps start.
	cursors := store.NewCursorStore(pool)
	_, _, initialized, err := cursors.Get(ctx, "projects")
	if err != nil {
		log.Fatalf("Failed to check mirror state: %v", err)
	}
	if !initialized {
		slog.Info("mirror uninitialized, running full backfill")
		if err := initJob.Execute(ctx, pool); err != nil {
			slog.Error("backfill failed", "error", err)
			os.Exit(1)
		}
	}

	// Zenith and prune run against their own pool, isolated from the
	// higher-frequency jobs' connection pressure.
	secondaryPool, err := database.NewPool(ctx, database.Config{
		DSN:      cfg.DatabaseURL,
		MaxConns: int32(max(cfg.MaxDBConnections/5, 2)),
	})
	if err != nil {
		log.Fatalf("Failed to open secondary pool: %v", err)
	}
	defer secondaryPool.Close()

	disabled := cfg.DisabledJobs
	for _, name := range splitCSV(*disableFlag) {
		disabled[name] = true
	}
	for name := range disabled {
		slog.Info("job disabled", "job", name)
	}

	primary := jobcore.NewScheduler(pool)
	secondary := jobcore.NewScheduler(secondaryPool)

	var wg sync.WaitGroup
	start := func(run func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run()
		}()
	}

	if !disabled["zenith"] {
		start(func() { secondary.RunRecurring(ctx, zenithJob, zenithInterval) })
	}
	if !disabled["prune"] {
		start(func() { secondary.RunRecurring(ctx, pruneJob, pruneInterval) })
	}
	if !disabled["forge"] {
		start(func() { primary.RunRecurring(ctx, forgeJob, forgeInterval) })
	}
	if !disabled["trace"] {
		start(func() { primary.RunContinuous(ctx, traceJob, traceCheckInterval) })
	}

	startHealthServer(ctx, pool, cfg.Port, &wg)

	slog.Info("scheduler running")
	<-ctx.Done()
	slog.Info("shutting down")
	wg.Wait()
}

func runOnce(ctx context.Context, pool *pgxpool.Pool, job jobcore.Job) {
	scheduler := jobcore.NewScheduler(pool)
	scheduler.AddJob(job)
	if err := scheduler.RunAllSequential(ctx); err != nil {
		slog.Error("job failed", "job", job.Name(), "error", err)
		os.Exit(1)
	}
}

func startHealthServer(ctx context.Context, pool *pgxpool.Pool, port int, wg *sync.WaitGroup) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		status := database.Health(reqCtx, pool)
		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"version":  version.Full(),
			"database": status,
		})
	})

	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: router}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server failed", "error", err)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

func setupLogging(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
