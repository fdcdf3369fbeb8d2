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

	"crm-platform/internal/audit"
	"crm-platform/internal/auth"
	"crm-platform/internal/config"
	"crm-platform/internal/httpapi"
	"crm-platform/internal/leads"
	"crm-platform/internal/obs"
	"crm-platform/internal/rbac"
	"crm-platform/internal/store"
	"crm-platform/internal/team"
	"crm-platform/pkg/logger"
	"crm-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A missing .env is fine; the process runner may inject env directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	obs.Init()

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	matrix := rbac.DefaultMatrix()
	resolver, err := rbac.NewResolver(matrix, rbac.DefaultRoleTable(matrix))
	if err != nil {
		log.Error("capability model invalid", "err", err)
		os.Exit(1)
	}
	gate := rbac.NewGate(resolver)

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{
		MaxOpenConns:     cfg.DB.MaxOpenConns,
		ApplicationName:  "crm-api",
		StatementTimeout: cfg.DB.StatementTimeout,
	})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.DB.AutoMigrate {
		if err := store.Migrate(rootCtx, db); err != nil {
			log.Error("migration failed", "err", err)
			os.Exit(1)
		}
	}

	var rdb *redis.Client
	if cfg.Audit.FilterIndex {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	deps := buildServices(cfg, db, rdb, gate)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(cfg.HTTP))
	r.Use(obs.Instrument())
	r.Use(logger.Middleware(log))

	registerRoutes(r, db, httpapi.Handlers{
		Auth:    authManager,
		Members: deps.team,
		Audit:   deps.queries,
		Team:    deps.team,
		Leads:   deps.leads,
		Now:     time.Now,
	}, httpapi.RouteOptions{
		Gate:         gate,
		Authenticate: auth.RequireAccessToken(authManager),
		AuditLimiter: httpapi.NewOrganizationLimiter(cfg.Audit.RateLimitRPS, cfg.Audit.RateLimitBurst),
		DevTokens:    !cfg.IsProduction(),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "filter_index", rdb != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	log.Info("shutdown complete")
}

type services struct {
	queries *audit.QueryService
	team    *team.Service
	leads   *leads.Service
}

// buildServices wires repositories, the audit writer and the domain services.
// rdb may be nil, in which case filter options come from DISTINCT queries.
func buildServices(cfg config.Config, db *sql.DB, rdb *redis.Client, gate *rbac.Gate) services {
	tx := store.NewSQLTxManager(db)
	logs := audit.NewPostgresRepo(db)

	var (
		writerOpts = []audit.WriterOption{}
		queryOpts  = []audit.QueryOption{audit.WithPageSize(cfg.Audit.PageSize, cfg.Audit.MaxPageSize)}
	)
	if rdb != nil {
		idx := audit.NewRedisFilterIndex(rdb)
		writerOpts = append(writerOpts, audit.WithFilterIndex(idx))
		queryOpts = append(queryOpts, audit.WithFilterSource(idx))
	}
	writer := audit.NewWriter(logs, writerOpts...)
	retries := uint(cfg.Audit.ConflictRetries)

	teamSvc := team.NewService(team.NewPostgresRepo(db), tx, gate, writer, team.WithRetries(retries))
	leadSvc := leads.NewService(leads.Deps{
		Repo:    leads.NewPostgresRepo(db),
		Stages:  leads.NewPostgresStages(db),
		Members: teamSvc,
		Tx:      tx,
		Gate:    gate,
		Audit:   writer,
	}, leads.WithRetries(retries))

	return services{
		queries: audit.NewQueryService(logs, queryOpts...),
		team:    teamSvc,
		leads:   leadSvc,
	}
}
