package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/chamada/internal/attendance"
	"github.com/example/chamada/internal/auth"
	"github.com/example/chamada/internal/config"
	"github.com/example/chamada/internal/database"
	"github.com/example/chamada/internal/extractor"
	"github.com/example/chamada/internal/grpcclient"
	"github.com/example/chamada/internal/handlers"
	"github.com/example/chamada/internal/logging"
	"github.com/example/chamada/internal/matcher"
	"github.com/example/chamada/internal/metrics"
	"github.com/example/chamada/internal/repository"
	"github.com/example/chamada/internal/scheduler"
	"github.com/example/chamada/internal/usecase"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chamada",
		Short:         "Face recognition attendance service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			return runServe(cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HTTP_ADDR)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			db, err := database.Open(ctx, cfg.Database, cfg.LogLevel, logger)
			if err != nil {
				return err
			}
			if err := repository.New(db, logger).AutoMigrate(ctx); err != nil {
				return fmt.Errorf("auto migrate: %w", err)
			}
			logger.Info("schema migrated", zap.String("driver", cfg.Database.Driver))
			return nil
		},
	}
}

func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg := config.Load()
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, logger, nil
}

// app is the wired HTTP surface plus the background jobs behind it.
type app struct {
	router     *gin.Engine
	attendance *usecase.AttendanceUseCase
	scheduler  *scheduler.Scheduler
}

// newApp builds use cases, routes and the sweep scheduler on top of already
// opened infrastructure. The scheduler is returned unstarted.
func newApp(cfg *config.Config, logger *zap.Logger, repo *repository.Repository, store attendance.Store, ext extractor.Client) (*app, error) {
	m, err := matcher.New(matcher.Options{
		Threshold:          cfg.Matcher.Threshold,
		DuplicateThreshold: cfg.Matcher.DuplicateThreshold,
		Dimension:          cfg.Matcher.Dimension,
	})
	if err != nil {
		return nil, err
	}
	opts := m.Options()
	logger.Info("matcher configured",
		zap.Float64("match_threshold", opts.Threshold),
		zap.Float64("duplicate_threshold", opts.DuplicateThreshold),
		zap.Int("descriptor_dim", opts.Dimension))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mt, err := metrics.New(registry)
	if err != nil {
		return nil, err
	}

	tokens := auth.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.Audience, cfg.JWT.TTL)
	attendanceUC := usecase.NewAttendanceUseCase(repo, store, m, ext, mt, cfg.Attendance.SessionTTL, logger)
	deps := handlers.Dependencies{
		Professors: usecase.NewProfessorUseCase(repo, tokens, logger),
		Students:   usecase.NewStudentUseCase(repo, m, mt, logger),
		Attendance: attendanceUC,
		Gatherer:   registry,
		Logger:     logger,
	}

	sched, err := scheduler.New(attendanceUC, cfg.Attendance.SweepInterval, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), handlers.AccessLog(logger), handlers.CORS(cfg.CORS.AllowedOrigins))
	r.MaxMultipartMemory = handlers.MaxUploadSize
	handlers.RegisterRoutes(r, deps, auth.JWTMiddleware(cfg.JWT.Secret, cfg.JWT.Audience))

	return &app{router: r, attendance: attendanceUC, scheduler: sched}, nil
}

func runServe(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db, err := database.Open(ctx, cfg.Database, cfg.LogLevel, logger)
	if err != nil {
		return err
	}
	repo := repository.New(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	store, closeStore, err := initPresenceStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	ext, conn, err := initExtractor(ctx, cfg, logger)
	if err != nil {
		_ = runShutdown(shutdownSequence(nil, closeStore, nil), logger)
		return err
	}

	a, err := newApp(cfg, logger, repo, store, ext)
	if err != nil {
		_ = runShutdown(shutdownSequence(nil, closeStore, conn), logger)
		return err
	}
	a.scheduler.Start()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("attendance API listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.Bool("capture_enabled", ext != nil))
	return serveHTTPServer(server, 15*time.Second, logger, shutdownSequence(a.scheduler, closeStore, conn)...)
}

// shutdownSequence orders resource release once HTTP traffic has drained:
// the sweep stops before the presence store it writes to is closed, and the
// extractor connection goes last. Nil resources are skipped.
func shutdownSequence(sched *scheduler.Scheduler, closeStore func() error, conn *grpc.ClientConn) []shutdownStep {
	var steps []shutdownStep
	if sched != nil {
		steps = append(steps, shutdownStep{name: "scheduler", run: func() error {
			sched.Stop()
			return nil
		}})
	}
	if closeStore != nil {
		steps = append(steps, shutdownStep{name: "presence store", run: closeStore})
	}
	if conn != nil {
		steps = append(steps, shutdownStep{name: "extractor connection", run: conn.Close})
	}
	return steps
}

// initPresenceStore selects Redis when REDIS_ADDR is set and the in-process
// store otherwise.
func initPresenceStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (attendance.Store, func() error, error) {
	if cfg.Redis.Addr == "" {
		logger.Info("using in-memory presence store")
		return attendance.NewMemoryStore(cfg.Attendance.SessionTTL), func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, logging.NewOperationError("redis.ping", "", err)
	}
	return attendance.NewRedisStore(client, cfg.Attendance.SessionTTL, logger), client.Close, nil
}

// initExtractor dials the descriptor extractor when EXTRACTOR_ADDR is set.
// A nil client disables the capture endpoint.
func initExtractor(ctx context.Context, cfg *config.Config, logger *zap.Logger) (extractor.Client, *grpc.ClientConn, error) {
	if cfg.Extractor.Addr == "" {
		logger.Info("descriptor extractor not configured, image capture disabled")
		return nil, nil, nil
	}
	client, conn, err := grpcclient.DialExtractor(ctx, cfg.Extractor.Addr, cfg.Extractor.Timeout, logger)
	if err != nil {
		return nil, nil, err
	}
	return client, conn, nil
}
