package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jtrace-service/blobstore"
	"jtrace-service/config"
	"jtrace-service/grants"
	"jtrace-service/handlers"
	"jtrace-service/ledger"
	"jtrace-service/models"
	"jtrace-service/services"
	"jtrace-service/utils"
	"jtrace-service/workers"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	root := &cobra.Command{
		Use:           "jtrace",
		Short:         "Record anchoring and access grant service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.AddCommand(serveCmd(), reconcileCmd(), ledgerCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the ledger mirror and the reconcile scheduler",
		RunE:  runServe,
	}
}

func reconcileCmd() *cobra.Command {
	var owner string
	var delegates []string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile cached access grants against the ledger",
		Long:  "Reconcile one owner (--owner) or, without --owner, every owner with cached grants.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.close()

			access := rt.accessService()
			if owner == "" {
				done, err := access.ReconcileOwners(cmd.Context())
				rt.logger.Info("reconcile finished", zap.Int("owners", done))
				return err
			}
			result, err := access.Reconcile(cmd.Context(), owner, delegates)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"owner": owner, "access": result})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner wallet address")
	cmd.Flags().StringSliceVar(&delegates, "delegate", nil, "delegate wallet address (repeatable)")
	return cmd
}

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "ledger", Short: "Read anchored records from the ledger"}

	var from, to uint64
	records := &cobra.Command{
		Use:   "records",
		Short: "List anchored records",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.close()

			var en ledger.Enumeration
			if to == 0 {
				en = rt.ledger.EnumerateAll(cmd.Context())
			} else {
				en = rt.ledger.Enumerate(cmd.Context(), from, to)
			}
			return printJSON(cmd, en)
		},
	}
	records.Flags().Uint64Var(&from, "from", 1, "first sequence id")
	records.Flags().Uint64Var(&to, "to", 0, "last sequence id (default: current total count)")

	cmd.AddCommand(records)
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap()
	if err != nil {
		return err
	}
	defer rt.close()
	cfg, logger := rt.cfg, rt.logger

	db, err := openDatabase(cfg.Database.DSN)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	blobs, err := newBlobStore(ctx, cfg.Blob, logger)
	if err != nil {
		return err
	}

	users := services.NewUserService(db, logger)
	records := services.NewRecordService(db, cfg.Records.StrictAmounts, logger)
	access := rt.accessService()
	submissions := services.NewSubmissionService(users, records, blobs, rt.ledger, rt.audit, logger)

	workers.NewLedgerMirrorWorker(db, rt.ledger, cfg.Ledger.SyncInterval, logger).Start(ctx)

	sched, err := access.StartReconcileScheduler(ctx, cfg.Access.ReconcileInterval)
	if err != nil {
		return fmt.Errorf("start reconcile scheduler: %w", err)
	}
	defer func() { _ = sched.Shutdown() }()

	app := handlers.NewApp(handlers.AppConfig{
		AllowedOrigins: cfg.Server.Origins(),
		APIToken:       cfg.Server.APIToken,
	}, handlers.Deps{
		Users:       users,
		Records:     records,
		Submissions: submissions,
		Access:      access,
		Ledger:      rt.ledger,
		DB:          db,
	}, logger)

	go func() {
		if err := app.Listen(cfg.Server.Addr); err != nil {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	logger.Info("server running",
		zap.String("addr", cfg.Server.Addr),
		zap.String("blob_provider", cfg.Blob.Provider),
		zap.Duration("reconcile_interval", cfg.Access.ReconcileInterval),
		zap.Duration("ledger_sync_interval", cfg.Ledger.SyncInterval),
	)

	<-ctx.Done()
	logger.Info("shutting down server")
	return app.ShutdownWithTimeout(10 * time.Second)
}

// runtime holds what every command needs: config, logger, Redis and the
// ledger client.
type runtime struct {
	cfg       *config.Config
	logger    *zap.Logger
	rdb       *redis.Client
	transport *ledger.RPCTransport
	ledger    *ledger.Client
	audit     *grants.AuditStream
}

func bootstrap() (*runtime, error) {
	foundEnv := config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := utils.NewLogger(cfg.Log.Level, cfg.Log.Format, "jtrace-service")
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if !foundEnv {
		logger.Warn("no .env file found, reading environment variables directly")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	transport, err := ledger.DialRPC(ctx, cfg.Ledger.RPCURL)
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect ledger: %w", err)
	}
	client, err := ledger.NewClient(transport, cfg.Ledger.ContractAddress, ledger.Options{
		ConfirmTimeout: cfg.Ledger.ConfirmTimeout,
		PollInterval:   cfg.Ledger.PollInterval,
		ReadsPerSecond: cfg.Ledger.ReadsPerSecond,
	}, logger)
	if err != nil {
		transport.Close()
		_ = rdb.Close()
		return nil, err
	}

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		rdb:       rdb,
		transport: transport,
		ledger:    client,
		audit:     grants.NewAuditStream(rdb, grants.DefaultStream, logger),
	}, nil
}

func (rt *runtime) accessService() *services.AccessService {
	return services.NewAccessService(rt.ledger, grants.NewRedisStore(rt.rdb), rt.audit, services.AccessOptions{
		ReadTimeout:        rt.cfg.Access.ReadTimeout,
		ReadAttempts:       rt.cfg.Access.ReadAttempts,
		MaxConcurrentReads: rt.cfg.Access.MaxReads,
		OwnerWorkers:       rt.cfg.Access.OwnerWorkers,
	}, rt.logger)
}

func (rt *runtime) close() {
	rt.transport.Close()
	_ = rt.rdb.Close()
	_ = rt.logger.Sync()
}

func openDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.Record{},
		&models.RecordLine{},
		&models.LedgerRecord{},
	); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func newBlobStore(ctx context.Context, cfg config.BlobConfig, logger *zap.Logger) (blobstore.Store, error) {
	switch cfg.Provider {
	case "s3":
		return blobstore.NewS3Store(ctx, blobstore.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			AccessKeySecret: cfg.S3AccessKeySecret,
		}, logger)
	default:
		return blobstore.NewPinataStore(blobstore.PinataConfig{
			BaseURL:   cfg.PinataBaseURL,
			JWT:       cfg.PinataJWT,
			APIKey:    cfg.PinataAPIKey,
			APISecret: cfg.PinataAPISecret,
		}, logger)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
