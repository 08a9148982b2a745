package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/PolicyRouter/internal/config"
	"github.com/router-for-me/PolicyRouter/internal/db"
	"github.com/router-for-me/PolicyRouter/internal/dispatch"
	internalhttp "github.com/router-for-me/PolicyRouter/internal/http"
	"github.com/router-for-me/PolicyRouter/internal/http/api/admin"
	"github.com/router-for-me/PolicyRouter/internal/logging"
	"github.com/router-for-me/PolicyRouter/internal/logic"
	"github.com/router-for-me/PolicyRouter/internal/matcher"
	"github.com/router-for-me/PolicyRouter/internal/metrics"
	"github.com/router-for-me/PolicyRouter/internal/requestlog"
	"github.com/router-for-me/PolicyRouter/internal/rules"
	"github.com/router-for-me/PolicyRouter/internal/security"
	"github.com/router-for-me/PolicyRouter/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const bootstrapAdminUsername = "admin"

// runtime is the loaded configuration with an open, migrated database.
type runtime struct {
	cfg       *config.Config
	conn      *gorm.DB
	logCloser io.Closer
}

func (r *runtime) Close() {
	if r.conn != nil {
		if sqlDB, errDB := r.conn.DB(); errDB == nil {
			_ = sqlDB.Close()
		}
	}
	if r.logCloser != nil {
		_ = r.logCloser.Close()
	}
}

// open loads the configuration, configures logging and opens the migrated database.
func open(cfg config.AppConfig) (*runtime, error) {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	appCfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		return nil, errLoad
	}
	logCloser, errLog := logging.Setup(appCfg.Logging)
	if errLog != nil {
		return nil, errLog
	}
	rt := &runtime{cfg: appCfg, logCloser: logCloser}
	conn, errOpen := db.Open(appCfg.Database.DSN)
	if errOpen != nil {
		rt.Close()
		return nil, errOpen
	}
	rt.conn = conn
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		rt.Close()
		return nil, errMigrate
	}
	return rt, nil
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	rt, errOpen := open(cfg)
	if errOpen != nil {
		return errOpen
	}
	defer rt.Close()
	log.Infof("database migrated (dsn=%s)", rt.cfg.Database.DSN)
	return nil
}

// Resequence rewrites rule priorities to 1..N and reports how many rows changed.
func Resequence(ctx context.Context, cfg config.AppConfig) (int, error) {
	rt, errOpen := open(cfg)
	if errOpen != nil {
		return 0, errOpen
	}
	defer rt.Close()
	store := rules.NewStore(rt.conn, rules.NewValidator(rt.cfg.Validation.RandomProbes))
	return store.Resequence(ctx)
}

// RotateLogs deletes request log entries older than days. days <= 0 applies the configured
// retention, including runtime overrides and decision log retention.
func RotateLogs(ctx context.Context, cfg config.AppConfig, days int) (int64, error) {
	rt, errOpen := open(cfg)
	if errOpen != nil {
		return 0, errOpen
	}
	defer rt.Close()
	settingsStore := settings.NewStore(rt.conn)
	if errRefresh := settingsStore.Refresh(ctx); errRefresh != nil {
		return 0, errRefresh
	}
	pruner := requestlog.NewPruner(rt.conn, settingsStore, rt.cfg.RequestLog.RetentionDays)
	if days > 0 {
		return pruner.PruneOlderThan(ctx, days)
	}
	return pruner.Prune(ctx)
}

// RunServer boots the policy router and blocks until ctx is cancelled or the listener fails.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	rt, errOpen := open(cfg)
	if errOpen != nil {
		return errOpen
	}
	defer rt.Close()
	appCfg, conn := rt.cfg, rt.conn

	if !log.IsLevelEnabled(log.DebugLevel) {
		gin.SetMode(gin.ReleaseMode)
	}

	schema, errSchema := config.LoadSchema(appCfg.SchemaFile)
	if errSchema != nil {
		return errSchema
	}
	settingsStore := settings.NewStore(conn)
	if errRefresh := settingsStore.Refresh(ctx); errRefresh != nil {
		return errRefresh
	}
	credentials := security.NewCredentialStore(conn)
	if errSeed := seedCredentials(ctx, credentials, appCfg); errSeed != nil {
		return errSeed
	}

	collector := metrics.NewCollector()
	sink, closeSink, errSink := buildSink(ctx, conn, appCfg.RequestLog)
	if errSink != nil {
		return errSink
	}
	defer closeSink()

	store := rules.NewStore(conn, rules.NewValidator(appCfg.Validation.RandomProbes))
	resolver := dispatch.NewResolver(dispatch.Options{
		Timeout:          appCfg.Upstream.Timeout,
		Sink:             sink,
		Metrics:          collector,
		BodySnippetBytes: appCfg.RequestLog.BodySnippetBytes,
	})
	metricsPath := ""
	if appCfg.Metrics.Enabled {
		metricsPath = appCfg.Metrics.Path
	}
	engine, errRouter := internalhttp.NewRouter(internalhttp.RouterOptions{
		Policy: internalhttp.NewPolicyHandler(matcher.NewEngine(store), resolver, collector),
		Admin: admin.Deps{
			DB:       conn,
			Rules:    store,
			Logic:    logic.NewService(conn, schema, collector),
			Settings: settingsStore,
			Schema:   schema,
			Metrics:  collector,
		},
		Credentials:    credentials,
		PolicyAuth:     appCfg.PolicyAuth.Enabled,
		AdminAuth:      appCfg.AdminAuth.Enabled,
		Metrics:        collector,
		MetricsPath:    metricsPath,
		TrustedProxies: appCfg.Server.TrustedProxies,
	})
	if errRouter != nil {
		return errRouter
	}

	pruner := requestlog.NewPruner(conn, settingsStore, appCfg.RequestLog.RetentionDays)
	scheduler := requestlog.NewScheduler(pruner, appCfg.RequestLog.PruneSchedule)
	if errStart := scheduler.Start(ctx); errStart != nil {
		return errStart
	}
	defer scheduler.Stop()

	srv := &http.Server{
		Addr:         appCfg.Server.Addr(),
		Handler:      engine,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
	}
	errChan := make(chan error, 1)
	go func() {
		log.Infof("policy router listening on %s", srv.Addr)
		if errServe := srv.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errChan <- errServe
		}
		close(errChan)
	}()

	select {
	case errServe, ok := <-errChan:
		if ok {
			return fmt.Errorf("http server: %w", errServe)
		}
		return nil
	case <-ctx.Done():
		log.Info("shutting down policy router")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.Server.ShutdownTimeout)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			return fmt.Errorf("http server shutdown: %w", errShutdown)
		}
		return nil
	}
}

// seedCredentials upserts configured users and bootstraps an admin when the admin API is guarded.
func seedCredentials(ctx context.Context, store *security.CredentialStore, cfg *config.Config) error {
	seeds := make([]security.Seed, 0, len(cfg.PolicyAuth.Users)+len(cfg.AdminAuth.Users))
	for _, user := range cfg.PolicyAuth.Users {
		seeds = append(seeds, security.Seed{Username: user.Username, Password: user.Password})
	}
	for _, user := range cfg.AdminAuth.Users {
		seeds = append(seeds, security.Seed{Username: user.Username, Password: user.Password, Admin: true})
	}
	if len(seeds) > 0 {
		if errUpsert := store.Upsert(ctx, seeds); errUpsert != nil {
			return errUpsert
		}
	}
	if !cfg.AdminAuth.Enabled {
		return nil
	}
	password, errEnsure := store.EnsureAdmin(ctx, bootstrapAdminUsername)
	if errEnsure != nil {
		return errEnsure
	}
	if password != "" {
		log.Warnf("bootstrap admin %q password: %s (change it via admin-auth.users)", bootstrapAdminUsername, password)
	}
	return nil
}

// buildSink returns the request log sink, mirroring entries to Redis when configured.
func buildSink(ctx context.Context, conn *gorm.DB, cfg config.RequestLogConfig) (requestlog.Sink, func(), error) {
	primary := requestlog.NewGormSink(conn)
	if !cfg.Redis.Enabled {
		return primary, func() {}, nil
	}
	addr := strings.TrimSpace(cfg.Redis.Addr)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", addr, errPing)
	}
	log.Infof("mirroring request logs to redis stream %s", cfg.Redis.Stream)
	mirror := requestlog.NewRedisStreamSink(client, cfg.Redis.Stream, cfg.Redis.MaxLen)
	return requestlog.MultiSink{primary, mirror}, func() { _ = client.Close() }, nil
}
