package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	cacheadapter "github.com/smallbiznis/accounts-auth/internal/adapter/cache"
	"github.com/smallbiznis/accounts-auth/internal/bootstrap"
	"github.com/smallbiznis/accounts-auth/internal/config"
	httptransport "github.com/smallbiznis/accounts-auth/internal/http"
	"github.com/smallbiznis/accounts-auth/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/accounts-auth/internal/http/middleware"
	apimiddleware "github.com/smallbiznis/accounts-auth/internal/middleware"
	"github.com/smallbiznis/accounts-auth/internal/repository"
	"github.com/smallbiznis/accounts-auth/internal/server"
	"github.com/smallbiznis/accounts-auth/internal/service"
	"github.com/smallbiznis/accounts-auth/internal/telemetry"
	"github.com/smallbiznis/accounts-auth/internal/token"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newUserRepository,
			newRedisClient,
			newAttemptStore,
			newTokenCodec,
			newRateLimiter,
			newAuthService,
			handler.NewAuthHandler,
			handler.NewUserHandler,
			newAuthMiddleware,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, runMigrations, bootstrap.EnsureAdmin, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newAttemptStore(client redis.UniversalClient, cfg config.Config) repository.LoginAttemptStore {
	return cacheadapter.NewRedisAttemptStore(client, cfg.LoginAttemptWindow)
}

func newTokenCodec(cfg config.Config) *token.Codec {
	return token.NewCodec(cfg)
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newAuthService(users repository.UserRepository, attempts repository.LoginAttemptStore, codec *token.Codec, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *service.AuthService {
	return service.NewAuthService(users, attempts, codec, node, cfg, logger)
}

func newAuthMiddleware(codec *token.Codec) *httpmiddleware.Auth {
	return httpmiddleware.NewAuth(codec)
}

func runMigrations(cfg config.Config, logger *zap.Logger) error {
	migrator, err := repository.NewMigrator(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migrator init: %w", err)
	}
	defer migrator.Close()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info("database migrations applied")
	return nil
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, logger *zap.Logger) {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			logger.Info("http server starting", zap.String("addr", srv.Addr()))
			go func() {
				if err := srv.Run(runCtx); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
