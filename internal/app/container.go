package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/eshop-product-service/internal/adapter/handler"
	"github.com/rl1809/eshop-product-service/internal/adapter/messaging"
	"github.com/rl1809/eshop-product-service/internal/adapter/storage"
	"github.com/rl1809/eshop-product-service/internal/config"
	"github.com/rl1809/eshop-product-service/internal/core/domain"
	"github.com/rl1809/eshop-product-service/internal/core/service"
	"github.com/rl1809/eshop-product-service/internal/core/uow"
	"github.com/rl1809/eshop-product-service/internal/observability"
	"github.com/rl1809/eshop-product-service/internal/port"
)

const redisPoolSize = 100

// ConsumedQueues are the queues the service subscribes to on startup.
var ConsumedQueues = []string{
	domain.QueueProductAddedToCart,
	domain.QueueProductRemovedFromCart,
}

// Container owns every long-lived dependency of the service.
type Container struct {
	cfg        *config.Config
	logger     *zap.Logger
	products   port.ProductRepository
	broker     port.MessageBroker
	processed  port.IdempotencyStore
	dispatcher *service.Dispatcher

	closers   []func() error
	telemetry observability.Shutdown
}

// NewContainer wires storage, broker, idempotency store and handlers from cfg.
// Anything opened before a failure is released before returning.
func NewContainer(ctx context.Context, cfg *config.Config) (_ *Container, err error) {
	c := &Container{cfg: cfg}
	defer func() {
		if err != nil {
			_ = c.Shutdown(context.Background())
		}
	}()

	logShutdown, err := observability.SetupLogging(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	c.telemetry = logShutdown

	c.logger, err = observability.NewLogger(cfg.LogLevel, cfg.OtelEndpoint != "")
	if err != nil {
		return nil, err
	}

	tp, traceShutdown, err := observability.SetupTracing(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	c.telemetry = observability.JoinShutdown(logShutdown, traceShutdown)

	if err := c.openStore(ctx); err != nil {
		return nil, err
	}

	switch cfg.Broker {
	case config.BrokerKafka:
		c.broker = messaging.NewKafkaBroker(messaging.KafkaConfig{
			Brokers:      cfg.KafkaBrokers,
			GroupID:      cfg.KafkaGroupID,
			ClientID:     config.ServiceName,
			BatchTimeout: cfg.KafkaBatch,
		}, tp, c.logger)
	case config.BrokerAMQP:
		b, err := messaging.DialAMQP(cfg.AMQPURL, c.logger)
		if err != nil {
			return nil, err
		}
		c.broker = b
	default:
		c.broker = messaging.NewChannelBroker(c.logger)
	}
	c.closers = append(c.closers, c.broker.Close)

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: redisPoolSize,
		})
		c.closers = append(c.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		c.processed = storage.NewRedisAdapter(rdb, cfg.IdempotencyTTL)
	} else {
		c.processed = storage.NewMemoryIdempotencyStore(cfg.IdempotencyTTL)
	}

	c.dispatcher = service.NewDispatcher(
		uow.NewFactory(c.products, c.broker, c.logger),
		c.logger,
		service.WithTracer(tp.Tracer(config.ServiceName)),
	)

	c.logger.Info("container ready",
		zap.String("store", cfg.StoreDriver),
		zap.String("broker", cfg.Broker),
		zap.Bool("redis_idempotency", cfg.RedisAddr != ""),
	)
	return c, nil
}

func (c *Container) openStore(ctx context.Context) error {
	if c.cfg.StoreDriver == config.StoreMemory {
		c.products = storage.NewMemoryRepository()
		return nil
	}

	db, err := storage.OpenSQL(ctx, c.cfg.StoreDriver, c.cfg.StoreDSN)
	if err != nil {
		return err
	}
	c.closers = append(c.closers, db.Close)

	repo := storage.NewSQLRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return err
	}
	c.products = repo
	return nil
}

func (c *Container) Logger() *zap.Logger { return c.logger }
func (c *Container) Broker() port.MessageBroker { return c.broker }
func (c *Container) Products() port.ProductRepository { return c.products }
func (c *Container) Dispatcher() *service.Dispatcher { return c.dispatcher }
func (c *Container) Processed() port.IdempotencyStore { return c.processed }

// Run serves HTTP and gRPC and consumes every queue in ConsumedQueues until ctx
// is cancelled or one of them fails. A lost broker connection is returned as an
// error wrapping messaging.ErrConnectionLost.
func (c *Container) Run(ctx context.Context) error {
	httpLis, err := net.Listen("tcp", c.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	grpcLis, err := net.Listen("tcp", c.cfg.GRPCAddr)
	if err != nil {
		httpLis.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}

	httpServer := &http.Server{
		Handler:           handler.NewHTTPHandler(c.dispatcher, c.logger).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	grpcServer := handler.NewGRPCServer(handler.NewGRPCHandler(c.dispatcher, c.logger))
	processor := service.NewCartEventProcessor(c.dispatcher, c.processed, c.logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c.logger.Info("HTTP server listening", zap.String("addr", httpLis.Addr().String()))
		if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		c.logger.Info("gRPC server listening", zap.String("addr", grpcLis.Addr().String()))
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	for _, queue := range ConsumedQueues {
		g.Go(func() error {
			c.logger.Info("consuming queue", zap.String("queue", queue))
			if err := c.broker.Consume(ctx, queue, processor); err != nil {
				return fmt.Errorf("consume %s: %w", queue, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		c.logger.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
		defer cancel()

		c.stopGRPC(shutdownCtx, grpcServer)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// stopGRPC drains in-flight RPCs until ctx ends, then cancels whatever is left.
// A handler that ignores cancellation is abandoned rather than waited for.
func (c *Container) stopGRPC(ctx context.Context, server *grpc.Server) {
	done := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("gRPC graceful stop timed out, closing connections")
		server.Stop()
	}
}

// Shutdown closes the broker, store and redis connections in reverse order of
// opening, then flushes telemetry.
func (c *Container) Shutdown(ctx context.Context) error {
	var errs error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = errors.Join(errs, c.closers[i]())
	}
	c.closers = nil

	if c.telemetry != nil {
		errs = errors.Join(errs, c.telemetry(ctx))
		c.telemetry = nil
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
	return errs
}
