package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/rl1809/eshop-product-service/internal/app"
	"github.com/rl1809/eshop-product-service/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cliApp := &cli.App{
		Name:    config.ServiceName,
		Usage:   "product catalog and inventory service",
		Version: config.ServiceVersion,
		Action:  serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "serve HTTP and gRPC and consume cart events",
				Action: serve,
			},
			{
				Name:   "seed",
				Usage:  "create demo products in an empty catalog",
				Action: seed,
			},
		},
	}

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		log.Fatalf("%s: %v", config.ServiceName, err)
	}
}

func serve(c *cli.Context) error {
	return withContainer(c.Context, func(container *app.Container) error {
		err := container.Run(c.Context)
		if err != nil {
			container.Logger().Error("service stopped", zap.Error(err))
		}
		return err
	})
}

func seed(c *cli.Context) error {
	return withContainer(c.Context, func(container *app.Container) error {
		n, err := app.Seed(c.Context, container.Dispatcher(), container.Logger())
		if err != nil {
			return err
		}
		fmt.Printf("seeded %d products\n", n)
		return nil
	})
}

func withContainer(ctx context.Context, fn func(*app.Container) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	container, err := app.NewContainer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}

	runErr := fn(container)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := container.Shutdown(shutdownCtx); err != nil {
		container.Logger().Warn("shutdown", zap.Error(err))
	}
	return runErr
}
