package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/boot"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/infrastructure/server"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/shared/id"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "kernel:", err)
		os.Exit(1)
	}
}

func run() error {
	platformPath := flag.String("platform", "", "Platform description (.yaml, .yml or .toml), overrides KERNEL_PLATFORM")
	httpAddr := flag.String("http", "", "Introspection API address, overrides HTTP_ADDR")
	noHTTP := flag.Bool("no-http", false, "Disable the introspection API")
	dev := flag.Bool("dev", false, "Development logging")
	traceSyscalls := flag.Bool("trace", false, "Record every syscall as a span")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *platformPath != "" {
		cfg.Kernel.Platform = *platformPath
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}
	if *noHTTP {
		cfg.HTTP.Enabled = false
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logCfg := logging.DefaultConfig()
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
	}
	logCfg.Level = cfg.Logging.Level
	logger, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var plat *config.Platform
	if cfg.Kernel.Platform != "" {
		plat, err = config.LoadPlatform(cfg.Kernel.Platform)
		if err != nil {
			return err
		}
		logger.Info("Platform loaded",
			zap.String("path", cfg.Kernel.Platform),
			zap.String("name", plat.Name),
			zap.Int("boot_vpes", len(plat.Boot)),
		)
	}

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("kernel", logger.Component("trace"))
	defer tracer.Close()

	bootID := id.NewBootID()
	kopts := []kernel.Option{
		kernel.WithBootID(bootID.String()),
		kernel.WithMetrics(metrics),
		kernel.WithTransferObserver(metrics),
	}
	if *traceSyscalls {
		kopts = append(kopts, kernel.WithTracer(tracer))
	}

	m, err := boot.Boot(cfg, plat, logger.Logger, kopts)
	if err != nil {
		return err
	}
	if plat != nil {
		if err := m.Spawn(plat.Boot); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.Run(gctx)
	})
	if cfg.HTTP.Enabled {
		srv := server.New(cfg, m.Kernel, metrics, tracer, logger.Logger, server.WithLogLevels(logger))
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}
	// programs may all finish; the machine stays up until a signal arrives.
	// SIGHUP re-reads LOG_LEVEL.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				reloadLogLevel(logger)
			}
		}
	})

	err = g.Wait()
	logger.Info("Shutting down", zap.String("boot_id", bootID.String()))
	if serr := m.Shutdown(); serr != nil {
		logger.Warn("Shutdown incomplete", zap.Error(serr))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func reloadLogLevel(logger *logging.Logger) {
	cfg, err := config.Load()
	if err != nil {
		logger.Warn("Config reload failed", zap.Error(err))
		return
	}
	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		logger.Warn("Invalid log level", zap.Error(err))
		return
	}
	logger.Info("Log level reloaded", zap.Stringer("level", logger.Level()))
}
