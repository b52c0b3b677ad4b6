package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gatewarden/gatewarden"
	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/backup"
	"github.com/gatewarden/gatewarden/internal/executor"
	"github.com/gatewarden/gatewarden/internal/history/factory"
	"github.com/gatewarden/gatewarden/internal/logger"
	"github.com/gatewarden/gatewarden/internal/supervisor"
	"github.com/gatewarden/gatewarden/internal/volume"
)

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	LogFile    string
	SyncEvery  time.Duration
}

func runServeCommand(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	if configPath == "" {
		return fmt.Errorf("config file required for serve command. Use --config=config.toml or provide as argument")
	}

	cfg, err := gatewarden.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if flags.Daemonize {
		return daemonize("", flags.LogFile)
	}

	log := logger.Setup(cfg.Log.Level, cfg.Log.File)
	layout := cfg.Layout()

	if cfg.Metrics.Enabled {
		if err := gatewarden.RegisterMetricsDefault(); err != nil {
			fmt.Printf("Warning: failed to register metrics: %v\n", err)
		}
		if cfg.Metrics.Listen != "" {
			go func() {
				if err := gatewarden.ServeMetrics(cfg.Metrics.Listen); err != nil {
					fmt.Printf("Metrics server error: %v\n", err)
				}
			}()
		}
	}

	exec := executor.NewLocal()

	var mounter *volume.Mounter
	if cfg.Volume.MountCommand != "" {
		mounter = volume.NewMounter(
			cfg.Volume.Bucket,
			cfg.State.DurableRoot,
			cfg.Volume.Endpoint,
			volume.CommandMountFn(exec, cfg.Volume.MountCommand),
			log,
		)
	}

	warden := gatewarden.New(gatewarden.Options{
		Layout: layout,
		Gateway: supervisor.Config{
			StartCommand: cfg.Gateway.Command,
			Signatures:   cfg.Gateway.Signatures,
			Port:         cfg.Gateway.Port,
			APIKeyEnv:    cfg.Gateway.APIKeyEnv,
			StartTimeout: cfg.Gateway.StartTimeout,
			KillGrace:    cfg.Gateway.KillGrace,
		},
		Exec:        exec,
		Mounter:     mounter,
		Credentials: backup.CredentialsFn(cfg.Credentials),
		Logger:      log,
	})

	if cfg.History.Enabled && cfg.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			fmt.Printf("Warning: history sink disabled: %v\n", err)
		} else {
			warden.AddHistorySink(sink)
		}
	}

	// Mount before the restore decision so durable markers are readable.
	if mounter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), executor.CopyTimeout)
		mounter.Mount(ctx, cfg.Credentials())
		cancel()
	}

	if _, err := warden.RestoreAtBoot(log); err != nil {
		fmt.Printf("Warning: boot restore failed: %v\n", err)
	}

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), executor.StartupTimeout)
	if err := warden.EnsureGateway(bootCtx); err != nil {
		// Supervision continues; operators can retry via the API.
		fmt.Printf("Warning: gateway startup failed: %v\n", err)
	}
	cancelBoot()

	var verifier auth.TokenVerifier
	if cfg.Server.AuthSecret != "" {
		keys := auth.StaticKeyCache([]byte(cfg.Server.AuthSecret))
		verifier = auth.NewJWTVerifier(keys, cfg.Server.Audience, cfg.Server.TeamDomain)
	}

	server, err := gatewarden.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, warden, verifier)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	fmt.Printf("Starting gatewarden server on %s%s\n", cfg.Server.Listen, cfg.Server.BasePath)

	// Periodic sync loop when configured.
	stopSync := make(chan struct{})
	syncEvery := cfg.Backup.SyncEvery
	if flags.SyncEvery > 0 {
		syncEvery = flags.SyncEvery
	}
	if syncEvery > 0 {
		go func() {
			t := time.NewTicker(syncEvery)
			defer t.Stop()
			for {
				select {
				case <-stopSync:
					return
				case <-t.C:
					ctx, cancel := context.WithTimeout(context.Background(), 2*executor.CopyTimeout)
					res := warden.Sync(ctx)
					cancel()
					if res.Error != "" {
						log.Warn("periodic sync failed", "error", res.Error)
					}
				}
			}
		}()
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	close(stopSync)

	// Final sync attempt so the durable copy is as fresh as possible.
	ctx, cancel := context.WithTimeout(context.Background(), 2*executor.CopyTimeout)
	if res := warden.Sync(ctx); res.Error != "" {
		log.Warn("shutdown sync failed", "error", res.Error)
	}
	cancel()

	return server.Close()
}
