package gatewarden

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/backup"
	"github.com/gatewarden/gatewarden/internal/bootstrap"
	cfg "github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/executor"
	"github.com/gatewarden/gatewarden/internal/health"
	"github.com/gatewarden/gatewarden/internal/history"
	"github.com/gatewarden/gatewarden/internal/metrics"
	iapi "github.com/gatewarden/gatewarden/internal/server"
	"github.com/gatewarden/gatewarden/internal/state"
	"github.com/gatewarden/gatewarden/internal/supervisor"
	"github.com/gatewarden/gatewarden/internal/volume"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Layout = state.Layout

type Executor = executor.Executor

type ExecutorHandle = executor.Handle

type HealthResult = health.Result

type SyncResult = backup.SyncResult

type BackupInfo = backup.BackupInfo

type BackupList = backup.BackupList

type GoldenBackupResult = backup.GoldenBackupResult

type ProcessRef = supervisor.ProcessRef

type RestartResult = supervisor.RestartResult

type StartupError = supervisor.StartupError

type RestoreDecision = bootstrap.Decision

type HistorySink = history.Sink

type Config = cfg.FileConfig

// Warden is a thin facade bundling the supervisor and the backup engine.
// It provides a stable public API for embedding.

type Warden struct {
	sup    *supervisor.Supervisor
	engine *backup.Engine
	layout state.Layout
	gate   health.Gate
}

// Options assembles a Warden from its parts. Executor defaults to the local
// executor; Mounter may be nil when the durable root needs no mount step.
type Options struct {
	Layout      state.Layout
	Gateway     supervisor.Config
	Exec        executor.Executor
	Mounter     *volume.Mounter
	Credentials backup.CredentialsFn
	Logger      *slog.Logger
}

func New(opts Options) *Warden {
	if opts.Exec == nil {
		opts.Exec = executor.NewLocal()
	}
	sup := supervisor.New(opts.Gateway, opts.Exec, opts.Logger)
	engine := backup.New(opts.Layout, opts.Exec, opts.Mounter, opts.Credentials, opts.Logger)
	return &Warden{sup: sup, engine: engine, layout: opts.Layout}
}

func (w *Warden) AddHistorySink(s HistorySink) { w.engine.AddSink(s) }

func (w *Warden) EnsureGateway(ctx context.Context) error { return w.sup.EnsureRunning(ctx) }
func (w *Warden) FindGateway(ctx context.Context) *ProcessRef {
	return w.sup.FindExisting(ctx)
}
func (w *Warden) RestartGateway(ctx context.Context) RestartResult { return w.sup.Restart(ctx) }

func (w *Warden) Sync(ctx context.Context) SyncResult { return w.engine.SyncToDurable(ctx) }
func (w *Warden) GoldenBackup(ctx context.Context) GoldenBackupResult {
	return w.engine.CreateGoldenBackup(ctx)
}
func (w *Warden) Backups() (BackupList, error) { return w.engine.ListBackups() }
func (w *Warden) Restore(ctx context.Context, kind, name string) error {
	return w.engine.RestoreFromBackup(ctx, kind, name)
}

func (w *Warden) Health() HealthResult { return w.gate.Check(w.layout) }

// RestoreAtBoot pulls durable state into the local state directory when it
// is fresher, then normalizes the config. Call once before EnsureGateway.
func (w *Warden) RestoreAtBoot(log *slog.Logger) (bootstrap.RestoreResult, error) {
	return bootstrap.RestoreAtBoot(w.layout, log)
}

func LoadConfig(path string) (*Config, error) {
	return cfg.Load(path)
}

// NewHTTPServer starts an HTTP server exposing the internal API for the given warden.
// verifier may be nil to disable authentication.
func NewHTTPServer(addr, basePath string, w *Warden, verifier auth.TokenVerifier) (*http.Server, error) {
	mw := auth.NewMiddleware(verifier)
	r := iapi.NewRouter(w.sup, w.engine, w.layout, mw, basePath)
	return iapi.NewServer(addr, r)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
