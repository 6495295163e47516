package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shouni/psychedelic-image-kit/pkg/config"
	"github.com/shouni/psychedelic-image-kit/pkg/generator"
	"github.com/shouni/psychedelic-image-kit/pkg/metrics"
	"github.com/shouni/psychedelic-image-kit/pkg/pipeline"
	"github.com/shouni/psychedelic-image-kit/pkg/progress"
	"github.com/shouni/psychedelic-image-kit/pkg/server"
	"github.com/shouni/psychedelic-image-kit/pkg/service"
	"github.com/shouni/psychedelic-image-kit/pkg/store"
	"github.com/shouni/psychedelic-image-kit/pkg/worker"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, progress websocket and worker pool",
	Long: `Start the HTTP server. Uploads posted to /api/process are queued on the
worker pool; progress is streamed over /ws and finished grids are stored.

Example:
  PSYGRID_GEN_BACKEND=local psygrid serve --addr :9090`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides PSYGRID_HTTP_ADDR)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(func(c *config.Config) {
		if serveAddr != "" {
			c.HTTP.Addr = serveAddr
		}
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	backend, err := generator.New(ctx, cfg.Generator(), m)
	if err != nil {
		return fmt.Errorf("init generator: %w", err)
	}
	orch, err := pipeline.NewOrchestrator(backend, pipeline.Options{
		TargetSize:     backend.ImageSize(),
		ColorMode:      cfg.ColorMode(),
		DisplaySize:    cfg.Pipeline.DisplaySize,
		DisplayQuality: cfg.Pipeline.DisplayQuality,
	}, logger)
	if err != nil {
		return err
	}

	hub := progress.NewHub(progress.WithBuffer(cfg.Progress.Buffer), progress.WithDropHook(m.EventDropped))
	publisher, stopRelay, err := newPublisher(ctx, cfg, hub, logger)
	if err != nil {
		return err
	}
	defer stopRelay()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	pool, err := worker.NewPool(cfg.Worker.Count, cfg.Worker.Queue, logger)
	if err != nil {
		return err
	}
	pool.Start(ctx)

	processor, err := service.NewProcessor(service.Dependencies{
		Runner:            orch,
		Pool:              pool,
		Store:             st,
		Publisher:         publisher,
		Recorder:          m,
		Logger:            logger,
		DefaultIterations: cfg.Pipeline.Iterations,
	})
	if err != nil {
		return err
	}

	router, err := server.NewRouter(server.Options{
		Processor: processor,
		Store:     st,
		Progress: progress.NewHandler(hub, progress.HandlerConfig{
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			PongWait:       cfg.Progress.PongWait,
			Logger:         logger,
		}),
		Metrics:          m.Handler(),
		Recorder:         m,
		UploadsPerMinute: cfg.HTTP.UploadsPerMinute,
		UploadBurst:      cfg.HTTP.UploadBurst,
		MaxUpload:        cfg.HTTP.MaxUpload,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	runErr := server.New(cfg.HTTP.Addr, router, logger).Run(ctx, cfg.HTTP.ShutdownTimeout)
	drain(pool, stopRelay, cfg.HTTP.ShutdownTimeout, logger)
	return runErr
}

type stopper interface {
	Stop(ctx context.Context) error
}

// drain は実行中の変換を打ち切らずに待ち、その後で進捗の中継を止めます。
// 中継を先に止めると、残りの実行の進捗と final イベントが届かなくなるのだ。
func drain(pool stopper, stopRelay func(), timeout time.Duration, logger *slog.Logger) {
	stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := pool.Stop(stopCtx); err != nil {
		logger.Warn("worker pool did not drain before timeout", "error", err)
	}
	stopRelay()
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// newPublisher は Redis が設定されていれば中継ブローカーを、なければローカルの Hub を返します。
// 中継はシグナルでは止まらず、返された stop を呼ぶまで動き続けます。
func newPublisher(ctx context.Context, cfg *config.Config, hub *progress.Hub, logger *slog.Logger) (progress.Publisher, func(), error) {
	if cfg.Progress.RedisURL == "" {
		return hub, func() {}, nil
	}
	client, err := progress.NewRedisClient(ctx, cfg.Progress.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	broker, err := progress.NewRedisBroker(client, cfg.Progress.RedisChannel, hub, logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	relayCtx, cancelRelay := context.WithCancel(context.WithoutCancel(ctx))
	ready := make(chan struct{})
	errCh := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer client.Close()
		err := broker.Run(relayCtx, ready)
		if err != nil {
			logger.ErrorContext(relayCtx, "progress relay stopped", "error", err)
		}
		errCh <- err
	}()

	stop := func() {
		cancelRelay()
		<-done
	}

	select {
	case <-ready:
		return broker, stop, nil
	case err := <-errCh:
		cancelRelay()
		if err == nil {
			err = fmt.Errorf("progress relay exited before subscribing")
		}
		return nil, nil, err
	case <-ctx.Done():
		stop()
		return nil, nil, ctx.Err()
	}
}

// openStore は設定に応じたストアを開き、保存の再試行で包みます。
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	retry := []store.RetryOption{store.WithRetries(cfg.Store.SaveRetries), store.WithLogger(logger)}

	if cfg.Store.Driver != config.StorePostgres {
		return store.NewRetrying(store.NewMemory(), retry...), func() {}, nil
	}

	pg, err := store.OpenPostgres(ctx, cfg.Store.DSN)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Store.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
	}
	closeFn := func() {
		if err := pg.Close(); err != nil {
			logger.Warn("failed to close postgres", "error", err)
		}
	}
	return store.NewRetrying(pg, retry...), closeFn, nil
}
