// Package server は変換依頼・画像一覧・進捗 websocket・メトリクスの HTTP エンドポイントを提供します。
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shouni/psychedelic-image-kit/pkg/store"
)

// DefaultMaxUpload はアップロードの上限バイト数です。
const DefaultMaxUpload = 10 << 20

// Options はルーターの組み立てに使う部品です。
type Options struct {
	Processor Submitter
	Store     store.Store
	// Progress は /ws を処理するハンドラです。nil なら /ws は登録しません。
	Progress http.Handler
	// Metrics は /metrics を処理するハンドラです。nil なら登録しません。
	Metrics  http.Handler
	Recorder HTTPRecorder
	// UploadsPerMinute が 0 より大きければユーザーごとにアップロード頻度を制限します。
	UploadsPerMinute float64
	UploadBurst      int
	MaxUpload        int64
	Logger           *slog.Logger
}

// NewRouter はルーティングとミドルウェアを組み立てます。
func NewRouter(opts Options) (*mux.Router, error) {
	if opts.Processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = DefaultMaxUpload
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h := &Handlers{
		processor: opts.Processor,
		store:     opts.Store,
		maxUpload: opts.MaxUpload,
		logger:    opts.Logger,
	}

	r := mux.NewRouter()
	r.Use(Instrument(opts.Recorder, opts.Logger))

	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}
	if opts.Progress != nil {
		r.Handle("/ws", opts.Progress).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(RequireUser)

	var upload http.Handler = http.HandlerFunc(h.process)
	if opts.UploadsPerMinute > 0 {
		upload = NewRateLimiter(opts.UploadsPerMinute, opts.UploadBurst, opts.Logger).Middleware(upload)
	}
	api.Handle("/process", upload).Methods(http.MethodPost)
	api.HandleFunc("/images", h.listImages).Methods(http.MethodGet)
	api.HandleFunc("/images/{id}", h.getImage).Methods(http.MethodGet)

	return r, nil
}

// Server は http.Server を ctx に合わせて起動・停止します。
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

func New(addr string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Run は ctx が終わるまで待ち受け、終わったら shutdownTimeout 以内に停止します。
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "http server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.logger.InfoContext(ctx, "shutting down http server")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
