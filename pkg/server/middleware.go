package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/shouni/psychedelic-image-kit/pkg/progress"
	"golang.org/x/time/rate"
)

type userIDKey struct{}

// UserID は RequireUser が格納したユーザー ID を返します。
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// RequireUser は X-User-ID ヘッダのないリクエストを 401 で拒否します。
// 認証自体は前段のゲートウェイが行う前提です。
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(progress.UserIDHeader)
		if id == "" {
			WriteError(w, http.StatusUnauthorized, "missing "+progress.UserIDHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey{}, id)))
	})
}

// RateLimiter はユーザーごとのトークンバケットです。
// 一定時間使われなかったバケットは満杯に戻っているので、次のアクセス時にまとめて捨てます。
type RateLimiter struct {
	limiters  map[string]*limiterEntry
	mu        sync.Mutex
	rate      rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
	logger    *slog.Logger
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const minLimiterIdleTTL = time.Minute

// NewRateLimiter は perMinute 回/分、burst 回まで連続を許すリミッタを作ります。
func NewRateLimiter(perMinute float64, burst int, logger *slog.Logger) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(perMinute / 60),
		burst:    burst,
		idleTTL:  idleTTL(perMinute, burst),
		now:      time.Now,
		logger:   logger,
	}
}

// idleTTL はバケットが空から満杯まで回復する時間です。
func idleTTL(perMinute float64, burst int) time.Duration {
	if perMinute <= 0 {
		return 10 * minLimiterIdleTTL
	}
	ttl := time.Duration(float64(burst) / perMinute * float64(time.Minute))
	if ttl < minLimiterIdleTTL {
		return minLimiterIdleTTL
	}
	return ttl
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= rl.idleTTL {
		for k, e := range rl.limiters {
			if now.Sub(e.lastSeen) >= rl.idleTTL {
				delete(rl.limiters, k)
			}
		}
		rl.lastSweep = now
	}

	e, ok := rl.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// Middleware は上限を超えたリクエストを 429 で拒否します。
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := UserID(r.Context())
		if key == "" {
			key = r.RemoteAddr
		}
		if !rl.getLimiter(key).Allow() {
			rl.logger.WarnContext(r.Context(), "rate limit exceeded", "key", key, "path", r.URL.Path)
			WriteError(w, http.StatusTooManyRequests, "too many uploads, please wait")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPRecorder はリクエストの計測値を受け取ります。*metrics.Metrics が満たします。
type HTTPRecorder interface {
	HTTPStarted() func(method, path string, status int)
}

// Instrument はリクエストごとにメトリクスとアクセスログを記録します。
func Instrument(recorder HTTPRecorder, logger *slog.Logger) mux.MiddlewareFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			var done func(string, string, int)
			if recorder != nil {
				done = recorder.HTTPStarted()
			}

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}
			if done != nil {
				done(r.Method, path, wrapped.statusCode)
			}
			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", path,
				"status", wrapped.statusCode,
				"duration", time.Since(start),
			)
		})
	}
}

// responseWriter はステータスコードを記録します。websocket のために Hijack も委譲します。
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
