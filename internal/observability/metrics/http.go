package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	httpRequests = newCounterVec(
		"vaultpilot_http_requests_total",
		"Total number of HTTP requests processed.",
		"handler", "method", "code",
	)
	httpErrors = newCounterVec(
		"vaultpilot_http_request_errors_total",
		"Total number of HTTP requests that resulted in a server error.",
		"handler", "method",
	)
	httpDuration = newHistogramVec(
		"vaultpilot_http_request_duration_seconds",
		"HTTP request duration in seconds.",
		"handler", "method",
	)
)

// ObserveHTTPRequest 记录一次 HTTP 请求的状态码与耗时。
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.inc(handler, method, strconv.Itoa(status))
	if status >= http.StatusInternalServerError {
		httpErrors.inc(handler, method)
	}
	httpDuration.observe(duration.Seconds(), handler, method)
}

// Handler 以 Prometheus 文本格式输出全部已注册指标。
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		var b strings.Builder
		b.Grow(4096)
		httpRequests.write(&b)
		httpErrors.write(&b)
		httpDuration.write(&b)
		executions.write(&b)
		phaseErrors.write(&b)
		executionDuration.write(&b)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(b.String()))
	})
}

// StartServer 启动独立的 /metrics 端口，随 ctx 取消而优雅关闭。
// API 端口内置了同一个 Handler，只有需要隔离抓取面时才启用本函数。
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("指标服务地址不能为空")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
