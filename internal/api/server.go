package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "VaultPilot/internal/errors"
	"VaultPilot/internal/observability/metrics"
	"VaultPilot/internal/record"
	"VaultPilot/internal/scheduler"
	"VaultPilot/internal/strategy"
	"VaultPilot/internal/trigger"
)

// Server 负责暴露 REST 接口，供外部注册策略并驱动执行。
type Server struct {
	addr       string
	strategies strategy.Store
	triggers   *trigger.Service
	scheduler  *scheduler.Scheduler
}

// NewServer 构造 API 服务实例。scheduler 可以为 nil，表示不做周期性再平衡。
func NewServer(addr string, strategies strategy.Store, triggers *trigger.Service, sched *scheduler.Scheduler) *Server {
	return &Server{addr: addr, strategies: strategies, triggers: triggers, scheduler: sched}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/strategies", s.instrument("strategies", s.handleStrategies))
	mux.HandleFunc("/api/v1/executions", s.instrument("executions", s.handleExecutions))
	mux.HandleFunc("/api/v1/executions/", s.instrument("execution_detail", s.handleExecutionDetail))
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleRegisterStrategy(w, r)
	case http.MethodGet:
		s.handleListStrategies(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

type registerStrategyRequest struct {
	Network  string          `json:"network"`
	Strategy json.RawMessage `json:"strategy"`
}

func (s *Server) handleRegisterStrategy(w http.ResponseWriter, r *http.Request) {
	if s.strategies == nil {
		http.Error(w, "策略存储未初始化", http.StatusServiceUnavailable)
		return
	}

	var req registerStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if len(req.Strategy) == 0 {
		http.Error(w, "strategy 字段不能为空", http.StatusBadRequest)
		return
	}

	parsed, err := strategy.Parse(req.Strategy)
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := s.strategies.Register(r.Context(), req.Network, parsed)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.scheduler != nil {
		if err := s.scheduler.Register(rec); err != nil {
			writeError(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(rec)
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	if s.strategies == nil {
		http.Error(w, "策略存储未初始化", http.StatusServiceUnavailable)
		return
	}
	records, err := s.strategies.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(records)
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitExecution(w, r)
	case http.MethodGet:
		s.handleListExecutions(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

type submitExecutionRequest struct {
	RequestID  string `json:"request_id,omitempty"`
	StrategyID int64  `json:"strategy_id"`
	Network    string `json:"network,omitempty"`
}

func (s *Server) handleSubmitExecution(w http.ResponseWriter, r *http.Request) {
	if s.triggers == nil {
		http.Error(w, "触发服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req submitExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	rec, err := s.triggers.Submit(r.Context(), trigger.SubmitRequest{
		RequestID:  req.RequestID,
		StrategyID: req.StrategyID,
		Network:    req.Network,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(rec)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if s.triggers == nil {
		http.Error(w, "触发服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts := record.ListOptions{}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts.Limit = parsed
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts.Offset = parsed
		}
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := record.Status(raw)
		if !record.IsValidStatus(status) {
			http.Error(w, "无效的状态过滤", http.StatusBadRequest)
			return
		}
		opts.Statuses = []record.Status{status}
	}

	records, err := s.triggers.List(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(records)
}

func (s *Server) handleExecutionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.triggers == nil {
		http.Error(w, "触发服务未初始化", http.StatusServiceUnavailable)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/executions/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "缺少执行标识符", http.StatusBadRequest)
		return
	}

	rec, err := s.triggers.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rec)
}

// writeError 按统一错误码映射 HTTP 状态。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case xerrors.CodeNotFound, record.CodeRecordNotFound:
		status = http.StatusNotFound
	case xerrors.CodeInvalidArgument, strategy.CodeStrategyValidation,
		strategy.CodeConditionUnparsed, trigger.CodeTriggerValidation,
		scheduler.CodeScheduleInvalid:
		status = http.StatusBadRequest
	case xerrors.CodeConflict, record.CodeRecordConflict:
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}

// instrument 记录请求的指标数据。
func (s *Server) instrument(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(started))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
