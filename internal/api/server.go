package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	xerrors "GrinderAI-Chain/internal/errors"
	"GrinderAI-Chain/internal/market"
	"GrinderAI-Chain/internal/observability/metrics"
	"GrinderAI-Chain/internal/storage/mysql"
	"GrinderAI-Chain/internal/web3"
	"GrinderAI-Chain/pkg/logger"
)

const (
	defaultCycleLimit = mysql.DefaultListLimit
	maxCycleLimit     = 500
	chainQueryTimeout = 5 * time.Second
)

// StateSource 提供共享市场状态的快照。
type StateSource interface {
	Snapshot() market.Snapshot
}

// ChainSource 提供链的基础信息。
type ChainSource interface {
	FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error)
}

// CycleHistory 提供最近的周期记录。
type CycleHistory interface {
	ListLatest(ctx context.Context, limit int) ([]mysql.CycleRecord, error)
}

// StateResponse 是 /api/v1/state 的返回结构。
type StateResponse struct {
	Market     market.Snapshot     `json:"market"`
	Chain      *web3.ChainSnapshot `json:"chain,omitempty"`
	ChainError string              `json:"chain_error,omitempty"`
}

// Server 负责暴露状态查询接口。
type Server struct {
	addr    string
	state   StateSource
	chain   ChainSource
	history CycleHistory
	logger  *slog.Logger
}

// NewServer 构造 API 服务实例，chain 与 history 可以为空。
func NewServer(addr string, state StateSource, chain ChainSource, history CycleHistory) *Server {
	return &Server{
		addr:    addr,
		state:   state,
		chain:   chain,
		history: history,
		logger:  logger.Named("api"),
	}
}

// Handler 返回挂载了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", instrument("healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("/api/v1/state", instrument("state", http.HandlerFunc(s.handleState)))
	mux.Handle("/api/v1/cycles", instrument("cycles", http.HandlerFunc(s.handleCycles)))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("状态接口已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.state == nil {
		http.Error(w, "状态未初始化", http.StatusServiceUnavailable)
		return
	}

	resp := StateResponse{Market: s.state.Snapshot()}
	if s.chain != nil {
		ctx, cancel := context.WithTimeout(r.Context(), chainQueryTimeout)
		defer cancel()
		snapshot, err := s.chain.FetchChainSnapshot(ctx)
		if err != nil {
			// 链信息获取失败不影响市场状态的返回。
			s.logger.Warn("获取链信息失败", xerrors.LogAttrs(err)...)
			resp.ChainError = err.Error()
		} else {
			resp.Chain = &snapshot
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		http.Error(w, "周期存储未初始化", http.StatusServiceUnavailable)
		return
	}

	limit := defaultCycleLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxCycleLimit {
		limit = maxCycleLimit
	}

	records, err := s.history.ListLatest(r.Context(), limit)
	if err != nil {
		s.logger.Warn("查询周期记录失败", xerrors.LogAttrs(err)...)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []mysql.CycleRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusRecorder 记录处理器写出的状态码。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument 为处理器记录请求数与耗时。
func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
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
