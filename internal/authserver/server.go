package authserver

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-gateway/internal/auth"
	"github.com/lk2023060901/danmu-garden-gateway/internal/network/serializer"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/log"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

const (
	PathLogin          = "/AuthServer/Login/IndexPB"
	PathPlatformVerify = "/AuthServer/Platform/Verify"
	PathMetrics        = "/metrics"
	PathHealth         = "/health"

	maxBodyBytes = 64 << 10
)

// Config 为认证 HTTP 服务配置。
type Config struct {
	Address      string        `mapstructure:"address"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read-timeout"`
	WriteTimeout time.Duration `mapstructure:"write-timeout"`
}

func DefaultConfig() Config {
	return Config{
		Address:      "0.0.0.0",
		Port:         8080,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// PlatformVerifyRequest 为平台令牌校验请求。
type PlatformVerifyRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

// PlatformVerifyResponse 为平台令牌校验结果。
type PlatformVerifyResponse struct {
	AccountID uint64 `json:"accountId"`
}

// LoginFailure 为登录失败时的响应体。
type LoginFailure struct {
	Status int32  `json:"status"`
	Reason string `json:"reason"`
}

// Server 提供登录、平台令牌校验与指标接口。
type Server struct {
	log.Binder

	cfg      Config
	sessions *auth.Manager
	gatherer prometheus.Gatherer
	ser      serializer.Serializer

	mu  sync.Mutex
	ln  net.Listener
	srv *http.Server
}

// New 创建服务。gatherer 为 nil 时使用 prometheus.DefaultGatherer。
func New(cfg Config, sessions *auth.Manager, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		gatherer: gatherer,
		ser:      serializer.JSONSerializer{},
	}
	s.SetLogger(log.With(log.FieldComponent("auth-http")))
	return s
}

// Handler 返回 HTTP 路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(PathLogin, s.handleLogin)
	mux.HandleFunc(PathPlatformVerify, s.handlePlatformVerify)
	mux.HandleFunc(PathHealth, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle(PathMetrics, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start 绑定监听地址，可重复调用。
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}
	addr := net.JoinHostPort(s.cfg.Address, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return merr.WrapErrListenerFailed(addr, err)
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	return nil
}

// Addr 返回实际监听地址，未启动时为 nil。
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve 提供服务直至 ctx 取消，随后优雅关闭。
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	s.mu.Lock()
	srv, ln := s.srv, s.ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	s.Logger().Info("auth http server started", zap.Stringer("addr", ln.Addr()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.Logger().Info("auth http server stopped")
	return nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var info auth.LoginInfo
	if err := s.decode(r, &info); err != nil {
		s.writeJSON(w, http.StatusBadRequest, &LoginFailure{Status: http.StatusBadRequest, Reason: "malformed login request"})
		return
	}

	status, ticket := s.sessions.TryCreateSession(r.Context(), info)
	if !status.OK() {
		s.writeJSON(w, int(status), &LoginFailure{Status: int32(status), Reason: status.String()})
		return
	}
	s.writeJSON(w, int(status), ticket)
}

func (s *Server) handlePlatformVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req PlatformVerifyRequest
	if err := s.decode(r, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	accountID, err := s.sessions.VerifyPlatformTicket(req.Email, req.Token)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	s.writeJSON(w, http.StatusOK, &PlatformVerifyResponse{AccountID: accountID})
}

func (s *Server) decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	return s.ser.Unmarshal(body, v)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := s.ser.Marshal(v)
	if err != nil {
		s.Logger().Warn("failed to marshal response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}
