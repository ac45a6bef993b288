// Package http 提供HTTP服务器功能
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	RateLimit      float64       `yaml:"rate_limit"`
	RateBurst      int           `yaml:"rate_burst"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           5000,
		Timeout:        30 * time.Second,
		AllowedOrigins: []string{},
		MaxBodyBytes:   1 << 20,
	}
}

// NewHandler 组装路由与中间件
func NewHandler(config ServerConfig, svc Services) http.Handler {
	if svc.Logger == nil {
		svc.Logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	RegisterHandlers(mux, svc)

	chain := Chain(
		RecoveryMiddleware(svc.Logger),                          // 1. 恢复中间件（最先执行，捕获panic）
		LoggerMiddleware(svc.Logger),                            // 2. 日志中间件
		SecurityHeadersMiddleware,                               // 3. 安全头中间件
		CORSMiddleware(config.AllowedOrigins),                   // 4. CORS中间件
		RateLimitMiddleware(config.RateLimit, config.RateBurst), // 5. 限流中间件
		RequestSizeMiddleware(config.MaxBodyBytes),              // 6. 请求体大小限制
	)
	return chain(mux)
}

// NewServer 创建HTTP服务器
func NewServer(config ServerConfig, svc Services) *Server {
	if svc.Logger == nil {
		svc.Logger = zap.NewNop()
	}
	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			Handler:           NewHandler(config, svc),
			ReadHeaderTimeout: config.Timeout,
			ReadTimeout:       config.Timeout,
			IdleTimeout:       120 * time.Second,
		},
		config: config,
		logger: svc.Logger,
	}
}

// Start 启动服务器，阻塞直到服务器关闭
func (s *Server) Start() error {
	s.logger.Info("Starting the application...", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server failed")
	}
	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	s.logger.Info("Shutting down HTTP server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return eris.Wrap(err, "server forced to shutdown")
	}
	return nil
}
