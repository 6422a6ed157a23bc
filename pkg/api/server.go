// Package api 提供执行历史查询、运行中任务管理与事件推送的HTTP接口
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// ServerConfig API服务器配置
type ServerConfig struct {
	Host         string        // 监听地址
	Port         int           // 监听端口
	ReadTimeout  time.Duration // 读取超时
	WriteTimeout time.Duration // 写入超时
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// APIServer HTTP API服务器
type APIServer struct {
	deps       Dependencies
	httpServer *http.Server
	config     ServerConfig
	version    string
	mu         sync.Mutex
}

// NewAPIServer 创建API服务器
func NewAPIServer(deps Dependencies, config ServerConfig, version string) *APIServer {
	return &APIServer{
		deps:    deps,
		config:  config,
		version: version,
	}
}

// Start 启动服务器，阻塞直到服务器关闭
func (s *APIServer) Start() error {
	router := SetupRouter(s.deps, s.version)

	addr := s.Addr()

	// WebSocket 长连接不设置写超时，写入期限由事件推送自行控制
	server := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: s.config.ReadTimeout,
	}
	s.mu.Lock()
	s.httpServer = server
	s.mu.Unlock()

	log.Printf("🚀 Task Handler API Server starting on %s", addr)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server listen failed: %w", err)
	}

	return nil
}

// Shutdown 优雅关闭服务器
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.httpServer
	s.mu.Unlock()
	if server == nil {
		return nil
	}

	log.Println("🛑 Shutting down API Server...")

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Println("✅ API Server stopped")
	return nil
}

// Addr 获取服务器地址
func (s *APIServer) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
