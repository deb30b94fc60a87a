// Package main 是 HTTP 服务的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"equihire-go/internal/app"
	"equihire-go/internal/config"
	"equihire-go/internal/handler"
	"equihire-go/internal/middleware"
	"equihire-go/pkg/kafka"
	"equihire-go/pkg/log"
	"equihire-go/pkg/token"
)

func main() {
	// 1. 初始化配置
	configPath := os.Getenv("EQUIHIRE_CONFIG")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 组装依赖
	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()
	a, err := app.Build(rootCtx, cfg)
	if err != nil {
		log.Fatal("初始化依赖失败", err)
	}
	defer a.Close()

	// 4. 启动后台 Kafka 消费者
	consumerDone := make(chan struct{})
	if cfg.Kafka.Brokers != "" {
		var attempts kafka.AttemptTracker
		if a.Redis != nil {
			attempts = kafka.NewRedisAttemptTracker(a.Redis)
		}
		consumer := kafka.NewConsumer(a.Processor, attempts, cfg.Kafka.MaxRetries)
		go func() {
			defer close(consumerDone)
			consumer.Run(rootCtx, cfg.Kafka)
		}()
	} else {
		close(consumerDone)
	}

	// 5. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	var producer handler.IndexTaskProducer
	if a.Producer != nil {
		producer = a.Producer
	}
	jwtManager := token.NewJWTManager(cfg.JWT.Secret)
	handler.Register(r, handler.Handlers{
		Match:     handler.NewMatchHandler(a.MatchService),
		Resume:    handler.NewResumeHandler(a.IndexService, producer),
		Embedding: handler.NewEmbeddingHandler(a.Embedder),
		Health:    handler.NewHealthHandler(a.Index, a.Embedder),
	}, middleware.AuthMiddleware(jwtManager, cfg.JWT.AllowedRoles))

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止消费者并等待当前消息处理完
	stop()
	select {
	case <-consumerDone:
	case <-ctx.Done():
		log.Warnf("等待 Kafka 消费者退出超时")
	}
	log.Info("服务已优雅关闭")
}
