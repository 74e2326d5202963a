package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"rag-tenant-go/internal/handler"
	"rag-tenant-go/pkg/log"
	"rag-tenant-go/pkg/token"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API (and the queue consumer when server.inline_worker is set)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		log.Error("初始化失败", err)
		return err
	}
	defer a.close(context.Background())

	gin.SetMode(cfg.Server.Mode)
	jwtManager := token.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	router := handler.NewRouter(handler.Services{
		Query:  a.query,
		Index:  a.index,
		Upload: a.upload,
		Admin:  a.admin,
	}, jwtManager, cfg.Auth.AdminKeyHash)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	var wg sync.WaitGroup
	consumerCtx, cancelConsumer := context.WithCancel(ctx)
	defer cancelConsumer()
	if cfg.Server.InlineWorker {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.runConsumer(consumerCtx); err != nil {
				log.Errorf("队列消费者退出: %v", err)
			}
		}()
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP 服务监听失败: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("接收到停机信号，正在关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	cancelConsumer()
	wg.Wait()
	log.Info("服务已优雅关闭")
	return nil
}
