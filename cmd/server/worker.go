package main

import (
	"os/signal"
	"rag-tenant-go/pkg/log"
	"syscall"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume index tasks from the configured queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
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
		defer a.close(cmd.Context())

		log.Infof("索引 worker 已启动, queue: %s", cfg.Queue.Backend)
		if err := a.runConsumer(ctx); err != nil {
			return err
		}
		log.Info("索引 worker 已退出")
		return nil
	},
}
