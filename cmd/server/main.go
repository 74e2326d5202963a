// Package main 是应用程序的入口点。
package main

import (
	"os"
	"rag-tenant-go/internal/config"
	"rag-tenant-go/pkg/log"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rag-tenant",
	Short: "Multi-tenant RAG query and indexing service",
	Long: `rag-tenant serves tenant-scoped retrieval-augmented question answering.

Documents are indexed into one vector collection per organization, and questions
are answered from the tenant's documents and/or a read-only SQL backend.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./configs/config.yaml", "path to the YAML config file")
	rootCmd.AddCommand(serveCmd, workerCmd, checkSQLCmd, ingestCmd, tokenCmd)
}

// loadConfig 读取并校验配置，随后初始化日志。
func loadConfig(validate bool) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	log.Info("日志记录器初始化成功")
	return cfg, nil
}
