package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"rag-tenant-go/internal/config"
	"rag-tenant-go/internal/model"
	"rag-tenant-go/internal/sqlguard"
	"rag-tenant-go/pkg/llm"
	"rag-tenant-go/pkg/log"
	"rag-tenant-go/pkg/token"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	semanticCheck bool

	ingestOrg  string
	ingestUser string

	tokenOrg  string
	tokenUser string
	tokenRole string
)

func init() {
	checkSQLCmd.Flags().BoolVar(&semanticCheck, "semantic", false, "also ask the configured LLM to classify the statement")

	ingestCmd.Flags().StringVar(&ingestOrg, "org", "", "organization id that owns the documents")
	ingestCmd.Flags().StringVar(&ingestUser, "user", "", "optional user id stamped on the documents")
	_ = ingestCmd.MarkFlagRequired("org")

	tokenCmd.Flags().StringVar(&tokenOrg, "org", "", "organization id")
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "", "role, e.g. ADMIN")
	_ = tokenCmd.MarkFlagRequired("org")
}

// checkSQLCmd 对一条 SQL 执行安全校验并输出结论。
var checkSQLCmd = &cobra.Command{
	Use:   "check-sql <statement>",
	Short: "Run the SQL safety validator on a statement",
	Long: `Run the SQL safety validator on a statement and print the verdict as JSON.

Examples:
  rag-tenant check-sql "SELECT name FROM users WHERE id = 1"
  rag-tenant check-sql --semantic "SELECT * FROM users; DROP TABLE users"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var gen llm.Generator
		if semanticCheck {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			gen = llm.NewClient(cfg.LLM, cfg.Breaker)
		}
		verdict := sqlguard.New(gen).IsSafe(cmd.Context(), args[0])
		out, _ := json.MarshalIndent(verdict, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		if !verdict.Safe {
			return errors.New("statement rejected")
		}
		return nil
	},
}

// ingestCmd 将本地目录中的文件上传到对象存储并同步索引，已上传的文件会以新的 doc_id 再次写入。
var ingestCmd = &cobra.Command{
	Use:   "ingest <dir>",
	Short: "Upload every file under a directory and index it for an organization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx := cmd.Context()
		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		identity := model.TenantIdentity{OrganizationID: ingestOrg, UserID: ingestUser}
		userSegment := ingestUser
		if userSegment == "" {
			userSegment = "shared"
		}

		var indexed, failed int
		walkErr := filepath.WalkDir(args[0], func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			docID := uuid.NewString()
			objectPath := fmt.Sprintf("%s/%s/%s%s", ingestOrg, userSegment, docID, strings.ToLower(filepath.Ext(path)))

			if err := a.objects.UploadFile(ctx, objectPath, path); err != nil {
				log.Warnf("ingest: 上传失败: %s, err=%v", path, err)
				failed++
				return nil
			}
			res, err := a.index.Index(ctx, docID, objectPath, identity)
			if err != nil {
				log.Warnf("ingest: 索引失败: %s, err=%v", path, err)
				failed++
				return nil
			}
			if res.Status != model.IndexingSuccess {
				log.Warnf("ingest: 文件没有可索引的内容: %s, %s", path, res.Message)
				failed++
				return nil
			}
			indexed++
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d chunks\n", path, docID, res.ChunkCount)
			return nil
		})
		if walkErr != nil {
			return walkErr
		}
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d file(s), %d failed\n", indexed, failed)
		return nil
	},
}

// tokenCmd 用配置中的密钥签发一个租户 token，便于本地调试。
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a tenant JWT signed with auth.jwt_secret",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Auth.JWTSecret == "" {
			fmt.Fprintln(os.Stderr, "auth.jwt_secret is empty")
			return errors.New("missing jwt secret")
		}
		tok, err := token.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).
			GenerateToken(model.TenantIdentity{OrganizationID: tokenOrg, UserID: tokenUser}, tokenRole)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}
