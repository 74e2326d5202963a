// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"rag-tenant-go/internal/errs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
// 加载完成后按值传递给各组件的构造函数，运行期间不再修改。
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Tenant      TenantConfig      `mapstructure:"tenant"`
	VectorStore VectorStoreConfig `mapstructure:"vectorstore"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Indexing    IndexingConfig    `mapstructure:"indexing"`
	Retrieval   RetrievalConfig   `mapstructure:"retrieval"`
	SQL         SQLConfig         `mapstructure:"sql"`
	MinIO       MinIOConfig       `mapstructure:"minio"`
	Tika        TikaConfig        `mapstructure:"tika"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	Breaker     BreakerConfig     `mapstructure:"breaker"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
	// InlineWorker 为 true 时 serve 命令同时在进程内启动队列消费者。
	InlineWorker bool `mapstructure:"inline_worker"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// TenantConfig 决定租户集合的命名。
type TenantConfig struct {
	CollectionPrefix string `mapstructure:"collection_prefix"`
}

// VectorStoreConfig 存储向量库相关的配置。
type VectorStoreConfig struct {
	Backend       string `mapstructure:"backend"` // es | qdrant | memory
	URL           string `mapstructure:"url"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	APIKey        string `mapstructure:"api_key"`
	Dimensions    int    `mapstructure:"dimensions"`
	RecreateIndex bool   `mapstructure:"recreate_index"`
	PersistPath   string `mapstructure:"persist_path"` // 仅 memory 后端使用
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置回答模板与无结果时的占位文本（可选）。
type LLMPromptConfig struct {
	Template     string `mapstructure:"template"`
	NoResultText string `mapstructure:"no_result_text"`
}

// IndexingConfig 控制清洗与切分阶段。
type IndexingConfig struct {
	RemoveEmptyLines         bool   `mapstructure:"remove_empty_lines"`
	RemoveExtraWhitespaces   bool   `mapstructure:"remove_extra_whitespaces"`
	RemoveRepeatedSubstrings bool   `mapstructure:"remove_repeated_substrings"`
	SplitBy                  string `mapstructure:"split_by"` // word | sentence | passage | rune
	SplitLength              int    `mapstructure:"split_length"`
	SplitOverlap             int    `mapstructure:"split_overlap"`
}

// RetrievalConfig 控制检索分支。
type RetrievalConfig struct {
	TopK int `mapstructure:"top_k"`
	// FilterByUser 为 true 时检索除组织外还按请求用户过滤。
	FilterByUser bool `mapstructure:"filter_by_user"`
}

// SQLConfig 存储结构化查询后端的配置。
type SQLConfig struct {
	Driver        string        `mapstructure:"driver"` // sqlite | mysql | postgres
	DSN           string        `mapstructure:"dsn"`
	Schema        string        `mapstructure:"schema"`
	MaxRows       int           `mapstructure:"max_rows"`
	Timeout       time.Duration `mapstructure:"timeout"`
	SemanticCheck bool          `mapstructure:"semantic_check"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	UseSSL          bool          `mapstructure:"use_ssl"`
	BucketName      string        `mapstructure:"bucket_name"`
	UploadURLExpiry time.Duration `mapstructure:"upload_url_expiry"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// QueueConfig 决定索引任务的投递方式与重试策略。
type QueueConfig struct {
	Backend    string        `mapstructure:"backend"` // kafka | nats
	MaxRetries int           `mapstructure:"max_retries"`
	Backoff    time.Duration `mapstructure:"backoff"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// NATSConfig 存储 NATS 相关的配置。
type NATSConfig struct {
	URL        string `mapstructure:"url"`
	Subject    string `mapstructure:"subject"`
	QueueGroup string `mapstructure:"queue_group"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig 存储鉴权相关的配置。
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	// AdminKeyHash 是管理员密钥的 bcrypt 哈希。
	AdminKeyHash string `mapstructure:"admin_key_hash"`
}

// TracingConfig 存储链路追踪相关的配置。
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// BreakerConfig 配置下游调用的熔断器。
type BreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

// Load 从指定路径读取 YAML 配置，叠加 .env 与环境变量（前缀 RAG_），返回校验前的配置。
func Load(configPath string) (Config, error) {
	// .env 不存在时忽略
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("加载 .env 文件失败: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("RAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Default 返回只包含默认值的配置，测试与工具命令使用。
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("tenant.collection_prefix", "org")
	v.SetDefault("vectorstore.backend", "es")
	v.SetDefault("vectorstore.dimensions", 1536)
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("indexing.remove_empty_lines", true)
	v.SetDefault("indexing.remove_extra_whitespaces", true)
	v.SetDefault("indexing.remove_repeated_substrings", false)
	v.SetDefault("indexing.split_by", "word")
	v.SetDefault("indexing.split_length", 200)
	v.SetDefault("indexing.split_overlap", 20)
	v.SetDefault("retrieval.top_k", 10)
	v.SetDefault("retrieval.filter_by_user", false)
	v.SetDefault("sql.driver", "sqlite")
	v.SetDefault("sql.max_rows", 1000)
	v.SetDefault("sql.timeout", 30*time.Second)
	v.SetDefault("sql.semantic_check", true)
	v.SetDefault("minio.upload_url_expiry", time.Hour)
	v.SetDefault("tika.timeout", 60*time.Second)
	v.SetDefault("queue.backend", "kafka")
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.backoff", 60*time.Second)
	v.SetDefault("kafka.group_id", "rag-tenant-indexer")
	v.SetDefault("nats.subject", "rag.index")
	v.SetDefault("nats.queue_group", "rag-indexers")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("tracing.service_name", "rag-tenant-go")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("breaker.max_requests", 1)
	v.SetDefault("breaker.interval", time.Minute)
	v.SetDefault("breaker.timeout", 30*time.Second)
	v.SetDefault("breaker.failure_threshold", 5)
}

// Validate 校验启动必需的后端配置，缺失时返回 ConfigurationError。
func (c Config) Validate() error {
	var missing []string
	if c.Embedding.Model == "" {
		missing = append(missing, "embedding.model")
	}
	if c.LLM.BaseURL == "" {
		missing = append(missing, "llm.base_url")
	}
	if c.LLM.Model == "" {
		missing = append(missing, "llm.model")
	}
	switch c.VectorStore.Backend {
	case "es", "qdrant":
		if c.VectorStore.URL == "" {
			missing = append(missing, "vectorstore.url")
		}
	case "memory":
	default:
		return errs.Configuration("config.Validate", "不支持的向量库后端: %q", c.VectorStore.Backend)
	}
	if c.SQL.DSN == "" {
		missing = append(missing, "sql.dsn")
	}
	if len(missing) > 0 {
		return errs.Configuration("config.Validate", "缺少必需配置: %s", strings.Join(missing, ", "))
	}
	if c.Indexing.SplitLength <= 0 {
		return errs.Configuration("config.Validate", "indexing.split_length 必须大于 0")
	}
	if c.Indexing.SplitOverlap < 0 || c.Indexing.SplitOverlap >= c.Indexing.SplitLength {
		return errs.Configuration("config.Validate", "indexing.split_overlap 必须在 [0, split_length) 范围内")
	}
	return nil
}
