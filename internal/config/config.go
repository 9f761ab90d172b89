package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述 VaultPilot 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	Records   RecordsConfig   `json:"records"`
	Triggers  TriggersConfig  `json:"triggers"`
	Web3      Web3Config      `json:"web3"`
	Pinning   PinningConfig   `json:"pinning"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Alerting  AlertingConfig  `json:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
// MetricsAddress 非空时在独立端口再暴露一个 /metrics，
// 供抓取面与业务面需要隔离的部署使用。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// LoggingConfig 控制日志输出与资金审计日志。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// RecordsConfig 描述执行记录存储的后端。
type RecordsConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// TriggersConfig 描述执行触发队列的后端与消费并发度。
type TriggersConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// Web3Config 指向网络定义文件并选择默认网络。
// 签名私钥只允许通过环境变量注入，配置文件里只保存变量名。
type Web3Config struct {
	NetworkConfig  string `json:"network_config"`
	DefaultNetwork string `json:"default_network"`
	SignerKeyEnv   string `json:"signer_key_env"`
}

// PinningConfig 描述内容寻址存储服务的接入方式。
type PinningConfig struct {
	Endpoint      string `json:"endpoint"`
	CredentialEnv string `json:"credential_env"`
	GatewayHost   string `json:"gateway_host"`
	MirrorHost    string `json:"mirror_host"`
}

// PipelineConfig 控制编排器的幂等缓存容量。
type PipelineConfig struct {
	DedupCapacity int `json:"dedup_capacity"`
}

// SchedulerConfig 控制再平衡调度器。
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
}

// AlertingConfig 控制执行失败告警的通知渠道，
// 全部关闭时进程不装配告警派发器。
type AlertingConfig struct {
	Email    EmailAlertConfig    `json:"email"`
	DingTalk DingTalkAlertConfig `json:"dingtalk"`
	Slack    SlackAlertConfig    `json:"slack"`
}

// EmailAlertConfig 描述 SMTP 告警邮件。密码只允许通过环境变量注入。
type EmailAlertConfig struct {
	Enabled       bool     `json:"enabled"`
	Host          string   `json:"host"`
	Port          int      `json:"port"`
	Username      string   `json:"username"`
	PasswordEnv   string   `json:"password_env"`
	From          string   `json:"from"`
	To            []string `json:"to"`
	SubjectPrefix string   `json:"subject_prefix"`
}

// DingTalkAlertConfig 描述钉钉机器人 webhook。
type DingTalkAlertConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// SlackAlertConfig 描述 Slack incoming webhook。
type SlackAlertConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
	Channel    string `json:"channel"`
}

// Load 解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Records.Driver == "" {
		c.Records.Driver = "memory"
	}
	if c.Triggers.Driver == "" {
		c.Triggers.Driver = "memory"
	}
	if c.Triggers.Worker <= 0 {
		c.Triggers.Worker = 1
	}
	if c.Web3.NetworkConfig == "" {
		c.Web3.NetworkConfig = filepath.Join(baseDir, "networks.yaml")
	} else if !filepath.IsAbs(c.Web3.NetworkConfig) {
		c.Web3.NetworkConfig = filepath.Join(baseDir, c.Web3.NetworkConfig)
	}
	if c.Web3.SignerKeyEnv == "" {
		c.Web3.SignerKeyEnv = "VAULTPILOT_SIGNER_KEY"
	}
	if c.Pinning.Endpoint == "" {
		c.Pinning.Endpoint = "https://api.pinata.cloud/pinning/pinJSONToIPFS"
	}
	if c.Pinning.CredentialEnv == "" {
		c.Pinning.CredentialEnv = "VAULTPILOT_PINATA_JWT"
	}
	if c.Pinning.GatewayHost == "" {
		c.Pinning.GatewayHost = "gateway.pinata.cloud"
	}
	if c.Pinning.MirrorHost == "" {
		c.Pinning.MirrorHost = "ipfs.io"
	}
	if c.Pipeline.DedupCapacity <= 0 {
		c.Pipeline.DedupCapacity = 4096
	}
	if c.Alerting.Email.PasswordEnv == "" {
		c.Alerting.Email.PasswordEnv = "VAULTPILOT_SMTP_PASSWORD"
	}
}
