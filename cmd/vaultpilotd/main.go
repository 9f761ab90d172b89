package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"VaultPilot/internal/api"
	"VaultPilot/internal/config"
	"VaultPilot/internal/observability/alerting"
	"VaultPilot/internal/observability/metrics"
	"VaultPilot/internal/pipeline"
	"VaultPilot/internal/provenance"
	"VaultPilot/internal/record"
	"VaultPilot/internal/scheduler"
	"VaultPilot/internal/strategy"
	"VaultPilot/internal/trigger"
	"VaultPilot/internal/web3"
	"VaultPilot/internal/web3/ethereum"
	"VaultPilot/pkg/logger"
)

// main 是 VaultPilot 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("vaultpilotd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("VAULTPILOT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "vaultpilot.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditPath != "",
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	// 执行记录存储。
	var recordStore record.Store
	switch cfg.Records.Driver {
	case "", "memory":
		recordStore = record.NewMemoryStore()
	case "mysql":
		store, err := record.NewMySQLStore(cfg.Records.DSN, record.MySQLOptions{
			MaxOpenConns:    cfg.Records.MaxOpenConns,
			MaxIdleConns:    cfg.Records.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Records.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		recordStore = store
	default:
		return fmt.Errorf("未知的记录存储驱动: %s", cfg.Records.Driver)
	}
	defer func() {
		_ = recordStore.Close()
	}()

	// 执行触发队列。
	var triggerQueue trigger.Queue
	switch cfg.Triggers.Driver {
	case "", "memory":
		triggerQueue = trigger.NewMemoryQueue(1024)
	case "redis":
		queue, err := trigger.NewRedisQueue(trigger.RedisQueueConfig{
			Address:   cfg.Triggers.Redis.Address,
			Password:  cfg.Triggers.Redis.Password,
			DB:        cfg.Triggers.Redis.DB,
			Queue:     cfg.Triggers.Redis.Queue,
			BlockWait: time.Duration(cfg.Triggers.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			return err
		}
		triggerQueue = queue
	case "rabbitmq":
		queue, err := trigger.NewRabbitMQQueue(trigger.RabbitMQConfig{
			URL:        cfg.Triggers.RabbitMQ.URL,
			Queue:      cfg.Triggers.RabbitMQ.Queue,
			Prefetch:   cfg.Triggers.RabbitMQ.Prefetch,
			Durable:    cfg.Triggers.RabbitMQ.Durable,
			AutoDelete: cfg.Triggers.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		triggerQueue = queue
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.Triggers.Driver)
	}
	defer func() {
		if err := triggerQueue.Close(); err != nil {
			log.Printf("关闭触发队列失败: %v", err)
		}
	}()

	// 网络定义与链上客户端。
	networks, err := web3.LoadNetworkDefinitions(cfg.Web3.NetworkConfig)
	if err != nil {
		return err
	}
	defaultNetwork, err := networks.ResolveNetwork(cfg.Web3.DefaultNetwork)
	if err != nil {
		return err
	}
	signerKey := os.Getenv(cfg.Web3.SignerKeyEnv)
	chainClient, err := ethereum.NewClient(ctx, defaultNetwork, signerKey)
	if err != nil {
		return err
	}
	defer chainClient.Close()

	// 内容寻址发布。
	publisher, err := provenance.NewClient(provenance.Config{
		Endpoint:    cfg.Pinning.Endpoint,
		Credential:  os.Getenv(cfg.Pinning.CredentialEnv),
		GatewayHost: cfg.Pinning.GatewayHost,
		MirrorHost:  cfg.Pinning.MirrorHost,
	})
	if err != nil {
		return err
	}

	orchestrator, err := pipeline.NewOrchestrator(chainClient, publisher,
		pipeline.WithDedupCapacity(cfg.Pipeline.DedupCapacity))
	if err != nil {
		return err
	}

	strategyStore := strategy.NewMemoryStore()
	triggerService := trigger.NewService(recordStore, strategyStore, triggerQueue, 3)

	resolve := func(name string) (web3.Context, error) {
		if name == "" {
			return defaultNetwork, nil
		}
		return networks.ResolveNetwork(name)
	}
	processorOpts := []trigger.ProcessorOption{
		trigger.WithWorkerCount(cfg.Triggers.Worker),
	}
	if dispatcher := buildAlertDispatcher(cfg.Alerting); dispatcher != nil {
		processorOpts = append(processorOpts, trigger.WithAlertDispatcher(dispatcher))
	}
	processor := trigger.NewProcessor(orchestrator, recordStore, strategyStore,
		triggerQueue, triggerQueue, resolve, processorOpts...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("执行处理器异常退出: %v", err)
		}
	}()

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(triggerService)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("指标服务异常退出: %v", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, strategyStore, triggerService, sched)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildAlertDispatcher 按配置装配告警渠道，全部关闭时返回 nil。
func buildAlertDispatcher(cfg config.AlertingConfig) *alerting.FanoutDispatcher {
	var notifiers []alerting.Notifier
	if cfg.Email.Enabled {
		notifiers = append(notifiers, &alerting.EmailNotifier{
			Sender: &alerting.SMTPMailer{
				Host:     cfg.Email.Host,
				Port:     cfg.Email.Port,
				Username: cfg.Email.Username,
				Password: os.Getenv(cfg.Email.PasswordEnv),
				From:     cfg.Email.From,
			},
			To:            cfg.Email.To,
			SubjectPrefix: cfg.Email.SubjectPrefix,
		})
	}
	if cfg.DingTalk.Enabled {
		notifiers = append(notifiers, &alerting.DingTalkNotifier{
			Sender: &alerting.DingTalkWebhook{URL: cfg.DingTalk.WebhookURL},
		})
	}
	if cfg.Slack.Enabled {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender:    &alerting.SlackWebhook{URL: cfg.Slack.WebhookURL},
			ChannelID: cfg.Slack.Channel,
		})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}
