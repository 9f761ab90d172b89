package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 把执行请求放在一个 Redis list 上：
// Publish 走 LPUSH，消费端 BRPOP，处理失败的请求 RPUSH 回队尾。
type RedisQueue struct {
	client *redis.Client
	queue  string
	wait   time.Duration
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue 建立连接并校验可达性。
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	q := &RedisQueue{
		queue: cfg.Queue,
		wait:  cfg.BlockWait,
	}
	if q.queue == "" {
		q.queue = "vaultpilot:executions"
	}
	if q.wait <= 0 {
		q.wait = 5 * time.Second
	}
	q.client = redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := q.client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return q, nil
}

// Publish 将执行请求投递到队列头部。
func (q *RedisQueue) Publish(ctx context.Context, requestID string) error {
	if err := q.client.LPush(ctx, q.queue, requestID).Err(); err != nil {
		return fmt.Errorf("Redis 发布执行请求失败: %w", err)
	}
	return nil
}

// Consume 启动 workerCount 个阻塞消费循环，任一循环出错即整体退出。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < workerCount; i++ {
		group.Go(func() error {
			return q.consumeLoop(groupCtx, handler)
		})
	}
	return group.Wait()
}

func (q *RedisQueue) consumeLoop(ctx context.Context, handler Handler) error {
	for {
		requestID, err := q.pop(ctx)
		if err != nil {
			return err
		}
		if requestID == "" {
			continue
		}
		if handlerErr := handler(ctx, requestID); handlerErr != nil {
			// 处理失败的请求回到队尾，重试节奏由记录层的次数上限约束。
			_ = q.client.RPush(ctx, q.queue, requestID).Err()
		}
	}
}

// pop 返回空字符串表示本轮 BRPOP 超时，调用方继续等待。
func (q *RedisQueue) pop(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
	switch {
	case err == nil:
		if len(values) != 2 {
			return "", nil
		}
		return values[1], nil
	case errors.Is(err, redis.Nil):
		return "", nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, redis.ErrClosed):
		return "", err
	default:
		return "", fmt.Errorf("Redis 取执行请求失败: %w", err)
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
