package trigger

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// MemoryQueue 是 channel 封装的进程内队列，供测试与单机部署使用。
type MemoryQueue struct {
	ch        chan string
	closeOnce sync.Once
	done      chan struct{}
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue 创建指定容量的内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		ch:   make(chan string, size),
		done: make(chan struct{}),
	}
}

// Publish 将执行请求投递到队列。
func (q *MemoryQueue) Publish(ctx context.Context, requestID string) error {
	select {
	case <-q.done:
		return errors.New("队列已关闭")
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return errors.New("队列已关闭")
	case q.ch <- requestID:
		return nil
	}
}

// Consume 启动 workerCount 个协程消费队列，直到 ctx 取消或队列关闭。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < workerCount; i++ {
		group.Go(func() error {
			for {
				select {
				case <-groupCtx.Done():
					return groupCtx.Err()
				case <-q.done:
					return nil
				case requestID := <-q.ch:
					_ = handler(groupCtx, requestID)
				}
			}
		})
	}
	return group.Wait()
}

// Close 关闭队列，重复调用无副作用。
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
