package strategy

import (
	"context"
	"sync"
	"time"

	xerrors "VaultPilot/internal/errors"
)

// Record 是注册在本进程中的一份策略及其执行上下文。
type Record struct {
	ID        int64     `json:"id"`
	Network   string    `json:"network"`
	Strategy  *Strategy `json:"strategy"`
	CreatedAt int64     `json:"created_at"`
}

// Store 抽象策略的注册与按标识符加载。
// 策略文档的长期持久化属于外部协作方，这里只保证进程内可复取。
type Store interface {
	Register(ctx context.Context, network string, s *Strategy) (*Record, error)
	Get(ctx context.Context, id int64) (*Record, error)
	List(ctx context.Context) ([]*Record, error)
}

// ErrStrategyNotFound 表示指定标识符的策略不存在。
var ErrStrategyNotFound = xerrors.New(xerrors.CodeNotFound, "strategy not found")

// MemoryStore 以内存方式保存注册的策略。
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[int64]*Record
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, records: make(map[int64]*Record)}
}

// Register 校验并登记一份策略，返回分配的标识符。
func (m *MemoryStore) Register(_ context.Context, network string, s *Strategy) (*Record, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record := &Record{
		ID:        m.nextID,
		Network:   network,
		Strategy:  s.Clone(),
		CreatedAt: time.Now().Unix(),
	}
	m.records[record.ID] = record
	m.nextID++
	clone := *record
	return &clone, nil
}

// Get 按标识符返回策略。
func (m *MemoryStore) Get(_ context.Context, id int64) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[id]
	if !ok {
		return nil, ErrStrategyNotFound
	}
	clone := *record
	clone.Strategy = record.Strategy.Clone()
	return &clone, nil
}

// List 返回全部已注册策略。
func (m *MemoryStore) List(_ context.Context) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := make([]*Record, 0, len(m.records))
	for _, record := range m.records {
		clone := *record
		clone.Strategy = record.Strategy.Clone()
		records = append(records, &clone)
	}
	return records, nil
}

var _ Store = (*MemoryStore)(nil)
