package record

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "VaultPilot/internal/errors"
	"VaultPilot/internal/pipeline"
)

// MemoryStore 以内存方式保存执行记录，用于测试与单机部署。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*ExecutionRecord
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*ExecutionRecord)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, rec *ExecutionRecord) error {
	if rec == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "执行记录不能为空")
	}
	if strings.TrimSpace(rec.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "执行记录 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return ErrRecordConflict
	}
	now := time.Now().Unix()
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	m.records[rec.ID] = cloneRecord(rec)
	return nil
}

// Get 返回指定的执行记录。
func (m *MemoryStore) Get(_ context.Context, id string) (*ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return cloneRecord(rec), nil
}

// Claim 将记录状态更新为运行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	switch rec.Status {
	case StatusSucceeded:
		return cloneRecord(rec), ErrRecordCompleted
	case StatusRunning:
		return cloneRecord(rec), ErrRecordConflict
	}
	if rec.Attempts >= rec.MaxRetries {
		return cloneRecord(rec), ErrRecordExhausted
	}
	rec.Status = StatusRunning
	rec.Attempts++
	rec.LastError = ""
	rec.ErrorCode = ""
	rec.UpdatedAt = time.Now().Unix()
	return cloneRecord(rec), nil
}

// MarkSucceeded 记录成功结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, outcome *pipeline.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	rec.Status = StatusSucceeded
	if outcome != nil {
		outcomeCopy := *outcome
		rec.Outcome = &outcomeCopy
	}
	rec.LastError = ""
	rec.ErrorCode = ""
	rec.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 标记执行失败。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	rec.Status = StatusFailed
	rec.LastError = lastError
	rec.ErrorCode = string(code)
	rec.UpdatedAt = time.Now().Unix()
	return nil
}

// List 按更新时间倒序返回执行记录。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	matchesStatus := func(rec *ExecutionRecord) bool {
		if len(opts.Statuses) == 0 {
			return true
		}
		for _, status := range opts.Statuses {
			if rec.Status == status {
				return true
			}
		}
		return false
	}

	results := make([]*ExecutionRecord, 0, len(m.records))
	for _, rec := range m.records {
		if !matchesStatus(rec) {
			continue
		}
		results = append(results, cloneRecord(rec))
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].UpdatedAt == results[j].UpdatedAt {
			if results[i].CreatedAt == results[j].CreatedAt {
				return results[i].ID < results[j].ID
			}
			return results[i].CreatedAt > results[j].CreatedAt
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})

	if opts.Offset >= len(results) {
		return []*ExecutionRecord{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
