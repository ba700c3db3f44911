package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/Hukum1020/shymkent-whatsapp/internal/model"
)

// StatusUpdate 一次状态回写记录
type StatusUpdate struct {
	Row   int
	Value string
}

// MemoryStore 内存行存储
type MemoryStore struct {
	rows    [][]string
	updates []StatusUpdate
	mu      sync.RWMutex

	// 以下钩子用于模拟远端故障
	FetchErr  error
	UpdateErr func(rowIndex int) error
}

// NewMemoryStore 创建内存行存储，rows[0] 为表头
func NewMemoryStore(rows [][]string) *MemoryStore {
	return &MemoryStore{rows: cloneRows(rows)}
}

// FetchAllRows 获取所有行（副本）
func (s *MemoryStore) FetchAllRows(ctx context.Context) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.FetchErr != nil {
		return nil, s.FetchErr
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRows(s.rows), nil
}

// UpdateStatus 写入状态列
func (s *MemoryStore) UpdateStatus(ctx context.Context, rowIndex int, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.UpdateErr != nil {
		if err := s.UpdateErr(rowIndex); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rowIndex < 0 || rowIndex >= len(s.rows) {
		return fmt.Errorf("row %d out of range", rowIndex)
	}
	col := model.ColStatus
	if len(s.rows[rowIndex]) <= col {
		padded := make([]string, col+1)
		copy(padded, s.rows[rowIndex])
		s.rows[rowIndex] = padded
	}
	s.rows[rowIndex][col] = value
	s.updates = append(s.updates, StatusUpdate{Row: rowIndex, Value: value})
	return nil
}

// Updates 已发生的状态回写
func (s *MemoryStore) Updates() []StatusUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]StatusUpdate, len(s.updates))
	copy(result, s.updates)
	return result
}

// Row 获取某一行（副本）
func (s *MemoryStore) Row(rowIndex int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rowIndex < 0 || rowIndex >= len(s.rows) {
		return nil
	}
	return append([]string(nil), s.rows[rowIndex]...)
}

func cloneRows(rows [][]string) [][]string {
	result := make([][]string, len(rows))
	for i, r := range rows {
		result[i] = append([]string(nil), r...)
	}
	return result
}
