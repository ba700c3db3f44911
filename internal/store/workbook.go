package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xuri/excelize/v2"
)

// WorkbookStore 本地 xlsx 工作簿行存储（离线签到台 / 本地调试）
//
// 每次调用都重新打开文件，人工在表格里追加的行下一轮即可看到。
type WorkbookStore struct {
	path      string
	sheetName string
	mu        sync.Mutex
}

// NewWorkbookStore 创建工作簿行存储；sheetName 为空时使用第一个工作表
func NewWorkbookStore(path, sheetName string) (*WorkbookStore, error) {
	if path == "" {
		return nil, errors.New("workbook path is empty")
	}
	return &WorkbookStore{path: path, sheetName: sheetName}, nil
}

func (s *WorkbookStore) open() (*excelize.File, string, error) {
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, "", fmt.Errorf("open workbook %s: %w", s.path, err)
	}

	sheet := s.sheetName
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		_ = f.Close()
		return nil, "", fmt.Errorf("workbook %s has no sheet %q", s.path, sheet)
	}
	return f, sheet, nil
}

// FetchAllRows 读取工作表全部行
func (s *WorkbookStore) FetchAllRows(ctx context.Context) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, sheet, err := s.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return padRows(rows), nil
}

// UpdateStatus 写入状态列并保存文件
func (s *WorkbookStore) UpdateStatus(ctx context.Context, rowIndex int, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cell, err := statusCell(rowIndex)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, sheet, err := s.open()
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SetCellValue(sheet, cell, value); err != nil {
		return fmt.Errorf("set %s!%s: %w", sheet, cell, err)
	}
	if err := f.Save(); err != nil {
		return fmt.Errorf("save workbook %s: %w", s.path, err)
	}
	return nil
}
