package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsStore Google Sheets 行存储
type SheetsStore struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetName     string
}

// SheetsOptions Google Sheets 连接参数
type SheetsOptions struct {
	SpreadsheetID   string
	SheetName       string // 为空时使用第一个工作表
	CredentialsJSON string
	CredentialsFile string
}

// NewSheetsService 使用服务账号凭据创建 Sheets 客户端
func NewSheetsService(ctx context.Context, opts SheetsOptions, extra ...option.ClientOption) (*sheets.Service, error) {
	raw := []byte(opts.CredentialsJSON)
	if len(raw) == 0 && opts.CredentialsFile != "" {
		data, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
		raw = data
	}
	if len(raw) == 0 {
		return nil, errors.New("google credentials are not configured")
	}

	creds, err := NormalizeCredentialsJSON(raw)
	if err != nil {
		return nil, err
	}

	clientOpts := append([]option.ClientOption{
		option.WithCredentialsJSON(creds),
		option.WithScopes(sheets.SpreadsheetsScope),
	}, extra...)

	svc, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

// NormalizeCredentialsJSON 修正 private_key 中被转义的换行
// 通过环境变量传入的凭据经常把换行保存成字面量 "\n"
func NormalizeCredentialsJSON(raw []byte) ([]byte, error) {
	var creds map[string]any
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("parse google credentials: %w", err)
	}
	key, ok := creds["private_key"].(string)
	if !ok {
		return nil, errors.New("google credentials: private_key is missing")
	}
	creds["private_key"] = strings.TrimSpace(strings.ReplaceAll(key, `\n`, "\n"))

	return json.Marshal(creds)
}

// NewSheetsStore 创建 Google Sheets 行存储
// sheetName 为空时在此解析第一个工作表的名称
func NewSheetsStore(ctx context.Context, svc *sheets.Service, spreadsheetID, sheetName string) (*SheetsStore, error) {
	if spreadsheetID == "" {
		return nil, errors.New("spreadsheet id is empty")
	}

	if sheetName == "" {
		ss, err := svc.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("open spreadsheet %s: %w", spreadsheetID, err)
		}
		if len(ss.Sheets) == 0 || ss.Sheets[0].Properties == nil {
			return nil, fmt.Errorf("spreadsheet %s has no sheets", spreadsheetID)
		}
		sheetName = ss.Sheets[0].Properties.Title
	}

	return &SheetsStore{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}, nil
}

// SheetName 当前使用的工作表
func (s *SheetsStore) SheetName() string {
	return s.sheetName
}

// FetchAllRows 读取整张工作表
func (s *SheetsStore) FetchAllRows(ctx context.Context) ([][]string, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, quoteSheet(s.sheetName)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("fetch rows: %w", err)
	}

	rows := make([][]string, len(resp.Values))
	for i, values := range resp.Values {
		cells := make([]string, len(values))
		for j, v := range values {
			if v != nil {
				cells[j] = fmt.Sprint(v)
			}
		}
		rows[i] = cells
	}
	return padRows(rows), nil
}

// UpdateStatus 写入状态列
func (s *SheetsStore) UpdateStatus(ctx context.Context, rowIndex int, value string) error {
	cell, err := statusCell(rowIndex)
	if err != nil {
		return err
	}

	rng := quoteSheet(s.sheetName) + "!" + cell
	body := &sheets.ValueRange{
		Range:  rng,
		Values: [][]interface{}{{value}},
	}
	if _, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, rng, body).ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	return nil
}

func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
