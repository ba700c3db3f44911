package model

import (
	"errors"
	"fmt"
	"strings"
)

// 表格列位置（0 基）
const (
	ColName     = 0
	ColEmail    = 1
	ColPhone    = 2
	ColLanguage = 3
	ColStatus   = 8

	// MinRowWidth 一行至少需要的单元格数量
	MinRowWidth = 10
)

// StatusDone 已发送标记
const StatusDone = "Done"

// ErrMalformedRow 行结构不完整
var ErrMalformedRow = errors.New("malformed row")

// Guest 报名表中的一行
type Guest struct {
	Row      int // 抓取结果中的下标，表头为 0
	Name     string
	Email    string
	Phone    string
	Language string
	Status   string
}

// DecodeRow 将一行单元格解码为 Guest
func DecodeRow(index int, cells []string) (Guest, error) {
	if len(cells) < MinRowWidth {
		return Guest{}, fmt.Errorf("row %d has %d cells, want at least %d: %w", index, len(cells), MinRowWidth, ErrMalformedRow)
	}

	return Guest{
		Row:      index,
		Name:     strings.TrimSpace(cells[ColName]),
		Email:    strings.TrimSpace(cells[ColEmail]),
		Phone:    strings.TrimSpace(cells[ColPhone]),
		Language: strings.ToLower(strings.TrimSpace(cells[ColLanguage])),
		Status:   cells[ColStatus],
	}, nil
}

// SheetRow 表格中的实际行号（1 基）
func (g Guest) SheetRow() int {
	return g.Row + 1
}

// IsDone 状态是否已为 Done
func (g Guest) IsDone() bool {
	return strings.EqualFold(strings.TrimSpace(g.Status), StatusDone)
}

// SkipReason 返回跳过原因；为空表示可处理
func (g Guest) SkipReason() string {
	switch {
	case g.Name == "":
		return "missing name"
	case g.Phone == "":
		return "missing phone"
	case g.Email == "":
		return "missing email"
	case g.IsDone():
		return "already done"
	}
	return ""
}

// Eligible 是否需要发送
func (g Guest) Eligible() bool {
	return g.SkipReason() == ""
}

// QRPayload 二维码内容
func (g Guest) QRPayload() string {
	return fmt.Sprintf("Name: %s\nPhone: %s\nEmail: %s", g.Name, g.Phone, g.Email)
}
