// Package store 报名表行存储
//
// 报名表被当作带状态列的工作队列使用：FetchAllRows 返回包含表头（下标 0）在内的全部行，
// UpdateStatus 按抓取时的行下标回写状态列。没有版本校验，默认只有本进程一个写入方。
package store

import (
	"context"

	"github.com/xuri/excelize/v2"

	"github.com/Hukum1020/shymkent-whatsapp/internal/model"
)

// RowStore 行存储接口
type RowStore interface {
	// FetchAllRows 读取全部行，下标 0 为表头
	FetchAllRows(ctx context.Context) ([][]string, error)
	// UpdateStatus 写入 rowIndex 行的状态列，rowIndex 与 FetchAllRows 的下标一致
	UpdateStatus(ctx context.Context, rowIndex int, value string) error
}

// padRows 按最宽行补齐空单元格
// 远端接口会省略行尾空单元格，补齐后状态列为空的行不会被误判为残缺行
func padRows(rows [][]string) [][]string {
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	for i, r := range rows {
		if len(r) < width {
			padded := make([]string, width)
			copy(padded, r)
			rows[i] = padded
		}
	}
	return rows
}

// statusCell 状态列单元格名称，例如第 5 行为 "I5"
func statusCell(rowIndex int) (string, error) {
	return excelize.CoordinatesToCellName(model.ColStatus+1, rowIndex+1)
}
