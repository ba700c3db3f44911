package processor

import "time"

// Outcome 单行处理结果
type Outcome string

const (
	OutcomeMalformed  Outcome = "malformed"          // 行结构不完整，无副作用
	OutcomeIncomplete Outcome = "skipped_incomplete" // 缺少姓名/电话/邮箱
	OutcomeDone       Outcome = "skipped_done"       // 状态已为 Done
	OutcomeFailed     Outcome = "failed"             // 生成图片或构造地址失败，下轮重试
	OutcomeSendFailed Outcome = "send_failed"        // 发送失败，下轮重试
	OutcomeMarkFailed Outcome = "mark_failed"        // 已发送但状态回写失败，下轮会重复发送
	OutcomeDelivered  Outcome = "delivered"
)

// Attempted 是否进入了生成/发送阶段
func (o Outcome) Attempted() bool {
	switch o {
	case OutcomeFailed, OutcomeSendFailed, OutcomeMarkFailed, OutcomeDelivered:
		return true
	}
	return false
}

// RowResult 单行结果
type RowResult struct {
	Row     int     `json:"row"`
	Email   string  `json:"email,omitempty"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
	Err     error   `json:"-"`
}

// CycleReport 一轮处理报告
type CycleReport struct {
	ID         string      `json:"id"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Rows       []RowResult `json:"rows"`
}

// Counts 按结果统计行数
func (r *CycleReport) Counts() map[Outcome]int {
	counts := make(map[Outcome]int)
	if r == nil {
		return counts
	}
	for _, row := range r.Rows {
		counts[row.Outcome]++
	}
	return counts
}

// Duration 本轮耗时
func (r *CycleReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
