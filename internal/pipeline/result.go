package pipeline

import (
	"fmt"
	"time"
)

// Status 运行状态
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
)

// Result 单个流水线的运行结果
type Result struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Table       string        `json:"table"`
	Status      Status        `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Pages       int           `json:"pages"`
	Parsed      int           `json:"parsed"`
	Written     int           `json:"written"`
	TableCount  int64         `json:"table_count"`
	CountError  string        `json:"count_error,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Failed 是否失败
func (r *Result) Failed() bool {
	return r != nil && r.Status == StatusFailed
}

// String 日志用摘要
func (r *Result) String() string {
	if r == nil {
		return "<nil>"
	}
	s := fmt.Sprintf("%s %s (%.1fs) pages=%d parsed=%d written=%d",
		r.Name, r.Status, r.Duration.Seconds(), r.Pages, r.Parsed, r.Written)
	if r.Error != "" {
		s += " error=" + r.Error
	}
	return s
}
