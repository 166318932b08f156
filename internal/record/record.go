// Package record 定义通用的有序记录，以及把 API 响应转换为记录的解析器与映射表
package record

import (
	"encoding/json"
	"strings"
)

// Record 有序的「列名 -> 值」映射
// 值为标量（string/int64/float64/bool/time.Time/nil）或嵌套结构（map/slice，写库时序列化为 JSON 文本）
type Record struct {
	cols []string
	vals map[string]any
}

// New 创建空记录
func New() *Record {
	return &Record{vals: make(map[string]any)}
}

// FromPairs 以 列,值,列,值... 的形式构造记录，主要用于测试
func FromPairs(kv ...any) *Record {
	r := New()
	for i := 0; i+1 < len(kv); i += 2 {
		col, _ := kv[i].(string)
		r.Set(col, kv[i+1])
	}
	return r
}

// Set 设置列值；新列追加到末尾，已有列保持原位置
func (r *Record) Set(col string, v any) {
	if _, ok := r.vals[col]; !ok {
		r.cols = append(r.cols, col)
	}
	r.vals[col] = v
}

// Get 读取列值
func (r *Record) Get(col string) (any, bool) {
	v, ok := r.vals[col]
	return v, ok
}

// String 以字符串形式读取列值，nil 返回空串
func (r *Record) String(col string) string {
	v, ok := r.vals[col]
	if !ok || v == nil {
		return ""
	}
	return stringify(v)
}

// Columns 返回列顺序的副本
func (r *Record) Columns() []string {
	out := make([]string, len(r.cols))
	copy(out, r.cols)
	return out
}

// Len 列数
func (r *Record) Len() int {
	return len(r.cols)
}

// IsBlank 列缺失、为 nil 或为空白字符串
func (r *Record) IsBlank(col string) bool {
	v, ok := r.vals[col]
	if !ok || v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// Values 按列顺序返回值的副本，嵌套结构序列化为 JSON 文本
func (r *Record) Values() map[string]any {
	out := make(map[string]any, len(r.cols))
	for _, c := range r.cols {
		out[c] = flatten(r.vals[c])
	}
	return out
}

func flatten(v any) any {
	switch v.(type) {
	case map[string]any, []any, []map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return string(b)
	default:
		return v
	}
}
