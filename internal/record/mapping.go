package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/physicalrisk/apietl/pkg/logger"
)

// ErrMissingKey 记录的唯一键在补全后仍为空
var ErrMissingKey = errors.New("unique key is empty")

// Field 字段映射：From 为候选外部字段（支持 a.b.c 路径），第一个非空值生效
type Field struct {
	From   []string
	To     string
	Coerce Coercer
}

// KeyDefault 唯一键为空时的补全规则
type KeyDefault struct {
	Column string
	Build  func(r *Record) any
}

// DeriveFunc 基于已映射的列计算派生列
type DeriveFunc func(r *Record, item map[string]any) error

// Mapping 单个数据源的声明式映射表
type Mapping struct {
	Fields      []Field
	Key         []string
	KeyDefaults []KeyDefault
	Derive      []DeriveFunc
	// RawColumn 非空时把整个原始条目以 JSON 写入该列
	RawColumn string
}

// F 便捷构造 Field，from 可以给多个候选
func F(to string, coerce Coercer, from ...string) Field {
	if len(from) == 0 {
		from = []string{to}
	}
	return Field{From: from, To: to, Coerce: coerce}
}

// Map 转换单个条目
func (m Mapping) Map(item map[string]any) (rec *Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = fmt.Errorf("mapping panic: %v", r)
		}
	}()

	rec = New()
	for _, f := range m.Fields {
		coerce := f.Coerce
		if coerce == nil {
			coerce = String
		}
		rec.Set(f.To, coerce(firstPresent(item, f.From)))
	}

	for _, kd := range m.KeyDefaults {
		if rec.IsBlank(kd.Column) {
			rec.Set(kd.Column, kd.Build(rec))
		}
	}

	for _, d := range m.Derive {
		if err := d(rec, item); err != nil {
			return nil, err
		}
	}

	if m.RawColumn != "" {
		rec.Set(m.RawColumn, item)
	}

	for _, k := range m.Key {
		if rec.IsBlank(k) {
			return nil, fmt.Errorf("%w: %s", ErrMissingKey, k)
		}
	}
	return rec, nil
}

// MapAll 转换条目列表；失败的条目记录日志并跳过
func (m Mapping) MapAll(source string, items []map[string]any) []*Record {
	out := make([]*Record, 0, len(items))
	for i, item := range items {
		rec, err := m.Map(item)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"source":   source,
				"index":    i,
				"fragment": Fragment(item),
			}).Errorf("record skipped: %v", err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Lookup 按 a.b.c 路径读取嵌套值
func Lookup(item map[string]any, path string) (any, bool) {
	if v, ok := item[path]; ok {
		return v, true
	}
	var cur any = item
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func firstPresent(item map[string]any, candidates []string) any {
	for _, c := range candidates {
		v, ok := Lookup(item, c)
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		return v
	}
	return nil
}

// Fragment 截取条目的 JSON 片段用于日志
func Fragment(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
