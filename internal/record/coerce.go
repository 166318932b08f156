package record

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Coercer 把原始字段值转换为目标类型；无法转换时返回 nil
type Coercer func(v any) any

// Raw 原样保留
func Raw(v any) any { return v }

// String 转为字符串，空串视为 nil
func String(v any) any {
	if v == nil {
		return nil
	}
	s := stringify(v)
	if s == "" {
		return nil
	}
	return s
}

// Trimmed 去除首尾空白后的字符串
func Trimmed(v any) any {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(stringify(v))
	if s == "" {
		return nil
	}
	return s
}

// Int 转为 int64，带小数的字符串按截断处理（"12.0" -> 12）
func Int(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case int:
		return int64(t)
	case int64:
		return t
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return int64(t)
	case json.Number:
		return Int(string(t))
	case bool:
		if t {
			return int64(1)
		}
		return int64(0)
	}
	s := normalizeNumber(stringify(v))
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return int64(f)
	}
	return nil
}

// Float 转为 float64
func Float(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		return Float(string(t))
	}
	s := normalizeNumber(stringify(v))
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

// Bool 识别 true/false、Y/N、1/0
func Bool(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bool:
		return t
	case float64:
		return t != 0
	}
	switch strings.ToLower(strings.TrimSpace(stringify(v))) {
	case "true", "y", "yes", "1", "t":
		return true
	case "false", "n", "no", "0", "f":
		return false
	}
	return nil
}

// Time 按给定布局依次尝试解析时间（本地时区）
func Time(layouts ...string) Coercer {
	return func(v any) any {
		if t, ok := v.(time.Time); ok {
			return t
		}
		s := strings.TrimSpace(stringify(v))
		if s == "" {
			return nil
		}
		for _, layout := range layouts {
			if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return t
			}
		}
		return nil
	}
}

// Nullable 命中哨兵值（如 "-999"、"-"）时返回 nil，否则交给 next
func Nullable(next Coercer, sentinels ...string) Coercer {
	set := make(map[string]struct{}, len(sentinels))
	for _, s := range sentinels {
		set[s] = struct{}{}
	}
	return func(v any) any {
		if v == nil {
			return nil
		}
		if _, hit := set[strings.TrimSpace(stringify(v))]; hit {
			return nil
		}
		out := next(v)
		if out == nil {
			return nil
		}
		// 数值哨兵（如 -999.0）在转换后再比一次
		if _, hit := set[strings.TrimSpace(stringify(out))]; hit {
			return nil
		}
		return out
	}
}

func normalizeNumber(s string) string {
	s = strings.TrimSpace(s)
	return strings.ReplaceAll(s, ",", "")
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case time.Time:
		return t.Format(time.RFC3339)
	case map[string]any, []any:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
