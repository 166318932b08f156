package record

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/physicalrisk/apietl/pkg/apiclient"
	"github.com/physicalrisk/apietl/pkg/logger"
)

// Parser 把一次响应转换为记录；没有数据时返回空切片，从不返回错误
type Parser interface {
	Parse(p *apiclient.Payload) []*Record
}

// Keyed 声明唯一键的解析器
type Keyed interface {
	UniqueKey() []string
}

// StatusCheck 响应状态校验：Path 处的值必须属于 OK，或通过 Accept 判断
type StatusCheck struct {
	Path        string
	OK          []string
	Accept      func(status string) bool
	MessagePath string
}

func (s *StatusCheck) accepts(v any) bool {
	got := ""
	if v != nil {
		got = strings.TrimSpace(stringify(v))
	}
	if s.Accept != nil {
		return s.Accept(got)
	}
	for _, ok := range s.OK {
		if got == ok {
			return true
		}
	}
	return false
}

// JSONParser JSON 响应：ItemsPath 指向条目列表（单个对象视为一条）
type JSONParser struct {
	Source    string
	ItemsPath string
	Status    *StatusCheck
	Mapping   Mapping
}

// UniqueKey 实现 Keyed
func (jp *JSONParser) UniqueKey() []string { return jp.Mapping.Key }

// Parse 实现 Parser
func (jp *JSONParser) Parse(p *apiclient.Payload) []*Record {
	log := logger.WithField("source", jp.Source)
	if p == nil || p.Kind != apiclient.KindJSON {
		log.WithField("fragment", Fragment(p.Body())).Warn("empty or non-JSON response")
		return []*Record{}
	}
	root, _ := p.JSON.(map[string]any)
	if root == nil {
		// 顶层直接是数组
		if arr, ok := p.JSON.([]any); ok && jp.ItemsPath == "" {
			return jp.mapItems(log, arr)
		}
		log.WithField("fragment", Fragment(p.JSON)).Warn("unexpected JSON shape")
		return []*Record{}
	}

	if jp.Status != nil {
		status, _ := Lookup(root, jp.Status.Path)
		if !jp.Status.accepts(status) {
			msg, _ := Lookup(root, jp.Status.MessagePath)
			log.WithFields(logrus.Fields{"status": stringify(status), "message": stringify(msg)}).Error("API returned error status")
			return []*Record{}
		}
	}

	var raw any = root
	if jp.ItemsPath != "" {
		v, ok := Lookup(root, jp.ItemsPath)
		if !ok || v == nil {
			log.WithField("path", jp.ItemsPath).Warn("item list missing from response")
			return []*Record{}
		}
		raw = v
	}

	switch t := raw.(type) {
	case []any:
		return jp.mapItems(log, t)
	case map[string]any:
		return jp.mapItems(log, []any{t})
	case string:
		// 公共数据接口无结果时常返回 "items": ""
		if strings.TrimSpace(t) == "" {
			log.Warn("no items in response")
			return []*Record{}
		}
	}
	log.WithField("fragment", Fragment(raw)).Warn("item list has unexpected type")
	return []*Record{}
}

func (jp *JSONParser) mapItems(log *logrus.Entry, arr []any) []*Record {
	if len(arr) == 0 {
		log.Warn("no items in response")
		return []*Record{}
	}
	items := make([]map[string]any, 0, len(arr))
	for i, a := range arr {
		m, ok := a.(map[string]any)
		if !ok {
			log.WithFields(logrus.Fields{"index": i, "fragment": Fragment(a)}).Error("record skipped: item is not an object")
			continue
		}
		items = append(items, m)
	}
	return jp.Mapping.MapAll(jp.Source, items)
}

// XMLParser XML 响应：RowTag 元素的子元素文本构成一个条目
type XMLParser struct {
	Source string
	RowTag string
	// Status 的 Path 为状态元素名（不在行内），如 resultCode
	Status  *StatusCheck
	Mapping Mapping
}

// UniqueKey 实现 Keyed
func (xp *XMLParser) UniqueKey() []string { return xp.Mapping.Key }

// Parse 实现 Parser
func (xp *XMLParser) Parse(p *apiclient.Payload) []*Record {
	log := logger.WithField("source", xp.Source)
	body := strings.TrimSpace(p.Body())
	if body == "" {
		log.Warn("empty response body")
		return []*Record{}
	}

	rows, meta, err := xmlRows(body, xp.RowTag)
	if err != nil {
		log.WithFields(logrus.Fields{"error": err, "fragment": Fragment(body)}).Warn("malformed XML response")
		if len(rows) == 0 {
			return []*Record{}
		}
	}

	if xp.Status != nil {
		status, present := meta[xp.Status.Path]
		if present && !xp.Status.accepts(status) {
			log.WithFields(logrus.Fields{"status": status, "message": meta[xp.Status.MessagePath]}).Error("API returned error status")
			return []*Record{}
		}
	}

	if len(rows) == 0 {
		log.WithField("row", xp.RowTag).Warn("no items in response")
		return []*Record{}
	}
	return xp.Mapping.MapAll(xp.Source, rows)
}

// xmlRows 收集 rowTag 元素的叶子子元素；行外叶子元素的文本放入 meta（首个出现者）
func xmlRows(body, rowTag string) ([]map[string]any, map[string]string, error) {
	dec := xml.NewDecoder(strings.NewReader(body))
	dec.Strict = false
	dec.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) {
		// 响应体已由客户端转为 UTF-8
		return in, nil
	}

	var (
		rows  []map[string]any
		meta  = map[string]string{}
		cur   map[string]any
		stack []string
		text  strings.Builder
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, meta, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			if name == rowTag && cur == nil {
				cur = map[string]any{}
			}
			stack = append(stack, name)
			text.Reset()
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			name := t.Name.Local
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			switch {
			case name == rowTag && cur != nil:
				rows = append(rows, cur)
				cur = nil
			case cur != nil:
				if v := strings.TrimSpace(text.String()); v != "" {
					cur[name] = v
				} else if _, seen := cur[name]; !seen {
					cur[name] = nil
				}
			default:
				if _, seen := meta[name]; !seen {
					if v := strings.TrimSpace(text.String()); v != "" {
						meta[name] = v
					}
				}
			}
			text.Reset()
		}
	}
	return rows, meta, nil
}

// TextParser 按行解析的文本响应；Delimiter 为空时按空白分隔
type TextParser struct {
	Source        string
	Columns       []string
	Delimiter     string
	CommentPrefix string
	// MinFields 少于该字段数的行被跳过；0 表示需要全部列
	MinFields int
	Mapping   Mapping
}

// UniqueKey 实现 Keyed
func (tp *TextParser) UniqueKey() []string { return tp.Mapping.Key }

// Parse 实现 Parser
func (tp *TextParser) Parse(p *apiclient.Payload) []*Record {
	log := logger.WithField("source", tp.Source)
	body := p.Body()
	if strings.TrimSpace(body) == "" {
		log.Warn("empty response body")
		return []*Record{}
	}

	min := tp.MinFields
	if min <= 0 {
		min = len(tp.Columns)
	}

	var items []map[string]any
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || (tp.CommentPrefix != "" && strings.HasPrefix(line, tp.CommentPrefix)) {
			continue
		}
		var parts []string
		if tp.Delimiter == "" {
			parts = strings.Fields(line)
		} else {
			parts = strings.Split(line, tp.Delimiter)
		}
		if len(parts) < min {
			log.WithField("fragment", Fragment(line)).Debug("line skipped: too few fields")
			continue
		}
		item := make(map[string]any, len(tp.Columns))
		for i, col := range tp.Columns {
			if i < len(parts) {
				item[col] = strings.TrimSpace(parts[i])
			} else {
				item[col] = nil
			}
		}
		items = append(items, item)
	}

	if len(items) == 0 {
		log.Warn("no data lines in response")
		return []*Record{}
	}
	return tp.Mapping.MapAll(tp.Source, items)
}
