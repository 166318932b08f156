package util

import (
	"bytes"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"
)

// DecodeBody 将响应体转换为 UTF-8 字符串
// 优先使用 Content-Type 中声明的 charset，其次按 UTF-8 校验，最后尝试公共数据接口常见的旧编码
func DecodeBody(b []byte, contentType string) string {
	if len(b) == 0 {
		return ""
	}
	if enc := charsetFromContentType(contentType); enc != nil {
		if s, ok := tryDecode(enc, b); ok {
			return s
		}
	}
	return EnsureUTF8Bytes(b)
}

// EnsureUTF8Bytes 已是合法 UTF-8 时原样返回；否则依次尝试 EUC-KR 等旧编码，全部失败时按原字节返回
func EnsureUTF8Bytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) {
		return string(b)
	}
	// 韩国公共数据接口普遍使用 EUC-KR（CP949 兼容）
	encs := []encoding.Encoding{
		korean.EUCKR,
		charmap.Windows1252,
		charmap.ISO8859_1,
	}
	for _, enc := range encs {
		if s, ok := tryDecode(enc, b); ok {
			return s
		}
	}
	return string(b)
}

func charsetFromContentType(contentType string) encoding.Encoding {
	if contentType == "" {
		return nil
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil
	}
	name := strings.TrimSpace(params["charset"])
	if name == "" || strings.EqualFold(name, "utf-8") || strings.EqualFold(name, "utf8") {
		return nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil
	}
	return enc
}

func tryDecode(enc encoding.Encoding, b []byte) (string, bool) {
	reader := transform.NewReader(bytes.NewReader(b), enc.NewDecoder())
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return "", false
	}
	if utf8.Valid(decoded) {
		return string(decoded), true
	}
	return "", false
}
