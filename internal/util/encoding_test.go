package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/korean"
)

func eucKR(t *testing.T, s string) []byte {
	t.Helper()
	b, err := korean.EUCKR.NewEncoder().Bytes([]byte(s))
	require.NoError(t, err)
	return b
}

func TestEnsureUTF8BytesPassthrough(t *testing.T) {
	assert.Equal(t, "", EnsureUTF8Bytes(nil))
	assert.Equal(t, "한강 water", EnsureUTF8Bytes([]byte("한강 water")))
}

func TestEnsureUTF8BytesEUCKR(t *testing.T) {
	raw := eucKR(t, "재난문자 서울특별시")
	assert.Equal(t, "재난문자 서울특별시", EnsureUTF8Bytes(raw))
}

func TestDecodeBodyDeclaredCharset(t *testing.T) {
	raw := eucKR(t, "태풍")
	assert.Equal(t, "태풍", DecodeBody(raw, "text/plain; charset=EUC-KR"))
	// 未知 charset 时回退到自动探测
	assert.Equal(t, "태풍", DecodeBody(raw, "text/plain; charset=x-unknown"))
	assert.Equal(t, "plain", DecodeBody([]byte("plain"), "application/json; charset=utf-8"))
}
