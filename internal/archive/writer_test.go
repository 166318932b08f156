package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physicalrisk/apietl/internal/config"
)

func TestNewStorageWriterDisabled(t *testing.T) {
	assert.Nil(t, NewStorageWriter(config.ArchiveConfig{Enabled: false}))
}

func TestLocalStorageWriter(t *testing.T) {
	base := t.TempDir()
	w := NewStorageWriter(config.ArchiveConfig{
		Enabled:        true,
		StorageBackend: "local",
		Prefix:         "raw",
		Local:          config.LocalArchiveConfig{BaseDir: base, MkdirIfMissing: true},
	})
	require.NotNil(t, w)

	obj, err := w.Write(context.Background(), Meta{
		Source: "emergency_messages", Partition: "서울특별시", Page: 3, RunID: "run-1", Date: "20250101", Ext: "json",
	}, `{"body":[]}`, "")
	require.NoError(t, err)

	want := filepath.Join(base, "raw", "emergency_messages", "20250101", "run-1", "서울특별시_p0003.json")
	assert.Equal(t, "file://"+want, obj.URI)
	assert.Equal(t, int64(11), obj.Size)
	assert.True(t, strings.HasPrefix(obj.Checksum, "sha256:"))
	assert.Equal(t, "application/json; charset=utf-8", obj.ContentType)

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, `{"body":[]}`, string(data))
}

// TestMinioFallbackToLocal MinIO 配置不完整时回退到本地目录
func TestMinioFallbackToLocal(t *testing.T) {
	base := t.TempDir()
	w := NewStorageWriter(config.ArchiveConfig{
		Enabled:        true,
		StorageBackend: "minio",
		Local:          config.LocalArchiveConfig{BaseDir: base, MkdirIfMissing: true},
	})
	require.IsType(t, &DelegatingStorageWriter{}, w)

	obj, err := w.Write(context.Background(), Meta{Source: "river_info", Page: 1, Date: "20250101"}, "x", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(obj.URI, "file://"))
	assert.FileExists(t, filepath.Join(base, "river_info", "20250101", "p0001.txt"))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "a_b_c", slug(" A/B c "))
	assert.Equal(t, "unknown", slug("***"))
}
