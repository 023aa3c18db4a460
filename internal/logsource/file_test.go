package logsource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveLine(t *testing.T, src *FileSource) string {
	t.Helper()
	select {
	case env, ok := <-src.Lines():
		require.True(t, ok, "lines channel closed early")
		assert.Equal(t, "file", env.Source)
		return env.Line
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for followed line")
		return ""
	}
}

func TestFileSourceFollowsAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opencanary.log")
	require.NoError(t, os.WriteFile(path, []byte("{\"dst_port\": 21}\n"), 0644))

	src, err := NewFileSource(context.Background(), FileConfig{Path: path, FromStart: true, Poll: true})
	require.NoError(t, err)
	t.Cleanup(src.Stop)

	assert.Equal(t, `{"dst_port": 21}`, receiveLine(t, src))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("\n{\"dst_port\": 22}\r\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Equal(t, `{"dst_port": 22}`, receiveLine(t, src))
}

func TestFileSourceMissingFile(t *testing.T) {
	_, err := NewFileSource(context.Background(), FileConfig{Path: filepath.Join(t.TempDir(), "absent.log")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absent.log")
}

func TestFileSourceStopClosesLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opencanary.log")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	src, err := NewFileSource(context.Background(), FileConfig{Path: path, Poll: true})
	require.NoError(t, err)
	src.Stop()
	src.Stop()

	select {
	case _, ok := <-src.Lines():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for lines channel to close")
	}
}
