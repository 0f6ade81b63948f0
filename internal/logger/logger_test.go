package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInit_Fallback(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init("warn", "", &buf))
	t.Cleanup(func() { _ = Init("info", "", nil) })

	L.Info("hidden")
	L.Warn("shown", "author", "u1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	require.Equal(t, "shown", rec["msg"])
	require.Equal(t, "u1", rec["author"])
}

func TestInit_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	require.NoError(t, Init("debug", path, nil))
	t.Cleanup(func() { _ = Init("info", "", nil) })

	L.Debug("to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"to file"`)
}

func TestInit_BadPathFallsBack(t *testing.T) {
	var buf bytes.Buffer
	err := Init("info", filepath.Join(t.TempDir(), "missing", "bot.log"), &buf)
	t.Cleanup(func() { _ = Init("info", "", nil) })
	require.Error(t, err)

	L.Info("still logging")
	require.Contains(t, buf.String(), "still logging")
}
