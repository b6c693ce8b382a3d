package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func readJSONLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestLoggerWritesConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "nested", "bot.log")

	l, err := New(&Config{LogFile: path, MaxSize: 1, Console: &console})
	require.NoError(t, err)

	l.Debug("hidden from console")
	l.Info("Position opened", zap.String("account", "1"))
	require.NoError(t, l.Close())

	assert.Contains(t, console.String(), "[INFO]")
	assert.Contains(t, console.String(), "Position opened")
	assert.NotContains(t, console.String(), "hidden from console")

	lines := readJSONLines(t, path)
	require.Len(t, lines, 2, "the file keeps debug lines")
	assert.Equal(t, "DEBUG", lines[0]["level"])
	assert.Equal(t, "Position opened", lines[1]["msg"])
	assert.Equal(t, "1", lines[1]["account"])
	assert.Contains(t, lines[1], "timestamp")
	assert.Contains(t, lines[1], "caller")
}

func TestDevelopmentShowsDebug(t *testing.T) {
	var console bytes.Buffer
	l, err := New(&Config{Development: true, Console: &console})
	require.NoError(t, err)

	l.Debug("details")
	assert.Contains(t, console.String(), "[DEBUG]")
}

func TestWithOperationAddsCorrelationID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	l, err := New(&Config{LogFile: path, MaxSize: 1, Console: &bytes.Buffer{}})
	require.NoError(t, err)

	l.WithOperation("open").Info("first")
	l.WithOperation("open").Info("second")
	require.NoError(t, l.Close())

	lines := readJSONLines(t, path)
	require.Len(t, lines, 2)
	first, _ := lines[0]["correlation_id"].(string)
	second, _ := lines[1]["correlation_id"].(string)
	assert.Len(t, first, 36)
	assert.NotEqual(t, first, second)
	assert.Equal(t, "open", lines[0]["operation"])
}

func TestForCommandTracksToFile(t *testing.T) {
	var stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "bot.log")

	l, err := New(ForCommand(path, false, &stderr))
	require.NoError(t, err)
	end := l.TrackPerformance("meteora-bot open")
	end()
	require.NoError(t, l.Close())

	assert.Empty(t, stderr.String(), "debug timing stays out of the console")
	lines := readJSONLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "Operation completed", lines[1]["msg"])
	assert.Equal(t, "meteora-bot open", lines[1]["operation"])
	assert.Contains(t, lines[1], "correlation_id")
}
