package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerolog(&buf, LevelDebug)

	l.Debug("dbg line")
	l.Info("inf line")
	l.Warn("wrn line")
	l.Error("err line")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "dbg line", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestZerologLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerolog(&buf, LevelWarn)

	l.Debug("drop me")
	l.Info("drop me too")
	l.Warn("keep me")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "keep me")
}
