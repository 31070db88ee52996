package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]string {
	t.Helper()
	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, INFO)
	l.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	l.With("component", "dispatcher").Info("batch processed", "batch_id", "b-1", "error", errors.New("boom"))

	entry := decode(t, &buf)
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "batch processed", entry["msg"])
	assert.Equal(t, "2025-03-01T12:00:00Z", entry["time"])
	assert.Equal(t, "dispatcher", entry["component"])
	assert.Equal(t, "b-1", entry["batch_id"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, WARN)
	l.Info("quiet")
	l.Debug("quieter")
	assert.Zero(t, buf.Len())

	l.Error("loud")
	assert.Equal(t, "ERROR", decode(t, &buf)["level"])
}

func TestLoggerRedactsEmails(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, DEBUG)
	l.Warn("send failed", "email", "john.doe@example.com", "detail", "rcpt ab@example.org rejected")

	entry := decode(t, &buf)
	assert.Equal(t, "jo***@example.com", entry["email"])
	assert.Equal(t, "rcpt ***@example.org rejected", entry["detail"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, ERROR, ParseLevel(" ERROR "))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}
