package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/dmitrijs2005/docvault/internal/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZapLogger_WritesJSONWithContext(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewZapWriterLogger("info", &buf)
	require.NoError(t, err)

	ctx := actor.WithRequestID(context.Background(), "req-1")
	log.With("component", "vault").Warn(ctx, "integrity failure", "document_id", 3)
	require.NoError(t, log.Sync())

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "integrity failure", line["msg"])
	assert.Equal(t, "vault", line["component"])
	assert.Equal(t, float64(3), line["document_id"])
	assert.Equal(t, "req-1", line["request_id"])
	assert.Contains(t, line, "timestamp")
}

func TestZapLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewZapWriterLogger("error", &buf)
	require.NoError(t, err)

	log.Info(context.Background(), "hidden")
	log.Error(context.Background(), "shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_Formats(t *testing.T) {
	var buf bytes.Buffer

	l, err := New("json", "info", &buf)
	require.NoError(t, err)
	l.Info(context.Background(), "j")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))

	buf.Reset()
	l, err = New("text", "debug", &buf)
	require.NoError(t, err)
	l.Info(context.Background(), "t")
	assert.Contains(t, buf.String(), "msg=t")

	_, err = New("zap", "info", &buf)
	require.NoError(t, err)

	_, err = New("xml", "info", &buf)
	assert.Error(t, err)
	_, err = New("json", "loud", &buf)
	assert.Error(t, err)
	_, err = New("zap", "loud", &buf)
	assert.Error(t, err)
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Info(context.Background(), "nothing")
	l.With("a", 1).Error(context.Background(), "still nothing")
}
