package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID_RoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "abcd1234")

	id, ok := RequestID(ctx)
	require.True(t, ok)
	assert.Equal(t, "abcd1234", id)

	_, ok = RequestID(context.Background())
	assert.False(t, ok)
}

func TestNewRequestID_Shape(t *testing.T) {
	a, b := NewRequestID(), NewRequestID()
	assert.Len(t, a, 8)
	assert.NotEqual(t, a, b)
}

func TestRequestIDHandler_InjectsAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(&requestIDHandler{inner: slog.NewJSONHandler(&buf, nil)})

	ctx := WithRequestID(context.Background(), "abcd1234")
	logger.InfoContext(ctx, "syncing")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "abcd1234", record["request_id"])

	buf.Reset()
	record = nil
	logger.Info("no request context")
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.NotContains(t, record, "request_id")
}
