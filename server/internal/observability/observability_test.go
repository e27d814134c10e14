package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestContextLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	reqCtx := NewRequestContextWithID(logger, "req-1", "/functions/chat-send-message")
	reqCtx.UserID = "u1"
	reqCtx.Info("message sent", slog.String(LogFieldConversationID, "c1"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-1", line[LogFieldRequestID])
	assert.Equal(t, "/functions/chat-send-message", line[LogFieldRoute])
	assert.Equal(t, "u1", line[LogFieldUserID])
	assert.Equal(t, "c1", line[LogFieldConversationID])
}

func TestRequestContextRoundTrip(t *testing.T) {
	reqCtx := NewRequestContext(nil, "/healthz")
	assert.NotEmpty(t, reqCtx.RequestID)

	ctx := WithRequestContext(context.Background(), reqCtx)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, reqCtx, got)
	assert.Same(t, reqCtx, LoggerFrom(ctx))

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
	assert.NotNil(t, LoggerFrom(context.Background()))
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.MessagesSent.WithLabelValues("endpoint", "user").Inc()
	m.MessagesSent.WithLabelValues("endpoint", "user").Inc()
	m.EffectFailures.WithLabelValues("conversation_preview").Inc()
	m.AutoReplies.WithLabelValues("stub").Inc()

	assert.Equal(t, 2.0, counterValue(t, m.MessagesSent.WithLabelValues("endpoint", "user")))
	assert.Equal(t, 1.0, counterValue(t, m.EffectFailures.WithLabelValues("conversation_preview")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["concierge_messages_sent_total"])
	assert.True(t, names["concierge_auto_replies_total"])
	assert.True(t, names["go_goroutines"])
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, c.Write(&metric))
	return metric.GetCounter().GetValue()
}
