package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mirecekd/trnda/internal/domain"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaNotifierPublishesEvent(t *testing.T) {
	w := &fakeWriter{}
	n := newKafkaNotifier(w, "diagram-uploads", zap.NewNop())

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	event := domain.UploadEvent{
		Bucket:     "diagrams",
		Key:        "input/diagram-2025-03-01T10-00-00-000Z.jpg",
		Size:       1234,
		ClientInfo: "test@x.com",
		UploadedAt: at,
	}

	require.NoError(t, n.UploadCompleted(context.Background(), event))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, event.Key, string(msg.Key))
	assert.Equal(t, at, msg.Time)

	var got domain.UploadEvent
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, event.Bucket, got.Bucket)
	assert.Equal(t, event.ClientInfo, got.ClientInfo)
	assert.True(t, at.Equal(got.UploadedAt))

	require.NoError(t, n.Close())
	assert.True(t, w.closed)
}

func TestKafkaNotifierWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	n := newKafkaNotifier(w, "diagram-uploads", zap.NewNop())

	err := n.UploadCompleted(context.Background(), domain.UploadEvent{Key: "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestNewKafkaNotifierWithoutBrokersIsNoop(t *testing.T) {
	n := NewKafkaNotifier(context.Background(), nil, "diagram-uploads", zap.NewNop())
	assert.NoError(t, n.UploadCompleted(context.Background(), domain.UploadEvent{}))
	assert.NoError(t, n.Close())
}
