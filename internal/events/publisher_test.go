package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/content-audit/internal/domain"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
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

func TestKafkaPublisherWritesKeyedMessage(t *testing.T) {
	writer := &fakeWriter{}
	pub := NewKafkaPublisherWithWriter(writer)

	score := 91
	event := domain.ItemEvent{
		BatchID:     "batch-123",
		BatchStatus: domain.BatchStatusRunning,
		Item: domain.BatchItem{
			Index:        0,
			URLOrText:    "https://a.test",
			Status:       domain.ItemStatusCompleted,
			OverallScore: &score,
		},
		Total:      3,
		OccurredAt: time.Unix(0, 0).UTC(),
	}

	require.NoError(t, pub.PublishItemResolved(context.Background(), event))
	require.Len(t, writer.msgs, 1)
	assert.Equal(t, "batch-123", string(writer.msgs[0].Key))
	assert.Equal(t, event.OccurredAt, writer.msgs[0].Time)

	var got domain.ItemEvent
	require.NoError(t, json.Unmarshal(writer.msgs[0].Value, &got))
	assert.Equal(t, domain.ItemStatusCompleted, got.Item.Status)
	require.NotNil(t, got.Item.OverallScore)
	assert.Equal(t, 91, *got.Item.OverallScore)

	require.NoError(t, pub.Close())
	assert.True(t, writer.closed)
}

func TestKafkaPublisherWriteError(t *testing.T) {
	pub := NewKafkaPublisherWithWriter(&fakeWriter{err: errors.New("write failed")})
	err := pub.PublishItemResolved(context.Background(), domain.ItemEvent{BatchID: "b"})
	assert.Error(t, err)
}
