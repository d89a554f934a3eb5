package writeback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/offlinesync/internal/core"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaFeedConfigValidate(t *testing.T) {
	assert.Error(t, KafkaFeedConfig{Topic: "drains"}.Validate())
	assert.Error(t, KafkaFeedConfig{Brokers: []string{"localhost:9092"}}.Validate())
	assert.NoError(t, KafkaFeedConfig{Brokers: []string{"localhost:9092"}, Topic: "drains"}.Validate())
}

func TestKafkaFeedPublishesReport(t *testing.T) {
	w := &recordingWriter{}
	feed := newKafkaFeed(w, "drains", "device-7")
	report := core.DrainReport{
		FinishedAt: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		Succeeded:  2,
		Failed:     1,
		Remaining:  4,
	}

	feed.OnDrainComplete(context.Background(), report)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "device-7", string(msg.Key))
	assert.True(t, report.FinishedAt.Equal(msg.Time))

	var got core.DrainReport
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, 2, got.Succeeded)
	assert.Equal(t, 4, got.Remaining)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, map[string]string{"succeeded": "2", "failed": "1", "remaining": "4"}, headers)
}

func TestKafkaFeedErrorsAndClose(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	feed := newKafkaFeed(w, "drains", "")

	err := feed.Publish(context.Background(), core.DrainReport{})
	assert.ErrorContains(t, err, "broker down")
	// Observer path swallows the error.
	feed.OnDrainComplete(context.Background(), core.DrainReport{})

	require.NoError(t, feed.Close())
	assert.True(t, w.closed)
	assert.ErrorIs(t, feed.Publish(context.Background(), core.DrainReport{}), ErrFeedClosed)
	assert.NoError(t, feed.Close())
}
