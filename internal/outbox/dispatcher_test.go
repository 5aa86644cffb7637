package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	byTopic map[string][]kafka.Message
	err     error
}

func (w *recordingWriter) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	if w.byTopic == nil {
		w.byTopic = make(map[string][]kafka.Message)
	}
	w.byTopic[topic] = append(w.byTopic[topic], msgs...)
	return nil
}

type stubRegistry struct {
	id    int
	calls int
}

func (r *stubRegistry) EnsureSchema(context.Context, string, string) (int, error) {
	r.calls++
	return r.id, nil
}

func outboxMessage(id int64, eventType, topic, key string) Message {
	return Message{
		EventID:       id,
		TenantID:      "tenant-1",
		AggregateType: "period",
		AggregateID:   key,
		EventType:     eventType,
		Topic:         topic,
		SchemaSubject: topic + "-value",
		PartitionKey:  key,
		Payload:       json.RawMessage(`{"activity_id":3}`),
	}
}

func TestPublishAppliesWireFraming(t *testing.T) {
	writer := &recordingWriter{}
	registry := &stubRegistry{id: 42}
	d := &Dispatcher{producer: writer, registry: registry}

	msg := outboxMessage(1, "period.closed", "period_events", "3:7")
	require.NoError(t, d.publish(context.Background(), []Message{msg}))

	records := writer.byTopic["period_events"]
	require.Len(t, records, 1)
	require.Equal(t, []byte("3:7"), records[0].Key)

	value := records[0].Value
	require.Equal(t, byte(0), value[0])
	require.Equal(t, uint32(42), binary.BigEndian.Uint32(value[1:5]))
	require.JSONEq(t, `{"activity_id":3}`, string(value[5:]))
}

func TestPublishCachesSchemaIDs(t *testing.T) {
	writer := &recordingWriter{}
	registry := &stubRegistry{id: 7}
	d := &Dispatcher{producer: writer, registry: registry}

	batch := []Message{
		outboxMessage(1, "period.closed", "period_events", "3:7"),
		outboxMessage(2, "period.closed", "period_events", "3:7"),
		outboxMessage(3, "tracking.state_changed", "tracking_state_changed", "3"),
	}
	require.NoError(t, d.publish(context.Background(), batch))

	require.Equal(t, 2, registry.calls, "one registry round trip per subject")
	require.Len(t, writer.byTopic["period_events"], 2)
	require.Len(t, writer.byTopic["tracking_state_changed"], 1)
}

func TestPublishRejectsUnknownEventType(t *testing.T) {
	d := &Dispatcher{producer: &recordingWriter{}, registry: &stubRegistry{}}

	err := d.publish(context.Background(), []Message{
		outboxMessage(1, "period.reopened", "period_events", "3:7"),
	})
	require.Error(t, err)
}
