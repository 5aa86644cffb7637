// Package outbox persists tracking events transactionally and delivers them
// to Kafka with Confluent Schema Registry framing.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Message is one row claimed from the outbox table.
type Message struct {
	EventID       int64
	TenantID      string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
}

// Dispatcher drains the outbox table on an interval. Claims use FOR UPDATE
// SKIP LOCKED so several replicas can poll the same table without contending
// on the same rows.
type Dispatcher struct {
	pool          *pgxpool.Pool
	producer      messageWriter
	registry      schemaRegistrar
	dlq           *DLQWriter
	pollInterval  time.Duration
	batchSize     int
	schemaIDCache sync.Map
	done          chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar, pollInterval time.Duration, batchSize int) *Dispatcher {
	return &Dispatcher{
		pool:         pool,
		producer:     producer,
		registry:     registry,
		dlq:          NewDLQWriter(pool),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		done:         make(chan struct{}),
	}
}

// Start runs the polling loop until the context is cancelled. Call it in a
// goroutine and use Wait to block on shutdown.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		close(d.done)
	}()

	for {
		if err := d.sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("outbox: sweep failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until the dispatcher has fully stopped.
func (d *Dispatcher) Wait() {
	<-d.done
}

// sweep claims one batch, ships it and marks it published. Undeliverable
// batches are parked in the DLQ and still marked published so one poisoned
// event cannot block the queue head.
func (d *Dispatcher) sweep(ctx context.Context) error {
	started := time.Now()

	batch, err := d.claim(ctx)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	defer func() { batchDuration.Observe(time.Since(started).Seconds()) }()

	if err := d.publish(ctx, batch); err != nil {
		log.Printf("outbox: delivery failure: %v", err)
		failedCounter.Add(float64(len(batch)))
		if dlqErr := d.park(ctx, batch, err.Error()); dlqErr != nil {
			return dlqErr
		}
		return d.markPublished(ctx, batch)
	}

	deliveredCounter.Add(float64(len(batch)))
	return d.markPublished(ctx, batch)
}

func (d *Dispatcher) claim(ctx context.Context) ([]Message, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const query = `SELECT event_id, tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload
        FROM outbox
        WHERE published_at IS NULL
        ORDER BY event_id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, d.batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batch []Message
	var ids []int64
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.EventID, &msg.TenantID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Topic, &msg.SchemaSubject, &msg.PartitionKey, &msg.Payload); err != nil {
			return nil, err
		}
		batch = append(batch, msg)
		ids = append(ids, msg.EventID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return batch, nil
}

func (d *Dispatcher) publish(ctx context.Context, batch []Message) error {
	perTopic := make(map[string][]kafka.Message)

	for _, msg := range batch {
		schemaID, err := d.schemaIDFor(ctx, msg)
		if err != nil {
			return err
		}
		perTopic[msg.Topic] = append(perTopic[msg.Topic], kafka.Message{
			Key:   []byte(msg.PartitionKey),
			Value: frame(schemaID, msg.Payload),
			Time:  time.Now().UTC(),
		})
	}

	for topic, records := range perTopic {
		if err := d.producer.WriteMessages(ctx, topic, records...); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) schemaIDFor(ctx context.Context, msg Message) (int, error) {
	meta, ok := schemaCatalog[msg.EventType]
	if !ok {
		return 0, fmt.Errorf("no schema registered for event_type=%s", msg.EventType)
	}

	cacheKey := msg.SchemaSubject + "::" + meta.Schema
	if cached, ok := d.schemaIDCache.Load(cacheKey); ok {
		return cached.(int), nil
	}

	id, err := d.registry.EnsureSchema(ctx, msg.SchemaSubject, meta.Schema)
	if err != nil {
		return 0, err
	}
	d.schemaIDCache.Store(cacheKey, id)
	return id, nil
}

// markPublished stamps the rows tenant by tenant so the RLS pin stays valid.
func (d *Dispatcher) markPublished(ctx context.Context, batch []Message) error {
	perTenant := make(map[string][]int64)
	for _, msg := range batch {
		perTenant[msg.TenantID] = append(perTenant[msg.TenantID], msg.EventID)
	}

	for tenantID, ids := range perTenant {
		if err := d.stampPublished(ctx, tenantID, ids); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) stampPublished(ctx context.Context, tenantID string, ids []int64) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (d *Dispatcher) park(ctx context.Context, batch []Message, reason string) error {
	for _, msg := range batch {
		if err := d.dlq.Write(ctx, msg, fmt.Sprintf("%s (topic=%s)", reason, msg.Topic)); err != nil {
			return err
		}
		dlqCounter.WithLabelValues(msg.Topic).Inc()
	}
	return nil
}

// frame prepends the Confluent wire header: a zero magic byte followed by the
// big-endian schema ID.
func frame(schemaID int, payload []byte) []byte {
	out := make([]byte, 5+len(payload))
	out[0] = 0
	binary.BigEndian.PutUint32(out[1:5], uint32(schemaID))
	copy(out[5:], payload)
	return out
}

// SchemaCatalogEntry maps an event type to its JSON schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	"period.closed": {
		Schema: periodClosedSchema,
	},
	"tracking.state_changed": {
		Schema: trackingStateChangedSchema,
	},
}
