package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DLQWriter parks undeliverable events in outbox_dlq so a stuck broker or a
// bad schema never wedges the dispatch loop. Rows keep the full routing
// metadata, which makes manual replay a plain insert back into outbox.
type DLQWriter struct {
	pool *pgxpool.Pool
}

// NewDLQWriter creates a writer on the shared pool.
func NewDLQWriter(pool *pgxpool.Pool) *DLQWriter {
	return &DLQWriter{pool: pool}
}

// Write records one failed message together with the delivery failure reason.
func (w *DLQWriter) Write(ctx context.Context, msg Message, reason string) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", msg.TenantID); err != nil {
		return err
	}

	const insert = `INSERT INTO outbox_dlq
	        (tenant_id, event_id, event_type, topic, payload, reason,
	         aggregate_type, aggregate_id, schema_subject, partition_key, next_retry_at)
	    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, NOW())`

	if _, err := tx.Exec(ctx, insert,
		msg.TenantID, msg.EventID, msg.EventType, msg.Topic, msg.Payload, reason,
		msg.AggregateType, msg.AggregateID, msg.SchemaSubject, msg.PartitionKey,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
