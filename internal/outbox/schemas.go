package outbox

const periodClosedSchema = `{
  "type": "object",
  "title": "PeriodClosed",
  "properties": {
    "period_id": {"type": "integer"},
    "tenant_id": {"type": "string"},
    "activity_id": {"type": "integer"},
    "executor_id": {"type": "integer"},
    "start_time": {"type": "string", "format": "date-time"},
    "stop_time": {"type": "string", "format": "date-time"},
    "total_seconds": {"type": "integer"}
  },
  "required": ["period_id", "tenant_id", "activity_id", "executor_id", "start_time", "stop_time", "total_seconds"],
  "additionalProperties": false
}`

const trackingStateChangedSchema = `{
  "type": "object",
  "title": "TrackingStateChanged",
  "properties": {
    "activity_id": {"type": "integer"},
    "tenant_id": {"type": "string"},
    "executor_id": {"type": "integer"},
    "tracking": {"type": "boolean"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["activity_id", "tenant_id", "executor_id", "tracking", "occurred_at"],
  "additionalProperties": false
}`
