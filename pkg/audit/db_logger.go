package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/bcgov/tenant-management-system-sub000/pkg/observability"
)

// DBLogger writes audit events to the audit_events table. Writes happen
// asynchronously on a bounded queue; when the queue is full the event is
// dropped and counted in the log rather than blocking the request.
type DBLogger struct {
	db     *sql.DB
	logger *observability.Logger
	queue  chan Event
	done   chan struct{}
}

// NewDBLogger creates a database-backed audit logger and starts its
// writer goroutine. The audit_events table is created by migrations.
func NewDBLogger(db *sql.DB, logger *observability.Logger) *DBLogger {
	l := &DBLogger{
		db:     db,
		logger: logger.WithComponent("audit"),
		queue:  make(chan Event, 256),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Record enqueues an event for writing. Never blocks.
func (l *DBLogger) Record(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case l.queue <- event:
	default:
		l.logger.WithField("event_type", string(event.Type)).Warn("audit queue full, event dropped")
	}
}

// Close drains the queue and stops the writer.
func (l *DBLogger) Close() {
	close(l.queue)
	<-l.done
}

func (l *DBLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		if err := l.insert(context.Background(), event); err != nil {
			l.logger.WithError(err).WithField("event_type", string(event.Type)).Error("failed to write audit event")
		}
	}
}

func (l *DBLogger) insert(ctx context.Context, event Event) error {
	var metadataJSON interface{}
	if event.Metadata != nil {
		b, err := json.Marshal(event.Metadata)
		if err == nil {
			metadataJSON = b
		}
	}

	var tenantID interface{}
	if event.TenantID != "" {
		tenantID = event.TenantID
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			timestamp, event_type, actor, tenant_id,
			resource_type, resource_id, request_id, message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.Timestamp, string(event.Type), nullable(event.Actor), tenantID,
		nullable(event.ResourceType), nullable(event.ResourceID),
		nullable(event.RequestID), nullable(event.Message), metadataJSON,
	)
	return err
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// NoopLogger discards all events. Used in tests and when auditing is
// disabled.
type NoopLogger struct{}

func (NoopLogger) Record(event Event) {}
