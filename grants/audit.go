package grants

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DefaultStream is the Redis stream audit events are appended to.
const DefaultStream = "jtrace:events"

const (
	EventGranted  = "access_granted"
	EventRevoked  = "access_revoked"
	EventAnchored = "record_anchored"
)

// Event is one audit entry. Empty fields are left out of the stream entry.
type Event struct {
	Type        string
	Owner       string
	Delegate    string
	Fingerprint string
	TxRef       string
	At          time.Time
}

// AuditStream appends events with XADD. Publishing is best effort: a failed
// append is logged and never fails the operation that produced the event.
type AuditStream struct {
	c      *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

func NewAuditStream(c *redis.Client, stream string, logger *zap.Logger) *AuditStream {
	if stream == "" {
		stream = DefaultStream
	}
	return &AuditStream{c: c, stream: stream, maxLen: 100000, logger: logger.Named("audit")}
}

func (a *AuditStream) Publish(ctx context.Context, ev Event) string {
	if a == nil {
		return ""
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	values := map[string]interface{}{
		"type":      ev.Type,
		"timestamp": ev.At.Unix(),
	}
	for k, v := range map[string]string{
		"owner":       ev.Owner,
		"delegate":    ev.Delegate,
		"fingerprint": ev.Fingerprint,
		"tx_ref":      ev.TxRef,
	} {
		if v != "" {
			values[k] = v
		}
	}

	id, err := a.c.XAdd(ctx, &redis.XAddArgs{
		Stream: a.stream,
		MaxLen: a.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		a.logger.Warn("audit event not published", zap.String("type", ev.Type), zap.Error(err))
		return ""
	}
	return id
}
