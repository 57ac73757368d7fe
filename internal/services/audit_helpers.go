package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/santaserver/santaserver/pkg/metrics"
)

// recordAudit logs the supplied entry while tolerating audit failures.
func recordAudit(audit *AuditService, ctx context.Context, entry AuditEntry) {
	if audit == nil {
		return
	}
	audit.Record(ctx, entry)
}

// Record writes entry, logging and counting failures instead of returning them.
func (s *AuditService) Record(ctx context.Context, entry AuditEntry) {
	if err := s.Log(ctx, entry); err != nil {
		metrics.AuditWriteFailures.Inc()
		s.log.Error("failed to write audit event",
			zap.String("event_type", entry.EventType),
			zap.String("user_id", entry.UserID),
			zap.Error(err))
	}
}
