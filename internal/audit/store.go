package audit

import (
	"context"

	"github.com/mr1hm/go-relief-ledger/internal/models"
	"github.com/mr1hm/go-relief-ledger/internal/repository"
)

// StoreSink appends notifications to the audit_log table.
type StoreSink struct {
	repo repository.AuditRepository
}

func NewStoreSink(repo repository.AuditRepository) *StoreSink {
	return &StoreSink{repo: repo}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Deliver(ctx context.Context, n models.Notification) error {
	return s.repo.AppendAudit(ctx, n)
}
